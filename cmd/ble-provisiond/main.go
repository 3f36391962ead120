package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"ble-provisiond/internal/config"
	"ble-provisiond/internal/gatt"
	"ble-provisiond/internal/indicator"
	"ble-provisiond/internal/netctl"
	"ble-provisiond/internal/provision"
	"ble-provisiond/internal/session"
	"ble-provisiond/internal/state"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: /etc/ble-provisiond/config.yaml)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config validation: %v\n", err)
		os.Exit(1)
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	log.Info("starting",
		"device_name", cfg.DeviceName,
		"interface", cfg.Interface,
		"netctl", cfg.Netctl,
		"indicator", cfg.Indicator.Enabled,
	)

	if err := run(cfg, log); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	var ctl netctl.Controller
	switch cfg.Netctl {
	case "networkmanager":
		runner := &netctl.ExecRunner{Timeout: cfg.Wifi.CommandTimeout}
		ctl = netctl.NewNetworkManager(runner, cfg.Interface, log)
	case "none":
		ctl = netctl.NewNoop(log)
	}

	store := state.NewStore()
	orch := provision.New(ctl, store, cfg.Wifi.ConnectSettle, log)

	svc := gatt.NewService(orch, store, gatt.Options{
		MaxChunk:        cfg.BLE.MaxChunk,
		InterChunkDelay: cfg.BLE.InterChunkDelay,
	}, log)
	defer svc.Close()
	orch.OnNetworksFound(svc.NotifyNetworks)

	periph := gatt.NewPeripheral(svc, cfg.DeviceName, log)

	ind := indicator.New(cfg.Indicator.Enabled, cfg.Indicator.Script, cfg.Indicator.RestartBackoff, log)
	defer ind.Close()

	ctrl := session.NewController(store, ind, periph, orch, svc, log)
	ctrl.Start()
	defer ctrl.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Transport bring-up. A failure here cancels the signal waiter and
	// takes the daemon down with the error.
	g.Go(func() error {
		if err := periph.Enable(ctrl.CentralConnected); err != nil {
			return err
		}
		if err := periph.RegisterService(); err != nil {
			return err
		}
		return ctrl.PoweredOn(cfg.BLE.AdvertiseOnStart)
	})

	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})

	err := g.Wait()
	log.Info("shutting down")
	periph.StopAdvertising()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loadConfig loads the config from the given path, falling back to the
// default path and then to built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

func logLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
