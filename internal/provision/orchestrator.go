// Package provision sequences a provisioning attempt end-to-end:
// credentials -> connect -> settle -> verify -> resolve. The attempt state
// machine and the scan path deliberately run unsynchronized with each other;
// they touch non-overlapping parts of the network stack (association vs.
// scan) and the source behavior is preserved here as an explicit policy.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"ble-provisiond/internal/netctl"
	"ble-provisiond/internal/state"
)

// Attempt state machine states and events.
const (
	stateIdle        = "idle"
	stateConnecting  = "connecting"
	stateVerifying   = "verifying"
	stateProvisioned = "provisioned"
	stateFailed      = "failed"

	eventAttempt = "attempt"
	eventVerify  = "verify"
	eventSucceed = "succeed"
	eventFail    = "fail"
	eventReset   = "reset"
)

// Orchestrator drives one provisioning attempt at a time against the
// network controller, publishing progress through the state store.
type Orchestrator struct {
	netctl netctl.Controller
	store  *state.Store
	log    *slog.Logger
	settle time.Duration

	machine *fsm.FSM

	scanning atomic.Bool

	mu         sync.Mutex
	onNetworks func([]netctl.Network)

	// hostname is swappable in tests.
	hostname func() (string, error)
}

// New creates an Orchestrator. settle is the wait between the connect
// command and the association check, long enough for DHCP.
func New(ctl netctl.Controller, store *state.Store, settle time.Duration, log *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		netctl:   ctl,
		store:    store,
		log:      log,
		settle:   settle,
		hostname: os.Hostname,
	}

	o.machine = fsm.NewFSM(
		stateIdle,
		fsm.Events{
			{Name: eventAttempt, Src: []string{stateIdle, stateProvisioned, stateFailed}, Dst: stateConnecting},
			{Name: eventVerify, Src: []string{stateConnecting}, Dst: stateVerifying},
			{Name: eventSucceed, Src: []string{stateVerifying}, Dst: stateProvisioned},
			{Name: eventFail, Src: []string{stateConnecting, stateVerifying}, Dst: stateFailed},
			{Name: eventReset, Src: []string{stateIdle, stateConnecting, stateVerifying, stateProvisioned, stateFailed}, Dst: stateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug("attempt state", "from", e.Src, "to", e.Dst)
			},
		},
	)

	return o
}

// OnNetworksFound registers the handler invoked with each completed scan
// result set. Only one handler is active at a time.
func (o *Orchestrator) OnNetworksFound(h func([]netctl.Network)) {
	o.mu.Lock()
	o.onNetworks = h
	o.mu.Unlock()
}

// Attempt runs one full provisioning attempt with the given credentials.
// It returns ErrInvalidInput for an empty SSID, ErrBusy when an attempt is
// already in flight, and otherwise reflects the outcome: nil on
// PROVISIONED, an error on ERROR. All network failures are folded into the
// state store; none escape as panics.
func (o *Orchestrator) Attempt(ctx context.Context, creds netctl.Credentials) error {
	if creds.SSID == "" {
		return ErrInvalidInput
	}

	if err := o.machine.Event(ctx, eventAttempt); err != nil {
		o.log.Warn("attempt rejected", "state", o.machine.Current())
		return ErrBusy
	}

	o.log.Info("provisioning attempt started", "ssid", creds.SSID)
	o.store.UpdateProvisioningState(state.ProvisioningConnecting)
	o.store.SetWiFiStatus(state.WiFiStatus{
		Connected: false,
		SSID:      creds.SSID,
		Message:   "Connecting...",
	})

	if err := o.netctl.Connect(ctx, creds); err != nil {
		return o.fail(ctx, reasonOf(err))
	}

	// Give the link and DHCP time to settle before judging the attempt.
	select {
	case <-time.After(o.settle):
	case <-ctx.Done():
		return o.fail(ctx, ctx.Err().Error())
	}

	if err := o.machine.Event(ctx, eventVerify); err != nil {
		return ErrBusy
	}

	ok, err := o.netctl.Verify(ctx, creds.SSID)
	if err != nil {
		return o.fail(ctx, reasonOf(err))
	}
	if !ok {
		o.fail(ctx, "Connection verification failed")
		return ErrVerificationFailed
	}

	ip, err := o.netctl.CurrentIP(ctx)
	if err != nil {
		o.log.Warn("could not read current IP", "err", err)
	}
	hostname, err := o.hostname()
	if err != nil {
		hostname = ""
	}
	deviceID, err := o.netctl.DeviceID(ctx)
	if err != nil {
		o.log.Warn("could not read device id", "err", err)
	}

	o.store.SetWiFiStatus(state.WiFiStatus{
		Connected: true,
		SSID:      creds.SSID,
		IP:        ip,
		Hostname:  hostname,
		DeviceID:  deviceID,
		Message:   "Connected successfully",
	})
	if err := o.machine.Event(ctx, eventSucceed); err != nil {
		return ErrBusy
	}
	o.store.UpdateProvisioningState(state.Provisioned)

	o.log.Info("provisioned", "ssid", creds.SSID, "ip", ip)
	return nil
}

// fail records the failure in the store and moves the machine to failed.
func (o *Orchestrator) fail(ctx context.Context, reason string) error {
	message := "Connection failed: " + reason
	o.log.Warn("provisioning attempt failed", "reason", reason)

	if err := o.machine.Event(ctx, eventFail); err != nil {
		o.log.Error("failed transition rejected", "state", o.machine.Current(), "err", err)
	}
	o.store.UpdateWiFiStatus(state.StatusPatch{
		Connected: state.Bool(false),
		Message:   state.Str(message),
	})
	o.store.SetError(message)

	return fmt.Errorf("provision: %s", message)
}

// Scan triggers a fresh network scan. It returns immediately after starting
// the scan; the result set reaches the handler registered with
// OnNetworksFound. A scan already in progress makes this a no-op. Scan
// failure degrades to an empty result set, never to the ERROR state: a
// failed scan is non-destructive to connectivity.
func (o *Orchestrator) Scan(ctx context.Context) {
	if !o.scanning.CompareAndSwap(false, true) {
		o.log.Debug("scan already in progress, ignoring trigger")
		return
	}

	o.store.UpdateProvisioningState(state.ProvisioningScanning)

	go func() {
		defer o.scanning.Store(false)

		networks, err := o.netctl.Scan(ctx)
		if err != nil {
			o.log.Warn("scan failed, reporting empty result", "err", err)
			networks = nil
		}

		o.mu.Lock()
		handler := o.onNetworks
		o.mu.Unlock()
		if handler != nil {
			handler(networks)
		}

		// Revert to IDLE unless a concurrent attempt has moved the phase on.
		o.store.CompareProvisioningState(state.ProvisioningScanning, state.ProvisioningIdle)
	}()
}

// Reset tears down the active association and returns both machines to
// their neutral state. This is the factory-reset path.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.log.Info("resetting network state")
	err := o.netctl.Disconnect(ctx)
	if err != nil {
		o.log.Warn("disconnect during reset failed", "err", err)
	}

	if ferr := o.machine.Event(ctx, eventReset); ferr != nil {
		o.log.Debug("reset transition", "err", ferr)
	}
	o.store.SetWiFiStatus(state.WiFiStatus{Message: "Not connected"})
	o.store.UpdateProvisioningState(state.ProvisioningIdle)
	return err
}

// reasonOf extracts the human-readable reason from a network error.
func reasonOf(err error) string {
	var netErr *netctl.NetworkError
	if errors.As(err, &netErr) {
		return netErr.Message
	}
	return err.Error()
}
