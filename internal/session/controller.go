// Package session wires transport lifecycle events, physical button events
// and state transitions together. Indicator feedback is a pure lookup from
// application state to an LED pattern; the orchestrator never knows the
// indicator exists.
package session

import (
	"context"
	"log/slog"
	"sync"

	"ble-provisiond/internal/indicator"
	"ble-provisiond/internal/state"
)

// Advertiser is the transport surface the controller drives.
type Advertiser interface {
	StartAdvertising() error
	StopAdvertising()
}

// Resetter is the factory-reset entry point.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Session is the per-connection GATT state cleared between centrals.
type Session interface {
	ResetSession()
}

// pattern is one LED instruction, the output of the state lookup table.
type pattern struct {
	kind    string // set_color, pulse, blink or off
	color   [3]float64
	onTime  float64
	offTime float64
	fadeIn  float64
	fadeOut float64
}

// LED colors. idleColor matches the helper's own startup color so the LED
// does not flicker when the daemon attaches.
var (
	idleColor       = [3]float64{0.15, 0.2, 0.15}
	advertiseColor  = [3]float64{0, 0, 1}
	scanColor       = [3]float64{0, 1, 1}
	connectingColor = [3]float64{1, 0.6, 0}
	successColor    = [3]float64{0, 1, 0}
	errorColor      = [3]float64{1, 0, 0}
)

// indicatorFor maps an application state snapshot to an LED pattern.
// Provisioning activity outranks transport state; a quiet transport shows
// the connectivity result.
func indicatorFor(s state.AppState) pattern {
	switch s.Provisioning {
	case state.ProvisioningConnecting:
		return pattern{kind: "blink", color: connectingColor, onTime: 0.3, offTime: 0.3}
	case state.ProvisioningScanning:
		return pattern{kind: "pulse", color: scanColor, fadeIn: 0.5, fadeOut: 0.5}
	case state.ProvisioningError:
		return pattern{kind: "blink", color: errorColor, onTime: 0.5, offTime: 0.5}
	}

	if s.WiFi.Connected {
		return pattern{kind: "set_color", color: successColor}
	}

	switch s.Transport {
	case state.TransportAdvertising:
		return pattern{kind: "pulse", color: advertiseColor, fadeIn: 1, fadeOut: 1}
	case state.TransportConnected:
		return pattern{kind: "set_color", color: advertiseColor}
	}

	return pattern{kind: "set_color", color: idleColor}
}

// Controller owns the session lifecycle: it reacts to store changes with
// indicator commands and to button events with transport/reset actions.
type Controller struct {
	store      *state.Store
	ind        indicator.Client
	advertiser Advertiser
	resetter   Resetter
	session    Session
	log        *slog.Logger

	mu   sync.Mutex
	last pattern

	unsub  func()
	cancel context.CancelFunc
	done   chan struct{}
}

// NewController creates a controller; call Start to activate it.
func NewController(store *state.Store, ind indicator.Client, adv Advertiser, resetter Resetter, sess Session, log *slog.Logger) *Controller {
	return &Controller{
		store:      store,
		ind:        ind,
		advertiser: adv,
		resetter:   resetter,
		session:    sess,
		log:        log,
		done:       make(chan struct{}),
	}
}

// Start subscribes to state changes and begins consuming button events.
// The current state is rendered immediately so the LED reflects reality
// from the first moment.
func (c *Controller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.apply(indicatorFor(c.store.Snapshot()), true)
	c.unsub = c.store.Subscribe(func(s state.AppState) {
		c.apply(indicatorFor(s), false)
	})

	go c.consumeButtons(ctx)
}

// Stop unsubscribes and stops button handling.
func (c *Controller) Stop() {
	if c.unsub != nil {
		c.unsub()
	}
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// PoweredOn records the transport power-up and, per the configured policy,
// starts advertising immediately.
func (c *Controller) PoweredOn(advertise bool) error {
	c.store.UpdateTransportState(state.TransportPoweredOn)
	if !advertise {
		c.log.Info("advertising deferred, waiting for button long-press")
		return nil
	}
	return c.startAdvertising()
}

// CentralConnected records a central (dis)connecting. A disconnect clears
// the per-session GATT state so the next central never inherits the previous
// one's credentials. BlueZ resumes advertising by itself after a disconnect.
func (c *Controller) CentralConnected(connected bool) {
	if connected {
		c.store.UpdateTransportState(state.TransportConnected)
		return
	}
	c.session.ResetSession()
	c.store.UpdateTransportState(state.TransportAdvertising)
}

func (c *Controller) startAdvertising() error {
	if err := c.advertiser.StartAdvertising(); err != nil {
		return err
	}
	c.store.UpdateTransportState(state.TransportAdvertising)
	return nil
}

// consumeButtons reacts to physical button events until ctx is cancelled.
func (c *Controller) consumeButtons(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.ind.Events():
			if !ok {
				return
			}
			c.handleButton(ctx, ev)
		}
	}
}

func (c *Controller) handleButton(ctx context.Context, ev indicator.Event) {
	c.log.Info("handling button event", "event", ev)
	switch ev {
	case indicator.EventButtonClick:
		// Identify: replay the current pattern.
		c.apply(indicatorFor(c.store.Snapshot()), true)
	case indicator.EventButtonLongPress:
		if c.store.Snapshot().Transport == state.TransportConnected {
			c.log.Info("central connected, ignoring long-press")
			return
		}
		if err := c.startAdvertising(); err != nil {
			c.log.Error("start advertising", "err", err)
		}
	case indicator.EventButtonRestart:
		c.advertiser.StopAdvertising()
		if err := c.startAdvertising(); err != nil {
			c.log.Error("restart advertising", "err", err)
		}
	case indicator.EventButtonReset:
		if err := c.resetter.Reset(ctx); err != nil {
			c.log.Warn("factory reset", "err", err)
		}
	}
}

// apply sends the pattern to the indicator, skipping repeats unless forced.
func (c *Controller) apply(p pattern, force bool) {
	c.mu.Lock()
	if !force && p == c.last {
		c.mu.Unlock()
		return
	}
	c.last = p
	c.mu.Unlock()

	switch p.kind {
	case "set_color":
		c.ind.SetColor(p.color[0], p.color[1], p.color[2])
	case "pulse":
		c.ind.Pulse(p.color, [3]float64{}, p.fadeIn, p.fadeOut)
	case "blink":
		c.ind.Blink(p.color, p.onTime, p.offTime)
	case "off":
		c.ind.Off()
	}
}
