package gatt

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"ble-provisiond/internal/netctl"
	"ble-provisiond/internal/state"
)

// Provisioner is the slice of the orchestrator the GATT surface drives.
type Provisioner interface {
	Attempt(ctx context.Context, creds netctl.Credentials) error
	Scan(ctx context.Context)
}

// Notifier delivers one notification payload to the current subscriber.
type Notifier func(data []byte) error

// Options tunes notify delivery.
type Options struct {
	MaxChunk        int           // subscriber-negotiated max notify payload
	InterChunkDelay time.Duration // pacing between chunks
}

// Service holds the characteristic state behind the provisioning GATT
// table: the volatile credential buffer and the notify subscribers. The
// Service itself persists across connection sessions; the credential buffer
// is per-session and cleared through ResetSession on central disconnect.
type Service struct {
	prov  Provisioner
	store *state.Store
	opts  Options
	log   *slog.Logger

	mu          sync.Mutex
	ssid        string
	secret      string
	statusSub   Notifier
	networksSub Notifier
	lastStatus  state.WiFiStatus
	unsubStore  func()
}

// NewService creates the provisioning service backed by the given
// orchestrator and store.
func NewService(prov Provisioner, store *state.Store, opts Options, log *slog.Logger) *Service {
	if opts.MaxChunk <= 0 {
		opts.MaxChunk = 20 // BLE default ATT payload (MTU 23)
	}
	s := &Service{
		prov:       prov,
		store:      store,
		opts:       opts,
		log:        log,
		lastStatus: store.Snapshot().WiFi,
	}
	s.unsubStore = store.Subscribe(s.onStateChange)
	return s
}

// Close releases the store subscription and both notify subscribers.
func (s *Service) Close() {
	s.mu.Lock()
	unsub := s.unsubStore
	s.unsubStore = nil
	s.statusSub = nil
	s.networksSub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// ResetSession clears the per-session credential buffer so the next central
// starts from a clean slate instead of inheriting the previous session's
// credentials. The notify subscribers stay registered: they are the
// transport binding's process-level sinks, and BlueZ tracks per-central
// subscription state itself.
func (s *Service) ResetSession() {
	s.mu.Lock()
	s.ssid = ""
	s.secret = ""
	s.mu.Unlock()
	s.log.Debug("session credentials cleared")
}

// WriteSSID handles a write to the credential-SSID characteristic. The raw
// bytes are stored verbatim as UTF-8. Long writes are not supported.
func (s *Service) WriteSSID(offset int, value []byte) error {
	if offset != 0 {
		return ErrAttributeNotLong
	}
	s.mu.Lock()
	s.ssid = string(value)
	s.mu.Unlock()
	s.log.Debug("ssid stored", "len", len(value))
	return nil
}

// WriteSecret handles a write to the credential-secret characteristic.
func (s *Service) WriteSecret(offset int, value []byte) error {
	if offset != 0 {
		return ErrAttributeNotLong
	}
	s.mu.Lock()
	s.secret = string(value)
	s.mu.Unlock()
	s.log.Debug("secret stored", "len", len(value))
	return nil
}

// WriteConnectTrigger handles a write to the connect-trigger
// characteristic. Value 0x01 runs a provisioning attempt with the stored
// credentials and reports its outcome; any other value is a benign no-op.
// Triggering before any SSID write is an explicit failure.
func (s *Service) WriteConnectTrigger(ctx context.Context, offset int, value []byte) error {
	if offset != 0 {
		return ErrAttributeNotLong
	}
	if len(value) != 1 {
		return ErrInvalidLength
	}
	if value[0] != 0x01 {
		s.log.Debug("ignoring connect trigger", "value", value[0])
		return nil
	}

	s.mu.Lock()
	creds := netctl.Credentials{SSID: s.ssid, Secret: s.secret}
	s.mu.Unlock()

	// Triggering before any SSID write leaves creds.SSID empty; the
	// orchestrator rejects that explicitly instead of connecting to "".
	return s.prov.Attempt(ctx, creds)
}

// ReadStatus serves the status characteristic: the current WiFiStatus as
// UTF-8 JSON, sliced at the requested offset so centrals can long-read
// payloads larger than their MTU.
func (s *Service) ReadStatus(offset int) ([]byte, error) {
	payload, err := json.Marshal(s.store.Snapshot().WiFi)
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > len(payload) {
		return nil, ErrInvalidOffset
	}
	return payload[offset:], nil
}

// SubscribeStatus registers the per-subscriber delivery callback for status
// notifications. One update is delivered per wifiStatus change while
// subscribed.
func (s *Service) SubscribeStatus(n Notifier) {
	s.mu.Lock()
	s.statusSub = n
	s.mu.Unlock()
}

// UnsubscribeStatus stops status delivery and releases the callback.
func (s *Service) UnsubscribeStatus() {
	s.mu.Lock()
	s.statusSub = nil
	s.mu.Unlock()
}

// WriteScanTrigger handles a write to the scan-trigger characteristic.
// Value 0x01 starts a scan and replies immediately; results arrive through
// the networks-list characteristic.
func (s *Service) WriteScanTrigger(ctx context.Context, offset int, value []byte) error {
	if offset != 0 {
		return ErrAttributeNotLong
	}
	if len(value) != 1 || value[0] != 0x01 {
		return ErrInvalidLength
	}
	s.prov.Scan(ctx)
	return nil
}

// SubscribeNetworks registers the delivery callback for scan results.
func (s *Service) SubscribeNetworks(n Notifier) {
	s.mu.Lock()
	s.networksSub = n
	s.mu.Unlock()
}

// UnsubscribeNetworks stops networks-list delivery.
func (s *Service) UnsubscribeNetworks() {
	s.mu.Lock()
	s.networksSub = nil
	s.mu.Unlock()
}

// NotifyNetworks serializes a scan result set and delivers it to the
// current subscriber in sequential chunks no larger than the negotiated
// maximum, pacing between chunks so the transport's send queue is not
// overrun. Without a subscriber the result is dropped.
func (s *Service) NotifyNetworks(networks []netctl.Network) {
	if networks == nil {
		networks = []netctl.Network{}
	}
	payload, err := json.Marshal(networks)
	if err != nil {
		s.log.Error("marshal networks", "err", err)
		return
	}

	s.mu.Lock()
	sub := s.networksSub
	s.mu.Unlock()
	if sub == nil {
		s.log.Info("no networks-list subscriber, dropping scan result", "count", len(networks))
		return
	}

	chunks := ChunkBytes(payload, s.opts.MaxChunk)
	for i, chunk := range chunks {
		if err := sub(chunk); err != nil {
			s.log.Warn("networks-list chunk delivery failed", "chunk", i, "err", err)
			return
		}
		if i < len(chunks)-1 {
			time.Sleep(s.opts.InterChunkDelay)
		}
	}
	s.log.Debug("scan result delivered", "networks", len(networks), "chunks", len(chunks))
}

// onStateChange forwards wifiStatus edges to the status subscriber.
func (s *Service) onStateChange(snap state.AppState) {
	s.mu.Lock()
	if snap.WiFi == s.lastStatus {
		s.mu.Unlock()
		return
	}
	s.lastStatus = snap.WiFi
	sub := s.statusSub
	s.mu.Unlock()

	if sub == nil {
		return
	}
	payload, err := json.Marshal(snap.WiFi)
	if err != nil {
		s.log.Error("marshal status", "err", err)
		return
	}
	if err := sub(payload); err != nil {
		s.log.Warn("status notify failed", "err", err)
	}
}
