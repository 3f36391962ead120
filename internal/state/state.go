// Package state holds the single source of truth for Wi-Fi status,
// provisioning phase and transport phase, and fans out every change to
// subscribers.
package state

import "sync"

// ProvisioningState is the one-hot provisioning phase.
type ProvisioningState string

const (
	ProvisioningIdle       ProvisioningState = "IDLE"
	ProvisioningScanning   ProvisioningState = "SCANNING"
	ProvisioningConnecting ProvisioningState = "CONNECTING_WIFI"
	Provisioned            ProvisioningState = "PROVISIONED"
	ProvisioningError      ProvisioningState = "ERROR"
)

// TransportState tracks the BLE transport lifecycle, independent of the
// provisioning phase.
type TransportState string

const (
	TransportUnknown     TransportState = "UNKNOWN"
	TransportPoweredOn   TransportState = "POWERED_ON"
	TransportAdvertising TransportState = "ADVERTISING"
	TransportConnected   TransportState = "CONNECTED"
)

// WiFiStatus describes the device's network association. Connected=true
// implies SSID and IP are set. Empty strings serialize as JSON null via
// omitempty so central apps see the same shape whether or not a field is
// known.
type WiFiStatus struct {
	Connected bool   `json:"connected"`
	SSID      string `json:"ssid,omitempty"`
	IP        string `json:"ip,omitempty"`
	Hostname  string `json:"hostname,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	Message   string `json:"message"`
}

// StatusPatch is a partial WiFiStatus update; nil fields are left unchanged.
type StatusPatch struct {
	Connected *bool
	SSID      *string
	IP        *string
	Hostname  *string
	DeviceID  *string
	Message   *string
}

// AppState is the aggregate snapshot handed to every subscriber.
// LastError is non-empty exactly when Provisioning is ERROR.
type AppState struct {
	WiFi         WiFiStatus
	Provisioning ProvisioningState
	Transport    TransportState
	LastError    string
}

// Handler receives a snapshot after every observable change.
type Handler func(AppState)

// Store is the application state store. Mutators merge into the aggregate
// and synchronously notify all subscribers in registration order; mutations
// that do not change the observed value do not notify, so every
// notification is an edge.
type Store struct {
	mu     sync.Mutex
	state  AppState
	subs   map[uint64]Handler
	order  []uint64
	nextID uint64
}

// NewStore creates a Store initialized to the not-connected sentinel.
func NewStore() *Store {
	return &Store{
		state: AppState{
			WiFi:         WiFiStatus{Message: "Not connected"},
			Provisioning: ProvisioningIdle,
			Transport:    TransportUnknown,
		},
		subs: make(map[uint64]Handler),
	}
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() AppState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers a handler for state changes and returns an
// unsubscribe function.
func (s *Store) Subscribe(h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = h
	s.order = append(s.order, id)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

// SetWiFiStatus replaces the whole Wi-Fi status.
func (s *Store) SetWiFiStatus(status WiFiStatus) {
	s.mu.Lock()
	if s.state.WiFi == status {
		s.mu.Unlock()
		return
	}
	s.state.WiFi = status
	s.notifyLocked()
}

// UpdateWiFiStatus merges a partial update into the Wi-Fi status.
func (s *Store) UpdateWiFiStatus(patch StatusPatch) {
	s.mu.Lock()
	merged := s.state.WiFi
	if patch.Connected != nil {
		merged.Connected = *patch.Connected
	}
	if patch.SSID != nil {
		merged.SSID = *patch.SSID
	}
	if patch.IP != nil {
		merged.IP = *patch.IP
	}
	if patch.Hostname != nil {
		merged.Hostname = *patch.Hostname
	}
	if patch.DeviceID != nil {
		merged.DeviceID = *patch.DeviceID
	}
	if patch.Message != nil {
		merged.Message = *patch.Message
	}
	if s.state.WiFi == merged {
		s.mu.Unlock()
		return
	}
	s.state.WiFi = merged
	s.notifyLocked()
}

// UpdateProvisioningState sets the provisioning phase. Leaving the ERROR
// state clears LastError.
func (s *Store) UpdateProvisioningState(p ProvisioningState) {
	s.mu.Lock()
	if s.state.Provisioning == p {
		s.mu.Unlock()
		return
	}
	s.state.Provisioning = p
	if p != ProvisioningError {
		s.state.LastError = ""
	}
	s.notifyLocked()
}

// CompareProvisioningState sets the provisioning phase to `to` only if it
// currently equals `from`, reporting whether the swap applied. Used where
// the caller's view of the phase may be stale by the time it writes back.
func (s *Store) CompareProvisioningState(from, to ProvisioningState) bool {
	s.mu.Lock()
	if s.state.Provisioning != from {
		s.mu.Unlock()
		return false
	}
	if from == to {
		s.mu.Unlock()
		return true
	}
	s.state.Provisioning = to
	if to != ProvisioningError {
		s.state.LastError = ""
	}
	s.notifyLocked()
	return true
}

// UpdateTransportState sets the transport phase.
func (s *Store) UpdateTransportState(t TransportState) {
	s.mu.Lock()
	if s.state.Transport == t {
		s.mu.Unlock()
		return
	}
	s.state.Transport = t
	s.notifyLocked()
}

// SetError records an error and moves provisioning to ERROR in the same
// notification, preserving the lastError/ERROR invariant.
func (s *Store) SetError(message string) {
	s.mu.Lock()
	if s.state.LastError == message && s.state.Provisioning == ProvisioningError {
		s.mu.Unlock()
		return
	}
	s.state.LastError = message
	s.state.Provisioning = ProvisioningError
	s.notifyLocked()
}

// notifyLocked delivers the current snapshot to every subscriber in
// subscription order, then releases mu. Delivery happens under the mutation
// lock so concurrent mutators cannot reorder notifications; handlers must
// not call mutators or Subscribe synchronously.
func (s *Store) notifyLocked() {
	snapshot := s.state
	for _, id := range s.order {
		if h, ok := s.subs[id]; ok {
			h(snapshot)
		}
	}
	s.mu.Unlock()
}

// String helpers for logging.

func (p ProvisioningState) String() string { return string(p) }

func (t TransportState) String() string { return string(t) }

// Ptr helpers for building StatusPatch values.

func Bool(v bool) *bool { return &v }

func Str(v string) *string { return &v }
