package provision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ble-provisiond/internal/netctl"
	"ble-provisiond/internal/state"
)

// fakeController scripts the network stack for orchestrator tests.
type fakeController struct {
	mu           sync.Mutex
	connectErr   error
	verifyOK     bool
	verifyErr    error
	ip           string
	deviceID     string
	scanResult   []netctl.Network
	scanErr      error
	connectCalls int
	scanCalls    int
	disconnects  int
	connectBlock chan struct{} // when non-nil, Connect waits for a close
	scanBlock    chan struct{} // when non-nil, Scan waits for a close
}

func (f *fakeController) Connect(ctx context.Context, creds netctl.Credentials) error {
	f.mu.Lock()
	f.connectCalls++
	block := f.connectBlock
	err := f.connectErr
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return err
}

func (f *fakeController) Verify(ctx context.Context, ssid string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verifyOK, f.verifyErr
}

func (f *fakeController) CurrentIP(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ip, nil
}

func (f *fakeController) CurrentSSID(ctx context.Context) (string, error) { return "", nil }

func (f *fakeController) DeviceID(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deviceID, nil
}

func (f *fakeController) Scan(ctx context.Context) ([]netctl.Network, error) {
	f.mu.Lock()
	f.scanCalls++
	block := f.scanBlock
	result, err := f.scanResult, f.scanErr
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return result, err
}

func (f *fakeController) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func newTestOrchestrator(ctl netctl.Controller) (*Orchestrator, *state.Store) {
	store := state.NewStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	o := New(ctl, store, time.Millisecond, log)
	o.hostname = func() (string, error) { return "devhost", nil }
	return o, store
}

func TestAttemptEmptySSIDRejectedBeforeAnyMutation(t *testing.T) {
	ctl := &fakeController{}
	o, store := newTestOrchestrator(ctl)

	err := o.Attempt(context.Background(), netctl.Credentials{SSID: ""})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if ctl.connectCalls != 0 {
		t.Error("network controller invoked for empty SSID")
	}
	if got := store.Snapshot().Provisioning; got != state.ProvisioningIdle {
		t.Errorf("Provisioning = %v, want IDLE (no transition)", got)
	}
}

func TestAttemptSuccessEndToEnd(t *testing.T) {
	ctl := &fakeController{verifyOK: true, ip: "192.168.1.50", deviceID: "abc123"}
	o, store := newTestOrchestrator(ctl)

	var phases []state.ProvisioningState
	store.Subscribe(func(s state.AppState) {
		if len(phases) == 0 || phases[len(phases)-1] != s.Provisioning {
			phases = append(phases, s.Provisioning)
		}
	})

	err := o.Attempt(context.Background(), netctl.Credentials{SSID: "HomeNet", Secret: "secret123"})
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}

	snap := store.Snapshot()
	want := state.WiFiStatus{
		Connected: true,
		SSID:      "HomeNet",
		IP:        "192.168.1.50",
		Hostname:  "devhost",
		DeviceID:  "abc123",
		Message:   "Connected successfully",
	}
	if snap.WiFi != want {
		t.Errorf("WiFi = %+v, want %+v", snap.WiFi, want)
	}
	if snap.Provisioning != state.Provisioned {
		t.Errorf("Provisioning = %v, want PROVISIONED", snap.Provisioning)
	}

	sawConnecting := false
	for _, p := range phases {
		if p == state.ProvisioningConnecting {
			sawConnecting = true
		}
	}
	if !sawConnecting {
		t.Errorf("phases %v never passed through CONNECTING_WIFI", phases)
	}
	if last := phases[len(phases)-1]; last != state.Provisioned {
		t.Errorf("final phase = %v, want PROVISIONED", last)
	}
}

func TestAttemptConnectFailure(t *testing.T) {
	ctl := &fakeController{
		connectErr: &netctl.NetworkError{Op: "connect", Message: "timeout expired"},
	}
	o, store := newTestOrchestrator(ctl)

	err := o.Attempt(context.Background(), netctl.Credentials{SSID: "HomeNet"})
	if err == nil {
		t.Fatal("expected error")
	}

	snap := store.Snapshot()
	if snap.Provisioning != state.ProvisioningError {
		t.Errorf("Provisioning = %v, want ERROR", snap.Provisioning)
	}
	if snap.WiFi.Message != "Connection failed: timeout expired" {
		t.Errorf("Message = %q", snap.WiFi.Message)
	}
	if snap.LastError == "" {
		t.Error("LastError not set")
	}
}

func TestAttemptVerificationFailure(t *testing.T) {
	ctl := &fakeController{verifyOK: false}
	o, store := newTestOrchestrator(ctl)

	err := o.Attempt(context.Background(), netctl.Credentials{SSID: "HomeNet", Secret: "secret123"})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want ErrVerificationFailed", err)
	}

	snap := store.Snapshot()
	if snap.Provisioning != state.ProvisioningError {
		t.Errorf("Provisioning = %v, want ERROR", snap.Provisioning)
	}
	if snap.WiFi.Message != "Connection failed: Connection verification failed" {
		t.Errorf("Message = %q", snap.WiFi.Message)
	}
	if snap.LastError == "" {
		t.Error("LastError not set")
	}
}

func TestAttemptNeverEndsInConnecting(t *testing.T) {
	for _, tc := range []struct {
		name string
		ctl  *fakeController
	}{
		{"success", &fakeController{verifyOK: true, ip: "10.0.0.2"}},
		{"connect failure", &fakeController{connectErr: errors.New("boom")}},
		{"verify failure", &fakeController{verifyOK: false}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			o, store := newTestOrchestrator(tc.ctl)
			_ = o.Attempt(context.Background(), netctl.Credentials{SSID: "HomeNet"})
			got := store.Snapshot().Provisioning
			if got != state.Provisioned && got != state.ProvisioningError {
				t.Errorf("final phase = %v, want PROVISIONED or ERROR", got)
			}
		})
	}
}

func TestSecondAttemptWhileInFlightIsRejected(t *testing.T) {
	block := make(chan struct{})
	ctl := &fakeController{verifyOK: true, connectBlock: block}
	o, _ := newTestOrchestrator(ctl)

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- o.Attempt(context.Background(), netctl.Credentials{SSID: "HomeNet"})
	}()

	// Wait until the first attempt is inside Connect.
	deadline := time.After(time.Second)
	for {
		ctl.mu.Lock()
		started := ctl.connectCalls > 0
		ctl.mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first attempt never reached Connect")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if err := o.Attempt(context.Background(), netctl.Credentials{SSID: "OtherNet"}); !errors.Is(err, ErrBusy) {
		t.Errorf("second attempt err = %v, want ErrBusy", err)
	}

	close(block)
	if err := <-firstDone; err != nil {
		t.Errorf("first attempt err = %v, want nil", err)
	}
	if ctl.connectCalls != 1 {
		t.Errorf("connectCalls = %d, want 1 (second attempt must not reach netctl)", ctl.connectCalls)
	}
}

func TestNewAttemptAllowedAfterFailure(t *testing.T) {
	ctl := &fakeController{connectErr: errors.New("boom")}
	o, store := newTestOrchestrator(ctl)

	_ = o.Attempt(context.Background(), netctl.Credentials{SSID: "HomeNet"})

	ctl.mu.Lock()
	ctl.connectErr = nil
	ctl.verifyOK = true
	ctl.ip = "10.0.0.9"
	ctl.mu.Unlock()

	if err := o.Attempt(context.Background(), netctl.Credentials{SSID: "HomeNet"}); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if got := store.Snapshot().Provisioning; got != state.Provisioned {
		t.Errorf("Provisioning = %v, want PROVISIONED", got)
	}
}

func waitForNetworks(t *testing.T, ch <-chan []netctl.Network) []netctl.Network {
	t.Helper()
	select {
	case networks := <-ch:
		return networks
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for scan result")
		return nil
	}
}

func waitForIdle(t *testing.T, store *state.Store) {
	t.Helper()
	deadline := time.After(time.Second)
	for store.Snapshot().Provisioning != state.ProvisioningIdle {
		select {
		case <-deadline:
			t.Fatalf("phase = %v, never reverted to IDLE", store.Snapshot().Provisioning)
		default:
			time.Sleep(time.Millisecond)
		}
	}
}

func TestScanDeliversNetworksAndRevertsToIdle(t *testing.T) {
	ctl := &fakeController{scanResult: []netctl.Network{
		{SSID: "A", Quality: 80, Security: "WPA2"},
		{SSID: "B", Quality: 60, Security: "open"},
	}}
	o, store := newTestOrchestrator(ctl)

	results := make(chan []netctl.Network, 1)
	o.OnNetworksFound(func(n []netctl.Network) { results <- n })

	o.Scan(context.Background())

	networks := waitForNetworks(t, results)
	if len(networks) != 2 {
		t.Errorf("got %d networks, want 2", len(networks))
	}
	waitForIdle(t, store)
}

func TestScanFailureDegradesToEmptyResult(t *testing.T) {
	ctl := &fakeController{scanErr: &netctl.NetworkError{Op: "scan", Message: "radio off"}}
	o, store := newTestOrchestrator(ctl)

	results := make(chan []netctl.Network, 1)
	o.OnNetworksFound(func(n []netctl.Network) { results <- n })

	o.Scan(context.Background())

	networks := waitForNetworks(t, results)
	if len(networks) != 0 {
		t.Errorf("got %d networks from a failed scan, want 0", len(networks))
	}
	waitForIdle(t, store)
	if store.Snapshot().LastError != "" {
		t.Error("scan failure must not set lastError")
	}
}

func TestScanCompletionDoesNotClobberConcurrentAttemptPhase(t *testing.T) {
	block := make(chan struct{})
	ctl := &fakeController{scanBlock: block}
	o, store := newTestOrchestrator(ctl)

	results := make(chan []netctl.Network, 1)
	o.OnNetworksFound(func(n []netctl.Network) { results <- n })

	o.Scan(context.Background())

	// While the scan is in flight an attempt moves the phase on.
	store.UpdateProvisioningState(state.ProvisioningConnecting)

	close(block)
	waitForNetworks(t, results)

	deadline := time.After(time.Second)
	for o.scanning.Load() {
		select {
		case <-deadline:
			t.Fatal("scan goroutine never finished")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if got := store.Snapshot().Provisioning; got != state.ProvisioningConnecting {
		t.Errorf("Provisioning = %v, scan completion reverted a concurrent attempt's phase", got)
	}
}

func TestReset(t *testing.T) {
	ctl := &fakeController{verifyOK: true, ip: "10.0.0.2"}
	o, store := newTestOrchestrator(ctl)

	if err := o.Attempt(context.Background(), netctl.Credentials{SSID: "HomeNet"}); err != nil {
		t.Fatalf("Attempt: %v", err)
	}

	if err := o.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if ctl.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", ctl.disconnects)
	}
	snap := store.Snapshot()
	if snap.WiFi.Connected || snap.WiFi.SSID != "" {
		t.Errorf("WiFi = %+v, want cleared", snap.WiFi)
	}
	if snap.Provisioning != state.ProvisioningIdle {
		t.Errorf("Provisioning = %v, want IDLE", snap.Provisioning)
	}
}
