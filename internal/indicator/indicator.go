// Package indicator drives the physical RGB LED and button through a
// long-lived GPIO helper subprocess. Commands go out as one JSON object per
// line on the helper's stdin; button events come back the same way on its
// stdout. There are no acknowledgments and no correlation; commands are
// fire-and-forget and events are fire-and-react.
package indicator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Event is a physical button event reported by the helper.
type Event string

const (
	EventButtonClick     Event = "button_click"
	EventButtonLongPress Event = "button_long_press"
	EventButtonRestart   Event = "button_restart"
	EventButtonReset     Event = "button_reset"
)

// Client is the indicator control surface. Implementations never block the
// caller waiting for the helper.
type Client interface {
	SetColor(r, g, b float64)
	Pulse(onColor, offColor [3]float64, fadeIn, fadeOut float64)
	Blink(color [3]float64, onTime, offTime float64)
	Off()
	Events() <-chan Event
	Close() error
}

// command is the wire format the helper accepts on stdin.
type command struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// eventMsg is the wire format the helper emits on stdout.
type eventMsg struct {
	Event    string  `json:"event"`
	Duration float64 `json:"duration,omitempty"`
}

// New returns a Process client when the indicator is enabled and the helper
// script exists, and a Nop client otherwise. Platforms without the hardware
// get a working daemon with indicator operations logged as no-ops.
func New(enabled bool, script string, backoff time.Duration, log *slog.Logger) Client {
	if !enabled {
		log.Info("indicator disabled by config, using no-op client")
		return NewNop(log)
	}
	if _, err := os.Stat(script); err != nil {
		log.Info("indicator helper not found, using no-op client", "script", script)
		return NewNop(log)
	}
	return NewProcess(script, backoff, log)
}

// Process supervises the GPIO helper subprocess, restarting it after a
// fixed backoff whenever it exits until Close is called.
type Process struct {
	script  string
	backoff time.Duration
	log     *slog.Logger

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	stdin   io.WriteCloser
	stopped bool
}

// NewProcess spawns the helper and starts its supervisor.
func NewProcess(script string, backoff time.Duration, log *slog.Logger) *Process {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Process{
		script:  script,
		backoff: backoff,
		log:     log,
		events:  make(chan Event, 8),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go p.supervise(ctx)
	return p
}

// supervise runs the helper and restarts it on exit. A crashed helper is a
// degraded indicator, never a fatal daemon error.
func (p *Process) supervise(ctx context.Context) {
	defer close(p.done)
	for {
		if err := p.runOnce(ctx); err != nil {
			p.log.Warn("indicator helper exited", "err", err)
		}

		p.mu.Lock()
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return
		}

		select {
		case <-time.After(p.backoff):
		case <-ctx.Done():
			return
		}
		p.log.Info("restarting indicator helper")
	}
}

// runOnce starts one helper instance and pumps its stdout until it exits.
func (p *Process) runOnce(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, p.script)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("indicator: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("indicator: stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("indicator: start helper: %w", err)
	}
	p.log.Info("indicator helper started", "pid", cmd.Process.Pid)

	p.mu.Lock()
	p.stdin = stdin
	p.mu.Unlock()

	decodeEvents(stdout, func(ev Event) {
		select {
		case p.events <- ev:
		default:
			p.log.Warn("event channel full, dropping button event", "event", ev)
		}
	}, p.log)

	p.mu.Lock()
	p.stdin = nil
	p.mu.Unlock()

	return cmd.Wait()
}

// send writes one command line to the helper. A helper mid-restart drops
// the command; indicator state is decorative and the next state transition
// resends it.
func (p *Process) send(c command) {
	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()
	if stdin == nil {
		p.log.Debug("indicator helper unavailable, dropping command", "command", c.Command)
		return
	}
	if err := encodeCommand(stdin, c); err != nil {
		p.log.Warn("writing indicator command", "command", c.Command, "err", err)
	}
}

func (p *Process) SetColor(r, g, b float64) {
	p.send(command{Command: "set_color", Params: map[string]any{"r": r, "g": g, "b": b}})
}

func (p *Process) Pulse(onColor, offColor [3]float64, fadeIn, fadeOut float64) {
	p.send(command{Command: "pulse", Params: map[string]any{
		"on_color":  onColor[:],
		"off_color": offColor[:],
		"fade_in":   fadeIn,
		"fade_out":  fadeOut,
	}})
}

func (p *Process) Blink(color [3]float64, onTime, offTime float64) {
	p.send(command{Command: "blink", Params: map[string]any{
		"color":    color[:],
		"on_time":  onTime,
		"off_time": offTime,
	}})
}

func (p *Process) Off() {
	p.send(command{Command: "off"})
}

func (p *Process) Events() <-chan Event { return p.events }

// Close turns the LED off, stops the supervisor, and releases the helper.
func (p *Process) Close() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.Off()
	p.cancel()
	<-p.done
	return nil
}

// encodeCommand writes one newline-delimited JSON command.
func encodeCommand(w io.Writer, c command) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// decodeEvents reads newline-delimited JSON events until r is exhausted.
// Lines that fail to parse are freeform helper diagnostics, logged and
// skipped; the reader resynchronizes on the next line.
func decodeEvents(r io.Reader, emit func(Event), log *slog.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg eventMsg
		if err := json.Unmarshal(line, &msg); err != nil || msg.Event == "" {
			log.Debug("indicator helper output", "line", string(line))
			continue
		}
		switch ev := Event(msg.Event); ev {
		case EventButtonClick, EventButtonLongPress, EventButtonRestart, EventButtonReset:
			log.Info("button event", "event", ev, "duration", msg.Duration)
			emit(ev)
		default:
			log.Warn("unknown indicator event", "event", msg.Event)
		}
	}
}

// Nop is the indicator client for platforms without the hardware.
type Nop struct {
	log    *slog.Logger
	events chan Event
}

func NewNop(log *slog.Logger) *Nop {
	return &Nop{log: log, events: make(chan Event)}
}

func (n *Nop) SetColor(r, g, b float64) {
	n.log.Debug("indicator no-op", "command", "set_color")
}

func (n *Nop) Pulse(onColor, offColor [3]float64, fadeIn, fadeOut float64) {
	n.log.Debug("indicator no-op", "command", "pulse")
}

func (n *Nop) Blink(color [3]float64, onTime, offTime float64) {
	n.log.Debug("indicator no-op", "command", "blink")
}

func (n *Nop) Off() {
	n.log.Debug("indicator no-op", "command", "off")
}

func (n *Nop) Events() <-chan Event { return n.events }

func (n *Nop) Close() error { return nil }
