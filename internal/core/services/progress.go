package services

import (
	"log"
	"sync"
	"time"

	"github.com/that-cod/mixify-soundcloud-sub001/internal/core/ports"
)

const (
	defaultTickInterval = 500 * time.Millisecond
	defaultTickStep     = 5.0
	tickCeiling         = 95.0
)

// Ticker emits decorative, monotonically increasing progress values on a fixed
// interval until stopped. Values never reach tickCeiling's successor; the
// caller owns the authoritative final value.
type Ticker struct {
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
	mu       sync.Mutex
	current  float64
	emit     func(float64)
	interval time.Duration
	step     float64
}

// StartTicker begins emitting progress. A non-positive interval uses the default.
func StartTicker(interval time.Duration, step float64, emit func(float64)) *Ticker {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	if step <= 0 {
		step = defaultTickStep
	}
	t := &Ticker{
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		emit:     emit,
		interval: interval,
		step:     step,
	}
	go t.loop()
	return t
}

func (t *Ticker) loop() {
	defer close(t.done)
	tk := time.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-tk.C:
			t.mu.Lock()
			next := t.current + t.step
			if next > tickCeiling {
				next = tickCeiling
			}
			advanced := next > t.current
			t.current = next
			t.mu.Unlock()
			if advanced {
				t.emit(next)
			}
		}
	}
}

// Stop halts the ticker and waits for the loop to exit. It is safe to call twice.
func (t *Ticker) Stop() float64 {
	t.once.Do(func() { close(t.stop) })
	<-t.done
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

const defaultHistory = 64

// StatusBoard is the default progress sink. It keeps a bounded history of
// events per session for polling clients.
type StatusBoard struct {
	mu      sync.RWMutex
	events  map[string][]ports.ProgressEvent
	history int
	verbose bool
}

var _ forgetter = (*StatusBoard)(nil)

// NewStatusBoard constructs a board; verbose mirrors every event to the log.
func NewStatusBoard(verbose bool) *StatusBoard {
	return &StatusBoard{
		events:  map[string][]ports.ProgressEvent{},
		history: defaultHistory,
		verbose: verbose,
	}
}

// Emit records event.
func (b *StatusBoard) Emit(event ports.ProgressEvent) {
	if b.verbose {
		log.Printf("INFO progress: session=%s kind=%s status=%s progress=%.0f %s", event.SessionID, event.Kind, event.Status, event.Progress, event.Message)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := append(b.events[event.SessionID], event)
	if len(list) > b.history {
		list = list[len(list)-b.history:]
	}
	b.events[event.SessionID] = list
}

// Events returns a copy of the recorded events for a session, oldest first.
func (b *StatusBoard) Events(sessionID string) []ports.ProgressEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	list := b.events[sessionID]
	out := make([]ports.ProgressEvent, len(list))
	copy(out, list)
	return out
}

// Latest returns the most recent event for a session.
func (b *StatusBoard) Latest(sessionID string) (ports.ProgressEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	list := b.events[sessionID]
	if len(list) == 0 {
		return ports.ProgressEvent{}, false
	}
	return list[len(list)-1], true
}

// Forget drops the history of a session.
func (b *StatusBoard) Forget(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.events, sessionID)
}
