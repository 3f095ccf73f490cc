// Package survey coordinates survey sessions across the manual HTTP driver
// and the voice WebSocket driver: it serializes mutations per session,
// persists the canonical state, and fans changes back out to every attached
// driver.
package survey

import (
	"log/slog"
	"sync"

	"github.com/ashureev/formvoice/internal/domain"
)

// State is the canonical session snapshot pushed to drivers.
type State struct {
	Step        domain.StepRef   `json:"step"`
	Answers     map[string]any   `json:"answers"`
	StepHistory []domain.StepRef `json:"step_history"`
	IsAudioMode bool             `json:"is_audio_mode"`
}

// StateOf converts a session into its broadcast snapshot.
func StateOf(s *domain.Session) State {
	return State{
		Step:        s.CurrentStep,
		Answers:     s.Answers,
		StepHistory: s.History,
		IsAudioMode: s.VoiceMode,
	}
}

// Sink receives canonical state pushes for one attached driver.
type Sink interface {
	Push(state State) error
}

// driverQueueDepth bounds the per-driver push queue. A driver that falls
// further behind loses its oldest queued states; the latest canonical state
// always arrives, and a reconnecting driver resynchronizes via handshake.
const driverQueueDepth = 16

// attachment owns one driver's delivery loop so a slow or stalled driver
// never blocks the caller of Broadcast.
type attachment struct {
	sink Sink
	ch   chan State
	done chan struct{}
}

func (a *attachment) deliver(sessionID, driverID string) {
	for {
		select {
		case <-a.done:
			return
		case state := <-a.ch:
			if err := a.sink.Push(state); err != nil {
				slog.Warn("Failed to push state to driver",
					"session_id", sessionID, "driver_id", driverID, "error", err)
			}
		}
	}
}

// enqueue never blocks: when the queue is full the oldest state is dropped
// to make room, so the newest state wins.
func (a *attachment) enqueue(state State) {
	for {
		select {
		case a.ch <- state:
			return
		default:
		}
		select {
		case <-a.ch:
		default:
		}
	}
}

func (a *attachment) stop() {
	close(a.done)
}

// Registry tracks the drivers attached to each session. It is process-local
// and rebuilt from handshakes after a restart.
type Registry struct {
	mu    sync.RWMutex
	sinks map[string]map[string]*attachment
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sinks: make(map[string]map[string]*attachment),
	}
}

// Attach registers a driver's sink for a session, replacing any previous sink
// under the same driver ID, and starts its delivery loop.
func (r *Registry) Attach(sessionID, driverID string, sink Sink) {
	a := &attachment{
		sink: sink,
		ch:   make(chan State, driverQueueDepth),
		done: make(chan struct{}),
	}
	go a.deliver(sessionID, driverID)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sinks[sessionID]; !exists {
		r.sinks[sessionID] = make(map[string]*attachment)
	}
	if prev, exists := r.sinks[sessionID][driverID]; exists {
		prev.stop()
	}
	r.sinks[sessionID][driverID] = a
	slog.Info("Driver attached", "session_id", sessionID, "driver_id", driverID)
}

// Detach removes a driver's sink and stops its delivery loop. Only the sink
// that was registered is removed, so a stale detach cannot evict a
// reconnected driver.
func (r *Registry) Detach(sessionID, driverID string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if drivers, ok := r.sinks[sessionID]; ok {
		if current, exists := drivers[driverID]; exists && current.sink == sink {
			current.stop()
			delete(drivers, driverID)
			if len(drivers) == 0 {
				delete(r.sinks, sessionID)
			}
			slog.Info("Driver detached", "session_id", sessionID, "driver_id", driverID)
		}
	}
}

// Attached returns the number of drivers attached to a session.
func (r *Registry) Attached(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks[sessionID])
}

// Broadcast queues the state for every driver attached to the session and
// returns without waiting for delivery. A push failure drops that driver's
// update; it resynchronizes via handshake on reconnect.
func (r *Registry) Broadcast(sessionID string, state State) {
	r.mu.RLock()
	drivers := make([]*attachment, 0, len(r.sinks[sessionID]))
	for _, a := range r.sinks[sessionID] {
		drivers = append(drivers, a)
	}
	r.mu.RUnlock()

	for _, a := range drivers {
		a.enqueue(state)
	}
}
