package runsvc

import (
	"context"
	"sync"

	"drivergen/internal/supervisor"
)

// hub fans supervisor events out to websocket subscribers, keyed by run ID.
// Slow subscribers drop events rather than stall the pipeline.
type hub struct {
	mu   sync.RWMutex
	subs map[string][]chan supervisor.Event
}

func newHub() *hub {
	return &hub{subs: make(map[string][]chan supervisor.Event)}
}

func (h *hub) subscribe(ctx context.Context, runID string) <-chan supervisor.Event {
	ch := make(chan supervisor.Event, 32)
	h.mu.Lock()
	h.subs[runID] = append(h.subs[runID], ch)
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.unsubscribe(runID, ch)
	}()
	return ch
}

func (h *hub) unsubscribe(runID string, ch chan supervisor.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	chans := h.subs[runID]
	for i, c := range chans {
		if c == ch {
			h.subs[runID] = append(chans[:i], chans[i+1:]...)
			close(c)
			break
		}
	}
	if len(h.subs[runID]) == 0 {
		delete(h.subs, runID)
	}
}

func (h *hub) publish(runID string, ev supervisor.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[runID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

// closeRun drops all subscribers for a finished run.
func (h *hub) closeRun(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[runID] {
		close(ch)
	}
	delete(h.subs, runID)
}
