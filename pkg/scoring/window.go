package scoring

import (
	"sort"
	"sync"
	"time"
)

// WindowStore keeps the append-only per-session event log and answers
// trailing-window queries for rule and pattern analysis. Events are immutable
// once appended.
type WindowStore struct {
	mu     sync.RWMutex
	window time.Duration
	events map[string][]Event
	now    func() time.Time
}

// NewWindowStore creates a window store with the given trailing window.
func NewWindowStore(window time.Duration) *WindowStore {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &WindowStore{
		window: window,
		events: make(map[string][]Event),
		now:    time.Now,
	}
}

// Append records a batch of events for a session and returns the current
// trailing window, ordered by timestamp.
func (w *WindowStore) Append(sessionID string, batch []Event) []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.events[sessionID] = append(w.events[sessionID], batch...)
	w.events[sessionID] = w.trimLocked(w.events[sessionID])
	return w.snapshotLocked(sessionID)
}

// Window returns the current trailing window for a session, ordered by
// timestamp. Sessions with no events yield an empty slice.
func (w *WindowStore) Window(sessionID string) []Event {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.snapshotLocked(sessionID)
}

func (w *WindowStore) trimLocked(evs []Event) []Event {
	cutoff := w.now().Add(-w.window).UnixMilli()
	kept := evs[:0]
	for _, ev := range evs {
		if ev.Timestamp >= cutoff {
			kept = append(kept, ev)
		}
	}
	return kept
}

func (w *WindowStore) snapshotLocked(sessionID string) []Event {
	src := w.events[sessionID]
	out := make([]Event, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}
