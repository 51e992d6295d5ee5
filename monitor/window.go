package monitor

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smkim0508/Portable-Brain/core"
)

// ErrOutOfOrder is returned by Record when an action is older than the newest
// action already in the window.
var ErrOutOfOrder = errors.New("monitor: action timestamp precedes window tail")

// Default window bounds.
const (
	DefaultMaxActions = 500
	DefaultMaxAge     = 72 * time.Hour
)

// WindowConfig bounds the observation window.
// Zero values select the defaults; a negative value disables that bound.
type WindowConfig struct {
	MaxActions int
	MaxAge     time.Duration
}

// Window is the rolling, chronological buffer of actions for one tracking
// session. All methods are safe for concurrent use.
//
// When a bound is exceeded the oldest actions are dropped and the eviction is
// logged; evicted evidence is not flushed.
type Window struct {
	mu      sync.Mutex
	entries []entry
	seq     uint64

	maxActions int
	maxAge     time.Duration
	logger     *zap.Logger
}

type entry struct {
	seq    uint64
	action core.Action
}

// Batch is an oldest-first copy of the window taken for a flush.
type Batch struct {
	Actions []core.Action
	through uint64
}

// NewWindow creates an empty window.
func NewWindow(cfg WindowConfig, logger *zap.Logger) *Window {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxActions == 0 {
		cfg.MaxActions = DefaultMaxActions
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	return &Window{
		maxActions: cfg.MaxActions,
		maxAge:     cfg.MaxAge,
		logger:     logger.Named("window"),
	}
}

// Record appends action to the tail.
func (w *Window) Record(action core.Action) error {
	ts := action.Base().Timestamp

	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.entries); n > 0 && ts.Before(w.entries[n-1].action.Base().Timestamp) {
		return ErrOutOfOrder
	}
	w.seq++
	w.entries = append(w.entries, entry{seq: w.seq, action: action})
	w.evictLocked(ts)
	return nil
}

func (w *Window) evictLocked(newest time.Time) {
	drop := 0
	if w.maxActions > 0 && len(w.entries) > w.maxActions {
		drop = len(w.entries) - w.maxActions
	}
	if w.maxAge > 0 {
		cutoff := newest.Add(-w.maxAge)
		for drop < len(w.entries) && w.entries[drop].action.Base().Timestamp.Before(cutoff) {
			drop++
		}
	}
	if drop == 0 {
		return
	}
	w.entries = append([]entry(nil), w.entries[drop:]...)
	w.logger.Warn("evicted oldest actions from window",
		zap.Int("evicted", drop),
		zap.Int("remaining", len(w.entries)))
}

// Drain returns actions most-recent-first.
// When changeTypes is non-empty only actions with a matching source change
// type are considered; limit > 0 then keeps the limit most recent of those.
// Drain does not modify the window.
func (w *Window) Drain(limit int, changeTypes ...core.StateChangeType) []core.Action {
	w.mu.Lock()
	defer w.mu.Unlock()

	var want map[core.StateChangeType]bool
	if len(changeTypes) > 0 {
		want = make(map[core.StateChangeType]bool, len(changeTypes))
		for _, t := range changeTypes {
			want[t] = true
		}
	}

	out := make([]core.Action, 0, len(w.entries))
	for i := len(w.entries) - 1; i >= 0; i-- {
		a := w.entries[i].action
		if want != nil && !want[a.Base().SourceChangeType] {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Snapshot returns every action oldest-first together with a watermark for Commit.
func (w *Window) Snapshot() Batch {
	w.mu.Lock()
	defer w.mu.Unlock()

	b := Batch{Actions: make([]core.Action, len(w.entries))}
	for i, e := range w.entries {
		b.Actions[i] = e.action
	}
	if n := len(w.entries); n > 0 {
		b.through = w.entries[n-1].seq
	}
	return b
}

// Commit removes the actions contained in b.
// Actions recorded after the snapshot was taken are kept.
func (w *Window) Commit(b Batch) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := 0
	for n < len(w.entries) && w.entries[n].seq <= b.through {
		n++
	}
	w.entries = append([]entry(nil), w.entries[n:]...)
	return n
}

// Clear empties the window.
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
}

// Len returns the number of buffered actions.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
