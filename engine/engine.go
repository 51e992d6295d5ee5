// Package engine runs the tracking loop: poll snapshots, detect changes,
// infer actions into the window and periodically flush the window through
// the judge into memory.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smkim0508/Portable-Brain/core"
	"github.com/smkim0508/Portable-Brain/judge"
	"github.com/smkim0508/Portable-Brain/memory"
	"github.com/smkim0508/Portable-Brain/monitor"
)

var (
	// ErrAlreadyRunning is returned by Start when a tracking loop is active.
	ErrAlreadyRunning = errors.New("engine: tracking already running")

	// ErrNotRunning is returned by Stop when no tracking loop was started.
	ErrNotRunning = errors.New("engine: tracking not running")
)

// Loop timing defaults.
const (
	DefaultPollInterval   = time.Second
	DefaultChangeCooldown = 200 * time.Millisecond
	DefaultErrorBackoff   = 5 * time.Second
	DefaultStopTimeout    = 5 * time.Second
)

// Decider selects the pattern in a batch of actions. *judge.Judge satisfies it.
type Decider interface {
	Decide(ctx context.Context, actions []core.Action) (judge.Decision, error)
}

// Emitter stores a decision. *memory.Emitter satisfies it.
type Emitter interface {
	Emit(ctx context.Context, d judge.Decision) (memory.Observation, error)
}

// Engine is the tracker: one supervised loop per Start, sharing only the
// observation window with flushes and readers.
type Engine struct {
	source   core.SnapshotSource
	emitter  Emitter
	window   *monitor.Window
	inferrer *monitor.Inferrer
	judge    Decider
	logger   *zap.Logger

	changeSource   core.ChangeSource
	changeCooldown time.Duration
	errorBackoff   time.Duration
	stopTimeout    time.Duration
	flushInterval  time.Duration

	mu      sync.Mutex
	current *run

	// flushMu serializes flushes so two snapshots never overlap.
	flushMu sync.Mutex
}

// run is the state of one Start..Stop cycle.
type run struct {
	stop   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *run) exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Option configures the engine.
type Option func(*Engine)

// WithWindow sets the observation window.
func WithWindow(w *monitor.Window) Option {
	return func(e *Engine) {
		e.window = w
	}
}

// WithInferrer sets the action inferrer.
func WithInferrer(i *monitor.Inferrer) Option {
	return func(e *Engine) {
		e.inferrer = i
	}
}

// WithJudge sets the pattern judge.
func WithJudge(d Decider) Option {
	return func(e *Engine) {
		e.judge = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithChangeSource attributes detected changes to s.
func WithChangeSource(s core.ChangeSource) Option {
	return func(e *Engine) {
		e.changeSource = s
	}
}

// WithBackoff overrides the pause after a detected change and after an error.
func WithBackoff(afterChange, afterError time.Duration) Option {
	return func(e *Engine) {
		e.changeCooldown = afterChange
		e.errorBackoff = afterError
	}
}

// WithStopTimeout bounds how long Stop waits before cancelling the loop.
func WithStopTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.stopTimeout = d
	}
}

// WithFlushInterval flushes the window every d while tracking. Zero disables it.
func WithFlushInterval(d time.Duration) Option {
	return func(e *Engine) {
		e.flushInterval = d
	}
}

// New creates an engine reading snapshots from source and storing
// observations through emitter.
func New(source core.SnapshotSource, emitter Emitter, opts ...Option) *Engine {
	e := &Engine{
		source:         source,
		emitter:        emitter,
		logger:         zap.NewNop(),
		changeSource:   core.SourceObservation,
		changeCooldown: DefaultChangeCooldown,
		errorBackoff:   DefaultErrorBackoff,
		stopTimeout:    DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("engine")
	if e.window == nil {
		e.window = monitor.NewWindow(monitor.WindowConfig{}, e.logger)
	}
	if e.inferrer == nil {
		e.inferrer = monitor.NewInferrer()
	}
	if e.judge == nil {
		e.judge = judge.New(judge.WithLogger(e.logger))
	}
	return e
}

// Window returns the observation window.
func (e *Engine) Window() *monitor.Window {
	return e.window
}

// Start launches the tracking loop. It returns immediately; the loop runs
// until Stop is called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current != nil && !e.current.exited() {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r := &run{
		stop:   make(chan struct{}),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.current = r

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.track(loopCtx, r, pollInterval)
	}()
	if e.flushInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.flushEvery(loopCtx, r)
		}()
	}
	go func() {
		wg.Wait()
		cancel()
		close(r.done)
	}()

	e.logger.Info("tracking started",
		zap.Duration("poll_interval", pollInterval),
		zap.Duration("flush_interval", e.flushInterval))
	return nil
}

// Stop signals the loop to finish and waits up to the stop timeout. If the
// loop has not exited by then, or ctx ends first, its context is cancelled
// and Stop waits for the exit.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	r := e.current
	e.current = nil
	e.mu.Unlock()
	if r == nil {
		return ErrNotRunning
	}

	close(r.stop)

	timer := time.NewTimer(e.stopTimeout)
	defer timer.Stop()
	select {
	case <-r.done:
	case <-timer.C:
		e.logger.Warn("tracking loop did not stop in time, cancelling", zap.Duration("timeout", e.stopTimeout))
		r.cancel()
		<-r.done
	case <-ctx.Done():
		r.cancel()
		<-r.done
	}

	e.logger.Info("tracking stopped", zap.Int("window", e.window.Len()))
	return nil
}

// Running reports whether a tracking loop is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current != nil && !e.current.exited()
}

// GetObservations returns up to limit recorded actions, most recent first,
// optionally filtered by source change type. It does not modify the window.
func (e *Engine) GetObservations(limit int, changeTypes ...core.StateChangeType) []core.Action {
	return e.window.Drain(limit, changeTypes...)
}

// ClearObservations empties the window.
func (e *Engine) ClearObservations() {
	e.window.Clear()
}

func (e *Engine) track(ctx context.Context, r *run, interval time.Duration) {
	detector := monitor.NewDetector(e.changeSource)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		timer.Reset(e.tick(ctx, detector, interval))
	}
}

// tick runs one poll and returns how long to wait before the next one.
// A panic is recovered and treated like any other error.
func (e *Engine) tick(ctx context.Context, detector *monitor.Detector, interval time.Duration) (wait time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("recovered panic in tracking loop", zap.Any("panic", rec), zap.Stack("stack"))
			wait = e.errorBackoff
		}
	}()

	pollCtx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()

	state, err := e.source.Poll(pollCtx)
	if err != nil {
		if ctx.Err() != nil {
			return 0
		}
		e.logger.Warn("poll failed", zap.Error(err), zap.Duration("backoff", e.errorBackoff))
		return e.errorBackoff
	}
	if state == nil {
		return interval
	}

	change, ok := detector.Observe(*state)
	if !ok {
		return interval
	}

	action := e.inferrer.Infer(*change)
	if action.Kind() == core.KindUnknown {
		e.logger.Debug("no action recognized on screen", zap.String("screen", state.InferenceText()))
	}
	if err := e.window.Record(action); err != nil {
		e.logger.Warn("dropping action", zap.String("kind", string(action.Kind())), zap.Error(err))
		return interval
	}
	e.logger.Debug("recorded action",
		zap.String("kind", string(action.Kind())),
		zap.String("change", string(change.Type)),
		zap.String("package", action.Base().Package))
	return e.changeCooldown
}

func (e *Engine) flushEvery(ctx context.Context, r *run) {
	ticker := time.NewTicker(e.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Flush(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("periodic flush failed", zap.Error(err))
			}
		}
	}
}

// FlushResult describes one flush.
type FlushResult struct {
	Decision    judge.Decision
	Observation memory.Observation

	// Committed is the number of actions removed from the window.
	Committed int
}

// Flush judges the current window and stores the resulting observation.
// The window is committed only after the observation was stored; when no
// pattern is found, or any step fails, the actions stay for the next flush.
func (e *Engine) Flush(ctx context.Context) (FlushResult, error) {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	batch := e.window.Snapshot()
	if len(batch.Actions) == 0 {
		return FlushResult{}, nil
	}

	d, err := e.judge.Decide(ctx, batch.Actions)
	if err != nil {
		e.logger.Warn("dropping flush", zap.Int("actions", len(batch.Actions)), zap.Error(err))
		return FlushResult{}, fmt.Errorf("judge window: %w", err)
	}
	if d.Empty() {
		e.logger.Debug("no pattern in window", zap.Int("actions", len(batch.Actions)))
		return FlushResult{Decision: d}, nil
	}

	obs, err := e.emitter.Emit(ctx, d)
	if err != nil {
		return FlushResult{Decision: d}, fmt.Errorf("emit observation: %w", err)
	}

	n := e.window.Commit(batch)
	e.logger.Info("flushed window",
		zap.String("memory_type", string(obs.MemoryType())),
		zap.Int("committed", n),
		zap.Int("remaining", e.window.Len()))
	return FlushResult{Decision: d, Observation: obs, Committed: n}, nil
}
