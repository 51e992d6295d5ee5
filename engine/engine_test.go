package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/smkim0508/Portable-Brain/core"
	"github.com/smkim0508/Portable-Brain/engine"
	"github.com/smkim0508/Portable-Brain/judge"
	"github.com/smkim0508/Portable-Brain/memory"
)

// scriptedSource replays states one per poll. Entries in panics or errs fire
// instead of the state at the same poll index.
type scriptedSource struct {
	mu     sync.Mutex
	states []core.UIState
	panics map[int]bool
	errs   map[int]error
	polls  int
	next   int
}

func (s *scriptedSource) Poll(ctx context.Context) (*core.UIState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.polls
	s.polls++
	if s.panics[i] {
		panic("accessibility service crashed")
	}
	if err := s.errs[i]; err != nil {
		return nil, err
	}
	if s.next >= len(s.states) {
		return nil, nil
	}
	st := s.states[s.next]
	s.next++
	return &st, nil
}

func (s *scriptedSource) Polls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.polls
}

// blockingSource ignores everything but its context.
type blockingSource struct{}

func (blockingSource) Poll(ctx context.Context) (*core.UIState, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeEmitter struct {
	mu    sync.Mutex
	calls []judge.Decision
	err   error
}

func (f *fakeEmitter) Emit(_ context.Context, d judge.Decision) (memory.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, d)
	if f.err != nil {
		return nil, f.err
	}
	return &memory.LongTermPeopleObservation{Meta: memory.Meta{ID: "obs", Node: d.ObservationNode}}, nil
}

func (f *fakeEmitter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type failingRenderer struct{}

func (failingRenderer) Render(context.Context, *judge.Group) (judge.Rendering, error) {
	return judge.Rendering{}, errors.New("model unavailable")
}

var t0 = time.Date(2025, time.January, 15, 9, 0, 0, 0, time.UTC)

func screen(pkg, text string, offset time.Duration) core.UIState {
	return core.UIState{FormattedText: text, Package: pkg, Timestamp: t0.Add(offset)}
}

func switches() []core.UIState {
	return []core.UIState{
		screen("com.android.launcher", "Home", 0),
		screen(string(core.AppSlack), "Channels", time.Minute),
		screen(string(core.AppSlack), "Channels\n#engineering", 2*time.Minute),
		screen(string(core.AppWhatsApp), "Chats", 3*time.Minute),
	}
}

func fast(opts ...engine.Option) []engine.Option {
	return append([]engine.Option{
		engine.WithBackoff(time.Millisecond, time.Millisecond),
		engine.WithStopTimeout(time.Second),
	}, opts...)
}

func igDM(id string, ts time.Time, target string) core.Action {
	return core.InstagramMessageSentAction{
		ActionBase: core.ActionBase{
			ID:               id,
			Timestamp:        ts,
			SourceChangeType: core.ChangeTextInput,
			Source:           core.SourceObservation,
			Importance:       1,
			Package:          string(core.AppInstagram),
		},
		ActorUsername:  "john_doe",
		TargetUsername: target,
	}
}

func scenarioA() []core.Action {
	return []core.Action{
		igDM("a1", time.Date(2025, time.January, 15, 9, 23, 0, 0, time.UTC), "sarah_smith"),
		igDM("a2", time.Date(2025, time.January, 15, 14, 45, 0, 0, time.UTC), "sarah_smith"),
		igDM("a3", time.Date(2025, time.January, 16, 10, 5, 0, 0, time.UTC), "sarah_smith"),
		igDM("a4", time.Date(2025, time.January, 17, 19, 30, 0, 0, time.UTC), "sarah_smith"),
	}
}

func TestEngine_StartStopProtocol(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := engine.New(&scriptedSource{}, &fakeEmitter{}, fast()...)
	ctx := context.Background()

	assert.ErrorIs(t, e.Stop(ctx), engine.ErrNotRunning)
	require.NoError(t, e.Start(ctx, 5*time.Millisecond))
	assert.True(t, e.Running())
	assert.ErrorIs(t, e.Start(ctx, 5*time.Millisecond), engine.ErrAlreadyRunning)

	require.NoError(t, e.Stop(ctx))
	assert.False(t, e.Running())
	assert.ErrorIs(t, e.Stop(ctx), engine.ErrNotRunning)

	// restartable
	require.NoError(t, e.Start(ctx, 5*time.Millisecond))
	require.NoError(t, e.Stop(ctx))
}

func TestEngine_RecordsActionsFromSnapshots(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &scriptedSource{states: switches()}
	e := engine.New(src, &fakeEmitter{}, fast()...)
	require.NoError(t, e.Start(context.Background(), 5*time.Millisecond))
	defer func() { _ = e.Stop(context.Background()) }()

	require.Eventually(t, func() bool { return e.Window().Len() == 3 }, 2*time.Second, 5*time.Millisecond)

	got := e.GetObservations(0)
	require.Len(t, got, 3)
	assert.Equal(t, core.KindAppSwitch, got[0].Kind())
	assert.Equal(t, string(core.AppWhatsApp), got[0].Base().Package)
	assert.Equal(t, core.KindUnknown, got[1].Kind())
	assert.Equal(t, core.KindAppSwitch, got[2].Kind())

	switchesOnly := e.GetObservations(10, core.ChangeAppSwitch)
	assert.Len(t, switchesOnly, 2)
	assert.Equal(t, 3, e.Window().Len(), "reads must not drain the window")

	e.ClearObservations()
	assert.Empty(t, e.GetObservations(0))
}

func TestEngine_SurvivesPanicsAndErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &scriptedSource{
		states: switches(),
		panics: map[int]bool{0: true},
		errs:   map[int]error{1: errors.New("device disconnected")},
	}
	e := engine.New(src, &fakeEmitter{}, fast()...)
	require.NoError(t, e.Start(context.Background(), 5*time.Millisecond))

	require.Eventually(t, func() bool { return e.Window().Len() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, e.Running())
	require.NoError(t, e.Stop(context.Background()))
}

func TestEngine_StopCancelsStuckLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := engine.New(blockingSource{}, &fakeEmitter{}, engine.WithStopTimeout(10*time.Millisecond))
	require.NoError(t, e.Start(context.Background(), time.Hour))

	// let the loop enter Poll
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	require.NoError(t, e.Stop(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, e.Running())
}

func TestEngine_ParentContextEndsLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(context.Background())
	e := engine.New(&scriptedSource{}, &fakeEmitter{}, fast()...)
	require.NoError(t, e.Start(ctx, 5*time.Millisecond))

	cancel()
	require.Eventually(t, func() bool { return !e.Running() }, time.Second, 5*time.Millisecond)
	require.NoError(t, e.Stop(context.Background()))
}

func TestEngine_FlushCommitsAfterStore(t *testing.T) {
	emitter := &fakeEmitter{}
	e := engine.New(&scriptedSource{}, emitter)
	for _, a := range scenarioA() {
		require.NoError(t, e.Window().Record(a))
	}

	res, err := e.Flush(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Decision.Empty())
	assert.Equal(t, "target:sarah_smith", res.Decision.Group.Key)
	assert.Equal(t, 4, res.Committed)
	require.NotNil(t, res.Observation)
	assert.Equal(t, 1, emitter.Calls())
	assert.Zero(t, e.Window().Len())

	// empty window is a no-op
	res, err = e.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Decision.Empty())
	assert.Equal(t, 1, emitter.Calls())
}

func TestEngine_FlushKeepsWindowOnStoreFailure(t *testing.T) {
	emitter := &fakeEmitter{err: &memory.StoreError{MemoryType: memory.LongTermPeople, Err: errors.New("db down")}}
	e := engine.New(&scriptedSource{}, emitter)
	for _, a := range scenarioA() {
		require.NoError(t, e.Window().Record(a))
	}

	_, err := e.Flush(context.Background())
	var storeErr *memory.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, 4, e.Window().Len())
}

func TestEngine_FlushKeepsWindowWithoutPattern(t *testing.T) {
	emitter := &fakeEmitter{}
	e := engine.New(&scriptedSource{}, emitter)
	require.NoError(t, e.Window().Record(igDM("a1", t0, "bob")))
	require.NoError(t, e.Window().Record(igDM("a2", t0.Add(time.Hour), "bob")))

	res, err := e.Flush(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Decision.Empty())
	assert.NotEmpty(t, res.Decision.Reasoning)
	assert.Zero(t, emitter.Calls())
	assert.Equal(t, 2, e.Window().Len())
}

func TestEngine_FlushDroppedOnRenderFailure(t *testing.T) {
	emitter := &fakeEmitter{}
	e := engine.New(&scriptedSource{}, emitter,
		engine.WithJudge(judge.New(judge.WithRenderer(failingRenderer{}))))
	for _, a := range scenarioA() {
		require.NoError(t, e.Window().Record(a))
	}

	_, err := e.Flush(context.Background())
	assert.ErrorIs(t, err, judge.ErrRenderFailed)
	assert.Zero(t, emitter.Calls())
	assert.Equal(t, 4, e.Window().Len())
}

func TestEngine_PeriodicFlush(t *testing.T) {
	defer goleak.VerifyNone(t)

	emitter := &fakeEmitter{}
	e := engine.New(&scriptedSource{}, emitter, fast(engine.WithFlushInterval(5*time.Millisecond))...)
	for _, a := range scenarioA() {
		require.NoError(t, e.Window().Record(a))
	}

	require.NoError(t, e.Start(context.Background(), 5*time.Millisecond))
	require.Eventually(t, func() bool { return e.Window().Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.Stop(context.Background()))
	assert.Equal(t, 1, emitter.Calls())
}
