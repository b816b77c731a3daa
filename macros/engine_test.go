package macros

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmacro/evmacro/types"
)

// mockEmitter records emissions with wall-clock timestamps.
type mockEmitter struct {
	mu     sync.Mutex
	events []types.InputEvent
	times  []time.Time
	err    error
	block  chan struct{} // when non-nil, Emit waits on it
}

func (m *mockEmitter) Emit(ev types.InputEvent) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	m.times = append(m.times, time.Now())
	return nil
}

func (m *mockEmitter) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockEmitter) snapshot() []types.InputEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.InputEvent(nil), m.events...)
}

type notifyRecorder struct {
	mu      sync.Mutex
	methods []string
	params  []interface{}
}

func (n *notifyRecorder) Notify(method string, params interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.methods = append(n.methods, method)
	n.params = append(n.params, params)
}

func (n *notifyRecorder) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, m := range n.methods {
		if m == method {
			total++
		}
	}
	return total
}

func keyEvent(code uint16, value int32, at time.Duration) types.InputEvent {
	return types.InputEvent{
		Device: "event0",
		Type:   0x01,
		Code:   code,
		Value:  value,
		Time:   at.Nanoseconds(),
	}
}

func recordMacro(t *testing.T, e *Engine, name string, events ...types.InputEvent) *Macro {
	t.Helper()
	require.NoError(t, e.StartRecording(name))
	for _, ev := range events {
		e.HandleEvent(ev)
	}
	macro, err := e.StopRecording()
	require.NoError(t, err)
	return macro
}

func waitForIdle(t *testing.T, e *Engine) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.State() == StateIdle {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("engine did not return to idle")
}

func TestRecording_PreservesCountAndOrder(t *testing.T) {
	e := NewEngine(&mockEmitter{})

	macro := recordMacro(t, e, "macroA",
		keyEvent(30, 1, 0),
		keyEvent(30, 0, 10*time.Millisecond),
		keyEvent(31, 1, 25*time.Millisecond),
		keyEvent(31, 0, 30*time.Millisecond),
		keyEvent(32, 1, 55*time.Millisecond),
		keyEvent(32, 0, 60*time.Millisecond),
	)

	require.Len(t, macro.Steps, 6)
	assert.Equal(t, "macroA", macro.Name)
	assert.NotEmpty(t, macro.ID)

	// first delay zero, rest relative to previous event
	assert.Equal(t, time.Duration(0), macro.Steps[0].Delay)
	assert.Equal(t, 10*time.Millisecond, macro.Steps[1].Delay)
	assert.Equal(t, 15*time.Millisecond, macro.Steps[2].Delay)
	assert.Equal(t, 5*time.Millisecond, macro.Steps[3].Delay)

	codes := []uint16{30, 30, 31, 31, 32, 32}
	for i, step := range macro.Steps {
		assert.Equal(t, codes[i], step.Event.Code)
	}
}

func TestRecording_EmptyBufferCommitsEmptyMacro(t *testing.T) {
	e := NewEngine(&mockEmitter{})

	macro := recordMacro(t, e, "empty")
	assert.Empty(t, macro.Steps)

	summaries := e.List()
	require.Len(t, summaries, 1)
	assert.Equal(t, 0, summaries[0].EventCount)
}

func TestRecording_ProgressNotifications(t *testing.T) {
	e := NewEngine(&mockEmitter{})
	recorder := &notifyRecorder{}
	e.SetNotifier(recorder)

	recordMacro(t, e, "seq", keyEvent(30, 1, 0), keyEvent(30, 0, time.Millisecond))
	assert.Equal(t, 2, recorder.count(types.NotifyRecordingProgress))
}

func TestStartRecording_Conflicts(t *testing.T) {
	e := NewEngine(&mockEmitter{})

	require.NoError(t, e.StartRecording("one"))
	err := e.StartRecording("two")
	assert.Equal(t, types.KindConflict, types.KindOf(err))

	_, err = e.StopRecording()
	require.NoError(t, err)

	// name collision with a committed macro
	err = e.StartRecording("one")
	assert.Equal(t, types.KindConflict, types.KindOf(err))
}

func TestStopRecording_WhenIdleFails(t *testing.T) {
	e := NewEngine(&mockEmitter{})
	_, err := e.StopRecording()
	assert.Equal(t, types.KindConflict, types.KindOf(err))
}

func TestHandleEvent_IgnoredWhenIdle(t *testing.T) {
	e := NewEngine(&mockEmitter{})
	e.HandleEvent(keyEvent(30, 1, 0))
	assert.Zero(t, e.Count())
}

func TestPlayback_EmitsInOrderWithRecordedSpacing(t *testing.T) {
	emitter := &mockEmitter{}
	e := NewEngine(emitter)
	recorder := &notifyRecorder{}
	e.SetNotifier(recorder)

	macro := recordMacro(t, e, "timing",
		keyEvent(30, 1, 0),
		keyEvent(30, 0, 40*time.Millisecond),
		keyEvent(31, 1, 80*time.Millisecond),
	)

	start := time.Now()
	require.NoError(t, e.Play(macro.ID))
	waitForIdle(t, e)

	events := emitter.snapshot()
	require.Len(t, events, 3)
	assert.Equal(t, uint16(30), events[0].Code)
	assert.Equal(t, uint16(30), events[1].Code)
	assert.Equal(t, uint16(31), events[2].Code)

	// total recorded spacing is 80ms; allow generous scheduler jitter
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)

	emitter.mu.Lock()
	gap := emitter.times[1].Sub(emitter.times[0])
	emitter.mu.Unlock()
	assert.GreaterOrEqual(t, gap, 35*time.Millisecond)

	assert.Equal(t, 3, recorder.count(types.NotifyPlaybackProgress))
	assert.Equal(t, 1, recorder.count(types.NotifyPlaybackCompleted))
}

func TestPlayback_UnknownMacro(t *testing.T) {
	e := NewEngine(&mockEmitter{})
	err := e.Play("missing")
	assert.Equal(t, types.KindNotFound, types.KindOf(err))
}

func TestPlayback_ConflictsWithActiveSession(t *testing.T) {
	emitter := &mockEmitter{}
	e := NewEngine(emitter)

	macro := recordMacro(t, e, "slow",
		keyEvent(30, 1, 0),
		keyEvent(30, 0, 200*time.Millisecond),
	)

	require.NoError(t, e.Play(macro.ID))
	err := e.Play(macro.ID)
	assert.Equal(t, types.KindConflict, types.KindOf(err))

	err = e.StartRecording("other")
	assert.Equal(t, types.KindConflict, types.KindOf(err))

	e.CancelPlayback()
	waitForIdle(t, e)
}

func TestCancelPlayback_StopsFurtherEmissions(t *testing.T) {
	emitter := &mockEmitter{}
	e := NewEngine(emitter)

	events := []types.InputEvent{keyEvent(30, 1, 0)}
	at := time.Duration(0)
	for i := 0; i < 9; i++ {
		at += 50 * time.Millisecond
		events = append(events, keyEvent(30, int32(i%2), at))
	}
	macro := recordMacro(t, e, "long", events...)

	require.NoError(t, e.Play(macro.ID))

	// let at least the first event out, then cancel
	deadline := time.Now().Add(time.Second)
	for emitter.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	e.CancelPlayback()

	emittedAtCancel := emitter.count()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, emittedAtCancel, emitter.count(), "no emissions after cancel returned")
	assert.Equal(t, StateIdle, e.State())
}

func TestCancelPlayback_NoOpWhenIdle(t *testing.T) {
	e := NewEngine(&mockEmitter{})
	e.CancelPlayback()
	assert.Equal(t, StateIdle, e.State())
}

func TestPlayback_EmitterFailureReturnsToIdle(t *testing.T) {
	emitter := &mockEmitter{err: types.NewError(types.KindInjection, "device gone")}
	e := NewEngine(emitter)
	recorder := &notifyRecorder{}
	e.SetNotifier(recorder)

	macro := recordMacro(t, e, "failing", keyEvent(30, 1, 0))
	require.NoError(t, e.Play(macro.ID))
	waitForIdle(t, e)

	assert.Equal(t, 1, recorder.count(types.NotifySessionError))
	assert.Equal(t, 0, recorder.count(types.NotifyPlaybackCompleted))
}

func TestDelete_Semantics(t *testing.T) {
	emitter := &mockEmitter{}
	e := NewEngine(emitter)

	macro := recordMacro(t, e, "victim",
		keyEvent(30, 1, 0),
		keyEvent(30, 0, 200*time.Millisecond),
	)

	err := e.Delete("missing")
	assert.Equal(t, types.KindNotFound, types.KindOf(err))

	require.NoError(t, e.Play(macro.ID))
	err = e.Delete(macro.ID)
	assert.Equal(t, types.KindConflict, types.KindOf(err))

	// listing stays permitted during playback
	assert.Len(t, e.List(), 1)

	e.CancelPlayback()
	waitForIdle(t, e)
	require.NoError(t, e.Delete(macro.ID))
	assert.Empty(t, e.List())
}

func TestHandleCaptureLoss_AbortsRecording(t *testing.T) {
	e := NewEngine(&mockEmitter{})
	recorder := &notifyRecorder{}
	e.SetNotifier(recorder)

	require.NoError(t, e.StartRecording("doomed"))
	e.HandleEvent(keyEvent(30, 1, 0))

	e.HandleCaptureLoss("event0", types.NewError(types.KindDisconnected, "device event0 disconnected"))

	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, 1, recorder.count(types.NotifySessionError))

	// the aborted buffer is discarded, not committed
	assert.Empty(t, e.List())
}

func TestReplaceAll_SwapsSetAndGuardsActiveSession(t *testing.T) {
	e := NewEngine(&mockEmitter{})
	recordMacro(t, e, "old", keyEvent(30, 1, 0))

	replacement := []*Macro{
		{ID: "m1", Name: "new1", CreatedAt: time.Now(), Steps: []Step{{Event: keyEvent(31, 1, 0)}}},
		{ID: "m2", Name: "new2", CreatedAt: time.Now()},
	}
	require.NoError(t, e.ReplaceAll(replacement))

	summaries := e.List()
	require.Len(t, summaries, 2)
	assert.Equal(t, "new1", summaries[0].Name)
	assert.Equal(t, "new2", summaries[1].Name)

	require.NoError(t, e.StartRecording("busy"))
	err := e.ReplaceAll(nil)
	assert.Equal(t, types.KindConflict, types.KindOf(err))
}

func TestMacroImmutability_CommittedStepsUnaffectedByCallerMutation(t *testing.T) {
	e := NewEngine(&mockEmitter{})
	macro := recordMacro(t, e, "frozen", keyEvent(30, 1, 0))

	// mutate the returned copy; the engine's copy must not change
	macro.Steps[0].Event.Code = 99

	stored, err := e.Get(macro.ID)
	require.NoError(t, err)
	assert.Equal(t, uint16(30), stored.Steps[0].Event.Code)
}
