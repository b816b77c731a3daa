// Package macros holds the macro set and the single record/playback
// session state machine.
package macros

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evmacro/evmacro/types"
	"github.com/evmacro/evmacro/utils"
)

// State is the engine's session state.
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateRecording:
		return "recording"
	case StatePlaying:
		return "playing"
	default:
		return "idle"
	}
}

// Emitter injects one event into the system. The uinput injector is the
// production implementation.
type Emitter interface {
	Emit(ev types.InputEvent) error
}

// Notifier pushes unsolicited progress/error notifications.
type Notifier interface {
	Notify(method string, params interface{})
}

type recordingSession struct {
	name     string
	steps    []Step
	lastTime int64
}

type playbackSession struct {
	macro  *Macro
	cursor int
	cancel context.CancelFunc
	done   chan struct{}
}

// Engine owns the macro set and enforces the "at most one session"
// invariant. Recording input arrives via HandleEvent from the device
// capture pumps; playback drives the emitter on its own goroutine.
type Engine struct {
	mu       sync.Mutex
	macros   map[string]*Macro
	order    []string // insertion order for stable listings
	state    State
	rec      *recordingSession
	play     *playbackSession
	emitter  Emitter
	notifier Notifier
}

// NewEngine creates an idle engine with an empty macro set.
func NewEngine(emitter Emitter) *Engine {
	return &Engine{
		macros:  make(map[string]*Macro),
		emitter: emitter,
	}
}

func (e *Engine) SetNotifier(n Notifier) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.notifier = n
}

// State returns the current session state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// StartRecording begins buffering captured events under the given macro
// name. Conflict when a session is active or the name is taken.
func (e *Engine) StartRecording(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return types.NewError(types.KindConflict, "a %s session is already active", e.state)
	}
	for _, m := range e.macros {
		if m.Name == name {
			return types.NewError(types.KindConflict, "macro name already in use: %s", name)
		}
	}

	e.state = StateRecording
	e.rec = &recordingSession{name: name}
	utils.Info("Recording started: %s", name)
	return nil
}

// StopRecording commits the buffer as a new immutable macro and returns
// it. An empty buffer commits a zero-event macro; that is policy, not an
// error. Conflict when not recording.
func (e *Engine) StopRecording() (*Macro, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateRecording {
		return nil, types.NewError(types.KindConflict, "no recording in progress")
	}

	macro := &Macro{
		ID:        uuid.NewString(),
		Name:      e.rec.name,
		CreatedAt: time.Now().UTC(),
		Steps:     e.rec.steps,
	}
	e.macros[macro.ID] = macro
	e.order = append(e.order, macro.ID)
	e.state = StateIdle
	e.rec = nil

	utils.Info("Recording committed: %s (%d events, id %s)", macro.Name, len(macro.Steps), macro.ID)
	return macro.Clone(), nil
}

// HandleEvent is the capture sink. Events are appended to the recording
// buffer with their delay since the previous captured event; outside a
// recording they are deliberately discarded, which together with the
// exclusive grab suppresses them from the whole system.
func (e *Engine) HandleEvent(ev types.InputEvent) {
	e.mu.Lock()

	if e.state != StateRecording {
		e.mu.Unlock()
		return
	}

	var delay time.Duration
	if len(e.rec.steps) > 0 {
		delay = time.Duration(ev.Time - e.rec.lastTime)
		if delay < 0 {
			delay = 0
		}
	}
	e.rec.lastTime = ev.Time
	e.rec.steps = append(e.rec.steps, Step{Event: ev, Delay: delay})

	name := e.rec.name
	count := len(e.rec.steps)
	notifier := e.notifier
	e.mu.Unlock()

	if notifier != nil {
		notifier.Notify(types.NotifyRecordingProgress, types.RecordingProgressParams{
			Name:       name,
			EventCount: count,
		})
	}
}

// HandleCaptureLoss aborts a recording whose source device vanished.
func (e *Engine) HandleCaptureLoss(deviceID string, err error) {
	e.mu.Lock()
	if e.state != StateRecording {
		e.mu.Unlock()
		return
	}
	name := e.rec.name
	e.state = StateIdle
	e.rec = nil
	notifier := e.notifier
	e.mu.Unlock()

	utils.Warn("Recording %q aborted: %v", name, err)
	if notifier != nil {
		notifier.Notify(types.NotifySessionError, types.SessionErrorParams{
			Kind:   types.KindOf(err),
			Detail: err.Error(),
		})
	}
}

// Play schedules the macro's events through the emitter, honoring each
// recorded delay. Returns once playback has started.
func (e *Engine) Play(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return types.NewError(types.KindConflict, "a %s session is already active", e.state)
	}
	macro, ok := e.macros[id]
	if !ok {
		return types.NewError(types.KindNotFound, "macro not found: %s", id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	session := &playbackSession{
		macro:  macro.Clone(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.state = StatePlaying
	e.play = session

	go e.playLoop(ctx, session)
	utils.Info("Playback started: %s (%d events)", macro.Name, len(macro.Steps))
	return nil
}

func (e *Engine) playLoop(ctx context.Context, session *playbackSession) {
	defer close(session.done)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	emitted := 0
	var failure error

	for _, step := range session.macro.Steps {
		if step.Delay > 0 {
			if timer == nil {
				timer = time.NewTimer(step.Delay)
			} else {
				timer.Reset(step.Delay)
			}
			select {
			case <-ctx.Done():
				e.finishPlayback(session, emitted, ctx.Err())
				return
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			e.finishPlayback(session, emitted, ctx.Err())
			return
		}

		if err := e.emitter.Emit(step.Event); err != nil {
			failure = err
			break
		}
		emitted++

		e.mu.Lock()
		session.cursor = emitted
		notifier := e.notifier
		e.mu.Unlock()
		if notifier != nil {
			notifier.Notify(types.NotifyPlaybackProgress, types.PlaybackProgressParams{
				MacroID: session.macro.ID,
				Cursor:  emitted,
			})
		}
	}

	e.finishPlayback(session, emitted, failure)
}

func (e *Engine) finishPlayback(session *playbackSession, emitted int, failure error) {
	e.mu.Lock()
	if e.play == session {
		e.state = StateIdle
		e.play = nil
	}
	notifier := e.notifier
	e.mu.Unlock()

	if notifier == nil {
		return
	}

	switch {
	case failure == nil:
		utils.Info("Playback completed: %s (%d events)", session.macro.Name, emitted)
		notifier.Notify(types.NotifyPlaybackCompleted, types.PlaybackCompletedParams{
			MacroID: session.macro.ID,
			Emitted: emitted,
		})
	case failure == context.Canceled:
		// cancellation is not an error; no notification beyond the ack
		utils.Info("Playback cancelled: %s after %d events", session.macro.Name, emitted)
	default:
		utils.Warn("Playback of %s failed: %v", session.macro.Name, failure)
		notifier.Notify(types.NotifySessionError, types.SessionErrorParams{
			Kind:   types.KindOf(failure),
			Detail: failure.Error(),
		})
	}
}

// CancelPlayback stops emission immediately and waits for the playback
// goroutine to exit, so no further emissions can occur after it returns.
// No-op when nothing is playing.
func (e *Engine) CancelPlayback() {
	e.mu.Lock()
	session := e.play
	e.mu.Unlock()

	if session == nil {
		return
	}
	session.cancel()
	<-session.done
}

// Delete removes a macro. Conflict when that macro is currently playing.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.macros[id]; !ok {
		return types.NewError(types.KindNotFound, "macro not found: %s", id)
	}
	if e.state == StatePlaying && e.play != nil && e.play.macro.ID == id {
		return types.NewError(types.KindConflict, "macro %s is currently playing", id)
	}

	delete(e.macros, id)
	for i, mid := range e.order {
		if mid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	utils.Info("Deleted macro %s", id)
	return nil
}

// List returns macro summaries in creation order. Always permitted.
func (e *Engine) List() []types.MacroSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	summaries := make([]types.MacroSummary, 0, len(e.order))
	for _, id := range e.order {
		if m, ok := e.macros[id]; ok {
			summaries = append(summaries, m.Summary())
		}
	}
	return summaries
}

// Get returns a copy of one macro.
func (e *Engine) Get(id string) (*Macro, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.macros[id]
	if !ok {
		return nil, types.NewError(types.KindNotFound, "macro not found: %s", id)
	}
	return m.Clone(), nil
}

// Count returns the macro set size.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.macros)
}

// Snapshot returns deep copies of all macros in creation order, for
// profile saving.
func (e *Engine) Snapshot() []*Macro {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]*Macro, 0, len(e.order))
	for _, id := range e.order {
		if m, ok := e.macros[id]; ok {
			out = append(out, m.Clone())
		}
	}
	return out
}

// ReplaceAll swaps the whole macro set, used by profile loading. Conflict
// while a session is active: a load cannot interleave with record or
// playback.
func (e *Engine) ReplaceAll(set []*Macro) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateIdle {
		return types.NewError(types.KindConflict, "cannot replace macros while a %s session is active", e.state)
	}

	e.macros = make(map[string]*Macro, len(set))
	e.order = e.order[:0]
	for _, m := range set {
		clone := m.Clone()
		e.macros[clone.ID] = clone
		e.order = append(e.order, clone.ID)
	}
	return nil
}
