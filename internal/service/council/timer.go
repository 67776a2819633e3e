package council

import (
	"time"

	"github.com/ashita-ai/council/internal/model"
)

// WrapUpThreshold is the remaining time, in seconds, at which a round's
// wrap-up prompt fires.
const WrapUpThreshold = 30

// RoundTimer is a resumable countdown for one round. It holds remaining
// whole seconds rather than a wall-clock deadline so pause and resume never
// drift. Not safe for concurrent use; the owning session actor serializes
// access.
type RoundTimer struct {
	remaining   int
	paused      bool
	pausedBy    string
	wrapUpFired bool
}

// TickResult reports the boundary signals produced by one tick.
type TickResult struct {
	WrapUp  bool
	Expired bool
}

// NewRoundTimer creates a running timer for a round of the given length.
func NewRoundTimer(durationSeconds int) *RoundTimer {
	return &RoundTimer{remaining: durationSeconds}
}

// Tick advances the countdown by one second unless paused or expired.
// Wrap-up fires once, on the first tick that leaves remaining at or below
// WrapUpThreshold. Expiry fires on the tick that reaches zero.
func (t *RoundTimer) Tick() TickResult {
	if t.paused || t.remaining <= 0 {
		return TickResult{}
	}
	t.remaining--
	if t.remaining == 0 {
		return TickResult{Expired: true}
	}
	if !t.wrapUpFired && t.remaining <= WrapUpThreshold {
		t.wrapUpFired = true
		return TickResult{WrapUp: true}
	}
	return TickResult{}
}

// Pause freezes the countdown. Returns false if already paused.
func (t *RoundTimer) Pause(by string) bool {
	if t.paused {
		return false
	}
	t.paused = true
	t.pausedBy = by
	return true
}

// Resume continues the countdown from the frozen value. Returns false if
// not paused.
func (t *RoundTimer) Resume() bool {
	if !t.paused {
		return false
	}
	t.paused = false
	t.pausedBy = ""
	return true
}

// Reset restarts the countdown for a new round, keeping the paused flag.
func (t *RoundTimer) Reset(durationSeconds int) {
	t.remaining = durationSeconds
	t.wrapUpFired = false
}

// Remaining returns the whole seconds left.
func (t *RoundTimer) Remaining() int { return t.remaining }

// Paused reports whether the countdown is frozen.
func (t *RoundTimer) Paused() bool { return t.paused }

// Snapshot renders the timer for broadcast.
func (t *RoundTimer) Snapshot(roundIndex int, roundName string) *model.TimerState {
	return &model.TimerState{
		Remaining:    t.remaining,
		Paused:       t.paused,
		PausedBy:     t.pausedBy,
		CurrentRound: roundIndex,
		RoundName:    roundName,
	}
}

// TickSource starts a tick stream and returns its channel and a stop
// function. Sessions call it once per timed round span.
type TickSource func() (<-chan time.Time, func())

// IntervalTicks returns a TickSource backed by time.Ticker.
func IntervalTicks(interval time.Duration) TickSource {
	if interval <= 0 {
		interval = time.Second
	}
	return func() (<-chan time.Time, func()) {
		t := time.NewTicker(interval)
		return t.C, t.Stop
	}
}
