// Package timer implements the per-colour Canadian byo-yomi clock used by a
// Match to bound how long an on-turn engine may take to answer genmove.
package timer

import (
	"math"
	"time"
)

// Timer tracks main time plus Canadian-style byo-yomi for one colour of one
// match. A Timer with zero main time, zero byo-yomi time, and a positive
// byo-yomi move quota is infinite: it never expires and every query returns
// the "no deadline" sentinel. Zero main, zero byo-yomi time, and zero
// byo-yomi moves is not infinite — it is a clock that has already run out.
type Timer struct {
	mainTime    float64 // seconds, fixed at construction
	byoyomiTime float64 // seconds per period, fixed at construction
	byoyomiMoves int    // moves per period, fixed at construction

	mainTimeCurrent     float64
	byoyomiTimeCurrent  float64
	byoyomiMovesCurrent int

	localTime time.Time // monotonic start of the in-progress move
}

// Infinite returns a Timer with no deadline: every move is unbounded.
func Infinite() *Timer {
	return New(0, 0, 1)
}

// New constructs a Timer with the given main time, byo-yomi time, and
// byo-yomi move quota, all in seconds/moves as configured for the match.
func New(mainTime, byoyomiTime float64, byoyomiMoves int) *Timer {
	return &Timer{
		mainTime:            mainTime,
		byoyomiTime:         byoyomiTime,
		byoyomiMoves:        byoyomiMoves,
		mainTimeCurrent:     mainTime,
		byoyomiTimeCurrent:  byoyomiTime,
		byoyomiMovesCurrent: byoyomiMoves,
	}
}

// IsInfinite reports whether this timer has no deadline.
func (t *Timer) IsInfinite() bool {
	return t.byoyomiMoves != 0 && t.mainTime == 0 && t.byoyomiTime == 0
}

// StartMove records the start of a new move and returns the seconds of
// budget available, or ok=false if the timer is infinite.
func (t *Timer) StartMove() (seconds int, ok bool) {
	t.localTime = time.Now()
	return t.budget()
}

// SameMove returns the remaining budget for the move already in progress,
// without moving the start timestamp. Used for repeated bounded waits
// within one move (e.g. wait-for-player retried after a spurious wakeup).
func (t *Timer) SameMove() (seconds int, ok bool) {
	return t.budget()
}

// budget reports the seconds left until the current move's deadline,
// accounting for time already spent since localTime.
func (t *Timer) budget() (int, bool) {
	if t.IsInfinite() {
		return 0, false
	}
	elapsed := time.Since(t.localTime).Seconds()
	var left float64
	if t.mainTimeCurrent > 0 {
		// Main time still running: budget is whatever's left of main plus
		// one full byo-yomi period beyond it, since byo-yomi only starts
		// once main is exhausted.
		left = t.mainTimeCurrent + t.byoyomiTimeCurrent - elapsed
	} else {
		left = t.byoyomiTimeCurrent - elapsed
	}
	if left < 0 {
		left = 0
	}
	return int(math.Ceil(left)), true
}

// EndMove applies the elapsed time for the move that just finished and
// returns the updated (timeLeft, periodsLeft). If main time goes negative
// the overage is shifted into the current byo-yomi period; if the period's
// move quota reaches zero with time remaining, the period resets.
func (t *Timer) EndMove() (timeLeft int, periodsLeft int) {
	if t.IsInfinite() {
		return 0, 0
	}
	elapsed := time.Since(t.localTime).Seconds()

	if t.mainTimeCurrent > 0 {
		t.mainTimeCurrent -= elapsed
		if t.mainTimeCurrent < 0 {
			overage := -t.mainTimeCurrent
			t.mainTimeCurrent = 0
			t.byoyomiTimeCurrent -= overage
			t.consumeByoyomiMove()
		}
	} else {
		t.byoyomiTimeCurrent -= elapsed
		t.consumeByoyomiMove()
	}

	if t.byoyomiTimeCurrent < 0 {
		t.byoyomiTimeCurrent = 0
	}

	return t.currentSeconds(), t.byoyomiMovesCurrent
}

// consumeByoyomiMove decrements the current period's move quota and, if it
// hits zero while time remains, resets the period to a fresh block.
func (t *Timer) consumeByoyomiMove() {
	if t.byoyomiMoves == 0 {
		return
	}
	t.byoyomiMovesCurrent--
	if t.byoyomiMovesCurrent <= 0 && t.byoyomiTimeCurrent > 0 {
		t.byoyomiTimeCurrent = t.byoyomiTime
		t.byoyomiMovesCurrent = t.byoyomiMoves
	}
}

func (t *Timer) currentSeconds() int {
	return int(math.Ceil(t.mainTimeCurrent + t.byoyomiTimeCurrent))
}

// LostOnTime reports whether the player timing out of this Timer has lost.
func (t *Timer) LostOnTime() bool {
	if t.IsInfinite() {
		return false
	}
	return t.mainTimeCurrent+t.byoyomiTimeCurrent <= 0
}

// CurrentTime returns (timeLeft, periodsLeft) for a time_left broadcast to
// the on-turn side, without advancing state.
func (t *Timer) CurrentTime() (timeLeft int, periodsLeft int) {
	return t.currentSeconds(), t.byoyomiMovesCurrent
}

// LastTime returns the same pair as CurrentTime; kept as a distinct name to
// match the two call sites in the match loop (on-turn vs off-turn side)
// per the source's own naming (see spec's reconnection open question).
func (t *Timer) LastTime() (timeLeft int, periodsLeft int) {
	return t.CurrentTime()
}
