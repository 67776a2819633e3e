package council

import "github.com/ashita-ai/council/internal/service/utterance"

// turn is one pending agent utterance.
type turn struct {
	role   string
	round  int
	kind   utterance.Kind
	prompt string
}

// turnQueue is a session's FIFO of pending turns with at most one in flight.
// Owned by the session actor.
type turnQueue struct {
	pending  []turn
	inFlight *turn
}

func (q *turnQueue) push(ts ...turn) {
	q.pending = append(q.pending, ts...)
}

// next pops the head of the queue and marks it in flight. Returns false if a
// turn is already in flight or nothing is pending.
func (q *turnQueue) next() (turn, bool) {
	if q.inFlight != nil || len(q.pending) == 0 {
		return turn{}, false
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	q.inFlight = &t
	return t, true
}

// finish clears the in-flight turn.
func (q *turnQueue) finish() {
	q.inFlight = nil
}

// idle reports whether nothing is queued or in flight.
func (q *turnQueue) idle() bool {
	return q.inFlight == nil && len(q.pending) == 0
}

// queued reports whether role has a pending turn.
func (q *turnQueue) queued(role string) bool {
	for _, t := range q.pending {
		if t.role == role {
			return true
		}
	}
	return false
}

// dropBefore discards pending turns scheduled for rounds earlier than
// round and returns the roles that lost a turn.
func (q *turnQueue) dropBefore(round int) []string {
	kept := q.pending[:0]
	var dropped []string
	for _, t := range q.pending {
		if t.round < round {
			dropped = append(dropped, t.role)
			continue
		}
		kept = append(kept, t)
	}
	q.pending = kept
	return dropped
}

// clear discards every pending turn. The in-flight turn, if any, is left to
// complete.
func (q *turnQueue) clear() {
	q.pending = nil
}

// roundTurns builds one turn per role in roster order.
func roundTurns(roster []string, round int, kind utterance.Kind, prompt string) []turn {
	ts := make([]turn, len(roster))
	for i, role := range roster {
		ts[i] = turn{role: role, round: round, kind: kind, prompt: prompt}
	}
	return ts
}
