package glint

import "sync/atomic"

// effect is one schedulable unit of "re-validate this cell and notify its
// listeners". Each cell owns exactly one effect for its whole lifetime;
// the next pointer is only touched while the effect sits in the pending
// queue, which the pending flag guarantees happens at most once at a time.
type effect struct {
	pending atomic.Bool
	next    *effect
	run     func()
}
