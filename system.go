package glint

import "sync/atomic"

// Process-wide coordinator state. The batch depth is deliberately a single
// shared atomic rather than per-goroutine: concurrent batches from
// unrelated call stacks interleave their flush timing, but the per-effect
// pending flag keeps every effect to a single execution per queueing, so
// any zero-crossing of the depth counter performs a correct flush.
var (
	batchDepth    atomic.Int64
	globalVersion atomic.Uint64
	pendingHead   atomic.Pointer[effect]
)

// StartBatch opens a batch scope. Writes inside a batch still mutate cell
// state and propagate dirty marks immediately; only listener notification
// is deferred until the outermost EndBatch.
func StartBatch() {
	batchDepth.Add(1)
}

// EndBatch closes a batch scope and, on the outermost close, flushes all
// queued notification effects.
func EndBatch() {
	if batchDepth.Add(-1) == 0 {
		flushEffects()
	}
}

// Batch runs fn inside a batch scope. The scope is released even if fn
// panics.
func Batch(fn func()) {
	StartBatch()
	defer EndBatch()
	fn()
}

// bumpGlobal advances the process-wide change counter. Every source
// mutation anywhere in the graph lands here; clean cells use the counter
// as a cheap "did anything change at all" check before walking their
// sources.
func bumpGlobal() {
	globalVersion.Add(1)
}

// queueEffect schedules e for the next flush. The pending flag makes the
// queueing single-shot: an effect queued many times within one batch runs
// once.
func queueEffect(e *effect) {
	if !e.pending.CompareAndSwap(false, true) {
		return
	}
	for {
		head := pendingHead.Load()
		e.next = head
		if pendingHead.CompareAndSwap(head, e) {
			return
		}
	}
}

// flushEffects drains the pending queue, running each effect once in
// queueing order. An effect clears its pending flag before running, so
// changes triggered from within its own execution may re-queue it; the
// drain loop keeps going until no new effects appear.
func flushEffects() {
	for {
		head := pendingHead.Swap(nil)
		if head == nil {
			return
		}
		// pushes build a LIFO chain; reverse to run in queueing order
		var ordered *effect
		for head != nil {
			next := head.next
			head.next = ordered
			ordered = head
			head = next
		}
		for ordered != nil {
			e := ordered
			ordered = e.next
			e.next = nil
			e.pending.Store(false)
			e.run()
		}
	}
}
