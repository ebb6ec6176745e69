package glint

import "sync/atomic"

// listenerEntry identifies one subscription so that unsubscribing removes
// exactly that registration, even when the same function is subscribed
// twice. seen is the highest cell version delivered to this entry.
type listenerEntry[T any] struct {
	fn   Listener[T]
	seen atomic.Uint64
}

// claim marks version as delivered to this entry. It returns false when the
// entry already saw this version or a newer one, which is what keeps a
// listener added between a batched write and its flush from hearing the
// same update twice: the immediate subscription delivery and the flush race
// for the claim and only one of them notifies.
func (e *listenerEntry[T]) claim(version uint64) bool {
	for {
		last := e.seen.Load()
		if last >= version {
			return false
		}
		if e.seen.CompareAndSwap(last, version) {
			return true
		}
	}
}

// listenerList is a copy-on-write collection of subscriptions. Mutations
// CAS a fresh slice into place; notification iterates a snapshot, so adds
// and removes are safe while a delivery round is in flight.
type listenerList[T any] struct {
	entries atomic.Pointer[[]*listenerEntry[T]]
}

func (l *listenerList[T]) add(fn Listener[T]) (e *listenerEntry[T], wasEmpty bool) {
	e = &listenerEntry[T]{fn: fn}
	for {
		cur := l.entries.Load()
		var next []*listenerEntry[T]
		if cur != nil {
			next = make([]*listenerEntry[T], len(*cur), len(*cur)+1)
			copy(next, *cur)
		}
		next = append(next, e)
		if l.entries.CompareAndSwap(cur, &next) {
			return e, cur == nil || len(*cur) == 0
		}
	}
}

func (l *listenerList[T]) remove(e *listenerEntry[T]) {
	for {
		cur := l.entries.Load()
		if cur == nil {
			return
		}
		idx := -1
		for i, x := range *cur {
			if x == e {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		next := make([]*listenerEntry[T], 0, len(*cur)-1)
		next = append(next, (*cur)[:idx]...)
		next = append(next, (*cur)[idx+1:]...)
		if l.entries.CompareAndSwap(cur, &next) {
			return
		}
	}
}

func (l *listenerList[T]) snapshot() []*listenerEntry[T] {
	cur := l.entries.Load()
	if cur == nil {
		return nil
	}
	return *cur
}

func (l *listenerList[T]) empty() bool {
	cur := l.entries.Load()
	return cur == nil || len(*cur) == 0
}

func (l *listenerList[T]) clear() {
	l.entries.Store(nil)
}

// targetList is the copy-on-write set of downstream dependents to inform
// when a cell's value might have changed. Not generic: push propagation
// only needs the Dependent capability.
type targetList struct {
	entries atomic.Pointer[[]Dependent]
}

func (l *targetList) add(d Dependent) {
	for {
		cur := l.entries.Load()
		var next []Dependent
		if cur != nil {
			next = make([]Dependent, len(*cur), len(*cur)+1)
			copy(next, *cur)
		}
		next = append(next, d)
		if l.entries.CompareAndSwap(cur, &next) {
			return
		}
	}
}

func (l *targetList) remove(d Dependent) {
	for {
		cur := l.entries.Load()
		if cur == nil {
			return
		}
		idx := -1
		for i, x := range *cur {
			if x == d {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		next := make([]Dependent, 0, len(*cur)-1)
		next = append(next, (*cur)[:idx]...)
		next = append(next, (*cur)[idx+1:]...)
		if l.entries.CompareAndSwap(cur, &next) {
			return
		}
	}
}

func (l *targetList) snapshot() []Dependent {
	cur := l.entries.Load()
	if cur == nil {
		return nil
	}
	return *cur
}

func (l *targetList) empty() bool {
	cur := l.entries.Load()
	return cur == nil || len(*cur) == 0
}

func (l *targetList) clear() {
	l.entries.Store(nil)
}

// hub is the fan-out half every cell shares: its subscriptions, its
// downstream dependents, its closed flag and its single queued
// notification effect. lastSent dedupes deliveries by cell version so one
// logical update notifies each listener at most once.
type hub[T any] struct {
	listeners listenerList[T]
	targets   targetList
	closed    atomic.Bool
	notify    effect
	lastSent  atomic.Uint64
}

// deliver notifies the current listener snapshot, unless version was
// already delivered. Concurrent flushes race on the CAS; the loser skips.
func (h *hub[T]) deliver(version uint64, v T, err error) {
	for {
		last := h.lastSent.Load()
		if last == version {
			return
		}
		if h.lastSent.CompareAndSwap(last, version) {
			break
		}
	}
	for _, e := range h.listeners.snapshot() {
		if e.claim(version) {
			safeNotify(e.fn, v, err)
		}
	}
}

// fanOutDirty is the push step for a committed write: direct dependents
// get the definite-dirty signal, and the cell's own notification effect is
// queued if anyone is listening.
func (h *hub[T]) fanOutDirty() {
	for _, t := range h.targets.snapshot() {
		t.markDirty()
	}
	if !h.listeners.empty() {
		queueEffect(&h.notify)
	}
}

// fanOutMaybe is the push step for a cell that just turned dirty itself:
// dependents further downstream only get the weaker go-check signal, which
// is what keeps a diamond from recomputing once per path.
func (h *hub[T]) fanOutMaybe() {
	for _, t := range h.targets.snapshot() {
		t.markMaybeDirty()
	}
	if !h.listeners.empty() {
		queueEffect(&h.notify)
	}
}

// safeNotify isolates listener panics: one observer failing must not stop
// delivery to the rest of the snapshot or corrupt the emitting cell.
func safeNotify[T any](fn Listener[T], v T, err error) {
	defer func() {
		_ = recover()
	}()
	fn(v, err)
}
