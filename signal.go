package glint

import (
	"sync"
	"sync/atomic"
)

// sourceState is the atomically published value+version pair of a source
// cell. The version advances exactly when the value changes under ==.
type sourceState[T any] struct {
	value   T
	version uint64
}

// Source is a writable cell holding primitive state. Any goroutine holding
// a reference may write it; commits go through a CAS loop so concurrent
// writers never tear the value/version pair.
type Source[T comparable] struct {
	hub[T]
	state atomic.Pointer[sourceState[T]]
}

// Signal creates a source cell with an initial value.
func Signal[T comparable](initial T) *Source[T] {
	s := &Source[T]{}
	s.state.Store(&sourceState[T]{value: initial, version: 1})
	s.lastSent.Store(1)
	s.notify.run = s.notifyListeners
	return s
}

func (s *Source[T]) Value() (T, error) {
	if s.closed.Load() {
		var zero T
		return zero, ErrClosed
	}
	return s.state.Load().value, nil
}

func (s *Source[T]) Set(value T) {
	if s.closed.Load() {
		return
	}
	for {
		cur := s.state.Load()
		if cur.value == value {
			return
		}
		next := &sourceState[T]{value: value, version: cur.version + 1}
		if s.state.CompareAndSwap(cur, next) {
			break
		}
	}
	s.push()
}

func (s *Source[T]) Update(transform func(T) T) {
	if s.closed.Load() || transform == nil {
		return
	}
	for {
		cur := s.state.Load()
		value := transform(cur.value)
		if cur.value == value {
			return
		}
		next := &sourceState[T]{value: value, version: cur.version + 1}
		if s.state.CompareAndSwap(cur, next) {
			break
		}
	}
	s.push()
}

// push runs the two-tier dirty propagation for a committed write. The
// write is its own implicit batch: a bare Set flushes notifications
// immediately, a Set inside Batch only queues them.
func (s *Source[T]) push() {
	bumpGlobal()
	StartBatch()
	s.fanOutDirty()
	EndBatch()
}

func (s *Source[T]) Subscribe(fn Listener[T]) func() {
	if s.closed.Load() || fn == nil {
		return func() {}
	}
	entry, wasEmpty := s.listeners.add(fn)
	st := s.state.Load()
	if wasEmpty {
		s.lastSent.Store(st.version)
	}
	if entry.claim(st.version) {
		safeNotify(fn, st.value, nil)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.listeners.remove(entry)
		})
	}
}

func (s *Source[T]) IsClosed() bool {
	return s.closed.Load()
}

func (s *Source[T]) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.listeners.clear()
	s.targets.clear()
}

func (s *Source[T]) notifyListeners() {
	if s.closed.Load() {
		return
	}
	st := s.state.Load()
	s.deliver(st.version, st.value, nil)
}

func (s *Source[T]) version() uint64 {
	return s.state.Load().version
}

// validate is a no-op: a source's version is always authoritative.
func (s *Source[T]) validate() {}

func (s *Source[T]) addTarget(d Dependent) {
	s.targets.add(d)
}

func (s *Source[T]) removeTarget(d Dependent) {
	s.targets.remove(d)
}
