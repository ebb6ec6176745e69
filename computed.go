package glint

import (
	"sync"
	"sync/atomic"
)

// derivedState is the atomically published result of the last computation:
// the cached value or failure, this cell's own version, the upstream
// versions observed when it was computed, and the global version stamp
// that lets a clean read skip the upstream walk entirely.
type derivedState[T any] struct {
	value       T
	err         error
	version     uint64
	srcVersions []uint64
	global      uint64
}

// Derived is a cell computing its value from a fixed set of upstream
// cells. The upstream topology never changes after construction, so the
// static part of the graph is acyclic by construction; only proxies have
// dynamic topology.
//
// A derived cell stays detached from its sources until someone is
// interested in it (a listener, or a dependent derived cell); long chains
// are therefore cheap to build and reads on an unobserved chain validate
// purely by version comparison.
type Derived[T comparable] struct {
	hub[T]
	flag    atomic.Int32
	snap    atomic.Pointer[derivedState[T]]
	sources []Dependency
	compute func() (T, error)
	active  atomic.Bool
}

// Derive creates a derived cell over the given upstream cells. The compute
// function must be pure, reading its inputs through the cells it closes
// over; it is re-run only when an upstream version actually changed.
// Construction evaluates the derivation once and fails if it fails.
func Derive[T comparable](compute func() (T, error), from ...Dependency) (*Derived[T], error) {
	if compute == nil {
		return nil, ErrNilCompute
	}
	if len(from) == 0 {
		return nil, ErrNoSources
	}
	d := &Derived[T]{sources: from, compute: compute}
	d.notify.run = d.notifyListeners

	srcVers := d.captureVersions()
	global := globalVersion.Load()
	v, err := d.invoke()
	if err != nil {
		return nil, err
	}
	d.snap.Store(&derivedState[T]{
		value:       v,
		version:     1,
		srcVersions: srcVers,
		global:      global,
	})
	d.lastSent.Store(1)
	return d, nil
}

func (d *Derived[T]) Value() (T, error) {
	if d.closed.Load() {
		var zero T
		return zero, ErrClosed
	}
	d.validate()
	st := d.snap.Load()
	return st.value, st.err
}

// validate runs the pull half of the protocol until the cell is clean.
//
// Clean: if the global version moved, walk the sources and compare
// versions; an unchanged walk just refreshes the global stamp. MaybeDirty:
// validate the upstream chain first, then either upgrade to Dirty on a
// real version change or settle back to Clean and keep the cached value.
// Dirty: always recompute.
func (d *Derived[T]) validate() {
	for {
		switch d.flag.Load() {
		case flagClean:
			st := d.snap.Load()
			g := globalVersion.Load()
			if st.global == g {
				return
			}
			if !d.sourcesChanged(st) {
				refreshed := *st
				refreshed.global = g
				d.snap.CompareAndSwap(st, &refreshed)
				return
			}
			d.recompute()
			return
		case flagMaybeDirty:
			st := d.snap.Load()
			if d.sourcesChanged(st) {
				d.flag.CompareAndSwap(flagMaybeDirty, flagDirty)
				continue
			}
			if d.flag.CompareAndSwap(flagMaybeDirty, flagClean) {
				return
			}
			// lost against a concurrent marker; re-run the machine
		case flagDirty:
			d.recompute()
			return
		}
	}
}

// sourcesChanged validates every upstream cell, making its version
// authoritative, then compares against the versions cached at the last
// computation.
func (d *Derived[T]) sourcesChanged(st *derivedState[T]) bool {
	for i, s := range d.sources {
		s.validate()
		if s.version() != st.srcVersions[i] {
			return true
		}
	}
	return false
}

// captureVersions snapshots authoritative upstream versions. Captured
// before the derivation runs, so a write racing the computation leaves a
// stale capture behind and the next read revalidates; staleness here is
// always conservative, never a missed update.
func (d *Derived[T]) captureVersions() []uint64 {
	vers := make([]uint64, len(d.sources))
	for i, s := range d.sources {
		s.validate()
		vers[i] = s.version()
	}
	return vers
}

func (d *Derived[T]) recompute() {
	srcVers := d.captureVersions()
	global := globalVersion.Load()
	v, err := d.invoke()
	for {
		cur := d.snap.Load()
		// a concurrent recompute already published a result computed from
		// state at least as new; publishing over it would roll the cell
		// back to a coherent but stale snapshot
		if cur.global >= global {
			break
		}
		next := &derivedState[T]{
			value:       v,
			err:         err,
			version:     cur.version,
			srcVersions: srcVers,
			global:      global,
		}
		// a failure transition is an observable change and must advance
		// the version; equal values with no failures on either side leave
		// it alone
		if err != nil || cur.err != nil || cur.value != v {
			next.version++
		}
		if err != nil {
			// keep the last good value alongside the cached failure
			next.value = cur.value
		}
		if d.snap.CompareAndSwap(cur, next) {
			break
		}
	}
	// CAS rather than Store: a marker arriving after this point keeps the
	// flag Dirty. A marker that landed before it does get wiped, but its
	// write already bumped globalVersion past the captured stamp, so the
	// Clean fast path rejects the stamp and the next read still walks the
	// sources.
	d.flag.CompareAndSwap(flagDirty, flagClean)
}

// invoke runs the user derivation, converting panics into cached failures.
func (d *Derived[T]) invoke() (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Recovered: r}
		}
	}()
	return d.compute()
}

func (d *Derived[T]) markDirty() {
	for {
		f := d.flag.Load()
		if f == flagDirty {
			return
		}
		if d.flag.CompareAndSwap(f, flagDirty) {
			// only the Clean->Dirty transition fans out; an upgrade from
			// MaybeDirty already propagated the go-check signal
			if f == flagClean {
				d.fanOutMaybe()
			}
			return
		}
	}
}

func (d *Derived[T]) markMaybeDirty() {
	// the CAS doubles as the propagation guard: concurrent markers race
	// for the single Clean->MaybeDirty transition and only the winner
	// fans out
	if d.flag.CompareAndSwap(flagClean, flagMaybeDirty) {
		d.fanOutMaybe()
	}
}

func (d *Derived[T]) Subscribe(fn Listener[T]) func() {
	if d.closed.Load() || fn == nil {
		return func() {}
	}
	entry, wasEmpty := d.listeners.add(fn)
	d.ensureSubscribed()
	d.validate()
	st := d.snap.Load()
	if wasEmpty {
		d.lastSent.Store(st.version)
	}
	if entry.claim(st.version) {
		safeNotify(fn, st.value, st.err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			d.listeners.remove(entry)
			d.maybeUnsubscribe()
		})
	}
}

func (d *Derived[T]) IsClosed() bool {
	return d.closed.Load()
}

func (d *Derived[T]) Close() {
	if !d.closed.CompareAndSwap(false, true) {
		return
	}
	d.listeners.clear()
	d.targets.clear()
	d.teardown()
}

// ensureSubscribed attaches this cell to its upstream cells the first time
// anyone shows interest in it. Activation is one-shot: the CAS loser
// returns immediately. Post-condition re-check: if the cell was closed
// while attaching, the attachment is undone, so a cell is never left torn
// between subscribed and closed.
func (d *Derived[T]) ensureSubscribed() {
	if !d.active.CompareAndSwap(false, true) {
		return
	}
	for _, s := range d.sources {
		s.addTarget(d)
	}
	if d.closed.Load() {
		d.teardown()
	}
}

// maybeUnsubscribe detaches from upstream the moment the last listener and
// the last dependent are gone. Post-condition re-check: if interest
// reappeared during the teardown window, activation is re-run.
func (d *Derived[T]) maybeUnsubscribe() {
	if d.hasInterest() {
		return
	}
	d.teardown()
	if d.hasInterest() && !d.closed.Load() {
		d.ensureSubscribed()
	}
}

func (d *Derived[T]) teardown() {
	if !d.active.CompareAndSwap(true, false) {
		return
	}
	for _, s := range d.sources {
		s.removeTarget(d)
	}
}

func (d *Derived[T]) hasInterest() bool {
	return !d.listeners.empty() || !d.targets.empty()
}

// notifyListeners is the body of this cell's queued notification effect.
// It runs at flush time, so the validation here observes the final
// post-batch state of every upstream cell.
func (d *Derived[T]) notifyListeners() {
	if d.closed.Load() {
		return
	}
	d.validate()
	st := d.snap.Load()
	d.deliver(st.version, st.value, st.err)
}

func (d *Derived[T]) version() uint64 {
	return d.snap.Load().version
}

func (d *Derived[T]) addTarget(t Dependent) {
	d.targets.add(t)
	d.ensureSubscribed()
}

func (d *Derived[T]) removeTarget(t Dependent) {
	d.targets.remove(t)
	d.maybeUnsubscribe()
}
