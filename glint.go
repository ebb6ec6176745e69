// Package glint is a fine-grained reactive state graph: source cells hold
// primary state, derived cells are pure derivations over fixed upstream
// cells, and proxy cells are runtime-rebindable indirections. Observers
// never see a derived value computed from a mix of old and new upstream
// state, and each observer receives at most one notification per logical
// update, even across diamond-shaped dependency graphs.
//
// All cell state is managed with atomics and CAS loops; no cell holds a
// mutex, so an arbitrarily shaped graph cannot deadlock on lock ordering.
// Propagation is hybrid push+pull: writes eagerly mark dependents dirty,
// reads lazily validate against per-cell version counters before deciding
// whether any recomputation is needed.
package glint

// Listener receives a cell's current value, or the failure that produced it.
// A listener is invoked once on subscription and then once per logical
// change of the cell it observes.
type Listener[T any] func(value T, err error)

// Readable is the observer-facing surface every cell exposes.
type Readable[T any] interface {
	// Value returns the cell's current value, validating any stale
	// derivations on the way. It fails if the cell is closed, if a
	// derivation failed, or if an unbound proxy is read.
	Value() (T, error)

	// Subscribe registers a listener. The listener immediately receives the
	// current value or failure, then one delivery per subsequent change.
	// The returned function detaches the listener and is idempotent.
	Subscribe(fn Listener[T]) (unsubscribe func())

	// IsClosed reports whether Close has been called.
	IsClosed() bool

	// Close permanently retires the cell. Idempotent. A closed cell drops
	// its listeners and dependents, fails all reads and ignores writes.
	Close()
}

// Writable is a readable cell whose value callers can replace.
type Writable[T any] interface {
	Readable[T]

	// Set replaces the value. No-op when closed or when the new value
	// equals the current one.
	Set(value T)

	// Update applies transform atomically in a read-transform-write retry
	// loop. No-op when closed or when transform returns the current value.
	Update(transform func(T) T)
}

// Cell is a readable cell that can also feed derived cells.
type Cell[T any] interface {
	Readable[T]
	Dependency
}

// Dependency is the upstream capability a cell exposes to cells derived
// from it. There are exactly two kinds of upstream node: primitive sources,
// whose version is always authoritative, and derived cells, which must be
// validated before their version can be trusted.
type Dependency interface {
	// version returns the cell's change counter. It advances exactly when
	// the held value (or failure state) actually changes.
	version() uint64

	// validate brings the version to an authoritative state. No-op for
	// primitive sources.
	validate()

	addTarget(d Dependent)
	removeTarget(d Dependent)
}

// Dependent is the downstream capability consumed during push propagation.
type Dependent interface {
	// markDirty signals that a direct upstream definitely changed.
	markDirty()

	// markMaybeDirty signals that something changed further upstream; the
	// cell must pull-validate before deciding whether to recompute.
	markMaybeDirty()
}

var (
	_ Writable[int] = (*Source[int])(nil)
	_ Cell[int]     = (*Source[int])(nil)
	_ Cell[int]     = (*Derived[int])(nil)
	_ Cell[int]     = (*Proxy[int])(nil)
	_ Dependent     = (*Derived[int])(nil)
)
