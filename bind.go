package glint

import (
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
)

// proxyState mirrors sourceState but carries a failure slot: a proxy
// forwards whatever its target delivers, including failures.
type proxyState[T any] struct {
	value   T
	err     error
	version uint64
}

// binding pairs a target with the forwarding subscription attached to it.
// The unsub pointer is stored after the subscription exists; a rebind that
// displaces the binding in that window finds nil and leaves cancellation
// to the binder's own post-condition re-check.
type binding[T any] struct {
	target Readable[T]
	unsub  atomic.Pointer[func()]
}

// Proxy is a mutable indirection cell: its target can be swapped at
// runtime with BindTo. The rest of the graph has fixed topology, so
// proxies are the only place a cycle can form and the only place a cycle
// check runs.
type Proxy[T comparable] struct {
	hub[T]
	state   atomic.Pointer[proxyState[T]]
	binding atomic.Pointer[binding[T]]
	owns    bool
}

// Bindable creates an unbound proxy cell.
func Bindable[T comparable]() *Proxy[T] {
	return newProxy[T](false)
}

// OwningBindable creates a proxy that closes a displaced target when
// rebound, unbound or closed.
func OwningBindable[T comparable]() *Proxy[T] {
	return newProxy[T](true)
}

func newProxy[T comparable](owns bool) *Proxy[T] {
	p := &Proxy[T]{owns: owns}
	var zero T
	p.state.Store(&proxyState[T]{value: zero, err: ErrUnbound, version: 1})
	p.lastSent.Store(1)
	p.notify.run = p.notifyListeners
	return p
}

// proxyChain is implemented by proxies so the cycle walk can traverse
// bindable-to-bindable links without knowing value types. Anything that is
// not a proxy is an acyclic terminus.
type proxyChain interface {
	chainTarget() any
}

func (p *Proxy[T]) chainTarget() any {
	bd := p.binding.Load()
	if bd == nil {
		return nil
	}
	return bd.target
}

// WouldCycle reports whether binding p to target would make the chain of
// proxy targets resolve back to p. Usable as a pre-flight check; BindTo
// performs the same walk itself.
func (p *Proxy[T]) WouldCycle(target Readable[T]) bool {
	return wouldCycle(p, target)
}

func wouldCycle(p proxyChain, target any) bool {
	seen := mapset.NewThreadUnsafeSet[proxyChain]()
	cur := target
	for cur != nil {
		pc, ok := cur.(proxyChain)
		if !ok {
			return false
		}
		if pc == p {
			return true
		}
		if !seen.Add(pc) {
			// revisited a proxy that is not p: a concurrent rebind is
			// reshaping the chain under us; that chain's own bind check
			// is responsible for it
			return false
		}
		cur = pc.chainTarget()
	}
	return false
}

// BindTo swaps the proxy's target. The rebind is refused, with all state
// unchanged, when the target chain resolves back to this proxy. On
// success the previous target is unsubscribed (and closed, for owning
// proxies) and the new target's current value is delivered synchronously
// to the proxy's listeners.
func (p *Proxy[T]) BindTo(target Readable[T]) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if target == nil {
		return ErrNilTarget
	}
	if wouldCycle(p, target) {
		return ErrWouldCycle
	}

	nb := &binding[T]{target: target}
	for {
		old := p.binding.Load()
		if p.binding.CompareAndSwap(old, nb) {
			p.release(old)
			break
		}
	}

	// the subscription's immediate delivery forwards the target's current
	// value through publish while nb is the live binding
	unsub := target.Subscribe(func(v T, err error) {
		if p.binding.Load() == nb {
			p.publish(v, err)
		}
	})
	nb.unsub.Store(&unsub)

	// post-condition re-checks: a concurrent rebind may have displaced nb
	// before the forwarding subscription existed, and the proxy may have
	// closed mid-bind
	if p.binding.Load() != nb || p.closed.Load() {
		unsub()
	}
	return nil
}

// Unbind detaches the current target, if any. Subsequent reads fail with
// ErrUnbound.
func (p *Proxy[T]) Unbind() {
	for {
		old := p.binding.Load()
		if old == nil {
			return
		}
		if p.binding.CompareAndSwap(old, nil) {
			p.release(old)
			break
		}
	}
	var zero T
	p.publish(zero, ErrUnbound)
}

// CurrentTarget returns the cell the proxy currently resolves to, or nil.
func (p *Proxy[T]) CurrentTarget() Readable[T] {
	bd := p.binding.Load()
	if bd == nil {
		return nil
	}
	return bd.target
}

func (p *Proxy[T]) IsBound() bool {
	return p.binding.Load() != nil
}

func (p *Proxy[T]) release(bd *binding[T]) {
	if bd == nil {
		return
	}
	if fn := bd.unsub.Load(); fn != nil {
		(*fn)()
	}
	if p.owns {
		bd.target.Close()
	}
}

// publish commits a forwarded value the way a source write commits: a
// version bump on real change, a global version bump, the two-tier push,
// all inside an implicit batch.
func (p *Proxy[T]) publish(v T, err error) {
	if p.closed.Load() {
		return
	}
	for {
		cur := p.state.Load()
		if cur.err == err && (err != nil || cur.value == v) {
			return
		}
		next := &proxyState[T]{value: v, err: err, version: cur.version + 1}
		if p.state.CompareAndSwap(cur, next) {
			break
		}
	}
	bumpGlobal()
	StartBatch()
	p.fanOutDirty()
	EndBatch()
}

// Value reads through to the current target. The unbound failure is
// re-evaluated on every call, never cached.
func (p *Proxy[T]) Value() (T, error) {
	var zero T
	if p.closed.Load() {
		return zero, ErrClosed
	}
	bd := p.binding.Load()
	if bd == nil {
		return zero, ErrUnbound
	}
	return bd.target.Value()
}

func (p *Proxy[T]) Subscribe(fn Listener[T]) func() {
	if p.closed.Load() || fn == nil {
		return func() {}
	}
	entry, wasEmpty := p.listeners.add(fn)
	p.validate()
	st := p.state.Load()
	if wasEmpty {
		p.lastSent.Store(st.version)
	}
	if entry.claim(st.version) {
		safeNotify(fn, st.value, st.err)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			p.listeners.remove(entry)
		})
	}
}

func (p *Proxy[T]) IsClosed() bool {
	return p.closed.Load()
}

func (p *Proxy[T]) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for {
		old := p.binding.Load()
		if old == nil {
			break
		}
		if p.binding.CompareAndSwap(old, nil) {
			p.release(old)
			break
		}
	}
	p.listeners.clear()
	p.targets.clear()
}

func (p *Proxy[T]) notifyListeners() {
	if p.closed.Load() {
		return
	}
	st := p.state.Load()
	p.deliver(st.version, st.value, st.err)
}

func (p *Proxy[T]) version() uint64 {
	return p.state.Load().version
}

// validate refreshes the forwarded state from the current target, making
// the proxy's version authoritative for dependents. The forwarding
// subscription normally keeps it current; this is the pull-side safety
// net.
func (p *Proxy[T]) validate() {
	if p.closed.Load() {
		return
	}
	bd := p.binding.Load()
	if bd == nil {
		return
	}
	v, err := bd.target.Value()
	p.publish(v, err)
}

func (p *Proxy[T]) addTarget(d Dependent) {
	p.targets.add(d)
}

func (p *Proxy[T]) removeTarget(d Dependent) {
	p.targets.remove(d)
}
