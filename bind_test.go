package glint_test

import (
	"testing"

	"github.com/glintlib/glint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reading an unbound proxy fails, and the failure is never cached
func TestProxyUnboundRead(t *testing.T) {
	p := glint.Bindable[int]()

	_, err := p.Value()
	assert.ErrorIs(t, err, glint.ErrUnbound)
	_, err = p.Value()
	assert.ErrorIs(t, err, glint.ErrUnbound)
	assert.False(t, p.IsBound())
	assert.Nil(t, p.CurrentTarget())
}

// binding delivers the new target's current value synchronously
func TestBindDeliversCurrentValue(t *testing.T) {
	p := glint.Bindable[int]()
	s := glint.Signal(7)

	var values []int
	var errs []error
	p.Subscribe(func(v int, err error) {
		values = append(values, v)
		errs = append(errs, err)
	})
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], glint.ErrUnbound)

	require.NoError(t, p.BindTo(s))
	require.Len(t, values, 2)
	assert.Equal(t, 7, values[1])
	assert.NoError(t, errs[1])

	v, err := p.Value()
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

// writes to the bound target flow through the proxy
func TestProxyForwardsTargetChanges(t *testing.T) {
	p := glint.Bindable[string]()
	s := glint.Signal("one")
	require.NoError(t, p.BindTo(s))

	var seen []string
	p.Subscribe(func(v string, err error) {
		require.NoError(t, err)
		seen = append(seen, v)
	})
	require.Equal(t, []string{"one"}, seen)

	s.Set("two")
	assert.Equal(t, []string{"one", "two"}, seen)
}

// rebinding switches to the new target and stops forwarding the old one
func TestRebindSwitchesTarget(t *testing.T) {
	p := glint.Bindable[int]()
	s1 := glint.Signal(1)
	s2 := glint.Signal(2)
	require.NoError(t, p.BindTo(s1))

	var seen []int
	p.Subscribe(func(v int, err error) {
		require.NoError(t, err)
		seen = append(seen, v)
	})
	require.Equal(t, []int{1}, seen)

	require.NoError(t, p.BindTo(s2))
	require.Equal(t, []int{1, 2}, seen)
	assert.Same(t, any(s2), any(p.CurrentTarget()))

	// the displaced target must no longer reach the proxy
	s1.Set(100)
	assert.Equal(t, []int{1, 2}, seen)

	s2.Set(20)
	assert.Equal(t, []int{1, 2, 20}, seen)
}

// binding a proxy to itself is refused
func TestSelfBindRejected(t *testing.T) {
	p := glint.Bindable[int]()
	err := p.BindTo(p)
	assert.ErrorIs(t, err, glint.ErrWouldCycle)
	assert.False(t, p.IsBound())
}

// a cycle through a chain of proxies is refused and leaves state unchanged
func TestTransitiveCycleRejected(t *testing.T) {
	s := glint.Signal(1)
	p1 := glint.Bindable[int]()
	p2 := glint.Bindable[int]()
	p3 := glint.Bindable[int]()

	require.NoError(t, p3.BindTo(s))
	require.NoError(t, p1.BindTo(p2))
	require.NoError(t, p2.BindTo(p3))

	err := p3.BindTo(p1)
	assert.ErrorIs(t, err, glint.ErrWouldCycle)
	assert.Same(t, any(s), any(p3.CurrentTarget()))

	v, err := p1.Value()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

// the predicate matches what BindTo enforces
func TestWouldCyclePredicate(t *testing.T) {
	s := glint.Signal(1)
	p1 := glint.Bindable[int]()
	p2 := glint.Bindable[int]()
	require.NoError(t, p1.BindTo(p2))

	assert.True(t, p1.WouldCycle(p1))
	assert.True(t, p2.WouldCycle(p1))
	assert.False(t, p1.WouldCycle(p2))
	assert.False(t, p1.WouldCycle(s))
}

// an owning proxy closes a displaced target
func TestOwningProxyClosesDisplaced(t *testing.T) {
	p := glint.OwningBindable[int]()
	s1 := glint.Signal(1)
	s2 := glint.Signal(2)

	require.NoError(t, p.BindTo(s1))
	require.NoError(t, p.BindTo(s2))
	assert.True(t, s1.IsClosed())
	assert.False(t, s2.IsClosed())

	p.Close()
	assert.True(t, s2.IsClosed())
}

// a non-owning proxy leaves displaced targets alone
func TestNonOwningProxyLeavesTargets(t *testing.T) {
	p := glint.Bindable[int]()
	s1 := glint.Signal(1)
	s2 := glint.Signal(2)

	require.NoError(t, p.BindTo(s1))
	require.NoError(t, p.BindTo(s2))
	assert.False(t, s1.IsClosed())

	p.Close()
	assert.False(t, s2.IsClosed())
}

// unbinding detaches and surfaces the unbound failure to subscribers
func TestUnbind(t *testing.T) {
	p := glint.Bindable[int]()
	s := glint.Signal(5)
	require.NoError(t, p.BindTo(s))

	var errs []error
	p.Subscribe(func(v int, err error) {
		errs = append(errs, err)
	})
	require.Equal(t, []error{nil}, errs)

	p.Unbind()
	assert.False(t, p.IsBound())
	require.Len(t, errs, 2)
	assert.ErrorIs(t, errs[1], glint.ErrUnbound)

	_, err := p.Value()
	assert.ErrorIs(t, err, glint.ErrUnbound)

	// the old target no longer reaches the proxy
	s.Set(9)
	assert.Len(t, errs, 2)
}

// a proxy can feed derived cells, and rebinding flows through them
func TestProxyAsDependency(t *testing.T) {
	s1 := glint.Signal(2)
	s2 := glint.Signal(30)
	p := glint.Bindable[int]()
	require.NoError(t, p.BindTo(s1))

	d, err := glint.Map[int, int](p, func(v int) int { return v * 10 })
	require.NoError(t, err)

	var seen []int
	d.Subscribe(func(v int, err error) {
		require.NoError(t, err)
		seen = append(seen, v)
	})
	require.Equal(t, []int{20}, seen)

	s1.Set(3)
	require.Equal(t, []int{20, 30}, seen)

	require.NoError(t, p.BindTo(s2))
	assert.Equal(t, []int{20, 30, 300}, seen)
}

// closed proxies refuse binds and drop everything
func TestProxyClose(t *testing.T) {
	p := glint.Bindable[int]()
	s := glint.Signal(1)
	require.NoError(t, p.BindTo(s))

	p.Close()
	p.Close()
	assert.True(t, p.IsClosed())
	assert.False(t, p.IsBound())

	_, err := p.Value()
	assert.ErrorIs(t, err, glint.ErrClosed)
	assert.ErrorIs(t, p.BindTo(s), glint.ErrClosed)
}
