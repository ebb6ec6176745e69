package glint

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when reading a cell after Close.
	ErrClosed = errors.New("glint: cell is closed")

	// ErrUnbound is returned when reading a proxy with no current target.
	// It is never cached; every read re-checks the binding.
	ErrUnbound = errors.New("glint: proxy is not bound to a target")

	// ErrWouldCycle is returned by BindTo when the proposed target chain
	// resolves back to the proxy being bound. The bind leaves all state
	// unchanged.
	ErrWouldCycle = errors.New("glint: bind would create a cycle")

	// ErrNilTarget is returned by BindTo for a nil target.
	ErrNilTarget = errors.New("glint: bind target is nil")

	// ErrNoSources is returned by Derive when no upstream cells are given.
	ErrNoSources = errors.New("glint: derived cell needs at least one source")

	// ErrNilCompute is returned by Derive for a nil compute function.
	ErrNilCompute = errors.New("glint: derived cell needs a compute function")
)

// PanicError carries a panic recovered from a user derivation. It is cached
// on the derived cell and re-raised on every read until an upstream version
// actually changes.
type PanicError struct {
	Recovered any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("glint: derivation panicked: %v", e.Recovered)
}
