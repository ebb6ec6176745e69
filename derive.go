package glint

// Typed constructors over the Derive extension point. Upstream failures
// pass straight through: a failing input makes the derived cell carry that
// failure until the input heals.

// Map derives a cell by applying fn to one upstream cell.
func Map[A, T comparable](from Cell[A], fn func(A) T) (*Derived[T], error) {
	return Derive(func() (T, error) {
		a, err := from.Value()
		if err != nil {
			var zero T
			return zero, err
		}
		return fn(a), nil
	}, from)
}

// Combine2 derives a cell from two upstream cells.
func Combine2[A, B, T comparable](a Cell[A], b Cell[B], fn func(A, B) T) (*Derived[T], error) {
	return Derive(func() (T, error) {
		var zero T
		av, err := a.Value()
		if err != nil {
			return zero, err
		}
		bv, err := b.Value()
		if err != nil {
			return zero, err
		}
		return fn(av, bv), nil
	}, a, b)
}

// Combine3 derives a cell from three upstream cells.
func Combine3[A, B, C, T comparable](a Cell[A], b Cell[B], c Cell[C], fn func(A, B, C) T) (*Derived[T], error) {
	return Derive(func() (T, error) {
		var zero T
		av, err := a.Value()
		if err != nil {
			return zero, err
		}
		bv, err := b.Value()
		if err != nil {
			return zero, err
		}
		cv, err := c.Value()
		if err != nil {
			return zero, err
		}
		return fn(av, bv, cv), nil
	}, a, b, c)
}
