package glint

// Dirtiness states of a derived cell. Transitions only ever move through
// CAS so concurrent markers cannot double-propagate the weaker
// maybe-dirty signal.
//
//	flagClean      cached value is valid, nothing to do on read
//	flagMaybeDirty something changed further upstream; pull-validate the
//	               chain before deciding whether to recompute
//	flagDirty      a direct upstream changed; recompute on next read
const (
	flagClean int32 = iota
	flagMaybeDirty
	flagDirty
)
