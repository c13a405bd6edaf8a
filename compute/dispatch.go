package compute

import "math"

// DispatchDescriptor is a checked problem decomposition: Total elements in
// Groups work-groups of PerGroup items. The zero value is invalid; use
// NewDispatchDescriptor.
type DispatchDescriptor struct {
	total    uint64
	perGroup uint32
	groups   uint32
}

// NewDispatchDescriptor rejects totals that are zero or not an exact multiple
// of perGroup. Nothing is truncated or padded.
func NewDispatchDescriptor(total uint64, perGroup uint32) (DispatchDescriptor, error) {
	const op = "dispatch.describe"
	if perGroup == 0 {
		return DispatchDescriptor{}, newError(KindDimensionMismatch, op, "per-group item count must be positive")
	}
	if total == 0 {
		return DispatchDescriptor{}, newError(KindDimensionMismatch, op, "element count must be positive")
	}
	if total%uint64(perGroup) != 0 {
		return DispatchDescriptor{}, newError(KindDimensionMismatch, op,
			"%d elements is not a multiple of the per-group count %d", total, perGroup)
	}
	groups := total / uint64(perGroup)
	if groups > math.MaxUint32 {
		return DispatchDescriptor{}, newError(KindDimensionMismatch, op, "%d work-groups exceeds the dispatch limit", groups)
	}
	return DispatchDescriptor{total: total, perGroup: perGroup, groups: uint32(groups)}, nil
}

func (d DispatchDescriptor) Total() uint64    { return d.total }
func (d DispatchDescriptor) PerGroup() uint32 { return d.perGroup }
func (d DispatchDescriptor) Groups() uint32   { return d.groups }

func (d DispatchDescriptor) valid() bool { return d.perGroup != 0 && d.total != 0 }
