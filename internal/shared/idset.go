package shared

import "slices"

// IDSet is a sorted set of identifiers. The zero value is an empty set.
type IDSet []int64

// NewIDSet builds a set from ids, dropping duplicates.
func NewIDSet(ids ...int64) IDSet {
	if len(ids) == 0 {
		return IDSet{}
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return IDSet(slices.Compact(out))
}

// Union returns a new set holding the members of both sets.
func (s IDSet) Union(other IDSet) IDSet {
	merged := make([]int64, 0, len(s)+len(other))
	merged = append(merged, s...)
	merged = append(merged, other...)
	return NewIDSet(merged...)
}

// Add returns a new set with ids added.
func (s IDSet) Add(ids ...int64) IDSet {
	return s.Union(NewIDSet(ids...))
}

// Contains reports whether id is a member.
func (s IDSet) Contains(id int64) bool {
	_, ok := slices.BinarySearch(s, id)
	return ok
}

// Len returns the number of members.
func (s IDSet) Len() int {
	return len(s)
}

// Slice returns the members as a plain slice, never nil.
func (s IDSet) Slice() []int64 {
	if s == nil {
		return []int64{}
	}
	return []int64(s)
}
