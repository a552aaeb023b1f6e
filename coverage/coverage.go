// Package coverage tracks which byte ranges of a section have been accounted
// for by a check.  It is used to find holes (unreferenced bytes) and
// overlaps across a whole section.
package coverage

import (
	"fmt"
	"math"
	"sort"
)

type Range struct {
	Start  uint64
	Length uint64
}

func (r Range) End() uint64 {
	return clampedEnd(r.Start, r.Length)
}

func (r Range) String() string {
	return FormatRange(r.Start, r.End())
}

func FormatRange(start uint64, end uint64) string {
	return fmt.Sprintf("[%#x, %#x)", start, end)
}

func clampedEnd(start uint64, length uint64) uint64 {
	if length > math.MaxUint64-start {
		return math.MaxUint64
	}
	return start + length
}

// Set is a sorted set of non-overlapping, non-adjacent ranges.  For every i,
// ranges[i].End() < ranges[i+1].Start.
type Set struct {
	ranges []Range
}

func (set *Set) Clone() *Set {
	ranges := make([]Range, len(set.ranges))
	copy(ranges, set.ranges)
	return &Set{ranges: ranges}
}

// Len returns the number of stored (merged) ranges.
func (set *Set) Len() int {
	return len(set.ranges)
}

func (set *Set) Ranges() []Range {
	ranges := make([]Range, len(set.ranges))
	copy(ranges, set.ranges)
	return ranges
}

// firstEndingAtOrAfter returns the index of the first range whose end is
// >= offset.
func (set *Set) firstEndingAtOrAfter(offset uint64) int {
	return sort.Search(
		len(set.ranges),
		func(i int) bool { return set.ranges[i].End() >= offset })
}

// firstEndingAfter returns the index of the first range whose end is
// > offset.
func (set *Set) firstEndingAfter(offset uint64) int {
	return sort.Search(
		len(set.ranges),
		func(i int) bool { return set.ranges[i].End() > offset })
}

func (set *Set) Add(start uint64, length uint64) {
	if length == 0 {
		return
	}

	end := clampedEnd(start, length)

	// Every range in [lo, hi) touches or overlaps [start, end).
	lo := set.firstEndingAtOrAfter(start)
	hi := lo
	for hi < len(set.ranges) && set.ranges[hi].Start <= end {
		hi++
	}

	if lo == hi {
		set.ranges = append(set.ranges, Range{})
		copy(set.ranges[lo+1:], set.ranges[lo:])
		set.ranges[lo] = Range{Start: start, Length: length}
		return
	}

	newStart := min(start, set.ranges[lo].Start)
	newEnd := max(end, set.ranges[hi-1].End())

	set.ranges[lo] = Range{Start: newStart, Length: newEnd - newStart}
	set.ranges = append(set.ranges[:lo+1], set.ranges[hi:]...)
}

func (set *Set) AddAll(other *Set) {
	for _, r := range other.ranges {
		set.Add(r.Start, r.Length)
	}
}

// Remove removes [start, start+length) from the set.  It returns true if any
// byte was actually covered.
func (set *Set) Remove(start uint64, length uint64) bool {
	if length == 0 {
		return false
	}

	end := clampedEnd(start, length)

	idx := set.firstEndingAfter(start)
	if idx == len(set.ranges) || set.ranges[idx].Start >= end {
		return false
	}

	result := make([]Range, 0, len(set.ranges)+1)
	result = append(result, set.ranges[:idx]...)

	for ; idx < len(set.ranges); idx++ {
		r := set.ranges[idx]
		if r.Start >= end {
			break
		}

		if r.Start < start {
			result = append(result, Range{Start: r.Start, Length: start - r.Start})
		}

		if r.End() > end {
			result = append(result, Range{Start: end, Length: r.End() - end})
		}
	}

	result = append(result, set.ranges[idx:]...)
	set.ranges = result
	return true
}

func (set *Set) RemoveAll(other *Set) bool {
	removed := false
	for _, r := range other.ranges {
		if set.Remove(r.Start, r.Length) {
			removed = true
		}
	}
	return removed
}

// IsCovered returns true if every byte in [start, start+length) is in the
// set.  length must not be zero.
func (set *Set) IsCovered(start uint64, length uint64) bool {
	if length == 0 {
		panic("coverage: IsCovered called with zero length")
	}

	idx := set.firstEndingAfter(start)
	if idx == len(set.ranges) {
		return false
	}

	r := set.ranges[idx]
	return r.Start <= start && clampedEnd(start, length) <= r.End()
}

// IsOverlap returns true if at least one byte of [start, start+length) is in
// the set.  A zero length range never overlaps.
func (set *Set) IsOverlap(start uint64, length uint64) bool {
	if length == 0 {
		return false
	}

	idx := set.firstEndingAfter(start)
	if idx == len(set.ranges) {
		return false
	}

	return set.ranges[idx].Start < clampedEnd(start, length)
}

// FindHoles calls visit once for each maximal uncovered sub-range of
// [start, start+length), in increasing offset order.  Iteration stops early
// if visit returns false, in which case FindHoles returns false.
func (set *Set) FindHoles(
	start uint64,
	length uint64,
	visit func(start uint64, length uint64) bool,
) bool {
	end := clampedEnd(start, length)

	pos := start
	for idx := set.firstEndingAfter(start); idx < len(set.ranges); idx++ {
		r := set.ranges[idx]
		if r.Start >= end {
			break
		}

		if r.Start > pos {
			if !visit(pos, r.Start-pos) {
				return false
			}
		}
		pos = r.End()
	}

	if pos < end {
		return visit(pos, end-pos)
	}

	return true
}

// FindRanges calls visit once per stored range, in increasing order.
func (set *Set) FindRanges(visit func(start uint64, length uint64) bool) bool {
	for _, r := range set.ranges {
		if !visit(r.Start, r.Length) {
			return false
		}
	}
	return true
}
