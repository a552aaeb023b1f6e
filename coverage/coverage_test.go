package coverage

import (
	"math/rand"
	"testing"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"
)

type CoverageSuite struct{}

func TestCoverage(t *testing.T) {
	suite.RunTests(t, &CoverageSuite{})
}

func holes(set *Set, start uint64, length uint64) []Range {
	result := []Range{}
	set.FindHoles(start, length, func(start uint64, length uint64) bool {
		result = append(result, Range{Start: start, Length: length})
		return true
	})
	return result
}

func (CoverageSuite) TestAdjacentRangesMerge(t *testing.T) {
	set := &Set{}
	set.Add(0, 10)
	set.Add(10, 5)

	expect.Equal(t, 1, set.Len())
	expect.Equal(t, []Range{{Start: 0, Length: 15}}, set.Ranges())
}

func (CoverageSuite) TestAddIsIdempotent(t *testing.T) {
	set := &Set{}
	set.Add(4, 8)
	set.Add(20, 2)
	before := set.Ranges()

	set.Add(4, 8)
	set.Add(20, 2)
	expect.Equal(t, before, set.Ranges())
}

func (CoverageSuite) TestAddMergesOverlapping(t *testing.T) {
	set := &Set{}
	set.Add(10, 5)
	set.Add(30, 5)
	set.Add(0, 2)
	expect.Equal(t, 3, set.Len())

	// bridges [10, 15) and [30, 35)
	set.Add(12, 20)
	expect.Equal(
		t,
		[]Range{{Start: 0, Length: 2}, {Start: 10, Length: 25}},
		set.Ranges())
}

func (CoverageSuite) TestAddZeroLength(t *testing.T) {
	set := &Set{}
	set.Add(10, 0)
	expect.Equal(t, 0, set.Len())
}

func (CoverageSuite) TestRemoveSplits(t *testing.T) {
	set := &Set{}
	set.Add(0, 20)

	expect.True(t, set.Remove(5, 5))
	expect.Equal(
		t,
		[]Range{{Start: 0, Length: 5}, {Start: 10, Length: 10}},
		set.Ranges())

	expect.False(t, set.Remove(5, 5))
	expect.False(t, set.Remove(100, 5))

	expect.True(t, set.Remove(0, 100))
	expect.Equal(t, 0, set.Len())
}

func (CoverageSuite) TestIsCovered(t *testing.T) {
	set := &Set{}
	set.Add(10, 10)
	set.Add(30, 10)

	expect.True(t, set.IsCovered(10, 10))
	expect.True(t, set.IsCovered(12, 3))
	expect.False(t, set.IsCovered(9, 2))
	expect.False(t, set.IsCovered(15, 20))
	expect.False(t, set.IsCovered(20, 1))
}

func (CoverageSuite) TestIsOverlap(t *testing.T) {
	set := &Set{}
	set.Add(10, 10)

	expect.True(t, set.IsOverlap(5, 6))
	expect.True(t, set.IsOverlap(19, 10))
	expect.False(t, set.IsOverlap(20, 10))
	expect.False(t, set.IsOverlap(0, 10))
	expect.False(t, set.IsOverlap(12, 0))
}

func (CoverageSuite) TestFindHoles(t *testing.T) {
	set := &Set{}
	set.Add(2, 3)
	set.Add(8, 2)

	expect.Equal(
		t,
		[]Range{
			{Start: 0, Length: 2},
			{Start: 5, Length: 3},
			{Start: 10, Length: 6},
		},
		holes(set, 0, 16))

	expect.Equal(t, []Range{{Start: 5, Length: 1}}, holes(set, 3, 3))
	expect.Equal(t, []Range{}, holes(set, 2, 3))

	count := 0
	completed := set.FindHoles(0, 16, func(uint64, uint64) bool {
		count++
		return false
	})
	expect.False(t, completed)
	expect.Equal(t, 1, count)
}

func (CoverageSuite) TestFindRanges(t *testing.T) {
	set := &Set{}
	set.Add(8, 2)
	set.Add(2, 3)

	visited := []Range{}
	set.FindRanges(func(start uint64, length uint64) bool {
		visited = append(visited, Range{Start: start, Length: length})
		return true
	})
	expect.Equal(
		t,
		[]Range{{Start: 2, Length: 3}, {Start: 8, Length: 2}},
		visited)
}

func (CoverageSuite) TestAddAllRemoveAll(t *testing.T) {
	a := &Set{}
	a.Add(0, 10)

	b := &Set{}
	b.Add(5, 10)
	b.Add(40, 1)

	a.AddAll(b)
	expect.Equal(
		t,
		[]Range{{Start: 0, Length: 15}, {Start: 40, Length: 1}},
		a.Ranges())

	expect.True(t, a.RemoveAll(b))
	expect.Equal(t, []Range{{Start: 0, Length: 5}}, a.Ranges())
}

func (CoverageSuite) TestRandomizedAgainstBitmap(t *testing.T) {
	const size = 256

	rng := rand.New(rand.NewSource(42))
	for iteration := 0; iteration < 50; iteration++ {
		set := &Set{}
		bitmap := make([]bool, size)

		for op := 0; op < 40; op++ {
			start := uint64(rng.Intn(size - 1))
			length := uint64(rng.Intn(size-int(start))) + 1

			if rng.Intn(3) == 0 {
				set.Remove(start, length)
				for i := start; i < start+length; i++ {
					bitmap[i] = false
				}
			} else {
				set.Add(start, length)
				for i := start; i < start+length; i++ {
					bitmap[i] = true
				}
			}
		}

		ranges := set.Ranges()
		for i := 1; i < len(ranges); i++ {
			expect.True(t, ranges[i-1].End() < ranges[i].Start)
		}

		for i := 0; i < size; i++ {
			expect.Equal(t, bitmap[i], set.IsCovered(uint64(i), 1))
		}
	}
}
