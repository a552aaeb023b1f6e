package checks

import (
	"fmt"

	"github.com/pattyshack/dwarflint/coverage"
	"github.com/pattyshack/dwarflint/lint"
)

// CUCoverage is the cu_coverage check's result: the addresses claimed by
// compile units through DW_AT_low_pc / DW_AT_high_pc pairs and range lists.
type CUCoverage struct {
	Coverage *coverage.Set
}

func newCUCoverage(session *lint.Session) (interface{}, error) {
	info, ok, err := lint.Get[*DebugInfo](session, DebugInfoCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no compile units", lint.ErrUnavailable)
	}

	// Range lists are optional; units may not use any.
	ranges, _, err := lint.Get[*RangeLists](session, DebugRangesCheck)
	if err != nil {
		return nil, err
	}

	return BuildCUCoverage(info, ranges), nil
}

// BuildCUCoverage merges info's address coverage with the addresses of
// every range list.  ranges may be nil.
func BuildCUCoverage(info *DebugInfo, ranges *RangeLists) *CUCoverage {
	result := &CUCoverage{
		Coverage: info.AddressCoverage.Clone(),
	}

	if ranges == nil {
		return result
	}

	for _, list := range ranges.Lists {
		for _, r := range list {
			result.Coverage.Add(r.Low, r.High-r.Low)
		}
	}

	return result
}
