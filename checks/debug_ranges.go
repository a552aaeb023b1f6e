package checks

import (
	"fmt"
	"sort"

	"github.com/pattyshack/dwarflint/coverage"
	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/dwarf"
	"github.com/pattyshack/dwarflint/lint"
)

const rangesCategory = diag.CategoryRanges

type AddressRange struct {
	Low  uint64
	High uint64
}

// RangeLists is the debug_ranges check's result.  Lists are keyed by their
// offset in .debug_ranges.  Addresses are absolute (base address applied).
type RangeLists struct {
	Lists map[uint64][]AddressRange

	Coverage *coverage.Set
}

func newRangeLists(session *lint.Session) (interface{}, error) {
	sections, ok, err := lint.Get[*Sections](session, ElfSectionsCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: elf sections not loaded", lint.ErrUnavailable)
	}

	info, ok, err := lint.Get[*DebugInfo](session, DebugInfoCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no range references", lint.ErrUnavailable)
	}

	data, ok := sections.Get(dwarf.ElfDebugRangesSection)
	if !ok {
		if len(info.RangeRefs) > 0 {
			diag.Errorf(
				session,
				info.RangeRefs[0].Where,
				rangesCategory|diag.CategoryImpact4,
				"%d references to missing %s section",
				len(info.RangeRefs),
				dwarf.ElfDebugRangesSection)
		}

		return nil, fmt.Errorf(
			"%w: no %s section",
			lint.ErrUnavailable,
			dwarf.ElfDebugRangesSection)
	}

	return CheckRangeLists(sections, data, info.RangeRefs, session), nil
}

// CheckRangeLists decodes every range list referenced by refs, in offset
// order, and reports the bytes of data no list covers.
func CheckRangeLists(
	sections *Sections,
	data *SectionData,
	refs []RangeReference,
	reporter diag.Reporter,
) *RangeLists {
	result := &RangeLists{
		Lists:    map[uint64][]AddressRange{},
		Coverage: &coverage.Set{},
	}

	sorted := make([]RangeReference, len(refs))
	copy(sorted, refs)
	sort.SliceStable(
		sorted,
		func(i int, j int) bool { return sorted[i].Target < sorted[j].Target })

	relocations := newRelocationCursor(sections, data, reporter)
	cursor := sections.Cursor(data)

	for _, ref := range sorted {
		_, ok := result.Lists[ref.Target]
		if ok {
			continue
		}

		where := diag.At(data.Name).AtUnit(ref.Target).ReferencedFrom(ref.Where)

		if ref.Target >= data.Size() {
			diag.Errorf(
				reporter,
				ref.Where,
				rangesCategory|diag.CategoryImpact4,
				"invalid reference to %s list %#x (section size %#x)",
				data.Name,
				ref.Target,
				data.Size())
			continue
		}

		if result.Coverage.IsCovered(ref.Target, 1) {
			diag.Warnf(
				reporter,
				where,
				rangesCategory|diag.CategoryImpact2,
				"range list overlaps with another list")
		}

		cursor.Position = int(ref.Target)
		list, ok := checkRangeList(
			cursor,
			relocations,
			ref.CompileUnit,
			where,
			reporter)
		result.Coverage.Add(ref.Target, uint64(cursor.Position)-ref.Target)
		if !ok {
			continue
		}

		result.Lists[ref.Target] = list
	}

	relocations.SkipRest()

	reportHoles(
		result.Coverage,
		data.Content,
		reporter,
		diag.At(data.Name),
		rangesCategory)

	return result
}

func checkRangeList(
	cursor *dwarf.Cursor,
	relocations *relocationCursor,
	unit *CompileUnit,
	where diag.Where,
	reporter diag.Reporter,
) (
	[]AddressRange,
	bool,
) {
	maxAddress := ^uint64(0)
	if unit.AddressSize == 4 {
		maxAddress = 0xffffffff
	}

	readAddress := func(what string) (uint64, bool) {
		offset := cursor.Offset()
		value, err := cursor.Address(unit.AddressSize)
		if err != nil {
			diag.Errorf(
				reporter,
				where,
				rangesCategory,
				"can't read %s: %s",
				what,
				err)
			return 0, false
		}

		relocation, ok := relocations.Next(offset, skipUnreferenced)
		if ok {
			relocations.Apply(
				relocation,
				unit.AddressSize,
				&value,
				where.AtOffset(offset),
				relocateAddress)
		}

		return value, true
	}

	base := unit.BaseAddress
	list := []AddressRange{}
	for {
		if cursor.HasReachedEnd() {
			diag.Errorf(
				reporter,
				where,
				rangesCategory|diag.CategoryImpact4,
				"range list not terminated")
			return list, false
		}

		entryWhere := where.AtOffset(cursor.Offset())

		begin, ok := readAddress("range start")
		if !ok {
			return list, false
		}

		end, ok := readAddress("range end")
		if !ok {
			return list, false
		}

		if begin == 0 && end == 0 {
			return list, true
		}

		if begin == maxAddress {
			base = end
			continue
		}

		if begin > end {
			diag.Errorf(
				reporter,
				entryWhere,
				rangesCategory|diag.CategoryImpact3,
				"range %s is reversed",
				coverage.FormatRange(end, begin))
			continue
		}

		if begin == end {
			diag.Warnf(
				reporter,
				entryWhere,
				rangesCategory|diag.CategoryBloat|diag.CategoryImpact1,
				"empty range at %#x",
				begin)
			continue
		}

		list = append(list, AddressRange{Low: base + begin, High: base + end})
	}
}
