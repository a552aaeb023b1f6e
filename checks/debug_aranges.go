package checks

import (
	"errors"
	"fmt"

	"fortio.org/safecast"

	"github.com/pattyshack/dwarflint/coverage"
	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/dwarf"
	"github.com/pattyshack/dwarflint/lint"
)

const (
	arangesCategory = diag.CategoryAranges

	arangesVersion = 2
)

// AddressRangeTable is one .debug_aranges unit.
type AddressRangeTable struct {
	Offset      uint64
	UnitOffset  uint64
	AddressSize int

	Ranges []AddressRange
}

// AddressRangeTables is the debug_aranges check's result.
type AddressRangeTables struct {
	Tables []*AddressRangeTable

	// Addresses covered by every table.
	Coverage *coverage.Set
}

func newAddressRangeTables(session *lint.Session) (interface{}, error) {
	sections, ok, err := lint.Get[*Sections](session, ElfSectionsCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: elf sections not loaded", lint.ErrUnavailable)
	}

	data, ok := sections.Get(dwarf.ElfDebugAddressRangeSection)
	if !ok {
		return nil, fmt.Errorf(
			"%w: no %s section",
			lint.ErrUnavailable,
			dwarf.ElfDebugAddressRangeSection)
	}

	// Without debug info, only the tables' own structure is checked.
	info, _, err := lint.Get[*DebugInfo](session, DebugInfoCheck)
	if err != nil {
		return nil, err
	}

	cuCoverage, _, err := lint.Get[*CUCoverage](session, CUCoverageCheck)
	if err != nil {
		return nil, err
	}

	tables, complete := CheckAddressRanges(sections, data, info, session)
	if !complete {
		return nil, fmt.Errorf(
			"%w: %s could not be scanned to the end",
			lint.ErrUnavailable,
			data.Name)
	}

	if cuCoverage != nil {
		CompareCoverage(cuCoverage, tables, session)
	}

	return tables, nil
}

type arangesChecker struct {
	diag.Reporter

	sections    *Sections
	data        *SectionData
	relocations *relocationCursor

	// nil when debug info is unavailable.
	units map[uint64]*CompileUnit

	// CU offset -> offset of the first table describing it
	described map[uint64]uint64

	result *AddressRangeTables
}

// CheckAddressRanges walks every table in data, validating headers and
// tuples, and matches each table with the unit it describes.  info may be
// nil.  The returned bool is false if a table length could not be trusted.
func CheckAddressRanges(
	sections *Sections,
	data *SectionData,
	info *DebugInfo,
	reporter diag.Reporter,
) (
	*AddressRangeTables,
	bool,
) {
	checker := &arangesChecker{
		Reporter:    reporter,
		sections:    sections,
		data:        data,
		relocations: newRelocationCursor(sections, data, reporter),
		described:   map[uint64]uint64{},
		result: &AddressRangeTables{
			Coverage: &coverage.Set{},
		},
	}

	if info != nil {
		checker.units = map[uint64]*CompileUnit{}
		for _, unit := range info.Units {
			checker.units[unit.Offset] = unit
		}
	}

	complete := checker.scan()
	if complete {
		checker.relocations.SkipRest()
	}

	return checker.result, complete
}

func (checker *arangesChecker) scan() bool {
	cursor := checker.sections.Cursor(checker.data)

	for !cursor.HasReachedEnd() {
		tableStart := cursor.Position
		where := diag.At(checker.data.Name).AtUnit(uint64(tableStart))

		length, is64, err := cursor.InitialLength()
		if err != nil {
			if errors.Is(err, dwarf.ErrReservedLength) {
				diag.Errorf(
					checker,
					where,
					arangesCategory|diag.CategoryHeader,
					"unrecognized table length escape value: %s",
					err)
			} else {
				diag.Errorf(
					checker,
					where,
					arangesCategory|diag.CategoryHeader,
					"can't read table length: %s",
					err)
			}
			return false
		}

		size, err := safecast.Conv[int](length)
		if err != nil || size > cursor.Remaining() {
			diag.Errorf(
				checker,
				where,
				arangesCategory|diag.CategoryHeader,
				"not enough data for next table (length %#x, %d bytes left)",
				length,
				cursor.Remaining())
			return false
		}

		tableEnd := cursor.Position + size
		sub, err := cursor.Sub(cursor.Position, tableEnd)
		if err != nil {
			diag.Errorf(checker, where, arangesCategory, "%s", err)
			return false
		}

		table := checker.checkTable(tableStart, is64, sub, where)
		if table != nil {
			checker.result.Tables = append(checker.result.Tables, table)
		}

		err = cursor.SeekTo(tableEnd)
		if err != nil {
			panic("should never happen")
		}
	}

	return true
}

func (checker *arangesChecker) checkTable(
	tableStart int,
	is64 bool,
	cursor *dwarf.Cursor,
	where diag.Where,
) *AddressRangeTable {
	headerCategory := arangesCategory | diag.CategoryHeader

	version, err := cursor.U16()
	if err != nil {
		diag.Errorf(checker, where, headerCategory, "can't read version: %s", err)
		return nil
	}

	if version != arangesVersion {
		diag.Errorf(
			checker,
			where,
			headerCategory,
			"unsupported version %d (supported: %d)",
			version,
			arangesVersion)
		return nil
	}

	table := &AddressRangeTable{
		Offset: uint64(tableStart),
	}

	unitFieldOffset := cursor.Offset()
	table.UnitOffset, err = cursor.SectionOffset(is64)
	if err != nil {
		diag.Errorf(
			checker,
			where,
			headerCategory,
			"can't read debug info offset: %s",
			err)
		return nil
	}

	checker.relocations.Relocate(
		unitFieldOffset,
		offsetSize(is64),
		&table.UnitOffset,
		where,
		relocateOffsetInto(dwarf.ElfDebugInformationSection),
		"debug info offset",
		arangesCategory)

	addressSize, err := cursor.U8()
	if err != nil {
		diag.Errorf(
			checker,
			where,
			headerCategory,
			"can't read address size: %s",
			err)
		return nil
	}

	table.AddressSize = int(addressSize)
	if table.AddressSize != 4 && table.AddressSize != 8 {
		diag.Errorf(
			checker,
			where,
			headerCategory,
			"invalid address size %d",
			addressSize)
		return nil
	}

	segmentSize, err := cursor.U8()
	if err != nil {
		diag.Errorf(
			checker,
			where,
			headerCategory,
			"can't read segment size: %s",
			err)
		return nil
	}

	if segmentSize != 0 {
		diag.Errorf(
			checker,
			where,
			headerCategory,
			"segment size %d is not supported",
			segmentSize)
		return nil
	}

	checker.matchUnit(table, where)

	// Tuples start at a multiple of twice the address size, relative to the
	// table start.
	tupleSize := 2 * table.AddressSize
	padding := (tupleSize - (cursor.Position-tableStart)%tupleSize) % tupleSize
	if padding > cursor.Remaining() {
		diag.Errorf(
			checker,
			where,
			headerCategory,
			"not enough data for the padding before the first tuple")
		return table
	}

	paddingWhere := where.AtOffset(cursor.Offset())
	content, err := cursor.Bytes(padding)
	if err != nil {
		panic("should never happen")
	}

	for _, b := range content {
		if b != 0 {
			diag.Warnf(
				checker,
				paddingWhere,
				headerCategory|diag.CategoryImpact2,
				"non-zero byte in the padding before the first tuple")
			break
		}
	}

	checker.checkTuples(table, cursor, where)
	return table
}

// matchUnit checks the table against the unit it claims to describe.
func (checker *arangesChecker) matchUnit(
	table *AddressRangeTable,
	where diag.Where,
) {
	if checker.units == nil {
		return
	}

	unit, ok := checker.units[table.UnitOffset]
	if !ok {
		diag.Errorf(
			checker,
			where,
			arangesCategory|diag.CategoryImpact4,
			"couldn't find CU at %#x",
			table.UnitOffset)
		return
	}

	if unit.AddressSize != table.AddressSize {
		diag.Errorf(
			checker,
			where,
			arangesCategory|diag.CategoryImpact2,
			"address size %d doesn't match the CU's address size %d",
			table.AddressSize,
			unit.AddressSize)
	}

	first, ok := checker.described[table.UnitOffset]
	if ok {
		diag.Warnf(
			checker,
			where,
			arangesCategory|diag.CategoryImpact2,
			"CU %#x is already described by the table at %#x",
			table.UnitOffset,
			first)
		return
	}
	checker.described[table.UnitOffset] = table.Offset
}

func (checker *arangesChecker) checkTuples(
	table *AddressRangeTable,
	cursor *dwarf.Cursor,
	where diag.Where,
) {
	for {
		if cursor.HasReachedEnd() {
			diag.Errorf(
				checker,
				where,
				arangesCategory|diag.CategoryImpact4,
				"address range table not terminated")
			return
		}

		tupleOffset := cursor.Offset()
		tupleWhere := where.AtOffset(tupleOffset)

		address, err := cursor.Address(table.AddressSize)
		if err != nil {
			diag.Errorf(
				checker,
				tupleWhere,
				arangesCategory,
				"can't read address: %s",
				err)
			return
		}

		length, err := cursor.Address(table.AddressSize)
		if err != nil {
			diag.Errorf(
				checker,
				tupleWhere,
				arangesCategory,
				"can't read length: %s",
				err)
			return
		}

		if address == 0 && length == 0 {
			break
		}

		checker.relocations.Relocate(
			tupleOffset,
			table.AddressSize,
			&address,
			tupleWhere,
			relocateAddress,
			"address",
			arangesCategory)

		if length == 0 {
			diag.Warnf(
				checker,
				tupleWhere,
				arangesCategory|diag.CategoryBloat|diag.CategoryImpact1,
				"empty range at %#x",
				address)
			continue
		}

		if address+length < address {
			diag.Errorf(
				checker,
				tupleWhere,
				arangesCategory|diag.CategoryImpact3,
				"range at %#x of length %#x overflows the address space",
				address,
				length)
			continue
		}

		if checker.result.Coverage.IsOverlap(address, length) {
			diag.Warnf(
				checker,
				tupleWhere,
				arangesCategory|diag.CategoryImpact2,
				"range %s overlaps with another range",
				coverage.FormatRange(address, address+length))
		}

		checker.result.Coverage.Add(address, length)
		table.Ranges = append(
			table.Ranges,
			AddressRange{Low: address, High: address + length})
	}

	if !cursor.HasReachedEnd() {
		checkZeroPadding(cursor, cursor.End, checker, where, arangesCategory)
	}
}

// CompareCoverage reports addresses claimed by compile units but missing
// from the address range tables, and vice versa.
func CompareCoverage(
	units *CUCoverage,
	tables *AddressRangeTables,
	reporter diag.Reporter,
) {
	where := diag.At(dwarf.ElfDebugAddressRangeSection)

	reportUncovered := func(covered *coverage.Set, other *coverage.Set, format string) {
		missing := covered.Clone()
		missing.RemoveAll(other)
		missing.FindRanges(func(start uint64, length uint64) bool {
			diag.Warnf(
				reporter,
				where,
				arangesCategory|diag.CategoryImpact3,
				format,
				coverage.FormatRange(start, start+length))
			return true
		})
	}

	reportUncovered(
		units.Coverage,
		tables.Coverage,
		"addresses %s are covered by CUs, but not by aranges")
	reportUncovered(
		tables.Coverage,
		units.Coverage,
		"addresses %s are covered by aranges, but not by CUs")
}
