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
	infoCategory = diag.CategoryInfo

	minInfoVersion = 2
	maxInfoVersion = 4
)

// Reference records that the DIE at Where refers to offset Target of some
// other section.
type Reference struct {
	diag.Where
	Target uint64
}

type RangeReference struct {
	Reference
	*CompileUnit
}

type CompileUnit struct {
	Offset             uint64
	End                uint64
	Version            uint16
	Is64               bool
	AddressSize        int
	AbbreviationOffset uint64

	// The root DIE's DW_AT_low_pc, used as the base address of range lists.
	BaseAddress uint64
}

// pcRange collects a DIE's DW_AT_low_pc and DW_AT_high_pc.
type pcRange struct {
	low     uint64
	high    uint64
	hasLow  bool
	hasHigh bool

	// DW_AT_high_pc of a constant class is an offset from DW_AT_low_pc.
	highIsOffset bool
}

// DebugInfo is the debug_info check's result.
type DebugInfo struct {
	Units []*CompileUnit

	LineRefs  []Reference
	StrRefs   []Reference
	RangeRefs []RangeReference

	// .debug_info bytes spanned by units.
	Coverage *coverage.Set

	// Addresses covered by DW_AT_low_pc / DW_AT_high_pc pairs.
	AddressCoverage *coverage.Set
}

func newDebugInfo(session *lint.Session) (interface{}, error) {
	sections, ok, err := lint.Get[*Sections](session, ElfSectionsCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: elf sections not loaded", lint.ErrUnavailable)
	}

	abbrevs, ok, err := lint.Get[AbbreviationTables](session, DebugAbbrevCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no abbreviation tables", lint.ErrUnavailable)
	}

	data, ok := sections.Get(dwarf.ElfDebugInformationSection)
	if !ok {
		return nil, fmt.Errorf(
			"%w: no %s section",
			lint.ErrUnavailable,
			dwarf.ElfDebugInformationSection)
	}

	info, complete := CheckDebugInfo(sections, data, abbrevs, session)
	if !complete {
		return nil, fmt.Errorf(
			"%w: %s could not be scanned to the end",
			lint.ErrUnavailable,
			data.Name)
	}

	return info, nil
}

type infoChecker struct {
	diag.Reporter

	sections    *Sections
	data        *SectionData
	abbrevs     AbbreviationTables
	relocations *relocationCursor

	info *DebugInfo

	entries    map[uint64]struct{}
	globalRefs []Reference
}

// CheckDebugInfo walks every unit in data, validating unit headers, DIE
// structure and attribute forms, and collects references into other debug
// sections.  The returned bool is false if a unit length could not be
// trusted.
func CheckDebugInfo(
	sections *Sections,
	data *SectionData,
	abbrevs AbbreviationTables,
	reporter diag.Reporter,
) (
	*DebugInfo,
	bool,
) {
	checker := &infoChecker{
		Reporter:    reporter,
		sections:    sections,
		data:        data,
		abbrevs:     abbrevs,
		relocations: newRelocationCursor(sections, data, reporter),
		info: &DebugInfo{
			Coverage:        &coverage.Set{},
			AddressCoverage: &coverage.Set{},
		},
		entries: map[uint64]struct{}{},
	}

	complete := checker.scan()

	for _, ref := range checker.globalRefs {
		_, ok := checker.entries[ref.Target]
		if !ok {
			diag.Errorf(
				checker,
				ref.Where,
				infoCategory|diag.CategoryImpact4,
				"unresolved reference to DIE %#x",
				ref.Target)
		}
	}

	if complete {
		checker.relocations.SkipRest()
	}

	return checker.info, complete
}

func (checker *infoChecker) scan() bool {
	cursor := checker.sections.Cursor(checker.data)

	for !cursor.HasReachedEnd() {
		unitStart := cursor.Position
		where := diag.At(checker.data.Name).AtUnit(uint64(unitStart))

		length, is64, err := cursor.InitialLength()
		if err != nil {
			if errors.Is(err, dwarf.ErrReservedLength) {
				diag.Errorf(
					checker,
					where,
					infoCategory|diag.CategoryHeader,
					"unrecognized unit length escape value: %s",
					err)
			} else {
				diag.Errorf(
					checker,
					where,
					infoCategory|diag.CategoryHeader,
					"can't read unit length: %s",
					err)
			}
			return false
		}

		size, err := safecast.Conv[int](length)
		if err != nil || size > cursor.Remaining() {
			diag.Errorf(
				checker,
				where,
				infoCategory|diag.CategoryHeader,
				"not enough data for next unit (length %#x, %d bytes left)",
				length,
				cursor.Remaining())
			return false
		}

		unitEnd := cursor.Position + size
		checker.info.Coverage.Add(uint64(unitStart), uint64(unitEnd-unitStart))

		sub, err := cursor.Sub(cursor.Position, unitEnd)
		if err != nil {
			diag.Errorf(checker, where, infoCategory, "%s", err)
			return false
		}

		unit := &CompileUnit{
			Offset: uint64(unitStart),
			End:    uint64(unitEnd),
			Is64:   is64,
		}
		checker.checkUnit(unit, sub, where)

		err = cursor.SeekTo(unitEnd)
		if err != nil {
			panic("should never happen")
		}
	}

	return true
}

func (checker *infoChecker) checkUnit(
	unit *CompileUnit,
	cursor *dwarf.Cursor,
	where diag.Where,
) {
	headerCategory := infoCategory | diag.CategoryHeader

	var err error
	unit.Version, err = cursor.U16()
	if err != nil {
		diag.Errorf(checker, where, headerCategory, "can't read version: %s", err)
		return
	}

	if unit.Version < minInfoVersion || unit.Version > maxInfoVersion {
		diag.Errorf(
			checker,
			where,
			headerCategory,
			"unsupported version %d (supported: %d through %d)",
			unit.Version,
			minInfoVersion,
			maxInfoVersion)
		return
	}

	abbrevFieldOffset := cursor.Offset()
	unit.AbbreviationOffset, err = cursor.SectionOffset(unit.Is64)
	if err != nil {
		diag.Errorf(
			checker,
			where,
			headerCategory,
			"can't read abbreviation offset: %s",
			err)
		return
	}

	checker.relocate(
		abbrevFieldOffset,
		offsetSize(unit.Is64),
		&unit.AbbreviationOffset,
		where,
		relocateOffsetInto(dwarf.ElfDebugAbbreviationSection),
		"abbreviation offset")

	addressSize, err := cursor.U8()
	if err != nil {
		diag.Errorf(
			checker,
			where,
			headerCategory,
			"can't read address size: %s",
			err)
		return
	}

	unit.AddressSize = int(addressSize)
	if unit.AddressSize != 4 && unit.AddressSize != 8 {
		diag.Errorf(
			checker,
			where,
			headerCategory,
			"invalid address size %d",
			addressSize)
		return
	}

	table, ok := checker.abbrevs[unit.AbbreviationOffset]
	if !ok {
		diag.Errorf(
			checker,
			where,
			headerCategory|diag.CategoryAbbrev,
			"couldn't find abbreviation table at %#x",
			unit.AbbreviationOffset)
		return
	}

	checker.info.Units = append(checker.info.Units, unit)

	unitEntries := map[uint64]struct{}{}
	localRefs := []Reference{}

	depth := 0
	for !cursor.HasReachedEnd() {
		entryOffset := cursor.Offset()
		entryWhere := where.AtOffset(entryOffset)

		code, ok := readULEB128(
			cursor,
			checker,
			entryWhere,
			infoCategory,
			"abbrev code")
		if !ok {
			return
		}

		if code == 0 {
			if depth == 0 {
				diag.Errorf(
					checker,
					entryWhere,
					infoCategory,
					"unit starts with a null DIE")
				return
			}

			depth--
			if depth == 0 {
				break
			}
			continue
		}

		abbrev, ok := table.Abbreviations[code]
		if !ok {
			diag.Errorf(
				checker,
				entryWhere,
				infoCategory|diag.CategoryAbbrev,
				"abbrev code %d not found in table %#x",
				code,
				table.Offset)
			return
		}

		unitEntries[entryOffset] = struct{}{}
		checker.entries[entryOffset] = struct{}{}

		isRoot := entryOffset == abbrevFieldOffset+uint64(offsetSize(unit.Is64))+1
		if isRoot &&
			abbrev.Tag != dwarf.DW_TAG_compile_unit &&
			abbrev.Tag != dwarf.DW_TAG_partial_unit {

			diag.Warnf(
				checker,
				entryWhere,
				infoCategory|diag.CategoryImpact3,
				"unit's root DIE is %s, expected %s",
				abbrev.Tag,
				dwarf.DW_TAG_compile_unit)
		}

		pc := pcRange{}
		for _, spec := range abbrev.AttributeSpecs {
			ref, kind, ok := checker.readAttribute(
				unit,
				cursor,
				spec,
				entryWhere,
				isRoot,
				&pc)
			if !ok {
				return
			}

			if kind == localReference {
				localRefs = append(localRefs, ref)
			}
		}

		checker.addPCRange(pc, entryWhere)

		if abbrev.HasChildren {
			depth++
		} else if depth == 0 {
			break
		}
	}

	if depth > 0 {
		diag.Errorf(
			checker,
			where,
			infoCategory,
			"DIE chain not terminated with a null DIE (%d scopes left open)",
			depth)
	} else if !cursor.HasReachedEnd() {
		checkZeroPadding(cursor, cursor.End, checker, where, infoCategory)
	}

	for _, ref := range localRefs {
		_, ok := unitEntries[ref.Target]
		if !ok {
			diag.Errorf(
				checker,
				ref.Where,
				infoCategory|diag.CategoryImpact4,
				"unresolved reference to DIE %#x",
				ref.Target)
		}
	}
}

func offsetSize(is64 bool) int {
	if is64 {
		return 8
	}
	return 4
}

func (checker *infoChecker) relocate(
	offset uint64,
	width int,
	value *uint64,
	where diag.Where,
	target relocationTarget,
	what string,
) {
	checker.relocations.Relocate(
		offset,
		width,
		value,
		where,
		target,
		what,
		infoCategory)
}

// addPCRange records the address range of a DIE with both DW_AT_low_pc and
// DW_AT_high_pc.
func (checker *infoChecker) addPCRange(pc pcRange, where diag.Where) {
	if !pc.hasLow || !pc.hasHigh {
		return
	}

	high := pc.high
	if pc.highIsOffset {
		high = pc.low + pc.high
		if high < pc.low {
			diag.Errorf(
				checker,
				where,
				infoCategory|diag.CategoryImpact3,
				"DW_AT_high_pc offset %#x overflows the address space",
				pc.high)
			return
		}
	}

	if high < pc.low {
		diag.Errorf(
			checker,
			where,
			infoCategory|diag.CategoryImpact3,
			"DW_AT_high_pc %#x is below DW_AT_low_pc %#x",
			high,
			pc.low)
		return
	}

	// Discarded functions keep a zero DW_AT_low_pc in linked files.
	if pc.low == 0 && !checker.sections.IsRelocatable() {
		return
	}

	checker.info.AddressCoverage.Add(pc.low, high-pc.low)
}

type referenceKind int

const (
	noReference = referenceKind(iota)
	localReference
	otherReference
)

func (checker *infoChecker) readAttribute(
	unit *CompileUnit,
	cursor *dwarf.Cursor,
	spec AttributeSpec,
	where diag.Where,
	isRoot bool,
	pc *pcRange,
) (
	Reference,
	referenceKind,
	bool,
) {
	format := spec.Format
	if format == dwarf.DW_FORM_indirect {
		value, ok := readULEB128(
			cursor,
			checker,
			where,
			infoCategory,
			"indirect form")
		if !ok {
			return Reference{}, noReference, false
		}

		format = dwarf.Format(value)
		if format == dwarf.DW_FORM_indirect {
			diag.Errorf(
				checker,
				where,
				infoCategory,
				"indirect form refers to another indirect form")
			return Reference{}, noReference, false
		}
	}

	if !format.AllowedIn(unit.Version) {
		diag.Errorf(
			checker,
			where,
			infoCategory,
			"%s of %s is not allowed in version %d",
			format,
			spec.Attribute,
			unit.Version)
	}

	datumOffset := cursor.Offset()
	value, width, err := readFormValue(cursor, unit, format)
	if err != nil {
		diag.Errorf(
			checker,
			where,
			infoCategory,
			"can't read %s of %s: %s",
			format,
			spec.Attribute,
			err)
		return Reference{}, noReference, false
	}

	what := fmt.Sprintf("%s of %s", format, spec.Attribute)

	isSectionPointer := format.IsSectionPointer(unit.Version)

	switch {
	case format == dwarf.DW_FORM_addr:
		checker.relocate(datumOffset, width, &value, where, relocateAddress, what)
		switch spec.Attribute {
		case dwarf.DW_AT_low_pc:
			pc.low = value
			pc.hasLow = true
			if isRoot {
				unit.BaseAddress = value
			}
		case dwarf.DW_AT_high_pc:
			pc.high = value
			pc.hasHigh = true
		}

	case spec.Attribute == dwarf.DW_AT_high_pc:
		if unit.Version < 4 || !format.IsConstant() {
			diag.Errorf(
				checker,
				where,
				infoCategory,
				"%s has invalid form %s",
				spec.Attribute,
				format)
			break
		}

		pc.high = value
		pc.hasHigh = true
		pc.highIsOffset = true

	case format == dwarf.DW_FORM_strp:
		checker.relocate(
			datumOffset,
			width,
			&value,
			where,
			relocateOffsetInto(dwarf.ElfDebugStringSection),
			what)
		checker.info.StrRefs = append(
			checker.info.StrRefs,
			Reference{Where: where, Target: value})

	case spec.Attribute == dwarf.DW_AT_stmt_list:
		if !isSectionPointer {
			diag.Errorf(
				checker,
				where,
				infoCategory,
				"%s has invalid form %s",
				spec.Attribute,
				format)
			break
		}

		checker.relocate(
			datumOffset,
			width,
			&value,
			where,
			relocateOffsetInto(dwarf.ElfDebugLineSection),
			what)
		checker.info.LineRefs = append(
			checker.info.LineRefs,
			Reference{Where: where, Target: value})

	case spec.Attribute == dwarf.DW_AT_ranges:
		if !isSectionPointer {
			diag.Errorf(
				checker,
				where,
				infoCategory,
				"%s has invalid form %s",
				spec.Attribute,
				format)
			break
		}

		checker.relocate(
			datumOffset,
			width,
			&value,
			where,
			relocateOffsetInto(dwarf.ElfDebugRangesSection),
			what)
		checker.info.RangeRefs = append(
			checker.info.RangeRefs,
			RangeReference{
				Reference:   Reference{Where: where, Target: value},
				CompileUnit: unit,
			})

	case format == dwarf.DW_FORM_ref_addr:
		checker.relocate(
			datumOffset,
			width,
			&value,
			where,
			relocateOffsetInto(dwarf.ElfDebugInformationSection),
			what)

		ref := Reference{Where: where, Target: value}
		checker.globalRefs = append(checker.globalRefs, ref)
		return ref, otherReference, true

	case format.IsReference():
		if value >= unit.End-unit.Offset {
			diag.Errorf(
				checker,
				where,
				infoCategory|diag.CategoryImpact4,
				"invalid reference outside the unit (%#x)",
				value)
			return Reference{}, noReference, true
		}

		return Reference{Where: where, Target: unit.Offset + value},
			localReference,
			true
	}

	return Reference{}, noReference, true
}

// readFormValue decodes a value of the given form.  It returns the value
// (the block length for block forms), and the width of fixed size values (0
// for variable length encodings).
func readFormValue(
	cursor *dwarf.Cursor,
	unit *CompileUnit,
	format dwarf.Format,
) (
	uint64,
	int,
	error,
) {
	switch format {
	case dwarf.DW_FORM_flag_present:
		return 1, 0, nil

	case dwarf.DW_FORM_flag,
		dwarf.DW_FORM_data1,
		dwarf.DW_FORM_ref1:

		val, err := cursor.U8()
		return uint64(val), 1, err

	case dwarf.DW_FORM_data2,
		dwarf.DW_FORM_ref2:

		val, err := cursor.U16()
		return uint64(val), 2, err

	case dwarf.DW_FORM_data4,
		dwarf.DW_FORM_ref4:

		val, err := cursor.U32()
		return uint64(val), 4, err

	case dwarf.DW_FORM_data8,
		dwarf.DW_FORM_ref8,
		dwarf.DW_FORM_ref_sig8:

		val, err := cursor.U64()
		return val, 8, err

	case dwarf.DW_FORM_addr:
		val, err := cursor.Address(unit.AddressSize)
		return val, unit.AddressSize, err

	case dwarf.DW_FORM_sec_offset,
		dwarf.DW_FORM_strp:

		val, err := cursor.SectionOffset(unit.Is64)
		return val, offsetSize(unit.Is64), err

	case dwarf.DW_FORM_ref_addr:
		// In version 2, ref_addr is address sized.
		if unit.Version == 2 {
			val, err := cursor.Address(unit.AddressSize)
			return val, unit.AddressSize, err
		}

		val, err := cursor.SectionOffset(unit.Is64)
		return val, offsetSize(unit.Is64), err

	case dwarf.DW_FORM_udata,
		dwarf.DW_FORM_ref_udata:

		val, err := cursor.ULEB128(64)
		return val, 0, err

	case dwarf.DW_FORM_sdata:
		val, err := cursor.SLEB128(64)
		return uint64(val), 0, err

	case dwarf.DW_FORM_string:
		_, err := cursor.String()
		return 0, 0, err

	case dwarf.DW_FORM_block1:
		length, err := cursor.U8()
		if err != nil {
			return 0, 0, err
		}
		return uint64(length), 0, cursor.Skip(int(length))

	case dwarf.DW_FORM_block2:
		length, err := cursor.U16()
		if err != nil {
			return 0, 0, err
		}
		return uint64(length), 0, cursor.Skip(int(length))

	case dwarf.DW_FORM_block4:
		length, err := cursor.U32()
		if err != nil {
			return 0, 0, err
		}
		return skipBlock(cursor, uint64(length))

	case dwarf.DW_FORM_block,
		dwarf.DW_FORM_exprloc:

		length, err := cursor.ULEB128(64)
		if err != nil {
			return 0, 0, err
		}
		return skipBlock(cursor, length)
	}

	return 0, 0, fmt.Errorf("unsupported form (%s)", format)
}

func skipBlock(cursor *dwarf.Cursor, length uint64) (uint64, int, error) {
	size, err := safecast.Conv[int](length)
	if err != nil {
		return 0, 0, fmt.Errorf(
			"%w: block length %#x",
			dwarf.ErrTruncatedRead,
			length)
	}

	return length, 0, cursor.Skip(size)
}
