package checks

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"fortio.org/safecast"

	"github.com/pattyshack/dwarflint/coverage"
	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/dwarf"
	"github.com/pattyshack/dwarflint/lint"
)

const (
	lineCategory       = diag.CategoryLine
	lineHeaderCategory = diag.CategoryLine | diag.CategoryHeader

	minLineVersion = 2
	maxLineVersion = 3
)

type IncludeDirectory struct {
	Name string
	Used bool
}

type FileEntry struct {
	Name           string
	DirectoryIndex uint64 // 0 is the compilation directory
	Used           bool
}

type LineProgramHeader struct {
	Version                  uint16
	HeaderLength             uint64
	MinimumInstructionLength uint8
	DefaultIsStatement       uint8
	LineBase                 int8
	LineRange                uint8
	OpcodeBase               uint8

	// Operand counts of opcodes 1 through OpcodeBase-1.
	StandardOpcodeLengths []uint8
}

// LineAddress is a DW_LNE_set_address operand, after relocation.
type LineAddress struct {
	diag.Where
	Address uint64
}

// LineTables is the debug_line check's result.
type LineTables struct {
	// Start offsets of every line number program unit, sorted.
	Offsets []uint64

	// Byte ranges of .debug_line claimed by units.
	Coverage *coverage.Set

	Addresses []LineAddress

	// false if any unit failed validation.  Offsets remain accurate since
	// units are always scanned by their declared length.
	Reliable bool
}

func (tables *LineTables) HasTable(offset uint64) bool {
	idx := sort.Search(
		len(tables.Offsets),
		func(i int) bool { return tables.Offsets[i] >= offset })
	return idx < len(tables.Offsets) && tables.Offsets[idx] == offset
}

func newLineTables(session *lint.Session) (interface{}, error) {
	sections, ok, err := lint.Get[*Sections](session, ElfSectionsCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: elf sections not loaded", lint.ErrUnavailable)
	}

	data, ok := sections.Get(dwarf.ElfDebugLineSection)
	if !ok {
		return nil, fmt.Errorf(
			"%w: no %s section",
			lint.ErrUnavailable,
			dwarf.ElfDebugLineSection)
	}

	tables, complete := CheckLineTables(sections, data, session)
	if !complete {
		return nil, fmt.Errorf(
			"%w: %s could not be scanned to the end",
			lint.ErrUnavailable,
			dwarf.ElfDebugLineSection)
	}

	return tables, nil
}

type lineTableChecker struct {
	diag.Reporter

	sections    *Sections
	data        *SectionData
	relocations *relocationCursor
	tables      *LineTables
}

// CheckLineTables validates every line number program unit in data.  The
// returned bool is false if a unit length could not be trusted, in which
// case units after it were not scanned.
func CheckLineTables(
	sections *Sections,
	data *SectionData,
	reporter diag.Reporter,
) (
	*LineTables,
	bool,
) {
	checker := &lineTableChecker{
		Reporter:    reporter,
		sections:    sections,
		data:        data,
		relocations: newRelocationCursor(sections, data, reporter),
		tables: &LineTables{
			Coverage: &coverage.Set{},
			Reliable: true,
		},
	}

	complete := checker.scan()
	if !complete {
		checker.tables.Reliable = false
	}

	if checker.tables.Reliable {
		checker.relocations.SkipRest()
	}

	return checker.tables, complete
}

func (checker *lineTableChecker) scan() bool {
	cursor := checker.sections.Cursor(checker.data)

	for !cursor.HasReachedEnd() {
		unitStart := cursor.Position
		where := diag.At(checker.data.Name).AtUnit(uint64(unitStart))
		checker.tables.Offsets = append(checker.tables.Offsets, uint64(unitStart))

		length, is64, err := cursor.InitialLength()
		if err != nil {
			if errors.Is(err, dwarf.ErrReservedLength) {
				diag.Errorf(
					checker,
					where,
					lineHeaderCategory,
					"unrecognized unit length escape value: %s",
					err)
			} else {
				diag.Errorf(
					checker,
					where,
					lineHeaderCategory,
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
				lineHeaderCategory,
				"not enough data for next unit (length %#x, %d bytes left)",
				length,
				cursor.Remaining())
			return false
		}

		unitEnd := cursor.Position + size
		checker.tables.Coverage.Add(
			uint64(unitStart),
			uint64(unitEnd-unitStart))

		sub, err := cursor.Sub(cursor.Position, unitEnd)
		if err != nil {
			diag.Errorf(checker, where, lineHeaderCategory, "%s", err)
			return false
		}

		unit := newLineUnit(checker, where, is64)
		if !unit.check(sub) {
			checker.tables.Reliable = false
		}

		// Inner failures never prevent scanning subsequent units.
		err = cursor.SeekTo(unitEnd)
		if err != nil {
			panic("should never happen")
		}
	}

	return true
}

// lineUnit holds one line number program unit's state.  The directory and
// file tables are discarded once the unit's unused entries are reported.
type lineUnit struct {
	*lineTableChecker

	where diag.Where
	is64  bool

	Header      LineProgramHeader
	Directories []*IncludeDirectory
	Files       []*FileEntry

	// false once the unit is known to be unusable by consumers.
	ok bool
}

func newLineUnit(
	checker *lineTableChecker,
	where diag.Where,
	is64 bool,
) *lineUnit {
	return &lineUnit{
		lineTableChecker: checker,
		where:            where,
		is64:             is64,
		ok:               true,
	}
}

// check validates the unit's header and program.  cursor is bounded by the
// unit's declared length and positioned right after the length field.
func (unit *lineUnit) check(cursor *dwarf.Cursor) bool {
	if !unit.parseHeader(cursor) {
		return false
	}

	if !unit.runProgram(cursor) {
		return false
	}

	return unit.ok
}

func (unit *lineUnit) cannotRead(what string, err error) bool {
	diag.Errorf(
		unit,
		unit.where,
		lineHeaderCategory,
		"can't read %s: %s",
		what,
		err)
	return false
}

// parseHeader reads the header fields, the include directory table and the
// file table, then positions the cursor at the program start declared by
// header_length.
func (unit *lineUnit) parseHeader(cursor *dwarf.Cursor) bool {
	header := &unit.Header

	var err error
	header.Version, err = cursor.U16()
	if err != nil {
		return unit.cannotRead("version", err)
	}

	if header.Version < minLineVersion || header.Version > maxLineVersion {
		diag.Errorf(
			unit,
			unit.where,
			lineHeaderCategory,
			"unsupported version %d (supported: %d through %d)",
			header.Version,
			minLineVersion,
			maxLineVersion)
		return false
	}

	header.HeaderLength, err = cursor.SectionOffset(unit.is64)
	if err != nil {
		return unit.cannotRead("header length", err)
	}

	headerSize, err := safecast.Conv[int](header.HeaderLength)
	if err != nil || headerSize > cursor.Remaining() {
		diag.Errorf(
			unit,
			unit.where,
			lineHeaderCategory,
			"header length %#x exceeds the unit (%d bytes left)",
			header.HeaderLength,
			cursor.Remaining())
		return false
	}
	programStart := cursor.Position + headerSize

	header.MinimumInstructionLength, err = cursor.U8()
	if err != nil {
		return unit.cannotRead("minimum instruction length", err)
	}

	header.DefaultIsStatement, err = cursor.U8()
	if err != nil {
		return unit.cannotRead("default_is_stmt", err)
	}

	// Any non-zero value means true, but 0 and 1 are the convention.
	if header.DefaultIsStatement > 1 {
		diag.Warnf(
			unit,
			unit.where,
			lineHeaderCategory|diag.CategoryImpact2,
			"default_is_stmt should be 0 or 1, not %d",
			header.DefaultIsStatement)
	}

	header.LineBase, err = cursor.S8()
	if err != nil {
		return unit.cannotRead("line_base", err)
	}

	header.LineRange, err = cursor.U8()
	if err != nil {
		return unit.cannotRead("line_range", err)
	}

	header.OpcodeBase, err = cursor.U8()
	if err != nil {
		return unit.cannotRead("opcode_base", err)
	}

	if header.OpcodeBase == 0 {
		diag.Errorf(unit, unit.where, lineHeaderCategory, "opcode base set to 0")
		header.OpcodeBase = 1 // keep opcode-1 indexing well defined
		unit.ok = false
	}

	if header.LineRange == 0 && header.OpcodeBase < 255 {
		diag.Errorf(
			unit,
			unit.where,
			lineHeaderCategory,
			"line_range of 0 makes special opcodes undecodable")
		unit.ok = false
	}

	header.StandardOpcodeLengths = make([]uint8, header.OpcodeBase-1)
	for idx := range header.StandardOpcodeLengths {
		opcode := uint8(idx + 1)

		length, err := cursor.U8()
		if err != nil {
			return unit.cannotRead(
				fmt.Sprintf("length of standard opcode #%d", opcode),
				err)
		}
		header.StandardOpcodeLengths[idx] = length

		if dwarf.IsKnownStandardOpcode(opcode) &&
			length != dwarf.StandardOpcodeLengths[idx] {

			diag.Warnf(
				unit,
				unit.where,
				lineHeaderCategory|diag.CategoryImpact2,
				"%s declares %d operands, expected %d",
				dwarf.StandardOpcodeName(opcode),
				length,
				dwarf.StandardOpcodeLengths[idx])
		}
	}

	for !cursor.HasReachedEnd() {
		name, err := cursor.String()
		if err != nil {
			return unit.cannotRead(
				fmt.Sprintf(
					"name of include directory #%d",
					len(unit.Directories)+1),
				err)
		}

		if name == "" {
			break
		}

		unit.Directories = append(
			unit.Directories,
			&IncludeDirectory{Name: name})
	}

	for {
		shouldContinue, ok := unit.parseAndAddFileEntry(cursor)
		if !ok {
			return false
		}

		if !shouldContinue {
			break
		}
	}

	if cursor.Position > programStart {
		diag.Errorf(
			unit,
			unit.where,
			lineHeaderCategory,
			"header claims that it has a size of %d, but in fact it has a size of %d",
			header.HeaderLength,
			header.HeaderLength+uint64(cursor.Position-programStart))

		// Assume the header lies, and what follows is in fact the program.
		unit.ok = false
	} else if cursor.Position < programStart {
		checkZeroPadding(
			cursor,
			programStart,
			unit,
			unit.where,
			lineHeaderCategory)
	}

	return true
}

func (unit *lineUnit) parseAndAddFileEntry(
	cursor *dwarf.Cursor,
) (
	bool, // true if a valid entry was parsed
	bool, // false if the unit cannot be parsed further
) {
	fileNumber := len(unit.Files) + 1

	name, err := cursor.String()
	if err != nil {
		return false, unit.cannotRead(
			fmt.Sprintf("name of file #%d", fileNumber),
			err)
	}

	if name == "" {
		return false, true
	}

	dirIndex, ok := unit.readDirectoryIndex(cursor, name, unit.where)
	if !ok {
		return false, false
	}

	_, ok = readULEB128(
		cursor,
		unit,
		unit.where,
		lineHeaderCategory,
		"timestamp of file entry")
	if !ok {
		return false, false
	}

	_, ok = readULEB128(
		cursor,
		unit,
		unit.where,
		lineHeaderCategory,
		"file size of file entry")
	if !ok {
		return false, false
	}

	unit.Files = append(
		unit.Files,
		&FileEntry{
			Name:           name,
			DirectoryIndex: dirIndex,
		})
	return true, true
}

func (unit *lineUnit) readDirectoryIndex(
	cursor *dwarf.Cursor,
	name string,
	where diag.Where,
) (
	uint64,
	bool,
) {
	fileNumber := len(unit.Files) + 1

	dirIndex, ok := readULEB128(
		cursor,
		unit,
		where,
		lineHeaderCategory,
		"directory index")
	if !ok {
		return 0, false
	}

	if strings.HasPrefix(name, "/") && dirIndex != 0 {
		diag.Warnf(
			unit,
			where,
			lineHeaderCategory|diag.CategoryImpact2,
			"file #%d has absolute pathname, but refers to directory != 0",
			fileNumber)
	}

	// Not >=, directories are numbered from 1.
	if dirIndex > uint64(len(unit.Directories)) {
		diag.Errorf(
			unit,
			where,
			lineHeaderCategory|diag.CategoryImpact4,
			"file #%d refers to directory #%d, which wasn't defined",
			fileNumber,
			dirIndex)

		// Consumers might choke on it.
		unit.ok = false
	} else if dirIndex != 0 {
		unit.Directories[dirIndex-1].Used = true
	}

	return dirIndex, true
}

func (unit *lineUnit) useFile(index uint64, where diag.Where, implicit bool) {
	if index == 0 || index > uint64(len(unit.Files)) {
		if implicit {
			diag.Errorf(
				unit,
				where,
				lineCategory,
				"program uses the default file #1, but the file table is empty")
		} else {
			diag.Errorf(
				unit,
				where,
				lineCategory,
				"DW_LNS_set_file: invalid file index %d",
				index)
		}
		unit.ok = false
		return
	}

	unit.Files[index-1].Used = true
}

// runProgram executes the opcode stream.  It returns false if the stream
// could not be decoded to the end of the unit.
func (unit *lineUnit) runProgram(cursor *dwarf.Cursor) bool {
	terminated := false
	trailing := false // opcodes after the last end_sequence
	firstFile := true
	seenOpcode := false

	for !cursor.HasReachedEnd() {
		where := unit.where.AtOffset(cursor.Offset())

		opcode, err := cursor.U8()
		if err != nil {
			diag.Errorf(unit, where, lineCategory, "can't read opcode: %s", err)
			return false
		}

		operands := 0
		extended := uint8(0)

		switch {
		case opcode == 0:
			var ok bool
			extended, ok = unit.runExtendedOpcode(cursor, where)
			if !ok {
				return false
			}

		case opcode >= unit.Header.OpcodeBase:
			// Special opcodes have no operands.

		case opcode == dwarf.DW_LNS_fixed_advance_pc:
			_, err := cursor.U16()
			if err != nil {
				diag.Errorf(
					unit,
					where,
					lineCategory,
					"can't read operand of DW_LNS_fixed_advance_pc: %s",
					err)
				return false
			}

		case opcode == dwarf.DW_LNS_set_file:
			index, ok := readULEB128(
				cursor,
				unit,
				where,
				lineCategory,
				"DW_LNS_set_file operand")
			if !ok {
				return false
			}

			unit.useFile(index, where, false)
			firstFile = false

		case opcode == dwarf.DW_LNS_set_isa:
			operands = 1

		default:
			operands = int(unit.Header.StandardOpcodeLengths[opcode-1])

			// NOTE: the declared operand count may be wrong for opcodes we
			// don't know about, in which case the rest of the unit decodes
			// out of sync.
			if !dwarf.IsKnownStandardOpcode(opcode) {
				diag.Warnf(
					unit,
					where,
					lineCategory|diag.CategoryImpact2,
					"unknown standard opcode #%d",
					opcode)
			}
		}

		for idx := 0; idx < operands; idx++ {
			_, ok := readULEB128(
				cursor,
				unit,
				where,
				lineCategory,
				fmt.Sprintf(
					"operand #%d of %s",
					idx,
					dwarf.StandardOpcodeName(opcode)))
			if !ok {
				return false
			}
		}

		// The file register defaults to 1.
		if firstFile {
			unit.useFile(1, where, true)
			firstFile = false
		}

		isEndSequence := opcode == 0 && extended == dwarf.DW_LNE_end_sequence
		if !isEndSequence {
			seenOpcode = true
		}
		terminated = terminated || isEndSequence
		trailing = terminated && !isEndSequence

		if isEndSequence && !cursor.HasReachedEnd() {
			rest := cursor.Clone()
			if rest.SkipZeroPadding(cursor.End) {
				checkZeroPadding(
					cursor,
					cursor.End,
					unit,
					unit.where,
					lineCategory)
			}
		}
	}

	for idx, dir := range unit.Directories {
		if !dir.Used {
			diag.Warnf(
				unit,
				unit.where,
				lineHeaderCategory|diag.CategoryBloat|diag.CategoryImpact3,
				"the include #%d `%s' is not used",
				idx+1,
				dir.Name)
		}
	}

	for idx, file := range unit.Files {
		if !file.Used {
			diag.Warnf(
				unit,
				unit.where,
				lineHeaderCategory|diag.CategoryBloat|diag.CategoryImpact3,
				"the file #%d `%s' is not used",
				idx+1,
				file.Name)
		}
	}

	if !seenOpcode {
		diag.Warnf(
			unit,
			unit.where,
			lineCategory|diag.CategoryBloat|diag.CategoryImpact3,
			"empty line number program")
	}

	if !terminated {
		diag.Errorf(
			unit,
			unit.where,
			lineCategory,
			"sequence of opcodes not terminated with DW_LNE_end_sequence")
		unit.ok = false
	} else if trailing {
		diag.Warnf(
			unit,
			unit.where,
			lineCategory|diag.CategoryImpact2,
			"opcodes after the last DW_LNE_end_sequence")
	}

	return true
}

// runExtendedOpcode decodes an extended opcode, whose leading 0 byte was
// already consumed.
func (unit *lineUnit) runExtendedOpcode(
	cursor *dwarf.Cursor,
	where diag.Where,
) (
	uint8,
	bool,
) {
	length, ok := readULEB128(
		cursor,
		unit,
		where,
		lineCategory,
		"length of extended opcode")
	if !ok {
		return 0, false
	}

	size, err := safecast.Conv[int](length)
	if err != nil || size > cursor.Remaining() {
		diag.Errorf(
			unit,
			where,
			lineCategory,
			"extended opcode length %#x exceeds the unit (%d bytes left)",
			length,
			cursor.Remaining())
		return 0, false
	}
	next := cursor.Position + size

	extended, err := cursor.U8()
	if err != nil {
		diag.Errorf(
			unit,
			where,
			lineCategory,
			"can't read extended opcode: %s",
			err)
		return 0, false
	}

	handled := true
	switch extended {
	case dwarf.DW_LNE_end_sequence:

	case dwarf.DW_LNE_set_address:
		if !unit.setAddress(cursor, where) {
			return extended, false
		}

	case dwarf.DW_LNE_define_file:
		name, err := cursor.String()
		if err != nil {
			diag.Errorf(
				unit,
				where,
				lineCategory,
				"can't read filename operand of DW_LNE_define_file: %s",
				err)
			return extended, false
		}

		dirIndex, ok := unit.readDirectoryIndex(cursor, name, where)
		if !ok {
			return extended, false
		}

		for _, what := range []string{"modification time", "file size"} {
			_, ok := readULEB128(
				cursor,
				unit,
				where,
				lineCategory,
				what+" operand of DW_LNE_define_file")
			if !ok {
				return extended, false
			}
		}

		unit.Files = append(
			unit.Files,
			&FileEntry{
				Name:           name,
				DirectoryIndex: dirIndex,
			})

	default:
		// Known but unhandled opcodes (e.g., DW_LNE_set_discriminator and
		// vendor extensions) are skipped by their declared length.
		handled = false
		if !dwarf.IsKnownExtendedOpcode(extended) {
			diag.Warnf(
				unit,
				where,
				lineCategory|diag.CategoryImpact2,
				"unknown extended opcode #%d",
				extended)
		}
	}

	if cursor.Position > next {
		diag.Errorf(
			unit,
			where,
			lineCategory,
			"opcode claims that it has a size of %d, but in fact it has a size of %d",
			length,
			length+uint64(cursor.Position-next))
		unit.ok = false
	} else if cursor.Position < next {
		if handled {
			checkZeroPadding(cursor, next, unit, where, lineCategory)
		}

		err := cursor.SeekTo(next)
		if err != nil {
			panic("should never happen")
		}
	}

	return extended, true
}

func (unit *lineUnit) setAddress(cursor *dwarf.Cursor, where diag.Where) bool {
	offset := cursor.Offset()
	size := unit.sections.AddressSize

	address, err := cursor.Address(size)
	if err != nil {
		diag.Errorf(
			unit,
			where,
			lineCategory,
			"can't read operand of DW_LNE_set_address: %s",
			err)
		return false
	}

	relocation, ok := unit.relocations.Next(offset, skipMismatched)
	if ok {
		unit.relocations.Apply(relocation, size, &address, where, relocateAddress)
	} else if unit.sections.IsRelocatable() {
		diag.Warnf(
			unit,
			where,
			lineCategory|diag.CategoryReloc|diag.CategoryImpact2,
			"DW_LNE_set_address seems to lack a relocation")
	}

	unit.tables.Addresses = append(
		unit.tables.Addresses,
		LineAddress{
			Where:   where,
			Address: address,
		})
	return true
}
