package checks

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"

	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/dwarf"
	"github.com/pattyshack/dwarflint/elf"
	"github.com/pattyshack/dwarflint/lint"
)

type DebugInfoSuite struct{}

func TestDebugInfo(t *testing.T) {
	suite.RunTests(t, &DebugInfoSuite{})
}

// Abbreviation table with a compile unit (children), a subprogram and a
// base type.
func testAbbreviations() []byte {
	enc := &encoder{}

	enc.uleb(1).uleb(uint64(dwarf.DW_TAG_compile_unit)).u8(dwarf.DW_CHILDREN_yes)
	enc.uleb(uint64(dwarf.DW_AT_name)).uleb(uint64(dwarf.DW_FORM_string))
	enc.uleb(uint64(dwarf.DW_AT_stmt_list)).uleb(uint64(dwarf.DW_FORM_data4))
	enc.uleb(uint64(dwarf.DW_AT_low_pc)).uleb(uint64(dwarf.DW_FORM_addr))
	enc.uleb(uint64(dwarf.DW_AT_ranges)).uleb(uint64(dwarf.DW_FORM_data4))
	enc.uleb(0).uleb(0)

	enc.uleb(2).uleb(0x2e).u8(dwarf.DW_CHILDREN_no) // DW_TAG_subprogram
	enc.uleb(uint64(dwarf.DW_AT_name)).uleb(uint64(dwarf.DW_FORM_strp))
	enc.uleb(0x49).uleb(uint64(dwarf.DW_FORM_ref4)) // DW_AT_type
	enc.uleb(0).uleb(0)

	enc.uleb(3).uleb(0x24).u8(dwarf.DW_CHILDREN_no) // DW_TAG_base_type
	enc.uleb(uint64(dwarf.DW_AT_name)).uleb(uint64(dwarf.DW_FORM_string))
	enc.uleb(0).uleb(0)

	enc.u8(0)
	return enc.content
}

const (
	testLowPC = 0x401000

	// offset of the base type DIE within the test unit
	testBaseTypeOffset = 41
)

type infoFixture struct {
	version      uint16
	abbrevOffset uint32
	stmtList     uint32
	ranges       uint32
	typeRef      uint32
}

func defaultInfo() infoFixture {
	return infoFixture{
		version: 3,
		typeRef: testBaseTypeOffset,
	}
}

func (fixture infoFixture) encode() []byte {
	body := &encoder{}
	body.u16(fixture.version)
	body.u32(fixture.abbrevOffset)
	body.u8(8)

	body.uleb(1).str("a.c").u32(fixture.stmtList).u64(testLowPC)
	body.u32(fixture.ranges)

	body.uleb(2).u32(0).u32(fixture.typeRef)

	body.uleb(3).str("int")

	body.u8(0)

	return (&encoder{}).unit(body.content).content
}

func testRanges() []byte {
	return (&encoder{}).u64(0x10).u64(0x20).u64(0).u64(0).content
}

type testInput struct {
	abbrev  []byte
	info    []byte
	line    []byte
	str     []byte
	ranges  []byte
	aranges []byte
}

func defaultInput() testInput {
	prog := &program{}
	prog.setAddress(testLowPC)
	prog.op(dwarf.DW_LNS_copy)
	prog.endSequence()

	return testInput{
		abbrev: testAbbreviations(),
		info:   defaultInfo().encode(),
		line: lineUnitFixture{
			files:   []lineFile{{name: "a.c"}},
			program: prog.assemble(),
		}.encode(),
		str:     []byte("main\x00"),
		ranges:  testRanges(),
		aranges: defaultAranges().encode(),
	}
}

func (input testInput) session() (*lint.Session, *diag.Bag) {
	contents := map[string][]byte{}
	add := func(name string, content []byte) {
		if content != nil {
			contents[name] = content
		}
	}

	add(dwarf.ElfDebugAbbreviationSection, input.abbrev)
	add(dwarf.ElfDebugInformationSection, input.info)
	add(dwarf.ElfDebugLineSection, input.line)
	add(dwarf.ElfDebugStringSection, input.str)
	add(dwarf.ElfDebugRangesSection, input.ranges)
	add(dwarf.ElfDebugAddressRangeSection, input.aranges)

	sections := newTestSections(contents)
	sections.add(&SectionData{
		Name:    ".text",
		Address: testLowPC,
		Flags:   elf.SectionOccupiesMemory | elf.SectionContainsInstructions,
		Content: []byte{0x55, 0x48, 0x89, 0xe5, 0x5d, 0xc3},
	})

	bag := diag.NewBag()
	return newTestSession(sections, bag), bag
}

func (DebugInfoSuite) TestWellFormedInput(t *testing.T) {
	session, bag := defaultInput().session()

	expect.Nil(t, session.RunAll())
	expect.Equal(t, []string{}, messages(bag.Items()))

	for _, result := range session.Results() {
		expect.Equal(t, lint.StatusOK, result.Status)
	}

	info, ok, err := lint.Get[*DebugInfo](session, DebugInfoCheck)
	expect.Nil(t, err)
	expect.True(t, ok)
	expect.Equal(t, 1, len(info.Units))
	expect.Equal(t, uint64(testLowPC), info.Units[0].BaseAddress)
	expect.Equal(t, 8, info.Units[0].AddressSize)
	expect.Equal(t, 1, len(info.LineRefs))
	expect.Equal(t, uint64(0), info.LineRefs[0].Target)
	expect.Equal(t, 1, len(info.StrRefs))
	expect.Equal(t, 1, len(info.RangeRefs))

	refs, ok, err := lint.Get[*LineReferences](session, LineReferencesCheck)
	expect.Nil(t, err)
	expect.True(t, ok)
	expect.Equal(t, 1, refs.Checked)
	expect.Equal(t, 0, refs.Unresolved)
	expect.Equal(t, 0, refs.Unused)

	ranges, ok, err := lint.Get[*RangeLists](session, DebugRangesCheck)
	expect.Nil(t, err)
	expect.True(t, ok)
	expect.Equal(
		t,
		[]AddressRange{{Low: testLowPC + 0x10, High: testLowPC + 0x20}},
		ranges.Lists[0])

	addresses, ok, err := lint.Get[*LineAddresses](session, LineAddressesCheck)
	expect.Nil(t, err)
	expect.True(t, ok)
	expect.Equal(t, 1, len(addresses.Instructions))
	expect.Equal(t, x86asm.PUSH, addresses.Instructions[0].Op)
}

func (DebugInfoSuite) TestUnresolvedLineReference(t *testing.T) {
	input := defaultInput()
	info := defaultInfo()
	info.stmtList = 0x40
	input.info = info.encode()

	session, bag := input.session()
	refs, ok, err := lint.Get[*LineReferences](session, LineReferencesCheck)
	expect.Nil(t, err)
	expect.True(t, ok)
	expect.Equal(t, 1, refs.Unused)

	expect.Equal(
		t,
		[]string{
			"unresolved reference to .debug_line table 0x40",
			"line table is not referenced by any unit",
		},
		messages(bag.Items()))

	unresolved := bag.Items()[0]
	expect.Equal(t, diag.SeverityError, unresolved.Severity)
	expect.Equal(t, dwarf.ElfDebugInformationSection, unresolved.Where.Section)
	expect.True(
		t,
		unresolved.Category.Has(
			diag.CategoryLine|diag.CategoryInfo|diag.CategoryImpact4))

	unused := bag.Items()[1]
	expect.Equal(t, diag.SeverityWarning, unused.Severity)
	expect.Equal(t, dwarf.ElfDebugLineSection, unused.Where.Section)
	expect.True(
		t,
		unused.Category.Has(
			diag.CategoryLine|diag.CategoryBloat|diag.CategoryImpact3))
}

func (DebugInfoSuite) TestLineReferencesWithoutDebugInfo(t *testing.T) {
	input := defaultInput()
	input.info = nil

	session, bag := input.session()
	refs, ok, err := lint.Get[*LineReferences](session, LineReferencesCheck)
	expect.Nil(t, err)
	expect.True(t, ok)
	expect.Equal(t, 0, refs.Checked)
	expect.Equal(t, 0, bag.Len())
}

func (DebugInfoSuite) TestUnresolvedDIEReference(t *testing.T) {
	input := defaultInput()
	info := defaultInfo()
	info.typeRef = 40
	input.info = info.encode()

	session, bag := input.session()
	_, err := session.Run(DebugInfoCheck)
	expect.Nil(t, err)

	expect.Equal(
		t,
		[]string{"unresolved reference to DIE 0x28"},
		messages(bag.Items()))
}

func (DebugInfoSuite) TestReferenceOutsideUnit(t *testing.T) {
	input := defaultInput()
	info := defaultInfo()
	info.typeRef = 0x1000
	input.info = info.encode()

	session, bag := input.session()
	_, err := session.Run(DebugInfoCheck)
	expect.Nil(t, err)

	expect.Equal(
		t,
		[]string{"invalid reference outside the unit (0x1000)"},
		messages(bag.Items()))
}

func (DebugInfoSuite) TestUnknownAbbreviationTable(t *testing.T) {
	input := defaultInput()
	info := defaultInfo()
	info.abbrevOffset = 0x10
	input.info = info.encode()

	session, bag := input.session()
	_, err := session.Run(DebugInfoCheck)
	expect.Nil(t, err)

	expect.Equal(
		t,
		[]string{"couldn't find abbreviation table at 0x10"},
		messages(bag.Items()))
}

func (DebugInfoSuite) TestUnsupportedVersion(t *testing.T) {
	input := defaultInput()
	info := defaultInfo()
	info.version = 5
	input.info = info.encode()

	session, bag := input.session()
	info2, ok, err := lint.Get[*DebugInfo](session, DebugInfoCheck)
	expect.Nil(t, err)
	expect.True(t, ok)
	expect.Equal(t, 0, len(info2.Units))

	expect.Equal(
		t,
		[]string{"unsupported version 5 (supported: 2 through 4)"},
		messages(bag.Items()))
}

func (DebugInfoSuite) TestStmtListFormInVersion4(t *testing.T) {
	input := defaultInput()
	info := defaultInfo()
	info.version = 4
	input.info = info.encode()

	session, bag := input.session()
	value, err := session.Run(DebugInfoCheck)
	expect.Nil(t, err)
	expect.Equal(t, 0, len(value.(*DebugInfo).LineRefs))

	expect.Equal(
		t,
		[]string{
			"DW_AT_stmt_list has invalid form DW_FORM_data4",
			"DW_AT_ranges has invalid form DW_FORM_data4",
		},
		messages(bag.Items()))
}

func (DebugInfoSuite) TestTruncatedInfoIsUnavailable(t *testing.T) {
	input := defaultInput()
	input.info = (&encoder{}).u32(0x100).u16(3).content

	session, bag := input.session()
	expect.Nil(t, session.RunAll())

	result, ok := session.Result(DebugInfoCheck)
	expect.True(t, ok)
	expect.Equal(t, lint.StatusUnavailable, result.Status)

	for _, name := range []string{DebugStrCheck, DebugRangesCheck} {
		result, ok := session.Result(name)
		expect.True(t, ok)
		expect.Equal(t, lint.StatusUnavailable, result.Status)
	}

	// line_references degrades to a no-op without debug info
	result, ok = session.Result(LineReferencesCheck)
	expect.True(t, ok)
	expect.Equal(t, lint.StatusOK, result.Status)

	expect.Equal(t, 1, bag.NumErrors())
}
