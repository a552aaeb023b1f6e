package checks

import (
	"encoding/binary"
	"strings"
	"testing"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"

	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/dwarf"
)

type DebugAbbrevSuite struct{}

func TestDebugAbbrev(t *testing.T) {
	suite.RunTests(t, &DebugAbbrevSuite{})
}

func checkAbbrevs(content []byte) (AbbreviationTables, bool, *diag.Bag) {
	bag := diag.NewBag()
	tables, complete := CheckAbbreviations(
		dwarf.NewCursor(binary.LittleEndian, content),
		dwarf.ElfDebugAbbreviationSection,
		bag)
	return tables, complete, bag
}

func (DebugAbbrevSuite) TestParse(t *testing.T) {
	tables, complete, bag := checkAbbrevs(testAbbreviations())

	expect.True(t, complete)
	expect.Equal(t, 0, bag.Len())
	expect.Equal(t, 1, len(tables))

	table := tables[0]
	expect.Equal(t, 3, len(table.Abbreviations))

	root := table.Abbreviations[1]
	expect.Equal(t, dwarf.DW_TAG_compile_unit, root.Tag)
	expect.True(t, root.HasChildren)
	expect.Equal(t, 4, len(root.AttributeSpecs))
	expect.Equal(t, dwarf.DW_AT_stmt_list, root.AttributeSpecs[1].Attribute)
	expect.Equal(t, dwarf.DW_FORM_data4, root.AttributeSpecs[1].Format)

	expect.False(t, table.Abbreviations[3].HasChildren)
}

func (DebugAbbrevSuite) TestMultipleTables(t *testing.T) {
	first := testAbbreviations()
	content := append(append([]byte{}, first...), testAbbreviations()...)

	tables, complete, bag := checkAbbrevs(content)

	expect.True(t, complete)
	expect.Equal(t, 0, bag.Len())
	expect.Equal(t, 2, len(tables))

	_, ok := tables[uint64(len(first))]
	expect.True(t, ok)
}

func (DebugAbbrevSuite) TestDuplicateCode(t *testing.T) {
	enc := &encoder{}
	enc.uleb(1).uleb(0x24).u8(dwarf.DW_CHILDREN_no).uleb(0).uleb(0)
	enc.uleb(1).uleb(0x2e).u8(dwarf.DW_CHILDREN_no).uleb(0).uleb(0)
	enc.u8(0)

	tables, complete, bag := checkAbbrevs(enc.content)

	expect.True(t, complete)
	expect.Equal(
		t,
		[]string{"duplicate abbreviation code 1"},
		messages(bag.Items()))

	// the first definition wins
	expect.Equal(t, dwarf.Tag(0x24), tables[0].Abbreviations[1].Tag)
}

func (DebugAbbrevSuite) TestTrailingPadding(t *testing.T) {
	content := append(testAbbreviations(), 0, 0, 0)

	tables, complete, bag := checkAbbrevs(content)

	expect.True(t, complete)
	expect.Equal(t, 1, len(tables))
	expect.Equal(t, 1, bag.NumWarnings())
	expect.True(
		t,
		strings.HasSuffix(
			bag.Items()[0].Message,
			"unnecessary padding with zero bytes"))
}

func (DebugAbbrevSuite) TestEmptyTable(t *testing.T) {
	content := append([]byte{0}, testAbbreviations()...)

	tables, complete, bag := checkAbbrevs(content)

	expect.True(t, complete)
	expect.Equal(t, 2, len(tables))
	expect.Equal(
		t,
		[]string{"empty abbreviation table"},
		messages(bag.Items()))
}

func (DebugAbbrevSuite) TestInvalidEntries(t *testing.T) {
	enc := &encoder{}
	enc.uleb(1).uleb(0).u8(2)                     // tag 0, bad has_children
	enc.uleb(uint64(dwarf.DW_AT_sibling)).uleb(uint64(dwarf.DW_FORM_ref4))
	enc.uleb(uint64(dwarf.DW_AT_name)).uleb(0x7f) // unknown form
	enc.uleb(uint64(dwarf.DW_AT_sibling)).uleb(uint64(dwarf.DW_FORM_ref4))
	enc.uleb(0).uleb(uint64(dwarf.DW_FORM_data1))
	enc.uleb(0).uleb(0)
	enc.u8(0)

	_, complete, bag := checkAbbrevs(enc.content)

	expect.True(t, complete)
	expect.Equal(
		t,
		[]string{
			"invalid abbrev tag 0",
			"invalid has_children value 0x2",
			"invalid form DW_FORM_unknown_0x7f for attribute DW_AT_name",
			"duplicate attribute DW_AT_sibling",
			"invalid attribute/form pair (0, 0xb)",
		},
		messages(bag.Items()))
}

func (DebugAbbrevSuite) TestChildlessSibling(t *testing.T) {
	enc := &encoder{}
	enc.uleb(1).uleb(0x24).u8(dwarf.DW_CHILDREN_no)
	enc.uleb(uint64(dwarf.DW_AT_sibling)).uleb(uint64(dwarf.DW_FORM_ref4))
	enc.uleb(0).uleb(0)
	enc.u8(0)

	_, _, bag := checkAbbrevs(enc.content)

	expect.Equal(
		t,
		[]string{"excessive DW_AT_sibling attribute at childless abbrev"},
		messages(bag.Items()))
}

func (DebugAbbrevSuite) TestTruncated(t *testing.T) {
	content := testAbbreviations()
	content = content[:len(content)-5]

	_, complete, bag := checkAbbrevs(content)

	expect.False(t, complete)
	expect.Equal(t, 1, bag.NumErrors())
}
