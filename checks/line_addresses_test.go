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

type LineAddressesSuite struct{}

func TestLineAddresses(t *testing.T) {
	suite.RunTests(t, &LineAddressesSuite{})
}

func lineAddress(address uint64) LineAddress {
	return LineAddress{
		Where:   diag.At(dwarf.ElfDebugLineSection).AtUnit(0).AtOffset(0x20),
		Address: address,
	}
}

func codeSections() *Sections {
	sections := newTestSections(nil)
	sections.add(&SectionData{
		Name:    ".text",
		Address: 0x401000,
		Flags:   elf.SectionOccupiesMemory | elf.SectionContainsInstructions,
		Content: []byte{0x55, 0xc3, 0x48},
	})
	sections.add(&SectionData{
		Name:    ".rodata",
		Address: 0x402000,
		Flags:   elf.SectionOccupiesMemory,
		Content: []byte{1, 2, 3, 4},
	})
	return sections
}

func (LineAddressesSuite) TestDecode(t *testing.T) {
	bag := diag.NewBag()
	result := CheckLineAddresses(
		codeSections(),
		[]LineAddress{
			lineAddress(0x401000),
			lineAddress(0x401001),
			lineAddress(0),
			lineAddress(^uint64(0)),
		},
		bag)

	expect.Equal(t, 0, bag.Len())
	expect.Equal(t, 2, result.Skipped)
	expect.Equal(t, 0, result.Invalid)
	expect.Equal(t, 2, len(result.Instructions))
	expect.Equal(t, x86asm.PUSH, result.Instructions[0].Op)
	expect.Equal(t, x86asm.RET, result.Instructions[1].Op)
	expect.Equal(t, ".text", result.Instructions[1].Section)
}

func (LineAddressesSuite) TestInvalidAddresses(t *testing.T) {
	bag := diag.NewBag()
	result := CheckLineAddresses(
		codeSections(),
		[]LineAddress{
			lineAddress(0x402000),
			lineAddress(0x401002),
		},
		bag)

	expect.Equal(t, 2, result.Invalid)
	expect.Equal(t, 2, bag.NumWarnings())
	expect.Equal(
		t,
		"address 0x402000 is not in any executable section",
		bag.Items()[0].Message)
	expect.True(
		t,
		bag.Items()[1].Category.Has(diag.CategoryInstruction))
}

func (LineAddressesSuite) TestRelocatableIsUnavailable(t *testing.T) {
	sections := codeSections()
	sections.FileType = elf.FileTypeRelocatable

	session := newTestSession(sections, diag.NewBag())
	_, ok, err := lint.Get[*LineAddresses](session, LineAddressesCheck)
	expect.Nil(t, err)
	expect.False(t, ok)

	result, found := session.Result(LineAddressesCheck)
	expect.True(t, found)
	expect.Equal(t, lint.StatusUnavailable, result.Status)
}
