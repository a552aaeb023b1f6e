package elf

import (
	"fmt"
)

type RelocationType uint32

const (
	R_X86_64_NONE     = RelocationType(0)
	R_X86_64_64       = RelocationType(1)
	R_X86_64_PC32     = RelocationType(2)
	R_X86_64_32       = RelocationType(10)
	R_X86_64_32S      = RelocationType(11)
	R_X86_64_DTPOFF64 = RelocationType(17)
	R_X86_64_DTPOFF32 = RelocationType(21)

	R_AARCH64_NONE  = RelocationType(0)
	R_AARCH64_ABS64 = RelocationType(257)
	R_AARCH64_ABS32 = RelocationType(258)
)

// RelocationWidth returns the number of bytes patched by an absolute
// relocation of the given type.  Only relocation types that may sensibly
// appear in debug sections are recognized.
func RelocationWidth(
	machine MachineArchitecture,
	relocationType RelocationType,
) (
	int,
	bool,
) {
	switch machine {
	case MachineArchitectureX86_64:
		switch relocationType {
		case R_X86_64_64, R_X86_64_DTPOFF64:
			return 8, true
		case R_X86_64_32, R_X86_64_32S, R_X86_64_DTPOFF32:
			return 4, true
		}
	case MachineArchitectureAArch64:
		switch relocationType {
		case R_AARCH64_ABS64:
			return 8, true
		case R_AARCH64_ABS32:
			return 4, true
		}
	}

	return 0, false
}

func IsNoneRelocation(relocationType RelocationType) bool {
	return relocationType == R_X86_64_NONE
}

type Relocation struct {
	Offset uint64
	RelocationType
	SymbolIndex uint32
	Addend      int64
	HasAddend   bool
}

func (relocation Relocation) String() string {
	return fmt.Sprintf(
		"reloc(offset=%#x type=%d sym=%d addend=%#x)",
		relocation.Offset,
		relocation.RelocationType,
		relocation.SymbolIndex,
		relocation.Addend)
}

// RelocationSection holds a SHT_REL / SHT_RELA section's entries.  Target is
// the section being relocated (sh_info), and symbols are resolved through
// the linked symbol table (sh_link).
type RelocationSection struct {
	BaseSection

	Entries []Relocation
	Target  Section

	symbolTable *SymbolTableSection
}

func (section *RelocationSection) BindSymbolTable(table *SymbolTableSection) {
	section.symbolTable = table
}

func (section *RelocationSection) SymbolTable() *SymbolTableSection {
	return section.symbolTable
}

// Symbol returns the relocation's symbol.  Index 0 is the undefined symbol.
func (section *RelocationSection) Symbol(index uint32) (*Symbol, bool) {
	if section.symbolTable == nil {
		return nil, false
	}

	if int(index) >= len(section.symbolTable.Symbols) {
		return nil, false
	}

	return section.symbolTable.Symbols[index], true
}
