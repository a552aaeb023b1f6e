// Package checks holds the concrete dwarf checks and the registration table
// that wires them together.
package checks

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/dwarf"
	"github.com/pattyshack/dwarflint/elf"
	"github.com/pattyshack/dwarflint/lint"
)

// SectionData is a loaded elf section, as seen by the checks.
type SectionData struct {
	Name    string
	Index   int
	Address uint64
	Flags   elf.SectionFlags

	// nil for sections that occupy no file space.
	Content []byte

	// Relocations targeting this section, sorted by offset.
	Relocations    []elf.Relocation
	RelocationName string
}

func (data *SectionData) Size() uint64 {
	return uint64(len(data.Content))
}

func (data *SectionData) IsAllocated() bool {
	return data.Flags&elf.SectionOccupiesMemory != 0
}

func (data *SectionData) IsExecutable() bool {
	return data.Flags&elf.SectionContainsInstructions != 0
}

// Sections is the elf_sections check's result.
type Sections struct {
	ByteOrder   binary.ByteOrder
	AddressSize int
	FileType    elf.FileType
	Machine     elf.MachineArchitecture

	ByName map[string]*SectionData

	// Indexed by elf section index.
	ByIndex []*SectionData

	Symbols []*elf.Symbol
}

func (sections *Sections) Get(name string) (*SectionData, bool) {
	data, ok := sections.ByName[name]
	return data, ok
}

func (sections *Sections) IsRelocatable() bool {
	return sections.FileType == elf.FileTypeRelocatable
}

func (sections *Sections) Cursor(data *SectionData) *dwarf.Cursor {
	return dwarf.NewCursor(sections.ByteOrder, data.Content)
}

// Symbol returns the symbol at index.  Index 0 is the undefined symbol.
func (sections *Sections) Symbol(index uint32) (*elf.Symbol, bool) {
	if int(index) >= len(sections.Symbols) {
		return nil, false
	}
	return sections.Symbols[index], true
}

// SectionAt returns the section with the given elf section index.
func (sections *Sections) SectionAt(index elf.SectionIndex) (*SectionData, bool) {
	if int(index) >= len(sections.ByIndex) {
		return nil, false
	}

	data := sections.ByIndex[index]
	return data, data != nil
}

// CodeSectionAt returns the executable section whose address range contains
// address.
func (sections *Sections) CodeSectionAt(address uint64) (*SectionData, bool) {
	for _, data := range sections.ByIndex {
		if data == nil || !data.IsExecutable() || data.Content == nil {
			continue
		}

		if data.Address <= address && address-data.Address < data.Size() {
			return data, true
		}
	}

	return nil, false
}

func newSections(session *lint.Session) (interface{}, error) {
	file, ok := session.Input.(*elf.File)
	if !ok || file == nil {
		return nil, fmt.Errorf("%w: no elf input", lint.ErrUnavailable)
	}

	return LoadSections(file, session)
}

// LoadSections collects the file's sections, reporting malformed debug
// sections.
func LoadSections(file *elf.File, reporter diag.Reporter) (*Sections, error) {
	sections := &Sections{
		ByteOrder:   file.ByteOrder(),
		AddressSize: 8,
		FileType:    file.FileType,
		Machine:     file.MachineArchitecture,
		ByName:      map[string]*SectionData{},
	}

	for _, section := range file.Sections {
		hdr := section.Header()
		name := section.Name()

		data := &SectionData{
			Name:    name,
			Index:   section.Index(),
			Address: hdr.Address,
			Flags:   hdr.SectionFlags,
		}

		raw, ok := section.(*elf.RawSection)
		if ok && hdr.SectionType != elf.SectionTypeNoSpace {
			data.Content = raw.Content
		}

		relocations := section.Relocations()
		if relocations != nil {
			data.Relocations = relocations.Entries
			data.RelocationName = relocations.Name()

			if relocations.SymbolTable() == nil && len(relocations.Entries) > 0 {
				diag.Errorf(
					reporter,
					diag.At(relocations.Name()),
					diag.CategoryElf|diag.CategoryReloc|diag.CategoryImpact4,
					"relocation section has no associated symbol table")
			}
		}

		sections.ByIndex = append(sections.ByIndex, data)

		if strings.HasPrefix(name, ".debug_") {
			_, dup := sections.ByName[name]
			if dup {
				diag.Errorf(
					reporter,
					diag.At(name),
					diag.CategoryElf|diag.CategoryImpact4,
					"duplicate section (index %d)",
					data.Index)
				continue
			}

			if hdr.SectionFlags&elf.SectionIsCompressed != 0 {
				diag.Warnf(
					reporter,
					diag.At(name),
					diag.CategoryElf|diag.CategoryImpact4,
					"compressed debug sections are not supported, section skipped")
				continue
			}

			if hdr.SectionType == elf.SectionTypeNoSpace {
				diag.Errorf(
					reporter,
					diag.At(name),
					diag.CategoryElf|diag.CategoryImpact4,
					"debug section occupies no file space")
				continue
			}
		}

		_, ok = sections.ByName[name]
		if !ok {
			sections.ByName[name] = data
		}
	}

	table, ok := file.SymbolTable()
	if ok {
		sections.Symbols = table.Symbols
	}

	return sections, nil
}
