package elf

import (
	"bytes"
	"fmt"

	"github.com/ianlancetaylor/demangle"
)

type FileAddress uint64

type Section interface {
	Header() SectionHeaderEntry
	Index() int

	BindSectionNameTable(sectionNames *StringTableSection)
	Name() string

	RawContent() ([]byte, error)

	// See elf spec. Figure 1-12. sh_link and sh_info interpretation.
	BindStringTable(stringTable *StringTableSection)
	BindSymbolTable(symbolTable *SymbolTableSection)
	BindRelocations(relocations *RelocationSection)

	// Relocations returns the relocation section targeting this section, or
	// nil.
	Relocations() *RelocationSection
}

type BaseSection struct {
	SectionHeaderEntry

	index            int
	sectionNameTable *StringTableSection
	name             string
	relocations      *RelocationSection
}

func newBaseSection(index int, header SectionHeaderEntry) BaseSection {
	return BaseSection{
		SectionHeaderEntry: header,
		index:              index,
	}
}

func (base *BaseSection) Header() SectionHeaderEntry {
	return base.SectionHeaderEntry
}

func (base *BaseSection) Index() int {
	return base.index
}

func (base *BaseSection) Name() string {
	return base.name
}

func (base *BaseSection) BindSectionNameTable(
	sectionNames *StringTableSection,
) {
	base.sectionNameTable = sectionNames
	base.name = sectionNames.Get(base.NameIndex)
}

func (BaseSection) RawContent() ([]byte, error) {
	return nil, fmt.Errorf("cannot get raw content")
}

func (BaseSection) BindStringTable(table *StringTableSection) {
}

func (BaseSection) BindSymbolTable(table *SymbolTableSection) {
}

func (base *BaseSection) BindRelocations(relocations *RelocationSection) {
	base.relocations = relocations
}

func (base *BaseSection) Relocations() *RelocationSection {
	return base.relocations
}

// RawSection's content aliases the file's backing buffer.
type RawSection struct {
	BaseSection

	Content []byte
}

func newRawSection(
	index int,
	header SectionHeaderEntry,
	content []byte,
) *RawSection {
	return &RawSection{
		BaseSection: newBaseSection(index, header),
		Content:     content,
	}
}

func (section *RawSection) RawContent() ([]byte, error) {
	if section.SectionType == SectionTypeNoSpace {
		return nil, fmt.Errorf("section %s occupies no file space", section.name)
	}
	return section.Content, nil
}

type StringTableSection struct {
	BaseSection

	Content []byte
}

func NewStringTableSection(
	index int,
	header SectionHeaderEntry,
	content []byte,
) *StringTableSection {
	return &StringTableSection{
		BaseSection: newBaseSection(index, header),
		Content:     content,
	}
}

func (table *StringTableSection) RawContent() ([]byte, error) {
	return table.Content, nil
}

func (table *StringTableSection) Get(index uint32) string {
	if index >= uint32(len(table.Content)) {
		return ""
	}

	chunk := table.Content[index:]
	end := bytes.IndexByte(chunk, 0)
	if end == -1 {
		return ""
	}

	return string(chunk[:end])
}

type Symbol struct {
	SymbolEntry

	Parent        *SymbolTableSection
	Name          string
	DemangledName string // human readable c++ / rust name
}

func (symbol Symbol) PrettyName() string {
	if symbol.DemangledName != "" {
		return symbol.DemangledName
	}

	if symbol.Name == "" {
		return fmt.Sprintf("<symbol %d>", symbol.SectionIndex)
	}

	return symbol.Name
}

func (symbol Symbol) Type() SymbolType {
	return SymbolInfoToType(symbol.Info)
}

type SymbolTableSection struct {
	BaseSection

	Symbols []*Symbol

	stringTable *StringTableSection
}

func (table *SymbolTableSection) BindStringTable(names *StringTableSection) {
	table.stringTable = names
	for _, symbol := range table.Symbols {
		symbol.Name = names.Get(symbol.NameIndex)
		val, err := demangle.ToString(symbol.Name)
		if err == nil {
			symbol.DemangledName = val
		}
	}
}

func (table *SymbolTableSection) SymbolsByName(name string) []*Symbol {
	result := []*Symbol{}
	for _, symbol := range table.Symbols {
		if symbol.Name == name || symbol.DemangledName == name {
			result = append(result, symbol)
		}
	}
	return result
}
