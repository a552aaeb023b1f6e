package elf

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/pattyshack/gt/testing/expect"
	"github.com/pattyshack/gt/testing/suite"
)

type FileSuite struct{}

func TestFile(t *testing.T) {
	suite.RunTests(t, &FileSuite{})
}

type testSection struct {
	name    string
	header  SectionHeaderEntry
	content []byte
}

// testObject lays out a minimal elf64 file: header, section contents, then
// the section header table.  The section name table is appended as the last
// section.
type testObject struct {
	byteOrder binary.ByteOrder
	header    ElfHeader
	sections  []testSection
}

func newTestObject() *testObject {
	obj := &testObject{
		byteOrder: binary.LittleEndian,
		header: ElfHeader{
			Identifier: Identifier{
				Class:             Class64,
				DataEncoding:      DataEncodingTwosComplementLittleEndian,
				IdentifierVersion: IdentifierVersion,
			},
			FileType:               FileTypeRelocatable,
			MachineArchitecture:    MachineArchitectureX86_64,
			FormatVersion:          FormatVersion,
			ElfHeaderSize:          Elf64HeaderSize,
			SectionHeaderEntrySize: Elf64SectionHeaderEntrySize,
		},
	}
	copy(obj.header.Magic[:], IdentifierMagic)

	obj.sections = append(obj.sections, testSection{})
	return obj
}

func (obj *testObject) add(
	name string,
	header SectionHeaderEntry,
	content []byte,
) int {
	obj.sections = append(
		obj.sections,
		testSection{
			name:    name,
			header:  header,
			content: content,
		})
	return len(obj.sections) - 1
}

func (obj *testObject) encode() []byte {
	names := []byte{0}
	sections := append([]testSection{}, obj.sections...)
	sections = append(
		sections,
		testSection{
			name:   ".shstrtab",
			header: SectionHeaderEntry{SectionType: SectionTypeStringTable},
		})

	for idx := range sections {
		if idx == 0 {
			continue
		}
		sections[idx].header.NameIndex = uint32(len(names))
		names = append(names, sections[idx].name...)
		names = append(names, 0)
	}
	sections[len(sections)-1].content = names

	body := []byte{}
	for idx := range sections {
		if sections[idx].content == nil {
			continue
		}
		sections[idx].header.Offset = uint64(Elf64HeaderSize + len(body))
		sections[idx].header.Size = uint64(len(sections[idx].content))
		body = append(body, sections[idx].content...)
	}

	for len(body)%8 != 0 {
		body = append(body, 0)
	}

	header := obj.header
	header.SectionHeaderOffset = uint64(Elf64HeaderSize + len(body))
	header.NumSectionHeaderEntries = uint16(len(sections))
	header.SectionStringTableIndex = SectionIndex(len(sections) - 1)

	content, err := binary.Append(nil, obj.byteOrder, header)
	if err != nil {
		panic(err)
	}
	content = append(content, body...)

	for _, section := range sections {
		content, err = binary.Append(content, obj.byteOrder, section.header)
		if err != nil {
			panic(err)
		}
	}

	return content
}

func (obj *testObject) encodeEntries(entries interface{}) []byte {
	content, err := binary.Append(nil, obj.byteOrder, entries)
	if err != nil {
		panic(err)
	}
	return content
}

const (
	textIndex   = 1
	lineIndex   = 2
	relaIndex   = 3
	symtabIndex = 4
	strtabIndex = 5
)

// relocatableObject mimics a compiler's output: .debug_line relocated
// against a function symbol in .text.
func relocatableObject() *testObject {
	obj := newTestObject()

	obj.add(
		".text",
		SectionHeaderEntry{
			SectionType:  SectionTypeProgramDefinedInfo,
			SectionFlags: SectionOccupiesMemory | SectionContainsInstructions,
		},
		[]byte{0x55, 0xc3})

	obj.add(
		".debug_line",
		SectionHeaderEntry{SectionType: SectionTypeProgramDefinedInfo},
		make([]byte, 16))

	obj.add(
		".rela.debug_line",
		SectionHeaderEntry{
			SectionType: SectionTypeRelocationWithAddends,
			Link:        symtabIndex,
			Info:        lineIndex,
			EntrySize:   Elf64RelocationAddendSize,
		},
		obj.encodeEntries([]RelocationEntry{
			{Offset: 8, Info: 1<<32 | uint64(R_X86_64_64), Addend: 4},
			{Offset: 0, Info: 1<<32 | uint64(R_X86_64_32)},
		}))

	obj.add(
		".symtab",
		SectionHeaderEntry{
			SectionType: SectionTypeSymbolTable,
			Link:        strtabIndex,
			EntrySize:   Elf64SymbolEntrySize,
		},
		obj.encodeEntries([]SymbolEntry{
			{},
			{
				NameIndex:    1,
				Info:         0x12, // global function
				SectionIndex: textIndex,
			},
		}))

	obj.add(
		".strtab",
		SectionHeaderEntry{SectionType: SectionTypeStringTable},
		[]byte("\x00main\x00"))

	return obj
}

func (FileSuite) TestParse(t *testing.T) {
	file, err := ParseBytes(relocatableObject().encode())
	expect.Nil(t, err)

	expect.Equal(t, FileTypeRelocatable, file.FileType)
	expect.Equal(t, MachineArchitectureX86_64, file.MachineArchitecture)
	expect.True(t, file.ByteOrder() == binary.LittleEndian)
	expect.Equal(t, 7, len(file.Sections))

	text, ok := file.GetSection(".text")
	expect.True(t, ok)
	expect.Equal(t, textIndex, text.Index())
	content, err := text.RawContent()
	expect.Nil(t, err)
	expect.Equal(t, []byte{0x55, 0xc3}, content)

	line, ok := file.GetSection(".debug_line")
	expect.True(t, ok)

	relocations := line.Relocations()
	expect.NotNil(t, relocations)
	expect.Equal(t, ".rela.debug_line", relocations.Name())
	expect.Equal(t, ".debug_line", relocations.Target.Name())
	expect.Equal(t, 2, len(relocations.Entries))

	// sorted by offset
	first := relocations.Entries[0]
	expect.Equal(t, uint64(0), first.Offset)
	expect.Equal(t, R_X86_64_32, first.RelocationType)
	expect.True(t, first.HasAddend)

	second := relocations.Entries[1]
	expect.Equal(t, uint64(8), second.Offset)
	expect.Equal(t, R_X86_64_64, second.RelocationType)
	expect.Equal(t, int64(4), second.Addend)

	symbol, ok := relocations.Symbol(second.SymbolIndex)
	expect.True(t, ok)
	expect.Equal(t, "main", symbol.PrettyName())
	expect.Equal(t, SymbolTypeFunction, symbol.Type())
	expect.Equal(t, SectionIndex(textIndex), symbol.SectionIndex)

	_, ok = relocations.Symbol(2)
	expect.False(t, ok)

	table, ok := file.SymbolTable()
	expect.True(t, ok)
	expect.Equal(t, 1, len(table.SymbolsByName("main")))

	_, ok = file.GetSection(".debug_info")
	expect.False(t, ok)
}

func (FileSuite) TestNoSpaceSection(t *testing.T) {
	obj := newTestObject()
	obj.add(
		".bss",
		SectionHeaderEntry{
			SectionType:  SectionTypeNoSpace,
			SectionFlags: SectionOccupiesMemory,
			Size:         0x100,
		},
		nil)

	file, err := ParseBytes(obj.encode())
	expect.Nil(t, err)

	bss, ok := file.GetSection(".bss")
	expect.True(t, ok)
	_, err = bss.RawContent()
	expect.Error(t, err, "occupies no file space")
}

func (FileSuite) TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.o")
	expect.Nil(t, os.WriteFile(path, relocatableObject().encode(), 0o644))

	file, err := Open(path)
	expect.Nil(t, err)

	line, ok := file.GetSection(".debug_line")
	expect.True(t, ok)
	content, err := line.RawContent()
	expect.Nil(t, err)
	expect.Equal(t, 16, len(content))

	expect.Nil(t, file.Close())
	expect.Nil(t, file.Close())

	empty := filepath.Join(t.TempDir(), "empty")
	expect.Nil(t, os.WriteFile(empty, nil, 0o644))
	_, err = Open(empty)
	expect.Error(t, err, "empty elf file")
}

func (FileSuite) TestInvalid(t *testing.T) {
	_, err := ParseBytes([]byte("\x7fELF"))
	expect.Error(t, err, "not an elf file")

	obj := relocatableObject()
	obj.header.Magic[1] = 'e'
	_, err = ParseBytes(obj.encode())
	expect.Error(t, err, "invalid elf magic number")

	obj = relocatableObject()
	obj.header.Class = Class32
	_, err = ParseBytes(obj.encode())
	expect.Error(t, err, "unsupported elf class")

	obj = relocatableObject()
	obj.byteOrder = binary.BigEndian
	obj.header.DataEncoding = DataEncodingTwosComplementBigEndian
	_, err = ParseBytes(obj.encode())
	expect.Error(t, err, "invalid data encoding")

	obj = relocatableObject()
	obj.header.MachineArchitecture = MachineArchitectureNone
	_, err = ParseBytes(obj.encode())
	expect.Error(t, err, "unsupported machine architecture")

	obj = relocatableObject()
	obj.sections[lineIndex].header.Size = 0x10000
	obj.sections[lineIndex].content = nil
	obj.sections[lineIndex].header.Offset = 0x10000
	_, err = ParseBytes(obj.encode())
	expect.Error(t, err, "out of bound section")

	obj = relocatableObject()
	obj.sections[relaIndex].header.Link = strtabIndex
	_, err = ParseBytes(obj.encode())
	expect.Error(t, err, "does not point to a symbol table")
}
