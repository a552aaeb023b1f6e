package elf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"fortio.org/safecast"
	"golang.org/x/sys/unix"
)

// Resources:
// https://refspecs.linuxfoundation.org/

type machineSpec struct {
	MachineArchitecture
	DataEncoding
}

var (
	supportedArchitecture = map[MachineArchitecture]machineSpec{
		MachineArchitectureX86_64: machineSpec{
			MachineArchitecture: MachineArchitectureX86_64,
			DataEncoding:        DataEncodingTwosComplementLittleEndian,
		},
		MachineArchitectureAArch64: machineSpec{
			MachineArchitecture: MachineArchitectureAArch64,
			DataEncoding:        DataEncodingTwosComplementLittleEndian,
		},
	}
)

type File struct {
	ElfHeader
	Sections []Section

	byteOrder binary.ByteOrder

	// non-nil when the content is mmap-ed by Open.
	mapped []byte
}

func (file *File) ByteOrder() binary.ByteOrder {
	return file.byteOrder
}

func (file *File) GetSection(name string) (Section, bool) {
	for _, section := range file.Sections {
		if section.Name() == name {
			return section, true
		}
	}

	return nil, false
}

// SymbolTable returns the static symbol table, falling back to the dynamic
// symbol table.
func (file *File) SymbolTable() (*SymbolTableSection, bool) {
	var dynamic *SymbolTableSection
	for _, section := range file.Sections {
		table, ok := section.(*SymbolTableSection)
		if !ok {
			continue
		}

		if table.SectionType == SectionTypeSymbolTable {
			return table, true
		}
		dynamic = table
	}

	return dynamic, dynamic != nil
}

// Close unmaps the file's content.  Sections must not be accessed after
// Close.
func (file *File) Close() error {
	if file.mapped == nil {
		return nil
	}

	content := file.mapped
	file.mapped = nil
	err := unix.Munmap(content)
	if err != nil {
		return fmt.Errorf("failed to unmap elf file: %w", err)
	}
	return nil
}

type parser struct {
	content []byte

	binary.ByteOrder

	File
}

// Open mmaps the named file read-only and parses it.  The returned File must
// be closed.
func Open(path string) (*File, error) {
	osFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open elf file: %w", err)
	}
	defer osFile.Close()

	info, err := osFile.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat elf file: %w", err)
	}

	size, err := safecast.Conv[int](info.Size())
	if err != nil {
		return nil, fmt.Errorf("elf file too large (%d): %w", info.Size(), err)
	}

	if size == 0 {
		return nil, fmt.Errorf("empty elf file %s", path)
	}

	content, err := unix.Mmap(
		int(osFile.Fd()),
		0,
		size,
		unix.PROT_READ,
		unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("failed to mmap elf file: %w", err)
	}

	file, err := ParseBytes(content)
	if err != nil {
		_ = unix.Munmap(content)
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	file.mapped = content
	return file, nil
}

func Parse(reader io.Reader) (*File, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read elf file: %w", err)
	}

	return ParseBytes(content)
}

// ParseBytes parses an elf file.  The returned sections alias content.
func ParseBytes(content []byte) (*File, error) {
	p := parser{
		content: content,
	}

	err := p.parse()
	if err != nil {
		return nil, err
	}

	p.File.byteOrder = p.ByteOrder
	return &p.File, nil
}

func (p *parser) parse() error {
	// NOTE: identifier (e_ident) has no endian-ness.  We must parse identifier
	// to determine the elf file's endian-ness (including the elf header).
	err := p.parseIdentifier()
	if err != nil {
		return err
	}

	err = p.parseHeader()
	if err != nil {
		return err
	}

	return p.parseSectionHeaders()
}

func (p *parser) parseIdentifier() error {
	id := &Identifier{}

	if len(p.content) < ElfIdentifierSize {
		return fmt.Errorf("not an elf file (%d bytes)", len(p.content))
	}

	_, err := binary.Decode(p.content, binary.NativeEndian, id)
	if err != nil {
		return fmt.Errorf("failed to parse identifier: %w", err)
	}

	if !bytes.Equal(id.Magic[:], IdentifierMagic) {
		return fmt.Errorf("invalid elf magic number")
	}

	if id.Class != Class64 {
		return fmt.Errorf("unsupported elf class: %s", id.Class)
	}

	switch id.DataEncoding {
	case DataEncodingTwosComplementLittleEndian:
		p.ByteOrder = binary.LittleEndian
	case DataEncodingTwosComplementBigEndian:
		p.ByteOrder = binary.BigEndian
	default:
		return fmt.Errorf("unsupported data encoding: %s", id.DataEncoding)
	}

	if id.IdentifierVersion != IdentifierVersion {
		return fmt.Errorf(
			"unsupported identifier version: %d",
			id.IdentifierVersion)
	}

	switch id.OperatingSystemABI {
	case OperatingSystemABIUnixSystemV, OperatingSystemABILinux:
	default:
		return fmt.Errorf("unsupported os/abi: %d", id.OperatingSystemABI)
	}

	return nil
}

func (p *parser) parseHeader() error {
	if len(p.content) < Elf64HeaderSize {
		return fmt.Errorf("truncated elf header (%d bytes)", len(p.content))
	}

	_, err := binary.Decode(p.content, p.ByteOrder, &p.ElfHeader)
	if err != nil {
		return fmt.Errorf("failed to parse header: %w", err)
	}

	spec, ok := supportedArchitecture[p.MachineArchitecture]
	if !ok {
		return fmt.Errorf(
			"unsupported machine architecture: %s",
			p.MachineArchitecture)
	}

	if spec.DataEncoding != p.DataEncoding {
		return fmt.Errorf(
			"invalid data encoding (%s) for machine architecture (%s)",
			p.DataEncoding,
			p.MachineArchitecture)
	}

	if p.FormatVersion != FormatVersion {
		return fmt.Errorf("unsupported format version: %d", p.FormatVersion)
	}

	if p.ElfHeaderSize != Elf64HeaderSize {
		return fmt.Errorf("unexpected elf64 header size: %d", p.ElfHeaderSize)
	}

	if p.NumSectionHeaderEntries > 0 &&
		p.SectionHeaderEntrySize != Elf64SectionHeaderEntrySize {

		return fmt.Errorf(
			"unexpected elf64 section header entry size: %d",
			p.SectionHeaderEntrySize)
	}

	// For simplicity, we'll disallow extended section header.  Most elf structs
	// (e.g., Elf64_Sym.st_shndx) don't support extended section indexing.
	if p.SectionHeaderOffset > 0 && p.NumSectionHeaderEntries == 0 {
		return fmt.Errorf("extended section header not supported")
	}

	return nil
}

// sectionContent returns content[offset:offset+size], verifying the range
// lies within the file.
func (p *parser) sectionContent(header SectionHeaderEntry) ([]byte, error) {
	start, err := safecast.Conv[int](header.Offset)
	if err != nil {
		return nil, fmt.Errorf("out of bound section offset (%#x)", header.Offset)
	}

	size, err := safecast.Conv[int](header.Size)
	if err != nil {
		return nil, fmt.Errorf("out of bound section size (%#x)", header.Size)
	}

	if start > len(p.content) || size > len(p.content)-start {
		return nil, fmt.Errorf(
			"out of bound section ([%#x, %#x) > %#x)",
			header.Offset,
			header.Offset+header.Size,
			len(p.content))
	}

	return p.content[start : start+size], nil
}

func (p *parser) parseSectionHeaders() error {
	if p.NumSectionHeaderEntries == 0 {
		return nil
	}

	tableSize := uint64(p.NumSectionHeaderEntries) * Elf64SectionHeaderEntrySize
	if p.SectionHeaderOffset > uint64(len(p.content)) ||
		tableSize > uint64(len(p.content))-p.SectionHeaderOffset {

		return fmt.Errorf(
			"out of bound section header table (%#x)",
			p.SectionHeaderOffset)
	}

	sectionHeaders := make([]SectionHeaderEntry, p.NumSectionHeaderEntries)
	_, err := binary.Decode(
		p.content[p.SectionHeaderOffset:],
		p.ByteOrder,
		sectionHeaders)
	if err != nil {
		return fmt.Errorf("failed to read section header entries: %w", err)
	}

	for idx, header := range sectionHeaders {
		var sectionContent []byte
		if header.SectionType != SectionTypeNoSpace &&
			header.SectionType != SectionTypeNull {

			sectionContent, err = p.sectionContent(header)
			if err != nil {
				return fmt.Errorf("section %d: %w", idx, err)
			}
		}

		switch header.SectionType {
		case SectionTypeStringTable:
			p.Sections = append(
				p.Sections,
				NewStringTableSection(idx, header, sectionContent))
		case SectionTypeSymbolTable,
			SectionTypeDynamicSymbolTable:

			table, err := p.parseSymbolTable(idx, header, sectionContent)
			if err != nil {
				return err
			}
			p.Sections = append(p.Sections, table)
		case SectionTypeRelocationWithAddends,
			SectionTypeRelocationNoAddends:

			relocations, err := p.parseRelocations(idx, header, sectionContent)
			if err != nil {
				return err
			}
			p.Sections = append(p.Sections, relocations)
		default:
			p.Sections = append(
				p.Sections,
				newRawSection(idx, header, sectionContent))
		}
	}

	// Bind section names
	if p.SectionStringTableIndex != SectionIndexUndefined {
		idx := int(p.SectionStringTableIndex)
		if idx >= len(p.Sections) {
			return fmt.Errorf(
				"section name index out of bound (%d >= %d)",
				idx,
				len(p.Sections))
		}

		table, ok := p.Sections[idx].(*StringTableSection)
		if !ok {
			return fmt.Errorf("section name index does not point to a string table")
		}

		for _, section := range p.Sections {
			section.BindSectionNameTable(table)
		}
	}

	// Bind sh_link section
	// See elf spec. Figure 1-12. sh_link and sh_info Interpretation.
	for _, section := range p.Sections {
		hdr := section.Header()

		if hdr.Link == 0 { // section 0 is always undefined
			continue
		}

		switch hdr.SectionType {
		case SectionTypeSymbolTable,
			SectionTypeDynamicSymbolTable:
			if hdr.Link >= uint32(len(p.Sections)) {
				return fmt.Errorf(
					"string table index out of bound (%d >= %d)",
					hdr.Link,
					len(p.Sections))
			}

			table, ok := p.Sections[hdr.Link].(*StringTableSection)
			if !ok {
				return fmt.Errorf("string table index does not point to a string table")
			}

			section.BindStringTable(table)
		case SectionTypeRelocationWithAddends,
			SectionTypeRelocationNoAddends:

			if hdr.Link >= uint32(len(p.Sections)) {
				return fmt.Errorf(
					"symbol table index out of bound (%d >= %d)",
					hdr.Link,
					len(p.Sections))
			}

			table, ok := p.Sections[hdr.Link].(*SymbolTableSection)
			if !ok {
				return fmt.Errorf(
					"symbol table index (%d) does not point to a symbol table (%s)",
					hdr.Link,
					p.Sections[hdr.Link].Name())
			}

			section.BindSymbolTable(table)
		}
	}

	// Bind sh_info section
	for _, section := range p.Sections {
		relocations, ok := section.(*RelocationSection)
		if !ok {
			continue
		}

		hdr := relocations.Header()
		if hdr.Info == 0 { // e.g., dynamic relocations
			continue
		}

		if hdr.Info >= uint32(len(p.Sections)) {
			return fmt.Errorf(
				"relocation target index out of bound (%d >= %d)",
				hdr.Info,
				len(p.Sections))
		}

		target := p.Sections[hdr.Info]
		relocations.Target = target
		target.BindRelocations(relocations)
	}

	return nil
}

func (p *parser) parseSymbolTable(
	index int,
	header SectionHeaderEntry,
	content []byte,
) (
	*SymbolTableSection,
	error,
) {
	if len(content)%Elf64SymbolEntrySize != 0 {
		return nil, fmt.Errorf("invalid symbol table size (%d)", len(content))
	}

	numEntries := len(content) / Elf64SymbolEntrySize
	rawEntries := make([]SymbolEntry, numEntries)
	_, err := binary.Decode(content, p.ByteOrder, rawEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to parse symbol table: %w", err)
	}

	table := &SymbolTableSection{
		BaseSection: newBaseSection(index, header),
	}

	symbols := make([]*Symbol, 0, numEntries)
	for _, entry := range rawEntries {
		symbols = append(
			symbols,
			&Symbol{
				SymbolEntry: entry,
				Parent:      table,
			})
	}

	table.Symbols = symbols
	return table, nil
}

func (p *parser) parseRelocations(
	index int,
	header SectionHeaderEntry,
	content []byte,
) (
	*RelocationSection,
	error,
) {
	hasAddend := header.SectionType == SectionTypeRelocationWithAddends
	entrySize := Elf64RelocationSize
	if hasAddend {
		entrySize = Elf64RelocationAddendSize
	}

	if len(content)%entrySize != 0 {
		return nil, fmt.Errorf(
			"invalid relocation section size (%d) for entry size %d",
			len(content),
			entrySize)
	}

	numEntries := len(content) / entrySize
	relocations := make([]Relocation, 0, numEntries)
	for idx := 0; idx < numEntries; idx++ {
		entry := content[idx*entrySize : (idx+1)*entrySize]

		info := p.Uint64(entry[8:16])
		relocation := Relocation{
			Offset:         p.Uint64(entry[0:8]),
			RelocationType: RelocationType(info & 0xffffffff),
			SymbolIndex:    uint32(info >> 32),
			HasAddend:      hasAddend,
		}

		if hasAddend {
			relocation.Addend = int64(p.Uint64(entry[16:24]))
		}

		relocations = append(relocations, relocation)
	}

	sort.SliceStable(
		relocations,
		func(i int, j int) bool {
			return relocations[i].Offset < relocations[j].Offset
		})

	return &RelocationSection{
		BaseSection: newBaseSection(index, header),
		Entries:     relocations,
	}, nil
}
