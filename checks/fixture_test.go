package checks

import (
	"encoding/binary"

	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/dwarf"
	"github.com/pattyshack/dwarflint/elf"
	"github.com/pattyshack/dwarflint/lint"
)

// encoder assembles little endian test fixtures.
type encoder struct {
	content []byte
}

func (enc *encoder) u8(values ...uint8) *encoder {
	enc.content = append(enc.content, values...)
	return enc
}

func (enc *encoder) u16(value uint16) *encoder {
	enc.content = binary.LittleEndian.AppendUint16(enc.content, value)
	return enc
}

func (enc *encoder) u32(value uint32) *encoder {
	enc.content = binary.LittleEndian.AppendUint32(enc.content, value)
	return enc
}

func (enc *encoder) u64(value uint64) *encoder {
	enc.content = binary.LittleEndian.AppendUint64(enc.content, value)
	return enc
}

func (enc *encoder) uleb(value uint64) *encoder {
	enc.content = dwarf.AppendULEB128(enc.content, value)
	return enc
}

func (enc *encoder) sleb(value int64) *encoder {
	enc.content = dwarf.AppendSLEB128(enc.content, value)
	return enc
}

func (enc *encoder) str(value string) *encoder {
	enc.content = append(enc.content, value...)
	enc.content = append(enc.content, 0)
	return enc
}

func (enc *encoder) bytes(content []byte) *encoder {
	enc.content = append(enc.content, content...)
	return enc
}

// unit prefixes body with a 32-bit initial length.
func (enc *encoder) unit(body []byte) *encoder {
	return enc.u32(uint32(len(body))).bytes(body)
}

type lineFile struct {
	name string
	dir  uint64
}

// lineUnitFixture describes a version 3 line number program unit with the
// standard opcode base.
type lineUnitFixture struct {
	version     uint16
	directories []string
	files       []lineFile
	program     []byte

	// added to the correct header_length
	headerLengthDelta int
}

func (fixture lineUnitFixture) header() []byte {
	header := &encoder{}
	header.u8(1)    // minimum_instruction_length
	header.u8(1)    // default_is_stmt
	header.u8(0xfb) // line_base (-5)
	header.u8(14)   // line_range
	header.u8(dwarf.StandardOpcodeBase)
	header.u8(dwarf.StandardOpcodeLengths...)

	for _, dir := range fixture.directories {
		header.str(dir)
	}
	header.u8(0)

	for _, file := range fixture.files {
		header.str(file.name).uleb(file.dir).uleb(0).uleb(0)
	}
	header.u8(0)

	return header.content
}

func (fixture lineUnitFixture) body() []byte {
	version := fixture.version
	if version == 0 {
		version = 3
	}

	header := fixture.header()

	body := &encoder{}
	body.u16(version)
	body.u32(uint32(len(header) + fixture.headerLengthDelta))
	body.bytes(header)
	body.bytes(fixture.program)
	return body.content
}

func (fixture lineUnitFixture) encode() []byte {
	return (&encoder{}).unit(fixture.body()).content
}

// program assembles line number program opcodes.
type program struct {
	encoder
}

func (prog *program) op(opcode uint8, operands ...uint64) *program {
	prog.u8(opcode)
	for _, operand := range operands {
		prog.uleb(operand)
	}
	return prog
}

func (prog *program) extended(opcode uint8, operands []byte) *program {
	prog.u8(0).uleb(uint64(len(operands) + 1)).u8(opcode).bytes(operands)
	return prog
}

func (prog *program) setAddress(address uint64) *program {
	operand := binary.LittleEndian.AppendUint64(nil, address)
	return prog.extended(dwarf.DW_LNE_set_address, operand)
}

func (prog *program) endSequence() *program {
	return prog.extended(dwarf.DW_LNE_end_sequence, nil)
}

func (prog *program) assemble() []byte {
	return prog.content
}

// newTestSections returns an executable's sections holding the given
// debug section contents.
func newTestSections(contents map[string][]byte) *Sections {
	sections := &Sections{
		ByteOrder:   binary.LittleEndian,
		AddressSize: 8,
		FileType:    elf.FileTypeExecutable,
		Machine:     elf.MachineArchitectureX86_64,
		ByName:      map[string]*SectionData{},
		ByIndex:     []*SectionData{{Index: 0}},
	}

	for _, name := range dwarf.DebugSectionNames {
		content, ok := contents[name]
		if !ok {
			continue
		}
		sections.add(&SectionData{Name: name, Content: content})
	}

	return sections
}

func (sections *Sections) add(data *SectionData) *SectionData {
	data.Index = len(sections.ByIndex)
	sections.ByIndex = append(sections.ByIndex, data)
	sections.ByName[data.Name] = data
	return data
}

func newTestSession(sections *Sections, bag *diag.Bag) *lint.Session {
	session, err := lint.NewSession(NewRegistry(), bag)
	if err != nil {
		panic(err)
	}

	err = session.Provide(ElfSectionsCheck, sections)
	if err != nil {
		panic(err)
	}

	return session
}

func messages(diagnostics []diag.Diagnostic) []string {
	result := []string{}
	for _, d := range diagnostics {
		result = append(result, d.Message)
	}
	return result
}
