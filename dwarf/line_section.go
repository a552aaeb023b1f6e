package dwarf

import (
	"fmt"
)

const (
	DW_LNS_copy               = 0x01
	DW_LNS_advance_pc         = 0x02
	DW_LNS_advance_line       = 0x03
	DW_LNS_set_file           = 0x04
	DW_LNS_set_column         = 0x05
	DW_LNS_negate_stmt        = 0x06
	DW_LNS_set_basic_block    = 0x07
	DW_LNS_const_add_pc       = 0x08
	DW_LNS_fixed_advance_pc   = 0x09
	DW_LNS_set_prologue_end   = 0x0a
	DW_LNS_set_epilogue_begin = 0x0b
	DW_LNS_set_isa            = 0x0c

	DW_LNE_end_sequence      = 0x01
	DW_LNE_set_address       = 0x02
	DW_LNE_define_file       = 0x03
	DW_LNE_set_discriminator = 0x04
	DW_LNE_lo_user           = 0x80
	DW_LNE_hi_user           = 0xff

	// The opcode base used by dwarf 3 (and 4) producers.
	StandardOpcodeBase = 13
)

var (
	// Operand counts for DW_LNS_copy ... DW_LNS_set_isa.
	StandardOpcodeLengths = []uint8{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1}
)

func IsKnownStandardOpcode(opcode uint8) bool {
	return DW_LNS_copy <= opcode && opcode <= DW_LNS_set_isa
}

func IsKnownExtendedOpcode(opcode uint8) bool {
	switch {
	case DW_LNE_end_sequence <= opcode && opcode <= DW_LNE_set_discriminator:
		return true
	case DW_LNE_lo_user <= opcode: // vendor extensions
		return true
	}
	return false
}

func StandardOpcodeName(opcode uint8) string {
	switch opcode {
	case DW_LNS_copy:
		return "DW_LNS_copy"
	case DW_LNS_advance_pc:
		return "DW_LNS_advance_pc"
	case DW_LNS_advance_line:
		return "DW_LNS_advance_line"
	case DW_LNS_set_file:
		return "DW_LNS_set_file"
	case DW_LNS_set_column:
		return "DW_LNS_set_column"
	case DW_LNS_negate_stmt:
		return "DW_LNS_negate_stmt"
	case DW_LNS_set_basic_block:
		return "DW_LNS_set_basic_block"
	case DW_LNS_const_add_pc:
		return "DW_LNS_const_add_pc"
	case DW_LNS_fixed_advance_pc:
		return "DW_LNS_fixed_advance_pc"
	case DW_LNS_set_prologue_end:
		return "DW_LNS_set_prologue_end"
	case DW_LNS_set_epilogue_begin:
		return "DW_LNS_set_epilogue_begin"
	case DW_LNS_set_isa:
		return "DW_LNS_set_isa"
	default:
		return fmt.Sprintf("DW_LNS_unknown_%d", opcode)
	}
}

func ExtendedOpcodeName(opcode uint8) string {
	switch opcode {
	case DW_LNE_end_sequence:
		return "DW_LNE_end_sequence"
	case DW_LNE_set_address:
		return "DW_LNE_set_address"
	case DW_LNE_define_file:
		return "DW_LNE_define_file"
	case DW_LNE_set_discriminator:
		return "DW_LNE_set_discriminator"
	default:
		return fmt.Sprintf("DW_LNE_unknown_%d", opcode)
	}
}
