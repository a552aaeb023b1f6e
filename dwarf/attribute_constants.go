package dwarf

import (
	"fmt"
)

// Only the attributes the checks care about are named.  See dwarf 4 table
// 7.5 for the full list.
type Attribute uint64

const (
	DW_AT_sibling   = Attribute(0x01)
	DW_AT_location  = Attribute(0x02)
	DW_AT_name      = Attribute(0x03)
	DW_AT_stmt_list = Attribute(0x10)
	DW_AT_low_pc    = Attribute(0x11)
	DW_AT_high_pc   = Attribute(0x12)
	DW_AT_language  = Attribute(0x13)
	DW_AT_comp_dir  = Attribute(0x1b)
	DW_AT_producer  = Attribute(0x25)
	DW_AT_ranges    = Attribute(0x55)
	DW_AT_lo_user   = Attribute(0x2000)
	DW_AT_hi_user   = Attribute(0x3fff)
)

func (attr Attribute) String() string {
	switch attr {
	case DW_AT_sibling:
		return "DW_AT_sibling"
	case DW_AT_location:
		return "DW_AT_location"
	case DW_AT_name:
		return "DW_AT_name"
	case DW_AT_stmt_list:
		return "DW_AT_stmt_list"
	case DW_AT_low_pc:
		return "DW_AT_low_pc"
	case DW_AT_high_pc:
		return "DW_AT_high_pc"
	case DW_AT_language:
		return "DW_AT_language"
	case DW_AT_comp_dir:
		return "DW_AT_comp_dir"
	case DW_AT_producer:
		return "DW_AT_producer"
	case DW_AT_ranges:
		return "DW_AT_ranges"
	default:
		return fmt.Sprintf("DW_AT_%#x", uint64(attr))
	}
}

// See dwarf 4 figure 18.  Only the tags that matter for unit headers are
// named.
type Tag uint64

const (
	DW_TAG_compile_unit = Tag(0x11)
	DW_TAG_partial_unit = Tag(0x3c)
	DW_TAG_type_unit    = Tag(0x41)
)

func (tag Tag) String() string {
	switch tag {
	case DW_TAG_compile_unit:
		return "DW_TAG_compile_unit"
	case DW_TAG_partial_unit:
		return "DW_TAG_partial_unit"
	case DW_TAG_type_unit:
		return "DW_TAG_type_unit"
	default:
		return fmt.Sprintf("DW_TAG_%#x", uint64(tag))
	}
}

const (
	DW_CHILDREN_no  = 0x00
	DW_CHILDREN_yes = 0x01
)
