// NOTE: form values are from dwarf 4 section 7.5.4.

package dwarf

import (
	"fmt"
)

type Format uint64

const (
	DW_FORM_addr         = Format(0x01)
	DW_FORM_block2       = Format(0x03)
	DW_FORM_block4       = Format(0x04)
	DW_FORM_data2        = Format(0x05)
	DW_FORM_data4        = Format(0x06)
	DW_FORM_data8        = Format(0x07)
	DW_FORM_string       = Format(0x08)
	DW_FORM_block        = Format(0x09)
	DW_FORM_block1       = Format(0x0a)
	DW_FORM_data1        = Format(0x0b)
	DW_FORM_flag         = Format(0x0c)
	DW_FORM_sdata        = Format(0x0d)
	DW_FORM_strp         = Format(0x0e)
	DW_FORM_udata        = Format(0x0f)
	DW_FORM_ref_addr     = Format(0x10)
	DW_FORM_ref1         = Format(0x11)
	DW_FORM_ref2         = Format(0x12)
	DW_FORM_ref4         = Format(0x13)
	DW_FORM_ref8         = Format(0x14)
	DW_FORM_ref_udata    = Format(0x15)
	DW_FORM_indirect     = Format(0x16)
	DW_FORM_sec_offset   = Format(0x17)
	DW_FORM_exprloc      = Format(0x18)
	DW_FORM_flag_present = Format(0x19)
	DW_FORM_ref_sig8     = Format(0x20)
)

var formNames = map[Format]string{
	DW_FORM_addr:         "DW_FORM_addr",
	DW_FORM_block2:       "DW_FORM_block2",
	DW_FORM_block4:       "DW_FORM_block4",
	DW_FORM_data2:        "DW_FORM_data2",
	DW_FORM_data4:        "DW_FORM_data4",
	DW_FORM_data8:        "DW_FORM_data8",
	DW_FORM_string:       "DW_FORM_string",
	DW_FORM_block:        "DW_FORM_block",
	DW_FORM_block1:       "DW_FORM_block1",
	DW_FORM_data1:        "DW_FORM_data1",
	DW_FORM_flag:         "DW_FORM_flag",
	DW_FORM_sdata:        "DW_FORM_sdata",
	DW_FORM_strp:         "DW_FORM_strp",
	DW_FORM_udata:        "DW_FORM_udata",
	DW_FORM_ref_addr:     "DW_FORM_ref_addr",
	DW_FORM_ref1:         "DW_FORM_ref1",
	DW_FORM_ref2:         "DW_FORM_ref2",
	DW_FORM_ref4:         "DW_FORM_ref4",
	DW_FORM_ref8:         "DW_FORM_ref8",
	DW_FORM_ref_udata:    "DW_FORM_ref_udata",
	DW_FORM_indirect:     "DW_FORM_indirect",
	DW_FORM_sec_offset:   "DW_FORM_sec_offset",
	DW_FORM_exprloc:      "DW_FORM_exprloc",
	DW_FORM_flag_present: "DW_FORM_flag_present",
	DW_FORM_ref_sig8:     "DW_FORM_ref_sig8",
}

func (format Format) String() string {
	name, ok := formNames[format]
	if ok {
		return name
	}
	return fmt.Sprintf("DW_FORM_unknown_%#x", uint64(format))
}

// AllowedIn returns true if the form is defined by the given dwarf version.
// Forms 0x17 through 0x20 were introduced in dwarf 4.
func (format Format) AllowedIn(version uint16) bool {
	if _, ok := formNames[format]; !ok {
		return false
	}

	switch format {
	case DW_FORM_sec_offset,
		DW_FORM_exprloc,
		DW_FORM_flag_present,
		DW_FORM_ref_sig8:

		return version >= 4
	}

	return version >= 2
}

// IsReference returns true for forms that refer to another debug info entry.
func (format Format) IsReference() bool {
	switch format {
	case DW_FORM_ref_addr,
		DW_FORM_ref1,
		DW_FORM_ref2,
		DW_FORM_ref4,
		DW_FORM_ref8,
		DW_FORM_ref_udata:

		return true
	}
	return false
}

// IsConstant returns true for forms of the constant class.
func (format Format) IsConstant() bool {
	switch format {
	case DW_FORM_data1,
		DW_FORM_data2,
		DW_FORM_data4,
		DW_FORM_data8,
		DW_FORM_udata,
		DW_FORM_sdata:

		return true
	}
	return false
}

// IsSectionPointer returns true if the form can encode an offset into
// another debug section (e.g., DW_AT_stmt_list's .debug_line offset).  In
// dwarf 2 and 3, data4 and data8 double as section pointers.
func (format Format) IsSectionPointer(version uint16) bool {
	switch format {
	case DW_FORM_sec_offset:
		return true
	case DW_FORM_data4, DW_FORM_data8:
		return version < 4
	}
	return false
}
