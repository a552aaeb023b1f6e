package diag

import (
	"fmt"
	"strings"
)

// Where locates a diagnostic: a section, and up to two levels of offsets
// within it (e.g., a line table and an opcode in that table).  Ref optionally
// points to the location that referred to this one.
type Where struct {
	Section string
	Unit    uint64
	Offset  uint64
	Depth   int
	Ref     *Where
}

var unitLabels = map[string][2]string{
	".debug_info":   {"CU", "DIE"},
	".debug_line":   {"table", "offset"},
	".debug_abbrev": {"abbr. table", "offset"},
	".debug_ranges": {"rangelist", "offset"},
	".debug_str":    {"offset", "offset"},
}

func At(section string) Where {
	return Where{Section: section}
}

// AtUnit returns a copy of where pointing at the given unit offset.  Any
// nested offset is dropped.
func (where Where) AtUnit(offset uint64) Where {
	where.Unit = offset
	where.Offset = 0
	where.Depth = 1
	return where
}

// AtOffset returns a copy of where pointing at the given offset within the
// current unit.
func (where Where) AtOffset(offset uint64) Where {
	where.Offset = offset
	if where.Depth < 1 {
		where.Unit = offset
		where.Depth = 1
	} else {
		where.Depth = 2
	}
	return where
}

func (where Where) ReferencedFrom(ref Where) Where {
	where.Ref = &ref
	return where
}

func (where Where) location() string {
	labels, ok := unitLabels[where.Section]
	if !ok {
		labels = [2]string{"offset", "offset"}
	}

	parts := []string{}
	if where.Depth >= 1 {
		parts = append(parts, fmt.Sprintf("%s %#x", labels[0], where.Unit))
	}
	if where.Depth >= 2 {
		parts = append(parts, fmt.Sprintf("%s %#x", labels[1], where.Offset))
	}

	if len(parts) == 0 {
		return where.Section
	}
	return where.Section + ": " + strings.Join(parts, ", ")
}

func (where Where) String() string {
	result := where.location()
	if where.Ref != nil {
		result += " (referenced from " + where.Ref.location() + ")"
	}
	return result
}
