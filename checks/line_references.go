package checks

import (
	"fmt"

	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/dwarf"
	"github.com/pattyshack/dwarflint/lint"
)

// LineReferences is the line_references check's result.
type LineReferences struct {
	Checked    int
	Unresolved int
	Unused     int
}

func newLineReferences(session *lint.Session) (interface{}, error) {
	tables, ok, err := lint.Get[*LineTables](session, DebugLineCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no line tables", lint.ErrUnavailable)
	}

	info, ok, err := lint.Get[*DebugInfo](session, DebugInfoCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Nothing to cross check against.
		return &LineReferences{}, nil
	}

	return CheckLineReferences(tables, info.LineRefs, session), nil
}

// CheckLineReferences reports every reference that does not point at the
// start of a line table, and every line table nothing refers to.
func CheckLineReferences(
	tables *LineTables,
	refs []Reference,
	reporter diag.Reporter,
) *LineReferences {
	result := &LineReferences{}

	referenced := map[uint64]struct{}{}
	for _, ref := range refs {
		result.Checked++
		referenced[ref.Target] = struct{}{}

		if !tables.HasTable(ref.Target) {
			result.Unresolved++
			diag.Errorf(
				reporter,
				ref.Where,
				diag.CategoryLine|diag.CategoryInfo|diag.CategoryImpact4,
				"unresolved reference to %s table %#x",
				dwarf.ElfDebugLineSection,
				ref.Target)
		}
	}

	for _, offset := range tables.Offsets {
		_, ok := referenced[offset]
		if ok {
			continue
		}

		result.Unused++
		diag.Warnf(
			reporter,
			diag.At(dwarf.ElfDebugLineSection).AtUnit(offset),
			diag.CategoryLine|diag.CategoryBloat|diag.CategoryImpact3,
			"line table is not referenced by any unit")
	}

	return result
}
