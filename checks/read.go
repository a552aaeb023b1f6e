package checks

import (
	"github.com/pattyshack/dwarflint/coverage"
	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/dwarf"
)

// readULEB128 reads a ULEB128 value, reporting an error on failure and a
// warning if the value is encoded with more bytes than necessary.
func readULEB128(
	cursor *dwarf.Cursor,
	reporter diag.Reporter,
	where diag.Where,
	category diag.Category,
	what string,
) (
	uint64,
	bool,
) {
	start := cursor.Position
	value, err := cursor.ULEB128(64)
	if err != nil {
		diag.Errorf(reporter, where, category, "can't read %s: %s", what, err)
		return 0, false
	}

	if cursor.Position-start > dwarf.ULEB128Size(value) {
		diag.Warnf(
			reporter,
			where,
			category|diag.CategoryLEB128|diag.CategoryImpact2,
			"unnecessarily long encoding of %s (%#x)",
			what,
			value)
	}

	return value, true
}

// checkZeroPadding checks that [cursor.Position, end) holds only zero bytes.
// Zero padding is reported as bloat.  Non-zero bytes are reported as
// unreferenced.  The cursor is left at end either way.
func checkZeroPadding(
	cursor *dwarf.Cursor,
	end int,
	reporter diag.Reporter,
	where diag.Where,
	category diag.Category,
) bool {
	start := cursor.Position
	if start >= end {
		return true
	}

	isZero := cursor.SkipZeroPadding(end)
	if isZero {
		diag.Warnf(
			reporter,
			where,
			category|diag.CategoryBloat|diag.CategoryImpact1,
			"%s: unnecessary padding with zero bytes",
			coverage.FormatRange(uint64(start), uint64(end)))
	} else {
		diag.Warnf(
			reporter,
			where,
			category|diag.CategoryImpact2,
			"%s: unreferenced non-zero bytes",
			coverage.FormatRange(uint64(start), uint64(end)))
	}

	err := cursor.SeekTo(end)
	if err != nil {
		panic("should never happen")
	}
	return isZero
}

// reportHoles reports every byte range of content not covered by covered,
// in the same manner as checkZeroPadding.
func reportHoles(
	covered *coverage.Set,
	content []byte,
	reporter diag.Reporter,
	where diag.Where,
	category diag.Category,
) {
	cursor := dwarf.NewCursor(nil, content)
	covered.FindHoles(
		0,
		uint64(len(content)),
		func(start uint64, length uint64) bool {
			cursor.Position = int(start)
			checkZeroPadding(
				cursor,
				int(start+length),
				reporter,
				where,
				category)
			return true
		})
}
