package checks

import (
	"bytes"
	"fmt"

	"github.com/pattyshack/dwarflint/coverage"
	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/dwarf"
	"github.com/pattyshack/dwarflint/lint"
)

// StringCoverage is the debug_str check's result.
type StringCoverage struct {
	// Bytes of .debug_str covered by referenced strings, terminators
	// included.
	Coverage *coverage.Set

	Checked int
	Invalid int
}

func newStringCoverage(session *lint.Session) (interface{}, error) {
	sections, ok, err := lint.Get[*Sections](session, ElfSectionsCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: elf sections not loaded", lint.ErrUnavailable)
	}

	info, ok, err := lint.Get[*DebugInfo](session, DebugInfoCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no string references", lint.ErrUnavailable)
	}

	data, ok := sections.Get(dwarf.ElfDebugStringSection)
	if !ok {
		if len(info.StrRefs) > 0 {
			diag.Errorf(
				session,
				info.StrRefs[0].Where,
				diag.CategoryString|diag.CategoryImpact4,
				"%d references to missing %s section",
				len(info.StrRefs),
				dwarf.ElfDebugStringSection)
		}

		return nil, fmt.Errorf(
			"%w: no %s section",
			lint.ErrUnavailable,
			dwarf.ElfDebugStringSection)
	}

	return CheckStrings(data, info.StrRefs, session), nil
}

// CheckStrings resolves every DW_FORM_strp reference against data and
// reports the bytes no reference covers.
func CheckStrings(
	data *SectionData,
	refs []Reference,
	reporter diag.Reporter,
) *StringCoverage {
	result := &StringCoverage{
		Coverage: &coverage.Set{},
	}

	size := data.Size()
	for _, ref := range refs {
		result.Checked++

		if ref.Target >= size {
			result.Invalid++
			diag.Errorf(
				reporter,
				ref.Where,
				diag.CategoryString|diag.CategoryImpact4,
				"invalid offset %#x into %s (section size %#x)",
				ref.Target,
				data.Name,
				size)
			continue
		}

		idx := bytes.IndexByte(data.Content[ref.Target:], 0)
		if idx < 0 {
			result.Invalid++
			diag.Errorf(
				reporter,
				ref.Where,
				diag.CategoryString|diag.CategoryImpact3,
				"string at %#x in %s is not NUL-terminated",
				ref.Target,
				data.Name)
			continue
		}

		result.Coverage.Add(ref.Target, uint64(idx)+1)
	}

	reportHoles(
		result.Coverage,
		data.Content,
		reporter,
		diag.At(data.Name),
		diag.CategoryString)

	return result
}
