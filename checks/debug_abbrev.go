package checks

import (
	"fmt"

	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/dwarf"
	"github.com/pattyshack/dwarflint/lint"
)

const abbrevCategory = diag.CategoryAbbrev

type AttributeSpec struct {
	dwarf.Attribute
	dwarf.Format
}

type Abbreviation struct {
	diag.Where

	Code uint64
	dwarf.Tag
	HasChildren    bool
	AttributeSpecs []AttributeSpec
}

type AbbreviationTable struct {
	Offset        uint64
	Abbreviations map[uint64]*Abbreviation
}

// AbbreviationTables is the debug_abbrev check's result, keyed by table
// offset.
type AbbreviationTables map[uint64]*AbbreviationTable

func newAbbreviationTables(session *lint.Session) (interface{}, error) {
	sections, ok, err := lint.Get[*Sections](session, ElfSectionsCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: elf sections not loaded", lint.ErrUnavailable)
	}

	data, ok := sections.Get(dwarf.ElfDebugAbbreviationSection)
	if !ok {
		return nil, fmt.Errorf(
			"%w: no %s section",
			lint.ErrUnavailable,
			dwarf.ElfDebugAbbreviationSection)
	}

	tables, complete := CheckAbbreviations(
		sections.Cursor(data),
		data.Name,
		session)
	if !complete {
		return nil, fmt.Errorf(
			"%w: %s could not be parsed",
			lint.ErrUnavailable,
			data.Name)
	}

	return tables, nil
}

// CheckAbbreviations parses every abbreviation table in the section.  The
// returned bool is false if the section could not be parsed to the end.
func CheckAbbreviations(
	decode *dwarf.Cursor,
	sectionName string,
	reporter diag.Reporter,
) (
	AbbreviationTables,
	bool,
) {
	tables := AbbreviationTables{}

	for !decode.HasReachedEnd() {
		tableOffset := decode.Offset()
		tableWhere := diag.At(sectionName).AtUnit(tableOffset)

		table := &AbbreviationTable{
			Offset:        tableOffset,
			Abbreviations: map[uint64]*Abbreviation{},
		}

		for {
			where := tableWhere.AtOffset(decode.Offset())

			code, ok := readULEB128(
				decode,
				reporter,
				where,
				abbrevCategory,
				"abbrev code")
			if !ok {
				return tables, false
			}

			if code == 0 {
				break
			}

			abbrev, ok := parseAbbreviation(decode, reporter, where, code)
			if !ok {
				return tables, false
			}

			_, dup := table.Abbreviations[code]
			if dup {
				diag.Errorf(
					reporter,
					where,
					abbrevCategory,
					"duplicate abbreviation code %d",
					code)
				continue
			}

			table.Abbreviations[code] = abbrev
		}

		if len(table.Abbreviations) == 0 {
			// Trailing zero bytes parse as a run of empty tables.
			padding := decode.Clone()
			padding.Position = int(tableOffset)
			if !decode.HasReachedEnd() && padding.SkipZeroPadding(decode.End) {
				decode.Position = int(tableOffset)
				checkZeroPadding(
					decode,
					decode.End,
					reporter,
					tableWhere,
					abbrevCategory)
				break
			}

			diag.Warnf(
				reporter,
				tableWhere,
				abbrevCategory|diag.CategoryBloat|diag.CategoryImpact1,
				"empty abbreviation table")
		}

		tables[tableOffset] = table
	}

	return tables, true
}

func parseAbbreviation(
	decode *dwarf.Cursor,
	reporter diag.Reporter,
	where diag.Where,
	code uint64,
) (
	*Abbreviation,
	bool,
) {
	tag, ok := readULEB128(decode, reporter, where, abbrevCategory, "abbrev tag")
	if !ok {
		return nil, false
	}

	if tag == 0 {
		diag.Errorf(reporter, where, abbrevCategory, "invalid abbrev tag 0")
	}

	hasChildren, err := decode.U8()
	if err != nil {
		diag.Errorf(
			reporter,
			where,
			abbrevCategory,
			"can't read abbrev has_children: %s",
			err)
		return nil, false
	}

	if hasChildren != dwarf.DW_CHILDREN_no && hasChildren != dwarf.DW_CHILDREN_yes {
		diag.Errorf(
			reporter,
			where,
			abbrevCategory,
			"invalid has_children value %#x",
			hasChildren)
	}

	abbrev := &Abbreviation{
		Where:       where,
		Code:        code,
		Tag:         dwarf.Tag(tag),
		HasChildren: hasChildren != dwarf.DW_CHILDREN_no,
	}

	seen := map[dwarf.Attribute]struct{}{}
	for {
		attrWhere := where.AtOffset(decode.Offset())

		attribute, ok := readULEB128(
			decode,
			reporter,
			attrWhere,
			abbrevCategory,
			"attribute name")
		if !ok {
			return nil, false
		}

		format, ok := readULEB128(
			decode,
			reporter,
			attrWhere,
			abbrevCategory,
			"attribute form")
		if !ok {
			return nil, false
		}

		if attribute == 0 && format == 0 {
			break
		}

		if attribute == 0 || format == 0 {
			diag.Errorf(
				reporter,
				attrWhere,
				abbrevCategory,
				"invalid attribute/form pair (%#x, %#x)",
				attribute,
				format)
			continue
		}

		spec := AttributeSpec{
			Attribute: dwarf.Attribute(attribute),
			Format:    dwarf.Format(format),
		}

		if !spec.Format.AllowedIn(maxInfoVersion) {
			diag.Errorf(
				reporter,
				attrWhere,
				abbrevCategory,
				"invalid form %s for attribute %s",
				spec.Format,
				spec.Attribute)
		}

		_, dup := seen[spec.Attribute]
		if dup {
			diag.Errorf(
				reporter,
				attrWhere,
				abbrevCategory,
				"duplicate attribute %s",
				spec.Attribute)
		}
		seen[spec.Attribute] = struct{}{}

		if spec.Attribute == dwarf.DW_AT_sibling && !abbrev.HasChildren {
			diag.Warnf(
				reporter,
				attrWhere,
				abbrevCategory|diag.CategoryBloat|diag.CategoryImpact1,
				"excessive DW_AT_sibling attribute at childless abbrev")
		}

		abbrev.AttributeSpecs = append(abbrev.AttributeSpecs, spec)
	}

	return abbrev, true
}
