package checks

import (
	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/elf"
)

type relocationSkip int

const (
	// relocations before the requested offset point at data the checker
	// decoded but which should not be relocated.
	skipMismatched = relocationSkip(iota)

	// relocations before the requested offset point at data the checker
	// never decoded.
	skipUnreferenced
)

// relocationTarget describes what a relocated datum points to.  An empty
// section name means the datum is an address.
type relocationTarget struct {
	section string
}

var relocateAddress = relocationTarget{}

func relocateOffsetInto(section string) relocationTarget {
	return relocationTarget{section: section}
}

// relocationCursor walks a section's relocations in offset order, in
// lockstep with a checker decoding the section.
type relocationCursor struct {
	diag.Reporter

	sections *Sections
	data     *SectionData
	index    int
}

func newRelocationCursor(
	sections *Sections,
	data *SectionData,
	reporter diag.Reporter,
) *relocationCursor {
	return &relocationCursor{
		Reporter: reporter,
		sections: sections,
		data:     data,
	}
}

func (cursor *relocationCursor) where(relocation elf.Relocation) diag.Where {
	name := cursor.data.RelocationName
	if name == "" {
		name = ".rela" + cursor.data.Name
	}
	return diag.At(name).AtUnit(relocation.Offset)
}

func (cursor *relocationCursor) Empty() bool {
	return cursor.index >= len(cursor.data.Relocations)
}

// Next returns the relocation at offset, if any.  Relocations earlier than
// offset are consumed and reported according to skip.
func (cursor *relocationCursor) Next(
	offset uint64,
	skip relocationSkip,
) (
	*elf.Relocation,
	bool,
) {
	for cursor.index < len(cursor.data.Relocations) {
		relocation := &cursor.data.Relocations[cursor.index]
		if relocation.Offset > offset {
			return nil, false
		}

		cursor.index++

		if relocation.Offset == offset {
			return relocation, true
		}

		switch skip {
		case skipMismatched:
			diag.Errorf(
				cursor,
				cursor.where(*relocation),
				diag.CategoryReloc|diag.CategoryImpact3,
				"relocation relocates unknown datum")
		case skipUnreferenced:
			diag.Warnf(
				cursor,
				cursor.where(*relocation),
				diag.CategoryReloc|diag.CategoryImpact2,
				"relocation targets unreferenced portion of the section")
		}
	}

	return nil, false
}

// Relocate applies the relocation at offset, if any.  In relocatable files,
// a datum without a relocation is reported under category.
func (cursor *relocationCursor) Relocate(
	offset uint64,
	width int,
	value *uint64,
	where diag.Where,
	target relocationTarget,
	what string,
	category diag.Category,
) {
	relocation, ok := cursor.Next(offset, skipMismatched)
	if ok {
		cursor.Apply(relocation, width, value, where, target)
		return
	}

	if cursor.sections.IsRelocatable() {
		diag.Warnf(
			cursor,
			where,
			category|diag.CategoryReloc|diag.CategoryImpact2,
			"%s seems to lack a relocation",
			what)
	}
}

// SkipRest reports every relocation that was never consumed.
func (cursor *relocationCursor) SkipRest() {
	for !cursor.Empty() {
		relocation := cursor.data.Relocations[cursor.index]
		cursor.index++
		diag.Warnf(
			cursor,
			cursor.where(relocation),
			diag.CategoryReloc|diag.CategoryImpact2,
			"relocation targets unreferenced portion of the section")
	}
}

// Apply relocates value, which was read from a datum of the given width.
// Problems are reported at where.  value is left unmodified if the
// relocation cannot be applied.
func (cursor *relocationCursor) Apply(
	relocation *elf.Relocation,
	width int,
	value *uint64,
	where diag.Where,
	target relocationTarget,
) {
	category := diag.CategoryReloc | diag.CategoryImpact3

	if elf.IsNoneRelocation(relocation.RelocationType) {
		return
	}

	relocationWidth, ok := elf.RelocationWidth(
		cursor.sections.Machine,
		relocation.RelocationType)
	if !ok {
		diag.Errorf(
			cursor,
			where,
			category,
			"unsupported relocation type %d",
			relocation.RelocationType)
		return
	}

	if relocationWidth != width {
		diag.Errorf(
			cursor,
			where,
			category,
			"relocation of type %d patches %d bytes, but the datum has %d",
			relocation.RelocationType,
			relocationWidth,
			width)
		return
	}

	symbol, ok := cursor.sections.Symbol(relocation.SymbolIndex)
	if !ok {
		diag.Errorf(
			cursor,
			where,
			category,
			"invalid associated symbol index %d",
			relocation.SymbolIndex)
		return
	}

	switch symbol.SectionIndex {
	case elf.SectionIndexAbsolute:
	case elf.SectionIndexUndefined, elf.SectionIndexCommon:
		diag.Errorf(
			cursor,
			where,
			category,
			"relocation uses symbol %s with no defining section",
			symbol.PrettyName())
		return
	default:
		section, ok := cursor.sections.SectionAt(symbol.SectionIndex)
		if !ok {
			diag.Errorf(
				cursor,
				where,
				category,
				"symbol %s refers to invalid section %d",
				symbol.PrettyName(),
				symbol.SectionIndex)
			return
		}

		if target == relocateAddress {
			if !section.IsAllocated() {
				diag.Errorf(
					cursor,
					where,
					category,
					"address relocation uses symbol in non-allocated section %s",
					section.Name)
			}
		} else if section.Name != target.section {
			diag.Errorf(
				cursor,
				where,
				category,
				"relocation references section %s, but %s was expected",
				section.Name,
				target.section)
		}
	}

	addend := int64(*value)
	if relocation.HasAddend {
		addend = relocation.Addend
	}

	result := symbol.Value + uint64(addend)
	if width == 4 {
		result &= 0xffffffff
	}
	*value = result
}
