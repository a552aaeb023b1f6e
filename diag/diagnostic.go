// Package diag defines the diagnostics produced by checks, where they point
// to, and the sinks that consume them.
package diag

import (
	"fmt"
	"strings"
)

type Severity uint8

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return "unknown"
}

// Category is a set of tags describing what a diagnostic is about and how
// severe its impact is on consumers.
type Category uint32

const (
	CategoryImpact1    Category = 1 << iota // no impact on consumers
	CategoryImpact2                         // still no impact, but suspicious
	CategoryImpact3                         // some impact
	CategoryImpact4                         // high impact
	CategoryBloat                           // unnecessary constructs
	CategorySuboptimal                      // suboptimal construct
	CategoryHeader                          // unit headers
	CategoryReloc                           // relocations
	CategoryLEB128                          // ULEB/SLEB encoding
	CategoryElf                             // elf structure
	CategoryAbbrev                          // .debug_abbrev
	CategoryInfo                            // .debug_info
	CategoryLine                            // .debug_line
	CategoryString                          // .debug_str
	CategoryRanges                          // .debug_ranges
	CategoryInstruction                     // machine code referenced by debug info
	CategoryAranges                         // .debug_aranges

	CategoryImpactAll = CategoryImpact1 |
		CategoryImpact2 |
		CategoryImpact3 |
		CategoryImpact4
)

var categoryNames = []struct {
	Category
	name string
}{
	{CategoryImpact1, "impact1"},
	{CategoryImpact2, "impact2"},
	{CategoryImpact3, "impact3"},
	{CategoryImpact4, "impact4"},
	{CategoryBloat, "bloat"},
	{CategorySuboptimal, "suboptimal"},
	{CategoryHeader, "header"},
	{CategoryReloc, "reloc"},
	{CategoryLEB128, "leb128"},
	{CategoryElf, "elf"},
	{CategoryAbbrev, "abbrev"},
	{CategoryInfo, "info"},
	{CategoryLine, "line"},
	{CategoryString, "str"},
	{CategoryRanges, "ranges"},
	{CategoryInstruction, "insn"},
	{CategoryAranges, "aranges"},
}

func (category Category) Has(other Category) bool {
	return category&other == other
}

// Names returns the tag names in declaration order.
func (category Category) Names() []string {
	names := []string{}
	for _, entry := range categoryNames {
		if category&entry.Category != 0 {
			names = append(names, entry.name)
		}
	}
	return names
}

func (category Category) String() string {
	return strings.Join(category.Names(), ",")
}

// ParseCategory parses a comma separated list of tag names.
func ParseCategory(value string) (Category, error) {
	result := Category(0)
	for _, name := range strings.Split(value, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		found := false
		for _, entry := range categoryNames {
			if entry.name == name {
				result |= entry.Category
				found = true
				break
			}
		}

		if !found {
			return 0, fmt.Errorf("unknown diagnostic category (%s)", name)
		}
	}

	return result, nil
}

type Diagnostic struct {
	Where
	Severity
	Category
	Message string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Severity, d.Where, d.Message)
}
