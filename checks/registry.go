package checks

import (
	"github.com/pattyshack/dwarflint/lint"
)

const (
	ElfSectionsCheck    = "elf_sections"
	DebugAbbrevCheck    = "debug_abbrev"
	DebugInfoCheck      = "debug_info"
	DebugLineCheck      = "debug_line"
	LineReferencesCheck = "line_references"
	DebugStrCheck       = "debug_str"
	DebugRangesCheck    = "debug_ranges"
	LineAddressesCheck  = "line_addresses"
	CUCoverageCheck     = "cu_coverage"
	DebugArangesCheck   = "debug_aranges"
)

// NewRegistry returns the sealed registration table of every check.  It is
// meant to be called once by the driver.
func NewRegistry() *lint.Registry {
	registry := lint.NewRegistry()

	registry.MustRegister(lint.Descriptor{
		Name:        ElfSectionsCheck,
		Description: "load the elf file's debug sections and relocations",
		New:         newSections,
	})

	registry.MustRegister(lint.Descriptor{
		Name:          DebugAbbrevCheck,
		Description:   "validate .debug_abbrev tables",
		Prerequisites: []string{ElfSectionsCheck},
		New:           newAbbreviationTables,
	})

	registry.MustRegister(lint.Descriptor{
		Name:          DebugInfoCheck,
		Description:   "validate .debug_info units and collect cross-section references",
		Prerequisites: []string{ElfSectionsCheck, DebugAbbrevCheck},
		New:           newDebugInfo,
	})

	registry.MustRegister(lint.Descriptor{
		Name:          DebugLineCheck,
		Description:   "validate .debug_line line number programs",
		Prerequisites: []string{ElfSectionsCheck},
		New:           newLineTables,
	})

	registry.MustRegister(lint.Descriptor{
		Name:          LineReferencesCheck,
		Description:   "check DW_AT_stmt_list references against .debug_line tables",
		Prerequisites: []string{DebugLineCheck, DebugInfoCheck},
		New:           newLineReferences,
	})

	registry.MustRegister(lint.Descriptor{
		Name:          DebugStrCheck,
		Description:   "check .debug_str references and unreferenced strings",
		Prerequisites: []string{ElfSectionsCheck, DebugInfoCheck},
		New:           newStringCoverage,
	})

	registry.MustRegister(lint.Descriptor{
		Name:          DebugRangesCheck,
		Description:   "validate .debug_ranges range lists",
		Prerequisites: []string{ElfSectionsCheck, DebugInfoCheck},
		New:           newRangeLists,
	})

	registry.MustRegister(lint.Descriptor{
		Name:          LineAddressesCheck,
		Description:   "check that line table addresses point at decodable instructions",
		Prerequisites: []string{ElfSectionsCheck, DebugLineCheck},
		New:           newLineAddresses,
	})

	registry.MustRegister(lint.Descriptor{
		Name:          CUCoverageCheck,
		Description:   "collect the addresses covered by compile units",
		Prerequisites: []string{DebugInfoCheck, DebugRangesCheck},
		New:           newCUCoverage,
	})

	registry.MustRegister(lint.Descriptor{
		Name:          DebugArangesCheck,
		Description:   "validate .debug_aranges tables against compile unit coverage",
		Prerequisites: []string{ElfSectionsCheck, DebugInfoCheck, CUCoverageCheck},
		New:           newAddressRangeTables,
	})

	return registry.MustSeal()
}
