package dwarf

const (
	ElfDebugAbbreviationSection = ".debug_abbrev"
	ElfDebugInformationSection  = ".debug_info"
	ElfDebugLineSection         = ".debug_line"
	ElfDebugStringSection       = ".debug_str"
	ElfDebugRangesSection       = ".debug_ranges"
	ElfDebugAddressRangeSection = ".debug_aranges"
	ElfDebugLocationSection     = ".debug_loc"
)

var (
	// Debug sections the checks know how to read, in the order they are
	// looked up.
	DebugSectionNames = []string{
		ElfDebugAbbreviationSection,
		ElfDebugInformationSection,
		ElfDebugLineSection,
		ElfDebugStringSection,
		ElfDebugRangesSection,
		ElfDebugAddressRangeSection,
		ElfDebugLocationSection,
	}
)

// SectionOffset is a byte offset relative to the start of a debug section.
type SectionOffset uint64
