package checks

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/elf"
	"github.com/pattyshack/dwarflint/lint"
)

const maxX64InstructionLength = 15

// LineInstruction is the instruction a DW_LNE_set_address operand points to.
type LineInstruction struct {
	LineAddress
	Section string
	x86asm.Inst
}

func (inst LineInstruction) String() string {
	return fmt.Sprintf(
		"0x%016x: %s",
		inst.Address,
		x86asm.GNUSyntax(inst.Inst, inst.Address, nil))
}

// LineAddresses is the line_addresses check's result.
type LineAddresses struct {
	Instructions []LineInstruction

	Skipped int
	Invalid int
}

func newLineAddresses(session *lint.Session) (interface{}, error) {
	sections, ok, err := lint.Get[*Sections](session, ElfSectionsCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: elf sections not loaded", lint.ErrUnavailable)
	}

	if sections.IsRelocatable() {
		return nil, fmt.Errorf(
			"%w: addresses in relocatable files are not final",
			lint.ErrUnavailable)
	}

	if sections.Machine != elf.MachineArchitectureX86_64 {
		return nil, fmt.Errorf(
			"%w: cannot decode %s instructions",
			lint.ErrUnavailable,
			sections.Machine)
	}

	tables, ok, err := lint.Get[*LineTables](session, DebugLineCheck)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no line tables", lint.ErrUnavailable)
	}

	return CheckLineAddresses(sections, tables.Addresses, session), nil
}

// CheckLineAddresses checks that every line program address lies in an
// executable section and starts a decodable x86-64 instruction.  Zero and
// all-ones addresses are linker tombstones for discarded code and are
// skipped.
func CheckLineAddresses(
	sections *Sections,
	addresses []LineAddress,
	reporter diag.Reporter,
) *LineAddresses {
	result := &LineAddresses{}

	for _, address := range addresses {
		if address.Address == 0 || address.Address == ^uint64(0) {
			result.Skipped++
			continue
		}

		code, ok := sections.CodeSectionAt(address.Address)
		if !ok {
			result.Invalid++
			diag.Warnf(
				reporter,
				address.Where,
				diag.CategoryLine|diag.CategoryInstruction|diag.CategoryImpact3,
				"address %#x is not in any executable section",
				address.Address)
			continue
		}

		start := address.Address - code.Address
		end := min(start+maxX64InstructionLength, code.Size())

		inst, err := x86asm.Decode(code.Content[start:end], 64)
		if err != nil {
			// x86asm cannot decode every valid instruction, so this is only
			// suspicious.
			result.Invalid++
			diag.Warnf(
				reporter,
				address.Where,
				diag.CategoryLine|diag.CategoryInstruction|diag.CategoryImpact1,
				"address %#x in %s does not start a decodable instruction: %s",
				address.Address,
				code.Name,
				err)
			continue
		}

		result.Instructions = append(
			result.Instructions,
			LineInstruction{
				LineAddress: address,
				Section:     code.Name,
				Inst:        inst,
			})
	}

	return result
}
