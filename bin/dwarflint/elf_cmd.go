package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pattyshack/dwarflint/elf"
)

var elfCmd = &cobra.Command{
	Use:   "elf <file>",
	Short: "Print the elf sections, symbols and relocations seen by the checks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		symbols, err := cmd.Flags().GetBool("symbols")
		if err != nil {
			return err
		}

		relocations, err := cmd.Flags().GetBool("relocations")
		if err != nil {
			return err
		}

		cmd.SilenceUsage = true

		file, err := elf.Open(args[0])
		if err != nil {
			return err
		}
		defer file.Close()

		printElf(file, symbols, relocations)
		return nil
	},
}

func init() {
	elfCmd.Flags().Bool("symbols", false, "print symbol table entries")
	elfCmd.Flags().Bool("relocations", false, "print relocation entries")
}

func printElf(file *elf.File, symbols bool, relocations bool) {
	out := os.Stdout

	fmt.Fprintf(
		out,
		"Header: %s %s %s\n",
		file.Class,
		file.FileType,
		file.MachineArchitecture)

	fmt.Fprintln(out, "Sections:", len(file.Sections))
	for _, section := range file.Sections {
		header := section.Header()
		fmt.Fprintf(
			out,
			"  [%d] %s: %s %s addr=%#x size=%#x\n",
			section.Index(),
			section.Name(),
			header.SectionType,
			header.SectionFlags,
			header.Address,
			header.Size)

		switch s := section.(type) {
		case *elf.SymbolTableSection:
			if !symbols {
				continue
			}

			for idx, entry := range s.Symbols {
				fmt.Fprintf(
					out,
					"    %d: %x %d %d %d %s\n",
					idx,
					entry.Value,
					entry.Size,
					entry.Type(),
					entry.SectionIndex,
					entry.PrettyName())
			}
		case *elf.RelocationSection:
			if s.Target != nil {
				fmt.Fprintf(out, "    target: %s\n", s.Target.Name())
			}

			if !relocations {
				continue
			}

			for idx, entry := range s.Entries {
				name := ""
				symbol, ok := s.Symbol(entry.SymbolIndex)
				if ok {
					name = symbol.PrettyName()
				}
				fmt.Fprintf(out, "    %d: %s %s\n", idx, entry, name)
			}
		}
	}
}
