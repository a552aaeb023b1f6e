package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pattyshack/dwarflint/checks"
)

var checksCmd = &cobra.Command{
	Use:   "checks",
	Short: "List the available checks in dependency order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		disabled := map[string]bool{}
		for _, name := range cfg.Disable {
			disabled[name] = true
		}

		name := color.New(color.Bold)
		if cfg.UseColor(isTerminal(os.Stdout)) {
			name.EnableColor()
		} else {
			name.DisableColor()
		}

		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, descriptor := range checks.NewRegistry().Descriptors() {
			state := ""
			if disabled[descriptor.Name] {
				state = " (disabled)"
			}

			prerequisites := "-"
			if len(descriptor.Prerequisites) > 0 {
				prerequisites = strings.Join(descriptor.Prerequisites, ",")
			}

			fmt.Fprintf(
				writer,
				"%s%s\t%s\t%s\n",
				name.Sprint(descriptor.Name),
				state,
				prerequisites,
				descriptor.Description)
		}
		return writer.Flush()
	},
}
