package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pattyshack/dwarflint/checks"
	"github.com/pattyshack/dwarflint/config"
	"github.com/pattyshack/dwarflint/diag"
	"github.com/pattyshack/dwarflint/driver"
)

const (
	exitLintErrors = 1
	exitFatal      = 2
)

type exitError struct {
	code int
}

func (err exitError) Error() string {
	return fmt.Sprintf("exit status %d", err.code)
}

var rootCmd = &cobra.Command{
	Use:   "dwarflint [files...]",
	Short: "Check elf files for malformed DWARF debug information",
	Long: `dwarflint validates the DWARF sections of elf files: line number
programs, their references from .debug_info, abbreviations, strings and
range lists.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceErrors: true,
	RunE:          runLint,
}

func main() {
	rootCmd.AddCommand(checksCmd)
	rootCmd.AddCommand(elfCmd)

	rootCmd.PersistentFlags().String(
		"config",
		config.DefaultPath,
		"path to the YAML configuration file")
	rootCmd.PersistentFlags().String(
		"color",
		config.ColorAuto,
		"colorize output (auto|always|never)")

	rootCmd.Flags().String("format", "text", "output format (text|json|msgpack)")
	rootCmd.Flags().IntP("jobs", "j", 0, "number of files linted in parallel")
	rootCmd.Flags().StringSlice(
		"ignore",
		nil,
		"drop warnings tagged with these categories")
	rootCmd.Flags().StringSlice("disable", nil, "checks to skip")
	rootCmd.Flags().BoolP("verbose", "v", false, "log unavailable checks")

	err := rootCmd.Execute()
	if err != nil {
		exit := exitError{}
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}

		fmt.Fprintln(os.Stderr, "dwarflint:", err)
		os.Exit(exitFatal)
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// loadConfig reads the configuration file, then applies flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()

	path, err := flags.GetString("config")
	if err != nil {
		return config.Config{}, err
	}

	cfg, err := config.Load(path, flags.Changed("config"))
	if err != nil {
		return config.Config{}, err
	}

	if flags.Changed("color") {
		cfg.Color, err = flags.GetString("color")
		if err != nil {
			return config.Config{}, err
		}
	}

	if flags.Lookup("format") != nil && flags.Changed("format") {
		cfg.Format, err = flags.GetString("format")
		if err != nil {
			return config.Config{}, err
		}
	}

	if flags.Lookup("jobs") != nil && flags.Changed("jobs") {
		cfg.Jobs, err = flags.GetInt("jobs")
		if err != nil {
			return config.Config{}, err
		}
	}

	for _, name := range []string{"ignore", "disable"} {
		if flags.Lookup(name) == nil {
			continue
		}

		values, err := flags.GetStringSlice(name)
		if err != nil {
			return config.Config{}, err
		}

		if name == "ignore" {
			cfg.Ignore = append(cfg.Ignore, values...)
		} else {
			cfg.Disable = append(cfg.Disable, values...)
		}
	}

	return cfg, cfg.Validate()
}

func runLint(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ignore, err := cfg.IgnoredCategories()
	if err != nil {
		return err
	}

	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return err
	}

	logger := log.New(io.Discard, "", 0)
	if verbose {
		logger = log.New(os.Stderr, "dwarflint: ", 0)
	}

	cmd.SilenceUsage = true

	results, err := driver.LintFiles(
		cmd.Context(),
		checks.NewRegistry(),
		args,
		driver.Options{
			Disabled: cfg.Disable,
			Ignore:   ignore,
			Jobs:     cfg.Jobs,
			Logger:   logger,
		})
	if err != nil {
		return err
	}

	output := diag.NewOutput(
		os.Stdout,
		cfg.OutputFormat(),
		cfg.UseColor(isTerminal(os.Stdout)))

	code := 0
	for _, result := range results {
		err := output.Write(result.Path, result.Diagnostics)
		if err != nil {
			return err
		}

		for name, reason := range result.Unavailable {
			logger.Printf("%s: check %s unavailable: %s", result.Path, name, reason)
		}

		if result.Err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s\n", result.Path, result.Err)
			code = exitFatal
		} else if result.NumErrors() > 0 && code == 0 {
			code = exitLintErrors
		}
	}

	if code != 0 {
		return exitError{code: code}
	}
	return nil
}
