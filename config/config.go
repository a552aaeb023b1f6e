// Package config loads dwarflint's YAML configuration file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/pattyshack/dwarflint/diag"
)

const DefaultPath = "~/.dwarflint.yaml"

const (
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

type Config struct {
	// Names of checks to skip.
	Disable []string `yaml:"disable"`

	// Warnings carrying any of these categories are dropped.
	Ignore []string `yaml:"ignore"`

	Format string `yaml:"format"`
	Color  string `yaml:"color"`

	// Number of files linted in parallel.  0 means GOMAXPROCS.
	Jobs int `yaml:"jobs"`
}

func Default() Config {
	return Config{
		Format: string(diag.OutputText),
		Color:  ColorAuto,
	}
}

// Parse decodes content on top of the default configuration.  Unknown keys
// are rejected.
func Parse(content []byte) (Config, error) {
	config := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(content))
	decoder.KnownFields(true)

	err := decoder.Decode(&config)
	if err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	err = config.Validate()
	if err != nil {
		return Config{}, err
	}

	return config, nil
}

// Load reads the configuration at path, after ~ expansion.  A missing file
// yields the default configuration unless required is set.
func Load(path string, required bool) (Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to expand config path %s: %w", path, err)
	}

	content, err := os.ReadFile(expanded)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}

	config, err := Parse(content)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", expanded, err)
	}

	return config, nil
}

func (config Config) Validate() error {
	_, err := diag.ParseOutputFormat(config.Format)
	if err != nil {
		return err
	}

	switch config.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		return fmt.Errorf(
			"invalid color setting (%s), expected %s, %s or %s",
			config.Color,
			ColorAuto,
			ColorAlways,
			ColorNever)
	}

	if config.Jobs < 0 {
		return fmt.Errorf("invalid number of jobs (%d)", config.Jobs)
	}

	_, err = config.IgnoredCategories()
	return err
}

func (config Config) OutputFormat() diag.OutputFormat {
	return diag.OutputFormat(config.Format)
}

func (config Config) IgnoredCategories() (diag.Category, error) {
	return diag.ParseCategory(strings.Join(config.Ignore, ","))
}

// UseColor resolves the color setting against whether the output is a
// terminal.
func (config Config) UseColor(isTerminal bool) bool {
	switch config.Color {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	return isTerminal
}
