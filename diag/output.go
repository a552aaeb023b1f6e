package diag

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/vmihailenco/msgpack/v5"
)

type OutputFormat string

const (
	OutputText    = OutputFormat("text")
	OutputJSON    = OutputFormat("json")
	OutputMsgpack = OutputFormat("msgpack")
)

func ParseOutputFormat(value string) (OutputFormat, error) {
	switch OutputFormat(value) {
	case OutputText, OutputJSON, OutputMsgpack:
		return OutputFormat(value), nil
	}
	return "", fmt.Errorf("unknown output format (%s)", value)
}

// Record is the machine readable form of a Diagnostic.
type Record struct {
	File       string   `json:"file" msgpack:"file"`
	Severity   string   `json:"severity" msgpack:"severity"`
	Section    string   `json:"section" msgpack:"section"`
	Unit       *uint64  `json:"unit,omitempty" msgpack:"unit,omitempty"`
	Offset     *uint64  `json:"offset,omitempty" msgpack:"offset,omitempty"`
	Reference  string   `json:"referenced_from,omitempty" msgpack:"referenced_from,omitempty"`
	Categories []string `json:"categories" msgpack:"categories"`
	Message    string   `json:"message" msgpack:"message"`
}

func NewRecord(file string, d Diagnostic) Record {
	record := Record{
		File:       file,
		Severity:   d.Severity.String(),
		Section:    d.Section,
		Categories: d.Category.Names(),
		Message:    d.Message,
	}

	if d.Depth >= 1 {
		unit := d.Unit
		record.Unit = &unit
	}
	if d.Depth >= 2 {
		offset := d.Offset
		record.Offset = &offset
	}
	if d.Ref != nil {
		record.Reference = d.Ref.String()
	}

	return record
}

type Output struct {
	io.Writer
	OutputFormat
	Colored bool

	errorColor   *color.Color
	warningColor *color.Color
	whereColor   *color.Color
}

func NewOutput(writer io.Writer, format OutputFormat, colored bool) *Output {
	output := &Output{
		Writer:       writer,
		OutputFormat: format,
		Colored:      colored,
		errorColor:   color.New(color.FgRed, color.Bold),
		warningColor: color.New(color.FgYellow),
		whereColor:   color.New(color.FgCyan),
	}

	for _, c := range []*color.Color{
		output.errorColor,
		output.warningColor,
		output.whereColor,
	} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}

	return output
}

// Write emits all diagnostics reported for file.
func (output *Output) Write(file string, diagnostics []Diagnostic) error {
	switch output.OutputFormat {
	case OutputJSON:
		return output.writeJSON(file, diagnostics)
	case OutputMsgpack:
		return output.writeMsgpack(file, diagnostics)
	default:
		return output.writeText(file, diagnostics)
	}
}

func (output *Output) writeText(file string, diagnostics []Diagnostic) error {
	for _, d := range diagnostics {
		severity := output.warningColor.Sprint(d.Severity)
		if d.Severity == SeverityError {
			severity = output.errorColor.Sprint(d.Severity)
		}

		_, err := fmt.Fprintf(
			output.Writer,
			"%s: %s: %s: %s\n",
			file,
			severity,
			output.whereColor.Sprint(d.Where),
			d.Message)
		if err != nil {
			return fmt.Errorf("failed to write diagnostic: %w", err)
		}
	}

	return nil
}

func (output *Output) writeJSON(file string, diagnostics []Diagnostic) error {
	encoder := json.NewEncoder(output.Writer)
	for _, d := range diagnostics {
		err := encoder.Encode(NewRecord(file, d))
		if err != nil {
			return fmt.Errorf("failed to encode diagnostic: %w", err)
		}
	}
	return nil
}

func (output *Output) writeMsgpack(file string, diagnostics []Diagnostic) error {
	encoder := msgpack.NewEncoder(output.Writer)
	for _, d := range diagnostics {
		err := encoder.Encode(NewRecord(file, d))
		if err != nil {
			return fmt.Errorf("failed to encode diagnostic: %w", err)
		}
	}
	return nil
}
