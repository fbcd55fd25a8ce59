package display

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutputFormat selects how command results are printed
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates a --format flag value
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	case "":
		return FormatTable, nil
	default:
		return "", fmt.Errorf("invalid output format %q, must be one of: table, json, yaml", s)
	}
}

// WriteStructured encodes v as JSON or YAML. YAML output keeps the JSON field
// names so both formats describe a job the same way.
func WriteStructured(w io.Writer, format OutputFormat, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	if format == FormatJSON {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(integralNumbers(generic)); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

// integralNumbers turns whole float64 values from a JSON decode back into
// int64 so YAML does not print sizes in exponent form
func integralNumbers(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		for k, item := range val {
			val[k] = integralNumbers(item)
		}
	case []interface{}:
		for i, item := range val {
			val[i] = integralNumbers(item)
		}
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val)
		}
	}
	return v
}

// Printer writes status messages in the theme's colors
type Printer struct {
	w      io.Writer
	colors *ColorSystem
	quiet  bool
}

// NewPrinter creates a printer. A quiet printer drops Info and Success.
func NewPrinter(w io.Writer, colors *ColorSystem, quiet bool) *Printer {
	return &Printer{w: w, colors: colors, quiet: quiet}
}

// Colors returns the printer's color system
func (p *Printer) Colors() *ColorSystem {
	return p.colors
}

// Writer returns the underlying writer
func (p *Printer) Writer() io.Writer {
	return p.w
}

func (p *Printer) Success(format string, args ...interface{}) {
	if !p.quiet {
		fmt.Fprintln(p.w, p.colors.Sprintf(p.colors.Theme().Success, "✓ "+format, args...))
	}
}

func (p *Printer) Info(format string, args ...interface{}) {
	if !p.quiet {
		fmt.Fprintln(p.w, p.colors.Sprintf(p.colors.Theme().Info, format, args...))
	}
}

func (p *Printer) Warning(format string, args ...interface{}) {
	fmt.Fprintln(p.w, p.colors.Sprintf(p.colors.Theme().Warning, "⚠ "+format, args...))
}

func (p *Printer) Error(format string, args ...interface{}) {
	fmt.Fprintln(p.w, p.colors.Sprintf(p.colors.Theme().Error, "✗ "+format, args...))
}
