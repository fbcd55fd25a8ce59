package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment is a column alignment
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	Corner     string
	Horizontal string
	Vertical   string
}

var (
	// ASCIIBorderStyle draws +---+ borders
	ASCIIBorderStyle = BorderStyle{Corner: "+", Horizontal: "-", Vertical: "|"}

	// NoBorderStyle separates columns with spaces only
	NoBorderStyle = BorderStyle{}
)

// Table renders rows of text into aligned columns. Cells that do not fit the
// terminal width are truncated with "...".
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	border     BorderStyle
	maxWidth   int
	colors     *ColorSystem
}

// NewTable creates a table sized to the terminal
func NewTable(colors *ColorSystem, headers ...string) *Table {
	return &Table{
		headers:    headers,
		alignments: make(map[int]Alignment),
		border:     ASCIIBorderStyle,
		maxWidth:   terminalWidth(),
		colors:     colors,
	}
}

// AddRow appends a row
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// AlignRight right-aligns the given columns
func (t *Table) AlignRight(columns ...int) {
	for _, c := range columns {
		t.alignments[c] = AlignRight
	}
}

// SetBorder changes the border style
func (t *Table) SetBorder(border BorderStyle) {
	t.border = border
}

// SetMaxWidth overrides the detected terminal width. Zero disables fitting.
func (t *Table) SetMaxWidth(width int) {
	t.maxWidth = width
}

// Len returns the number of data rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render returns the formatted table
func (t *Table) Render() string {
	if len(t.headers) == 0 && len(t.rows) == 0 {
		return ""
	}

	widths := t.fit(t.columnWidths())

	var sb strings.Builder
	rule := t.rule(widths)
	if rule != "" {
		sb.WriteString(rule + "\n")
	}
	if len(t.headers) > 0 {
		sb.WriteString(t.renderRow(t.headers, widths, true) + "\n")
		if rule != "" {
			sb.WriteString(rule + "\n")
		}
	}
	for _, row := range t.rows {
		sb.WriteString(t.renderRow(row, widths, false) + "\n")
	}
	if rule != "" {
		sb.WriteString(rule + "\n")
	}
	return sb.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) {
	fmt.Fprint(w, t.Render())
}

func (t *Table) columnWidths() []int {
	cols := len(t.headers)
	for _, row := range t.rows {
		if len(row) > cols {
			cols = len(row)
		}
	}

	widths := make([]int, cols)
	measure := func(row []string) {
		for i, cell := range row {
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}
	return widths
}

// fit shrinks the widest columns until the table fits maxWidth
func (t *Table) fit(widths []int) []int {
	if t.maxWidth <= 0 || len(widths) == 0 {
		return widths
	}

	// two spaces of padding per cell plus one separator per column boundary
	overhead := len(widths)*2 + len(widths) + 1
	total := overhead
	for _, w := range widths {
		total += w
	}

	for total > t.maxWidth {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 6 {
			break
		}
		widths[widest]--
		total--
	}
	return widths
}

func (t *Table) rule(widths []int) string {
	if t.border.Horizontal == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(t.border.Corner)
	for _, w := range widths {
		sb.WriteString(strings.Repeat(t.border.Horizontal, w+2))
		sb.WriteString(t.border.Corner)
	}
	return sb.String()
}

func (t *Table) renderRow(row []string, widths []int, header bool) string {
	sep := t.border.Vertical
	if sep == "" {
		sep = " "
	}

	var sb strings.Builder
	if t.border.Vertical != "" {
		sb.WriteString(sep)
	}
	for i, w := range widths {
		cell := ""
		if i < len(row) {
			cell = truncate(row[i], w)
		}
		pad := strings.Repeat(" ", w-utf8.RuneCountInString(cell))
		if header {
			cell = t.colors.Colorize(cell, t.colors.Theme().Primary)
		}

		if t.alignments[i] == AlignRight {
			sb.WriteString(" " + pad + cell + " ")
		} else {
			sb.WriteString(" " + cell + pad + " ")
		}
		if t.border.Vertical != "" || i < len(widths)-1 {
			sb.WriteString(sep)
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	runes := []rune(s)
	if width > 3 {
		return string(runes[:width-3]) + "..."
	}
	return string(runes[:width])
}

func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 0
	}
	width, _, err := term.GetSize(fd)
	if err != nil {
		return 0
	}
	return width
}
