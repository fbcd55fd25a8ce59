// Package display renders job listings, status reports and live progress for
// the command line.
package display

import (
	"fmt"
	"os"

	"mysql-data-vault/internal/backup"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// Color names a terminal color
type Color int

const (
	ColorReset Color = iota
	ColorRed
	ColorGreen
	ColorYellow
	ColorBlue
	ColorCyan
	ColorWhite
	ColorBrightRed
	ColorBrightGreen
	ColorBrightYellow
	ColorBrightBlue
)

// ColorTheme maps semantic roles to colors
type ColorTheme struct {
	Primary Color
	Success Color
	Warning Color
	Error   Color
	Info    Color
	Muted   Color
}

// DarkColorTheme returns a color theme for dark terminals
func DarkColorTheme() ColorTheme {
	return ColorTheme{
		Primary: ColorBrightBlue,
		Success: ColorBrightGreen,
		Warning: ColorBrightYellow,
		Error:   ColorBrightRed,
		Info:    ColorCyan,
		Muted:   ColorWhite,
	}
}

// LightColorTheme returns a color theme for light terminals
func LightColorTheme() ColorTheme {
	return ColorTheme{
		Primary: ColorBlue,
		Success: ColorGreen,
		Warning: ColorYellow,
		Error:   ColorRed,
		Info:    ColorCyan,
		Muted:   ColorReset,
	}
}

// ThemeForBackground picks a theme from the terminal background
func ThemeForBackground() ColorTheme {
	if termenv.HasDarkBackground() {
		return DarkColorTheme()
	}
	return LightColorTheme()
}

var colorAttrs = map[Color]color.Attribute{
	ColorReset:        color.Reset,
	ColorRed:          color.FgRed,
	ColorGreen:        color.FgGreen,
	ColorYellow:       color.FgYellow,
	ColorBlue:         color.FgBlue,
	ColorCyan:         color.FgCyan,
	ColorWhite:        color.FgWhite,
	ColorBrightRed:    color.FgHiRed,
	ColorBrightGreen:  color.FgHiGreen,
	ColorBrightYellow: color.FgHiYellow,
	ColorBrightBlue:   color.FgHiBlue,
}

// ColorSystem applies colors when the output supports them
type ColorSystem struct {
	theme   ColorTheme
	enabled bool
	colors  map[Color]*color.Color
}

// NewColorSystem creates a color system. Colors are only applied when
// enabled is true and stdout looks like a color-capable terminal.
func NewColorSystem(theme ColorTheme, enabled bool) *ColorSystem {
	cs := &ColorSystem{
		theme:   theme,
		enabled: enabled && DetectColorSupport(),
		colors:  make(map[Color]*color.Color, len(colorAttrs)),
	}
	for c, attr := range colorAttrs {
		clr := color.New(attr)
		if cs.enabled {
			clr.EnableColor()
		}
		cs.colors[c] = clr
	}
	return cs
}

// DetectColorSupport checks that stdout is a terminal and that NO_COLOR and
// TERM=dumb are not set
func DetectColorSupport() bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("TERM") == "dumb" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return false
	}
	return termenv.ColorProfile() != termenv.Ascii
}

// Enabled reports whether colors are applied
func (cs *ColorSystem) Enabled() bool {
	return cs != nil && cs.enabled
}

// Theme returns the active theme
func (cs *ColorSystem) Theme() ColorTheme {
	if cs == nil {
		return DarkColorTheme()
	}
	return cs.theme
}

// Colorize wraps text in clr when colors are enabled
func (cs *ColorSystem) Colorize(text string, clr Color) string {
	if !cs.Enabled() {
		return text
	}
	if c, ok := cs.colors[clr]; ok {
		return c.Sprint(text)
	}
	return text
}

// Sprintf formats and colorizes
func (cs *ColorSystem) Sprintf(clr Color, format string, args ...interface{}) string {
	return cs.Colorize(fmt.Sprintf(format, args...), clr)
}

// StatusColor maps a job status to a theme color
func (cs *ColorSystem) StatusColor(status backup.JobStatus) Color {
	theme := cs.Theme()
	switch status {
	case backup.JobStatusCompleted:
		return theme.Success
	case backup.JobStatusFailed:
		return theme.Error
	case backup.JobStatusCancelled:
		return theme.Warning
	case backup.JobStatusRunning:
		return theme.Info
	default:
		return theme.Muted
	}
}

// Status renders a job status in its color
func (cs *ColorSystem) Status(status backup.JobStatus) string {
	return cs.Colorize(string(status), cs.StatusColor(status))
}
