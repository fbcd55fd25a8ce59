package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"mysql-data-vault/internal/backup"

	"github.com/mattn/go-isatty"
)

// JobProgress follows a job's status reports on a writer. On a terminal the
// bar redraws in place; otherwise a line is printed whenever progress or the
// current step changes.
type JobProgress struct {
	writer      io.Writer
	colors      *ColorSystem
	width       int
	interactive bool

	mu       sync.Mutex
	lastPct  int
	lastStep string
	drawn    bool
}

// NewJobProgress creates a progress display for w
func NewJobProgress(w io.Writer, colors *ColorSystem) *JobProgress {
	interactive := false
	if f, ok := w.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &JobProgress{
		writer:      w,
		colors:      colors,
		width:       30,
		interactive: interactive,
		lastPct:     -1,
	}
}

// Update renders report. It is safe to pass as Engine.WaitForJob's onUpdate.
func (p *JobProgress) Update(report *backup.JobStatusReport) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if report.Status.IsTerminal() {
		p.finish(report)
		return
	}

	if !p.interactive && report.Progress == p.lastPct && report.CurrentStep == p.lastStep {
		return
	}
	p.lastPct = report.Progress
	p.lastStep = report.CurrentStep

	line := fmt.Sprintf("%s %3d%% %s", p.bar(report.Progress), report.Progress, report.CurrentStep)
	if report.TotalRecords > 0 && report.Kind == backup.JobKindRestore {
		line += fmt.Sprintf(" (%d/%d)", report.ProcessedRecords, report.TotalRecords)
	}

	if p.interactive {
		fmt.Fprint(p.writer, "\r\033[K"+line)
		p.drawn = true
	} else {
		fmt.Fprintln(p.writer, line)
	}
}

func (p *JobProgress) finish(report *backup.JobStatusReport) {
	if p.drawn {
		fmt.Fprint(p.writer, "\r\033[K")
		p.drawn = false
	}

	summary := fmt.Sprintf("%s %s %s in %s", report.Kind, report.ID, p.colors.Status(report.Status), FormatDuration(report.Duration))
	if report.ErrorMessage != "" {
		summary += ": " + report.ErrorMessage
	}
	fmt.Fprintln(p.writer, summary)
}

// bar draws a fixed-width bar for pct
func (p *JobProgress) bar(pct int) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	filled := p.width * pct / 100
	theme := p.colors.Theme()
	return "[" +
		p.colors.Colorize(strings.Repeat("#", filled), theme.Success) +
		p.colors.Colorize(strings.Repeat("-", p.width-filled), theme.Muted) +
		"]"
}
