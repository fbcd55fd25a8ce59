// Package confirmation prompts before destructive restores and prunes.
package confirmation

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"mysql-data-vault/internal/display"
)

// ErrInterrupted is returned when the prompt is interrupted by a signal
var ErrInterrupted = errors.New("confirmation interrupted")

// RestorePlan describes a restore before it is submitted
type RestorePlan struct {
	Archive       string
	Target        string
	Records       int
	Types         []string
	ClearExisting bool
}

// PrunePlan describes a retention run before it deletes anything
type PrunePlan struct {
	Keep      int
	Completed int
	Mirror    string
}

// Deletes is the number of backups the run will remove
func (p PrunePlan) Deletes() int {
	if p.Completed <= p.Keep {
		return 0
	}
	return p.Completed - p.Keep
}

// ConfirmationService asks the operator to approve a restore or prune
type ConfirmationService interface {
	ConfirmRestore(plan RestorePlan, autoApprove bool) (bool, error)
	ConfirmPrune(plan PrunePlan, autoApprove bool) (bool, error)
	DisplayRestoreSummary(plan RestorePlan)
}

type confirmationService struct {
	reader  *bufio.Reader
	printer *display.Printer
	colors  *display.ColorSystem
	signals bool
}

// NewConfirmationService reads answers from stdin and writes to stdout
func NewConfirmationService(useColors bool) ConfirmationService {
	colors := display.NewColorSystem(display.ThemeForBackground(), useColors)
	return &confirmationService{
		reader:  bufio.NewReader(os.Stdin),
		printer: display.NewPrinter(os.Stdout, colors, false),
		colors:  colors,
		signals: true,
	}
}

// NewConfirmationServiceWithIO is NewConfirmationService over in and out,
// without signal handling
func NewConfirmationServiceWithIO(in io.Reader, out io.Writer) ConfirmationService {
	colors := display.NewColorSystem(display.DarkColorTheme(), false)
	return &confirmationService{
		reader:  bufio.NewReader(in),
		printer: display.NewPrinter(out, colors, false),
		colors:  colors,
	}
}

// ConfirmRestore shows the plan and asks for approval. A restore that keeps
// existing rows is approved without asking.
func (cs *confirmationService) ConfirmRestore(plan RestorePlan, autoApprove bool) (bool, error) {
	cs.DisplayRestoreSummary(plan)

	if !plan.ClearExisting {
		return true, nil
	}

	if autoApprove {
		cs.printer.Warning("Auto-approving destructive restore")
		return true, nil
	}

	return cs.ask("Restore cancelled by user")
}

// ConfirmPrune asks before deleting backups. Nothing to delete needs no answer.
func (cs *confirmationService) ConfirmPrune(plan PrunePlan, autoApprove bool) (bool, error) {
	if plan.Deletes() == 0 {
		return true, nil
	}

	msg := fmt.Sprintf("%d of %d completed backup(s) will be deleted, keeping the newest %d", plan.Deletes(), plan.Completed, plan.Keep)
	if plan.Mirror != "" {
		msg += fmt.Sprintf(" (archives are also removed from %s)", plan.Mirror)
	}
	cs.printer.Warning("DESTRUCTIVE: %s", msg)

	if autoApprove {
		cs.printer.Warning("Auto-approving prune")
		return true, nil
	}
	return cs.ask("Prune cancelled by user")
}

// ask prompts until an answer, a read error or an interrupt
func (cs *confirmationService) ask(cancelled string) (bool, error) {
	interrupts := make(chan os.Signal, 1)
	if cs.signals {
		signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(interrupts)
	}

	answers := make(chan string, 1)
	failures := make(chan error, 1)
	go func() {
		answer, err := cs.prompt()
		if err != nil {
			failures <- err
			return
		}
		answers <- answer
	}()

	select {
	case <-interrupts:
		fmt.Fprintln(cs.printer.Writer())
		cs.printer.Warning("%s", cancelled)
		return false, ErrInterrupted
	case err := <-failures:
		return false, fmt.Errorf("failed to read user input: %w", err)
	case answer := <-answers:
		return answer == "yes", nil
	}
}

// DisplayRestoreSummary prints what the restore will touch
func (cs *confirmationService) DisplayRestoreSummary(plan RestorePlan) {
	w := cs.printer.Writer()
	fmt.Fprintln(w, cs.colors.Colorize("Restore Summary", cs.colors.Theme().Primary))
	fmt.Fprintln(w, strings.Repeat("-", 30))
	fmt.Fprintf(w, "Archive: %s\n", plan.Archive)
	if plan.Target != "" {
		fmt.Fprintf(w, "Target:  %s\n", plan.Target)
	}
	if plan.Records > 0 {
		fmt.Fprintf(w, "Records: %d across %d type(s)\n", plan.Records, len(plan.Types))
	}
	fmt.Fprintln(w)

	if plan.ClearExisting {
		cs.printer.Warning("DESTRUCTIVE: existing rows of every type in the archive will be deleted before restoring")
		fmt.Fprintln(w)
	}
}

// prompt reads one answer; callers accept only the full word "yes"
func (cs *confirmationService) prompt() (string, error) {
	fmt.Fprint(cs.printer.Writer(), "Type 'yes' to continue: ")
	input, err := cs.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && input != "") {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(input)), nil
}
