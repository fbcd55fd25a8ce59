package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mysql-data-vault/internal/backup"
	"mysql-data-vault/internal/confirmation"
	"mysql-data-vault/internal/display"

	"github.com/spf13/cobra"
)

var (
	// Backup creation flags
	backupName        string
	backupDomains     []string
	backupDescription string
	backupDetach      bool
	noProgress        bool

	// Backup listing flags
	listStatus string
	listName   string
	listLimit  int

	// Shared
	outputFormat string
	pollInterval time.Duration
	pruneKeep    int
)

// backupCmd represents the backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, inspect and prune backups",
	Long: `Create backups of business domains and manage the job ledger.

A backup reads every record type of the selected domains, writes them to a
single compressed archive and, when a storage mirror is configured, copies
the archive there as well.

Job history survives the process only with 'jobs.ledger: sql'. With the
default in-memory ledger, list and status only see the current invocation.

Examples:
  # Back up all domains
  mysql-data-vault backup create --name full

  # Back up selected domains
  mysql-data-vault backup create --name nightly --domains customers,sales

  # List completed backups as JSON
  mysql-data-vault backup list --status completed --format json

  # Keep the five newest completed backups
  mysql-data-vault backup prune --keep 5`,
}

// backupCreateCmd creates a new backup
var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a backup",
	Long: `Create a backup job and follow its progress until it finishes.

An empty --domains list backs up every domain in the catalog. Unknown or
excluded domains are rejected before a job is created.`,
	RunE: runBackupCreate,
}

// backupListCmd lists backups
var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backup jobs",
	RunE:  runBackupList,
}

// backupStatusCmd shows one job
var backupStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the status of a backup or restore job",
	Long: `Show the status of a backup or restore job.

The job can be named by its full ID or by a unique prefix of at least four
characters, as shown in 'backup list'.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupStatus,
}

// backupPruneCmd applies retention
var backupPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the newest completed backups",
	Long: `Keep the newest --keep completed backups and delete the rest.

Each deleted backup loses its archive file, its mirrored copy and its ledger
row. Failed, cancelled and in-progress jobs are never touched. The command asks
for confirmation when anything would be deleted, unless --auto-approve is set.`,
	RunE: runBackupPrune,
}

// backupCancelCmd cancels a job
var backupCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or running job",
	Long: `Cancel a pending or running job.

A pending job never starts. A running job is marked cancelled at once; work
already in progress finishes in the background but its result is discarded.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupCancel,
}

func init() {
	rootCmd.AddCommand(backupCmd)

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupStatusCmd)
	backupCmd.AddCommand(backupPruneCmd)
	backupCmd.AddCommand(backupCancelCmd)

	backupCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json, yaml)")

	backupCreateCmd.Flags().StringVar(&backupName, "name", "", "backup name, used in the archive file name")
	backupCreateCmd.Flags().StringSliceVar(&backupDomains, "domains", nil, "domains to back up (default all)")
	backupCreateCmd.Flags().StringVar(&backupDescription, "description", "", "backup description")
	backupCreateCmd.Flags().BoolVar(&backupDetach, "detach", false, "return after submitting (requires the sql ledger)")
	backupCreateCmd.Flags().BoolVar(&noProgress, "no-progress", false, "do not show live progress")
	backupCreateCmd.Flags().DurationVar(&pollInterval, "poll-interval", 500*time.Millisecond, "progress refresh interval")
	backupCreateCmd.MarkFlagRequired("name")

	backupListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, running, completed, failed, cancelled)")
	backupListCmd.Flags().StringVar(&listName, "name", "", "filter by backup name")
	backupListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of backups to list")

	backupPruneCmd.Flags().IntVar(&pruneKeep, "keep", 7, "number of completed backups to keep")
	backupPruneCmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the confirmation prompt")
}

// runBackupCreate submits a backup and follows it
func runBackupCreate(cmd *cobra.Command, args []string) error {
	format, err := display.ParseOutputFormat(outputFormat)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer v.Close()

	if backupDetach && !v.persistent() {
		return fmt.Errorf("--detach requires 'jobs.ledger: sql'; the in-memory ledger is lost when the process exits")
	}

	handle, err := v.engine.CreateBackup(ctx, backup.BackupRequest{
		Name:        backupName,
		Domains:     backupDomains,
		Description: backupDescription,
		Owner:       currentUser(),
	})
	if err != nil {
		return fmt.Errorf("backup creation failed: %w", err)
	}

	printer := newPrinter()
	printer.Info("Backup job %s submitted", handle.ID)
	if backupDetach {
		return nil
	}

	return followJob(ctx, v, printer, handle, format)
}

// followJob waits for a job, rendering progress, then prints the final report
func followJob(ctx context.Context, v *vault, printer *display.Printer, handle backup.JobHandle, format display.OutputFormat) error {
	var onUpdate func(*backup.JobStatusReport)
	if format == display.FormatTable && !noProgress && !quiet {
		onUpdate = display.NewJobProgress(printer.Writer(), printer.Colors()).Update
	}

	report, err := v.engine.WaitForJob(ctx, handle, pollInterval, onUpdate)
	if err != nil {
		if ctx.Err() != nil {
			printer.Warning("Interrupted; cancelling job %s", handle.ID)
			if cancelErr := v.engine.CancelJob(context.Background(), handle); cancelErr != nil {
				printer.Warning("Could not cancel job: %v", cancelErr)
			}
		}
		return err
	}

	if err := printReport(printer, report, format); err != nil {
		return err
	}
	if report.Status != backup.JobStatusCompleted {
		return fmt.Errorf("%s job %s %s", report.Kind, report.ID, report.Status)
	}
	return nil
}

func printReport(printer *display.Printer, report *backup.JobStatusReport, format display.OutputFormat) error {
	if format != display.FormatTable {
		return display.WriteStructured(printer.Writer(), format, report)
	}
	display.WriteStatusReport(printer.Writer(), printer.Colors(), report)
	return nil
}

// runBackupList lists backup jobs
func runBackupList(cmd *cobra.Command, args []string) error {
	format, err := display.ParseOutputFormat(outputFormat)
	if err != nil {
		return err
	}

	filter := backup.BackupFilter{Name: listName, Limit: listLimit}
	if listStatus != "" {
		status, err := parseJobStatus(listStatus)
		if err != nil {
			return err
		}
		filter.Status = &status
	}

	ctx := context.Background()
	v, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer v.Close()

	jobs, err := v.engine.ListBackups(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	printer := newPrinter()
	if format != display.FormatTable {
		return display.WriteStructured(printer.Writer(), format, jobs)
	}
	if len(jobs) == 0 {
		printer.Info("No backups found")
		return nil
	}
	display.BackupTable(printer.Colors(), jobs).RenderTo(printer.Writer())
	return nil
}

// runBackupStatus prints one job's status report
func runBackupStatus(cmd *cobra.Command, args []string) error {
	format, err := display.ParseOutputFormat(outputFormat)
	if err != nil {
		return err
	}

	ctx := context.Background()
	v, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer v.Close()

	handle, err := v.resolveJob(ctx, args[0])
	if err != nil {
		return err
	}
	report, err := v.engine.GetStatus(ctx, handle)
	if err != nil {
		return err
	}
	return printReport(newPrinter(), report, format)
}

// runBackupPrune applies the retention policy
func runBackupPrune(cmd *cobra.Command, args []string) error {
	format, err := display.ParseOutputFormat(outputFormat)
	if err != nil {
		return err
	}
	if pruneKeep < 0 {
		return fmt.Errorf("--keep must not be negative")
	}

	ctx := context.Background()
	v, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer v.Close()

	plan, err := prunePlan(ctx, v, pruneKeep)
	if err != nil {
		return err
	}
	printer := newPrinter()
	approved, err := confirmation.NewConfirmationService(!noColor).ConfirmPrune(plan, autoApprove)
	if err != nil {
		return err
	}
	if !approved {
		printer.Warning("Prune cancelled")
		return nil
	}

	result, err := v.engine.PruneOldBackups(ctx, pruneKeep)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	if format != display.FormatTable {
		return display.WriteStructured(printer.Writer(), format, result)
	}
	display.WriteRetentionResult(printer.Writer(), printer.Colors(), result)
	return nil
}

// prunePlan counts completed backups for the prune prompt
func prunePlan(ctx context.Context, v *vault, keep int) (confirmation.PrunePlan, error) {
	status := backup.JobStatusCompleted
	completed, err := v.engine.ListBackups(ctx, backup.BackupFilter{Status: &status})
	if err != nil {
		return confirmation.PrunePlan{}, fmt.Errorf("failed to list backups: %w", err)
	}
	plan := confirmation.PrunePlan{Keep: keep, Completed: len(completed)}
	if p := v.cfg.Storage.Provider; p != "" && p != backup.StorageProviderNone {
		plan.Mirror = string(v.cfg.Storage.Provider)
	}
	return plan, nil
}

// runBackupCancel cancels a job
func runBackupCancel(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	v, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer v.Close()

	handle, err := v.resolveJob(ctx, args[0])
	if err != nil {
		return err
	}
	if err := v.engine.CancelJob(ctx, handle); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", handle.ID, err)
	}
	newPrinter().Success("Cancelled %s job %s", handle.Kind, handle.ID)
	return nil
}

func parseJobStatus(s string) (backup.JobStatus, error) {
	status := backup.JobStatus(s)
	switch status {
	case backup.JobStatusPending, backup.JobStatusRunning, backup.JobStatusCompleted,
		backup.JobStatusFailed, backup.JobStatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("invalid status %q", s)
	}
}

// currentUser names the operator recorded as job owner
func currentUser() string {
	for _, key := range []string{"USER", "USERNAME"} {
		if u := os.Getenv(key); u != "" {
			return u
		}
	}
	return "cli"
}
