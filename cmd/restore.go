package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"mysql-data-vault/internal/backup"
	"mysql-data-vault/internal/confirmation"
	"mysql-data-vault/internal/display"

	"github.com/spf13/cobra"
)

var (
	restoreName          string
	restoreDescription   string
	restoreClearExisting bool
	autoApprove          bool
	restoreLimit         int
)

// restoreCmd represents the restore command
var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore archives into the database",
	Long: `Replay an archive into the configured database.

Records are applied parents first. A record whose key already exists is
updated in place; anything else is inserted. Individual failures are counted
and logged without stopping the restore. With --clear-existing, every row of
each type in the archive is deleted first.

Examples:
  # Restore from a local archive
  mysql-data-vault restore run ./archives/nightly_20260101_020000.json.gz

  # Restore from the S3 mirror, replacing existing rows
  mysql-data-vault restore run s3://vault-archives/erp/nightly_20260101_020000.json.gz --clear-existing`,
}

var restoreRunCmd = &cobra.Command{
	Use:   "run <archive>",
	Short: "Restore an archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestore,
}

var restoreListCmd = &cobra.Command{
	Use:   "list",
	Short: "List restore jobs",
	RunE:  runRestoreList,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.AddCommand(restoreRunCmd)
	restoreCmd.AddCommand(restoreListCmd)

	restoreCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format (table, json, yaml)")

	restoreRunCmd.Flags().StringVar(&restoreName, "name", "", "job name (default \"Restore <archive>\")")
	restoreRunCmd.Flags().StringVar(&restoreDescription, "description", "", "job description")
	restoreRunCmd.Flags().BoolVar(&restoreClearExisting, "clear-existing", false, "delete existing rows of every archived type first")
	restoreRunCmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip the confirmation prompt for --clear-existing")
	restoreRunCmd.Flags().BoolVar(&noProgress, "no-progress", false, "do not show live progress")
	restoreRunCmd.Flags().DurationVar(&pollInterval, "poll-interval", 500*time.Millisecond, "progress refresh interval")

	restoreListCmd.Flags().IntVar(&restoreLimit, "limit", 50, "maximum number of restores to list")
}

// runRestore confirms, submits and follows a restore
func runRestore(cmd *cobra.Command, args []string) error {
	format, err := display.ParseOutputFormat(outputFormat)
	if err != nil {
		return err
	}
	source := args[0]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer v.Close()

	plan := restorePlan(v, source)
	approved, err := confirmation.NewConfirmationService(!noColor).ConfirmRestore(plan, autoApprove)
	if err != nil {
		return err
	}
	if !approved {
		newPrinter().Warning("Restore cancelled")
		return nil
	}

	handle, err := v.engine.RestoreFromFile(ctx, source, backup.RestoreRequest{
		Name:          restoreName,
		Description:   restoreDescription,
		ClearExisting: restoreClearExisting,
		Owner:         currentUser(),
	})
	if err != nil {
		return fmt.Errorf("restore failed to start: %w", err)
	}

	printer := newPrinter()
	printer.Info("Restore job %s submitted", handle.ID)
	return followJob(ctx, v, printer, handle, format)
}

// restorePlan summarizes the restore for the prompt. A local archive is only
// read when the user will be asked to approve clearing existing rows; remote
// archives are only read once the job runs.
func restorePlan(v *vault, source string) confirmation.RestorePlan {
	plan := confirmation.RestorePlan{
		Archive:       source,
		Target:        v.target(),
		ClearExisting: restoreClearExisting,
	}
	if !restoreClearExisting || autoApprove || backup.IsRemoteLocation(source) {
		return plan
	}

	records, err := v.cfg.Codec().Read(filepath.Clean(source))
	if err != nil {
		return plan
	}
	plan.Types = backup.DistinctTypes(records)
	sort.Strings(plan.Types)
	plan.Records = len(records)
	return plan
}

// runRestoreList lists restore jobs
func runRestoreList(cmd *cobra.Command, args []string) error {
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

	jobs, err := v.engine.ListRestores(ctx, restoreLimit)
	if err != nil {
		return fmt.Errorf("failed to list restores: %w", err)
	}

	printer := newPrinter()
	if format != display.FormatTable {
		return display.WriteStructured(printer.Writer(), format, jobs)
	}
	if len(jobs) == 0 {
		printer.Info("No restores found")
		return nil
	}
	display.RestoreTable(printer.Colors(), jobs).RenderTo(printer.Writer())
	return nil
}
