package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mysql-data-vault/internal/backup"
	"mysql-data-vault/internal/display"
	"mysql-data-vault/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run recurring backups from the schedules section",
	Long: `Run recurring backups defined in the 'schedules' section of the config file.

Each active schedule fires a backup of its domains at its time of day (daily,
Sunday for weekly, the first for monthly). When the backup completes, all but
the newest max_backups_to_keep completed backups are pruned.

Examples:
  # Run schedules in the foreground until interrupted
  mysql-data-vault schedule run --config vault.yaml

  # Show schedules with their last and next runs
  mysql-data-vault schedule list

  # Fire one schedule now
  mysql-data-vault schedule trigger nightly`,
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run schedules until interrupted",
	RunE:  runScheduleRun,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured schedules",
	RunE:  runScheduleList,
}

var scheduleTriggerCmd = &cobra.Command{
	Use:   "trigger <name>",
	Short: "Run one schedule immediately",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleTrigger,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleRunCmd)
	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleTriggerCmd)

	scheduleListCmd.Flags().StringVar(&outputFormat, "format", "table", "output format (table, json, yaml)")
}

// newScheduler registers every configured schedule
func newScheduler(v *vault) (*scheduler.Scheduler, error) {
	s := scheduler.New(v.engine, v.ledger, v.logger)
	for _, schedule := range v.cfg.Schedules {
		if err := s.AddSchedule(schedule); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// runScheduleRun runs the scheduler and the metrics endpoint until a signal
func runScheduleRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer v.Close()

	if v.persistent() {
		n, err := v.engine.FailInterrupted(ctx)
		if err != nil {
			return fmt.Errorf("failed to recover interrupted jobs: %w", err)
		}
		if n > 0 {
			v.logger.Warnf("Marked %d interrupted job(s) as failed", n)
		}
	}

	s, err := newScheduler(v)
	if err != nil {
		return err
	}

	var server *http.Server
	if v.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(v.cfg.Metrics.Path, promhttp.HandlerFor(v.metrics.Registry(), promhttp.HandlerOpts{}))
		server = &http.Server{Addr: v.cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				v.logger.WithField("error", err.Error()).Error("Metrics server failed")
			}
		}()
		v.logger.Infof("Serving metrics on %s%s", v.cfg.Metrics.Address, v.cfg.Metrics.Path)
	}

	s.Start()
	v.logger.Infof("Scheduler started with %d schedule(s)", len(v.cfg.Schedules))

	<-ctx.Done()
	v.logger.Info("Shutting down scheduler")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			v.logger.WithField("error", err.Error()).Warn("Metrics server shutdown failed")
		}
	}
	return s.Stop(shutdownCtx)
}

// runScheduleList prints configured schedules
func runScheduleList(cmd *cobra.Command, args []string) error {
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

	s, err := newScheduler(v)
	if err != nil {
		return err
	}
	active, err := s.Schedules(ctx)
	if err != nil {
		return err
	}

	// inactive schedules are not registered; list them from config
	byName := make(map[string]backup.RetentionSchedule, len(active))
	for _, schedule := range active {
		byName[schedule.Name] = schedule
	}
	schedules := make([]backup.RetentionSchedule, 0, len(v.cfg.Schedules))
	for _, schedule := range v.cfg.Schedules {
		if registered, ok := byName[schedule.Name]; ok {
			schedule = registered
		}
		schedules = append(schedules, schedule)
	}

	printer := newPrinter()
	if format != display.FormatTable {
		return display.WriteStructured(printer.Writer(), format, schedules)
	}
	if len(schedules) == 0 {
		printer.Info("No schedules configured")
		return nil
	}
	display.ScheduleTable(printer.Colors(), schedules).RenderTo(printer.Writer())
	return nil
}

// runScheduleTrigger runs one schedule now, including pruning
func runScheduleTrigger(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	v, err := openVault(ctx)
	if err != nil {
		return err
	}
	defer v.Close()

	var schedule *backup.RetentionSchedule
	for i := range v.cfg.Schedules {
		if v.cfg.Schedules[i].Name == args[0] {
			schedule = &v.cfg.Schedules[i]
		}
	}
	if schedule == nil {
		return fmt.Errorf("no schedule named %q", args[0])
	}

	s, err := newScheduler(v)
	if err != nil {
		return err
	}

	printer := newPrinter()
	printer.Info("Running schedule %s", schedule.Name)
	report, err := s.RunOnce(ctx, *schedule)
	if report != nil {
		display.WriteStatusReport(printer.Writer(), printer.Colors(), report)
	}
	if err != nil {
		return err
	}
	printer.Success("Schedule %s completed", schedule.Name)
	return nil
}
