package display

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"mysql-data-vault/internal/backup"
)

// BackupTable lists backup jobs, newest first as the ledger returns them
func BackupTable(colors *ColorSystem, jobs []*backup.BackupJob) *Table {
	t := NewTable(colors, "ID", "NAME", "STATUS", "PROGRESS", "DOMAINS", "RECORDS", "SIZE", "RATIO", "CREATED")
	t.AlignRight(3, 5, 6, 7)
	for _, job := range jobs {
		size, ratio := "-", "-"
		if job.Status == backup.JobStatusCompleted {
			size = FormatBytes(job.CompressedSize)
			ratio = fmt.Sprintf("%.1f%%", job.CompressionRatio())
		}
		t.AddRow(
			ShortID(job.ID),
			job.Name,
			colors.Status(job.Status),
			fmt.Sprintf("%d%%", job.Progress),
			strings.Join(job.Domains, ","),
			strconv.Itoa(job.RecordCount),
			size,
			ratio,
			FormatTime(job.CreatedAt),
		)
	}
	return t
}

// RestoreTable lists restore jobs
func RestoreTable(colors *ColorSystem, jobs []*backup.RestoreJob) *Table {
	t := NewTable(colors, "ID", "NAME", "STATUS", "PROGRESS", "RECORDS", "OK", "FAILED", "CLEAR", "CREATED")
	t.AlignRight(3, 4, 5, 6)
	for _, job := range jobs {
		t.AddRow(
			ShortID(job.ID),
			job.Name,
			colors.Status(job.Status),
			fmt.Sprintf("%d%%", job.Progress),
			fmt.Sprintf("%d/%d", job.ProcessedRecords, job.TotalRecords),
			strconv.Itoa(job.SuccessCount),
			strconv.Itoa(job.FailedCount),
			strconv.FormatBool(job.ClearExisting),
			FormatTime(job.CreatedAt),
		)
	}
	return t
}

// WriteStatusReport prints a status report as aligned key/value lines
func WriteStatusReport(w io.Writer, colors *ColorSystem, report *backup.JobStatusReport) {
	t := NewTable(colors)
	t.SetBorder(NoBorderStyle)
	t.SetMaxWidth(0)

	add := func(key, value string) {
		if value != "" {
			t.AddRow(key+":", value)
		}
	}

	add("ID", report.ID)
	add("Kind", string(report.Kind))
	add("Name", report.Name)
	add("Status", colors.Status(report.Status))
	add("Progress", fmt.Sprintf("%d%%", report.Progress))
	add("Step", report.CurrentStep)
	add("Created", FormatTime(report.CreatedAt))

	switch report.Kind {
	case backup.JobKindBackup:
		if report.TotalRecords > 0 {
			add("Records", strconv.Itoa(report.TotalRecords))
		}
		add("Archive", report.ArchivePath)
		if report.CompressedSize > 0 {
			add("Size", fmt.Sprintf("%s (%s uncompressed, %.1f%% saved)",
				FormatBytes(report.CompressedSize), FormatBytes(report.UncompressedSize), report.CompressionRatio))
		}
	case backup.JobKindRestore:
		add("Archive", report.ArchivePath)
		if report.SourceSize > 0 {
			add("Archive size", FormatBytes(report.SourceSize))
		}
		add("Records", fmt.Sprintf("%d/%d processed", report.ProcessedRecords, report.TotalRecords))
		add("Succeeded", strconv.Itoa(report.SuccessCount))
		if report.FailedCount > 0 {
			add("Failed", colors.Colorize(strconv.Itoa(report.FailedCount), colors.Theme().Warning))
		}
	}

	if report.Duration > 0 {
		add("Duration", FormatDuration(report.Duration))
	}
	if report.ErrorMessage != "" {
		add("Error", colors.Colorize(report.ErrorMessage, colors.Theme().Error))
	}

	t.RenderTo(w)
}

// WriteRetentionResult summarizes a prune run
func WriteRetentionResult(w io.Writer, colors *ColorSystem, result *backup.RetentionResult) {
	fmt.Fprintf(w, "Processed %d completed backup(s): kept %d, deleted %d in %s\n",
		result.TotalBackupsProcessed, result.BackupsKept, result.BackupsDeleted, FormatDuration(result.ProcessingTime))
	for _, id := range result.DeletedBackups {
		fmt.Fprintf(w, "  - %s\n", id)
	}
	for _, e := range result.Errors {
		fmt.Fprintln(w, colors.Colorize("  ! "+e, colors.Theme().Warning))
	}
}

// ScheduleTable lists retention schedules with their last and next runs
func ScheduleTable(colors *ColorSystem, schedules []backup.RetentionSchedule) *Table {
	t := NewTable(colors, "NAME", "FREQUENCY", "AT", "DOMAINS", "KEEP", "ACTIVE", "LAST RUN", "NEXT RUN")
	t.AlignRight(4)
	for _, s := range schedules {
		t.AddRow(
			s.Name,
			string(s.Frequency),
			s.TimeOfDay,
			strings.Join(s.Domains, ","),
			strconv.Itoa(s.MaxBackupsToKeep),
			strconv.FormatBool(s.IsActive),
			formatOptionalTime(s.LastRun),
			formatOptionalTime(s.NextRun),
		)
	}
	return t
}

// ShortID abbreviates a UUID for tables
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// FormatBytes formats a byte size in human-readable form
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatDuration rounds a duration for display
func FormatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(time.Second).String()
	}
}

// FormatTime formats a timestamp in local time
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return FormatTime(*t)
}
