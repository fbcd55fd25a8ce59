package display

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"mysql-data-vault/internal/backup"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func plainColors() *ColorSystem {
	return NewColorSystem(DarkColorTheme(), false)
}

func TestColorSystem_DisabledPassesTextThrough(t *testing.T) {
	cs := plainColors()
	assert.False(t, cs.Enabled())
	assert.Equal(t, "failed", cs.Status(backup.JobStatusFailed))
	assert.Equal(t, "x=1", cs.Sprintf(ColorRed, "x=%d", 1))

	var nilColors *ColorSystem
	assert.Equal(t, "ok", nilColors.Colorize("ok", ColorGreen))
	assert.Equal(t, DarkColorTheme(), nilColors.Theme())
}

func TestColorSystem_StatusColor(t *testing.T) {
	cs := NewColorSystem(LightColorTheme(), false)
	assert.Equal(t, ColorGreen, cs.StatusColor(backup.JobStatusCompleted))
	assert.Equal(t, ColorRed, cs.StatusColor(backup.JobStatusFailed))
	assert.Equal(t, ColorYellow, cs.StatusColor(backup.JobStatusCancelled))
	assert.Equal(t, ColorCyan, cs.StatusColor(backup.JobStatusRunning))
	assert.Equal(t, ColorReset, cs.StatusColor(backup.JobStatusPending))
}

func TestTable_Render(t *testing.T) {
	table := NewTable(plainColors(), "NAME", "COUNT")
	table.SetMaxWidth(0)
	table.AlignRight(1)
	table.AddRow("customers", "2")
	table.AddRow("sales", "1200")

	lines := strings.Split(strings.TrimRight(table.Render(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "+-----------+-------+", lines[0])
	assert.Equal(t, "| NAME      | COUNT |", lines[1])
	assert.Equal(t, "| customers |     2 |", lines[3])
	assert.Equal(t, "| sales     |  1200 |", lines[4])
	assert.Equal(t, 2, table.Len())
}

func TestTable_FitsMaxWidth(t *testing.T) {
	table := NewTable(plainColors(), "ID", "DESCRIPTION")
	table.SetMaxWidth(30)
	table.AddRow("1", strings.Repeat("x", 60))

	for _, line := range strings.Split(strings.TrimRight(table.Render(), "\n"), "\n") {
		assert.LessOrEqual(t, len(line), 30)
	}
	assert.Contains(t, table.Render(), "...")
}

func TestTable_EmptyRendersNothing(t *testing.T) {
	assert.Empty(t, NewTable(plainColors()).Render())
}

func TestBackupTable(t *testing.T) {
	jobs := []*backup.BackupJob{
		{ID: "0f8fad5b-d9cb-469f-a165-70867728950e", Name: "nightly", Domains: []string{"customers", "sales"},
			Status: backup.JobStatusCompleted, Progress: 100, RecordCount: 42, UncompressedSize: 2048, CompressedSize: 512,
			CreatedAt: time.Now()},
		{ID: "7c9e6679", Name: "adhoc", Status: backup.JobStatusRunning, Progress: 40, CreatedAt: time.Now()},
	}

	table := BackupTable(plainColors(), jobs)
	table.SetMaxWidth(0)
	out := table.Render()
	assert.Contains(t, out, "0f8fad5b ")
	assert.NotContains(t, out, "d9cb")
	assert.Contains(t, out, "customers,sales")
	assert.Contains(t, out, "512 B")
	assert.Contains(t, out, "75.0%")
	assert.Contains(t, out, "running")
}

func TestRestoreTable(t *testing.T) {
	jobs := []*backup.RestoreJob{{ID: "r1", Name: "Restore nightly", Status: backup.JobStatusCompleted,
		Progress: 100, TotalRecords: 10, ProcessedRecords: 10, SuccessCount: 9, FailedCount: 1, ClearExisting: true}}

	table := RestoreTable(plainColors(), jobs)
	table.SetMaxWidth(0)
	out := table.Render()
	assert.Contains(t, out, "10/10")
	assert.Contains(t, out, "true")
	assert.Contains(t, out, "Restore nightly")
}

func TestWriteStatusReport(t *testing.T) {
	var buf bytes.Buffer
	WriteStatusReport(&buf, plainColors(), &backup.JobStatusReport{
		ID:               "r1",
		Kind:             backup.JobKindRestore,
		Name:             "Restore nightly",
		Status:           backup.JobStatusFailed,
		Progress:         40,
		TotalRecords:     10,
		ProcessedRecords: 4,
		SuccessCount:     3,
		FailedCount:      1,
		ErrorMessage:     "connection reset",
		Duration:         1500 * time.Millisecond,
	})

	out := buf.String()
	assert.Contains(t, out, "Status:")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "4/10 processed")
	assert.Contains(t, out, "Failed:")
	assert.Contains(t, out, "Error:")
	assert.Contains(t, out, "connection reset")
	assert.Contains(t, out, "2s")
	assert.NotContains(t, out, "Archive:")

	buf.Reset()
	WriteStatusReport(&buf, plainColors(), &backup.JobStatusReport{
		ID:          "r2",
		Kind:        backup.JobKindRestore,
		Status:      backup.JobStatusCompleted,
		ArchivePath: "/var/backups/nightly_20240601_020304.json.gz",
		SourceSize:  3 * 1024 * 1024,
	})
	assert.Contains(t, buf.String(), "nightly_20240601_020304.json.gz")
	assert.Contains(t, buf.String(), "Archive size:")
}

func TestWriteRetentionResult(t *testing.T) {
	var buf bytes.Buffer
	WriteRetentionResult(&buf, plainColors(), &backup.RetentionResult{
		TotalBackupsProcessed: 3, BackupsKept: 1, BackupsDeleted: 2,
		DeletedBackups: []string{"a", "b"}, Errors: []string{"remove c: permission denied"},
	})
	out := buf.String()
	assert.Contains(t, out, "kept 1, deleted 2")
	assert.Contains(t, out, "  - a\n")
	assert.Contains(t, out, "permission denied")
}

func TestScheduleTable(t *testing.T) {
	next := time.Date(2030, 1, 1, 2, 0, 0, 0, time.Local)
	table := ScheduleTable(plainColors(), []backup.RetentionSchedule{{
		Name: "nightly", Frequency: backup.FrequencyDaily, TimeOfDay: "02:00",
		Domains: []string{"customers"}, MaxBackupsToKeep: 7, IsActive: true, NextRun: &next,
	}})
	table.SetMaxWidth(0)
	out := table.Render()
	assert.Contains(t, out, "2030-01-01 02:00:00")
	assert.Contains(t, out, "daily")
}

func TestJobProgress_NonInteractive(t *testing.T) {
	var buf bytes.Buffer
	p := NewJobProgress(&buf, plainColors())

	report := &backup.JobStatusReport{ID: "b1", Kind: backup.JobKindBackup, Status: backup.JobStatusRunning, Progress: 50, CurrentStep: "Reading sales"}
	p.Update(report)
	p.Update(report)
	report.Progress = 90
	report.CurrentStep = "Writing archive"
	p.Update(report)
	p.Update(&backup.JobStatusReport{ID: "b1", Kind: backup.JobKindBackup, Status: backup.JobStatusCompleted, Progress: 100, Duration: 2 * time.Second})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3, "repeated reports are not printed twice")
	assert.Equal(t, "[###############---------------]  50% Reading sales", lines[0])
	assert.Contains(t, lines[1], " 90% Writing archive")
	assert.Equal(t, "backup b1 completed in 2s", lines[2])
}

func TestParseOutputFormat(t *testing.T) {
	f, err := ParseOutputFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseOutputFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatTable, f)

	_, err = ParseOutputFormat("xml")
	assert.Error(t, err)
}

func TestWriteStructured(t *testing.T) {
	job := &backup.BackupJob{ID: "b1", Name: "nightly", Status: backup.JobStatusCompleted, CompressedSize: 10}

	var jsonOut bytes.Buffer
	require.NoError(t, WriteStructured(&jsonOut, FormatJSON, job))
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(jsonOut.Bytes(), &decoded))
	assert.Equal(t, "nightly", decoded["name"])

	var yamlOut bytes.Buffer
	require.NoError(t, WriteStructured(&yamlOut, FormatYAML, job))
	decoded = nil
	require.NoError(t, yaml.Unmarshal(yamlOut.Bytes(), &decoded))
	assert.Equal(t, "completed", decoded["status"])
	assert.Equal(t, 10, decoded["compressed_size"])
}

func TestPrinter_Quiet(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, plainColors(), true)
	p.Info("hidden")
	p.Success("hidden")
	p.Warning("shown %d", 1)
	p.Error("also shown")
	assert.Equal(t, "⚠ shown 1\n✗ also shown\n", buf.String())
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2*1024*1024))
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "250ms", FormatDuration(250*time.Millisecond))
	assert.Equal(t, "1m5s", FormatDuration(65*time.Second))
	assert.Equal(t, "-", FormatTime(time.Time{}))
	assert.Equal(t, "abc", ShortID("abc"))
}
