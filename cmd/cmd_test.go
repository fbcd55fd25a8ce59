package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mysql-data-vault/internal/backup"
	"mysql-data-vault/internal/config"
	"mysql-data-vault/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		outputFormat = "table"
		catalogDomains = nil
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersionInfo("1.2.3", "today", "abc123", "go1.25")
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "mysql-data-vault version 1.2.3")
	assert.Contains(t, out, "Commit: abc123")
}

func TestConfigCommand_PrintsSample(t *testing.T) {
	out, err := execute(t, "config")
	require.NoError(t, err)
	assert.Equal(t, config.SampleConfig(), out)
}

func TestCatalogCommand_JSON(t *testing.T) {
	out, err := execute(t, "catalog", "--domains", "customers", "--format", "json")
	require.NoError(t, err)

	var entries []catalogEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.NotEmpty(t, entries)
	for _, e := range entries {
		assert.Equal(t, "customers", e.Domain)
	}
}

func TestCatalogCommand_RejectsUnknownDomain(t *testing.T) {
	_, err := execute(t, "catalog", "--domains", "nope")
	assert.Error(t, err)
}

func TestCatalogEntries_PriorityAndReferences(t *testing.T) {
	catalog, err := backup.NewCatalog(backup.DefaultCatalogConfig())
	require.NoError(t, err)
	specs, err := catalog.TypesFor(catalog.ListDomains())
	require.NoError(t, err)

	entries := catalogEntries(catalog, specs)
	byType := make(map[string]catalogEntry)
	for _, e := range entries {
		byType[e.Type] = e
	}

	first := catalog.PriorityList()[0]
	if e, ok := byType[first]; ok {
		assert.Equal(t, 0, e.Priority)
	}
	for _, e := range entries {
		for _, ref := range e.References {
			assert.Contains(t, ref, "->")
		}
	}
}

func TestParseJobStatus(t *testing.T) {
	status, err := parseJobStatus("completed")
	require.NoError(t, err)
	assert.Equal(t, backup.JobStatusCompleted, status)

	_, err = parseJobStatus("done")
	assert.Error(t, err)
}

func TestCurrentUser(t *testing.T) {
	t.Setenv("USER", "ops")
	assert.Equal(t, "ops", currentUser())

	t.Setenv("USER", "")
	t.Setenv("USERNAME", "")
	assert.Equal(t, "cli", currentUser())
}

func TestRestorePlan_SummarizesLocalArchive(t *testing.T) {
	cfg := &config.Config{Database: database.DatabaseConfig{Host: "db", Username: "vault", Database: "erp"}}
	cfg.SetDefaults()
	v := &vault{cfg: cfg}

	codec := cfg.Codec()
	path := filepath.Join(t.TempDir(), codec.FileName("nightly", time.Now()))
	records := []backup.RecordEnvelope{
		backup.NewRecordEnvelope("sales.order", backup.IntValue(1)),
		backup.NewRecordEnvelope("customers.customer", backup.IntValue(1)),
		backup.NewRecordEnvelope("customers.customer", backup.IntValue(2)),
	}
	_, err := codec.Write(records, path)
	require.NoError(t, err)

	restoreClearExisting = true
	t.Cleanup(func() { restoreClearExisting = false })

	plan := restorePlan(v, path)
	assert.Equal(t, 3, plan.Records)
	assert.Equal(t, []string{"customers.customer", "sales.order"}, plan.Types)
	assert.True(t, plan.ClearExisting)
	assert.True(t, strings.HasPrefix(plan.Target, "erp@db:3306"))

	remote := restorePlan(v, "s3://vault/nightly.json.gz")
	assert.Zero(t, remote.Records)
	assert.Equal(t, "s3://vault/nightly.json.gz", remote.Archive)
}

func TestRestorePlan_SkipsArchiveWithoutPrompt(t *testing.T) {
	cfg := &config.Config{Database: database.DatabaseConfig{Host: "db", Username: "vault", Database: "erp"}}
	cfg.SetDefaults()
	v := &vault{cfg: cfg}

	codec := cfg.Codec()
	path := filepath.Join(t.TempDir(), codec.FileName("nightly", time.Now()))
	_, err := codec.Write([]backup.RecordEnvelope{backup.NewRecordEnvelope("sales.order", backup.IntValue(1))}, path)
	require.NoError(t, err)

	t.Cleanup(func() {
		restoreClearExisting = false
		autoApprove = false
	})

	restoreClearExisting = false
	plan := restorePlan(v, path)
	assert.Zero(t, plan.Records, "nothing to confirm when existing rows are kept")
	assert.Empty(t, plan.Types)
	assert.Equal(t, path, plan.Archive)

	restoreClearExisting = true
	autoApprove = true
	plan = restorePlan(v, path)
	assert.Zero(t, plan.Records, "auto-approved restores are not previewed")
	assert.True(t, plan.ClearExisting)

	autoApprove = false
	plan = restorePlan(v, path)
	assert.Equal(t, 1, plan.Records)
	assert.Equal(t, []string{"sales.order"}, plan.Types)
}
