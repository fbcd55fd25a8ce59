package backup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDefaultCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog, err := NewCatalog(DefaultCatalogConfig())
	require.NoError(t, err)
	return catalog
}

func TestCatalog_ListDomains(t *testing.T) {
	catalog := newDefaultCatalog(t)

	assert.Equal(t,
		[]string{"organization", "customers", "sales", "manufacturing", "reporting", "integration"},
		catalog.ListDomains())
}

func TestCatalog_ShouldSkipType(t *testing.T) {
	catalog := newDefaultCatalog(t)

	tests := []struct {
		typeName string
		skip     bool
	}{
		{"sales.order", false},
		{"customers.customer", false},
		{"integration.sync_log", true},
		{"identity.user", true},
		{"jobs.backup_job", true},
		{"jobs.retention_schedule", true},
		{"billing.user_session", true},
		{"platform.schema_migration", true},
		{"audit.entry", true},
		{"warehouse.stock.log", true},
	}

	for _, tt := range tests {
		t.Run(tt.typeName, func(t *testing.T) {
			assert.Equal(t, tt.skip, catalog.ShouldSkipType(tt.typeName))
		})
	}
}

func TestCatalog_ResolveAndFlags(t *testing.T) {
	catalog := newDefaultCatalog(t)

	spec, ok := catalog.Resolve("sales.order_item")
	require.True(t, ok)
	assert.Equal(t, "sales_order_item", spec.Table)
	assert.Equal(t, "id", spec.PrimaryKey)
	assert.Equal(t, "sales.order", spec.References["order_id"])
	assert.Equal(t, "sales", spec.Domain())

	_, ok = catalog.Resolve("ghost.type")
	assert.False(t, ok)

	assert.True(t, catalog.NeverRestore("identity.permission"))
	assert.False(t, catalog.NeverRestore("sales.order"))

	assert.True(t, catalog.Protected("identity.user"))
	assert.True(t, catalog.Protected("audit.entry"))
	assert.True(t, catalog.Protected("jobs.restore_job"))
	assert.False(t, catalog.Protected("sales.order"))
}

func TestCatalog_TypesFor(t *testing.T) {
	catalog := newDefaultCatalog(t)

	domains, err := catalog.TypesFor([]string{"sales", "customers"})
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, "sales", domains[0].Name)
	assert.Equal(t, "customers", domains[1].Name)

	all, err := catalog.TypesFor(nil)
	require.NoError(t, err)
	assert.Len(t, all, len(catalog.ListDomains()))

	_, err = catalog.TypesFor([]string{"sales", "identity", "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `domain "identity" is excluded`)
	assert.Contains(t, err.Error(), `unknown domain "ghost"`)
}

func TestCatalogConfig_Validate(t *testing.T) {
	t.Run("default catalog is valid", func(t *testing.T) {
		assert.NoError(t, DefaultCatalogConfig().Validate())
	})

	tests := []struct {
		name    string
		mutate  func(*CatalogConfig)
		wantErr string
	}{
		{
			name: "duplicate type",
			mutate: func(c *CatalogConfig) {
				c.Domains[1].Types = append(c.Domains[1].Types, c.Domains[1].Types[0])
			},
			wantErr: "duplicate type name",
		},
		{
			name:    "unknown priority entry",
			mutate:  func(c *CatalogConfig) { c.PriorityList = append(c.PriorityList, "sales.refund") },
			wantErr: "unknown type",
		},
		{
			name:    "missing table",
			mutate:  func(c *CatalogConfig) { c.Domains[1].Types[0].Table = "" },
			wantErr: "table is required",
		},
		{
			name: "wrong domain prefix",
			mutate: func(c *CatalogConfig) {
				c.Domains[1].Types = append(c.Domains[1].Types, TypeSpec{Name: "sales.extra", Table: "t", PrimaryKey: "id"})
			},
			wantErr: "must be prefixed",
		},
		{
			name: "dangling reference",
			mutate: func(c *CatalogConfig) {
				c.Domains[1].Types[0].References = map[string]string{"parent_id": "nowhere.type"}
			},
			wantErr: "references unknown type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCatalogConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)

			_, err = NewCatalog(cfg)
			assert.Error(t, err)
		})
	}
}

func TestLoadCatalogFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")

	content := `
excluded_domains: [identity, audit, jobs, integration]
priority_list:
  - customers.customer
  - sales.order
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadCatalogFile(path)
	require.NoError(t, err)

	catalog, err := NewCatalog(cfg)
	require.NoError(t, err)

	assert.NotContains(t, catalog.ListDomains(), "integration")
	assert.Equal(t, []string{"customers.customer", "sales.order"}, catalog.PriorityList())

	_, ok := catalog.Resolve("sales.order")
	assert.True(t, ok, "domains not present in the file keep their defaults")

	_, err = LoadCatalogFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
