package backup

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mysql-data-vault/internal/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves rows per table and can fail individual tables
type fakeSource struct {
	tables map[string][]database.Row
	fail   map[string]error
	reads  []string
}

func (f *fakeSource) ReadRows(ctx context.Context, table, orderBy string) ([]database.Row, error) {
	f.reads = append(f.reads, table)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err, ok := f.fail[table]; ok {
		return nil, err
	}
	return f.tables[table], nil
}

func row(cols []string, types []string, vals ...any) database.Row {
	return database.Row{Columns: cols, Types: types, Values: vals}
}

func newTestSnapshotter(t *testing.T, source RecordSource) *Snapshotter {
	t.Helper()
	return NewSnapshotter(newDefaultCatalog(t), source, DefaultArchiveCodec(), nil)
}

func TestSnapshotter_Coercion(t *testing.T) {
	created := time.Date(2024, 2, 29, 23, 59, 59, 0, time.UTC)
	source := &fakeSource{tables: map[string][]database.Row{
		"sales_order": {
			row(
				[]string{"id", "customer_id", "total", "discount", "shipped", "placed_at", "due_on", "signature", "notes"},
				[]string{"BIGINT", "INT", "DECIMAL", "DOUBLE", "BOOLEAN", "DATETIME", "DATE", "LONGBLOB", "TEXT"},
				[]byte("10"), int64(3), []byte("1999.90"), []byte("0.25"), []byte("true"), created, []byte("2024-03-15"), []byte{0x01, 0x02, 0x03}, nil,
			),
		},
	}}

	result, err := newTestSnapshotter(t, source).Snapshot(context.Background(), []string{"sales"}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, result.Total())

	rec := result.Records[0]
	assert.Equal(t, "sales.order", rec.Type)
	assert.True(t, IntValue(10).Equal(rec.PK))
	assert.Equal(t, []string{"customer_id", "total", "discount", "shipped", "placed_at", "due_on", "notes"}, rec.Fields.Keys())

	customer, _ := rec.Fields.Get("customer_id")
	ref, ok := customer.AsReference()
	require.True(t, ok)
	assert.Equal(t, "customers.customer", ref.Type)

	total, _ := rec.Fields.Get("total")
	assert.True(t, StringValue("1999.90").Equal(total), "decimals keep their exact text")

	discount, _ := rec.Fields.Get("discount")
	assert.True(t, FloatValue(0.25).Equal(discount))

	shipped, _ := rec.Fields.Get("shipped")
	assert.True(t, BoolValue(true).Equal(shipped))

	placed, _ := rec.Fields.Get("placed_at")
	assert.True(t, TimestampValue(created).Equal(placed))

	due, _ := rec.Fields.Get("due_on")
	assert.Equal(t, KindTimestamp, due.Kind())

	_, hasBlob := rec.Fields.Get("signature")
	assert.False(t, hasBlob, "binary content is not archived")

	notes, _ := rec.Fields.Get("notes")
	assert.True(t, notes.IsNull())
}

func TestSnapshotter_SkipsAndIsolatesTypes(t *testing.T) {
	cols := []string{"id", "url"}
	types := []string{"INT", "VARCHAR"}
	source := &fakeSource{
		tables: map[string][]database.Row{
			"integration_webhook":  {row(cols, types, int64(1), "https://a.test")},
			"integration_sync_log": {row(cols, types, int64(1), "never read")},
		},
		fail: map[string]error{
			"customers_contact": errors.New("Table 'erp.customers_contact' doesn't exist"),
		},
	}
	source.tables["customers_customer"] = []database.Row{
		row([]string{"id", "name"}, []string{"INT", "VARCHAR"}, int64(1), "Acme"),
		row([]string{"id", "name"}, []string{"INT", "VARCHAR"}, int64(2), "Globex"),
	}

	var steps []string
	var percents []int
	result, err := newTestSnapshotter(t, source).Snapshot(context.Background(), []string{"customers", "integration"}, func(p int, step string) {
		percents = append(percents, p)
		steps = append(steps, step)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total())
	assert.Equal(t, []string{"integration.sync_log"}, result.SkippedTypes)
	assert.Equal(t, []string{"customers.contact"}, result.FailedTypes)
	assert.NotContains(t, source.reads, "integration_sync_log")

	assert.Equal(t, []int{50, 100}, percents)
	assert.Contains(t, steps[0], "customers")
}

func TestSnapshotter_InvalidDomain(t *testing.T) {
	_, err := newTestSnapshotter(t, &fakeSource{}).Snapshot(context.Background(), []string{"jobs"}, nil)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestSnapshotter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestSnapshotter(t, &fakeSource{}).Snapshot(ctx, []string{"sales"}, nil)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
}

func TestSnapshotter_MissingPrimaryKeyFailsType(t *testing.T) {
	source := &fakeSource{tables: map[string][]database.Row{
		"reporting_saved_report": {row([]string{"title"}, []string{"VARCHAR"}, "Q1")},
	}}

	result, err := newTestSnapshotter(t, source).Snapshot(context.Background(), []string{"reporting"}, nil)
	require.NoError(t, err)
	assert.Zero(t, result.Total())
	assert.Equal(t, []string{"reporting.saved_report"}, result.FailedTypes)
}

func TestSnapshot_RoundTripThroughArchive(t *testing.T) {
	source := &fakeSource{tables: map[string][]database.Row{
		"customers_customer": {
			row([]string{"id", "name", "created_at", "rating"}, []string{"BIGINT", "VARCHAR", "TIMESTAMP", "FLOAT"},
				int64(1), []byte("Acme"), time.Date(2023, 12, 31, 12, 0, 0, 500, time.UTC), float64(4)),
		},
		"customers_contact": {
			row([]string{"id", "customer_id", "email"}, []string{"BIGINT", "BIGINT", "VARCHAR"}, int64(7), int64(1), []byte("a@acme.test")),
		},
	}}

	snap := newTestSnapshotter(t, source)
	result, err := snap.Snapshot(context.Background(), []string{"customers"}, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), ArchiveFileName("roundtrip", time.Now()))
	stats, err := snap.WriteArchive(result.Records, path)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Records)

	read, err := ReadArchive(path)
	require.NoError(t, err)
	assertSameRecords(t, result.Records, read)
}

func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
		raw      any
		want     Value
		wantErr  bool
	}{
		{"unsigned overflow", "UNSIGNED BIGINT", []byte("18446744073709551615"), StringValue("18446744073709551615"), false},
		{"postgres int8 as int64", "INT8", int64(5), IntValue(5), false},
		{"numeric as float keeps text", "NUMERIC", float64(2.5), StringValue("2.5"), false},
		{"bad integer", "INT", []byte("abc"), Value{}, true},
		{"interval stays text", "INTERVAL", "1 day", StringValue("1 day"), false},
		{"json stays text", "JSON", []byte(`{"a":1}`), StringValue(`{"a":1}`), false},
		{"timestamptz text", "TIMESTAMPTZ", "2024-01-01 10:00:00+02", TimestampValue(time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)), false},
		{"unknown driver type", "VARCHAR", struct{}{}, Value{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := coerceValue(tt.typeName, tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %v (%s), got %v (%s)", tt.want, tt.want.Kind(), got, got.Kind())
		})
	}
}
