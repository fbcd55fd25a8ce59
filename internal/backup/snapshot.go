package backup

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"mysql-data-vault/internal/database"
)

// RecordSource reads every row of a table. *database.TableStore implements it.
type RecordSource interface {
	ReadRows(ctx context.Context, table, orderBy string) ([]database.Row, error)
}

// ConsistentSource is a RecordSource that can serve a whole snapshot from one
// point-in-time view of the database
type ConsistentSource interface {
	RecordSource
	ReadConsistent(ctx context.Context, fn func(RecordSource) error) error
}

// ProgressFunc receives a percentage in [0,100] and a step description
type ProgressFunc func(percent int, step string)

// SnapshotResult is the output of one snapshot run
type SnapshotResult struct {
	Records      []RecordEnvelope
	SkippedTypes []string
	FailedTypes  []string
}

// Total returns the number of records captured
func (r SnapshotResult) Total() int {
	return len(r.Records)
}

// Snapshotter converts catalog types into record envelopes
type Snapshotter struct {
	catalog *Catalog
	source  RecordSource
	codec   *ArchiveCodec
	log     *JobLogger
}

// NewSnapshotter creates a snapshotter reading from source
func NewSnapshotter(catalog *Catalog, source RecordSource, codec *ArchiveCodec, log *JobLogger) *Snapshotter {
	if codec == nil {
		codec = DefaultArchiveCodec()
	}
	if log == nil {
		log, _ = NewJobLogger(JobLoggerConfig{})
	}
	return &Snapshotter{catalog: catalog, source: source, codec: codec, log: log}
}

// Snapshot reads every non-skipped type of the requested domains. A type that
// cannot be read is logged and left out; only an invalid domain selection, a
// cancelled context or a source that cannot open its snapshot view fails the
// snapshot. A ConsistentSource serves every type from one transaction.
func (s *Snapshotter) Snapshot(ctx context.Context, domains []string, progress ProgressFunc) (SnapshotResult, error) {
	selected, err := s.catalog.TypesFor(domains)
	if err != nil {
		return SnapshotResult{}, NewFatalJobError("invalid domain selection", err)
	}

	consistent, ok := s.source.(ConsistentSource)
	if !ok {
		return s.snapshotDomains(ctx, s.source, selected, progress)
	}

	var result SnapshotResult
	err = consistent.ReadConsistent(ctx, func(source RecordSource) error {
		var err error
		result, err = s.snapshotDomains(ctx, source, selected, progress)
		return err
	})
	if err != nil && !IsFatal(err) {
		err = NewFatalJobError("failed to open a consistent snapshot", err)
	}
	return result, err
}

func (s *Snapshotter) snapshotDomains(ctx context.Context, source RecordSource, selected []DomainSpec, progress ProgressFunc) (SnapshotResult, error) {
	var result SnapshotResult

	for i, domain := range selected {
		for _, spec := range domain.Types {
			if s.catalog.ShouldSkipType(spec.Name) {
				result.SkippedTypes = append(result.SkippedTypes, spec.Name)
				continue
			}

			records, err := s.snapshotType(ctx, source, spec)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return result, NewFatalJobError("snapshot interrupted", ctxErr)
				}
				s.log.LogTypeReadFailure(spec.Name, err)
				result.FailedTypes = append(result.FailedTypes, spec.Name)
				continue
			}
			result.Records = append(result.Records, records...)
		}

		if progress != nil {
			progress((i+1)*100/len(selected), fmt.Sprintf("Backed up %s (%d records)", domain.Name, len(result.Records)))
		}
	}

	return result, nil
}

// WriteArchive writes records with the snapshotter's codec
func (s *Snapshotter) WriteArchive(records []RecordEnvelope, path string) (ArchiveStats, error) {
	stats, err := s.codec.Write(records, path)
	if err != nil {
		return stats, err
	}
	s.log.Base().LogArchiveWritten(stats.Path, stats.Records, stats.UncompressedSize, stats.CompressedSize, stats.Duration)
	return stats, nil
}

func (s *Snapshotter) snapshotType(ctx context.Context, source RecordSource, spec TypeSpec) ([]RecordEnvelope, error) {
	rows, err := source.ReadRows(ctx, spec.Table, spec.PrimaryKey)
	if err != nil {
		return nil, err
	}

	binary := make(map[string]int64)
	records := make([]RecordEnvelope, 0, len(rows))
	for i, row := range rows {
		rec, err := envelopeFromRow(spec, row, binary)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		records = append(records, rec)
	}

	for column, size := range binary {
		s.log.LogBinaryOmitted(spec.Name, column, len(rows), size)
	}
	return records, nil
}

func envelopeFromRow(spec TypeSpec, row database.Row, binary map[string]int64) (RecordEnvelope, error) {
	rec := NewRecordEnvelope(spec.Name, NullValue())
	foundPK := false

	for i, column := range row.Columns {
		typeName := ""
		if i < len(row.Types) {
			typeName = row.Types[i]
		}
		raw := row.Values[i]

		if isBinaryType(typeName) {
			if b, ok := raw.([]byte); ok {
				binary[column] += int64(len(b))
			} else if _, seen := binary[column]; !seen {
				binary[column] = 0
			}
			continue
		}

		v, err := coerceValue(typeName, raw)
		if err != nil {
			return rec, fmt.Errorf("column %s: %w", column, err)
		}

		if column == spec.PrimaryKey {
			rec.PK = v
			foundPK = true
			continue
		}
		if target, ok := spec.References[column]; ok && !v.IsNull() {
			v = ReferenceValue(target, v)
		}
		rec.Fields.Set(column, v)
	}

	if !foundPK {
		return rec, fmt.Errorf("primary key column %q not found", spec.PrimaryKey)
	}
	return rec, nil
}

func isBinaryType(typeName string) bool {
	switch {
	case strings.Contains(typeName, "BLOB"), strings.Contains(typeName, "BINARY"), typeName == "BYTEA", typeName == "BIT":
		return true
	default:
		return false
	}
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02",
}

// coerceValue maps a scanned driver value onto a Value using the column's
// database type name
func coerceValue(typeName string, raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return NullValue(), nil
	case bool:
		return BoolValue(v), nil
	case int64:
		return IntValue(v), nil
	case int32:
		return IntValue(int64(v)), nil
	case int:
		return IntValue(int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return StringValue(strconv.FormatUint(v, 10)), nil
		}
		return IntValue(int64(v)), nil
	case float32:
		return coerceFloat(typeName, float64(v)), nil
	case float64:
		return coerceFloat(typeName, v), nil
	case time.Time:
		return TimestampValue(v), nil
	case []byte:
		return coerceText(typeName, string(v))
	case string:
		return coerceText(typeName, v)
	default:
		return Value{}, fmt.Errorf("unsupported driver value %T", raw)
	}
}

func coerceFloat(typeName string, f float64) Value {
	if isDecimalType(typeName) {
		return StringValue(strconv.FormatFloat(f, 'f', -1, 64))
	}
	return FloatValue(f)
}

func coerceText(typeName, text string) (Value, error) {
	switch {
	case isIntegerType(typeName):
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			// unsigned values beyond int64 keep their exact digits
			if _, uerr := strconv.ParseUint(text, 10, 64); uerr == nil {
				return StringValue(text), nil
			}
			return Value{}, fmt.Errorf("invalid integer %q", text)
		}
		return IntValue(i), nil
	case isDecimalType(typeName):
		return StringValue(text), nil
	case isFloatType(typeName):
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid float %q", text)
		}
		return FloatValue(f), nil
	case typeName == "BOOL" || typeName == "BOOLEAN":
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("invalid boolean %q", text)
		}
		return BoolValue(b), nil
	case isTemporalType(typeName):
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, text); err == nil {
				return TimestampValue(t), nil
			}
		}
		return StringValue(text), nil
	default:
		return StringValue(text), nil
	}
}

func isIntegerType(typeName string) bool {
	if strings.Contains(typeName, "INTERVAL") || strings.Contains(typeName, "POINT") {
		return false
	}
	return strings.Contains(typeName, "INT") || strings.Contains(typeName, "SERIAL")
}

func isDecimalType(typeName string) bool {
	return strings.Contains(typeName, "DECIMAL") || strings.Contains(typeName, "NUMERIC")
}

func isFloatType(typeName string) bool {
	return strings.Contains(typeName, "FLOAT") || strings.Contains(typeName, "DOUBLE") || typeName == "REAL"
}

func isTemporalType(typeName string) bool {
	return typeName == "DATE" || strings.Contains(typeName, "DATETIME") || strings.Contains(typeName, "TIMESTAMP")
}
