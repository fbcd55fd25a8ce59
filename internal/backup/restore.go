package backup

import (
	"context"
	"errors"
	"fmt"

	"mysql-data-vault/internal/database"
	apperrors "mysql-data-vault/internal/errors"
)

// DefaultProgressInterval is how many records pass between progress updates
const DefaultProgressInterval = 50

// ConstraintGuard suspends foreign-key enforcement until released.
// *database.ConstraintScope implements it.
type ConstraintGuard interface {
	Begin(ctx context.Context) error
	Release(ctx context.Context) error
}

// RecordWriter applies single-row statements inside a transaction
type RecordWriter interface {
	Insert(ctx context.Context, spec TypeSpec, columns []string, values []any) error
	Exists(ctx context.Context, spec TypeSpec, pk any) (bool, error)
	Update(ctx context.Context, spec TypeSpec, pk any, columns []string, values []any) (int64, error)
}

// RestoreSession is one connection held for the whole apply loop. The
// constraint toggle is session state, so it must be set and reset here.
type RestoreSession interface {
	Constraints() ConstraintGuard
	ClearTable(ctx context.Context, spec TypeSpec) (int64, error)
	// ColumnTypes maps each column of the type's table to its database type name
	ColumnTypes(ctx context.Context, spec TypeSpec) (map[string]string, error)
	InTx(ctx context.Context, fn func(RecordWriter) error) error
	Close() error
}

// RestoreTarget opens restore sessions
type RestoreTarget interface {
	OpenSession(ctx context.Context) (RestoreSession, error)
}

// RestoreOptions controls a single restore run
type RestoreOptions struct {
	ClearExisting    bool
	ProgressInterval int
}

// RestoreProgress is reported while the apply loop runs
type RestoreProgress struct {
	Percent   int
	Step      string
	Total     int
	Processed int
	Success   int
	Failed    int
}

// RestoreProgressFunc receives progress updates
type RestoreProgressFunc func(RestoreProgress)

// RestoreResult summarizes a finished apply loop. Skipped records count as
// processed but neither as success nor failure.
type RestoreResult struct {
	Total     int
	Processed int
	Success   int
	Failed    int
	Skipped   int
	Merged    int
	Cleared   []string
}

type applyOutcome int

const (
	outcomeInserted applyOutcome = iota + 1
	outcomeMerged
	outcomeInsertedWithoutPK
)

func (o applyOutcome) String() string {
	switch o {
	case outcomeInserted:
		return "inserted"
	case outcomeMerged:
		return "merged"
	case outcomeInsertedWithoutPK:
		return "inserted_without_pk"
	default:
		return "none"
	}
}

// Restorer replays record envelopes into a target database
type Restorer struct {
	catalog *Catalog
	orderer *DependencyOrderer
	target  RestoreTarget
	log     *JobLogger
}

// NewRestorer creates a restorer ordering records by the catalog's priority list
func NewRestorer(catalog *Catalog, target RestoreTarget, log *JobLogger) *Restorer {
	if log == nil {
		log, _ = NewJobLogger(JobLoggerConfig{})
	}
	return &Restorer{
		catalog: catalog,
		orderer: NewDependencyOrderer(catalog.PriorityList()),
		target:  target,
		log:     log,
	}
}

// RestoreArchive reads path and restores it. Archive errors are fatal and
// happen before any write.
func (r *Restorer) RestoreArchive(ctx context.Context, codec *ArchiveCodec, path string, opts RestoreOptions, progress RestoreProgressFunc) (RestoreResult, error) {
	if codec == nil {
		codec = DefaultArchiveCodec()
	}
	records, err := codec.Read(path)
	if err != nil {
		return RestoreResult{}, err
	}
	return r.Restore(ctx, records, opts, progress)
}

// Restore orders records, optionally clears existing rows, then applies each
// record with failure isolation. The returned error is non-nil only for
// conditions that abort the whole job.
func (r *Restorer) Restore(ctx context.Context, records []RecordEnvelope, opts RestoreOptions, progress RestoreProgressFunc) (result RestoreResult, err error) {
	if len(records) == 0 {
		return result, NewFatalJobError("nothing to restore", ErrEmptyArchive)
	}

	interval := opts.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	ordered := r.orderer.Order(records)
	result.Total = len(ordered)

	session, err := r.target.OpenSession(ctx)
	if err != nil {
		return result, NewFatalJobError("failed to open restore session", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			r.log.LogCleanupError("restore session", closeErr)
		}
	}()

	if opts.ClearExisting {
		result.Cleared = r.clearExisting(ctx, session, ordered)
	}

	guard := session.Constraints()
	if beginErr := guard.Begin(ctx); beginErr != nil {
		if !errors.Is(beginErr, database.ErrConstraintToggleUnsupported) {
			return result, NewFatalJobError("failed to suspend foreign key checks", beginErr)
		}
		r.log.Entry().WithField("error", beginErr.Error()).Warn("Foreign key suspension unsupported, restoring without it")
	}
	defer func() {
		if releaseErr := guard.Release(ctx); releaseErr != nil {
			r.log.LogCleanupError("foreign key checks", releaseErr)
		}
	}()

	report := func(step string) {
		if progress == nil {
			return
		}
		progress(RestoreProgress{
			Percent:   result.Processed * 100 / result.Total,
			Step:      step,
			Total:     result.Total,
			Processed: result.Processed,
			Success:   result.Success,
			Failed:    result.Failed,
		})
	}

	temporal := make(map[string]map[string]bool)
	for i, rec := range ordered {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, NewFatalJobError(fmt.Sprintf("restore interrupted after %d of %d records", result.Processed, result.Total), ctxErr)
		}

		result.Processed++
		spec, known := r.catalog.Resolve(rec.Type)
		switch {
		case rec.decodeErr != nil:
			result.Failed++
			r.log.LogRecordFailure(rec.Type, rec.index, rec.PK,
				NewRecordError("malformed archive record", rec.decodeErr).WithContext("index", rec.index))
		case !known, r.catalog.NeverRestore(rec.Type):
			result.Skipped++
		default:
			columns, seen := temporal[spec.Name]
			if !seen {
				columns = r.temporalColumns(ctx, session, spec)
				temporal[spec.Name] = columns
			}
			outcome, applyErr := r.applyRecord(ctx, session, spec, withTimestamps(rec, columns))
			if applyErr != nil {
				result.Failed++
				r.log.LogRecordFailure(rec.Type, i, rec.PK, applyErr)
				break
			}
			result.Success++
			if outcome == outcomeMerged {
				result.Merged++
			}
		}

		if result.Processed%interval == 0 || result.Processed == result.Total {
			report("Restoring " + rec.Type)
		}
	}

	return result, nil
}

// clearExisting deletes rows of every incoming type, children first. A table
// that cannot be cleared is logged and the restore carries on.
func (r *Restorer) clearExisting(ctx context.Context, session RestoreSession, ordered []RecordEnvelope) []string {
	var cleared []string
	for _, typeName := range r.orderer.ClearOrder(DistinctTypes(ordered)) {
		spec, known := r.catalog.Resolve(typeName)
		if !known || r.catalog.Protected(typeName) {
			continue
		}

		removed, err := session.ClearTable(ctx, spec)
		if err != nil {
			r.log.LogClearFailure(typeName, err)
			continue
		}
		cleared = append(cleared, typeName)
		r.log.Entry().WithField("model", typeName).WithField("rows", removed).Info("Cleared existing rows")
	}
	return cleared
}

// temporalColumns returns the date and time columns of spec's table. When the
// table cannot be described, timestamps are passed on as text.
func (r *Restorer) temporalColumns(ctx context.Context, session RestoreSession, spec TypeSpec) map[string]bool {
	types, err := session.ColumnTypes(ctx, spec)
	if err != nil {
		r.log.Entry().WithFields(map[string]interface{}{
			"model": spec.Name,
			"error": err.Error(),
		}).Debug("Could not read column types, timestamps restored as text")
		return nil
	}
	columns := make(map[string]bool)
	for column, typeName := range types {
		if isTemporalType(typeName) {
			columns[column] = true
		}
	}
	return columns
}

// withTimestamps converts archived timestamp text back into timestamps for
// temporal columns. Other strings are left alone.
func withTimestamps(rec RecordEnvelope, temporal map[string]bool) RecordEnvelope {
	if len(temporal) == 0 {
		return rec
	}
	var fields *Fields
	for _, name := range rec.Fields.Keys() {
		if !temporal[name] {
			continue
		}
		v, _ := rec.Fields.Get(name)
		text, ok := v.AsString()
		if !ok {
			continue
		}
		ts, ok := parseTimestamp(text)
		if !ok {
			continue
		}
		if fields == nil {
			fields = copyFields(rec.Fields)
		}
		fields.Set(name, TimestampValue(ts))
	}
	if fields != nil {
		rec.Fields = fields
	}
	return rec
}

// applyRecord inserts with the original key; if that fails it merges into the
// existing row or, when none exists, inserts without the key. Each attempt runs
// in its own transaction so a failed statement cannot poison the next one.
func (r *Restorer) applyRecord(ctx context.Context, session RestoreSession, spec TypeSpec, rec RecordEnvelope) (applyOutcome, error) {
	fields := rec.Fields
	if _, ok := fields.Get(spec.PrimaryKey); ok {
		fields = copyFields(fields)
		fields.Delete(spec.PrimaryKey)
	}
	cols, vals := fields.Columns()

	var insertErr error
	if !rec.PK.IsNull() {
		pk := rec.PK.Native()
		insertErr = session.InTx(ctx, func(w RecordWriter) error {
			return w.Insert(ctx, spec, append([]string{spec.PrimaryKey}, cols...), append([]any{pk}, vals...))
		})
		if insertErr == nil {
			return outcomeInserted, nil
		}
		r.log.Entry().WithFields(map[string]interface{}{
			"model":  rec.Type,
			"pk":     rec.PK.String(),
			"reason": insertFailureReason(insertErr),
		}).Debug("Insert with original key failed, falling back")
	}

	var outcome applyOutcome
	fallbackErr := session.InTx(ctx, func(w RecordWriter) error {
		if !rec.PK.IsNull() {
			found, err := w.Exists(ctx, spec, rec.PK.Native())
			if err != nil {
				return err
			}
			if found {
				outcome = outcomeMerged
				_, err := w.Update(ctx, spec, rec.PK.Native(), cols, vals)
				return err
			}
		}
		outcome = outcomeInsertedWithoutPK
		return w.Insert(ctx, spec, cols, vals)
	})
	if fallbackErr != nil {
		return 0, NewRecordError(fmt.Sprintf("failed to restore %s %s", rec.Type, rec.PK), errors.Join(insertErr, fallbackErr)).
			WithContext("model", rec.Type).
			WithContext("pk", rec.PK.String()).
			WithContext("insert_failure", insertFailureReason(insertErr))
	}
	return outcome, nil
}

// insertFailureReason names why the insert with the original key failed
func insertFailureReason(err error) string {
	switch {
	case err == nil:
		return "no_primary_key"
	case apperrors.IsDuplicateKey(err):
		return "duplicate_key"
	case apperrors.IsConstraintViolation(err):
		return "constraint"
	case apperrors.IsMissingSchemaObject(err):
		return "missing_schema_object"
	default:
		return "other"
	}
}

func copyFields(f *Fields) *Fields {
	out := NewFields()
	for _, k := range f.Keys() {
		v, _ := f.Get(k)
		out.Set(k, v)
	}
	return out
}
