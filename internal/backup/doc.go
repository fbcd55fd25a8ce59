// Package backup snapshots relational business data into compressed archives
// and replays those archives into a live database.
//
// Core Components:
//
// - Catalog: the ordered business domains, their record types and the
// priority list that fixes parent-before-child restore order
// - Snapshotter: reads every non-skipped type of the selected domains into
// RecordEnvelopes
// - ArchiveCodec: writes and reads the archive, a single JSON array inside a
// gzip, zstd or lz4 stream
// - Restorer: orders records, optionally clears existing rows, suspends
// foreign-key enforcement on one session and applies each record with
// insert-or-merge semantics, isolating per-record failures
// - JobRunner: a bounded worker pool driving ledger rows through
// pending, running and a terminal status
// - RetentionPolicy: keeps the newest completed backups and deletes the rest
// - ArchiveStore: optional mirror of finished archives on a second directory,
// S3, GCS or Azure Blob Storage
//
// Example usage:
//
//	engine, err := backup.NewEngine(backup.EngineConfig{
//		Catalog:    catalog,
//		Source:     backup.NewSQLRecordSource(db, dialect, logger),
//		Target:     backup.NewSQLRestoreTarget(db, dialect, logger),
//		Ledger:     backup.NewMemoryLedger(),
//		ArchiveDir: "/var/lib/vault/archives",
//	})
//	if err != nil {
//		return err
//	}
//
//	handle, err := engine.CreateBackup(ctx, backup.BackupRequest{
//		Name:    "nightly",
//		Domains: []string{"customers", "sales"},
//	})
//	if err != nil {
//		return err
//	}
//
//	report, err := engine.WaitForJob(ctx, handle, time.Second, nil)
//	if err != nil {
//		return err
//	}
//
//	_, err = engine.RestoreFromFile(ctx, report.ArchivePath, backup.RestoreRequest{ClearExisting: true})
package backup
