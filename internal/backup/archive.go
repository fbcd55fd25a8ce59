package backup

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrEmptyArchive is returned when an archive parses to an empty array
var ErrEmptyArchive = errors.New("archive contains no records")

const archiveTimeLayout = "20060102_150405"

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ArchiveStats describes a written archive
type ArchiveStats struct {
	Path             string
	Records          int
	UncompressedSize int64
	CompressedSize   int64
	Duration         time.Duration
}

// Ratio returns the space saved as a percentage
func (s ArchiveStats) Ratio() float64 {
	return CompressionRatio(s.UncompressedSize, s.CompressedSize)
}

// ArchiveCodec writes and reads record archives
type ArchiveCodec struct {
	algorithm CompressionType
	level     int
}

// NewArchiveCodec creates a codec writing with algorithm at level, or the
// algorithm's default level when level is zero. Reading accepts every
// supported algorithm.
func NewArchiveCodec(algorithm CompressionType, level int) *ArchiveCodec {
	if algorithm == "" {
		algorithm = CompressionTypeGzip
	}
	if level <= 0 {
		if _, _, def, err := CompressionLevels(algorithm); err == nil {
			level = def
		}
	}
	return &ArchiveCodec{algorithm: algorithm, level: level}
}

// DefaultArchiveCodec writes gzip at maximum compression
func DefaultArchiveCodec() *ArchiveCodec {
	return NewArchiveCodec(CompressionTypeGzip, 9)
}

// Algorithm returns the compression used for new archives
func (c *ArchiveCodec) Algorithm() CompressionType {
	return c.algorithm
}

// FileName returns <job-name>_<YYYYMMDD_HHMMSS> plus this codec's extension
func (c *ArchiveCodec) FileName(jobName string, t time.Time) string {
	return sanitizeJobName(jobName) + "_" + t.Format(archiveTimeLayout) + ArchiveExtension(c.algorithm)
}

// ArchiveFileName returns the gzip archive name for a job
func ArchiveFileName(jobName string, t time.Time) string {
	return DefaultArchiveCodec().FileName(jobName, t)
}

func sanitizeJobName(name string) string {
	cleaned := strings.Trim(unsafeNameChars.ReplaceAllString(strings.TrimSpace(name), "_"), "_")
	if cleaned == "" {
		return "backup"
	}
	return cleaned
}

// Write streams records as one JSON array through the compressor into path.
// The archive is assembled in a temp file next to path and renamed into place;
// on any failure the temp file is removed.
func (c *ArchiveCodec) Write(records []RecordEnvelope, path string) (stats ArchiveStats, err error) {
	start := time.Now()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return stats, NewStorageError(fmt.Sprintf("failed to create archive directory %s", dir), err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return stats, NewStorageError("failed to create temporary archive", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		tmp.Close()
		if removeErr := os.Remove(tmp.Name()); removeErr != nil && !os.IsNotExist(removeErr) {
			err = errors.Join(err, NewCleanupError("failed to remove temporary archive", removeErr))
		}
	}()

	compressed := &countingWriter{w: tmp}
	zw, err := NewCompressWriter(compressed, c.algorithm, c.level)
	if err != nil {
		return stats, err
	}
	raw := &countingWriter{w: zw}
	bw := bufio.NewWriterSize(raw, 64*1024)

	if err := writeRecords(bw, records); err != nil {
		zw.Close()
		return stats, err
	}
	if err := bw.Flush(); err != nil {
		zw.Close()
		return stats, NewStorageError("failed to write archive", err)
	}
	if err := zw.Close(); err != nil {
		return stats, NewCompressionError("failed to finish compressed stream", err)
	}
	if err := tmp.Sync(); err != nil {
		return stats, NewStorageError("failed to sync archive", err)
	}
	if err := tmp.Close(); err != nil {
		return stats, NewStorageError("failed to close archive", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return stats, NewStorageError(fmt.Sprintf("failed to move archive into place at %s", path), err)
	}
	committed = true

	return ArchiveStats{
		Path:             path,
		Records:          len(records),
		UncompressedSize: raw.n,
		CompressedSize:   compressed.n,
		Duration:         time.Since(start),
	}, nil
}

func writeRecords(w io.Writer, records []RecordEnvelope) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return NewStorageError("failed to write archive", err)
	}
	for i, rec := range records {
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return NewStorageError("failed to write archive", err)
			}
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return NewFatalJobError(fmt.Sprintf("failed to encode record %d (%s)", i, rec.Type), err)
		}
		if _, err := w.Write(data); err != nil {
			return NewStorageError("failed to write archive", err)
		}
	}
	if _, err := io.WriteString(w, "]"); err != nil {
		return NewStorageError("failed to write archive", err)
	}
	return nil
}

// Read opens an archive, detecting its compression. A read or decompress
// failure, a stream that is not one JSON array, or an empty array is a fatal
// job error. An element that is valid JSON but not a record is returned as a
// malformed envelope.
func (c *ArchiveCodec) Read(path string) ([]RecordEnvelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewFatalJobError(fmt.Sprintf("failed to open archive %s", path), err)
	}
	defer f.Close()

	return c.ReadFrom(f, path)
}

// ReadFrom parses an archive stream; name is only used for extension fallback
func (c *ArchiveCodec) ReadFrom(r io.Reader, name string) ([]RecordEnvelope, error) {
	br := bufio.NewReader(r)
	header, _ := br.Peek(4)

	algorithm := DetectCompression(header, name)
	reader, err := NewDecompressReader(br, algorithm)
	if err != nil {
		return nil, NewFatalJobError("failed to decompress archive", err)
	}
	defer reader.Close()

	dec := json.NewDecoder(reader)
	tok, err := dec.Token()
	if err != nil {
		return nil, NewFatalJobError("failed to parse archive", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, NewFatalJobError("failed to parse archive", fmt.Errorf("expected a JSON array, got %v", tok))
	}

	var records []RecordEnvelope
	for i := 0; dec.More(); i++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, NewFatalJobError(fmt.Sprintf("failed to parse archive at record %d", i), err)
		}
		var rec RecordEnvelope
		if err := json.Unmarshal(raw, &rec); err != nil {
			rec = malformedEnvelope(i, modelOf(raw), err)
		}
		records = append(records, rec)
	}
	if _, err := dec.Token(); err != nil {
		return nil, NewFatalJobError("failed to parse archive", err)
	}

	if len(records) == 0 {
		return nil, NewFatalJobError("nothing to restore", ErrEmptyArchive)
	}
	return records, nil
}

// modelOf returns the model name of an undecodable element, if it has one
func modelOf(raw json.RawMessage) string {
	var head struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(raw, &head)
	return head.Model
}

// ReadArchive reads an archive with the default codec
func ReadArchive(path string) ([]RecordEnvelope, error) {
	return DefaultArchiveCodec().Read(path)
}

// IsArchiveName reports whether name has an extension the codec can read
func IsArchiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".json", ".gz", ".zst", ".lz4"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
