package backup

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// compressionCodec is one archive compression format
type compressionCodec struct {
	algorithm    CompressionType
	extension    string
	magic        []byte
	minLevel     int
	maxLevel     int
	defaultLevel int
	newWriter    func(w io.Writer, level int) (io.WriteCloser, error)
	newReader    func(r io.Reader) (io.ReadCloser, error)
}

// lz4 has no numeric levels; 1-9 pick Level1..Level9
var lz4Levels = []lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

var codecs = []compressionCodec{
	{
		algorithm:    CompressionTypeGzip,
		extension:    ".gz",
		magic:        []byte{0x1f, 0x8b},
		minLevel:     gzip.BestSpeed,
		maxLevel:     gzip.BestCompression,
		defaultLevel: gzip.BestCompression,
		newWriter: func(w io.Writer, level int) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(w, level)
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
	},
	{
		algorithm:    CompressionTypeZstd,
		extension:    ".zst",
		magic:        []byte{0x28, 0xb5, 0x2f, 0xfd},
		minLevel:     1,
		maxLevel:     22,
		defaultLevel: 19,
		newWriter: func(w io.Writer, level int) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			dec, err := zstd.NewReader(r)
			if err != nil {
				return nil, err
			}
			return dec.IOReadCloser(), nil
		},
	},
	{
		algorithm:    CompressionTypeLZ4,
		extension:    ".lz4",
		magic:        []byte{0x04, 0x22, 0x4d, 0x18},
		minLevel:     1,
		maxLevel:     9,
		defaultLevel: 9,
		newWriter: func(w io.Writer, level int) (io.WriteCloser, error) {
			zw := lz4.NewWriter(w)
			if err := zw.Apply(lz4.CompressionLevelOption(lz4Levels[level])); err != nil {
				return nil, err
			}
			return zw, nil
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(lz4.NewReader(r)), nil
		},
	},
}

func lookupCodec(algorithm CompressionType) (compressionCodec, error) {
	for _, c := range codecs {
		if c.algorithm == algorithm {
			return c, nil
		}
	}
	return compressionCodec{}, NewCompressionError(fmt.Sprintf("unsupported compression algorithm: %s", algorithm), nil)
}

// SupportedCompressions lists every algorithm an archive may use
func SupportedCompressions() []CompressionType {
	out := []CompressionType{CompressionTypeNone}
	for _, c := range codecs {
		out = append(out, c.algorithm)
	}
	return out
}

// CompressionLevels returns the accepted level range of algorithm and the
// level used when none is configured
func CompressionLevels(algorithm CompressionType) (lo, hi, def int, err error) {
	c, err := lookupCodec(algorithm)
	if err != nil {
		return 0, 0, 0, err
	}
	return c.minLevel, c.maxLevel, c.defaultLevel, nil
}

// NewCompressWriter wraps w in algorithm. Levels outside the codec's range
// use its default.
func NewCompressWriter(w io.Writer, algorithm CompressionType, level int) (io.WriteCloser, error) {
	if algorithm == CompressionTypeNone {
		return nopWriteCloser{w}, nil
	}
	c, err := lookupCodec(algorithm)
	if err != nil {
		return nil, err
	}
	if level < c.minLevel || level > c.maxLevel {
		level = c.defaultLevel
	}
	zw, err := c.newWriter(w, level)
	if err != nil {
		return nil, NewCompressionError(fmt.Sprintf("failed to create %s writer", algorithm), err)
	}
	return zw, nil
}

// NewDecompressReader unwraps r compressed with algorithm
func NewDecompressReader(r io.Reader, algorithm CompressionType) (io.ReadCloser, error) {
	if algorithm == CompressionTypeNone {
		return io.NopCloser(r), nil
	}
	c, err := lookupCodec(algorithm)
	if err != nil {
		return nil, err
	}
	zr, err := c.newReader(r)
	if err != nil {
		return nil, NewCompressionError(fmt.Sprintf("failed to create %s reader", algorithm), err)
	}
	return zr, nil
}

// ArchiveExtension returns the archive suffix for algorithm, e.g. ".json.gz"
func ArchiveExtension(algorithm CompressionType) string {
	if c, err := lookupCodec(algorithm); err == nil {
		return ".json" + c.extension
	}
	return ".json"
}

// DetectCompression identifies the codec from the leading bytes, then from
// the file extension. Anything else is read as plain JSON.
func DetectCompression(header []byte, name string) CompressionType {
	for _, c := range codecs {
		if bytes.HasPrefix(header, c.magic) {
			return c.algorithm
		}
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, c := range codecs {
		if ext == c.extension {
			return c.algorithm
		}
	}
	return CompressionTypeNone
}

// CompressionRatio returns the space saved as a percentage of the original size
func CompressionRatio(uncompressed, compressed int64) float64 {
	if uncompressed <= 0 {
		return 0
	}
	return float64(uncompressed-compressed) / float64(uncompressed) * 100
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
