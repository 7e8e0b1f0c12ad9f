package compression

import (
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Supported algorithm names. They are persisted in catalogue records and
// must not change.
const (
	AlgorithmNone = "none"
	AlgorithmGzip = "gzip"
	AlgorithmZstd = "zstd"
	AlgorithmLZ4  = "lz4"
)

// ErrUnsupportedAlgorithm is returned for unknown algorithm names.
var ErrUnsupportedAlgorithm = errors.New("unsupported compression algorithm")

// errIncompressible signals that compressing did not save space.
var errIncompressible = errors.New("data is incompressible")

// CompressionConfig holds compression configuration
type CompressionConfig struct {
	// Algorithm specifies the compression algorithm (none, gzip, zstd, lz4)
	Algorithm string
	// Level specifies the compression level; 0 selects the algorithm default
	Level int
	// MinSize specifies the minimum size to compress (bytes)
	MinSize int64
	// MaxSize specifies the maximum size to compress (bytes, 0 = no limit)
	MaxSize int64
	// AutoDetect skips payloads that already carry a compression signature
	AutoDetect bool
}

// CompressionMetadata contains metadata about compressed data
type CompressionMetadata struct {
	Algorithm        string  `json:"algorithm"`
	Level            int     `json:"level"`
	OriginalSize     int64   `json:"original_size"`
	CompressedSize   int64   `json:"compressed_size"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// CompressedData represents compressed data with metadata
type CompressedData struct {
	Data      []byte               `json:"data"`
	Metadata  *CompressionMetadata `json:"metadata"`
	Algorithm string               `json:"algorithm"`
}

// Compressor defines the interface for compression operations
type Compressor interface {
	// Algorithm returns the configured algorithm name
	Algorithm() string
	// Compress compresses data, falling back to the raw bytes when
	// compression is not worthwhile
	Compress(data []byte) (*CompressedData, error)
	// Decompress decompresses data produced by Compress
	Decompress(compressedData *CompressedData) ([]byte, error)
	// ShouldCompress determines if data of the given size should be compressed
	ShouldCompress(size int64) bool
}

// DefaultCompressionConfig returns default compression configuration
func DefaultCompressionConfig() *CompressionConfig {
	return &CompressionConfig{
		Algorithm:  AlgorithmZstd,
		Level:      0,
		MinSize:    1024,               // 1KB minimum
		MaxSize:    1024 * 1024 * 1024, // 1GB maximum
		AutoDetect: true,
	}
}

// NewCompressor creates the compressor selected by config.Algorithm.
func NewCompressor(config *CompressionConfig) (Compressor, error) {
	if config == nil {
		config = &CompressionConfig{Algorithm: AlgorithmNone}
	}
	switch config.Algorithm {
	case AlgorithmNone, "":
		return NewNoopCompressor(config), nil
	case AlgorithmGzip:
		return NewGzipCompressor(config), nil
	case AlgorithmZstd:
		return NewZstdCompressor(config)
	case AlgorithmLZ4:
		return NewLZ4Compressor(config), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, config.Algorithm)
	}
}

// Decompress reverses compression for a payload whose algorithm and
// original size were recorded at write time.
func Decompress(algorithm string, data []byte, originalSize int64) ([]byte, error) {
	switch algorithm {
	case AlgorithmNone, "":
		if int64(len(data)) != originalSize {
			return nil, fmt.Errorf("uncompressed payload: size %d does not match expected %d", len(data), originalSize)
		}
		return data, nil
	case AlgorithmGzip:
		return decompressGzip(data, originalSize)
	case AlgorithmZstd:
		return decompressZstd(data, originalSize)
	case AlgorithmLZ4:
		return decompressLZ4(data, originalSize)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
}

// base holds the behaviour shared by every compressor.
type base struct {
	config *CompressionConfig
}

// ShouldCompress determines if content should be compressed
func (b base) ShouldCompress(size int64) bool {
	if size == 0 || size < b.config.MinSize {
		return false
	}
	if b.config.MaxSize > 0 && size > b.config.MaxSize {
		return false
	}
	return true
}

func (b base) compress(algorithm string, data []byte, fn func([]byte) ([]byte, error)) (*CompressedData, error) {
	if !b.ShouldCompress(int64(len(data))) {
		return uncompressed(data), nil
	}
	if b.config.AutoDetect {
		if _, isCompressed := DetectCompression(data); isCompressed {
			return uncompressed(data), nil
		}
	}

	out, err := fn(data)
	if errors.Is(err, errIncompressible) {
		return uncompressed(data), nil
	}
	if err != nil {
		return nil, err
	}

	originalSize := int64(len(data))
	compressedSize := int64(len(out))
	return &CompressedData{
		Data: out,
		Metadata: &CompressionMetadata{
			Algorithm:        algorithm,
			Level:            b.config.Level,
			OriginalSize:     originalSize,
			CompressedSize:   compressedSize,
			CompressionRatio: float64(compressedSize) / float64(originalSize),
		},
		Algorithm: algorithm,
	}, nil
}

func (b base) decompress(compressedData *CompressedData) ([]byte, error) {
	size := int64(len(compressedData.Data))
	if compressedData.Metadata != nil {
		size = compressedData.Metadata.OriginalSize
	}
	return Decompress(compressedData.Algorithm, compressedData.Data, size)
}

// uncompressed creates a result for data stored as-is
func uncompressed(data []byte) *CompressedData {
	return &CompressedData{
		Data: data,
		Metadata: &CompressionMetadata{
			Algorithm:        AlgorithmNone,
			OriginalSize:     int64(len(data)),
			CompressedSize:   int64(len(data)),
			CompressionRatio: 1.0,
		},
		Algorithm: AlgorithmNone,
	}
}

// noopCompressor implements no compression (pass-through)
type noopCompressor struct {
	base
}

// NewNoopCompressor creates a new no-op compressor
func NewNoopCompressor(config *CompressionConfig) Compressor {
	if config == nil {
		config = &CompressionConfig{Algorithm: AlgorithmNone}
	}
	return &noopCompressor{base{config: config}}
}

func (c *noopCompressor) Algorithm() string { return AlgorithmNone }

func (c *noopCompressor) Compress(data []byte) (*CompressedData, error) {
	return uncompressed(data), nil
}

func (c *noopCompressor) Decompress(compressedData *CompressedData) ([]byte, error) {
	return c.decompress(compressedData)
}

func (c *noopCompressor) ShouldCompress(size int64) bool { return false }

// gzipCompressor implements gzip compression
type gzipCompressor struct {
	base
}

// NewGzipCompressor creates a new gzip compressor
func NewGzipCompressor(config *CompressionConfig) Compressor {
	if config == nil {
		config = DefaultCompressionConfig()
		config.Algorithm = AlgorithmGzip
	}
	return &gzipCompressor{base{config: config}}
}

func (c *gzipCompressor) Algorithm() string { return AlgorithmGzip }

// Compress compresses data using gzip
func (c *gzipCompressor) Compress(data []byte) (*CompressedData, error) {
	return c.compress(AlgorithmGzip, data, func(in []byte) ([]byte, error) {
		level := c.config.Level
		if level == 0 {
			level = gzip.DefaultCompression
		}

		var buf bytes.Buffer
		writer, err := gzip.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
		if _, err := writer.Write(in); err != nil {
			writer.Close()
			return nil, fmt.Errorf("failed to compress data: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("failed to close gzip writer: %w", err)
		}
		if buf.Len() >= len(in) {
			return nil, errIncompressible
		}
		return buf.Bytes(), nil
	})
}

// Decompress decompresses gzip data
func (c *gzipCompressor) Decompress(compressedData *CompressedData) ([]byte, error) {
	return c.decompress(compressedData)
}

func decompressGzip(data []byte, originalSize int64) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()

	buf := bytes.NewBuffer(make([]byte, 0, originalSize))
	if _, err := io.Copy(buf, reader); err != nil {
		return nil, fmt.Errorf("failed to decompress data: %w", err)
	}
	if int64(buf.Len()) != originalSize {
		return nil, fmt.Errorf("gzip decompress: got %d bytes, expected %d", buf.Len(), originalSize)
	}
	return buf.Bytes(), nil
}

// zstdCompressor implements zstd compression
type zstdCompressor struct {
	base
	encoder *zstd.Encoder
}

// zstdDecoder is shared by every reader; zstd.Decoder is safe for
// concurrent DecodeAll calls.
var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compression: zstd decoder initialization failed: " + err.Error())
	}
}

// NewZstdCompressor creates a new zstd compressor
func NewZstdCompressor(config *CompressionConfig) (Compressor, error) {
	if config == nil {
		config = DefaultCompressionConfig()
	}
	level := zstd.SpeedDefault
	if config.Level > 0 {
		level = zstd.EncoderLevelFromZstd(config.Level)
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	return &zstdCompressor{base: base{config: config}, encoder: encoder}, nil
}

func (c *zstdCompressor) Algorithm() string { return AlgorithmZstd }

// Compress compresses data using zstd
func (c *zstdCompressor) Compress(data []byte) (*CompressedData, error) {
	return c.compress(AlgorithmZstd, data, func(in []byte) ([]byte, error) {
		out := c.encoder.EncodeAll(in, nil)
		if len(out) >= len(in) {
			return nil, errIncompressible
		}
		return out, nil
	})
}

// Decompress decompresses zstd data
func (c *zstdCompressor) Decompress(compressedData *CompressedData) ([]byte, error) {
	return c.decompress(compressedData)
}

func decompressZstd(data []byte, originalSize int64) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(data, make([]byte, 0, originalSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if int64(len(out)) != originalSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), originalSize)
	}
	return out, nil
}

// lz4Compressor implements LZ4 block compression
type lz4Compressor struct {
	base
}

// NewLZ4Compressor creates a new LZ4 compressor
func NewLZ4Compressor(config *CompressionConfig) Compressor {
	if config == nil {
		config = DefaultCompressionConfig()
		config.Algorithm = AlgorithmLZ4
	}
	return &lz4Compressor{base{config: config}}
}

func (c *lz4Compressor) Algorithm() string { return AlgorithmLZ4 }

// Compress compresses data using LZ4 block mode
func (c *lz4Compressor) Compress(data []byte) (*CompressedData, error) {
	return c.compress(AlgorithmLZ4, data, func(in []byte) ([]byte, error) {
		dst := make([]byte, lz4.CompressBlockBound(len(in)))
		written, err := lz4.CompressBlock(in, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock reports 0 for incompressible input.
		if written == 0 || written >= len(in) {
			return nil, errIncompressible
		}
		return dst[:written], nil
	})
}

// Decompress decompresses LZ4 data
func (c *lz4Compressor) Decompress(compressedData *CompressedData) ([]byte, error) {
	return c.decompress(compressedData)
}

func decompressLZ4(data []byte, originalSize int64) ([]byte, error) {
	dst := make([]byte, originalSize)
	read, err := lz4.UncompressBlock(data, dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if int64(read) != originalSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, originalSize)
	}
	return dst, nil
}

// DetectCompression detects if data is already compressed
func DetectCompression(data []byte) (string, bool) {
	if len(data) < 2 {
		return "", false
	}

	// gzip magic number
	if data[0] == 0x1f && data[1] == 0x8b {
		return "gzip", true
	}

	if len(data) >= 4 {
		// ZIP
		if data[0] == 0x50 && data[1] == 0x4b && (data[2] == 0x03 || data[2] == 0x05) {
			return "zip", true
		}

		// LZ4 frame
		if data[0] == 0x04 && data[1] == 0x22 && data[2] == 0x4d && data[3] == 0x18 {
			return "lz4", true
		}

		// zstd frame
		if data[0] == 0x28 && data[1] == 0xb5 && data[2] == 0x2f && data[3] == 0xfd {
			return "zstd", true
		}
	}

	if len(data) >= 6 {
		// 7-Zip
		if bytes.Equal(data[0:6], []byte{0x37, 0x7a, 0xbc, 0xaf, 0x27, 0x1c}) {
			return "7z", true
		}
	}

	return "", false
}
