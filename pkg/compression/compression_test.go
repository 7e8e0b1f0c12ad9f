package compression

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressorsRoundTrip(t *testing.T) {
	originalData := []byte(strings.Repeat("Hello, World! This is a test message. ", 100))

	for _, algorithm := range []string{AlgorithmGzip, AlgorithmZstd, AlgorithmLZ4} {
		t.Run(algorithm, func(t *testing.T) {
			compressor, err := NewCompressor(&CompressionConfig{Algorithm: algorithm})
			require.NoError(t, err)
			assert.Equal(t, algorithm, compressor.Algorithm())

			compressed, err := compressor.Compress(originalData)
			require.NoError(t, err)
			assert.Equal(t, algorithm, compressed.Algorithm)
			assert.Equal(t, int64(len(originalData)), compressed.Metadata.OriginalSize)
			assert.Less(t, compressed.Metadata.CompressedSize, compressed.Metadata.OriginalSize)

			decompressed, err := compressor.Decompress(compressed)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(originalData, decompressed))

			viaPackage, err := Decompress(algorithm, compressed.Data, int64(len(originalData)))
			require.NoError(t, err)
			assert.Equal(t, originalData, viaPackage)
		})
	}
}

func TestCompressFallsBackToRaw(t *testing.T) {
	random := make([]byte, 4096)
	_, err := rand.Read(random)
	require.NoError(t, err)

	for _, algorithm := range []string{AlgorithmGzip, AlgorithmZstd, AlgorithmLZ4} {
		t.Run(algorithm, func(t *testing.T) {
			compressor, err := NewCompressor(&CompressionConfig{Algorithm: algorithm})
			require.NoError(t, err)

			result, err := compressor.Compress(random)
			require.NoError(t, err)
			assert.Equal(t, AlgorithmNone, result.Algorithm)
			assert.Equal(t, random, result.Data)
		})
	}
}

func TestShouldCompress(t *testing.T) {
	compressor := NewGzipCompressor(&CompressionConfig{
		Algorithm: AlgorithmGzip,
		MinSize:   1024,
		MaxSize:   4096,
	})

	testCases := []struct {
		size        int64
		expected    bool
		description string
	}{
		{0, false, "empty payload"},
		{512, false, "below minimum size"},
		{1024, true, "at minimum size"},
		{4096, true, "at maximum size"},
		{8192, false, "above maximum size"},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			assert.Equal(t, tc.expected, compressor.ShouldCompress(tc.size))
		})
	}

	small, err := compressor.Compress([]byte("tiny"))
	require.NoError(t, err)
	assert.Equal(t, AlgorithmNone, small.Algorithm)
}

func TestAutoDetectSkipsCompressedInput(t *testing.T) {
	gz := NewGzipCompressor(&CompressionConfig{Algorithm: AlgorithmGzip})
	first, err := gz.Compress([]byte(strings.Repeat("abc", 1000)))
	require.NoError(t, err)
	require.Equal(t, AlgorithmGzip, first.Algorithm)

	zs, err := NewZstdCompressor(&CompressionConfig{Algorithm: AlgorithmZstd, AutoDetect: true})
	require.NoError(t, err)
	second, err := zs.Compress(first.Data)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmNone, second.Algorithm)

	name, ok := DetectCompression(first.Data)
	assert.True(t, ok)
	assert.Equal(t, "gzip", name)
}

func TestNoopCompressor(t *testing.T) {
	compressor, err := NewCompressor(nil)
	require.NoError(t, err)
	assert.Equal(t, AlgorithmNone, compressor.Algorithm())
	assert.False(t, compressor.ShouldCompress(1 << 20))

	data := []byte(strings.Repeat("x", 4096))
	result, err := compressor.Compress(data)
	require.NoError(t, err)
	assert.Equal(t, data, result.Data)

	out, err := compressor.Decompress(result)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecompressErrors(t *testing.T) {
	_, err := NewCompressor(&CompressionConfig{Algorithm: "brotli"})
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = Decompress("brotli", []byte("x"), 1)
	assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)

	_, err = Decompress(AlgorithmNone, []byte("abc"), 4)
	assert.Error(t, err)

	_, err = Decompress(AlgorithmZstd, []byte("not zstd"), 8)
	assert.Error(t, err)
}
