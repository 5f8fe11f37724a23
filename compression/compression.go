// Package compression stores state diffs compactly with zstd.
package compression

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/evstack/ev-batcher/types"
)

// Compression constants
const (
	// HeaderSize is the size of the compression metadata header
	HeaderSize = 9 // 1 byte flags + 8 bytes original size

	DefaultZstdLevel = 3

	FlagUncompressed = 0x00
	FlagZstd         = 0x01

	// DefaultMinCompressionRatio is the minimum saving (10%) for which the
	// compressed form is kept.
	DefaultMinCompressionRatio = 0.1
)

var (
	ErrInvalidHeader          = errors.New("invalid compression header")
	ErrInvalidCompressionFlag = errors.New("invalid compression flag")
	ErrDecompressionFailed    = errors.New("decompression failed")
)

// Config holds compression configuration
type Config struct {
	// Enabled controls whether compression is active
	Enabled bool

	// ZstdLevel is the compression level for zstd (1-22, default 3)
	ZstdLevel int

	// MinCompressionRatio is the minimum compression ratio required to store compressed data
	// If compression doesn't achieve this ratio, original data is stored uncompressed
	MinCompressionRatio float64
}

// DefaultConfig returns a configuration optimized for zstd level 3
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		ZstdLevel:           DefaultZstdLevel,
		MinCompressionRatio: DefaultMinCompressionRatio,
	}
}

// Compressor compresses payloads and prefixes them with a header recording
// the algorithm and the original size. It is safe for concurrent use.
type Compressor struct {
	config  Config
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressor creates a new Compressor.
func NewCompressor(config Config) (*Compressor, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(config.ZstdLevel)))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Compressor{config: config, encoder: encoder, decoder: decoder}, nil
}

// Close cleans up compression resources
func (c *Compressor) Close() error {
	c.encoder.Close()
	c.decoder.Close()
	return nil
}

// Compress compresses payload if it saves enough space.
func (c *Compressor) Compress(payload []byte) []byte {
	if !c.config.Enabled || len(payload) == 0 {
		return addHeader(payload, FlagUncompressed, uint64(len(payload)))
	}

	compressed := c.encoder.EncodeAll(payload, make([]byte, 0, len(payload)))
	ratio := float64(len(compressed)) / float64(len(payload))
	if ratio > (1.0 - c.config.MinCompressionRatio) {
		return addHeader(payload, FlagUncompressed, uint64(len(payload)))
	}
	return addHeader(compressed, FlagZstd, uint64(len(payload)))
}

// Decompress reverses Compress.
func (c *Compressor) Decompress(data []byte) ([]byte, error) {
	flag, originalSize, payload, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	switch flag {
	case FlagUncompressed:
		return payload, nil
	case FlagZstd:
		decompressed, err := c.decoder.DecodeAll(payload, make([]byte, 0, originalSize))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
		if uint64(len(decompressed)) != originalSize {
			return nil, fmt.Errorf("decompressed size mismatch: expected %d, got %d", originalSize, len(decompressed))
		}
		return decompressed, nil
	default:
		return nil, fmt.Errorf("%w: flag %d", ErrInvalidCompressionFlag, flag)
	}
}

func addHeader(payload []byte, flag uint8, originalSize uint64) []byte {
	result := make([]byte, HeaderSize+len(payload))
	result[0] = flag
	binary.LittleEndian.PutUint64(result[1:HeaderSize], originalSize)
	copy(result[HeaderSize:], payload)
	return result
}

func parseHeader(data []byte) (uint8, uint64, []byte, error) {
	if len(data) < HeaderSize {
		return 0, 0, nil, ErrInvalidHeader
	}
	return data[0], binary.LittleEndian.Uint64(data[1:HeaderSize]), data[HeaderSize:], nil
}

var (
	defaultOnce       sync.Once
	defaultCompressor *Compressor
	defaultErr        error
)

func getDefault() (*Compressor, error) {
	defaultOnce.Do(func() {
		defaultCompressor, defaultErr = NewCompressor(DefaultConfig())
	})
	return defaultCompressor, defaultErr
}

// CompressStateDiff encodes and compresses diff with the default configuration.
func CompressStateDiff(diff *types.StateDiff) ([]byte, error) {
	c, err := getDefault()
	if err != nil {
		return nil, err
	}
	raw, err := diff.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode state diff: %w", err)
	}
	return c.Compress(raw), nil
}

// DecompressStateDiff reverses CompressStateDiff.
func DecompressStateDiff(data []byte) (*types.StateDiff, error) {
	c, err := getDefault()
	if err != nil {
		return nil, err
	}
	raw, err := c.Decompress(data)
	if err != nil {
		return nil, err
	}
	diff := types.NewStateDiff()
	if err := diff.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("decode state diff: %w", err)
	}
	return diff, nil
}

// Info provides information about a payload's compression
type Info struct {
	IsCompressed     bool
	Algorithm        string
	OriginalSize     uint64
	CompressedSize   uint64
	CompressionRatio float64
}

// GetInfo inspects the header of data.
func GetInfo(data []byte) Info {
	info := Info{
		Algorithm:      "none",
		OriginalSize:   uint64(len(data)),
		CompressedSize: uint64(len(data)),
	}

	flag, originalSize, payload, err := parseHeader(data)
	if err != nil {
		return info
	}

	info.OriginalSize = originalSize
	info.CompressedSize = uint64(len(payload))
	if flag == FlagZstd {
		info.IsCompressed = true
		info.Algorithm = "zstd"
		if originalSize > 0 {
			info.CompressionRatio = float64(len(payload)) / float64(originalSize)
		}
	}
	return info
}
