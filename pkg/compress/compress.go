// Package compress wraps github.com/klauspost/compress/zstd behind the
// three named levels the session store's on-disk format exposes: Fast,
// Balanced, and Maximum. Balanced is the default when a caller doesn't
// configure one, matching the store's recorded-ratio metadata.
package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Level is one of the three compression levels the .agcs format records
// in a session's metadata.
type Level int

const (
	// Fast favors encode/decode speed over ratio, for autosave ticks on
	// large sessions where latency matters more than disk footprint.
	Fast Level = iota
	// Balanced is the default: a reasonable ratio at moderate cost.
	Balanced
	// Maximum favors ratio over speed, for explicit export/archival.
	Maximum
)

func (l Level) String() string {
	switch l {
	case Fast:
		return "fast"
	case Balanced:
		return "balanced"
	case Maximum:
		return "maximum"
	default:
		return "unknown"
	}
}

func (l Level) encoderLevel() zstd.EncoderLevel {
	switch l {
	case Fast:
		return zstd.SpeedFastest
	case Maximum:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedDefault
	}
}

// Codec compresses and decompresses payloads at a fixed Level. A Codec
// is safe for concurrent use: each call builds its own encoder/decoder,
// mirroring zstd's own guidance that encoders are not free to share
// across concurrent Reset-free use.
type Codec struct {
	level Level
}

// New returns a Codec for the given level.
func New(level Level) *Codec {
	return &Codec{level: level}
}

// Level reports the codec's configured level.
func (c *Codec) Level() Level { return c.level }

// Compress returns the zstd-compressed form of src.
func (c *Codec) Compress(src []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.level.encoderLevel()))
	if err != nil {
		return nil, fmt.Errorf("compress: new encoder: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(src, make([]byte, 0, len(src))), nil
}

// Decompress reverses Compress. The caller supplies the known
// uncompressed size as a capacity hint; pass 0 if unknown.
func (c *Codec) Decompress(src []byte, uncompressedSizeHint int) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("decompress: new decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(src, make([]byte, 0, uncompressedSizeHint))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

// NewStreamWriter wraps w so writes through the returned WriteCloser are
// zstd-compressed at the codec's level. The caller must Close it to
// flush the trailing frame.
func (c *Codec) NewStreamWriter(w io.Writer) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(c.level.encoderLevel()))
	if err != nil {
		return nil, fmt.Errorf("compress: new stream encoder: %w", err)
	}
	return enc, nil
}

// NewStreamReader wraps r so reads through the returned ReadCloser yield
// decompressed bytes.
func (c *Codec) NewStreamReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("decompress: new stream decoder: %w", err)
	}
	return readCloser{dec}, nil
}

type readCloser struct {
	*zstd.Decoder
}

func (r readCloser) Close() error {
	r.Decoder.Close()
	return nil
}

// Ratio returns uncompressed/compressed as a float, 1.0 when compressed
// is 0 (avoids a divide by zero for empty payloads).
func Ratio(uncompressedSize, compressedSize int) float64 {
	if compressedSize == 0 {
		return 1.0
	}
	return float64(uncompressedSize) / float64(compressedSize)
}
