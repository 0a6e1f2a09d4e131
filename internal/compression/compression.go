// Package compression provides transparent compression for stored document
// bodies.
//
// A stored body is framed as a 1-byte codec tag followed by the compressed
// (or raw) payload, so the codec may change between database opens without
// invalidating existing records.
package compression

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type represents a body compression codec.
type Type uint8

const (
	// NoCompression stores the body as-is.
	NoCompression Type = 0x0

	// SnappyCompression uses Google Snappy compression.
	SnappyCompression Type = 0x1

	// LZ4Compression uses LZ4 block compression.
	LZ4Compression Type = 0x4

	// ZstdCompression uses Zstandard compression.
	ZstdCompression Type = 0x7
)

// String returns the human-readable name of the codec.
func (t Type) String() string {
	switch t {
	case NoCompression:
		return "NoCompression"
	case SnappyCompression:
		return "Snappy"
	case LZ4Compression:
		return "LZ4"
	case ZstdCompression:
		return "ZSTD"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(t))
	}
}

// IsSupported returns true if the codec is supported.
func (t Type) IsSupported() bool {
	switch t {
	case NoCompression, SnappyCompression, LZ4Compression, ZstdCompression:
		return true
	default:
		return false
	}
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
)

// Encode frames body with the codec tag, compressing the payload. If the
// compressed payload would not be smaller than the input, the body is stored
// raw under the NoCompression tag instead.
func Encode(t Type, body []byte) ([]byte, error) {
	var payload []byte
	switch t {
	case NoCompression:
		// nothing to do
	case SnappyCompression:
		payload = snappy.Encode(nil, body)
	case ZstdCompression:
		payload = zstdEncoder.EncodeAll(body, nil)
	case LZ4Compression:
		buf := make([]byte, lz4.CompressBlockBound(len(body)))
		n, err := lz4.CompressBlock(body, buf, nil)
		if err != nil {
			return nil, fmt.Errorf("compression: lz4: %w", err)
		}
		if n == 0 {
			break // incompressible
		}
		// LZ4 blocks do not self-describe their raw length; prepend it.
		payload = appendUvarint(nil, uint64(len(body)))
		payload = append(payload, buf[:n]...)
	default:
		return nil, fmt.Errorf("compression: unsupported codec %s", t)
	}

	if payload == nil || len(payload) >= len(body) {
		out := make([]byte, 1+len(body))
		out[0] = byte(NoCompression)
		copy(out[1:], body)
		return out, nil
	}
	out := make([]byte, 1+len(payload))
	out[0] = byte(t)
	copy(out[1:], payload)
	return out, nil
}

// Decode unframes a stored body, decompressing as its tag dictates.
func Decode(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("compression: empty framed body")
	}
	t, payload := Type(data[0]), data[1:]
	switch t {
	case NoCompression:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case SnappyCompression:
		out, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("compression: snappy: %w", err)
		}
		return out, nil
	case ZstdCompression:
		out, err := zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("compression: zstd: %w", err)
		}
		return out, nil
	case LZ4Compression:
		rawLen, n := readUvarint(payload)
		if n <= 0 {
			return nil, fmt.Errorf("compression: lz4: truncated length prefix")
		}
		out := make([]byte, rawLen)
		sz, err := lz4.UncompressBlock(payload[n:], out)
		if err != nil {
			return nil, fmt.Errorf("compression: lz4: %w", err)
		}
		return out[:sz], nil
	default:
		return nil, fmt.Errorf("compression: unsupported codec %s", t)
	}
}

func appendUvarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

func readUvarint(b []byte) (uint64, int) {
	var v uint64
	var shift uint
	for i, c := range b {
		if c < 0x80 {
			return v | uint64(c)<<shift, i + 1
		}
		v |= uint64(c&0x7f) << shift
		shift += 7
		if shift > 63 {
			return 0, -1
		}
	}
	return 0, -1
}
