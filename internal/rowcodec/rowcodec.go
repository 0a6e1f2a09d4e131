// Package rowcodec implements the compact binary value format used for
// materialized query rows and for container values surfaced out of document
// bodies.
//
// A recording is a flat byte buffer of N rows, each row being a two-element
// sequence: the column-value array, then an unsigned integer bitmap of which
// of the first 64 columns were missing (SQL NULL) at query time. Rows are
// addressed by absolute row index; the recording remembers the byte offset
// of each row. Encoding is deterministic for a given row set and shared-keys
// state, so recordings can be compared for byte equality.
//
// Dictionary keys that are short and plain are interned in a SharedKeys
// table and encoded as small integer references. Each query enumerator uses
// its own fresh SharedKeys so result rows may introduce new keys without
// polluting the database's document dictionary.
package rowcodec

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/zeebo/xxh3"
)

// Value type tags.
const (
	tagNull   = 0x00
	tagFalse  = 0x01
	tagTrue   = 0x02
	tagInt    = 0x03 // zigzag varint
	tagFloat  = 0x04 // 8-byte big-endian IEEE 754
	tagString = 0x05 // varint length + bytes
	tagBlob   = 0x06 // varint length + bytes
	tagArray  = 0x07 // varint count + values
	tagDict   = 0x08 // varint count + (key, value) pairs, keys sorted
	tagKeyRef = 0x09 // varint shared-key id (dict keys only)
	tagUint   = 0x0A // varint
)

// maxSharedKeys bounds the dictionary; keys past the cap are stored inline.
const maxSharedKeys = 2048

// maxSharedKeyLen is the longest key eligible for interning.
const maxSharedKeyLen = 16

// SharedKeys is an append-only dictionary interning short dictionary keys.
// It is safe for concurrent use.
type SharedKeys struct {
	mu   sync.Mutex
	byID []string
	ids  map[string]int
}

// NewSharedKeys returns an empty dictionary.
func NewSharedKeys() *SharedKeys {
	return &SharedKeys{ids: make(map[string]int)}
}

// Count returns the number of interned keys.
func (sk *SharedKeys) Count() int {
	sk.mu.Lock()
	defer sk.mu.Unlock()
	return len(sk.byID)
}

func eligibleKey(s string) bool {
	if len(s) == 0 || len(s) > maxSharedKeyLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c == '_' || c == '-' ||
			(c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
			return false
		}
	}
	return true
}

// encodeID interns s if possible, returning its id and true, or 0 and false.
func (sk *SharedKeys) encodeID(s string) (int, bool) {
	if sk == nil || !eligibleKey(s) {
		return 0, false
	}
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if id, ok := sk.ids[s]; ok {
		return id, true
	}
	if len(sk.byID) >= maxSharedKeys {
		return 0, false
	}
	id := len(sk.byID)
	sk.byID = append(sk.byID, s)
	sk.ids[s] = id
	return id, true
}

func (sk *SharedKeys) keyForID(id int) (string, error) {
	if sk == nil {
		return "", fmt.Errorf("rowcodec: key reference %d with no shared-keys scope", id)
	}
	sk.mu.Lock()
	defer sk.mu.Unlock()
	if id < 0 || id >= len(sk.byID) {
		return "", fmt.Errorf("rowcodec: key reference %d out of range", id)
	}
	return sk.byID[id], nil
}

// EncodeValue appends the encoding of v to buf and returns the extended
// buffer. Supported shapes: nil, bool, int/int64/uint64, float64,
// json.Number, string, []byte, []any, map[string]any.
func EncodeValue(buf []byte, v any, sk *SharedKeys) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, tagNull), nil
	case bool:
		if x {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	case int:
		return appendInt(buf, int64(x)), nil
	case int64:
		return appendInt(buf, x), nil
	case uint64:
		if x > math.MaxInt64 {
			buf = append(buf, tagUint)
			return binary.AppendUvarint(buf, x), nil
		}
		return appendInt(buf, int64(x)), nil
	case float64:
		// Integral floats re-encode as ints so that decode/re-encode
		// round-trips stay byte-identical.
		if x == math.Trunc(x) && x >= math.MinInt64 && x < math.MaxInt64 && float64(int64(x)) == x {
			return appendInt(buf, int64(x)), nil
		}
		buf = append(buf, tagFloat)
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(x)), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return appendInt(buf, i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("rowcodec: bad number %q: %w", x.String(), err)
		}
		return EncodeValue(buf, f, sk)
	case string:
		buf = append(buf, tagString)
		buf = binary.AppendUvarint(buf, uint64(len(x)))
		return append(buf, x...), nil
	case []byte:
		buf = append(buf, tagBlob)
		buf = binary.AppendUvarint(buf, uint64(len(x)))
		return append(buf, x...), nil
	case []any:
		buf = append(buf, tagArray)
		buf = binary.AppendUvarint(buf, uint64(len(x)))
		var err error
		for _, elem := range x {
			if buf, err = EncodeValue(buf, elem, sk); err != nil {
				return nil, err
			}
		}
		return buf, nil
	case map[string]any:
		buf = append(buf, tagDict)
		buf = binary.AppendUvarint(buf, uint64(len(x)))
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var err error
		for _, k := range keys {
			if id, ok := sk.encodeID(k); ok {
				buf = append(buf, tagKeyRef)
				buf = binary.AppendUvarint(buf, uint64(id))
			} else {
				buf = append(buf, tagString)
				buf = binary.AppendUvarint(buf, uint64(len(k)))
				buf = append(buf, k...)
			}
			if buf, err = EncodeValue(buf, x[k], sk); err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, fmt.Errorf("rowcodec: unsupported value type %T", v)
	}
}

func appendInt(buf []byte, v int64) []byte {
	buf = append(buf, tagInt)
	u := uint64(v) << 1
	if v < 0 {
		u = ^u
	}
	return binary.AppendUvarint(buf, u)
}

// DecodeValue decodes one value from data, returning it and the number of
// bytes consumed. Key references resolve through sk.
func DecodeValue(data []byte, sk *SharedKeys) (any, int, error) {
	if len(data) == 0 {
		return nil, 0, fmt.Errorf("rowcodec: truncated value")
	}
	tag, rest := data[0], data[1:]
	n := 1
	switch tag {
	case tagNull:
		return nil, n, nil
	case tagFalse:
		return false, n, nil
	case tagTrue:
		return true, n, nil
	case tagInt:
		u, sz := binary.Uvarint(rest)
		if sz <= 0 {
			return nil, 0, fmt.Errorf("rowcodec: truncated int")
		}
		v := int64(u >> 1)
		if u&1 != 0 {
			v = ^v
		}
		return v, n + sz, nil
	case tagUint:
		u, sz := binary.Uvarint(rest)
		if sz <= 0 {
			return nil, 0, fmt.Errorf("rowcodec: truncated uint")
		}
		return u, n + sz, nil
	case tagFloat:
		if len(rest) < 8 {
			return nil, 0, fmt.Errorf("rowcodec: truncated float")
		}
		return math.Float64frombits(binary.BigEndian.Uint64(rest)), n + 8, nil
	case tagString, tagBlob:
		l, sz := binary.Uvarint(rest)
		if sz <= 0 || uint64(len(rest)-sz) < l {
			return nil, 0, fmt.Errorf("rowcodec: truncated string")
		}
		b := rest[sz : sz+int(l)]
		if tag == tagString {
			return string(b), n + sz + int(l), nil
		}
		out := make([]byte, l)
		copy(out, b)
		return out, n + sz + int(l), nil
	case tagArray:
		count, sz := binary.Uvarint(rest)
		if sz <= 0 {
			return nil, 0, fmt.Errorf("rowcodec: truncated array")
		}
		n += sz
		arr := make([]any, 0, count)
		for i := uint64(0); i < count; i++ {
			v, consumed, err := DecodeValue(data[n:], sk)
			if err != nil {
				return nil, 0, err
			}
			arr = append(arr, v)
			n += consumed
		}
		return arr, n, nil
	case tagDict:
		count, sz := binary.Uvarint(rest)
		if sz <= 0 {
			return nil, 0, fmt.Errorf("rowcodec: truncated dict")
		}
		n += sz
		dict := make(map[string]any, count)
		for i := uint64(0); i < count; i++ {
			key, consumed, err := decodeKey(data[n:], sk)
			if err != nil {
				return nil, 0, err
			}
			n += consumed
			v, consumed, err := DecodeValue(data[n:], sk)
			if err != nil {
				return nil, 0, err
			}
			dict[key] = v
			n += consumed
		}
		return dict, n, nil
	default:
		return nil, 0, fmt.Errorf("rowcodec: unknown tag 0x%02x", tag)
	}
}

func decodeKey(data []byte, sk *SharedKeys) (string, int, error) {
	if len(data) == 0 {
		return "", 0, fmt.Errorf("rowcodec: truncated dict key")
	}
	if data[0] == tagKeyRef {
		id, sz := binary.Uvarint(data[1:])
		if sz <= 0 {
			return "", 0, fmt.Errorf("rowcodec: truncated key reference")
		}
		key, err := sk.keyForID(int(id))
		if err != nil {
			return "", 0, err
		}
		return key, 1 + sz, nil
	}
	v, n, err := DecodeValue(data, sk)
	if err != nil {
		return "", 0, err
	}
	s, ok := v.(string)
	if !ok {
		return "", 0, fmt.Errorf("rowcodec: dict key is not a string")
	}
	return s, n, nil
}

// Encoder accumulates encoded rows into a Recording.
type Encoder struct {
	sk      *SharedKeys
	buf     []byte
	offsets []int
}

// NewEncoder returns an encoder writing under the given shared-keys scope.
func NewEncoder(sk *SharedKeys) *Encoder {
	return &Encoder{sk: sk}
}

// EncodeRow appends one row: the column array followed by the
// missing-column bitmap.
func (e *Encoder) EncodeRow(columns []any, missing uint64) error {
	start := len(e.buf)
	buf, err := EncodeValue(e.buf, columns, e.sk)
	if err != nil {
		e.buf = e.buf[:start]
		return err
	}
	buf = append(buf, tagUint)
	buf = binary.AppendUvarint(buf, missing)
	e.offsets = append(e.offsets, start)
	e.buf = buf
	return nil
}

// NumRows returns the number of rows encoded so far.
func (e *Encoder) NumRows() int { return len(e.offsets) }

// Finish seals the encoder into an immutable Recording. The encoder must
// not be reused afterward.
func (e *Encoder) Finish() *Recording {
	return &Recording{data: e.buf, offsets: e.offsets, sk: e.sk}
}

// Recording is an immutable sequence of encoded rows.
type Recording struct {
	data    []byte
	offsets []int
	sk      *SharedKeys

	hashOnce sync.Once
	hash     uint64
}

// NumRows returns the row count.
func (r *Recording) NumRows() int { return len(r.offsets) }

// Data returns the underlying buffer. Callers must not modify it.
func (r *Recording) Data() []byte { return r.data }

// Hash returns the xxh3 hash of the buffer, computed once.
func (r *Recording) Hash() uint64 {
	r.hashOnce.Do(func() { r.hash = xxh3.Hash(r.data) })
	return r.hash
}

// Equal reports whether two recordings hold byte-identical data. The
// encoder is deterministic for a given row set and shared-keys state, so
// byte equality is content equality.
func (r *Recording) Equal(other *Recording) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Hash() == other.Hash() && bytes.Equal(r.data, other.data)
}

// Row decodes row i, returning the column values and the missing bitmap.
func (r *Recording) Row(i int) ([]any, uint64, error) {
	if i < 0 || i >= len(r.offsets) {
		return nil, 0, fmt.Errorf("rowcodec: row %d out of range", i)
	}
	data := r.data[r.offsets[i]:]
	v, n, err := DecodeValue(data, r.sk)
	if err != nil {
		return nil, 0, err
	}
	cols, ok := v.([]any)
	if !ok {
		return nil, 0, fmt.Errorf("rowcodec: row %d is not an array", i)
	}
	if len(data) <= n || data[n] != tagUint {
		return nil, 0, fmt.Errorf("rowcodec: row %d missing bitmap", i)
	}
	missing, sz := binary.Uvarint(data[n+1:])
	if sz <= 0 {
		return nil, 0, fmt.Errorf("rowcodec: row %d truncated bitmap", i)
	}
	return cols, missing, nil
}

// RowJSON renders row i's columns as JSON, for logging.
func (r *Recording) RowJSON(i int) []byte {
	cols, _, err := r.Row(i)
	if err != nil {
		return nil
	}
	out, err := json.Marshal(cols)
	if err != nil {
		return nil
	}
	return out
}
