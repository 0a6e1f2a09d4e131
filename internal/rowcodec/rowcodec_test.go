package rowcodec

// rowcodec_test.go implements tests for the recording codec.

import (
	"bytes"
	"math"
	"reflect"
	"testing"
)

func TestValueRoundTrip(t *testing.T) {
	sk := NewSharedKeys()
	values := []any{
		nil,
		true,
		false,
		int64(0),
		int64(-1),
		int64(math.MaxInt64),
		int64(math.MinInt64),
		uint64(math.MaxUint64),
		3.25,
		"",
		"hello",
		[]byte{0x00, 0xff, 0x7f},
		[]any{int64(1), "two", nil},
		map[string]any{"name": "x", "nested": map[string]any{"deep": int64(9)}},
	}
	for _, v := range values {
		buf, err := EncodeValue(nil, v, sk)
		if err != nil {
			t.Fatalf("EncodeValue(%v) failed: %v", v, err)
		}
		got, n, err := DecodeValue(buf, sk)
		if err != nil {
			t.Fatalf("DecodeValue(%v) failed: %v", v, err)
		}
		if n != len(buf) {
			t.Errorf("DecodeValue(%v) consumed %d of %d bytes", v, n, len(buf))
		}
		if !reflect.DeepEqual(got, v) {
			t.Errorf("round trip of %#v yielded %#v", v, got)
		}
	}
}

func TestEncodeDecodeReencodeByteEqual(t *testing.T) {
	sk := NewSharedKeys()
	row := []any{
		"doc1",
		int64(7),
		map[string]any{"alpha": int64(1), "beta": []any{"x", "y"}},
		nil,
	}

	first, err := EncodeValue(nil, row, sk)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	decoded, _, err := DecodeValue(first, sk)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	second, err := EncodeValue(nil, decoded, sk)
	if err != nil {
		t.Fatalf("re-encode failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("decode/re-encode is not byte-identical")
	}
}

func TestIntegralFloatsEncodeAsInts(t *testing.T) {
	sk := NewSharedKeys()
	asFloat, _ := EncodeValue(nil, 4.0, sk)
	asInt, _ := EncodeValue(nil, int64(4), sk)
	if !bytes.Equal(asFloat, asInt) {
		t.Error("integral float and int encodings differ")
	}
	// Non-integral floats stay floats.
	v, _ := EncodeValue(nil, 4.5, sk)
	got, _, err := DecodeValue(v, sk)
	if err != nil || got != 4.5 {
		t.Errorf("4.5 round trip = %v, %v", got, err)
	}
}

func TestSharedKeysInterning(t *testing.T) {
	sk := NewSharedKeys()
	dict := map[string]any{"name": "a", "value": int64(1)}

	withKeys, err := EncodeValue(nil, dict, sk)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if sk.Count() != 2 {
		t.Errorf("interned %d keys, want 2", sk.Count())
	}

	// A second encoding reuses the ids and is deterministic.
	again, _ := EncodeValue(nil, dict, sk)
	if !bytes.Equal(withKeys, again) {
		t.Error("re-encoding with warm shared keys differs")
	}

	// Ineligible keys are stored inline, not interned.
	before := sk.Count()
	odd := map[string]any{"definitely not a shared key because it is long": int64(1), "sp ace": int64(2)}
	buf, _ := EncodeValue(nil, odd, sk)
	if sk.Count() != before {
		t.Errorf("ineligible keys were interned")
	}
	got, _, err := DecodeValue(buf, sk)
	if err != nil || !reflect.DeepEqual(got, odd) {
		t.Errorf("inline-key dict round trip = %#v, %v", got, err)
	}
}

func TestRecordingRows(t *testing.T) {
	sk := NewSharedKeys()
	enc := NewEncoder(sk)
	for i := 0; i < 5; i++ {
		cols := []any{int64(i), "row", nil}
		if err := enc.EncodeRow(cols, uint64(1)<<2); err != nil {
			t.Fatalf("EncodeRow failed: %v", err)
		}
	}
	rec := enc.Finish()

	if rec.NumRows() != 5 {
		t.Fatalf("NumRows = %d, want 5", rec.NumRows())
	}
	for i := 0; i < 5; i++ {
		cols, missing, err := rec.Row(i)
		if err != nil {
			t.Fatalf("Row(%d) failed: %v", i, err)
		}
		if cols[0] != int64(i) || cols[1] != "row" || cols[2] != nil {
			t.Errorf("Row(%d) = %v", i, cols)
		}
		if missing != 1<<2 {
			t.Errorf("Row(%d) missing = %#x", i, missing)
		}
	}
	if _, _, err := rec.Row(5); err == nil {
		t.Error("Row out of range did not fail")
	}
}

func TestRecordingEquality(t *testing.T) {
	build := func() *Recording {
		enc := NewEncoder(NewSharedKeys())
		enc.EncodeRow([]any{"a", int64(1)}, 0)
		enc.EncodeRow([]any{"b", int64(2)}, 0)
		return enc.Finish()
	}
	r1, r2 := build(), build()
	if !r1.Equal(r2) {
		t.Error("identical recordings compare unequal")
	}

	enc := NewEncoder(NewSharedKeys())
	enc.EncodeRow([]any{"a", int64(1)}, 0)
	enc.EncodeRow([]any{"b", int64(3)}, 0)
	r3 := enc.Finish()
	if r1.Equal(r3) {
		t.Error("different recordings compare equal")
	}
	if r1.Hash() != r2.Hash() {
		t.Error("hash differs for identical data")
	}
}

func TestDecodeTruncated(t *testing.T) {
	sk := NewSharedKeys()
	buf, _ := EncodeValue(nil, map[string]any{"k": "value"}, sk)
	for i := 0; i < len(buf)-1; i++ {
		if _, _, err := DecodeValue(buf[:i+1], sk); err == nil && i+1 < len(buf) {
			t.Errorf("truncation at %d decoded without error", i+1)
		}
	}
}
