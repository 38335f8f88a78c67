package partattr

import (
	"testing"
	"time"
)

func u64(v uint64) *uint64 { return &v }
func i32(v int32) *int32   { return &v }
func str(v string) *string { return &v }

func TestRoundTripAllFields(t *testing.T) {
	mod := time.Unix(1700000000, 0).UTC()
	p := &Part{
		Size:     u64(4096),
		Modified: &mod,
		FileCrc:  i32(12345),
		Value:    str("hello"),
		Subtrees: map[string]*Part{
			"copy1": {Size: u64(10)},
		},
		Attrs: map[string]string{"node": "10.0.0.1:7100"},
	}
	got, rest, err := Decode(Encode(p))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes, got %d", len(rest))
	}
	if *got.Size != *p.Size {
		t.Errorf("Size = %d, want %d", *got.Size, *p.Size)
	}
	if !got.Modified.Equal(*p.Modified) {
		t.Errorf("Modified = %v, want %v", got.Modified, p.Modified)
	}
	if *got.FileCrc != *p.FileCrc {
		t.Errorf("FileCrc = %d, want %d", *got.FileCrc, *p.FileCrc)
	}
	if got.Crc != nil {
		t.Errorf("Crc should be nil, got %v", *got.Crc)
	}
	if *got.Value != *p.Value {
		t.Errorf("Value = %q, want %q", *got.Value, *p.Value)
	}
	if got.Subtrees["copy1"] == nil || *got.Subtrees["copy1"].Size != 10 {
		t.Errorf("Subtrees[copy1] mismatch: %+v", got.Subtrees["copy1"])
	}
	if got.Attrs["node"] != "10.0.0.1:7100" {
		t.Errorf("Attrs[node] = %q", got.Attrs["node"])
	}
}

func TestFileCrcPreferredOverCrc(t *testing.T) {
	p := &Part{Crc: i32(1), FileCrc: i32(2)}
	got, _, err := Decode(Encode(p))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Crc != nil {
		t.Errorf("expected Crc to be dropped in favor of FileCrc, got %v", *got.Crc)
	}
	if got.FileCrc == nil || *got.FileCrc != 2 {
		t.Errorf("FileCrc = %v, want 2", got.FileCrc)
	}
}

func TestEmptyPartRoundTrips(t *testing.T) {
	got, rest, err := Decode(Encode(&Part{}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("expected no trailing bytes")
	}
	if got.Size != nil || got.Modified != nil || got.Crc != nil || got.FileCrc != nil || got.Value != nil {
		t.Errorf("expected all optional fields nil, got %+v", got)
	}
}

func TestDecodeSequenceAssignsNum(t *testing.T) {
	parts := []*Part{{Size: u64(1)}, {Size: u64(2)}, {Size: u64(3)}}
	blob := EncodeSequence(parts)
	got, err := DecodeSequence(blob)
	if err != nil {
		t.Fatalf("DecodeSequence: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d parts, want 3", len(got))
	}
	for i, p := range got {
		if p.Attrs["num"] != itoa(i+1) {
			t.Errorf("part %d has num=%q, want %q", i, p.Attrs["num"], itoa(i+1))
		}
	}
}

func TestDecodeTruncatedErrors(t *testing.T) {
	full := Encode(&Part{Size: u64(1)})
	if _, _, err := Decode(full[:len(full)-2]); err == nil {
		t.Fatalf("expected error decoding truncated buffer")
	}
}

func TestIsStructured(t *testing.T) {
	for _, k := range []string{"size", "modified", "crc", "fileCrc", "num"} {
		if !IsStructured(k) {
			t.Errorf("expected %q to be structured", k)
		}
	}
	if IsStructured("node") {
		t.Errorf("node should not be structured")
	}
}
