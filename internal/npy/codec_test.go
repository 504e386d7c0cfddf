package npy

import (
	"encoding/binary"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/darkmatter-labs/darkmatter-go/internal/domain"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		field domain.Field
	}{
		{"matrix", domain.Field{Data: []float32{1.0, -1.0, 2.5, 0.0}, Shape: []uint64{2, 2}}},
		{"vector", domain.Field{Data: []float32{3.25, -7.5, 0.125, 9, 42}, Shape: []uint64{5}}},
		{"scalar", domain.Field{Data: []float32{1.5}, Shape: []uint64{}}},
		{"empty dimension", domain.Field{Data: []float32{}, Shape: []uint64{0}}},
		{"empty middle dimension", domain.Field{Data: []float32{}, Shape: []uint64{3, 0, 2}}},
		{"cube", domain.RandomField([]uint64{4, 4, 4}, 7)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode(Encode(tc.field))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tc.field) {
				t.Fatalf("round trip mismatch: got %+v want %+v", got, tc.field)
			}
		})
	}
}

func TestEncodePayloadAlignment(t *testing.T) {
	buf := Encode(domain.Field{Data: []float32{1, 2, 3, 4, 5, 6}, Shape: []uint64{2, 3}})
	headerLen := int(binary.LittleEndian.Uint16(buf[8:10]))
	if (10+headerLen)%64 != 0 {
		t.Fatalf("payload offset %d not 64-byte aligned", 10+headerLen)
	}
	if buf[10+headerLen-1] != '\n' {
		t.Fatalf("header not newline-terminated")
	}
}

// The header may carry arbitrary space padding; parsed shape and dtype must
// not depend on it.
func TestDecodeIgnoresHeaderPadding(t *testing.T) {
	header := "{'descr': '<f4', 'fortran_order': False, 'shape': (2,), }" + strings.Repeat(" ", 500) + "\n"
	buf := []byte("\x93NUMPY")
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(header)))
	buf = append(buf, header...)
	buf = append(buf, 0, 0, 0x80, 0x3f) // 1.0
	buf = append(buf, 0, 0, 0x80, 0xbf) // -1.0

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := domain.Field{Data: []float32{1, -1}, Shape: []uint64{2}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

// rawBuffer assembles a buffer around an arbitrary header, bypassing the
// constraints Encode enforces.
func rawBuffer(header string, payload []byte) []byte {
	buf := []byte("\x93NUMPY")
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(header)))
	buf = append(buf, header...)
	return append(buf, payload...)
}

func TestDecodeRejections(t *testing.T) {
	valid := Encode(domain.Field{Data: []float32{1, 2, 3, 4}, Shape: []uint64{2, 2}})

	corrupt := func(mutate func(b []byte) []byte) []byte {
		b := append([]byte(nil), valid...)
		return mutate(b)
	}

	cases := []struct {
		name   string
		buf    []byte
		reason string
	}{
		{
			"short buffer",
			[]byte("\x93NUM"),
			"buffer too short",
		},
		{
			"bad magic",
			corrupt(func(b []byte) []byte { b[0] = 'x'; return b }),
			"bad magic",
		},
		{
			"unknown version",
			corrupt(func(b []byte) []byte { b[6] = 2; return b }),
			"unsupported version",
		},
		{
			"wrong dtype",
			corrupt(func(b []byte) []byte { return []byte(strings.Replace(string(b), "<f4", "<f8", 1)) }),
			"unsupported dtype",
		},
		{
			"fortran order",
			corrupt(func(b []byte) []byte { return []byte(strings.Replace(string(b), "False", "True ", 1)) }),
			"fortran order not supported",
		},
		{
			"truncated payload",
			corrupt(func(b []byte) []byte { return b[:len(b)-2] }),
			"payload not float32-aligned",
		},
		{
			"payload shape mismatch",
			corrupt(func(b []byte) []byte { return b[:len(b)-4] }),
			"payload length mismatch",
		},
		{
			"oversized payload",
			corrupt(func(b []byte) []byte { return append(b, 0, 0, 0, 0) }),
			"payload length mismatch",
		},
		{
			"declared header longer than buffer",
			corrupt(func(b []byte) []byte {
				binary.LittleEndian.PutUint16(b[8:10], uint16(len(b)))
				return b
			}),
			"truncated header",
		},
		{
			// 2^62 * 4 wraps the element product to zero, which would make an
			// empty payload look correct.
			"overflowing shape product",
			rawBuffer("{'descr': '<f4', 'fortran_order': False, 'shape': (4611686018427387904, 4), }\n", nil),
			"shape too large",
		},
		{
			// The element count fits but 4x the byte count does not.
			"overflowing byte count",
			rawBuffer("{'descr': '<f4', 'fortran_order': False, 'shape': (9223372036854775807,), }\n", nil),
			"shape too large",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.buf)
			var ferr *FormatError
			if !errors.As(err, &ferr) {
				t.Fatalf("expected FormatError, got %v", err)
			}
			if ferr.Reason != tc.reason {
				t.Fatalf("reason %q, want %q (err: %v)", ferr.Reason, tc.reason, err)
			}
		})
	}
}

func TestDecodeAcceptsTrailingCommaShape(t *testing.T) {
	// numpy writes one-dimensional shapes as "(4,)".
	buf := Encode(domain.Field{Data: []float32{1, 2, 3, 4}, Shape: []uint64{4}})
	if !strings.Contains(string(buf[:128]), "(4,)") {
		t.Fatalf("expected one-dimensional tuple form in header: %q", buf[:128])
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got.Shape, []uint64{4}) {
		t.Fatalf("shape %v, want [4]", got.Shape)
	}
}
