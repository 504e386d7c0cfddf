// Package npy encodes and decodes the flat-array binary format the
// inference process exchanges: magic, version 1.0, a little-endian u16
// header length, a python-literal header dict, then the payload as
// little-endian float32 in row-major order. Both the user-edited grid and
// the random seed field go through Encode, so there is exactly one place
// that knows the header layout.
package npy

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/darkmatter-labs/darkmatter-go/internal/domain"
)

var magic = []byte("\x93NUMPY")

// Encoded headers are padded so the payload starts on a 64-byte boundary.
const headerAlign = 64

// FormatError reports a malformed or unsupported buffer.
type FormatError struct {
	Reason string
	Detail string
}

func (e *FormatError) Error() string {
	if e.Detail == "" {
		return "npy: " + e.Reason
	}
	return "npy: " + e.Reason + ": " + e.Detail
}

func formatErr(reason, format string, args ...any) *FormatError {
	return &FormatError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Decode parses a complete buffer into a Field. Only version 1.x buffers
// holding little-endian float32 data in row-major order are accepted;
// fortran-order buffers are rejected rather than transposed.
func Decode(b []byte) (domain.Field, error) {
	if len(b) < len(magic)+4 {
		return domain.Field{}, formatErr("buffer too short", "%d bytes", len(b))
	}
	if string(b[:len(magic)]) != string(magic) {
		return domain.Field{}, &FormatError{Reason: "bad magic"}
	}
	major, minor := b[6], b[7]
	if major != 1 {
		return domain.Field{}, formatErr("unsupported version", "%d.%d", major, minor)
	}
	headerLen := int(binary.LittleEndian.Uint16(b[8:10]))
	if len(b) < 10+headerLen {
		return domain.Field{}, formatErr("truncated header", "declared %d bytes, %d available", headerLen, len(b)-10)
	}

	descr, fortran, shape, err := parseHeader(string(b[10 : 10+headerLen]))
	if err != nil {
		return domain.Field{}, err
	}
	if descr != "<f4" {
		return domain.Field{}, formatErr("unsupported dtype", "%q (want \"<f4\")", descr)
	}
	if fortran {
		return domain.Field{}, &FormatError{Reason: "fortran order not supported"}
	}

	elements, err := elementCount(shape)
	if err != nil {
		return domain.Field{}, err
	}

	field := domain.Field{Shape: shape}
	payload := b[10+headerLen:]
	if len(payload)%4 != 0 {
		return domain.Field{}, formatErr("payload not float32-aligned", "%d bytes", len(payload))
	}
	if want := 4 * elements; uint64(len(payload)) != want {
		return domain.Field{}, formatErr("payload length mismatch", "shape %v wants %d bytes, got %d", shape, want, len(payload))
	}

	field.Data = make([]float32, len(payload)/4)
	for i := range field.Data {
		field.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:]))
	}
	return field, nil
}

// Encode serializes a field as a version 1.0 buffer. The header is padded
// with spaces and a final newline so the payload lands on a 64-byte
// boundary; Decode accepts any padding width.
func Encode(f domain.Field) []byte {
	header := fmt.Sprintf("{'descr': '<f4', 'fortran_order': False, 'shape': %s, }", shapeTuple(f.Shape))
	// +1 for the newline terminator.
	padded := 10 + len(header) + 1
	if rem := padded % headerAlign; rem != 0 {
		padded += headerAlign - rem
	}
	headerLen := padded - 10

	buf := make([]byte, 0, padded+4*len(f.Data))
	buf = append(buf, magic...)
	buf = append(buf, 1, 0)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(headerLen))
	buf = append(buf, header...)
	for len(buf) < padded-1 {
		buf = append(buf, ' ')
	}
	buf = append(buf, '\n')
	for _, v := range f.Data {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
	}
	return buf
}

// elementCount is the checked product of the shape dimensions. A wrapping
// product would let a crafted header pass the payload-length check, so any
// shape whose element count (or byte count) overflows uint64 is rejected.
func elementCount(shape []uint64) (uint64, error) {
	n := uint64(1)
	for _, d := range shape {
		if d != 0 && n > math.MaxUint64/d {
			return 0, formatErr("shape too large", "element count overflows: %v", shape)
		}
		n *= d
	}
	if n > math.MaxUint64/4 {
		return 0, formatErr("shape too large", "payload size overflows: %v", shape)
	}
	return n, nil
}

func shapeTuple(shape []uint64) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	default:
		parts := make([]string, len(shape))
		for i, d := range shape {
			parts[i] = strconv.FormatUint(d, 10)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
}

// parseHeader extracts descr, fortran_order and shape from the header dict.
// The header is machine-written python literal text; a key scan is enough,
// a full literal parser is not warranted.
func parseHeader(header string) (descr string, fortran bool, shape []uint64, err error) {
	descr, err = quotedValue(header, "descr")
	if err != nil {
		return "", false, nil, err
	}

	order, err := bareValue(header, "fortran_order")
	if err != nil {
		return "", false, nil, err
	}
	switch order {
	case "False":
		fortran = false
	case "True":
		fortran = true
	default:
		return "", false, nil, formatErr("bad fortran_order", "%q", order)
	}

	tuple, err := bareValue(header, "shape")
	if err != nil {
		return "", false, nil, err
	}
	shape, err = parseShape(tuple)
	if err != nil {
		return "", false, nil, err
	}
	return descr, fortran, shape, nil
}

// valueAfterKey locates the text following "'key':", with surrounding
// whitespace trimmed, running to the end of the header.
func valueAfterKey(header, key string) (string, error) {
	marker := "'" + key + "':"
	idx := strings.Index(header, marker)
	if idx < 0 {
		return "", formatErr("header missing key", "%q", key)
	}
	return strings.TrimLeft(header[idx+len(marker):], " \t"), nil
}

func quotedValue(header, key string) (string, error) {
	rest, err := valueAfterKey(header, key)
	if err != nil {
		return "", err
	}
	if len(rest) == 0 || rest[0] != '\'' {
		return "", formatErr("bad header value", "key %q not quoted", key)
	}
	end := strings.IndexByte(rest[1:], '\'')
	if end < 0 {
		return "", formatErr("bad header value", "unterminated string for %q", key)
	}
	return rest[1 : 1+end], nil
}

func bareValue(header, key string) (string, error) {
	rest, err := valueAfterKey(header, key)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rest, "(") {
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return "", formatErr("bad header value", "unterminated tuple for %q", key)
		}
		return rest[:end+1], nil
	}
	end := strings.IndexAny(rest, ",}")
	if end < 0 {
		end = len(rest)
	}
	return strings.TrimSpace(rest[:end]), nil
}

func parseShape(tuple string) ([]uint64, error) {
	tuple = strings.TrimSpace(tuple)
	if !strings.HasPrefix(tuple, "(") || !strings.HasSuffix(tuple, ")") {
		return nil, formatErr("bad shape", "%q", tuple)
	}
	inner := strings.TrimSpace(tuple[1 : len(tuple)-1])
	if inner == "" {
		return []uint64{}, nil
	}
	parts := strings.Split(inner, ",")
	shape := make([]uint64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			// Trailing comma in one-dimensional tuples.
			continue
		}
		d, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, formatErr("bad shape dimension", "%q", part)
		}
		shape = append(shape, d)
	}
	return shape, nil
}
