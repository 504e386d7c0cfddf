package domain

import (
	"fmt"
	"math/rand"
)

// Field is a flat, row-major float32 array with shape metadata. It is the
// only value that crosses into the rendering layer. A Field is treated as
// immutable after construction: callers build a new one instead of editing
// Data in place, so Validate stays true for every value in flight.
type Field struct {
	Data  []float32
	Shape []uint64
}

// NumElements returns the product of the shape dimensions. An empty shape
// describes a scalar and yields 1, matching the array format's convention.
func (f Field) NumElements() uint64 {
	n := uint64(1)
	for _, d := range f.Shape {
		n *= d
	}
	return n
}

func (f Field) Validate() error {
	if n := f.NumElements(); n != uint64(len(f.Data)) {
		return fmt.Errorf("shape %v describes %d elements, data has %d", f.Shape, n, len(f.Data))
	}
	return nil
}

// RandomField builds a seed density field with values in [0, 1). The initial
// scene uses it before the user has edited anything; the same seed yields
// the same field.
func RandomField(shape []uint64, seed int64) Field {
	f := Field{Shape: append([]uint64(nil), shape...)}
	rng := rand.New(rand.NewSource(seed))
	f.Data = make([]float32, f.NumElements())
	for i := range f.Data {
		f.Data[i] = rng.Float32()
	}
	return f
}
