package domain

import (
	"reflect"
	"testing"
)

func TestFieldValidate(t *testing.T) {
	cases := []struct {
		name    string
		field   Field
		wantErr bool
	}{
		{"matching", Field{Data: make([]float32, 6), Shape: []uint64{2, 3}}, false},
		{"scalar", Field{Data: []float32{1}, Shape: nil}, false},
		{"zero dimension", Field{Data: nil, Shape: []uint64{4, 0}}, false},
		{"too little data", Field{Data: make([]float32, 5), Shape: []uint64{2, 3}}, true},
		{"too much data", Field{Data: make([]float32, 7), Shape: []uint64{2, 3}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.field.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestRandomFieldDeterministic(t *testing.T) {
	a := RandomField([]uint64{3, 4}, 42)
	b := RandomField([]uint64{3, 4}, 42)
	if err := a.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Data) != 12 {
		t.Fatalf("expected 12 elements, got %d", len(a.Data))
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("same seed produced different fields")
	}
	c := RandomField([]uint64{3, 4}, 43)
	if reflect.DeepEqual(a.Data, c.Data) {
		t.Fatalf("different seeds produced identical data")
	}
}
