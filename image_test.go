package reconnet

import (
	"errors"
	"math"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvec64"
)

func TestCheckPair(t *testing.T) {
	c := anyvec32.DefaultCreator{}
	a := FillImage(c, 2, 4, 5, 1)
	if err := CheckPair(a, FillImage(c, 2, 4, 5, 3)); err != nil {
		t.Fatal(err)
	}
	if err := CheckPair(a, FillImage(c, 2, 5, 4, 3)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected shape mismatch but got %v", err)
	}
	if err := CheckPair(a, FillImage(c, 1, 4, 5, 3)); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected shape mismatch but got %v", err)
	}
	other := FillImage(anyvec64.DefaultCreator{}, 2, 4, 5, 1)
	if err := CheckPair(a, other); !errors.Is(err, ErrDeviceMismatch) {
		t.Errorf("expected device mismatch but got %v", err)
	}
	bad := &Image{Data: a.Data, Num: 3, Height: 4, Width: 5}
	if err := CheckPair(bad, a); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("expected shape mismatch but got %v", err)
	}
}

func TestImageFrame(t *testing.T) {
	img := NewImage(anyvec64.DefaultCreator{}, 2, 1, 3, []float64{1, 2, 3, 4, 5, 6})
	frame := img.Frame(1)
	for i, x := range []float64{4, 5, 6} {
		if frame[i] != x {
			t.Fatalf("expected %v but got %v", []float64{4, 5, 6}, frame)
		}
	}
}

func TestCheckFinite(t *testing.T) {
	vec := anyvec64.MakeVectorData([]float64{1, 2, 3})
	if err := CheckFinite(vec); err != nil {
		t.Fatal(err)
	}
	vec = anyvec64.MakeVectorData([]float64{1, math.NaN(), 3})
	if err := CheckFinite(vec); !errors.Is(err, ErrNumericDegeneracy) {
		t.Errorf("expected degeneracy but got %v", err)
	}
	vec = anyvec64.MakeVectorData([]float64{math.Inf(-1)})
	if err := CheckFinite(vec); !errors.Is(err, ErrNumericDegeneracy) {
		t.Errorf("expected degeneracy but got %v", err)
	}
}

func TestFCZeroOutput(t *testing.T) {
	c := anyvec32.DefaultCreator{}
	fc := NewFCZero(c, 3, 3)
	in := anydiff.NewConst(anyvec32.MakeVectorData([]float32{1, -2, 5}))
	out := fc.Apply(in, 1).Output().Data().([]float32)
	for i, x := range out {
		if x != 0 {
			t.Errorf("output %d: expected 0 but got %f", i, x)
		}
	}
}
