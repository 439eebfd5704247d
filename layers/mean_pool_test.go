package layers

import (
	"math"
	"reflect"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/serializer"
)

// regroupAndPool builds the tail of a tile block for a
// width by height window with factor*factor channels.
func regroupAndPool(factor, width, height int) (*PixelShuffle, *MeanPool) {
	shuffle := &PixelShuffle{
		Factor:      factor,
		InputWidth:  width,
		InputHeight: height,
		InputDepth:  factor * factor,
	}
	pool := &MeanPool{
		Span:        factor,
		InputWidth:  shuffle.OutputWidth(),
		InputHeight: shuffle.OutputHeight(),
		InputDepth:  shuffle.OutputDepth(),
	}
	return shuffle, pool
}

func TestMeanPoolRestoresWindow(t *testing.T) {
	shuffle, pool := regroupAndPool(4, 6, 5)
	if pool.OutputWidth() != 6 || pool.OutputHeight() != 5 || pool.OutputDepth() != 1 {
		t.Fatalf("unexpected output shape %dx%dx%d", pool.OutputWidth(),
			pool.OutputHeight(), pool.OutputDepth())
	}

	// Each pooled square holds the channels of exactly one
	// window pixel, so the result is their mean.
	in := anyvec32.MakeVector(6 * 5 * 16 * 2)
	anyvec.Rand(in, anyvec.Normal, nil)
	actual := pool.Apply(shuffle.Apply(anydiff.NewConst(in), 2), 2).Output()
	expected := anyvec.SumCols(in, 6*5*2)
	expected.Scale(in.Creator().MakeNumeric(1.0 / 16))
	if !vecsClose(actual, expected) {
		t.Errorf("expected %v but got %v", expected.Data(), actual.Data())
	}
}

func TestMeanPoolOutput(t *testing.T) {
	_, pool := regroupAndPool(3, 4, 2)
	in := anyvec32.MakeVector(pool.InputWidth * pool.InputHeight * 2)
	anyvec.Rand(in, anyvec.Normal, nil)
	data := in.Data().([]float32)

	actual := pool.Apply(anydiff.NewConst(in), 2).Output().Data().([]float32)
	size := pool.InputWidth * pool.InputHeight
	expected := append(naiveMeanPool(pool, data[:size]), naiveMeanPool(pool, data[size:])...)
	if len(actual) != len(expected) {
		t.Fatalf("expected length %d but got %d", len(expected), len(actual))
	}
	for i, x := range expected {
		if math.Abs(float64(x-actual[i])) > 1e-4 {
			t.Fatalf("output %d: should be %f but got %f", i, x, actual[i])
		}
	}
}

func TestMeanPoolProp(t *testing.T) {
	shuffle, pool := regroupAndPool(2, 3, 4)
	img := anyvec32.MakeVector(3 * 4 * 4 * 2)
	anyvec.Rand(img, anyvec.Normal, nil)
	inVar := anydiff.NewVar(img)

	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			return pool.Apply(shuffle.Apply(inVar, 2), 2)
		},
		V: []*anydiff.Var{inVar},
	}
	checker.FullCheck(t)
}

func TestMeanPoolSerialize(t *testing.T) {
	_, pool := regroupAndPool(4, 8, 8)
	data, err := serializer.SerializeAny(pool)
	if err != nil {
		t.Fatal(err)
	}
	var newLayer *MeanPool
	if err := serializer.DeserializeAny(data, &newLayer); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(newLayer, pool) {
		t.Fatal("layers differ")
	}

	bad := &MeanPool{Span: 3, InputWidth: 8, InputHeight: 9, InputDepth: 1}
	data, err = serializer.SerializeAny(bad)
	if err != nil {
		t.Fatal(err)
	}
	if err := serializer.DeserializeAny(data, &newLayer); err == nil {
		t.Error("expected error for span that does not divide the input")
	}
}

func naiveMeanPool(m *MeanPool, img []float32) []float32 {
	var res []float32
	for y := 0; y < m.InputHeight; y += m.Span {
		for x := 0; x < m.InputWidth; x += m.Span {
			for z := 0; z < m.InputDepth; z++ {
				var sum float32
				for dy := 0; dy < m.Span; dy++ {
					for dx := 0; dx < m.Span; dx++ {
						sum += img[((y+dy)*m.InputWidth+x+dx)*m.InputDepth+z]
					}
				}
				res = append(res, sum/float32(m.Span*m.Span))
			}
		}
	}
	return res
}
