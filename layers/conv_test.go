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
	"github.com/valyala/fastrand"
)

// testConv is a small non-square convolution with two
// input channels.
func testConv(bias bool) *Conv {
	conv := &Conv{
		FilterCount:  4,
		FilterWidth:  3,
		FilterHeight: 2,
		InputWidth:   10,
		InputHeight:  9,
		InputDepth:   2,
	}
	var rng fastrand.RNG
	rng.Seed(1337)
	conv.InitUniform(anyvec32.DefaultCreator{}, &rng, bias)
	if bias {
		c := anyvec32.DefaultCreator{}
		conv.Biases.Vector.Set(c.MakeVectorData([]float32{-0.06, -0.47, 2.73, -0.23}))
	}
	return conv
}

func TestConvSerialize(t *testing.T) {
	for _, bias := range []bool{false, true} {
		conv := testConv(bias)
		data, err := serializer.SerializeAny(conv)
		if err != nil {
			t.Fatal(err)
		}
		var newConv *Conv
		if err := serializer.DeserializeAny(data, &newConv); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(newConv, conv) {
			t.Fatalf("layers differ (bias=%v)", bias)
		}
	}
}

func TestConvOutput(t *testing.T) {
	img := anyvec32.MakeVector(10 * 9 * 2 * 2)
	anyvec.Rand(img, anyvec.Normal, nil)
	for _, bias := range []bool{false, true} {
		layer := testConv(bias)
		if layer.OutputWidth() != 8 || layer.OutputHeight() != 8 {
			t.Fatalf("unexpected output size %dx%d", layer.OutputWidth(), layer.OutputHeight())
		}
		data := img.Data().([]float32)
		expected := naiveConvolution(layer, data[:10*9*2])
		expected = append(expected, naiveConvolution(layer, data[10*9*2:])...)
		actual := layer.Apply(anydiff.NewConst(img), 2).Output().Data().([]float32)
		if len(actual) != len(expected) {
			t.Fatalf("expected length %d but got %d", len(expected), len(actual))
		}
		for i, x := range expected {
			if math.Abs(float64(x-actual[i])) > 1e-3 {
				t.Fatalf("output %d (bias=%v): should be %f but got %f", i, bias, x, actual[i])
			}
		}
	}
}

func TestConvPreservesSize(t *testing.T) {
	c := anyvec32.DefaultCreator{}
	pad := NewSamePadding(12, 8, 1, 4)
	conv := &Conv{
		FilterCount:  16,
		FilterWidth:  9,
		FilterHeight: 9,
		InputWidth:   pad.OutputWidth(),
		InputHeight:  pad.OutputHeight(),
		InputDepth:   1,
	}
	var rng fastrand.RNG
	rng.Seed(1)
	conv.InitUniform(c, &rng, false)
	if conv.OutputWidth() != 12 || conv.OutputHeight() != 8 {
		t.Fatalf("unexpected output size %dx%d", conv.OutputWidth(), conv.OutputHeight())
	}
	if len(conv.Parameters()) != 1 {
		t.Errorf("expected only filters but got %d parameters", len(conv.Parameters()))
	}
	img := c.MakeVector(12 * 8 * 3)
	anyvec.Rand(img, anyvec.Normal, nil)
	out := conv.Apply(pad.Apply(anydiff.NewConst(img), 3), 3)
	if out.Output().Len() != 12*8*16*3 {
		t.Errorf("unexpected output length %d", out.Output().Len())
	}
}

func TestConvProp(t *testing.T) {
	layer := testConv(true)
	img := anyvec32.MakeVector(10 * 9 * 2 * 2)
	anyvec.Rand(img, anyvec.Normal, nil)
	inVar := anydiff.NewVar(img)

	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			return layer.Apply(inVar, 2)
		},
		V:     []*anydiff.Var{inVar, layer.Filters, layer.Biases},
		Delta: 1e-3,
		Prec:  5e-3,
	}
	checker.FullCheck(t)
}

func naiveConvolution(c *Conv, img []float32) []float32 {
	size := c.FilterWidth * c.FilterHeight * c.InputDepth
	filters := c.Filters.Vector.Data().([]float32)
	var res []float32
	for y := 0; y < c.OutputHeight(); y++ {
		for x := 0; x < c.OutputWidth(); x++ {
			for i := 0; i < c.FilterCount; i++ {
				filter := filters[size*i : size*(i+1)]
				var sum float32
				for fy := 0; fy < c.FilterHeight; fy++ {
					for fx := 0; fx < c.FilterWidth; fx++ {
						for z := 0; z < c.InputDepth; z++ {
							pixel := img[((y+fy)*c.InputWidth+x+fx)*c.InputDepth+z]
							sum += pixel * filter[(fy*c.FilterWidth+fx)*c.InputDepth+z]
						}
					}
				}
				if c.Biases != nil {
					sum += c.Biases.Vector.Data().([]float32)[i]
				}
				res = append(res, sum)
			}
		}
	}
	return res
}
