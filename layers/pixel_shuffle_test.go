package layers

import (
	"reflect"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anydifftest"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/serializer"
)

func TestPixelShuffleOutput(t *testing.T) {
	layer := &PixelShuffle{
		Factor:      2,
		InputWidth:  2,
		InputHeight: 1,
		InputDepth:  8,
	}
	// Pixel (0,0) has channels 0..7, pixel (1,0) has 10..17.
	in := anyvec32.MakeVectorData([]float32{
		0, 1, 2, 3, 4, 5, 6, 7,
		10, 11, 12, 13, 14, 15, 16, 17,
	})
	actual := layer.Apply(anydiff.NewConst(in), 1).Output().Data().([]float32)
	expected := []float32{
		0, 4, 1, 5, 10, 14, 11, 15,
		2, 6, 3, 7, 12, 16, 13, 17,
	}
	if !reflect.DeepEqual(actual, expected) {
		t.Errorf("expected %v but got %v", expected, actual)
	}
	if layer.OutputWidth() != 4 || layer.OutputHeight() != 2 || layer.OutputDepth() != 2 {
		t.Errorf("unexpected output shape %dx%dx%d", layer.OutputWidth(),
			layer.OutputHeight(), layer.OutputDepth())
	}
}

func TestPixelShuffleSerialize(t *testing.T) {
	layer := &PixelShuffle{Factor: 4, InputWidth: 5, InputHeight: 7, InputDepth: 32}
	data, err := serializer.SerializeAny(layer)
	if err != nil {
		t.Fatal(err)
	}
	var newLayer *PixelShuffle
	if err := serializer.DeserializeAny(data, &newLayer); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(newLayer, layer) {
		t.Fatal("layers differ")
	}
}

func TestPixelShuffleProp(t *testing.T) {
	layer := &PixelShuffle{Factor: 2, InputWidth: 3, InputHeight: 4, InputDepth: 8}
	img := anyvec32.MakeVector(3 * 4 * 8 * 2)
	anyvec.Rand(img, anyvec.Normal, nil)
	inVar := anydiff.NewVar(img)

	checker := anydifftest.ResChecker{
		F: func() anydiff.Res {
			return layer.Apply(inVar, 2)
		},
		V: []*anydiff.Var{inVar},
	}
	checker.FullCheck(t)
}
