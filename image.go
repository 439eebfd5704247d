package reconnet

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// An Image is a batch of single-channel images.
//
// Data is packed batch-major, and each image is stored
// row-major.
type Image struct {
	Data   anydiff.Res
	Num    int
	Height int
	Width  int
}

// NewImage creates a constant Image from raw values.
func NewImage(c anyvec.Creator, num, height, width int, values []float64) *Image {
	if len(values) != num*height*width {
		panic(fmt.Sprintf("expected %d values but got %d", num*height*width, len(values)))
	}
	vec := c.MakeVectorData(c.MakeNumericList(values))
	return &Image{
		Data:   anydiff.NewConst(vec),
		Num:    num,
		Height: height,
		Width:  width,
	}
}

// FillImage creates a constant Image where every pixel is
// set to value.
func FillImage(c anyvec.Creator, num, height, width int, value float64) *Image {
	vec := c.MakeVector(num * height * width)
	vec.AddScalar(c.MakeNumeric(value))
	return &Image{
		Data:   anydiff.NewConst(vec),
		Num:    num,
		Height: height,
		Width:  width,
	}
}

// Creator returns the creator which owns the image data.
func (i *Image) Creator() anyvec.Creator {
	return i.Data.Output().Creator()
}

// PixelCount returns the number of pixels in one image of
// the batch.
func (i *Image) PixelCount() int {
	return i.Height * i.Width
}

// Validate checks that the declared shape is positive and
// matches the length of the data.
func (i *Image) Validate() error {
	if i.Num < 1 || i.Height < 1 || i.Width < 1 {
		return essentials.AddCtx(fmt.Sprintf("image %dx%dx%d", i.Num, i.Height, i.Width),
			ErrShapeMismatch)
	}
	if n := i.Data.Output().Len(); n != i.Num*i.PixelCount() {
		return essentials.AddCtx(fmt.Sprintf("image data length %d for shape %dx%dx%d",
			n, i.Num, i.Height, i.Width), ErrShapeMismatch)
	}
	return nil
}

// CheckDevice returns ErrDeviceMismatch if the image data
// was not created by c.
func (i *Image) CheckDevice(c anyvec.Creator) error {
	if i.Creator() != c {
		return ErrDeviceMismatch
	}
	return nil
}

// SameShape checks if two images have the same batch size
// and spatial dimensions.
func SameShape(a, b *Image) bool {
	return a.Num == b.Num && a.Height == b.Height && a.Width == b.Width
}

// CheckPair validates a pair of images which are meant to
// be combined element-wise.
func CheckPair(a, b *Image) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	if !SameShape(a, b) {
		return essentials.AddCtx(fmt.Sprintf("%dx%dx%d versus %dx%dx%d",
			a.Num, a.Height, a.Width, b.Num, b.Height, b.Width), ErrShapeMismatch)
	}
	if a.Creator() != b.Creator() {
		return ErrDeviceMismatch
	}
	return nil
}

// Values returns a copy of the image data as float64s.
func (i *Image) Values() []float64 {
	out := i.Data.Output()
	return out.Creator().Float64Slice(out.Data())
}

// Frame returns the pixels of the k-th image in the batch.
func (i *Image) Frame(k int) []float64 {
	if k < 0 || k >= i.Num {
		panic("frame index out of range")
	}
	n := i.PixelCount()
	out := i.Data.Output().Slice(k*n, (k+1)*n)
	return out.Creator().Float64Slice(out.Data())
}
