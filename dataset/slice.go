// Package dataset loads reconstructed CT slices stored as
// 16-bit grayscale images.
//
// A case is a directory holding a low quality, a high
// quality, and (for training) a ground truth
// reconstruction of the same slice.
package dataset

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/unixpickle/essentials"
	"golang.org/x/image/tiff"
)

// An IntensityWindow maps 16-bit pixel values onto a range
// of intensities, such as Hounsfield units.
//
// Pixel 0 maps to Min and pixel 65535 maps to Max.
type IntensityWindow struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// DefaultWindow covers the usual span of CT values in
// Hounsfield units.
var DefaultWindow = IntensityWindow{Min: -1024, Max: 3071}

// Validate checks that the window is not empty.
func (w IntensityWindow) Validate() error {
	if !(w.Max > w.Min) {
		return fmt.Errorf("intensity window [%f, %f] is empty", w.Min, w.Max)
	}
	return nil
}

// Range returns the width of the window.
func (w IntensityWindow) Range() float64 {
	return w.Max - w.Min
}

// Intensity converts a pixel value into an intensity.
func (w IntensityWindow) Intensity(pixel uint16) float64 {
	return w.Min + float64(pixel)/0xffff*w.Range()
}

// Pixel converts an intensity into the closest pixel
// value, clipping to the window.
func (w IntensityWindow) Pixel(intensity float64) uint16 {
	frac := (intensity - w.Min) / w.Range()
	if frac <= 0 {
		return 0
	} else if frac >= 1 {
		return 0xffff
	}
	return uint16(frac*0xffff + 0.5)
}

// ReadSlice reads a grayscale image and maps it through an
// intensity window.
//
// PNG and TIFF files are supported; the format is picked
// by file extension.
// Color images are converted to gray.
func ReadSlice(path string, w IntensityWindow) (pixels []float64, height, width int,
	err error) {
	defer essentials.AddCtxTo("read slice "+path, &err)
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, err
	}
	defer f.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		img, err = png.Decode(bufio.NewReader(f))
	case ".tif", ".tiff":
		img, err = tiff.Decode(f)
	default:
		err = fmt.Errorf("unsupported extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, 0, 0, err
	}

	bounds := img.Bounds()
	height, width = bounds.Dy(), bounds.Dx()
	pixels = make([]float64, 0, height*width)
	if gray, ok := img.(*image.Gray16); ok {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			for x := bounds.Min.X; x < bounds.Max.X; x++ {
				pixels = append(pixels, w.Intensity(gray.Gray16At(x, y).Y))
			}
		}
		return pixels, height, width, nil
	}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			pixels = append(pixels, w.Intensity(c.Y))
		}
	}
	return pixels, height, width, nil
}

// WriteSlice writes intensities as a 16-bit grayscale
// image, in PNG or TIFF format depending on the extension.
func WriteSlice(path string, pixels []float64, height, width int, w IntensityWindow) (err error) {
	defer essentials.AddCtxTo("write slice "+path, &err)
	if len(pixels) != height*width {
		return fmt.Errorf("expected %d pixels but got %d", height*width, len(pixels))
	}
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: w.Pixel(pixels[y*width+x])})
		}
	}

	var encode func(io.Writer) error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		encode = func(out io.Writer) error {
			return png.Encode(out, img)
		}
	case ".tif", ".tiff":
		encode = func(out io.Writer) error {
			return tiff.Encode(out, img, &tiff.Options{Compression: tiff.Deflate})
		}
	default:
		return fmt.Errorf("unsupported extension %q", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	writer := bufio.NewWriter(f)
	if err := encode(writer); err != nil {
		f.Close()
		return err
	}
	if err := writer.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
