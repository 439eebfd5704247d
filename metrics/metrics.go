// Package metrics measures the quality of a denoised slice
// against its ground truth.
package metrics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	ssimK1 = 0.01
	ssimK2 = 0.03
)

// ErrLengthMismatch is returned when two images do not
// have the same number of pixels.
var ErrLengthMismatch = errors.New("metrics: length mismatch")

// SSIM computes the global structural similarity of two
// images:
//
//	(2μxμy + c1)(2σxy + c2) / ((μx² + μy² + c1)(σx² + σy² + c2))
//
// where c1 = (0.01 L)² and c2 = (0.03 L)², L being the
// dynamic range of the pixel values.
func SSIM(x, y []float64, dynamicRange float64) (float64, error) {
	if err := checkLengths(x, y); err != nil {
		return 0, err
	}
	c1 := math.Pow(ssimK1*dynamicRange, 2)
	c2 := math.Pow(ssimK2*dynamicRange, 2)

	muX, varX := meanVariance(x)
	muY, varY := meanVariance(y)
	var covXY float64
	if len(x) > 1 {
		covXY = stat.Covariance(x, y, nil)
	}

	num := (2*muX*muY + c1) * (2*covXY + c2)
	den := (muX*muX + muY*muY + c1) * (varX + varY + c2)
	if den == 0 {
		return 1, nil
	}
	return num / den, nil
}

// CNR computes the contrast to noise ratio between two
// tissue regions:
//
//	|μx - μy| / var(noise)
func CNR(x, y, noise []float64) (float64, error) {
	if len(x) == 0 || len(y) == 0 || len(noise) < 2 {
		return 0, errors.New("metrics: CNR needs non-empty regions")
	}
	v := stat.Variance(noise, nil)
	if v == 0 {
		return 0, errors.New("metrics: CNR of noise-free region")
	}
	return math.Abs(stat.Mean(x, nil)-stat.Mean(y, nil)) / v, nil
}

// RMSE computes the root mean squared error between two
// images.
func RMSE(x, y []float64) (float64, error) {
	if err := checkLengths(x, y); err != nil {
		return 0, err
	}
	return floats.Distance(x, y, 2) / math.Sqrt(float64(len(x))), nil
}

// PSNR computes the peak signal to noise ratio in decibels
// for a given peak value.
//
// Identical images have an infinite PSNR.
func PSNR(x, y []float64, peak float64) (float64, error) {
	rmse, err := RMSE(x, y)
	if err != nil {
		return 0, err
	}
	if rmse == 0 {
		return math.Inf(1), nil
	}
	return 20 * math.Log10(peak/rmse), nil
}

// A Report summarizes how close an image is to its ground
// truth.
type Report struct {
	SSIM float64
	RMSE float64
	PSNR float64
}

// Compare computes a Report for an image.
//
// The dynamic range is used both for SSIM and as the PSNR
// peak value.
func Compare(image, truth []float64, dynamicRange float64) (*Report, error) {
	ssim, err := SSIM(image, truth, dynamicRange)
	if err != nil {
		return nil, err
	}
	rmse, _ := RMSE(image, truth)
	psnr, _ := PSNR(image, truth, dynamicRange)
	return &Report{SSIM: ssim, RMSE: rmse, PSNR: psnr}, nil
}

// String formats the report as a status line.
func (r *Report) String() string {
	return fmt.Sprintf("ssim=%.4f rmse=%.4f psnr=%.2fdB", r.SSIM, r.RMSE, r.PSNR)
}

// Mean averages a list of reports.
func Mean(reports []*Report) *Report {
	var ssim, rmse, psnr []float64
	for _, r := range reports {
		ssim = append(ssim, r.SSIM)
		rmse = append(rmse, r.RMSE)
		psnr = append(psnr, r.PSNR)
	}
	if len(reports) == 0 {
		return &Report{}
	}
	return &Report{
		SSIM: stat.Mean(ssim, nil),
		RMSE: stat.Mean(rmse, nil),
		PSNR: stat.Mean(psnr, nil),
	}
}

func meanVariance(x []float64) (mean, variance float64) {
	if len(x) < 2 {
		return stat.Mean(x, nil), 0
	}
	return stat.MeanVariance(x, nil)
}

func checkLengths(x, y []float64) error {
	if len(x) != len(y) {
		return fmt.Errorf("%w: %d and %d values", ErrLengthMismatch, len(x), len(y))
	}
	if len(x) == 0 {
		return fmt.Errorf("%w: empty images", ErrLengthMismatch)
	}
	return nil
}
