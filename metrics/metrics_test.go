package metrics

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSSIM(t *testing.T) {
	x := []float64{1, 2, 3, 4}

	same, err := SSIM(x, x, 1)
	require.NoError(t, err)
	require.InDelta(t, 1, same, 1e-12)

	flat, err := SSIM(x, []float64{2, 2, 2, 2}, 1)
	require.NoError(t, err)
	require.InDelta(t, 0.0005265450624526484, flat, 1e-9)

	scaled, err := SSIM(x, []float64{2, 4, 6, 8}, 10)
	require.NoError(t, err)
	require.InDelta(t, 0.6417608573408469, scaled, 1e-9)

	_, err = SSIM(x, x[:3], 1)
	require.True(t, errors.Is(err, ErrLengthMismatch))
}

func TestCNR(t *testing.T) {
	cnr, err := CNR([]float64{10, 12}, []float64{2, 4}, []float64{1, 3})
	require.NoError(t, err)
	require.InDelta(t, 4, cnr, 1e-12)

	_, err = CNR([]float64{1}, []float64{2}, []float64{5, 5})
	require.Error(t, err)
}

func TestRMSEAndPSNR(t *testing.T) {
	rmse, err := RMSE([]float64{0, 0, 0, 0}, []float64{1, -1, 1, -1})
	require.NoError(t, err)
	require.InDelta(t, 1, rmse, 1e-12)

	rmse, err = RMSE([]float64{3, 4}, []float64{0, 0})
	require.NoError(t, err)
	require.InDelta(t, math.Sqrt(12.5), rmse, 1e-12)

	psnr, err := PSNR([]float64{0, 0, 0, 0}, []float64{1, -1, 1, -1}, 255)
	require.NoError(t, err)
	require.InDelta(t, 48.1308036086791, psnr, 1e-9)

	psnr, err = PSNR([]float64{1, 2}, []float64{1, 2}, 255)
	require.NoError(t, err)
	require.True(t, math.IsInf(psnr, 1))

	_, err = RMSE(nil, nil)
	require.True(t, errors.Is(err, ErrLengthMismatch))
}

func TestCompareAndMean(t *testing.T) {
	r1, err := Compare([]float64{1, 2, 3, 4}, []float64{1, 2, 3, 4}, 1)
	require.NoError(t, err)
	require.InDelta(t, 1, r1.SSIM, 1e-12)
	require.Equal(t, 0.0, r1.RMSE)

	r2 := &Report{SSIM: 0.5, RMSE: 2, PSNR: 10}
	r3 := &Report{SSIM: 0.7, RMSE: 4, PSNR: 20}
	mean := Mean([]*Report{r2, r3})
	require.InDelta(t, 0.6, mean.SSIM, 1e-12)
	require.InDelta(t, 3, mean.RMSE, 1e-12)
	require.InDelta(t, 15, mean.PSNR, 1e-12)

	require.Equal(t, &Report{}, Mean(nil))
}
