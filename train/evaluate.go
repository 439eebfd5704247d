package train

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
	"github.com/teracamo/DeeplearningReconstruction/denoise"
	"github.com/teracamo/DeeplearningReconstruction/metrics"
)

// Predict denoises slices in batches of the model's batch
// size.
// A short final batch is padded by repeating its last
// slice, and the padding outputs are dropped.
//
// The model is used in whatever mode it is in.
func Predict(m *denoise.Model, samples []*Sample) ([][]float64, error) {
	var res [][]float64
	batchSize := m.BatchSize()
	for i := 0; i < len(samples); i += batchSize {
		chunk := append([]*Sample{}, samples[i:essentials.MinInt(i+batchSize, len(samples))]...)
		count := len(chunk)
		for len(chunk) < batchSize {
			chunk = append(chunk, chunk[len(chunk)-1])
		}
		batch, err := NewSliceBatch(m.Creator(), chunk)
		if err != nil {
			return nil, essentials.AddCtx("predict", err)
		}
		out, err := m.Forward(m.Creator(), batch.Low, batch.High)
		if err != nil {
			return nil, essentials.AddCtx("predict", err)
		}
		for j := 0; j < count; j++ {
			res = append(res, out.Frame(j))
		}
	}
	return res, nil
}

// An Evaluation summarizes a model's performance on a set
// of slices.
type Evaluation struct {
	// Loss is the mean per-pixel SmoothL1 distance between
	// the output and the ground truth.
	Loss float64

	// Baseline is the same distance for the high quality
	// input, which shows what the model improved on.
	Baseline float64

	Output   *metrics.Report
	Input    *metrics.Report
	PerSlice []*metrics.Report
}

// Evaluate runs a model on every slice of a list with its
// batch normalizations frozen.
// The model is left frozen.
//
// The dynamic range is the span of pixel values, used for
// SSIM and PSNR.
func Evaluate(m *denoise.Model, l PairList, dynamicRange float64) (eval *Evaluation,
	err error) {
	defer essentials.AddCtxTo("evaluate", &err)
	m.SetFrozen(true)

	samples := make([]*Sample, l.Len())
	for i := range samples {
		samples[i], err = l.GetSample(i)
		if err != nil {
			return nil, err
		}
	}
	outputs, err := Predict(m, samples)
	if err != nil {
		return nil, err
	}

	c := m.Creator()
	cost := reconnet.SmoothL1{Average: true}
	res := &Evaluation{}
	var inputReports []*metrics.Report
	for i, s := range samples {
		if s.Truth == nil {
			return nil, fmt.Errorf("slice %s has no ground truth", s.Name)
		}
		truth := reconnet.NewImage(c, 1, s.Height, s.Width, s.Truth)
		out := reconnet.NewImage(c, 1, s.Height, s.Width, outputs[i])
		high := reconnet.NewImage(c, 1, s.Height, s.Width, s.High)
		res.Loss += firstValue(cost.Cost(truth.Data, out.Data, 1))
		res.Baseline += firstValue(cost.Cost(truth.Data, high.Data, 1))

		report, err := metrics.Compare(outputs[i], s.Truth, dynamicRange)
		if err != nil {
			return nil, err
		}
		res.PerSlice = append(res.PerSlice, report)
		inputReport, err := metrics.Compare(s.High, s.Truth, dynamicRange)
		if err != nil {
			return nil, err
		}
		inputReports = append(inputReports, inputReport)
	}
	if len(samples) > 0 {
		res.Loss /= float64(len(samples))
		res.Baseline /= float64(len(samples))
	}
	res.Output = metrics.Mean(res.PerSlice)
	res.Input = metrics.Mean(inputReports)
	return res, nil
}

func firstValue(r anydiff.Res) float64 {
	out := r.Output()
	return out.Creator().Float64Slice(out.Data())[0]
}
