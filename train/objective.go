package train

import (
	"errors"
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
	"github.com/teracamo/DeeplearningReconstruction/denoise"
)

// baselineEpsilon keeps the loss ratio finite when the
// high quality input already matches the ground truth.
const baselineEpsilon = 1e-8

// A SliceBatch stores a batch of slices in a packed format.
type SliceBatch struct {
	Names []string
	Low   *reconnet.Image
	High  *reconnet.Image
	Truth *reconnet.Image
}

// NewSliceBatch packs samples of equal size into a batch.
//
// The batch has a Truth image only if every sample has
// one.
func NewSliceBatch(c anyvec.Creator, samples []*Sample) (*SliceBatch, error) {
	if len(samples) == 0 {
		return nil, errors.New("make batch: no samples")
	}
	h, w := samples[0].Height, samples[0].Width
	res := &SliceBatch{}
	var low, high, truth []float64
	hasTruth := true
	for _, s := range samples {
		if err := s.Validate(); err != nil {
			return nil, essentials.AddCtx("make batch", err)
		}
		if s.Height != h || s.Width != w {
			return nil, essentials.AddCtx(fmt.Sprintf("make batch: %s is %dx%d, not %dx%d",
				s.Name, s.Height, s.Width, h, w), reconnet.ErrShapeMismatch)
		}
		res.Names = append(res.Names, s.Name)
		low = append(low, s.Low...)
		high = append(high, s.High...)
		truth = append(truth, s.Truth...)
		hasTruth = hasTruth && s.Truth != nil
	}
	n := len(samples)
	res.Low = reconnet.NewImage(c, n, h, w, low)
	res.High = reconnet.NewImage(c, n, h, w, high)
	if hasTruth {
		res.Truth = reconnet.NewImage(c, n, h, w, truth)
	}
	return res, nil
}

// An Objective fetches batches and computes gradients for
// a denoising model.
//
// The loss of a slice is the cost of the model output
// divided by the cost of the untouched high quality input,
// both measured against the ground truth.
// A loss below 1 means the model improved the slice.
type Objective struct {
	Model *denoise.Model

	// Cost compares images to the ground truth.
	// If nil, a summed SmoothL1 is used.
	Cost reconnet.Cost

	// L2Penalty, if positive, adds an L2 term over every
	// model parameter to the cost of the output.
	// The baseline never includes it.
	L2Penalty float64

	// MaxGos specifies the maximum goroutines to use
	// simultaneously for fetching samples.
	// If it is 0, GOMAXPROCS is used.
	MaxGos int

	// After every gradient computation, LastCost is set to
	// the average loss of the batch.
	LastCost float64
}

// Fetch produces a *SliceBatch for the subset of samples.
// The s argument must implement PairList, and its length
// must be the model's batch size.
func (o *Objective) Fetch(s SampleList) (Batch, error) {
	l, ok := s.(PairList)
	if !ok {
		return nil, errors.New("fetch batch: sample list cannot load slices")
	}
	if l.Len() != o.Model.BatchSize() {
		return nil, essentials.AddCtx(fmt.Sprintf("fetch batch: %d samples for batch size %d",
			l.Len(), o.Model.BatchSize()), reconnet.ErrShapeMismatch)
	}

	samples := make([]*Sample, l.Len())
	errs := make([]error, l.Len())
	essentials.ConcurrentMap(o.MaxGos, l.Len(), func(i int) {
		samples[i], errs[i] = l.GetSample(i)
	})
	for _, err := range errs {
		if err != nil {
			return nil, essentials.AddCtx("fetch batch", err)
		}
	}
	return NewSliceBatch(o.Model.Creator(), samples)
}

// Loss runs the model on the batch and computes one loss
// per slice.
func (o *Objective) Loss(b *SliceBatch) (anydiff.Res, error) {
	if b.Truth == nil {
		return nil, errors.New("loss: batch has no ground truth")
	}
	c := o.Model.Creator()
	out, err := o.Model.Forward(c, b.Low, b.High)
	if err != nil {
		return nil, err
	}
	n := b.High.Num
	cost := o.cost()
	if o.L2Penalty > 0 {
		cost = &reconnet.L2Reg{
			Penalty: o.L2Penalty,
			Params:  o.Model.Parameters(),
			Wrapped: cost,
		}
	}
	outCost := cost.Cost(b.Truth.Data, out.Data, n)
	baseline := o.cost().Cost(b.Truth.Data, b.High.Data, n).Output().Copy()
	baseline.AddScalar(c.MakeNumeric(baselineEpsilon))
	return anydiff.Div(outCost, anydiff.NewConst(baseline)), nil
}

// Gradient computes the gradient of the average loss of
// the batch.
// It also sets o.LastCost.
//
// The gradient covers every parameter of the model,
// including tile blocks created by this forward pass.
func (o *Objective) Gradient(batch Batch) (anydiff.Grad, error) {
	b, ok := batch.(*SliceBatch)
	if !ok {
		return nil, errors.New("gradient: unexpected batch type")
	}
	loss, err := o.Loss(b)
	if err != nil {
		return nil, essentials.AddCtx("gradient", err)
	}
	grad := anydiff.NewGrad(o.Model.Parameters()...)

	c := loss.Output().Creator()
	n := loss.Output().Len()
	upstream := c.MakeVector(n)
	upstream.AddScalar(c.MakeNumeric(1 / float64(n)))
	loss.Propagate(upstream, grad)

	o.LastCost = c.Float64(anyvec.Sum(loss.Output())) / float64(n)
	return grad, nil
}

func (o *Objective) cost() reconnet.Cost {
	if o.Cost == nil {
		return reconnet.SmoothL1{}
	}
	return o.Cost
}
