package reconnet

import "github.com/unixpickle/anydiff"

// A Cost measures the error between the output of a model
// and the desired output.
//
// Costs are batched: given n packed desired and actual
// outputs, a Cost produces n costs.
type Cost interface {
	Cost(desired, actual anydiff.Res, n int) anydiff.Res
}

// MSE evaluates cost as the mean squared difference
// between the actual and desired output.
type MSE struct{}

// Cost computes, for each output, the mean squared
// distance between the actual and desired output value.
func (m MSE) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	sq := anydiff.Square(anydiff.Sub(desired, actual))
	numComps := sq.Output().Len() / n
	sum := anydiff.SumCols(&anydiff.Matrix{
		Data: sq,
		Rows: n,
		Cols: numComps,
	})
	return anydiff.Scale(sum, sum.Output().Creator().MakeNumeric(1/float64(numComps)))
}

// SmoothL1 is the Huber loss: quadratic for differences
// smaller than Beta and linear beyond it.
type SmoothL1 struct {
	// Beta is the transition point.
	// If it is 0, 1 is used.
	Beta float64

	// Average indicates whether each cost should be a mean
	// over pixels rather than a sum.
	Average bool
}

// Cost computes the per-output smooth L1 distance.
func (s SmoothL1) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	c := actual.Output().Creator()
	beta := s.Beta
	if beta == 0 {
		beta = 1
	}
	abs := anydiff.Abs(anydiff.Sub(desired, actual))
	perPixel := anydiff.Pool(abs, func(abs anydiff.Res) anydiff.Res {
		return anydiff.Pool(anydiff.ClipRange(abs, c.MakeNumeric(0), c.MakeNumeric(beta)),
			func(clipped anydiff.Res) anydiff.Res {
				quad := anydiff.Scale(anydiff.Square(clipped), c.MakeNumeric(0.5/beta))
				return anydiff.Add(quad, anydiff.Sub(abs, clipped))
			})
	})
	numComps := perPixel.Output().Len() / n
	sum := anydiff.SumCols(&anydiff.Matrix{
		Data: perPixel,
		Rows: n,
		Cols: numComps,
	})
	if s.Average {
		return anydiff.Scale(sum, c.MakeNumeric(1/float64(numComps)))
	}
	return sum
}

// L2Reg wraps a Cost and adds an L2 penalty.
//
// The L2 penalty is computed by squaring the parameters,
// summing the squares, then multiplying the sum by
// Penalty / 2.
type L2Reg struct {
	Penalty float64
	Params  []*anydiff.Var
	Wrapped Cost
}

// Cost computes the cost from l.Wrapped and adds the L2
// penalty to each component.
func (l *L2Reg) Cost(desired, actual anydiff.Res, n int) anydiff.Res {
	var sum anydiff.Res
	sum = anydiff.NewConst(actual.Output().Creator().MakeVector(1))
	for _, p := range l.Params {
		sum = anydiff.Add(sum, anydiff.Sum(anydiff.Square(p)))
	}
	sum = anydiff.Scale(sum, sum.Output().Creator().MakeNumeric(l.Penalty/2))
	return anydiff.AddRepeated(l.Wrapped.Cost(desired, actual, n), sum)
}
