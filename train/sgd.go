// Package train fits a denoising model with stochastic
// gradient descent.
package train

import (
	"errors"

	"github.com/unixpickle/essentials"
	"github.com/valyala/fastrand"
)

// SGD performs stochastic gradient descent.
type SGD struct {
	// Fetcher is used to turn mini-batch sample lists into
	// Batches.
	Fetcher Fetcher

	// Gradienter is used to compute initial, untransformed
	// gradients for each mini-batch.
	Gradienter Gradienter

	// Transformer, if non-nil, is used to transform each
	// gradient before the step.
	Transformer Transformer

	// Samples is the list of training samples to use for
	// training.
	// It will be shuffled and re-shuffled as needed.
	//
	// The list may not be empty.
	Samples SampleList

	// Rater determines the learning rate for each step.
	Rater Rater

	// StatusFunc, if non-nil, is called before every
	// iteration with the next mini-batch.
	StatusFunc func(batch SampleList)

	// StepFunc, if non-nil, is called after every step.
	// A non-nil error aborts training.
	StepFunc func(batch SampleList) error

	// BatchSize is the mini-batch size.
	// If it is 0, then the entire sample list is used at
	// every iteration.
	BatchSize int

	// FullBatches skips the remainder of an epoch when it
	// is smaller than BatchSize.
	FullBatches bool

	// RNG, if non-nil, is used for shuffling.
	RNG *fastrand.RNG

	// NumProcessed keeps track of the number of samples that
	// have been passed to Gradienter so far.
	// It is used to compute the epoch for Rater.
	NumProcessed int
}

// Run runs SGD until s indicates to stop.
func (s *SGD) Run(stopper Stopper) error {
	if s.Samples.Len() == 0 {
		return errors.New("run SGD: empty sample list")
	}
	if s.FullBatches && s.BatchSize > s.Samples.Len() {
		return errors.New("run SGD: batch size exceeds sample count")
	}
	idx := s.Samples.Len()
	for !stopper.Done() {
		remaining := s.Samples.Len() - idx
		if remaining == 0 || (s.FullBatches && remaining < s.BatchSize) {
			Shuffle(s.RNG, s.Samples)
			idx = 0
			remaining = s.Samples.Len()
		}
		batchSize := s.batchSize(remaining)
		batch := s.Samples.Slice(idx, idx+batchSize)
		idx += batchSize

		if s.StatusFunc != nil {
			s.StatusFunc(batch)
			if stopper.Done() {
				break
			}
		}

		fetched, err := s.Fetcher.Fetch(batch)
		if err != nil {
			return essentials.AddCtx("run SGD", err)
		}
		grad, err := s.Gradienter.Gradient(fetched)
		if err != nil {
			return essentials.AddCtx("run SGD", err)
		}
		if s.Transformer != nil {
			grad = s.Transformer.Transform(grad)
		}

		epoch := float64(s.NumProcessed) / float64(s.Samples.Len())
		scaleGrad(grad, -s.Rater.Rate(epoch))
		grad.AddToVars()

		s.NumProcessed += batchSize

		if s.StepFunc != nil {
			if err := s.StepFunc(batch); err != nil {
				return essentials.AddCtx("run SGD", err)
			}
		}
	}
	return nil
}

func (s *SGD) batchSize(remaining int) int {
	if s.BatchSize == 0 || s.BatchSize > remaining {
		return remaining
	}
	return s.BatchSize
}
