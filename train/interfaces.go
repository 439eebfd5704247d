package train

import "github.com/unixpickle/anydiff"

// A Transformer transforms gradients.
// For example, pre-conditioning could be implemented as a
// transformer.
//
// The set of variables in a gradient may grow between
// calls, since the denoiser creates tile blocks lazily.
// Variables seen for the first time start with fresh
// state.
//
// A Transformer may modify its own input and return the
// same gradient as an output.
// It should not retain a reference to the input.
type Transformer interface {
	Transform(g anydiff.Grad) anydiff.Grad
}

// A Batch is an immutable list of samples, ready to be
// fed to a Gradienter.
//
// In contrast to a SampleList, a Batch is not lazy.
type Batch interface{}

// A Fetcher is responsible for fetching Batches for
// SampleLists.
type Fetcher interface {
	Fetch(s SampleList) (Batch, error)
}

// A Gradienter computes a gradient for a Batch.
type Gradienter interface {
	Gradient(b Batch) (anydiff.Grad, error)
}

// A Rater determines the learning rate given the epoch
// number.
// An "epoch" is a full pass over the training set, so
// fractional epochs are possible.
type Rater interface {
	Rate(epoch float64) float64
}

// A SampleList represents a list of training samples.
type SampleList interface {
	// Len returns the number of samples.
	Len() int

	// Swap swaps two samples.
	Swap(i, j int)

	// Slice generates a shallow copy of a subset of the
	// list.
	Slice(i, j int) SampleList
}

// PostShuffler is used to notify a SampleList that it has
// been shuffled.
type PostShuffler interface {
	PostShuffle()
}

// A Stopper decides when a training loop should end.
// It is consulted between steps.
type Stopper interface {
	Done() bool
}

// StepStopper stops after a fixed number of steps.
type StepStopper struct {
	Remaining int
}

// Done decrements the remaining step count.
func (s *StepStopper) Done() bool {
	s.Remaining--
	return s.Remaining < 0
}
