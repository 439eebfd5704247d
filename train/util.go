package train

import (
	"github.com/unixpickle/anydiff"
	"github.com/valyala/fastrand"
)

// Shuffle shuffles a list of samples.
// If the list implements PostShuffler, then PostShuffle
// is called after the shuffle completes.
//
// If rng is nil, the global fastrand source is used.
func Shuffle(rng *fastrand.RNG, s SampleList) {
	for i := 0; i < s.Len(); i++ {
		n := uint32(s.Len() - i)
		var offset uint32
		if rng != nil {
			offset = rng.Uint32n(n)
		} else {
			offset = fastrand.Uint32n(n)
		}
		s.Swap(i, i+int(offset))
	}
	if p, ok := s.(PostShuffler); ok {
		p.PostShuffle()
	}
}

// A ConstRater is a Rater which always returns the same
// constant learning rate.
type ConstRater float64

// Rate returns float64(c).
func (c ConstRater) Rate(epoch float64) float64 {
	return float64(c)
}

func scaleGrad(g anydiff.Grad, s float64) {
	g.ScaleFloat64(s)
}

func valueOrDefault(value, def float64) float64 {
	if value == 0 {
		return def
	}
	return value
}
