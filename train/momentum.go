package train

import "github.com/unixpickle/anydiff"

// Momentum implements SGD with momentum.
//
// The transformed gradient v is computed as
//
//	v := momentum * v + grad
//
// Variables which were not part of earlier gradients start
// with v = grad.
type Momentum struct {
	Momentum float64
	rolling  anydiff.Grad
}

// Transform transforms the gradient using momentum.
//
// This is not thread-safe.
func (m *Momentum) Transform(g anydiff.Grad) anydiff.Grad {
	if m.rolling == nil {
		m.rolling = anydiff.Grad{}
	}
	for v, x := range g {
		rolling, ok := m.rolling[v]
		if !ok {
			m.rolling[v] = x.Copy()
			continue
		}
		rolling.Scale(rolling.Creator().MakeNumeric(m.Momentum))
		rolling.Add(x)
		x.Set(rolling)
	}
	return g
}
