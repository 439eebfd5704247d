package train

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const (
	adamDefaultDecayRate1 = 0.9
	adamDefaultDecayRate2 = 0.999
	adamDefaultDamping    = 1e-8
)

// Adam implements the adaptive moments SGD technique
// described in https://arxiv.org/pdf/1412.6980.pdf.
//
// Bias correction is tracked per variable, so variables
// which join the gradient late are corrected as if their
// first step were the first step overall.
type Adam struct {
	// These are decay rates for the first and second
	// moments of the gradient.
	// If these are 0, defaults as suggested in the
	// original Adam paper are used.
	DecayRate1, DecayRate2 float64

	// Damping is used to prevent divisions by zero.
	// This should be very small.
	// If it is 0, a default is used.
	Damping float64

	firstMoment  anydiff.Grad
	secondMoment anydiff.Grad
	iterations   map[*anydiff.Var]float64
}

// Transform transforms the gradient using Adam.
//
// This is not thread-safe.
func (a *Adam) Transform(realGrad anydiff.Grad) anydiff.Grad {
	if a.iterations == nil {
		a.firstMoment = anydiff.Grad{}
		a.secondMoment = anydiff.Grad{}
		a.iterations = map[*anydiff.Var]float64{}
	}
	a.updateMoments(realGrad)

	rate1 := valueOrDefault(a.DecayRate1, adamDefaultDecayRate1)
	rate2 := valueOrDefault(a.DecayRate2, adamDefaultDecayRate2)
	damping := valueOrDefault(a.Damping, adamDefaultDamping)
	for variable, vec := range realGrad {
		a.iterations[variable]++
		iter := a.iterations[variable]
		scalingFactor := math.Sqrt(1-math.Pow(rate2, iter)) / (1 - math.Pow(rate1, iter))

		vec.Set(a.firstMoment[variable])
		vec.Scale(vec.Creator().MakeNumeric(scalingFactor))

		divisor := a.secondMoment[variable].Copy()
		anyvec.Pow(divisor, divisor.Creator().MakeNumeric(0.5))
		divisor.AddScalar(divisor.Creator().MakeNumeric(damping))
		vec.Div(divisor)
	}

	return realGrad
}

func (a *Adam) updateMoments(grad anydiff.Grad) {
	rate1 := valueOrDefault(a.DecayRate1, adamDefaultDecayRate1)
	rate2 := valueOrDefault(a.DecayRate2, adamDefaultDecayRate2)
	for variable, vec := range grad {
		first := vec.Copy()
		first.Scale(first.Creator().MakeNumeric(1 - rate1))
		if m, ok := a.firstMoment[variable]; ok {
			m.Scale(m.Creator().MakeNumeric(rate1))
			m.Add(first)
		} else {
			a.firstMoment[variable] = first
		}

		second := vec.Copy()
		anyvec.Pow(second, second.Creator().MakeNumeric(2))
		second.Scale(second.Creator().MakeNumeric(1 - rate2))
		if m, ok := a.secondMoment[variable]; ok {
			m.Scale(m.Creator().MakeNumeric(rate2))
			m.Add(second)
		} else {
			a.secondMoment[variable] = second
		}
	}
}

// Steps returns the number of updates Adam has applied to
// a variable.
func (a *Adam) Steps(v *anydiff.Var) int {
	return int(a.iterations[v])
}
