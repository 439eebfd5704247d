package reconnet

import (
	"fmt"
	"log"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	serializer.RegisterTypedDeserializer((&Probe{}).SerializerType(), DeserializeProbe)
}

// Probe is a layer which logs statistics about its input
// and otherwise passes it through untouched.
type Probe struct {
	// Logger receives the statistics.
	// If nil, the standard logger is used.
	Logger *log.Logger

	ID            string
	PrintMean     bool
	PrintVariance bool
	PrintAbsSum   bool
}

// DeserializeProbe deserializes a Probe.
// The Logger will be nil.
func DeserializeProbe(d []byte) (*Probe, error) {
	var res Probe
	err := serializer.DeserializeAny(d, &res.ID, &res.PrintMean, &res.PrintVariance,
		&res.PrintAbsSum)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Probe", err)
	}
	return &res, nil
}

// Apply logs information about a batch of n inputs.
// The input is returned as-is.
func (p *Probe) Apply(in anydiff.Res, n int) anydiff.Res {
	vec := in.Output()
	c := vec.Creator()
	if p.PrintAbsSum {
		p.printf("abs sum: %v", c.Float64(anyvec.AbsSum(vec)))
	}
	if !p.PrintMean && !p.PrintVariance {
		return in
	}
	cols := vec.Len() / n
	mean := anyvec.SumCols(vec, n)
	mean.Scale(c.MakeNumeric(1 / float64(cols)))
	if p.PrintMean {
		p.printf("mean: %v", c.Float64Slice(mean.Data()))
	}
	if p.PrintVariance {
		squared := vec.Copy()
		squared.Mul(vec)
		variance := anyvec.SumCols(squared, n)
		variance.Scale(c.MakeNumeric(1 / float64(cols)))
		meanSq := mean.Copy()
		meanSq.Mul(mean)
		variance.Sub(meanSq)
		p.printf("variance: %v", c.Float64Slice(variance.Data()))
	}
	return in
}

// SerializerType returns the unique ID used to serialize
// a Probe with the serializer package.
func (p *Probe) SerializerType() string {
	return "github.com/teracamo/DeeplearningReconstruction.Probe"
}

// Serialize serializes the layer.
func (p *Probe) Serialize() ([]byte, error) {
	return serializer.SerializeAny(p.ID, p.PrintMean, p.PrintVariance, p.PrintAbsSum)
}

func (p *Probe) printf(format string, args ...interface{}) {
	msg := fmt.Sprintf("probe (%s): ", p.ID) + fmt.Sprintf(format, args...)
	if p.Logger == nil {
		log.Println(msg)
	} else {
		p.Logger.Println(msg)
	}
}

// CheckFinite inspects a vector after the fact and returns
// ErrNumericDegeneracy if it contains NaN or Inf values.
func CheckFinite(v anyvec.Vector) error {
	for i, x := range v.Creator().Float64Slice(v.Data()) {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return essentials.AddCtx(fmt.Sprintf("component %d is %v", i, x),
				ErrNumericDegeneracy)
		}
	}
	return nil
}
