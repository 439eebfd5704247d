package layers

import (
	"errors"
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

const (
	defaultBNStabilizer = 1e-5
	defaultBNMomentum   = 0.1
)

func init() {
	var b BatchNorm
	serializer.RegisterTypedDeserializer(b.SerializerType(), DeserializeBatchNorm)
}

// BatchNorm is a batch normalization layer.
//
// While training, every Apply normalizes with the batch
// statistics and folds them into running estimates.
// Once Frozen is set, the running estimates are used
// instead, so that the output for one sample does not
// depend on the rest of its batch.
type BatchNorm struct {
	// InputCount indicates how many components to normalize.
	//
	// For use after a convolutional layer, this should be
	// the number of filters.
	InputCount int

	// Post-normalization affine transform.
	Scalers *anydiff.Var
	Biases  *anydiff.Var

	// Stabilizer prevents numerical instability by adding a
	// small constant to variances to keep them from being 0.
	//
	// If it is 0, a default is used.
	Stabilizer float64

	// Momentum is the weight of the newest batch in the
	// running estimates.
	//
	// If it is 0, a default is used.
	Momentum float64

	RunningMean anyvec.Vector
	RunningVar  anyvec.Vector

	Frozen bool

	statsLock sync.Mutex
}

// DeserializeBatchNorm deserializes a BatchNorm.
func DeserializeBatchNorm(d []byte) (*BatchNorm, error) {
	var s, b, mean, variance *anyvecsave.S
	var stab, momentum serializer.Float64
	var frozen serializer.Bool
	err := serializer.DeserializeAny(d, &s, &b, &stab, &momentum, &mean, &variance, &frozen)
	if err != nil {
		return nil, essentials.AddCtx("deserialize BatchNorm", err)
	}
	n := s.Vector.Len()
	if b.Vector.Len() != n || mean.Vector.Len() != n || variance.Vector.Len() != n {
		return nil, errors.New("deserialize BatchNorm: inconsistent vector sizes")
	}
	return &BatchNorm{
		InputCount:  n,
		Scalers:     anydiff.NewVar(s.Vector),
		Biases:      anydiff.NewVar(b.Vector),
		Stabilizer:  float64(stab),
		Momentum:    float64(momentum),
		RunningMean: mean.Vector,
		RunningVar:  variance.Vector,
		Frozen:      bool(frozen),
	}, nil
}

// NewBatchNorm creates a BatchNorm with an input size.
func NewBatchNorm(c anyvec.Creator, inCount int) *BatchNorm {
	return &BatchNorm{
		InputCount:  inCount,
		Scalers:     anydiff.NewVar(anyvec.Ones(c, inCount)),
		Biases:      anydiff.NewVar(c.MakeVector(inCount)),
		RunningMean: c.MakeVector(inCount),
		RunningVar:  anyvec.Ones(c, inCount),
	}
}

// Apply applies the layer to some inputs.
func (b *BatchNorm) Apply(in anydiff.Res, batch int) anydiff.Res {
	if in.Output().Len()%b.InputCount != 0 {
		panic("invalid input size")
	}
	if b.Frozen {
		return b.applyFrozen(in)
	}
	return anydiff.Pool(in, func(in anydiff.Res) anydiff.Res {
		c := in.Output().Creator()

		return anydiff.Pool(negMeanRows(in, b.InputCount), func(negMean anydiff.Res) anydiff.Res {
			// The variance is averaged over centered values, so
			// it stays non-negative for nearly constant channels.
			variance := meanSquare(anydiff.AddRepeated(in, negMean), b.InputCount)
			b.updateStats(negMean.Output(), variance.Output(), in.Output().Len()/b.InputCount)

			variance = anydiff.AddScalar(variance, c.MakeNumeric(b.stabilizer()))
			normalizer := anydiff.Pow(variance, c.MakeNumeric(-0.5))

			totalScaler := anydiff.Mul(b.Scalers, normalizer)
			return anydiff.Pool(totalScaler, func(totalScaler anydiff.Res) anydiff.Res {
				return anydiff.ScaleAddRepeated(
					in,
					totalScaler,
					anydiff.Add(b.Biases, anydiff.Mul(negMean, totalScaler)),
				)
			})
		})
	})
}

// Parameters returns a slice containing the scales and
// biases, in that order.
func (b *BatchNorm) Parameters() []*anydiff.Var {
	return []*anydiff.Var{b.Scalers, b.Biases}
}

// SerializerType returns the unique ID used to serialize
// a BatchNorm with the serializer package.
func (b *BatchNorm) SerializerType() string {
	return "github.com/teracamo/DeeplearningReconstruction/layers.BatchNorm"
}

// Serialize serializes the layer.
func (b *BatchNorm) Serialize() ([]byte, error) {
	b.statsLock.Lock()
	defer b.statsLock.Unlock()
	return serializer.SerializeAny(
		&anyvecsave.S{Vector: b.Scalers.Vector},
		&anyvecsave.S{Vector: b.Biases.Vector},
		serializer.Float64(b.Stabilizer),
		serializer.Float64(b.Momentum),
		&anyvecsave.S{Vector: b.RunningMean},
		&anyvecsave.S{Vector: b.RunningVar},
		serializer.Bool(b.Frozen),
	)
}

func (b *BatchNorm) applyFrozen(in anydiff.Res) anydiff.Res {
	c := in.Output().Creator()

	b.statsLock.Lock()
	normalizer := b.RunningVar.Copy()
	negMean := b.RunningMean.Copy()
	b.statsLock.Unlock()

	anyvec.ClipPos(normalizer)
	normalizer.AddScalar(c.MakeNumeric(b.stabilizer()))
	anyvec.Pow(normalizer, c.MakeNumeric(-0.5))
	negMean.Scale(c.MakeNumeric(-1))

	totalScaler := anydiff.Mul(b.Scalers, anydiff.NewConst(normalizer))
	return anydiff.Pool(totalScaler, func(totalScaler anydiff.Res) anydiff.Res {
		return anydiff.ScaleAddRepeated(
			in,
			totalScaler,
			anydiff.Add(b.Biases, anydiff.Mul(anydiff.NewConst(negMean), totalScaler)),
		)
	})
}

// updateStats folds one batch's statistics into the
// running estimates, using the unbiased variance.
func (b *BatchNorm) updateStats(negMean, variance anyvec.Vector, rows int) {
	c := negMean.Creator()
	momentum := b.momentum()

	newMean := negMean.Copy()
	newMean.Scale(c.MakeNumeric(-momentum))
	newVar := variance.Copy()
	anyvec.ClipPos(newVar)
	if rows > 1 {
		newVar.Scale(c.MakeNumeric(momentum * float64(rows) / float64(rows-1)))
	} else {
		newVar.Scale(c.MakeNumeric(momentum))
	}

	b.statsLock.Lock()
	defer b.statsLock.Unlock()
	if b.RunningMean == nil {
		b.RunningMean = c.MakeVector(b.InputCount)
		b.RunningVar = anyvec.Ones(c, b.InputCount)
	}
	b.RunningMean.Scale(c.MakeNumeric(1 - momentum))
	b.RunningMean.Add(newMean)
	b.RunningVar.Scale(c.MakeNumeric(1 - momentum))
	b.RunningVar.Add(newVar)
}

func (b *BatchNorm) stabilizer() float64 {
	if b.Stabilizer == 0 {
		return defaultBNStabilizer
	}
	return b.Stabilizer
}

func (b *BatchNorm) momentum() float64 {
	if b.Momentum == 0 {
		return defaultBNMomentum
	}
	return b.Momentum
}
