// Package tileblock holds the per-coordinate convolutional
// blocks of the denoiser and the processor which applies
// them to window batches.
package tileblock

import (
	"fmt"
	"math"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"github.com/valyala/fastrand"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
	"github.com/teracamo/DeeplearningReconstruction/layers"
	"github.com/teracamo/DeeplearningReconstruction/tiling"
)

func init() {
	var r Recipe
	serializer.RegisterTypedDeserializer(r.SerializerType(), DeserializeRecipe)
}

// ModulationInit selects how the modulation layer of a new
// block is initialized.
type ModulationInit string

const (
	// ModulationZero makes the modulation output zero, so
	// that a fresh block contributes no residual.
	ModulationZero ModulationInit = "zero"

	// ModulationUniform draws the modulation weights from
	// [-1/sqrt(batch), 1/sqrt(batch)].
	ModulationUniform ModulationInit = "uniform"
)

// A Recipe describes how every block of a registry is
// built.
type Recipe struct {
	KernelSize    int
	Channels      int
	RegroupFactor int
	PoolFactor    int

	WindowHeight int
	WindowWidth  int

	// BatchSize is the number of windows per coordinate in
	// every batch; it is the size of the modulation layer.
	BatchSize int

	// Activation follows the first normalization.
	Activation reconnet.Activation

	Seed           uint32
	ModulationInit ModulationInit
}

// DefaultRecipe creates the standard recipe for a window
// and batch size.
func DefaultRecipe(w tiling.Window, batchSize int) Recipe {
	channels := 16
	factor := int(math.Sqrt(float64(channels)))
	return Recipe{
		KernelSize:     9,
		Channels:       channels,
		RegroupFactor:  factor,
		PoolFactor:     factor,
		WindowHeight:   w.Height,
		WindowWidth:    w.Width,
		BatchSize:      batchSize,
		Activation:     reconnet.ReLU,
		Seed:           1,
		ModulationInit: ModulationZero,
	}
}

// Validate checks that blocks built from the recipe
// preserve the shape of their input.
func (r Recipe) Validate() error {
	switch {
	case r.KernelSize < 1 || r.KernelSize%2 == 0:
		return fmt.Errorf("kernel size %d must be positive and odd", r.KernelSize)
	case r.RegroupFactor < 1 || r.RegroupFactor*r.RegroupFactor != r.Channels:
		return fmt.Errorf("regroup factor %d does not turn %d channels into one",
			r.RegroupFactor, r.Channels)
	case r.PoolFactor != r.RegroupFactor:
		return fmt.Errorf("pool factor %d differs from regroup factor %d",
			r.PoolFactor, r.RegroupFactor)
	case r.WindowHeight < 1 || r.WindowWidth < 1:
		return essentials.AddCtx(fmt.Sprintf("recipe window %dx%d",
			r.WindowHeight, r.WindowWidth), reconnet.ErrInvalidWindowConfig)
	case r.BatchSize < 1:
		return fmt.Errorf("batch size %d must be positive", r.BatchSize)
	case r.ModulationInit != ModulationZero && r.ModulationInit != ModulationUniform:
		return fmt.Errorf("unknown modulation init %q", r.ModulationInit)
	}
	if _, err := reconnet.ParseActivation(r.Activation.String()); err != nil {
		return err
	}
	return nil
}

// NewBlock builds the block for a coordinate.
//
// The initial parameters depend only on the recipe and the
// coordinate.
func (r Recipe) NewBlock(c anyvec.Creator, coord tiling.Coord) *Block {
	var rng fastrand.RNG
	rng.Seed(r.coordSeed(coord))

	border := r.KernelSize / 2
	pad := layers.NewSamePadding(r.WindowWidth, r.WindowHeight, 1, border)
	conv := &layers.Conv{
		FilterCount:  r.Channels,
		FilterWidth:  r.KernelSize,
		FilterHeight: r.KernelSize,
		InputWidth:   pad.OutputWidth(),
		InputHeight:  pad.OutputHeight(),
		InputDepth:   1,
	}
	conv.InitUniform(c, &rng, false)
	regroup := &layers.PixelShuffle{
		Factor:      r.RegroupFactor,
		InputWidth:  r.WindowWidth,
		InputHeight: r.WindowHeight,
		InputDepth:  r.Channels,
	}
	pool := &layers.MeanPool{
		Span:        r.PoolFactor,
		InputWidth:  regroup.OutputWidth(),
		InputHeight: regroup.OutputHeight(),
		InputDepth:  regroup.OutputDepth(),
	}

	var modulation *reconnet.FC
	if r.ModulationInit == ModulationUniform {
		modulation = reconnet.NewFCUniform(c, r.BatchSize, r.BatchSize, &rng)
	} else {
		modulation = reconnet.NewFCZero(c, r.BatchSize, r.BatchSize)
	}

	return &Block{
		Pad:        pad,
		Conv:       conv,
		Norm:       layers.NewBatchNorm(c, r.Channels),
		Activation: r.Activation,
		Regroup:    regroup,
		Pool:       pool,
		OutNorm:    layers.NewBatchNorm(c, 1),
		Modulation: modulation,
	}
}

// coordSeed mixes the recipe seed with a coordinate.
// The result is never zero, since a zero fastrand seed
// falls back to the clock.
func (r Recipe) coordSeed(coord tiling.Coord) uint32 {
	x := r.Seed ^ 0x9e3779b9
	for _, v := range []int{coord.Row, coord.Col} {
		x ^= uint32(v) + 0x7f4a7c15 + (x << 6) + (x >> 2)
		x *= 0x85ebca6b
		x ^= x >> 13
	}
	if x == 0 {
		return 1
	}
	return x
}

// DeserializeRecipe deserializes a Recipe.
func DeserializeRecipe(d []byte) (Recipe, error) {
	var r Recipe
	var seed int64
	var init string
	err := serializer.DeserializeAny(d, &r.KernelSize, &r.Channels, &r.RegroupFactor,
		&r.PoolFactor, &r.WindowHeight, &r.WindowWidth, &r.BatchSize, &r.Activation,
		&seed, &init)
	if err != nil {
		return r, essentials.AddCtx("deserialize Recipe", err)
	}
	r.Seed = uint32(seed)
	r.ModulationInit = ModulationInit(init)
	return r, nil
}

// SerializerType returns the unique ID used to serialize
// a Recipe with the serializer package.
func (r Recipe) SerializerType() string {
	return "github.com/teracamo/DeeplearningReconstruction/tileblock.Recipe"
}

// Serialize serializes the recipe.
func (r Recipe) Serialize() ([]byte, error) {
	return serializer.SerializeAny(r.KernelSize, r.Channels, r.RegroupFactor,
		r.PoolFactor, r.WindowHeight, r.WindowWidth, r.BatchSize, r.Activation,
		int64(r.Seed), string(r.ModulationInit))
}
