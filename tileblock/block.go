package tileblock

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
	"github.com/teracamo/DeeplearningReconstruction/layers"
)

func init() {
	var b Block
	serializer.RegisterTypedDeserializer(b.SerializerType(), DeserializeBlock)
}

// A Block is the set of learned modules owned by one tile
// coordinate.
type Block struct {
	Pad        *layers.Padding
	Conv       *layers.Conv
	Norm       *layers.BatchNorm
	Activation reconnet.Activation
	Regroup    *layers.PixelShuffle
	Pool       *layers.MeanPool
	OutNorm    *layers.BatchNorm

	// Modulation maps the per-window means of a batch to
	// per-window output weights.
	Modulation *reconnet.FC
}

// DeserializeBlock deserializes a Block.
func DeserializeBlock(d []byte) (*Block, error) {
	var b Block
	var net reconnet.Net
	if err := serializer.DeserializeAny(d, &net, &b.Modulation); err != nil {
		return nil, essentials.AddCtx("deserialize Block", err)
	}
	if len(net) != 7 {
		return nil, fmt.Errorf("deserialize Block: expected 7 layers but got %d", len(net))
	}
	var ok [7]bool
	b.Pad, ok[0] = net[0].(*layers.Padding)
	b.Conv, ok[1] = net[1].(*layers.Conv)
	b.Norm, ok[2] = net[2].(*layers.BatchNorm)
	b.Activation, ok[3] = net[3].(reconnet.Activation)
	b.Regroup, ok[4] = net[4].(*layers.PixelShuffle)
	b.Pool, ok[5] = net[5].(*layers.MeanPool)
	b.OutNorm, ok[6] = net[6].(*layers.BatchNorm)
	for i, x := range ok {
		if !x {
			return nil, fmt.Errorf("deserialize Block: unexpected layer %d: %T", i, net[i])
		}
	}
	return &b, nil
}

// Net returns the convolutional pipeline of the block.
func (b *Block) Net() reconnet.Net {
	return reconnet.Net{
		b.Pad,
		b.Conv,
		b.Norm,
		b.Activation,
		b.Regroup,
		b.Pool,
		b.OutNorm,
	}
}

// BatchSize returns the number of windows the block
// expects per batch.
func (b *Block) BatchSize() int {
	return b.Modulation.InCount
}

// WindowSize returns the window height and width the block
// expects.
func (b *Block) WindowSize() (height, width int) {
	return b.Pad.InputHeight, b.Pad.InputWidth
}

// Creator returns the creator of the block's parameters.
func (b *Block) Creator() anyvec.Creator {
	return b.Conv.Filters.Vector.Creator()
}

// SetFrozen switches the batch normalizations between
// batch statistics and running statistics.
func (b *Block) SetFrozen(frozen bool) {
	b.Norm.Frozen = frozen
	b.OutNorm.Frozen = frozen
}

// Parameters returns the pipeline parameters followed by
// the modulation parameters.
func (b *Block) Parameters() []*anydiff.Var {
	return append(b.Net().Parameters(), b.Modulation.Parameters()...)
}

// SerializerType returns the unique ID used to serialize
// a Block with the serializer package.
func (b *Block) SerializerType() string {
	return "github.com/teracamo/DeeplearningReconstruction/tileblock.Block"
}

// Serialize stores the pipeline as a reconnet.Net,
// followed by the modulation layer.
func (b *Block) Serialize() ([]byte, error) {
	return serializer.SerializeAny(b.Net(), b.Modulation)
}

// checkRecipe verifies that a block has the shape its
// recipe would have built.
func (b *Block) checkRecipe(r Recipe) error {
	h, w := b.WindowSize()
	if h != r.WindowHeight || w != r.WindowWidth || b.BatchSize() != r.BatchSize ||
		b.Conv.FilterCount != r.Channels || b.Conv.FilterWidth != r.KernelSize ||
		b.Regroup.Factor != r.RegroupFactor || b.Pool.Span != r.PoolFactor ||
		b.Activation != r.Activation {
		return essentials.AddCtx(fmt.Sprintf("block for %dx%d windows, batch %d",
			h, w, b.BatchSize()), reconnet.ErrShapeMismatch)
	}
	return nil
}
