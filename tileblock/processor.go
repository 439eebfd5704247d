package tileblock

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
)

// DefaultShortCircuitThreshold is the absolute sum below
// which a window batch is passed through untouched.
const DefaultShortCircuitThreshold = 1e-5

// A Path is the route a window batch takes through a
// Processor.
type Path int

const (
	// Passthrough returns the window batch unchanged.
	Passthrough Path = iota

	// FullPipeline runs the block and modulates its output.
	FullPipeline
)

func (p Path) String() string {
	switch p {
	case Passthrough:
		return "passthrough"
	case FullPipeline:
		return "full pipeline"
	default:
		return fmt.Sprintf("Path(%d)", int(p))
	}
}

// A Processor applies a Block to the windows of one tile
// coordinate.
//
// Window batches which are nearly zero skip the block.
// Normalizing them would divide by a near-zero variance.
type Processor struct {
	// Threshold is the absolute sum below which a batch
	// takes the Passthrough path.
	// If it is 0, DefaultShortCircuitThreshold is used.
	Threshold float64
}

// Classify picks the path for a window batch.
func (p *Processor) Classify(tile *reconnet.Image) Path {
	out := tile.Data.Output()
	if out.Creator().Float64(anyvec.AbsSum(out)) < p.threshold() {
		return Passthrough
	}
	return FullPipeline
}

// Process runs a window batch through a block.
//
// The output always has the shape of the input.
func (p *Processor) Process(c anyvec.Creator, tile *reconnet.Image,
	b *Block) (res *reconnet.Image, err error) {
	defer essentials.AddCtxTo("process tile", &err)
	if err := tile.Validate(); err != nil {
		return nil, err
	}
	if err := tile.CheckDevice(c); err != nil {
		return nil, err
	}
	if b.Creator() != c {
		return nil, reconnet.ErrDeviceMismatch
	}
	h, w := b.WindowSize()
	if tile.Num != b.BatchSize() || tile.Height != h || tile.Width != w {
		return nil, essentials.AddCtx(fmt.Sprintf("tile %dx%dx%d for block %dx%dx%d",
			tile.Num, tile.Height, tile.Width, b.BatchSize(), h, w), reconnet.ErrShapeMismatch)
	}

	if p.Classify(tile) == Passthrough {
		return tile, nil
	}

	n := tile.Num
	pixels := tile.PixelCount()
	means := anydiff.Scale(
		anydiff.SumCols(&anydiff.Matrix{Data: tile.Data, Rows: n, Cols: pixels}),
		c.MakeNumeric(1/float64(pixels)),
	)
	weights := b.Modulation.Apply(means, 1)

	out := b.Net().Apply(tile.Data, n)
	scaled := anydiff.ScaleRows(&anydiff.Matrix{Data: out, Rows: n, Cols: pixels}, weights)
	return &reconnet.Image{
		Data:   scaled.Data,
		Num:    n,
		Height: tile.Height,
		Width:  tile.Width,
	}, nil
}

func (p *Processor) threshold() float64 {
	if p.Threshold == 0 {
		return DefaultShortCircuitThreshold
	}
	return p.Threshold
}
