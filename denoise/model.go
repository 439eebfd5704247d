// Package denoise composes tiling, per-coordinate tile
// blocks and reassembly into the residual denoising model.
package denoise

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
	"github.com/teracamo/DeeplearningReconstruction/layers"
	"github.com/teracamo/DeeplearningReconstruction/tileblock"
	"github.com/teracamo/DeeplearningReconstruction/tiling"
)

// A Model predicts a high quality image from a low and a
// high quality reconstruction of the same slice.
//
// The model estimates the error left in the high quality
// input, and removes it:
//
//	output = high - detile(process(tile(norm(high - low))))
type Model struct {
	Tiler     *tiling.Tiler
	InputNorm *layers.BatchNorm
	Registry  *tileblock.Registry
	Processor tileblock.Processor

	// Workers is the number of Goroutines used to process
	// tiles.
	// If it is less than 2, tiles are processed in order on
	// the calling Goroutine.
	Workers int

	// Probe, if non-nil, sees the normalized difference
	// image on every forward pass.
	Probe *reconnet.Probe
}

// NewModel creates an untrained model.
//
// The recipe's window size must match the window.
func NewModel(c anyvec.Creator, w tiling.Window, r tileblock.Recipe) (*Model, error) {
	if r.WindowHeight != w.Height || r.WindowWidth != w.Width {
		return nil, essentials.AddCtx(fmt.Sprintf("recipe window %dx%d for %dx%d tiles",
			r.WindowHeight, r.WindowWidth, w.Height, w.Width), reconnet.ErrInvalidWindowConfig)
	}
	tiler, err := tiling.NewTiler(w)
	if err != nil {
		return nil, err
	}
	reg, err := tileblock.NewRegistry(c, r)
	if err != nil {
		return nil, err
	}
	return &Model{
		Tiler:     tiler,
		InputNorm: layers.NewBatchNorm(c, 1),
		Registry:  reg,
		Processor: tileblock.Processor{Threshold: tileblock.DefaultShortCircuitThreshold},
	}, nil
}

// Creator returns the creator which owns the model's
// parameters.
func (m *Model) Creator() anyvec.Creator {
	return m.Registry.Creator()
}

// BatchSize returns the number of images per batch the
// model accepts.
func (m *Model) BatchSize() int {
	return m.Registry.Recipe().BatchSize
}

// Forward runs the model on a batch of image pairs.
func (m *Model) Forward(c anyvec.Creator, low, high *reconnet.Image) (*reconnet.Image, error) {
	residual, err := m.Residual(c, low, high)
	if err != nil {
		return nil, err
	}
	return &reconnet.Image{
		Data:   anydiff.Sub(high.Data, residual.Data),
		Num:    high.Num,
		Height: high.Height,
		Width:  high.Width,
	}, nil
}

// Residual computes the error which Forward removes from
// the high quality image.
func (m *Model) Residual(c anyvec.Creator, low, high *reconnet.Image) (res *reconnet.Image,
	err error) {
	grid, err := m.TileDifference(c, low, high)
	if err != nil {
		return nil, err
	}
	defer essentials.AddCtxTo("denoise", &err)

	m.Registry.Ensure(grid.Coords()...)

	var processErr error
	processed := anydiff.Pool(grid.Data, func(data anydiff.Res) anydiff.Res {
		var out *tiling.Grid
		out, processErr = m.processGrid(c, &tiling.Grid{
			Data:   data,
			Num:    grid.Num,
			Layout: grid.Layout,
		})
		if processErr != nil {
			return data
		}
		return out.Data
	})
	if processErr != nil {
		return nil, processErr
	}

	return m.Tiler.Detile(c, &tiling.Grid{
		Data:   processed,
		Num:    grid.Num,
		Layout: grid.Layout,
	})
}

// TileDifference validates an image pair, normalizes the
// difference high - low, and splits it into windows.
func (m *Model) TileDifference(c anyvec.Creator, low, high *reconnet.Image) (grid *tiling.Grid,
	err error) {
	defer essentials.AddCtxTo("denoise", &err)
	if err := reconnet.CheckPair(low, high); err != nil {
		return nil, err
	}
	if err := high.CheckDevice(c); err != nil {
		return nil, err
	}
	if m.Creator() != c {
		return nil, reconnet.ErrDeviceMismatch
	}
	if high.Num != m.BatchSize() {
		return nil, essentials.AddCtx(fmt.Sprintf("batch of %d for model batch size %d",
			high.Num, m.BatchSize()), reconnet.ErrShapeMismatch)
	}

	diff := m.InputNorm.Apply(anydiff.Sub(high.Data, low.Data), high.Num)
	if m.Probe != nil {
		diff = m.Probe.Apply(diff, high.Num)
	}
	return m.Tiler.Tile(c, &reconnet.Image{
		Data:   diff,
		Num:    high.Num,
		Height: high.Height,
		Width:  high.Width,
	})
}

func (m *Model) processGrid(c anyvec.Creator, grid *tiling.Grid) (*tiling.Grid, error) {
	coords := grid.Coords()
	tiles := grid.Tiles()
	outs := make([]*reconnet.Image, len(tiles))
	errs := make([]error, len(tiles))

	process := func(i int) {
		block, ok := m.Registry.Lookup(coords[i])
		if !ok {
			panic("missing block for " + coords[i].String())
		}
		outs[i], errs[i] = m.Processor.Process(c, tiles[i], block)
	}
	if m.Workers < 2 {
		for i := range tiles {
			process(i)
		}
	} else {
		essentials.ConcurrentMap(m.Workers, len(tiles), process)
	}

	for i, err := range errs {
		if err != nil {
			return nil, essentials.AddCtx("tile "+coords[i].String(), err)
		}
	}
	return tiling.NewGrid(grid.Layout, outs)
}

// SetFrozen switches every batch normalization between
// batch statistics (training) and running statistics
// (inference).
func (m *Model) SetFrozen(frozen bool) {
	m.InputNorm.Frozen = frozen
	m.Registry.SetFrozen(frozen)
}

// Parameters returns the input normalization parameters
// followed by the parameters of every tile block.
//
// The list grows when a forward pass visits new tile
// coordinates.
func (m *Model) Parameters() []*anydiff.Var {
	return append(m.InputNorm.Parameters(), m.Registry.Parameters()...)
}
