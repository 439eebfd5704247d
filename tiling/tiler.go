package tiling

import (
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
)

// A Tiler splits image batches into overlapping windows
// and reassembles window batches into images.
//
// Windows which extend past the bottom or right edge of an
// image are zero padded.
// When reassembling, each pixel is the average of every
// window sample which covers it.
//
// A Tiler is safe to use from multiple Goroutines.
type Tiler struct {
	window Window

	cacheLock sync.Mutex
	cache     map[mapperKey]*tileMappers
}

type mapperKey struct {
	Num     int
	Height  int
	Width   int
	Creator anyvec.Creator
}

type tileMappers struct {
	Layout *Layout

	// Pad maps padded batches to unpadded ones.
	Pad anyvec.Mapper

	// Tile maps padded batches to tile-major windows.
	Tile anyvec.Mapper

	// Coverage is the per-pixel window count for an entire
	// padded batch.
	Coverage anyvec.Vector
}

// NewTiler creates a Tiler for a window configuration.
func NewTiler(w Window) (*Tiler, error) {
	if err := w.Validate(); err != nil {
		return nil, essentials.AddCtx("new tiler", err)
	}
	return &Tiler{window: w, cache: map[mapperKey]*tileMappers{}}, nil
}

// Window returns the tiler's window configuration.
func (t *Tiler) Window() Window {
	return t.window
}

// Layout returns the tile geometry for images of the given
// size.
func (t *Tiler) Layout(height, width int) (*Layout, error) {
	return NewLayout(t.window, height, width)
}

// Tile splits a batch of images into windows.
func (t *Tiler) Tile(c anyvec.Creator, img *reconnet.Image) (grid *Grid, err error) {
	defer essentials.AddCtxTo("tile", &err)
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if err := img.CheckDevice(c); err != nil {
		return nil, err
	}
	m, err := t.mappers(c, img.Num, img.Height, img.Width)
	if err != nil {
		return nil, err
	}
	padded := anydiff.MapTranspose(m.Pad, img.Data)
	return &Grid{
		Data:   anydiff.Map(m.Tile, padded),
		Num:    img.Num,
		Layout: m.Layout,
	}, nil
}

// Detile reassembles a batch of images from its windows.
//
// Overlapping samples are averaged, and the zero padding
// added by Tile is discarded.
func (t *Tiler) Detile(c anyvec.Creator, grid *Grid) (img *reconnet.Image, err error) {
	defer essentials.AddCtxTo("detile", &err)
	if grid.Layout.Window != t.window {
		return nil, essentials.AddCtx("grid window differs from tiler",
			reconnet.ErrShapeMismatch)
	}
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if grid.Data.Output().Creator() != c {
		return nil, reconnet.ErrDeviceMismatch
	}
	m, err := t.mappers(c, grid.Num, grid.Layout.Height, grid.Layout.Width)
	if err != nil {
		return nil, err
	}
	summed := anydiff.MapTranspose(m.Tile, grid.Data)
	averaged := anydiff.Div(summed, anydiff.NewConst(m.Coverage))
	return &reconnet.Image{
		Data:   anydiff.Map(m.Pad, averaged),
		Num:    grid.Num,
		Height: grid.Layout.Height,
		Width:  grid.Layout.Width,
	}, nil
}

func (t *Tiler) mappers(c anyvec.Creator, num, height, width int) (*tileMappers, error) {
	key := mapperKey{Num: num, Height: height, Width: width, Creator: c}

	t.cacheLock.Lock()
	defer t.cacheLock.Unlock()
	if m, ok := t.cache[key]; ok {
		return m, nil
	}

	layout, err := t.Layout(height, width)
	if err != nil {
		return nil, err
	}
	paddedSize := layout.PaddedHeight * layout.PaddedWidth

	padTable := make([]int, 0, num*height*width)
	for n := 0; n < num; n++ {
		for y := 0; y < height; y++ {
			rowStart := n*paddedSize + y*layout.PaddedWidth
			for x := 0; x < width; x++ {
				padTable = append(padTable, rowStart+x)
			}
		}
	}

	win := layout.Window
	tileTable := make([]int, 0, layout.NumTiles()*num*layout.TileSize())
	for _, coord := range layout.Coords() {
		oy, ox := layout.Origin(coord)
		for n := 0; n < num; n++ {
			for y := 0; y < win.Height; y++ {
				rowStart := n*paddedSize + (oy+y)*layout.PaddedWidth + ox
				for x := 0; x < win.Width; x++ {
					tileTable = append(tileTable, rowStart+x)
				}
			}
		}
	}

	coverage := make([]float64, 0, num*paddedSize)
	counts := layout.Coverage()
	for n := 0; n < num; n++ {
		for _, count := range counts {
			coverage = append(coverage, float64(count))
		}
	}

	m := &tileMappers{
		Layout:   layout,
		Pad:      c.MakeMapper(num*paddedSize, padTable),
		Tile:     c.MakeMapper(num*paddedSize, tileTable),
		Coverage: c.MakeVectorData(c.MakeNumericList(coverage)),
	}
	t.cache[key] = m
	return m, nil
}
