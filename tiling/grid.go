package tiling

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
)

// A Grid stores the windows of a batch of images.
//
// Data is tile-major: all the windows of one coordinate
// are contiguous, ordered by batch index, and coordinates
// are ordered row-major.
type Grid struct {
	Data   anydiff.Res
	Num    int
	Layout *Layout
}

// Validate checks that the data length agrees with the
// layout.
func (g *Grid) Validate() error {
	expected := g.Layout.NumTiles() * g.Num * g.Layout.TileSize()
	if n := g.Data.Output().Len(); n != expected {
		return essentials.AddCtx(fmt.Sprintf("grid data length %d (expected %d)", n, expected),
			reconnet.ErrShapeMismatch)
	}
	return nil
}

// Coords lists the grid's coordinates in row-major order.
func (g *Grid) Coords() []Coord {
	return g.Layout.Coords()
}

// Tile returns the window batch at a coordinate.
func (g *Grid) Tile(c Coord) *reconnet.Image {
	if c.Row < 0 || c.Col < 0 || c.Row >= g.Layout.Rows || c.Col >= g.Layout.Cols {
		panic("tile coordinate " + c.String() + " out of range")
	}
	size := g.Num * g.Layout.TileSize()
	start := g.Layout.Index(c) * size
	return &reconnet.Image{
		Data:   anydiff.Slice(g.Data, start, start+size),
		Num:    g.Num,
		Height: g.Layout.Window.Height,
		Width:  g.Layout.Window.Width,
	}
}

// Tiles returns every window batch in row-major order.
func (g *Grid) Tiles() []*reconnet.Image {
	var res []*reconnet.Image
	for _, c := range g.Coords() {
		res = append(res, g.Tile(c))
	}
	return res
}

// NewGrid packs per-coordinate window batches, given in
// row-major order, back into a Grid.
func NewGrid(layout *Layout, tiles []*reconnet.Image) (*Grid, error) {
	if len(tiles) != layout.NumTiles() || len(tiles) == 0 {
		return nil, essentials.AddCtx(fmt.Sprintf("got %d tiles for %dx%d grid",
			len(tiles), layout.Rows, layout.Cols), reconnet.ErrShapeMismatch)
	}
	num := tiles[0].Num
	c := tiles[0].Creator()
	reses := make([]anydiff.Res, len(tiles))
	for i, tile := range tiles {
		if err := tile.Validate(); err != nil {
			return nil, err
		}
		if tile.Num != num || tile.Height != layout.Window.Height ||
			tile.Width != layout.Window.Width {
			return nil, essentials.AddCtx(fmt.Sprintf("tile %d is %dx%dx%d", i,
				tile.Num, tile.Height, tile.Width), reconnet.ErrShapeMismatch)
		}
		if err := tile.CheckDevice(c); err != nil {
			return nil, err
		}
		reses[i] = tile.Data
	}
	return &Grid{
		Data:   anydiff.Concat(reses...),
		Num:    num,
		Layout: layout,
	}, nil
}
