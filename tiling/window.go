// Package tiling splits batches of images into overlapping
// windows and reassembles them.
//
// Tiling and detiling are built from anyvec mappers, so
// both directions are differentiable.
package tiling

import (
	"fmt"

	"github.com/unixpickle/essentials"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
)

// A Window describes the size of tiles and how much
// neighboring tiles overlap.
type Window struct {
	Height int
	Width  int

	OverlapY int
	OverlapX int
}

// Validate checks that the window has positive sizes and
// that each overlap is smaller than its window dimension.
func (w Window) Validate() error {
	if w.Height < 1 || w.Width < 1 || w.OverlapY < 0 || w.OverlapX < 0 ||
		w.OverlapY >= w.Height || w.OverlapX >= w.Width {
		return essentials.AddCtx(fmt.Sprintf("window %dx%d overlap %dx%d",
			w.Height, w.Width, w.OverlapY, w.OverlapX), reconnet.ErrInvalidWindowConfig)
	}
	return nil
}

// StrideY is the vertical distance between tile origins.
func (w Window) StrideY() int {
	return w.Height - w.OverlapY
}

// StrideX is the horizontal distance between tile origins.
func (w Window) StrideX() int {
	return w.Width - w.OverlapX
}

// Coord identifies a tile by its grid position.
type Coord struct {
	Row int
	Col int
}

// Less orders coordinates row-major.
func (c Coord) Less(c1 Coord) bool {
	if c.Row != c1.Row {
		return c.Row < c1.Row
	}
	return c.Col < c1.Col
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d)", c.Row, c.Col)
}

// Layout is the tile geometry for one image size.
type Layout struct {
	Window Window

	// Size of the source images.
	Height int
	Width  int

	Rows int
	Cols int

	// Size of the zero padded images which the tiles cover
	// exactly.
	PaddedHeight int
	PaddedWidth  int
}

// NewLayout computes the tile geometry for images of the
// given size.
//
// Images smaller than the window are rejected with
// ErrInvalidWindowConfig.
func NewLayout(w Window, height, width int) (*Layout, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if height < w.Height || width < w.Width {
		return nil, essentials.AddCtx(fmt.Sprintf("image %dx%d smaller than window %dx%d",
			height, width, w.Height, w.Width), reconnet.ErrInvalidWindowConfig)
	}
	rows := ceilDiv(height-w.Height, w.StrideY()) + 1
	cols := ceilDiv(width-w.Width, w.StrideX()) + 1
	return &Layout{
		Window:       w,
		Height:       height,
		Width:        width,
		Rows:         rows,
		Cols:         cols,
		PaddedHeight: (rows-1)*w.StrideY() + w.Height,
		PaddedWidth:  (cols-1)*w.StrideX() + w.Width,
	}, nil
}

// NumTiles returns the number of tile positions.
func (l *Layout) NumTiles() int {
	return l.Rows * l.Cols
}

// TileSize returns the number of pixels in one window.
func (l *Layout) TileSize() int {
	return l.Window.Height * l.Window.Width
}

// Coords lists every tile coordinate in row-major order.
func (l *Layout) Coords() []Coord {
	res := make([]Coord, 0, l.NumTiles())
	for row := 0; row < l.Rows; row++ {
		for col := 0; col < l.Cols; col++ {
			res = append(res, Coord{Row: row, Col: col})
		}
	}
	return res
}

// Index returns the row-major position of a coordinate.
func (l *Layout) Index(c Coord) int {
	return c.Row*l.Cols + c.Col
}

// Origin returns the top-left pixel of a tile in padded
// image space.
func (l *Layout) Origin(c Coord) (y, x int) {
	return c.Row * l.Window.StrideY(), c.Col * l.Window.StrideX()
}

// Coverage counts, for every pixel of the padded image,
// how many tiles contain it.
func (l *Layout) Coverage() []int {
	res := make([]int, l.PaddedHeight*l.PaddedWidth)
	for _, c := range l.Coords() {
		oy, ox := l.Origin(c)
		for y := 0; y < l.Window.Height; y++ {
			rowStart := (oy+y)*l.PaddedWidth + ox
			for x := 0; x < l.Window.Width; x++ {
				res[rowStart+x]++
			}
		}
	}
	return res
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
