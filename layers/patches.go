package layers

import (
	"sync"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// patches lays out every kernel-sized neighborhood of an
// image as one row of a matrix, so that a stride-1
// convolution becomes a single matrix product.
//
// Row r of the matrix is the neighborhood whose top-left
// corner is output pixel r, in row-major order.
type patches struct {
	kernelWidth  int
	kernelHeight int

	width  int
	height int
	depth  int

	lock   sync.Mutex
	mapper anyvec.Mapper
}

func (p *patches) imageSize() int {
	return p.width * p.height * p.depth
}

func (p *patches) outWidth() int {
	return essentials.MaxInt(0, p.width-p.kernelWidth+1)
}

func (p *patches) outHeight() int {
	return essentials.MaxInt(0, p.height-p.kernelHeight+1)
}

func (p *patches) rowSize() int {
	return p.kernelWidth * p.kernelHeight * p.depth
}

// getMapper returns the mapper from one image to its
// patch matrix, building it once per creator.
func (p *patches) getMapper(c anyvec.Creator) anyvec.Mapper {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.mapper != nil && p.mapper.Creator() == c {
		return p.mapper
	}
	table := make([]int, 0, p.outWidth()*p.outHeight()*p.rowSize())
	for y := 0; y < p.outHeight(); y++ {
		for x := 0; x < p.outWidth(); x++ {
			for ky := 0; ky < p.kernelHeight; ky++ {
				start := ((y+ky)*p.width + x) * p.depth
				for i := 0; i < p.kernelWidth*p.depth; i++ {
					table = append(table, start+i)
				}
			}
		}
	}
	p.mapper = c.MakeMapper(p.imageSize(), table)
	return p.mapper
}

// forEach calls f for each of the n images packed in in.
//
// If fill is set, the matrix holds the patches of image i.
// Otherwise it is scratch space of the same shape with
// arbitrary contents.
// The matrix is reused between calls, so f must not keep
// it.
//
// If parallel is set, f runs concurrently with one matrix
// per goroutine, in no particular order.
func (p *patches) forEach(in anyvec.Vector, n int, fill, parallel bool,
	f func(i int, m *anyvec.Matrix)) {
	c := in.Creator()
	var mapper anyvec.Mapper
	if fill {
		mapper = p.getMapper(c)
	}
	size := p.imageSize()
	worker := func() func(int) {
		rows := p.outWidth() * p.outHeight()
		m := &anyvec.Matrix{
			Data: c.MakeVector(rows * p.rowSize()),
			Rows: rows,
			Cols: p.rowSize(),
		}
		return func(i int) {
			if mapper != nil {
				mapper.Map(in.Slice(size*i, size*(i+1)), m.Data)
			}
			f(i, m)
		}
	}
	if parallel {
		essentials.StatefulConcurrentMap(0, n, worker)
		return
	}
	w := worker()
	for i := 0; i < n; i++ {
		w(i)
	}
}
