// Package layers provides the convolutional layers which
// make up a tile block: padding, convolution, batch
// normalization, channel-to-space regrouping, and mean
// pooling.
//
// All input and output tensors are row-major depth-minor.
package layers

import (
	"errors"
	"math"
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"github.com/valyala/fastrand"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
)

func init() {
	var c Conv
	serializer.RegisterTypedDeserializer(c.SerializerType(), DeserializeConv)
}

// Conv is a stride-1 convolution without implicit padding.
// Pair it with a Padding layer to keep the image size.
//
// If Biases is nil, the layer has no bias term.
type Conv struct {
	FilterCount  int
	FilterWidth  int
	FilterHeight int

	InputWidth  int
	InputHeight int
	InputDepth  int

	Filters *anydiff.Var
	Biases  *anydiff.Var

	// Parallel spreads the images of a batch across
	// goroutines.
	Parallel bool

	patchesLock sync.Mutex
	patches     *patches
}

// DeserializeConv deserializes a Conv.
func DeserializeConv(d []byte) (*Conv, error) {
	var fW, fH, inW, inH, inD serializer.Int
	var parallel, hasBias serializer.Bool
	var filters, biases *anyvecsave.S
	err := serializer.DeserializeAny(d, &fW, &fH, &inW, &inH, &inD, &parallel, &hasBias,
		&filters, &biases)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Conv", err)
	}
	res := &Conv{
		FilterWidth:  int(fW),
		FilterHeight: int(fH),
		InputWidth:   int(inW),
		InputHeight:  int(inH),
		InputDepth:   int(inD),
		Filters:      anydiff.NewVar(filters.Vector),
		Parallel:     bool(parallel),
	}
	size := res.filterSize()
	if size == 0 || filters.Vector.Len()%size != 0 {
		return nil, errors.New("deserialize Conv: invalid filter dimensions")
	}
	res.FilterCount = filters.Vector.Len() / size
	if hasBias {
		if biases.Vector.Len() != res.FilterCount {
			return nil, errors.New("deserialize Conv: invalid bias count")
		}
		res.Biases = anydiff.NewVar(biases.Vector)
	}
	return res, nil
}

// InitUniform draws the filters uniformly from
// [-1/sqrt(n), 1/sqrt(n)], where n is the fan-in of one
// filter.
// Biases, if wanted, start at zero.
func (c *Conv) InitUniform(cr anyvec.Creator, rng *fastrand.RNG, bias bool) {
	c.InitZero(cr, bias)
	bound := 1 / math.Sqrt(float64(c.filterSize()))
	c.Filters.Vector.Set(reconnet.RandUniform(cr, c.Filters.Vector.Len(), bound, rng))
}

// InitZero initializes the layer to zero.
func (c *Conv) InitZero(cr anyvec.Creator, bias bool) {
	c.Filters = anydiff.NewVar(cr.MakeVector(c.filterSize() * c.FilterCount))
	if bias {
		c.Biases = anydiff.NewVar(cr.MakeVector(c.FilterCount))
	} else {
		c.Biases = nil
	}
}

// OutputWidth returns the width of the output tensor.
func (c *Conv) OutputWidth() int {
	return essentials.MaxInt(0, c.InputWidth-c.FilterWidth+1)
}

// OutputHeight returns the height of the output tensor.
func (c *Conv) OutputHeight() int {
	return essentials.MaxInt(0, c.InputHeight-c.FilterHeight+1)
}

// OutputDepth returns the depth of the output tensor.
func (c *Conv) OutputDepth() int {
	return c.FilterCount
}

// Apply applies the layer to a batch of images.
//
// The layer must have been initialized, and its shape
// must not change after the first call.
func (c *Conv) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	if c.Filters == nil {
		panic("uninitialized Conv")
	}
	p := c.getPatches()
	cr := in.Output().Creator()
	if in.Output().Len() != batchSize*p.imageSize() {
		panic("incorrect input size")
	}
	pixels := p.outWidth() * p.outHeight()
	if pixels == 0 {
		return anydiff.NewConst(cr.MakeVector(0))
	}

	outputs := make([]anyvec.Vector, batchSize)
	p.forEach(in.Output(), batchSize, true, c.Parallel, func(i int, patchMat *anyvec.Matrix) {
		out := &anyvec.Matrix{
			Data: cr.MakeVector(pixels * c.FilterCount),
			Rows: pixels,
			Cols: c.FilterCount,
		}
		out.Product(false, true, cr.MakeNumeric(1), patchMat, c.filterMatrix(),
			cr.MakeNumeric(0))
		outputs[i] = out.Data
	})

	outVec := cr.Concat(outputs...)
	vars := anydiff.NewVarSet(c.Filters)
	if c.Biases != nil {
		anyvec.AddRepeated(outVec, c.Biases.Vector)
		vars.Add(c.Biases)
	}
	return &convRes{
		Layer:  c,
		N:      batchSize,
		In:     in,
		OutVec: outVec,
		V:      anydiff.MergeVarSets(in.Vars(), vars),
	}
}

// Parameters returns the filters followed by the biases,
// if the layer has any.
//
// If the layer is uninitialized, the result is nil.
func (c *Conv) Parameters() []*anydiff.Var {
	if c.Filters == nil {
		return nil
	}
	if c.Biases == nil {
		return []*anydiff.Var{c.Filters}
	}
	return []*anydiff.Var{c.Filters, c.Biases}
}

// SerializerType returns the unique ID used to serialize
// a Conv with the serializer package.
func (c *Conv) SerializerType() string {
	return "github.com/teracamo/DeeplearningReconstruction/layers.Conv"
}

// Serialize serializes the layer.
//
// If the layer was not yet initialized, this fails.
func (c *Conv) Serialize() ([]byte, error) {
	if c.Filters == nil {
		return nil, errors.New("cannot serialize uninitialized Conv")
	}
	biases := c.Filters.Vector.Creator().MakeVector(0)
	if c.Biases != nil {
		biases = c.Biases.Vector
	}
	return serializer.SerializeAny(
		serializer.Int(c.FilterWidth),
		serializer.Int(c.FilterHeight),
		serializer.Int(c.InputWidth),
		serializer.Int(c.InputHeight),
		serializer.Int(c.InputDepth),
		serializer.Bool(c.Parallel),
		serializer.Bool(c.Biases != nil),
		&anyvecsave.S{Vector: c.Filters.Vector},
		&anyvecsave.S{Vector: biases},
	)
}

func (c *Conv) filterSize() int {
	return c.FilterWidth * c.FilterHeight * c.InputDepth
}

// filterMatrix views the filters as one row per output
// channel.
func (c *Conv) filterMatrix() *anyvec.Matrix {
	return &anyvec.Matrix{
		Data: c.Filters.Vector,
		Rows: c.FilterCount,
		Cols: c.filterSize(),
	}
}

func (c *Conv) getPatches() *patches {
	c.patchesLock.Lock()
	defer c.patchesLock.Unlock()
	if c.patches == nil {
		c.patches = &patches{
			kernelWidth:  c.FilterWidth,
			kernelHeight: c.FilterHeight,
			width:        c.InputWidth,
			height:       c.InputHeight,
			depth:        c.InputDepth,
		}
	}
	return c.patches
}

type convRes struct {
	Layer  *Conv
	N      int
	In     anydiff.Res
	OutVec anyvec.Vector
	V      anydiff.VarSet
}

func (c *convRes) Output() anyvec.Vector {
	return c.OutVec
}

func (c *convRes) Vars() anydiff.VarSet {
	return c.V
}

func (c *convRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	l := c.Layer
	p := l.getPatches()
	cr := u.Creator()
	one, zero := cr.MakeNumeric(1), cr.MakeNumeric(0)

	if l.Biases != nil {
		if biasGrad, ok := g[l.Biases]; ok {
			biasGrad.Add(anyvec.SumRows(u, l.FilterCount))
		}
	}

	filterGrad, doFilters := g[l.Filters]
	doIn := g.Intersects(c.In.Vars())
	outSize := u.Len() / c.N
	inputUpstreams := make([]anyvec.Vector, c.N)
	var filterLock sync.Mutex

	// Patches are only needed for the filter gradient; the
	// input gradient reuses the matrix as scratch space.
	p.forEach(c.In.Output(), c.N, doFilters, l.Parallel, func(i int, patchMat *anyvec.Matrix) {
		uMat := &anyvec.Matrix{
			Data: u.Slice(outSize*i, outSize*(i+1)),
			Rows: p.outWidth() * p.outHeight(),
			Cols: l.FilterCount,
		}
		if doFilters {
			fg := l.filterMatrix()
			fg.Data = cr.MakeVector(filterGrad.Len())
			fg.Product(true, false, one, uMat, patchMat, zero)
			filterLock.Lock()
			filterGrad.Add(fg.Data)
			filterLock.Unlock()
		}
		if doIn {
			patchMat.Product(false, false, one, uMat, l.filterMatrix(), zero)
			inUp := cr.MakeVector(p.imageSize())
			p.getMapper(cr).MapTranspose(patchMat.Data, inUp)
			inputUpstreams[i] = inUp
		}
	})

	if doIn {
		c.In.Propagate(cr.Concat(inputUpstreams...), g)
	}
}
