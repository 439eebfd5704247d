package layers

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var m MeanPool
	serializer.RegisterTypedDeserializer(m.SerializerType(), DeserializeMeanPool)
}

// MeanPool averages every Span by Span square of pixels,
// channel by channel.
//
// After a PixelShuffle with the same factor, it brings the
// image back to the window size.
// Span must divide the input width and height.
type MeanPool struct {
	Span int

	InputWidth  int
	InputHeight int
	InputDepth  int

	mapper anyvec.Mapper
}

// DeserializeMeanPool deserializes a MeanPool.
func DeserializeMeanPool(d []byte) (*MeanPool, error) {
	var span, w, h, depth serializer.Int
	if err := serializer.DeserializeAny(d, &span, &w, &h, &depth); err != nil {
		return nil, essentials.AddCtx("deserialize MeanPool", err)
	}
	res := &MeanPool{
		Span:        int(span),
		InputWidth:  int(w),
		InputHeight: int(h),
		InputDepth:  int(depth),
	}
	if err := res.check(); err != nil {
		return nil, essentials.AddCtx("deserialize MeanPool", err)
	}
	return res, nil
}

// OutputWidth returns the output tensor width.
func (m *MeanPool) OutputWidth() int {
	return m.InputWidth / m.Span
}

// OutputHeight returns the output tensor height.
func (m *MeanPool) OutputHeight() int {
	return m.InputHeight / m.Span
}

// OutputDepth returns the depth of the output tensor.
func (m *MeanPool) OutputDepth() int {
	return m.InputDepth
}

// Apply pools a batch of images.
//
// This is not thread-safe.
func (m *MeanPool) Apply(in anydiff.Res, batchSize int) anydiff.Res {
	if err := m.check(); err != nil {
		panic(err)
	}
	if m.mapper == nil {
		m.mapper = m.makeMapper(in.Output().Creator())
	}
	if in.Output().Len() != batchSize*m.mapper.OutSize() {
		panic("incorrect input size")
	}
	scaler := in.Output().Creator().MakeNumeric(1 / float64(m.Span*m.Span))
	out := batchMapTranspose(m.mapper, in.Output())
	out.Scale(scaler)
	return &meanPoolRes{In: in, Pool: m, Scaler: scaler, OutVec: out}
}

// SerializerType returns the unique ID used to serialize
// a MeanPool with the serializer package.
func (m *MeanPool) SerializerType() string {
	return "github.com/teracamo/DeeplearningReconstruction/layers.MeanPool"
}

// Serialize serializes the layer.
func (m *MeanPool) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(m.Span),
		serializer.Int(m.InputWidth),
		serializer.Int(m.InputHeight),
		serializer.Int(m.InputDepth),
	)
}

func (m *MeanPool) check() error {
	if m.Span < 1 || m.InputWidth%m.Span != 0 || m.InputHeight%m.Span != 0 {
		return fmt.Errorf("span %d does not divide %dx%d input", m.Span, m.InputWidth,
			m.InputHeight)
	}
	return nil
}

// makeMapper sends each input component to the output
// component of its square.
// Pooling is the transpose of this mapping.
func (m *MeanPool) makeMapper(c anyvec.Creator) anyvec.Mapper {
	table := make([]int, 0, m.InputWidth*m.InputHeight*m.InputDepth)
	for y := 0; y < m.InputHeight; y++ {
		row := (y / m.Span) * m.OutputWidth()
		for x := 0; x < m.InputWidth; x++ {
			start := (row + x/m.Span) * m.InputDepth
			for z := 0; z < m.InputDepth; z++ {
				table = append(table, start+z)
			}
		}
	}
	return c.MakeMapper(m.OutputWidth()*m.OutputHeight()*m.InputDepth, table)
}

type meanPoolRes struct {
	In     anydiff.Res
	Pool   *MeanPool
	Scaler anyvec.Numeric
	OutVec anyvec.Vector
}

func (m *meanPoolRes) Output() anyvec.Vector {
	return m.OutVec
}

func (m *meanPoolRes) Vars() anydiff.VarSet {
	return m.In.Vars()
}

func (m *meanPoolRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	u.Scale(m.Scaler)
	m.In.Propagate(batchMap(m.Pool.mapper, u), g)
}
