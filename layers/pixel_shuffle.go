package layers

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var p PixelShuffle
	serializer.RegisterTypedDeserializer(p.SerializerType(), DeserializePixelShuffle)
}

// PixelShuffle moves channels into space.
//
// An input of depth Factor*Factor*D becomes an output of
// depth D which is Factor times wider and taller.
// Channel k*Factor*Factor + i*Factor + j of input pixel
// (x, y) lands in channel k of output pixel
// (x*Factor + j, y*Factor + i).
type PixelShuffle struct {
	Factor int

	InputWidth  int
	InputHeight int
	InputDepth  int

	mapper anyvec.Mapper
}

// DeserializePixelShuffle deserializes a PixelShuffle.
func DeserializePixelShuffle(d []byte) (*PixelShuffle, error) {
	var factor, inW, inH, inD serializer.Int
	if err := serializer.DeserializeAny(d, &factor, &inW, &inH, &inD); err != nil {
		return nil, essentials.AddCtx("deserialize PixelShuffle", err)
	}
	return &PixelShuffle{
		Factor:      int(factor),
		InputWidth:  int(inW),
		InputHeight: int(inH),
		InputDepth:  int(inD),
	}, nil
}

// OutputWidth returns the output tensor width.
func (p *PixelShuffle) OutputWidth() int {
	return p.InputWidth * p.Factor
}

// OutputHeight returns the output tensor height.
func (p *PixelShuffle) OutputHeight() int {
	return p.InputHeight * p.Factor
}

// OutputDepth returns the output tensor depth.
func (p *PixelShuffle) OutputDepth() int {
	return p.InputDepth / (p.Factor * p.Factor)
}

// Apply applies the layer.
//
// This is not thread-safe.
func (p *PixelShuffle) Apply(in anydiff.Res, batch int) anydiff.Res {
	if p.InputDepth%(p.Factor*p.Factor) != 0 {
		panic(fmt.Sprintf("depth %d not divisible by %d", p.InputDepth,
			p.Factor*p.Factor))
	}
	if p.mapper == nil || p.mapper.Creator() != in.Output().Creator() {
		p.initMapper(in.Output().Creator())
	}
	if in.Output().Len() != batch*p.mapper.InSize() {
		panic("incorrect input size")
	}
	return &pixelShuffleRes{
		In:     in,
		Mapper: p.mapper,
		OutVec: batchMap(p.mapper, in.Output()),
	}
}

// SerializerType returns the unique ID used to serialize
// a PixelShuffle with the serializer package.
func (p *PixelShuffle) SerializerType() string {
	return "github.com/teracamo/DeeplearningReconstruction/layers.PixelShuffle"
}

// Serialize serializes the layer.
func (p *PixelShuffle) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(p.Factor),
		serializer.Int(p.InputWidth),
		serializer.Int(p.InputHeight),
		serializer.Int(p.InputDepth),
	)
}

func (p *PixelShuffle) initMapper(c anyvec.Creator) {
	r := p.Factor
	outW, outH, outD := p.OutputWidth(), p.OutputHeight(), p.OutputDepth()
	table := make([]int, 0, outW*outH*outD)
	for y := 0; y < outH; y++ {
		inY, i := y/r, y%r
		for x := 0; x < outW; x++ {
			inX, j := x/r, x%r
			inOffset := (inY*p.InputWidth + inX) * p.InputDepth
			for k := 0; k < outD; k++ {
				table = append(table, inOffset+k*r*r+i*r+j)
			}
		}
	}
	p.mapper = c.MakeMapper(p.InputWidth*p.InputHeight*p.InputDepth, table)
}

type pixelShuffleRes struct {
	In     anydiff.Res
	Mapper anyvec.Mapper
	OutVec anyvec.Vector
}

func (p *pixelShuffleRes) Output() anyvec.Vector {
	return p.OutVec
}

func (p *pixelShuffleRes) Vars() anydiff.VarSet {
	return p.In.Vars()
}

func (p *pixelShuffleRes) Propagate(u anyvec.Vector, g anydiff.Grad) {
	p.In.Propagate(batchMapTranspose(p.Mapper, u), g)
}
