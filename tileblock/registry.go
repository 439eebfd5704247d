package tileblock

import (
	"fmt"
	"sort"
	"sync"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
	"github.com/teracamo/DeeplearningReconstruction/tiling"
)

func init() {
	var r Registry
	serializer.RegisterTypedDeserializer(r.SerializerType(), DeserializeRegistry)
}

// A Registry owns one Block per tile coordinate.
//
// Blocks are created lazily from the registry's Recipe the
// first time a coordinate is requested, and are never
// removed.
//
// A Registry is safe to use from multiple Goroutines.
type Registry struct {
	recipe  Recipe
	creator anyvec.Creator

	lock   sync.RWMutex
	blocks map[tiling.Coord]*Block
}

// NewRegistry creates an empty registry whose blocks will
// be allocated with c.
func NewRegistry(c anyvec.Creator, r Recipe) (*Registry, error) {
	if err := r.Validate(); err != nil {
		return nil, essentials.AddCtx("new registry", err)
	}
	return &Registry{
		recipe:  r,
		creator: c,
		blocks:  map[tiling.Coord]*Block{},
	}, nil
}

// Recipe returns the recipe used to create blocks.
func (r *Registry) Recipe() Recipe {
	return r.recipe
}

// Creator returns the creator of every block.
func (r *Registry) Creator() anyvec.Creator {
	return r.creator
}

// GetOrCreate returns the block for a coordinate, creating
// it on the first request.
//
// Every later request for the same coordinate returns the
// same *Block.
func (r *Registry) GetOrCreate(coord tiling.Coord) *Block {
	if b, ok := r.Lookup(coord); ok {
		return b
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if b, ok := r.blocks[coord]; ok {
		return b
	}
	b := r.recipe.NewBlock(r.creator, coord)
	r.blocks[coord] = b
	return b
}

// Ensure creates any missing blocks for the coordinates.
//
// It should be called before blocks are used from several
// Goroutines at once.
func (r *Registry) Ensure(coords ...tiling.Coord) {
	for _, c := range coords {
		r.GetOrCreate(c)
	}
}

// Lookup returns the block for a coordinate, if it exists.
func (r *Registry) Lookup(coord tiling.Coord) (*Block, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	b, ok := r.blocks[coord]
	return b, ok
}

// Adopt installs a block which was built elsewhere, such
// as a deserialized block.
//
// If the coordinate already has a block, the registry is
// left unchanged and ErrDuplicateInitRace is returned.
func (r *Registry) Adopt(coord tiling.Coord, b *Block) error {
	if err := b.checkRecipe(r.recipe); err != nil {
		return essentials.AddCtx("adopt "+coord.String(), err)
	}
	if b.Creator() != r.creator {
		return essentials.AddCtx("adopt "+coord.String(), reconnet.ErrDeviceMismatch)
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	if _, ok := r.blocks[coord]; ok {
		return essentials.AddCtx(fmt.Sprintf("adopt %s", coord), reconnet.ErrDuplicateInitRace)
	}
	r.blocks[coord] = b
	return nil
}

// Len returns the number of blocks.
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()
	return len(r.blocks)
}

// Coords returns every initialized coordinate in
// row-major order.
func (r *Registry) Coords() []tiling.Coord {
	r.lock.RLock()
	res := make([]tiling.Coord, 0, len(r.blocks))
	for c := range r.blocks {
		res = append(res, c)
	}
	r.lock.RUnlock()
	sort.Slice(res, func(i, j int) bool {
		return res[i].Less(res[j])
	})
	return res
}

// Blocks returns every block in row-major coordinate
// order.
func (r *Registry) Blocks() []*Block {
	var res []*Block
	for _, c := range r.Coords() {
		b, _ := r.Lookup(c)
		res = append(res, b)
	}
	return res
}

// Parameters returns the parameters of every block in
// row-major coordinate order.
//
// The result grows as new coordinates are visited.
func (r *Registry) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, b := range r.Blocks() {
		res = append(res, b.Parameters()...)
	}
	return res
}

// SetFrozen freezes or unfreezes the batch normalizations
// of every block.
func (r *Registry) SetFrozen(frozen bool) {
	for _, b := range r.Blocks() {
		b.SetFrozen(frozen)
	}
}

// DeserializeRegistry deserializes a Registry.
//
// The blocks are allocated by the creator which anyvecsave
// picks for their numeric type.
func DeserializeRegistry(d []byte) (reg *Registry, err error) {
	defer essentials.AddCtxTo("deserialize Registry", &err)
	var recipe Recipe
	var device *anyvecsave.S
	var coords []int
	var blocks []serializer.Serializer
	if err := serializer.DeserializeAny(d, &recipe, &device, &coords, &blocks); err != nil {
		return nil, err
	}
	if len(coords) != 2*len(blocks) {
		return nil, fmt.Errorf("%d coordinate values for %d blocks", len(coords), len(blocks))
	}
	reg, err = NewRegistry(device.Vector.Creator(), recipe)
	if err != nil {
		return nil, err
	}
	for i, obj := range blocks {
		b, ok := obj.(*Block)
		if !ok {
			return nil, fmt.Errorf("not a Block: %T", obj)
		}
		coord := tiling.Coord{Row: coords[2*i], Col: coords[2*i+1]}
		if err := reg.Adopt(coord, b); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// SerializerType returns the unique ID used to serialize
// a Registry with the serializer package.
func (r *Registry) SerializerType() string {
	return "github.com/teracamo/DeeplearningReconstruction/tileblock.Registry"
}

// Serialize serializes the recipe and every block.
//
// An empty vector records the numeric type, so that an
// empty registry loads with the right creator.
func (r *Registry) Serialize() ([]byte, error) {
	var coords []int
	var blocks []serializer.Serializer
	for _, c := range r.Coords() {
		b, _ := r.Lookup(c)
		coords = append(coords, c.Row, c.Col)
		blocks = append(blocks, b)
	}
	return serializer.SerializeAny(
		r.recipe,
		&anyvecsave.S{Vector: r.creator.MakeVector(0)},
		coords,
		blocks,
	)
}
