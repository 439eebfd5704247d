package tileblock

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/serializer"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
	"github.com/teracamo/DeeplearningReconstruction/tiling"
)

func testRecipe() Recipe {
	return DefaultRecipe(tiling.Window{Height: 8, Width: 8, OverlapY: 4, OverlapX: 4}, 2)
}

func TestRegistryIdentity(t *testing.T) {
	reg, err := NewRegistry(anyvec32.DefaultCreator{}, testRecipe())
	if err != nil {
		t.Fatal(err)
	}
	coord := tiling.Coord{Row: 1, Col: 2}
	b1 := reg.GetOrCreate(coord)
	b2 := reg.GetOrCreate(coord)
	if b1 != b2 {
		t.Error("expected identical blocks")
	}
	if reg.Len() != 1 {
		t.Errorf("expected 1 block but got %d", reg.Len())
	}
	if b, ok := reg.Lookup(coord); !ok || b != b1 {
		t.Error("lookup did not return the created block")
	}
	if _, ok := reg.Lookup(tiling.Coord{}); ok {
		t.Error("unexpected block at (0,0)")
	}
}

func TestRegistryGrowth(t *testing.T) {
	reg, err := NewRegistry(anyvec32.DefaultCreator{}, testRecipe())
	if err != nil {
		t.Fatal(err)
	}
	small, _ := tiling.NewLayout(tiling.Window{Height: 8, Width: 8, OverlapY: 4, OverlapX: 4}, 16, 16)
	large, _ := tiling.NewLayout(tiling.Window{Height: 8, Width: 8, OverlapY: 4, OverlapX: 4}, 24, 16)

	reg.Ensure(small.Coords()...)
	if reg.Len() != 9 {
		t.Fatalf("expected 9 blocks but got %d", reg.Len())
	}
	params := len(reg.Parameters())

	reg.Ensure(large.Coords()...)
	if reg.Len() != 15 {
		t.Fatalf("expected 15 blocks but got %d", reg.Len())
	}
	reg.Ensure(small.Coords()...)
	if reg.Len() != 15 {
		t.Fatalf("registry shrank or grew to %d blocks", reg.Len())
	}
	if len(reg.Parameters()) <= params {
		t.Error("parameters did not grow")
	}

	coords := reg.Coords()
	for i := 1; i < len(coords); i++ {
		if !coords[i-1].Less(coords[i]) {
			t.Fatalf("coordinates out of order: %v", coords)
		}
	}
}

func TestRegistryConcurrent(t *testing.T) {
	reg, err := NewRegistry(anyvec32.DefaultCreator{}, testRecipe())
	if err != nil {
		t.Fatal(err)
	}
	coord := tiling.Coord{Row: 3, Col: 1}
	results := make([]*Block, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = reg.GetOrCreate(coord)
		}(i)
	}
	wg.Wait()
	for _, b := range results[1:] {
		if b != results[0] {
			t.Fatal("concurrent creation produced different blocks")
		}
	}
	if reg.Len() != 1 {
		t.Errorf("expected 1 block but got %d", reg.Len())
	}
}

func TestRegistryAdopt(t *testing.T) {
	c := anyvec32.DefaultCreator{}
	recipe := testRecipe()
	reg, err := NewRegistry(c, recipe)
	if err != nil {
		t.Fatal(err)
	}
	coord := tiling.Coord{Row: 0, Col: 1}
	first := recipe.NewBlock(c, coord)
	if err := reg.Adopt(coord, first); err != nil {
		t.Fatal(err)
	}
	second := recipe.NewBlock(c, coord)
	if err := reg.Adopt(coord, second); !errors.Is(err, reconnet.ErrDuplicateInitRace) {
		t.Errorf("expected duplicate init but got %v", err)
	}
	if b := reg.GetOrCreate(coord); b != first {
		t.Error("second initializer replaced the first")
	}

	other := recipe
	other.BatchSize = 3
	err = reg.Adopt(tiling.Coord{}, other.NewBlock(c, tiling.Coord{}))
	if !errors.Is(err, reconnet.ErrShapeMismatch) {
		t.Errorf("expected shape mismatch but got %v", err)
	}
	err = reg.Adopt(tiling.Coord{}, recipe.NewBlock(anyvec64.DefaultCreator{}, tiling.Coord{}))
	if !errors.Is(err, reconnet.ErrDeviceMismatch) {
		t.Errorf("expected device mismatch but got %v", err)
	}
}

func TestRecipeDeterministic(t *testing.T) {
	c := anyvec32.DefaultCreator{}
	recipe := testRecipe()
	recipe.ModulationInit = ModulationUniform
	b1 := recipe.NewBlock(c, tiling.Coord{Row: 2, Col: 5})
	b2 := recipe.NewBlock(c, tiling.Coord{Row: 2, Col: 5})
	b3 := recipe.NewBlock(c, tiling.Coord{Row: 5, Col: 2})
	if !reflect.DeepEqual(b1.Conv.Filters.Vector.Data(), b2.Conv.Filters.Vector.Data()) {
		t.Error("same coordinate gave different filters")
	}
	if !reflect.DeepEqual(b1.Modulation.Weights.Vector.Data(),
		b2.Modulation.Weights.Vector.Data()) {
		t.Error("same coordinate gave different modulation")
	}
	if reflect.DeepEqual(b1.Conv.Filters.Vector.Data(), b3.Conv.Filters.Vector.Data()) {
		t.Error("different coordinates gave identical filters")
	}
}

func TestRecipeValidate(t *testing.T) {
	good := testRecipe()
	if err := good.Validate(); err != nil {
		t.Fatal(err)
	}
	for _, mutate := range []func(r *Recipe){
		func(r *Recipe) { r.KernelSize = 8 },
		func(r *Recipe) { r.Channels = 12 },
		func(r *Recipe) { r.PoolFactor = 2 },
		func(r *Recipe) { r.BatchSize = 0 },
		func(r *Recipe) { r.ModulationInit = "gaussian" },
		func(r *Recipe) { r.Activation = reconnet.Activation(9) },
	} {
		r := good
		mutate(&r)
		if r.Validate() == nil {
			t.Errorf("expected error for %+v", r)
		}
	}
	r := good
	r.WindowWidth = 0
	if err := r.Validate(); !errors.Is(err, reconnet.ErrInvalidWindowConfig) {
		t.Errorf("expected invalid window but got %v", err)
	}
}

func TestRegistrySerialize(t *testing.T) {
	c := anyvec32.DefaultCreator{}
	reg, err := NewRegistry(c, testRecipe())
	if err != nil {
		t.Fatal(err)
	}
	reg.Ensure(tiling.Coord{Row: 0, Col: 0}, tiling.Coord{Row: 1, Col: 0},
		tiling.Coord{Row: 0, Col: 3})

	data, err := serializer.SerializeAny(reg)
	if err != nil {
		t.Fatal(err)
	}
	var reg1 *Registry
	if err := serializer.DeserializeAny(data, &reg1); err != nil {
		t.Fatal(err)
	}
	if reg1.Recipe() != reg.Recipe() {
		t.Errorf("expected recipe %+v but got %+v", reg.Recipe(), reg1.Recipe())
	}
	if reg1.Creator() != reg.Creator() {
		t.Error("creator differs")
	}
	if !reflect.DeepEqual(reg1.Coords(), reg.Coords()) {
		t.Fatalf("expected coords %v but got %v", reg.Coords(), reg1.Coords())
	}
	for _, coord := range reg.Coords() {
		b, _ := reg.Lookup(coord)
		b1, _ := reg1.Lookup(coord)
		if !reflect.DeepEqual(b, b1) {
			t.Errorf("block %v differs", coord)
		}
	}

	empty, _ := NewRegistry(anyvec64.DefaultCreator{}, testRecipe())
	data, err = serializer.SerializeAny(empty)
	if err != nil {
		t.Fatal(err)
	}
	if err := serializer.DeserializeAny(data, &reg1); err != nil {
		t.Fatal(err)
	}
	if reg1.Len() != 0 || reg1.Creator() != empty.Creator() {
		t.Error("empty registry did not round trip")
	}
}
