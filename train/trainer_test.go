package train

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/valyala/fastrand"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
	"github.com/teracamo/DeeplearningReconstruction/denoise"
	"github.com/teracamo/DeeplearningReconstruction/tileblock"
	"github.com/teracamo/DeeplearningReconstruction/tiling"
)

var testWindow = tiling.Window{Height: 8, Width: 8, OverlapY: 4, OverlapX: 4}

func testModel(t *testing.T, batch int, init tileblock.ModulationInit) *denoise.Model {
	recipe := tileblock.DefaultRecipe(testWindow, batch)
	recipe.ModulationInit = init
	m, err := denoise.NewModel(anyvec32.DefaultCreator{}, testWindow, recipe)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func syntheticSample(rng *fastrand.RNG, name string, h, w int) *Sample {
	noise := func(scale float64) float64 {
		return scale * (float64(rng.Uint32n(1000))/1000 - 0.5)
	}
	s := &Sample{Name: name, Height: h, Width: w}
	for i := 0; i < h*w; i++ {
		truth := float64((i/w+i%w)%7) / 7
		s.Truth = append(s.Truth, truth)
		s.High = append(s.High, truth+noise(0.2))
		s.Low = append(s.Low, truth+noise(0.6))
	}
	return s
}

func syntheticSamples(n int, sizes ...[2]int) SliceSampleList {
	var rng fastrand.RNG
	rng.Seed(42)
	var res SliceSampleList
	for i := 0; i < n; i++ {
		size := sizes[i%len(sizes)]
		res = append(res, syntheticSample(&rng, fmt.Sprintf("slice%d", i), size[0], size[1]))
	}
	return res
}

func TestObjectiveFetch(t *testing.T) {
	obj := &Objective{Model: testModel(t, 2, tileblock.ModulationUniform)}
	samples := syntheticSamples(3, [2]int{16, 16})

	batch, err := obj.Fetch(samples.Slice(0, 2))
	if err != nil {
		t.Fatal(err)
	}
	b := batch.(*SliceBatch)
	if b.High.Num != 2 || b.High.Height != 16 || b.High.Width != 16 {
		t.Errorf("unexpected batch shape %dx%dx%d", b.High.Num, b.High.Height, b.High.Width)
	}
	if b.Names[1] != "slice1" {
		t.Errorf("unexpected names %v", b.Names)
	}

	if _, err := obj.Fetch(samples); !errors.Is(err, reconnet.ErrShapeMismatch) {
		t.Errorf("expected shape mismatch but got %v", err)
	}
	mixed := SliceSampleList{samples[0], syntheticSamples(1, [2]int{12, 16})[0]}
	if _, err := obj.Fetch(mixed); !errors.Is(err, reconnet.ErrShapeMismatch) {
		t.Errorf("expected shape mismatch but got %v", err)
	}
	broken := SliceSampleList{samples[0], {Name: "broken", Height: 16, Width: 16}}
	if _, err := obj.Fetch(broken); err == nil {
		t.Error("expected error for missing pixels")
	}
}

func TestObjectiveGradient(t *testing.T) {
	obj := &Objective{Model: testModel(t, 1, tileblock.ModulationUniform)}
	samples := syntheticSamples(1, [2]int{16, 16})
	batch, err := obj.Fetch(samples)
	if err != nil {
		t.Fatal(err)
	}
	grad, err := obj.Gradient(batch)
	if err != nil {
		t.Fatal(err)
	}
	params := obj.Model.Parameters()
	if len(grad) != len(params) {
		t.Fatalf("expected %d gradient entries but got %d", len(params), len(grad))
	}
	for _, p := range params {
		if _, ok := grad[p]; !ok {
			t.Fatal("gradient is missing a parameter")
		}
	}
	if math.IsNaN(obj.LastCost) || obj.LastCost <= 0 {
		t.Errorf("unexpected loss %f", obj.LastCost)
	}
}

func TestObjectiveZeroModulationLoss(t *testing.T) {
	obj := &Objective{Model: testModel(t, 1, tileblock.ModulationZero)}
	batch, err := obj.Fetch(syntheticSamples(1, [2]int{16, 16}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := obj.Gradient(batch); err != nil {
		t.Fatal(err)
	}
	// The untrained model returns the high quality input.
	if math.Abs(obj.LastCost-1) > 1e-4 {
		t.Errorf("expected loss ratio 1 but got %f", obj.LastCost)
	}
}

func TestObjectiveCosts(t *testing.T) {
	samples := syntheticSamples(1, [2]int{16, 16})
	for _, cost := range []reconnet.Cost{reconnet.SmoothL1{}, reconnet.MSE{}} {
		obj := &Objective{Model: testModel(t, 1, tileblock.ModulationZero), Cost: cost}
		batch, err := obj.Fetch(samples)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := obj.Gradient(batch); err != nil {
			t.Fatal(err)
		}
		if math.Abs(obj.LastCost-1) > 1e-4 {
			t.Errorf("%T: expected loss ratio 1 but got %f", cost, obj.LastCost)
		}
	}
}

func TestObjectiveL2Penalty(t *testing.T) {
	const penalty = 1e-2
	obj := &Objective{Model: testModel(t, 1, tileblock.ModulationZero), L2Penalty: penalty}
	batch, err := obj.Fetch(syntheticSamples(1, [2]int{16, 16}))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := obj.Gradient(batch); err != nil {
		t.Fatal(err)
	}

	b := batch.(*SliceBatch)
	c := b.High.Data.Output().Creator()
	baseline := reconnet.SmoothL1{}.Cost(b.Truth.Data, b.High.Data, 1).Output()
	var sumSq float64
	for _, p := range obj.Model.Parameters() {
		sumSq += c.Float64(p.Vector.Dot(p.Vector))
	}
	expected := 1 + penalty/2*sumSq/c.Float64(anyvec.Sum(baseline))
	if expected <= 1 {
		t.Fatal("model has no weights to penalize")
	}
	if math.Abs(obj.LastCost-expected) > 1e-3*expected {
		t.Errorf("expected loss %f but got %f", expected, obj.LastCost)
	}
}

func TestTrainerRun(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	var rng fastrand.RNG
	rng.Seed(3)
	trainer := &Trainer{
		Model:              testModel(t, 1, tileblock.ModulationZero),
		Samples:            syntheticSamples(4, [2]int{16, 16}, [2]int{24, 16}),
		Transformer:        &Adam{},
		Rater:              ConstRater(1e-3),
		Dir:                dir,
		CheckpointInterval: 2,
		RNG:                &rng,
		Logger:             log.New(&buf, "", 0),
	}
	summary, err := trainer.Run(&StepStopper{Remaining: 5})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Steps != 5 || len(trainer.Losses) != 5 {
		t.Fatalf("expected 5 steps but got %d (%d losses)", summary.Steps, len(trainer.Losses))
	}
	if summary.FinalLoss != trainer.Losses[4] {
		t.Error("incorrect final loss")
	}
	if trainer.Model.Registry.Len() != 15 {
		t.Errorf("expected blocks for both image sizes but got %d", trainer.Model.Registry.Len())
	}

	for _, path := range []string{CheckpointPath(dir, 1), NetworkPath(dir, 1)} {
		if _, err := os.Stat(path); err != nil {
			t.Error(err)
		}
	}
	for _, line := range []string{"[Step 000] Loss:", "[Step 004] Loss:",
		"End train epoch 001", "average loss:", "final loss:"} {
		if !strings.Contains(buf.String(), line) {
			t.Errorf("log is missing %q", line)
		}
	}

	m, path, err := Resume(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if path != NetworkPath(dir, 1) || m == nil {
		t.Fatalf("expected to resume from %s but got %q", NetworkPath(dir, 1), path)
	}
	if m.Registry.Len() != 15 {
		t.Errorf("resumed model has %d blocks", m.Registry.Len())
	}

	os.Remove(NetworkPath(dir, 1))
	_, path, err = Resume(dir, 1)
	if err != nil {
		t.Fatal(err)
	}
	if path != CheckpointPath(dir, 1) {
		t.Errorf("expected checkpoint but got %q", path)
	}

	m, path, err = Resume(dir, 7)
	if err != nil || m != nil || path != "" {
		t.Errorf("expected nothing to resume but got %q, %v", path, err)
	}
}

func TestMultiStopper(t *testing.T) {
	s1 := &StepStopper{Remaining: 1}
	s2 := &StepStopper{Remaining: 3}
	m := MultiStopper{s1, s2}
	if m.Done() {
		t.Fatal("stopped too early")
	}
	if !m.Done() {
		t.Fatal("did not stop")
	}
	if s2.Remaining != 1 {
		t.Errorf("expected every stopper to advance, got %d", s2.Remaining)
	}
}

func TestEvaluate(t *testing.T) {
	m := testModel(t, 2, tileblock.ModulationZero)
	samples := syntheticSamples(3, [2]int{16, 16})

	outputs, err := Predict(m, samples)
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 3 {
		t.Fatalf("expected 3 outputs but got %d", len(outputs))
	}

	eval, err := Evaluate(m, samples, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(eval.PerSlice) != 3 {
		t.Fatalf("expected 3 reports but got %d", len(eval.PerSlice))
	}
	// An untrained model returns its high quality input.
	if math.Abs(eval.Loss-eval.Baseline) > 1e-6 {
		t.Errorf("loss %f differs from baseline %f", eval.Loss, eval.Baseline)
	}
	if math.Abs(eval.Output.SSIM-eval.Input.SSIM) > 1e-6 {
		t.Errorf("SSIM %f differs from input SSIM %f", eval.Output.SSIM, eval.Input.SSIM)
	}
	if eval.Loss <= 0 {
		t.Errorf("unexpected loss %f", eval.Loss)
	}
}
