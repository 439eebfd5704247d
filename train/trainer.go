package train

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/unixpickle/essentials"
	"github.com/valyala/fastrand"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
	"github.com/teracamo/DeeplearningReconstruction/denoise"
)

// DefaultCheckpointInterval is the number of steps between
// checkpoints when none is configured.
const DefaultCheckpointInterval = 100

// CheckpointPath returns the path of the checkpoint saved
// while training an epoch.
func CheckpointPath(dir string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("checkpoint_E%03d", epoch))
}

// NetworkPath returns the path of the model saved at the
// end of an epoch.
func NetworkPath(dir string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("network_E%03d", epoch))
}

// Resume loads the model to continue training from.
//
// A finished epoch (network file) is preferred over a
// checkpoint of the same epoch.
// An epoch of -1 only looks for a checkpoint.
// If neither file exists, the result is nil.
func Resume(dir string, epoch int) (*denoise.Model, string, error) {
	var candidates []string
	if epoch != -1 {
		candidates = append(candidates, NetworkPath(dir, epoch))
	}
	candidates = append(candidates, CheckpointPath(dir, epoch))
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		m, err := denoise.LoadModel(path)
		if err != nil {
			return nil, "", essentials.AddCtx("resume", err)
		}
		return m, path, nil
	}
	return nil, "", nil
}

// MultiStopper is done as soon as any of its stoppers is.
type MultiStopper []Stopper

// Done asks every stopper, so that counting stoppers all
// advance.
func (m MultiStopper) Done() bool {
	var done bool
	for _, s := range m {
		if s.Done() {
			done = true
		}
	}
	return done
}

// A Trainer runs one training epoch of a denoising model,
// checkpointing as it goes.
type Trainer struct {
	Model       *denoise.Model
	Samples     PairList
	Transformer Transformer
	Rater       Rater

	// Cost and L2Penalty are passed to the Objective.
	Cost      reconnet.Cost
	L2Penalty float64

	// Dir is where checkpoints and the final model go.
	Dir string

	// Epoch is the epoch the model was resumed from.
	// Files written by Run are numbered Epoch+1.
	Epoch int

	// CheckpointInterval is the number of steps between
	// checkpoints.
	// If it is 0, DefaultCheckpointInterval is used.
	CheckpointInterval int

	// MaxGos limits the goroutines which load samples.
	MaxGos int

	// RNG, if non-nil, makes the sample order reproducible.
	RNG *fastrand.RNG

	// Logger receives status lines.
	// If nil, the standard logger is used.
	Logger *log.Logger

	// Losses records the loss of every step.
	Losses []float64
}

// A Summary describes a finished training run.
type Summary struct {
	Steps       int
	AverageLoss float64
	FinalLoss   float64
	Path        string
}

// Run trains until s is done, then saves the model.
func (t *Trainer) Run(s Stopper) (summary *Summary, err error) {
	defer essentials.AddCtxTo("train", &err)
	if err := os.MkdirAll(t.Dir, 0755); err != nil {
		return nil, err
	}
	t.Model.SetFrozen(false)

	obj := &Objective{
		Model:     t.Model,
		Cost:      t.Cost,
		L2Penalty: t.L2Penalty,
		MaxGos:    t.MaxGos,
	}
	checkpoint := CheckpointPath(t.Dir, t.Epoch+1)
	step := 0
	sgd := &SGD{
		Fetcher:     obj,
		Gradienter:  obj,
		Transformer: t.Transformer,
		Samples:     t.Samples,
		Rater:       t.Rater,
		BatchSize:   t.Model.BatchSize(),
		FullBatches: true,
		RNG:         t.RNG,
		StepFunc: func(batch SampleList) error {
			t.printf("[Step %03d] Loss: %.05f", step, obj.LastCost)
			t.Losses = append(t.Losses, obj.LastCost)
			if step%t.checkpointInterval() == 0 {
				if err := t.Model.Save(checkpoint); err != nil {
					return err
				}
			}
			step++
			return nil
		},
	}
	if err := sgd.Run(s); err != nil {
		return nil, err
	}

	summary = &Summary{Steps: step, Path: NetworkPath(t.Dir, t.Epoch+1)}
	if step > 0 {
		recent := t.Losses[len(t.Losses)-step:]
		for _, l := range recent {
			summary.AverageLoss += l
		}
		summary.AverageLoss /= float64(step)
		summary.FinalLoss = recent[step-1]
	}
	t.printf("======================= End train epoch %03d =======================", t.Epoch+1)
	t.printf("average loss: %f", summary.AverageLoss)
	t.printf("final loss: %f", summary.FinalLoss)

	if err := t.Model.Save(summary.Path); err != nil {
		return nil, err
	}
	return summary, nil
}

func (t *Trainer) checkpointInterval() int {
	if t.CheckpointInterval <= 0 {
		return DefaultCheckpointInterval
	}
	return t.CheckpointInterval
}

func (t *Trainer) printf(format string, args ...interface{}) {
	if t.Logger == nil {
		log.Printf(format, args...)
	} else {
		t.Logger.Printf(format, args...)
	}
}
