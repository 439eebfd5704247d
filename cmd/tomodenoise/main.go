// Command tomodenoise trains and applies the tomographic
// residual denoiser.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/unixpickle/anyvec/anyvec32"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/rip"
	"github.com/valyala/fastrand"

	"github.com/teracamo/DeeplearningReconstruction/config"
	"github.com/teracamo/DeeplearningReconstruction/dataset"
	"github.com/teracamo/DeeplearningReconstruction/denoise"
	"github.com/teracamo/DeeplearningReconstruction/train"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd, args := os.Args[1], os.Args[2:]

	var configPath, envPath string
	flags := flag.NewFlagSet(cmd, flag.ExitOnError)
	flags.StringVar(&configPath, "config", "config.yaml", "YAML configuration file")
	flags.StringVar(&envPath, "env", ".env", "file with environment overrides")

	switch cmd {
	case "train":
		flags.Parse(args)
		runTrain(loadConfig(configPath, envPath))
	case "eval":
		var modelPath string
		flags.StringVar(&modelPath, "model", "", "saved model (defaults to the last epoch)")
		flags.Parse(args)
		runEval(loadConfig(configPath, envPath), modelPath)
	case "apply":
		var modelPath, caseDir, outPath string
		flags.StringVar(&modelPath, "model", "", "saved model")
		flags.StringVar(&caseDir, "case", "", "case directory with low and high images")
		flags.StringVar(&outPath, "out", "denoised.png", "output image")
		flags.Parse(args)
		if modelPath == "" || caseDir == "" {
			essentials.Die("apply: -model and -case are required")
		}
		runApply(loadConfig(configPath, envPath), modelPath, caseDir, outPath)
	case "init-config":
		flags.Parse(args)
		if err := config.SaveConfig(config.DefaultConfig(), configPath); err != nil {
			essentials.Die(err)
		}
		log.Println("Wrote", configPath)
	default:
		usage()
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: tomodenoise <train | eval | apply | init-config> [flags]")
	os.Exit(1)
}

func loadConfig(path, envPath string) *config.Config {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		essentials.Die(err)
	}
	if err := cfg.LoadEnv(envPath); err != nil {
		essentials.Die(err)
	}
	if err := cfg.Validate(); err != nil {
		essentials.Die(err)
	}
	return cfg
}

func runTrain(cfg *config.Config) {
	log.Println("Loading dataset...")
	list, err := dataset.LoadList(cfg.Data.Dir, cfg.Data.Window, true)
	if err != nil {
		essentials.Die(err)
	}
	validation, training := list.Split(cfg.Data.ValidationRatio)
	log.Printf("Found %d training and %d validation cases.", training.Len(), validation.Len())
	if training.Len() == 0 {
		essentials.Die("no training cases in", cfg.Data.Dir)
	}

	model, path, err := train.Resume(cfg.Train.OutputDir, cfg.Train.Epoch)
	if err != nil {
		essentials.Die(err)
	}
	if model == nil {
		log.Println("Creating new model...")
		model, err = cfg.NewModel(anyvec32.CurrentCreator())
		if err != nil {
			essentials.Die(err)
		}
	} else {
		log.Println("Resuming from", path)
		model.Workers = cfg.Model.Workers
	}

	transformer, err := cfg.Transformer()
	if err != nil {
		essentials.Die(err)
	}
	cost, err := cfg.Cost()
	if err != nil {
		essentials.Die(err)
	}
	var rng fastrand.RNG
	rng.Seed(cfg.Train.Seed)
	trainer := &train.Trainer{
		Model:              model,
		Samples:            training,
		Transformer:        transformer,
		Rater:              train.ConstRater(cfg.Train.LearningRate),
		Cost:               cost,
		L2Penalty:          cfg.Train.L2Penalty,
		Dir:                cfg.Train.OutputDir,
		Epoch:              cfg.Train.Epoch,
		CheckpointInterval: cfg.Train.CheckpointInterval,
		MaxGos:             cfg.Train.MaxGos,
		RNG:                &rng,
	}

	log.Println("Press ctrl+c once to stop...")
	r := rip.NewRIP()
	summary, err := trainer.Run(train.MultiStopper{r, &train.StepStopper{Remaining: cfg.Train.Steps}})
	r.Close()
	if err != nil {
		essentials.Die(err)
	}
	log.Println("Saved", summary.Path)

	if validation.Len() > 0 {
		evaluate(cfg, model, validation)
	}
}

func runEval(cfg *config.Config, modelPath string) {
	if modelPath == "" {
		modelPath = train.NetworkPath(cfg.Train.OutputDir, cfg.Train.Epoch+1)
	}
	model := loadModel(cfg, modelPath)
	list, err := dataset.LoadList(cfg.Data.Dir, cfg.Data.Window, true)
	if err != nil {
		essentials.Die(err)
	}
	evaluate(cfg, model, list)
}

func runApply(cfg *config.Config, modelPath, caseDir, outPath string) {
	model := loadModel(cfg, modelPath)
	model.SetFrozen(true)
	c, err := dataset.FindCase(caseDir)
	if err != nil {
		essentials.Die(err)
	}
	sample, err := c.Load(cfg.Data.Window)
	if err != nil {
		essentials.Die(err)
	}
	outputs, err := train.Predict(model, []*train.Sample{sample})
	if err != nil {
		essentials.Die(err)
	}
	err = dataset.WriteSlice(outPath, outputs[0], sample.Height, sample.Width, cfg.Data.Window)
	if err != nil {
		essentials.Die(err)
	}
	log.Println("Wrote", outPath)
}

func loadModel(cfg *config.Config, path string) *denoise.Model {
	log.Println("Loading model", path)
	model, err := denoise.LoadModel(path)
	if err != nil {
		essentials.Die(err)
	}
	model.Workers = cfg.Model.Workers
	return model
}

func evaluate(cfg *config.Config, model *denoise.Model, list *dataset.List) {
	log.Printf("Evaluating %d cases...", list.Len())
	eval, err := train.Evaluate(model, list, cfg.Data.Window.Range())
	if err != nil {
		essentials.Die(err)
	}
	log.Println("======================= End Eval =======================")
	log.Printf("average loss: %f (input: %f)", eval.Loss, eval.Baseline)
	log.Println("output:", eval.Output)
	log.Println("input: ", eval.Input)
}
