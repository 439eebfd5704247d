// Package config loads the settings of the denoiser from a
// YAML file, with overrides from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/unixpickle/anyvec"
	"gopkg.in/yaml.v3"

	reconnet "github.com/teracamo/DeeplearningReconstruction"
	"github.com/teracamo/DeeplearningReconstruction/dataset"
	"github.com/teracamo/DeeplearningReconstruction/denoise"
	"github.com/teracamo/DeeplearningReconstruction/tileblock"
	"github.com/teracamo/DeeplearningReconstruction/tiling"
	"github.com/teracamo/DeeplearningReconstruction/train"
)

// Config holds every setting of the command line tool.
type Config struct {
	// Model describes the network created for a fresh
	// training run.
	// Loaded models keep the settings they were saved with.
	Model struct {
		WindowHeight int `yaml:"windowHeight"`
		WindowWidth  int `yaml:"windowWidth"`
		OverlapY     int `yaml:"overlapY"`
		OverlapX     int `yaml:"overlapX"`

		KernelSize     int    `yaml:"kernelSize"`
		Channels       int    `yaml:"channels"`
		BatchSize      int    `yaml:"batchSize"`
		Seed           uint32 `yaml:"seed"`
		ModulationInit string `yaml:"modulationInit"`
		Activation     string `yaml:"activation"`

		// Threshold is the absolute sum below which a window
		// batch skips its block.
		Threshold float64 `yaml:"threshold"`

		// Workers is the number of goroutines processing
		// tiles.
		Workers int `yaml:"workers"`
	} `yaml:"model"`

	// Data locates the slices.
	Data struct {
		Dir             string                  `yaml:"dir"`
		Window          dataset.IntensityWindow `yaml:"window"`
		ValidationRatio float64                 `yaml:"validationRatio"`
	} `yaml:"data"`

	// Train controls the optimization.
	Train struct {
		OutputDir          string  `yaml:"outputDir"`
		Epoch              int     `yaml:"epoch"`
		Steps              int     `yaml:"steps"`
		CheckpointInterval int     `yaml:"checkpointInterval"`
		Optimizer          string  `yaml:"optimizer"`
		LearningRate       float64 `yaml:"learningRate"`
		Momentum           float64 `yaml:"momentum"`
		Seed               uint32  `yaml:"seed"`
		MaxGos             int     `yaml:"maxGos"`

		// Cost is "smoothl1" or "mse".
		Cost string `yaml:"cost"`

		// L2Penalty adds an L2 term over every model
		// parameter when it is positive.
		L2Penalty float64 `yaml:"l2Penalty"`
	} `yaml:"train"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Model.WindowHeight = 32
	cfg.Model.WindowWidth = 32
	cfg.Model.OverlapY = 16
	cfg.Model.OverlapX = 16
	cfg.Model.KernelSize = 9
	cfg.Model.Channels = 16
	cfg.Model.BatchSize = 1
	cfg.Model.Seed = 1
	cfg.Model.ModulationInit = string(tileblock.ModulationZero)
	cfg.Model.Activation = reconnet.ReLU.String()
	cfg.Model.Threshold = tileblock.DefaultShortCircuitThreshold
	cfg.Model.Workers = runtime.NumCPU()

	cfg.Data.Dir = "data"
	cfg.Data.Window = dataset.DefaultWindow
	cfg.Data.ValidationRatio = 0.1

	cfg.Train.OutputDir = "output"
	cfg.Train.Epoch = -1
	cfg.Train.Steps = 1500
	cfg.Train.CheckpointInterval = 100
	cfg.Train.Optimizer = "momentum"
	cfg.Train.LearningRate = 1e-3
	cfg.Train.Momentum = 1e-3
	cfg.Train.Seed = 1
	cfg.Train.MaxGos = 0
	cfg.Train.Cost = "smoothl1"
	cfg.Train.L2Penalty = 0

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default
// configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// Environment variables which override configuration
// values.
const (
	EnvDataDir      = "TOMODENOISE_DATA_DIR"
	EnvOutputDir    = "TOMODENOISE_OUTPUT_DIR"
	EnvEpoch        = "TOMODENOISE_EPOCH"
	EnvSteps        = "TOMODENOISE_STEPS"
	EnvLearningRate = "TOMODENOISE_LEARNING_RATE"
	EnvOptimizer    = "TOMODENOISE_OPTIMIZER"
	EnvWorkers      = "TOMODENOISE_WORKERS"
)

// LoadEnv applies overrides from a .env file and from the
// process environment.
// Process variables take precedence over the file, which
// may be missing.
func (c *Config) LoadEnv(envPath string) error {
	env := map[string]string{}
	if _, err := os.Stat(envPath); err == nil {
		env, err = godotenv.Read(envPath)
		if err != nil {
			return fmt.Errorf("error reading env file: %w", err)
		}
	}
	for _, key := range []string{EnvDataDir, EnvOutputDir, EnvEpoch, EnvSteps,
		EnvLearningRate, EnvOptimizer, EnvWorkers} {
		if value, ok := os.LookupEnv(key); ok {
			env[key] = value
		}
	}
	return c.ApplyEnv(env)
}

// ApplyEnv applies overrides from a set of variables.
func (c *Config) ApplyEnv(env map[string]string) error {
	if v, ok := env[EnvDataDir]; ok {
		c.Data.Dir = v
	}
	if v, ok := env[EnvOutputDir]; ok {
		c.Train.OutputDir = v
	}
	if v, ok := env[EnvOptimizer]; ok {
		c.Train.Optimizer = v
	}
	for key, dest := range map[string]*int{
		EnvEpoch:   &c.Train.Epoch,
		EnvSteps:   &c.Train.Steps,
		EnvWorkers: &c.Model.Workers,
	} {
		if v, ok := env[key]; ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("error parsing %s: %w", key, err)
			}
			*dest = n
		}
	}
	if v, ok := env[EnvLearningRate]; ok {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("error parsing %s: %w", EnvLearningRate, err)
		}
		c.Train.LearningRate = rate
	}
	return nil
}

// Window returns the tiling window of the model settings.
func (c *Config) Window() tiling.Window {
	return tiling.Window{
		Height:   c.Model.WindowHeight,
		Width:    c.Model.WindowWidth,
		OverlapY: c.Model.OverlapY,
		OverlapX: c.Model.OverlapX,
	}
}

// Recipe returns the tile block recipe of the model
// settings.
func (c *Config) Recipe() tileblock.Recipe {
	r := tileblock.DefaultRecipe(c.Window(), c.Model.BatchSize)
	r.KernelSize = c.Model.KernelSize
	r.Channels = c.Model.Channels
	factor := 1
	for (factor+1)*(factor+1) <= c.Model.Channels {
		factor++
	}
	r.RegroupFactor = factor
	r.PoolFactor = factor
	r.Seed = c.Model.Seed
	r.ModulationInit = tileblock.ModulationInit(c.Model.ModulationInit)
	if a, err := reconnet.ParseActivation(c.Model.Activation); err == nil {
		r.Activation = a
	}
	return r
}

// Validate checks the settings used to build a model.
func (c *Config) Validate() error {
	if err := c.Window().Validate(); err != nil {
		return err
	}
	if _, err := reconnet.ParseActivation(c.Model.Activation); err != nil {
		return err
	}
	if err := c.Recipe().Validate(); err != nil {
		return err
	}
	if err := c.Data.Window.Validate(); err != nil {
		return err
	}
	switch c.Train.Optimizer {
	case "sgd", "momentum", "adam", "rmsprop":
	default:
		return fmt.Errorf("unknown optimizer %q", c.Train.Optimizer)
	}
	if _, err := c.Cost(); err != nil {
		return err
	}
	if c.Train.L2Penalty < 0 {
		return fmt.Errorf("negative L2 penalty %f", c.Train.L2Penalty)
	}
	if c.Data.ValidationRatio < 0 || c.Data.ValidationRatio >= 1 {
		return fmt.Errorf("validation ratio %f out of range", c.Data.ValidationRatio)
	}
	return nil
}

// NewModel creates an untrained model from the model
// settings.
func (c *Config) NewModel(cr anyvec.Creator) (*denoise.Model, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	m, err := denoise.NewModel(cr, c.Window(), c.Recipe())
	if err != nil {
		return nil, err
	}
	m.Processor.Threshold = c.Model.Threshold
	m.Workers = c.Model.Workers
	return m, nil
}

// Transformer creates the configured optimizer.
// Plain SGD has no transformer.
func (c *Config) Transformer() (train.Transformer, error) {
	switch c.Train.Optimizer {
	case "sgd":
		return nil, nil
	case "momentum":
		return &train.Momentum{Momentum: c.Train.Momentum}, nil
	case "adam":
		return &train.Adam{}, nil
	case "rmsprop":
		return &train.RMSProp{}, nil
	default:
		return nil, fmt.Errorf("unknown optimizer %q", c.Train.Optimizer)
	}
}

// Cost creates the configured training cost.
// The scale of a cost does not matter, since training
// divides it by the cost of the unprocessed input.
func (c *Config) Cost() (reconnet.Cost, error) {
	switch c.Train.Cost {
	case "smoothl1":
		return reconnet.SmoothL1{}, nil
	case "mse":
		return reconnet.MSE{}, nil
	default:
		return nil, fmt.Errorf("unknown cost %q", c.Train.Cost)
	}
}
