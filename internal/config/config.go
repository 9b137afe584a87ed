package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"multitask-eval/internal/model"
)

// Config captures the runtime knobs for an evaluation run.
type Config struct {
	DevDataDir    string `yaml:"dev_data_dir"`
	OutputDir     string `yaml:"output_dir"`
	BatchSize     int    `yaml:"per_gpu_eval_batch_size"`
	BufferSize    int    `yaml:"buffer_size"`
	NumWorkers    int    `yaml:"num_workers"`
	TaskLevelType string `yaml:"pretrain_task_level_type"`
	LocalRank     int    `yaml:"local_rank"`
	Device        string `yaml:"device"`
	Header        bool   `yaml:"header"`
	DebugDir      string `yaml:"debug_dir"`
	LogEvery      int    `yaml:"log_every"`

	ComputeMetrics bool `yaml:"compute_metrics"`

	Gene    *model.GroupTasks `yaml:"gene"`
	Protein *model.GroupTasks `yaml:"protein"`
	Pair    *model.GroupTasks `yaml:"pair"`
}

// Overrides captures CLI supplied values. Zero values leave the config as is.
type Overrides struct {
	DevDataDir string
	OutputDir  string
	BatchSize  int
	BufferSize int
	NumWorkers int
	LocalRank  *int
	Device     string
	DebugDir   string
	LogEvery   int
}

// Default returns the values used for keys absent from the YAML file.
func Default() *Config {
	return &Config{
		BufferSize:    16,
		NumWorkers:    1,
		TaskLevelType: "all",
		LocalRank:     -1,
		Device:        "cpu",
		Header:        true,
		DebugDir:      ".",
		LogEvery:      50,
	}
}

// Load reads and validates a Config from YAML.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML on top of Default. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DevDataDir != "" {
		c.DevDataDir = o.DevDataDir
	}
	if o.OutputDir != "" {
		c.OutputDir = o.OutputDir
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.BufferSize > 0 {
		c.BufferSize = o.BufferSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.LocalRank != nil {
		c.LocalRank = *o.LocalRank
	}
	if o.Device != "" {
		c.Device = o.Device
	}
	if o.DebugDir != "" {
		c.DebugDir = o.DebugDir
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
}

// Validate verifies the config is runnable and fills optional defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.DevDataDir == "" {
		return errors.New("dev_data_dir must be set")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir must be set")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("per_gpu_eval_batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer_size must be > 0 (got %d)", c.BufferSize)
	}
	if c.LocalRank < -1 {
		return fmt.Errorf("local_rank must be >= -1 (got %d)", c.LocalRank)
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = 1
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 50
	}
	if c.DebugDir == "" {
		c.DebugDir = "."
	}
	if c.TaskLevelType == "" {
		c.TaskLevelType = "all"
	}
	tasks := c.Tasks()
	if len(tasks) == 0 {
		return errors.New("at least one of gene, protein or pair must be configured")
	}
	if err := tasks.Validate(); err != nil {
		return fmt.Errorf("tasks: %w", err)
	}
	if len(c.ActiveTasks()) == 0 {
		return fmt.Errorf("pretrain_task_level_type %q matches no configured task", c.TaskLevelType)
	}
	return nil
}

// Tasks returns the configured task groups.
func (c *Config) Tasks() model.Tasks {
	tasks := model.Tasks{}
	for g, gt := range map[model.Group]*model.GroupTasks{
		model.GroupGene:    c.Gene,
		model.GroupProtein: c.Protein,
		model.GroupPair:    c.Pair,
	} {
		if gt != nil && len(gt.LabelSize) > 0 {
			tasks[g] = gt
		}
	}
	return tasks
}

// ActiveTasks returns the tasks evaluated in this run: Tasks restricted to
// TaskLevelType.
func (c *Config) ActiveTasks() model.Tasks {
	return c.Tasks().ForLevel(c.TaskLevelType)
}

// Primary reports whether this process owns shared directories.
func (c *Config) Primary() bool {
	return c.LocalRank == -1 || c.LocalRank == 0
}
