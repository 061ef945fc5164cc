package sched

import (
	"fmt"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
)

// Placements name the three schedulable domains a task can be spawned into.
const (
	PlaceCore0     = "core0"     // core A, cooperative
	PlaceInterrupt = "core0-int" // core A, interrupt context
	PlaceCore1     = "core1"     // core B, cooperative
)

// Config mirrors config.yml
type Config struct {
	SecondCoreStack   int          `yaml:"second_core_stack"`  // 8192 (by default)
	TaskSlots         int          `yaml:"task_slots"`         // 4 (by default), per executor
	InterruptPriority int          `yaml:"interrupt_priority"` // 2 (by default)
	Tasks             []TaskConfig `yaml:"tasks"`
}

// TaskConfig describes one looper task.
type TaskConfig struct {
	Name        string `yaml:"name"`
	Place       string `yaml:"place"`
	RateUS      int64  `yaml:"rate_us"`
	DelayUS     int64  `yaml:"delay_us"`
	LogPeriodUS int64  `yaml:"log_period_us"` // 0 means one second plus the rate
}

// Rate is the work ticker period.
func (t TaskConfig) Rate() time.Duration { return time.Duration(t.RateUS) * time.Microsecond }

// Delay is the extra suspension after each work tick.
func (t TaskConfig) Delay() time.Duration { return time.Duration(t.DelayUS) * time.Microsecond }

// LogPeriod is the logging ticker period.
func (t TaskConfig) LogPeriod() time.Duration {
	if t.LogPeriodUS <= 0 {
		return time.Second + t.Rate()
	}
	return time.Duration(t.LogPeriodUS) * time.Microsecond
}

// DefaultConfig is the three-domain setup: an interrupt task and a
// cooperative task on core A and a cooperative task on core B.
func DefaultConfig() Config {
	return Config{
		SecondCoreStack:   8192,
		TaskSlots:         4,
		InterruptPriority: 2,
		Tasks: []TaskConfig{
			{Name: "int  ", Place: PlaceInterrupt, RateUS: 1_000, DelayUS: 5_000},
			{Name: "core0", Place: PlaceCore0, RateUS: 500, DelayUS: 4_000},
			{Name: "core1", Place: PlaceCore1, RateUS: 8_000, DelayUS: 47},
		},
	}
}

// Load reads YAML and overrides defaults; empty path = defaults only
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// sanity clamps
	if cfg.SecondCoreStack <= 0 {
		cfg.SecondCoreStack = 8192
	}
	if cfg.TaskSlots <= 0 {
		cfg.TaskSlots = 4
	}
	if cfg.InterruptPriority < 0 || cfg.InterruptPriority > 254 {
		cfg.InterruptPriority = 2
	}

	return cfg, cfg.Validate()
}

// Validate checks the task list.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task %d: empty name", i)
		}
		if seen[t.Name] {
			return fmt.Errorf("task %q: duplicate name", t.Name)
		}
		seen[t.Name] = true

		switch t.Place {
		case PlaceCore0, PlaceInterrupt, PlaceCore1:
		default:
			return fmt.Errorf("task %q: unknown place %q", t.Name, t.Place)
		}
		if t.RateUS <= 0 {
			return fmt.Errorf("task %q: rate_us must be > 0", t.Name)
		}
		if t.DelayUS < 0 {
			return fmt.Errorf("task %q: delay_us must be >= 0", t.Name)
		}
	}
	return nil
}

// TasksFor returns the tasks placed in one domain, in file order.
func (c Config) TasksFor(place string) []TaskConfig {
	var out []TaskConfig
	for _, t := range c.Tasks {
		if t.Place == place {
			out = append(out, t)
		}
	}
	return out
}
