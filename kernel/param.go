package kernel

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	PolicyRR      = "rr"
	PolicyMLFQ    = "mlfq"
	PolicyLottery = "lottery"
)

// Config sizes the simulated machine.
type Config struct {
	NProc    int    `yaml:"nproc" json:"nproc"`       // maximum number of processes
	NCPU     int    `yaml:"ncpu" json:"ncpu"`         // maximum number of CPUs
	NOFile   int    `yaml:"nofile" json:"nofile"`     // open files per process
	MemPages int    `yaml:"memPages" json:"memPages"` // physical pages in the arena
	Policy   string `yaml:"policy" json:"policy"`

	MLFQ    MLFQConfig    `yaml:"mlfq" json:"mlfq"`
	Lottery LotteryConfig `yaml:"lottery" json:"lottery"`

	// TickInterval drives the clock; zero leaves ticks to Kernel.Tick.
	TickInterval time.Duration `yaml:"tickInterval" json:"tickInterval"`
	// IdlePoll bounds how long an idle CPU waits before rescanning.
	IdlePoll time.Duration `yaml:"idlePoll" json:"idlePoll"`

	LogLevel string `yaml:"logLevel" json:"logLevel"`
}

// UnmarshalJSON accepts durations either as strings ("5ms") or as
// integer nanoseconds.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	aux := struct {
		*plain
		TickInterval any `json:"tickInterval"`
		IdlePoll     any `json:"idlePoll"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if err := decodeDuration("tickInterval", aux.TickInterval, &c.TickInterval); err != nil {
		return err
	}
	return decodeDuration("idlePoll", aux.IdlePoll, &c.IdlePoll)
}

func decodeDuration(name string, v any, out *time.Duration) error {
	switch v := v.(type) {
	case nil:
	case float64:
		*out = time.Duration(v)
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
		*out = d
	default:
		return fmt.Errorf("invalid %s: %v", name, v)
	}
	return nil
}

type MLFQConfig struct {
	Timeslices []int `yaml:"timeslices" json:"timeslices"`
	Aging      int   `yaml:"aging" json:"aging"`
}

type LotteryConfig struct {
	Seed uint32 `yaml:"seed" json:"seed"`
}

func DefaultConfig() *Config {
	return &Config{
		NProc:    64,
		NCPU:     3,
		NOFile:   16,
		MemPages: 2048,
		Policy:   PolicyRR,
		MLFQ: MLFQConfig{
			Timeslices: []int{1, 4, 8, 16},
			Aging:      10,
		},
		Lottery:      LotteryConfig{Seed: 1},
		TickInterval: 10 * time.Millisecond,
		IdlePoll:     time.Millisecond,
		LogLevel:     "INFO",
	}
}

func (c *Config) Validate() error {
	if c.NProc < 1 {
		return fmt.Errorf("nproc must be positive, got %d", c.NProc)
	}
	if c.NCPU < 1 {
		return fmt.Errorf("ncpu must be positive, got %d", c.NCPU)
	}
	if c.NOFile < 3 {
		return fmt.Errorf("nofile must leave room for the console descriptors, got %d", c.NOFile)
	}
	// kernel page table, trampoline and one stack per slot
	if minPages := c.NProc + 8; c.MemPages < minPages {
		return fmt.Errorf("memPages must be at least %d for %d processes, got %d", minPages, c.NProc, c.MemPages)
	}
	switch c.Policy {
	case PolicyRR, PolicyMLFQ, PolicyLottery:
	default:
		return fmt.Errorf("unknown scheduling policy %q", c.Policy)
	}
	if len(c.MLFQ.Timeslices) == 0 {
		return fmt.Errorf("mlfq needs at least one level")
	}
	for i, slice := range c.MLFQ.Timeslices {
		if slice < 1 {
			return fmt.Errorf("mlfq level %d timeslice must be positive, got %d", i, slice)
		}
	}
	if c.MLFQ.Aging < 1 {
		return fmt.Errorf("mlfq aging threshold must be positive, got %d", c.MLFQ.Aging)
	}
	if c.TickInterval < 0 {
		return fmt.Errorf("tickInterval must not be negative")
	}
	if c.IdlePoll <= 0 {
		return fmt.Errorf("idlePoll must be positive")
	}
	return nil
}
