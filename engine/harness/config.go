package harness

import (
	"fmt"
	"time"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
)

const (
	DefaultQueueCapacity    = 10_000
	DefaultFailureThreshold = 0.10
)

// Config parameterizes one run.
type Config struct {
	Duration time.Duration
	Workers  int
	TPS      float64
	// MaxItems caps the number of generated items; 0 bounds the run by
	// Duration only.
	MaxItems      uint64
	QueueCapacity int
	// Kinds weights the item kinds. Empty means every kind with equal weight.
	Kinds     map[load.Kind]float64
	Scenarios []load.Scenario

	SampleInterval  time.Duration
	PushTimeout     time.Duration
	ShutdownTimeout time.Duration
	ItemTimeout     time.Duration

	// FailureThreshold is the failed ratio above which a run fails. The
	// adaptive adjuster backs off above it as well.
	FailureThreshold float64
	Adaptive         bool
	AdjustInterval   time.Duration
	MaxTPS           float64

	// Probes lists the security probes to run once the load is over. Nil
	// skips probing, an empty non-nil list runs every probe.
	Probes       []string
	ProbeWorkers int

	AdminAddr           string
	JournalDir          string
	JournalValueLogSize int64
}

func DefaultConfig() Config {
	return Config{
		Duration:         10 * time.Second,
		Workers:          10,
		TPS:              100,
		QueueCapacity:    DefaultQueueCapacity,
		SampleInterval:   time.Second,
		FailureThreshold: DefaultFailureThreshold,
		ProbeWorkers:     4,
	}
}

func (c Config) validate() error {
	switch {
	case c.Duration <= 0:
		return fmt.Errorf("duration must be positive, got %s", c.Duration)
	case c.Workers <= 0:
		return fmt.Errorf("worker count must be positive, got %d", c.Workers)
	case c.TPS <= 0:
		return fmt.Errorf("target tps must be positive, got %v", c.TPS)
	case c.QueueCapacity <= 0:
		return fmt.Errorf("queue capacity must be positive, got %d", c.QueueCapacity)
	case c.FailureThreshold < 0 || c.FailureThreshold > 1:
		return fmt.Errorf("failure threshold must be in [0, 1], got %v", c.FailureThreshold)
	case c.MaxTPS < 0:
		return fmt.Errorf("max tps must not be negative, got %v", c.MaxTPS)
	}
	return nil
}

// Failed reports whether result exceeds the failure threshold.
func (c Config) Failed(result *load.RunResult) bool {
	return result.FailedRatio() > c.FailureThreshold
}
