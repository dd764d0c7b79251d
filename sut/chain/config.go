package chain

import (
	"fmt"
	"time"
)

// DefaultLatencies are the block confirmation times of the simulated chains.
var DefaultLatencies = map[string]time.Duration{
	"ethereum":  12 * time.Second,
	"polygon":   2 * time.Second,
	"avalanche": 2 * time.Second,
	"bsc":       3 * time.Second,
	"solana":    400 * time.Millisecond,
}

// DefaultChains are the chains simulated when none are configured.
var DefaultChains = []string{"ethereum", "polygon", "avalanche", "bsc"}

// Config calibrates the simulated network. Probabilities are calibration
// knobs of the simulation, not properties of real chains.
type Config struct {
	Chains []string
	// Latencies overrides DefaultLatencies per chain.
	Latencies map[string]time.Duration
	// TimeScale scales every simulated latency; 0.001 turns 12s into 12ms.
	TimeScale float64
	// Jitter is the fraction of the latency added as random jitter.
	Jitter float64
	// SuccessRate is the probability that a send succeeds on a healthy chain.
	SuccessRate float64
	// ConnectSuccessRate is the probability that a single connect attempt succeeds.
	ConnectSuccessRate float64
	// ConnectAttempts bounds the retries of Connect.
	ConnectAttempts uint64
	// ConnectBackoff is the initial backoff between connect attempts.
	ConnectBackoff time.Duration
	// ReceiptCacheSize bounds the number of receipts kept for lookup.
	ReceiptCacheSize int
}

func DefaultConfig() Config {
	return Config{
		Chains:             DefaultChains,
		TimeScale:          0.001,
		Jitter:             0.1,
		SuccessRate:        0.95,
		ConnectSuccessRate: 0.95,
		ConnectAttempts:    5,
		ConnectBackoff:     5 * time.Millisecond,
		ReceiptCacheSize:   10_000,
	}
}

func (c Config) validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain is required")
	}
	if c.TimeScale < 0 {
		return fmt.Errorf("time scale must not be negative")
	}
	if c.SuccessRate < 0 || c.SuccessRate > 1 {
		return fmt.Errorf("success rate must be in [0, 1], got %v", c.SuccessRate)
	}
	if c.ConnectSuccessRate < 0 || c.ConnectSuccessRate > 1 {
		return fmt.Errorf("connect success rate must be in [0, 1], got %v", c.ConnectSuccessRate)
	}
	if c.ConnectAttempts == 0 {
		return fmt.Errorf("connect attempts must be positive")
	}
	if c.ConnectBackoff <= 0 {
		return fmt.Errorf("connect backoff must be positive")
	}
	if c.ReceiptCacheSize <= 0 {
		return fmt.Errorf("receipt cache size must be positive")
	}
	return nil
}

func (c Config) latency(chain string) time.Duration {
	if d, ok := c.Latencies[chain]; ok {
		return d
	}
	if d, ok := DefaultLatencies[chain]; ok {
		return d
	}
	return time.Second
}
