package sut

import (
	"math/rand"
	"sync"
	"time"
)

// Dice is a mutex guarded random source shared by the goroutines of a
// simulated protocol. A fixed seed makes single-threaded tests repeatable.
type Dice struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewDice(seed int64) *Dice {
	return &Dice{rng: rand.New(rand.NewSource(seed))}
}

// Chance returns true with probability p.
func (d *Dice) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Float64() < p
}

// Intn returns a uniform integer in [0, n).
func (d *Dice) Intn(n int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Intn(n)
}

// Float64 returns a uniform value in [0, 1).
func (d *Dice) Float64() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rng.Float64()
}

// Jitter returns a duration uniformly drawn from [0, max).
func (d *Dice) Jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Duration(d.rng.Int63n(int64(max)))
}
