package util

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// LogProgressFunc adds to the progress. Safe for concurrent use; negative
// values are ignored.
type LogProgressFunc func(add int)

// LogProgress returns a function that logs the progress towards total every
// time another tenth of it is reached.
func LogProgress(log zerolog.Logger, msg string, total int) LogProgressFunc {
	start := time.Now()
	var current atomic.Uint64
	var mu sync.Mutex

	const ticks = 10
	step := uint64(total) / ticks
	if step == 0 {
		step = 1
	}

	logAt := func(value uint64) {
		mu.Lock()
		defer mu.Unlock()

		percentage := float64(100)
		if total > 0 {
			percentage = float64(value) / float64(total) * 100
		}
		log.Info().
			Uint64("current", value).
			Int("total", total).
			Float64("percent", percentage).
			Dur("elapsed", time.Since(start).Round(time.Second)).
			Msg(msg)
	}

	logAt(0)
	return func(add int) {
		if add <= 0 {
			return
		}
		diff := uint64(add)
		value := current.Add(diff)
		for t := (value - diff) / step; t < value/step; t++ {
			logAt((t + 1) * step)
		}
	}
}
