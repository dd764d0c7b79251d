package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"
)

// Pusher periodically pushes the metrics of a run to a prometheus
// pushgateway, and once more when the run ends.
type Pusher struct {
	log      zerolog.Logger
	pusher   *push.Pusher
	interval time.Duration
}

func NewPusher(log zerolog.Logger, url string, job string, gatherer prometheus.Gatherer, interval time.Duration) *Pusher {
	return &Pusher{
		log:      log.With().Str("component", "metrics_pusher").Str("url", url).Logger(),
		pusher:   push.New(url, job).Gatherer(gatherer),
		interval: interval,
	}
}

// Run pushes every interval until ctx is done, then pushes a final time.
func (p *Pusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return p.Push(context.Background())
		case <-ticker.C:
			err := p.Push(ctx)
			if err != nil {
				p.log.Warn().Err(err).Msg("could not push metrics")
			}
		}
	}
}

func (p *Pusher) Push(ctx context.Context) error {
	err := p.pusher.PushContext(ctx)
	if err != nil {
		return fmt.Errorf("could not push metrics: %w", err)
	}
	return nil
}
