package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/harness"
	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/aggregator"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/metrics"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/trace"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/rollup"
)

const pushInterval = 5 * time.Second

func newRunCmd() *cobra.Command {
	var configFile string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run load, scenarios and probes against the simulated rollup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}
			var cfg Config
			err = decode(v, configFile, &cfg)
			if err != nil {
				return err
			}
			return run(cmd.Context(), log, cfg, cmd.OutOrStdout())
		},
	}
	addRunFlags(cmd.Flags())
	cmd.Flags().StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	return cmd
}

func run(ctx context.Context, log zerolog.Logger, cfg Config, stdout io.Writer) error {
	if cfg.Profile != "" {
		defer profile.Start(profileMode(cfg.Profile), profile.ProfilePath("."), profile.NoShutdownHook).Stop()
	}

	r, err := rollup.New(log, cfg.rollupConfig())
	if err != nil {
		return fmt.Errorf("could not create rollup: %w", err)
	}
	scenarios, err := cfg.scenarios(r)
	if err != nil {
		return err
	}
	hcfg, err := cfg.harnessConfig(scenarios)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	opts := []harness.Option{
		harness.WithMetrics(metrics.NewHarnessCollector(registry)),
		harness.WithRegisterer(registry),
	}
	if cfg.MetricsPort > 0 {
		server, err := metrics.NewServer(log, cfg.MetricsPort, registry, cfg.Profile != "")
		if err != nil {
			return err
		}
		<-server.Ready()
		defer func() {
			<-server.Done()
		}()
	}
	if cfg.PushGateway != "" {
		opts = append(opts, harness.WithPusher(metrics.NewPusher(log, cfg.PushGateway, "loadtest", registry, pushInterval)))
	}
	if cfg.TraceEndpoint != "" {
		tracer, err := trace.NewTracer(log, "loadtest", cfg.TraceEndpoint, trace.DefaultSamplingRate)
		if err != nil {
			return err
		}
		<-tracer.Ready()
		defer func() {
			<-tracer.Done()
		}()
		opts = append(opts, harness.WithTracer(tracer))
	}
	if cfg.Progress {
		bar := newProgressBar(hcfg)
		defer func() {
			_ = bar.Finish()
		}()
		opts = append(opts, harness.WithProgress(200*time.Millisecond, func(s aggregator.Status) {
			if int64(s.Total) > bar.GetMax64() {
				bar.ChangeMax64(int64(s.Total))
			}
			_ = bar.Set64(int64(s.Total))
		}))
	}

	h, err := harness.New(log, hcfg, harness.RollupSystem(log, r), opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	result, err := h.Run(ctx)
	if result == nil {
		return err
	}
	err = multierr.Append(err, writeResult(result, cfg.Output, cfg.ReportFile, cfg.FailureThreshold, stdout))
	if err != nil {
		return err
	}
	if hcfg.Failed(result) {
		return fmt.Errorf("failed ratio %.4f exceeds threshold %.4f", result.FailedRatio(), hcfg.FailureThreshold)
	}
	return nil
}

// writeResult writes the JSON result to output, or to stdout when output is
// empty, and the markdown report to reportFile when set.
func writeResult(result *load.RunResult, output string, reportFile string, threshold float64, stdout io.Writer) error {
	var err error
	if output == "" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		err = enc.Encode(result)
	} else {
		err = result.WriteJSON(output)
	}
	if reportFile != "" {
		err = multierr.Append(err, harness.WriteReportFile(reportFile, result, threshold))
	}
	return err
}

func newProgressBar(cfg harness.Config) *progressbar.ProgressBar {
	expected := int64(cfg.TPS * cfg.Duration.Seconds())
	if cfg.MaxItems > 0 && int64(cfg.MaxItems) < expected {
		expected = int64(cfg.MaxItems)
	}
	return progressbar.NewOptions64(expected,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("processed"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("ops"),
		progressbar.OptionThrottle(100*time.Millisecond),
	)
}

func profileMode(mode string) func(*profile.Profile) {
	switch mode {
	case "mem":
		return profile.MemProfile
	case "block":
		return profile.BlockProfile
	case "mutex":
		return profile.MutexProfile
	default:
		return profile.CPUProfile
	}
}
