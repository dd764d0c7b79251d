package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/probe"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/trace"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/chain"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/rollup"
)

// ProbeConfig is the configuration of the probe command.
type ProbeConfig struct {
	Probes  []string `mapstructure:"probes"`
	Chains  []string `mapstructure:"chains" validate:"min=2,dive,required"`
	Workers int      `mapstructure:"workers" validate:"gt=0"`
	Seed    int64    `mapstructure:"seed"`
	Output  string   `mapstructure:"output"`
}

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Run the security probes against the simulated rollup",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}
			var cfg ProbeConfig
			err = decode(v, "", &cfg)
			if err != nil {
				return err
			}

			rcfg := rollup.DefaultConfig()
			rcfg.Network.Chains = cfg.Chains
			if cfg.Seed != 0 {
				rcfg.Seed = cfg.Seed
			}
			r, err := rollup.New(log, rcfg)
			if err != nil {
				return fmt.Errorf("could not create rollup: %w", err)
			}

			prober := probe.New(log, probe.RollupTarget(r), cfg.Workers, trace.NewNoopTracer())
			results, err := prober.Run(cmd.Context(), probeSelection(cfg.Probes)...)
			if err != nil {
				return err
			}
			err = writeProbeResults(results, cfg.Output, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if vulns := probe.Vulnerabilities(results); len(vulns) > 0 {
				return fmt.Errorf("%d probes found vulnerabilities", len(vulns))
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("probes", []string{"all"}, fmt.Sprintf("probes to run, 'all' or any of %s", strings.Join(probe.Names(), ", ")))
	cmd.Flags().StringSlice("chains", chain.DefaultChains, "simulated chains")
	cmd.Flags().Int("workers", 4, "number of probes running concurrently")
	cmd.Flags().Int64("seed", 0, "seed of the simulation, random when 0")
	cmd.Flags().String("output", "", "path of the JSON results, stdout when empty")
	return cmd
}

type probeResultJSON struct {
	Name       string `json:"name"`
	Result     string `json:"result"`
	Details    string `json:"details"`
	DurationMs int64  `json:"duration_ms"`
}

func writeProbeResults(results []probe.Result, output string, stdout io.Writer) error {
	out := make([]probeResultJSON, 0, len(results))
	for _, r := range results {
		out = append(out, probeResultJSON{
			Name:       r.Name,
			Result:     string(r.Verdict),
			Details:    r.Details,
			DurationMs: r.Duration.Milliseconds(),
		})
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal probe results: %w", err)
	}
	if output == "" {
		_, err = fmt.Fprintln(stdout, string(b))
		return err
	}
	err = os.WriteFile(output, b, 0644)
	if err != nil {
		return fmt.Errorf("could not write probe results: %w", err)
	}
	return nil
}
