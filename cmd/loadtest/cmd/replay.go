package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/harness"
	"github.com/buybotsolana/LAYER-2-COMPLETE/storage/journal"
)

// ReplayConfig is the configuration of the replay command.
type ReplayConfig struct {
	JournalDir       string  `mapstructure:"journal-dir" validate:"required"`
	FailureThreshold float64 `mapstructure:"failure-threshold" validate:"gte=0,lte=1"`
	ReportFile       string  `mapstructure:"report-file"`
	Output           string  `mapstructure:"output"`
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild the result of a run from its journal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			v, err := newViper(cmd.Flags())
			if err != nil {
				return err
			}
			var cfg ReplayConfig
			err = decode(v, "", &cfg)
			if err != nil {
				return err
			}

			j, err := journal.Open(log, journal.Config{Dir: cfg.JournalDir})
			if err != nil {
				return fmt.Errorf("could not open journal: %w", err)
			}
			defer j.Close()

			result, err := j.Replay(log)
			if err != nil {
				return err
			}
			log.Info().
				Uint64("total", result.Total).
				Uint64("failed", result.Failed).
				Int("scenarios", len(result.Scenarios)).
				Msg("run replayed from journal")
			return writeResult(result, cfg.Output, cfg.ReportFile, cfg.FailureThreshold, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("journal-dir", "", "directory of the journal")
	cmd.Flags().Float64("failure-threshold", harness.DefaultFailureThreshold, "failed ratio above which the report marks the run as failed")
	cmd.Flags().String("report-file", "", "path of the markdown report")
	cmd.Flags().String("output", "", "path of the JSON result, stdout when empty")
	return cmd
}
