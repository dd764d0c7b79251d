package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/utils/unittest"
)

func decodeRunConfig(t *testing.T, configFile string, args ...string) (Config, error) {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	addRunFlags(flags)
	require.NoError(t, flags.Parse(args))
	v, err := newViper(flags)
	require.NoError(t, err)
	var cfg Config
	err = decode(v, configFile, &cfg)
	return cfg, err
}

func TestDecode_FlagsAndEnvironment(t *testing.T) {
	t.Setenv("LOADTEST_TPS", "250")
	t.Setenv("LOADTEST_FAILURE_THRESHOLD", "0.2")

	cfg, err := decodeRunConfig(t, "",
		"--duration=3s",
		"--threads=4",
		"--chains=ethereum,solana",
		"--kinds=bridge_deposit=2,fraud_proof",
		"--probes=all",
		"--journal-size=128MB",
	)
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.Duration)
	assert.Equal(t, 4, cfg.Users)
	assert.Equal(t, 250.0, cfg.TPS)
	assert.Equal(t, 0.2, cfg.FailureThreshold)
	assert.Equal(t, []string{"ethereum", "solana"}, cfg.Chains)

	hcfg, err := cfg.harnessConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, 4, hcfg.Workers)
	assert.Equal(t, map[load.Kind]float64{load.KindBridgeDeposit: 2, load.KindFraudProof: 1}, hcfg.Kinds)
	assert.NotNil(t, hcfg.Probes)
	assert.Empty(t, hcfg.Probes)
	assert.Equal(t, int64(128<<20), hcfg.JournalValueLogSize)
}

func TestDecode_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loadtest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tps: 42\nscenarios:\n  - high_tps_burst\n  - node_failure\n"), 0644))

	cfg, err := decodeRunConfig(t, path, "--users=3")
	require.NoError(t, err)
	assert.Equal(t, 42.0, cfg.TPS)
	assert.Equal(t, 3, cfg.Users)
	assert.Equal(t, []string{"high_tps_burst", "node_failure"}, cfg.Scenarios)
	assert.Nil(t, probeSelection(cfg.Probes))
}

func TestDecode_Invalid(t *testing.T) {
	cases := map[string]struct {
		args  []string
		field string
	}{
		"zero tps":          {[]string{"--tps=0"}, "TPS"},
		"threshold":         {[]string{"--failure-threshold=2"}, "FailureThreshold"},
		"no chains":         {[]string{"--chains="}, "Chains"},
		"admin address":     {[]string{"--admin-addr=nowhere"}, "AdminAddr"},
		"profile mode":      {[]string{"--profile=gpu"}, "Profile"},
		"plan and catalog":  {[]string{"--scenario-file=plan.yaml", "--scenarios=all"}, "ScenarioFile"},
		"push gateway url":  {[]string{"--push-gateway=::"}, "PushGateway"},
		"negative interval": {[]string{"--sample-interval=-1s"}, "SampleInterval"},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeRunConfig(t, "", c.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), c.field)
		})
	}

	t.Run("journal size", func(t *testing.T) {
		cfg, err := decodeRunConfig(t, "", "--journal-size=lots")
		require.NoError(t, err)
		_, err = cfg.harnessConfig(nil)
		assert.Error(t, err)
	})
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	report := filepath.Join(dir, "report.md")
	cfg, err := decodeRunConfig(t, "",
		"--duration=300ms",
		"--tps=50",
		"--failure-threshold=1",
		"--seed=9",
		"--report-file="+report,
	)
	require.NoError(t, err)

	var stdout bytes.Buffer
	require.NoError(t, run(context.Background(), unittest.Logger(), cfg, &stdout))

	var result load.RunResult
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &result))
	assert.Positive(t, result.Total)
	assert.Equal(t, result.Generated, result.Total+result.Dropped)

	b, err := os.ReadFile(report)
	require.NoError(t, err)
	assert.Contains(t, string(b), "# Load test report")
	assert.Contains(t, string(b), "**PASSED**")
}
