package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/harness"
	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/loadgen"
	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/scenario"
	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/chain"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/rollup"
)

const envPrefix = "LOADTEST"

// Config is the configuration of the run command. Every field is a flag,
// can be set in the environment as LOADTEST_<FLAG> and in a config file.
type Config struct {
	Duration         time.Duration `mapstructure:"duration" validate:"gt=0"`
	Users            int           `mapstructure:"users" validate:"gt=0"`
	TPS              float64       `mapstructure:"tps" validate:"gt=0"`
	Operations       uint64        `mapstructure:"operations"`
	Chains           []string      `mapstructure:"chains" validate:"min=1,dive,required"`
	Kinds            []string      `mapstructure:"kinds"`
	FailureThreshold float64       `mapstructure:"failure-threshold" validate:"gte=0,lte=1"`
	QueueCapacity    int           `mapstructure:"queue-capacity" validate:"gt=0"`
	ScenarioFile     string        `mapstructure:"scenario-file" validate:"excluded_with=Scenarios"`
	Scenarios        []string      `mapstructure:"scenarios"`
	SampleInterval   time.Duration `mapstructure:"sample-interval" validate:"gt=0"`
	ItemTimeout      time.Duration `mapstructure:"item-timeout" validate:"gte=0"`
	Seed             int64         `mapstructure:"seed"`
	JournalDir       string        `mapstructure:"journal-dir"`
	JournalSize      string        `mapstructure:"journal-size"`
	MetricsPort      uint          `mapstructure:"metrics-port" validate:"lte=65535"`
	AdminAddr        string        `mapstructure:"admin-addr" validate:"omitempty,hostname_port"`
	PushGateway      string        `mapstructure:"push-gateway" validate:"omitempty,url"`
	TraceEndpoint    string        `mapstructure:"trace-endpoint" validate:"omitempty,hostname_port"`
	Adaptive         bool          `mapstructure:"adaptive"`
	MaxTPS           float64       `mapstructure:"max-tps" validate:"gte=0"`
	Probes           []string      `mapstructure:"probes"`
	Profile          string        `mapstructure:"profile" validate:"omitempty,oneof=cpu mem block mutex"`
	Progress         bool          `mapstructure:"progress"`
	ReportFile       string        `mapstructure:"report-file"`
	Output           string        `mapstructure:"output"`
}

func addRunFlags(flags *pflag.FlagSet) {
	defaults := harness.DefaultConfig()

	flags.Duration("duration", defaults.Duration, "duration of the load")
	flags.Int("users", defaults.Workers, "number of concurrent workers (alias --threads)")
	flags.Float64("tps", defaults.TPS, "target transactions per second")
	flags.Uint64("operations", 0, "total number of operations, 0 bounds the run by duration only")
	flags.StringSlice("chains", chain.DefaultChains, "simulated chains")
	flags.StringSlice("kinds", nil, "operation kinds as kind[=weight], all kinds when empty")
	flags.Float64("failure-threshold", defaults.FailureThreshold, "failed ratio above which the run fails")
	flags.Int("queue-capacity", defaults.QueueCapacity, "capacity of the work queue")
	flags.String("scenario-file", "", "YAML scenario plan")
	flags.StringSlice("scenarios", nil, fmt.Sprintf("built-in scenarios, 'all' or any of %s", strings.Join(scenario.CatalogNames(), ", ")))
	flags.Duration("sample-interval", defaults.SampleInterval, "interval of the metric samples")
	flags.Duration("item-timeout", 0, "timeout of a single operation, 0 for none")
	flags.Int64("seed", 0, "seed of the simulation, random when 0")
	flags.String("journal-dir", "", "directory of the outcome journal, no journal when empty")
	flags.String("journal-size", "64MB", "value log file size of the journal")
	flags.Uint("metrics-port", 0, "port of the prometheus metrics server, disabled when 0")
	flags.String("admin-addr", "", "listen address of the admin server, disabled when empty")
	flags.String("push-gateway", "", "prometheus pushgateway url")
	flags.String("trace-endpoint", "", "OTLP gRPC trace endpoint (host:port)")
	flags.Bool("adaptive", false, "search the highest sustainable tps")
	flags.Float64("max-tps", 0, "upper bound of the adaptive tps, 0 for none")
	flags.StringSlice("probes", nil, "security probes to run after the load, 'all' for every probe")
	flags.String("profile", "", "write a cpu, mem, block or mutex profile")
	flags.Bool("progress", false, "show a progress bar")
	flags.String("report-file", "", "path of the markdown report")
	flags.String("output", "", "path of the JSON result, stdout when empty")

	flags.SetNormalizeFunc(aliases)
}

// aliases maps deprecated flag names to their replacement.
func aliases(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	if name == "threads" {
		name = "users"
	}
	return pflag.NormalizedName(name)
}

// newViper binds flags and the LOADTEST_ environment to a fresh viper instance.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	err := v.BindPFlags(flags)
	if err != nil {
		return nil, fmt.Errorf("could not bind flags: %w", err)
	}
	return v, nil
}

// decode reads the settings of v into out and validates them. A non-empty
// configFile is read first; flags and environment take precedence over it.
func decode(v *viper.Viper, configFile string, out interface{}) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
		err := v.ReadInConfig()
		if err != nil {
			return fmt.Errorf("could not read config file: %w", err)
		}
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	err = decoder.Decode(v.AllSettings())
	if err != nil {
		return fmt.Errorf("could not decode config: %w", err)
	}

	err = validator.New().Struct(out)
	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		msgs := make([]string, 0, len(invalid))
		for _, fe := range invalid {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q with value %v", fe.Field(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return err
}

// journalSize parses the human readable journal size, for example 64MB.
func (c Config) journalSize() (int64, error) {
	if c.JournalSize == "" {
		return 0, nil
	}
	size, err := units.RAMInBytes(c.JournalSize)
	if err != nil {
		return 0, fmt.Errorf("invalid journal size: %w", err)
	}
	return size, nil
}

// probeSelection converts the probe flag: nil skips probing, an empty list
// runs every probe.
func probeSelection(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	selected := []string{}
	for _, name := range names {
		if strings.EqualFold(name, "all") {
			return []string{}
		}
		selected = append(selected, strings.TrimSpace(name))
	}
	return selected
}

func (c Config) rollupConfig() rollup.Config {
	cfg := rollup.DefaultConfig()
	cfg.Network.Chains = c.Chains
	if c.Seed != 0 {
		cfg.Seed = c.Seed
	}
	return cfg
}

// scenarios loads the scenario plan, or builds the selected catalog
// scenarios for r.
func (c Config) scenarios(r *rollup.Rollup) ([]load.Scenario, error) {
	if c.ScenarioFile != "" {
		return scenario.ReadPlan(c.ScenarioFile)
	}
	return scenario.Catalog(c.Scenarios, c.Duration, c.TPS, r.Network.Chains(), r.Dice())
}

func (c Config) harnessConfig(scenarios []load.Scenario) (harness.Config, error) {
	weights, err := loadgen.ParseWeights(c.Kinds)
	if err != nil {
		return harness.Config{}, err
	}
	journalSize, err := c.journalSize()
	if err != nil {
		return harness.Config{}, err
	}

	cfg := harness.DefaultConfig()
	cfg.Duration = c.Duration
	cfg.Workers = c.Users
	cfg.TPS = c.TPS
	cfg.MaxItems = c.Operations
	cfg.QueueCapacity = c.QueueCapacity
	cfg.Kinds = weights
	cfg.Scenarios = scenarios
	cfg.SampleInterval = c.SampleInterval
	cfg.ItemTimeout = c.ItemTimeout
	cfg.FailureThreshold = c.FailureThreshold
	cfg.Adaptive = c.Adaptive
	cfg.MaxTPS = c.MaxTPS
	cfg.Probes = probeSelection(c.Probes)
	cfg.AdminAddr = c.AdminAddr
	cfg.JournalDir = c.JournalDir
	cfg.JournalValueLogSize = journalSize
	return cfg, nil
}
