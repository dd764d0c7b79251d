// Package journal persists the outcomes of a run in badger so that the run
// result can be audited and rebuilt after the process exited.
package journal

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v2"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/aggregator"
)

// DefaultValueLogFileSize keeps the journal small; outcome records are tiny.
const DefaultValueLogFileSize = 64 << 20

type Config struct {
	Dir              string
	ValueLogFileSize int64
	SyncWrites       bool
}

// Journal records every outcome and dropped item of a run. Writes are
// independent badger transactions, so it is safe for concurrent use by the
// workers and the generator.
type Journal struct {
	log    zerolog.Logger
	db     *badger.DB
	seq    *atomic.Uint64
	errors *atomic.Uint64
}

var _ module.LoadRecorder = (*Journal)(nil)

// Open opens or creates the journal in cfg.Dir.
func Open(log zerolog.Logger, cfg Config) (*Journal, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("journal directory is required")
	}
	size := cfg.ValueLogFileSize
	if size == 0 {
		size = DefaultValueLogFileSize
	}
	opts := badger.
		DefaultOptions(cfg.Dir).
		WithValueLogFileSize(size).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("could not open journal in %s: %w", cfg.Dir, err)
	}
	return New(log, db), nil
}

// New wraps an open database. The journal takes ownership of db.
func New(log zerolog.Logger, db *badger.DB) *Journal {
	return &Journal{
		log:    log.With().Str("component", "journal").Logger(),
		db:     db,
		seq:    atomic.NewUint64(0),
		errors: atomic.NewUint64(0),
	}
}

// Begin stores the start time and the scenarios of the run. A journal holds
// a single run.
func (j *Journal) Begin(startedAt time.Time, scenarios []load.Scenario) error {
	run := runRecord{StartedAt: startedAt}
	for _, s := range scenarios {
		run.Scenarios = append(run.Scenarios, newScenarioRecord(s))
	}
	err := j.db.Update(func(tx *badger.Txn) error {
		var existing runRecord
		err := retrieve(makePrefix(codeRun), &existing)(tx)
		if err == nil {
			return fmt.Errorf("journal already holds the run started at %s", existing.StartedAt)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		return upsert(makePrefix(codeRun), run)(tx)
	})
	if err != nil {
		return fmt.Errorf("could not journal run start: %w", err)
	}
	return nil
}

// RecordGenerated is a no-op: every generated item is journaled either as an
// outcome or as a dropped item.
func (j *Journal) RecordGenerated(*load.WorkItem) {}

func (j *Journal) Record(outcome load.Outcome) {
	key := makePrefix(codeOutcome, j.seq.Inc())
	j.write(key, newOutcomeRecord(outcome))
}

func (j *Journal) RecordDropped(item *load.WorkItem) {
	key := makePrefix(codeDropped, j.seq.Inc())
	j.write(key, droppedRecord{
		ItemID:      item.ID,
		Kind:        uint8(item.Kind),
		SubmittedAt: item.SubmittedAt,
	})
}

func (j *Journal) write(key []byte, entity interface{}) {
	err := j.db.Update(upsert(key, entity))
	if err != nil {
		j.errors.Inc()
		j.log.Error().Err(err).Msg("could not journal record")
	}
}

// Errors returns the number of records that could not be written.
func (j *Journal) Errors() uint64 {
	return j.errors.Load()
}

// Finish stores what is only known once the run is over: its end, the
// recovery checks of the scenarios, the vulnerabilities and the samples.
func (j *Journal) Finish(result *load.RunResult) error {
	return j.db.Update(func(tx *badger.Txn) error {
		var run runRecord
		err := retrieve(makePrefix(codeRun), &run)(tx)
		if err != nil {
			return fmt.Errorf("could not retrieve run: %w", err)
		}
		run.EndedAt = result.StartedAt.Add(result.Duration)
		for i := range run.Scenarios {
			if i >= len(result.Scenarios) {
				break
			}
			run.Scenarios[i].RecoveryChecked = result.Scenarios[i].RecoveryChecked
			run.Scenarios[i].RecoverySuccessful = result.Scenarios[i].RecoverySuccessful
		}
		err = upsert(makePrefix(codeRun), run)(tx)
		if err != nil {
			return err
		}
		for i, v := range result.Vulnerabilities {
			err = upsert(makePrefix(codeVulnerability, uint64(i)), v)(tx)
			if err != nil {
				return fmt.Errorf("could not journal vulnerability: %w", err)
			}
		}
		for i, s := range result.Samples {
			err = upsert(makePrefix(codeSample, uint64(i)), s)(tx)
			if err != nil {
				return fmt.Errorf("could not journal sample: %w", err)
			}
		}
		return nil
	})
}

// Replay rebuilds the run result from the journal. A run that never finished
// ends at the completion of its last outcome.
func (j *Journal) Replay(log zerolog.Logger) (*load.RunResult, error) {
	var result *load.RunResult
	err := j.db.View(func(tx *badger.Txn) error {
		var run runRecord
		err := retrieve(makePrefix(codeRun), &run)(tx)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("journal holds no run: %w", err)
		}
		if err != nil {
			return err
		}

		agg := aggregator.New(log, run.StartedAt)
		for _, sr := range run.Scenarios {
			sc := agg.AddScenario(sr.scenario())
			if sr.RecoveryChecked {
				sc.SetRecovery(sr.RecoverySuccessful)
			}
		}

		endedAt := run.EndedAt
		var outcome outcomeRecord
		err = traverse(makePrefix(codeOutcome), func() interface{} {
			outcome = outcomeRecord{}
			return &outcome
		}, func() error {
			o := outcome.outcome()
			agg.RecordGenerated(&load.WorkItem{ID: o.ItemID, Kind: o.Kind, SubmittedAt: o.SubmittedAt})
			agg.Record(o)
			if run.EndedAt.IsZero() && o.CompletedAt.After(endedAt) {
				endedAt = o.CompletedAt
			}
			return nil
		})(tx)
		if err != nil {
			return fmt.Errorf("could not replay outcomes: %w", err)
		}

		var dropped droppedRecord
		err = traverse(makePrefix(codeDropped), func() interface{} {
			dropped = droppedRecord{}
			return &dropped
		}, func() error {
			item := &load.WorkItem{ID: dropped.ItemID, Kind: load.Kind(dropped.Kind), SubmittedAt: dropped.SubmittedAt}
			agg.RecordGenerated(item)
			agg.RecordDropped(item)
			return nil
		})(tx)
		if err != nil {
			return fmt.Errorf("could not replay dropped items: %w", err)
		}

		var vuln load.Vulnerability
		err = traverse(makePrefix(codeVulnerability), func() interface{} {
			vuln = load.Vulnerability{}
			return &vuln
		}, func() error {
			agg.AddVulnerability(vuln)
			return nil
		})(tx)
		if err != nil {
			return fmt.Errorf("could not replay vulnerabilities: %w", err)
		}

		var samples []load.MetricSample
		var sample load.MetricSample
		err = traverse(makePrefix(codeSample), func() interface{} {
			sample = load.MetricSample{}
			return &sample
		}, func() error {
			samples = append(samples, sample)
			return nil
		})(tx)
		if err != nil {
			return fmt.Errorf("could not replay samples: %w", err)
		}

		if endedAt.IsZero() {
			endedAt = run.StartedAt
		}
		result = agg.Finalize(endedAt, samples)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}
