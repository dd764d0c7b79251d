// Package probe runs targeted security checks against the protocols of the
// rollup: double spends, message replays, finalization races and transitions
// out of terminal states.
package probe

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/trace"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/bridge"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/finalization"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/relay"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/rollup"
)

// Names of the probes.
const (
	DoubleSpend            = "double_spend"
	Replay                 = "replay"
	ConcurrentFinalization = "concurrent_finalization"
	IllegalTransition      = "illegal_transition"
)

// Verdict is the outcome of a probe.
type Verdict string

const (
	Pass Verdict = "PASS"
	Fail Verdict = "FAIL"
	// Inconclusive means the probe could not exercise the property, for
	// example because a chain rejected the operation for unrelated reasons.
	Inconclusive Verdict = "ERROR"
)

// Result is the verdict of one probe.
type Result struct {
	Name     string
	Verdict  Verdict
	Details  string
	Duration time.Duration
}

func (r Result) Vulnerability() load.Vulnerability {
	return load.Vulnerability{Name: r.Name, Result: string(r.Verdict), Details: r.Details}
}

// Vulnerabilities returns the failed probes.
func Vulnerabilities(results []Result) []load.Vulnerability {
	var vulns []load.Vulnerability
	for _, r := range results {
		if r.Verdict == Fail {
			vulns = append(vulns, r.Vulnerability())
		}
	}
	return vulns
}

// BalanceSUT is a SUT that exposes account balances.
type BalanceSUT interface {
	sut.SUT
	Balance(account, token string) uint64
}

// Target bundles the protocols the probes exercise.
type Target struct {
	Bridge       BalanceSUT
	Relay        sut.SUT
	Finalization sut.SUT
	// Chains are used for deposits and relay transfers; relays need two.
	Chains []string
}

// RollupTarget probes the protocols of r directly, bypassing injected latency.
func RollupTarget(r *rollup.Rollup) Target {
	return Target{
		Bridge:       r.Bridge,
		Relay:        r.Relay,
		Finalization: r.Finalization,
		Chains:       r.Network.Chains(),
	}
}

type probeFunc func(ctx context.Context, t Target) (Verdict, string)

var probes = map[string]probeFunc{
	DoubleSpend:            doubleSpend,
	Replay:                 replay,
	ConcurrentFinalization: concurrentFinalization,
	IllegalTransition:      illegalTransition,
}

// Names lists every probe, sorted.
func Names() []string {
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prober runs probes concurrently on a worker pool.
type Prober struct {
	log     zerolog.Logger
	target  Target
	workers int
	tracer  module.Tracer
}

func New(log zerolog.Logger, target Target, workers int, tracer module.Tracer) *Prober {
	if workers <= 0 {
		workers = 1
	}
	return &Prober{
		log:     log.With().Str("component", "prober").Logger(),
		target:  target,
		workers: workers,
		tracer:  tracer,
	}
}

// Run runs the named probes, or all of them when names is empty. Results are
// returned in the order of names.
func (p *Prober) Run(ctx context.Context, names ...string) ([]Result, error) {
	if len(names) == 0 {
		names = Names()
	}
	for _, name := range names {
		if _, ok := probes[name]; !ok {
			return nil, fmt.Errorf("unknown probe %q, known probes: %s", name, strings.Join(Names(), ", "))
		}
	}

	results := make([]Result, len(names))
	pool := workerpool.New(p.workers)
	for i, name := range names {
		i, name := i, name
		pool.Submit(func() {
			results[i] = p.run(ctx, name)
		})
	}
	pool.StopWait()
	return results, nil
}

func (p *Prober) run(ctx context.Context, name string) Result {
	start := time.Now()
	var verdict Verdict
	var details string
	p.tracer.WithSpanFromContext(ctx, trace.ProbeRun.Child(name), func() {
		verdict, details = probes[name](ctx, p.target)
	})
	result := Result{Name: name, Verdict: verdict, Details: details, Duration: time.Since(start)}

	log := p.log.With().Str("probe", name).Str("verdict", string(verdict)).Str("details", details).Logger()
	switch verdict {
	case Pass:
		log.Info().Msg("probe passed")
	case Fail:
		log.Error().Msg("probe found a vulnerability")
	default:
		log.Warn().Msg("probe was inconclusive")
	}
	return result
}

// race runs fs concurrently and waits for all of them.
func race(fs ...func()) {
	pool := workerpool.New(len(fs))
	for _, f := range fs {
		pool.Submit(f)
	}
	pool.StopWait()
}

func uniqueName(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func uniqueNumber() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

// doubleSpend confirms two deposits with the same sender and nonce
// concurrently. At most one of them may be credited.
func doubleSpend(ctx context.Context, t Target) (Verdict, string) {
	if t.Bridge == nil || len(t.Chains) == 0 {
		return Inconclusive, "no bridge or chain to probe"
	}
	sender := uniqueName("probe-sender")
	recipient := sender + "-l2"
	const token = "ETH"
	const amount = 100

	payload, err := load.EncodePayload(bridge.Payload{
		Sender:    sender,
		Recipient: recipient,
		Token:     token,
		Amount:    amount,
		Nonce:     42,
		Chain:     t.Chains[0],
	})
	if err != nil {
		return Inconclusive, err.Error()
	}
	before := t.Bridge.Balance(recipient, token)

	var ids [2]sut.EntityID
	for i := range ids {
		ids[i], err = t.Bridge.Submit(ctx, load.KindBridgeDeposit, payload)
		if err != nil {
			return Inconclusive, fmt.Sprintf("could not submit deposit: %v", err)
		}
	}

	var errs [2]error
	var states [2]sut.State
	race(
		func() { states[0], errs[0] = t.Bridge.Advance(ctx, ids[0], sut.Next()) },
		func() { states[1], errs[1] = t.Bridge.Advance(ctx, ids[1], sut.Next()) },
	)

	confirmed, collisions := 0, 0
	for i := range ids {
		if errs[i] == nil {
			confirmed++
		} else if sut.IsNonceCollisionError(errs[i]) {
			collisions++
		}
	}
	credited := t.Bridge.Balance(recipient, token) - before

	switch {
	case confirmed > 1 || credited > amount:
		return Fail, fmt.Sprintf("nonce 42 of %s was consumed %d times, credited %d", sender, confirmed, credited)
	case confirmed == 1 && collisions == 1:
		return Pass, "second deposit rejected with nonce collision"
	default:
		return Inconclusive, fmt.Sprintf("deposits ended in %s (%v) and %s (%v)", states[0], errs[0], states[1], errs[1])
	}
}

// replay submits the same relay message twice.
func replay(ctx context.Context, t Target) (Verdict, string) {
	if t.Relay == nil || len(t.Chains) < 2 {
		return Inconclusive, "no relay or not enough chains to probe"
	}
	payload, err := load.EncodePayload(relay.Payload{
		MessageID:   uniqueName("probe-msg"),
		Sender:      uniqueName("probe-sender"),
		Recipient:   uniqueName("probe-recipient"),
		Amount:      1,
		SourceChain: t.Chains[0],
		DestChain:   t.Chains[1],
	})
	if err != nil {
		return Inconclusive, err.Error()
	}

	_, err = t.Relay.Submit(ctx, load.KindCrossChainTransfer, payload)
	if err != nil {
		return Inconclusive, fmt.Sprintf("first submission rejected: %v", err)
	}
	_, err = t.Relay.Submit(ctx, load.KindCrossChainTransfer, payload)
	switch {
	case err == nil:
		return Fail, "message was accepted twice"
	case sut.IsReplayDetectedError(err):
		return Pass, "second submission rejected as replay"
	default:
		return Inconclusive, fmt.Sprintf("second submission rejected for another reason: %v", err)
	}
}

// concurrentFinalization races a challenge against a forced finalization of the
// same block. Exactly one of them may win.
func concurrentFinalization(ctx context.Context, t Target) (Verdict, string) {
	if t.Finalization == nil {
		return Inconclusive, "no finalization protocol to probe"
	}
	id, err := proposeBlock(ctx, t.Finalization)
	if err != nil {
		return Inconclusive, err.Error()
	}

	var errs [2]error
	race(
		func() { _, errs[0] = t.Finalization.Advance(ctx, id, sut.Input{Action: finalization.ActionChallenge}) },
		func() { _, errs[1] = t.Finalization.Advance(ctx, id, sut.Input{Action: finalization.ActionForceFinalize}) },
	)

	won, lost := 0, 0
	for _, err := range errs {
		if err == nil {
			won++
		} else if sut.IsIllegalTransitionError(err) {
			lost++
		}
	}
	switch {
	case won > 1:
		return Fail, "block was both challenged and finalized"
	case won == 1 && lost == 1:
		state, _ := t.Finalization.CurrentState(ctx, id)
		return Pass, fmt.Sprintf("block resolved once as %s", state)
	default:
		return Inconclusive, fmt.Sprintf("challenge: %v, finalize: %v", errs[0], errs[1])
	}
}

// illegalTransition advances a block that is already resolved.
func illegalTransition(ctx context.Context, t Target) (Verdict, string) {
	if t.Finalization == nil {
		return Inconclusive, "no finalization protocol to probe"
	}
	id, err := proposeBlock(ctx, t.Finalization)
	if err != nil {
		return Inconclusive, err.Error()
	}
	resolved, err := t.Finalization.Advance(ctx, id, sut.Next())
	if err != nil {
		return Inconclusive, fmt.Sprintf("could not resolve block: %v", err)
	}

	after, err := t.Finalization.Advance(ctx, id, sut.Next())
	switch {
	case err == nil:
		return Fail, fmt.Sprintf("terminal state %s advanced to %s", resolved, after)
	case !sut.IsIllegalTransitionError(err):
		return Inconclusive, fmt.Sprintf("unexpected error: %v", err)
	}

	current, err := t.Finalization.CurrentState(ctx, id)
	if err != nil {
		return Inconclusive, err.Error()
	}
	if current != resolved {
		return Fail, fmt.Sprintf("rejected transition still moved %s to %s", resolved, current)
	}
	return Pass, fmt.Sprintf("advance from %s rejected as illegal transition", resolved)
}

func proposeBlock(ctx context.Context, s sut.SUT) (sut.EntityID, error) {
	number := uniqueNumber()
	root := make([]byte, 32)
	copy(root, uuid.New().String())
	payload, err := load.EncodePayload(finalization.Payload{
		BlockNumber: number,
		StateRoot:   root,
		Proposer:    "probe",
		Invalid:     true,
	})
	if err != nil {
		return "", err
	}
	id, err := s.Submit(ctx, load.KindFinalizationBlock, payload)
	if err != nil {
		return "", fmt.Errorf("could not propose block: %w", err)
	}
	return id, nil
}
