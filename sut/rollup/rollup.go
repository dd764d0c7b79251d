// Package rollup assembles the simulated rollup: chain network, node set and
// one SUT per protocol behind a single router, together with the payload
// factory the load generator draws items from.
package rollup

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/crypto/sha3"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/bridge"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/chain"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/finalization"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/fraudproof"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/relay"
)

// Config calibrates the simulated rollup.
type Config struct {
	Network      chain.Config
	Validators   int
	FraudProof   fraudproof.Config
	Finalization finalization.Config
	Bridge       bridge.Config
	Relay        relay.Config
	// Accounts is the number of distinct simulated users.
	Accounts int
	// InvalidBlockRate is the share of proposed blocks that deserve a challenge.
	InvalidBlockRate float64
	// Latency and LatencyJitter delay every SUT call. The delay is scaled by
	// latency faults that target the SUT.
	Latency       time.Duration
	LatencyJitter time.Duration
	// RecoveryAttempts bounds the probe transfers of a recovery check.
	RecoveryAttempts uint64
	Seed             int64
}

func DefaultConfig() Config {
	return Config{
		Network:          chain.DefaultConfig(),
		Validators:       3,
		FraudProof:       fraudproof.DefaultConfig(),
		Finalization:     finalization.DefaultConfig(),
		Bridge:           bridge.DefaultConfig(),
		Relay:            relay.DefaultConfig(),
		Accounts:         100,
		InvalidBlockRate: 0.1,
		Latency:          time.Millisecond,
		RecoveryAttempts: 5,
		Seed:             time.Now().UnixNano(),
	}
}

// finalization scales the challenge period like the chain latencies, so that
// proposed blocks settle within a run.
func (c Config) finalization() finalization.Config {
	fc := c.Finalization
	fc.ChallengePeriod = time.Duration(float64(fc.ChallengePeriod) * c.Network.TimeScale)
	return fc
}

// Rollup is the complete simulated system under test.
type Rollup struct {
	log  zerolog.Logger
	cfg  Config
	dice *sut.Dice

	Network      *chain.Network
	Nodes        *chain.Nodes
	FraudProof   *fraudproof.SUT
	Finalization *finalization.SUT
	Bridge       *bridge.SUT
	Relay        *relay.SUT
	Latency      *sut.LatencyInjectingSUT

	router *sut.Router

	mu     sync.Mutex
	nonces map[string]uint64
}

func New(log zerolog.Logger, cfg Config) (*Rollup, error) {
	if cfg.Accounts <= 0 {
		return nil, fmt.Errorf("at least one account is required, got %d", cfg.Accounts)
	}
	dice := sut.NewDice(cfg.Seed)
	network, err := chain.NewNetwork(log, cfg.Network, dice)
	if err != nil {
		return nil, err
	}
	if len(network.Chains()) < 2 {
		log.Warn().Msg("cross-chain transfers need at least two chains and will be rejected")
	}
	nodes := chain.DefaultNodes(log, cfg.Validators)

	r := &Rollup{
		log:          log.With().Str("component", "rollup").Logger(),
		cfg:          cfg,
		dice:         dice,
		Network:      network,
		Nodes:        nodes,
		FraudProof:   fraudproof.New(log, cfg.FraudProof, nodes, dice),
		Finalization: finalization.New(log, cfg.finalization(), nodes),
		Bridge:       bridge.New(log, cfg.Bridge, network),
		Relay:        relay.New(log, cfg.Relay, network),
		nonces:       make(map[string]uint64),
	}
	r.router = sut.NewRouter().
		Register(load.KindFraudProof, r.FraudProof).
		Register(load.KindFinalizationBlock, r.Finalization).
		Register(load.KindBridgeDeposit, r.Bridge).
		Register(load.KindBridgeWithdrawal, r.Bridge).
		Register(load.KindCrossChainTransfer, r.Relay)
	r.Latency = sut.NewLatencyInjectingSUT(log, r.router, cfg.Latency, cfg.LatencyJitter, dice)
	return r, nil
}

// SUT returns the entry point the workers drive.
func (r *Rollup) SUT() sut.SUT {
	return r.Latency
}

// Dice returns the random source shared by the simulation.
func (r *Rollup) Dice() *sut.Dice {
	return r.dice
}

// Entities returns the number of entities created across all protocols.
func (r *Rollup) Entities() int {
	return r.FraudProof.Store().Len() +
		r.Finalization.Store().Len() +
		r.Bridge.Store().Len() +
		r.Relay.Store().Len()
}

// Reset drops all entities. Call only once the run is over.
func (r *Rollup) Reset() {
	r.router.Reset()
	r.FraudProof.Store().Reset()
	r.Finalization.Store().Reset()
	r.Bridge.Store().Reset()
	r.Relay.Store().Reset()
}

func (r *Rollup) account() string {
	return fmt.Sprintf("user-%d", r.dice.Intn(r.cfg.Accounts))
}

// nextNonce hands out increasing nonces per sender, shared by deposits and
// withdrawals.
func (r *Rollup) nextNonce(sender string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.nonces[sender]
	r.nonces[sender] = n + 1
	return n
}

func (r *Rollup) randomChain() string {
	chains := r.Network.Chains()
	return chains[r.dice.Intn(len(chains))]
}

func stateRoot(tag string, seq uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	h := sha3.Sum256(append([]byte(tag), buf[:]...))
	return h[:]
}

var tokens = []string{"ETH", "USDC", "USDT"}

// Payload builds a valid payload of the given kind for the item with
// sequence number seq. Block numbers derive from seq, so they never repeat
// within a run.
func (r *Rollup) Payload(seq uint64, kind load.Kind) ([]byte, error) {
	switch kind {
	case load.KindFraudProof:
		txs := uint32(1 + r.dice.Intn(fraudproof.MaxTxCount))
		return load.EncodePayload(fraudproof.Payload{
			BlockNumber:   seq,
			PreStateRoot:  stateRoot("pre", seq),
			PostStateRoot: stateRoot("post", seq),
			TxCount:       txs,
			DisputedTx:    uint32(r.dice.Intn(int(txs))),
			Challenger:    r.account(),
		})

	case load.KindFinalizationBlock:
		return load.EncodePayload(finalization.Payload{
			BlockNumber: seq,
			StateRoot:   stateRoot("block", seq),
			Proposer:    r.Nodes.Sequencer(),
			Invalid:     r.dice.Chance(r.cfg.InvalidBlockRate),
		})

	case load.KindBridgeDeposit, load.KindBridgeWithdrawal:
		sender := r.account()
		recipient := sender + "-l2"
		if kind == load.KindBridgeWithdrawal {
			recipient = fmt.Sprintf("%x", stateRoot(sender, seq)[:20])
		}
		return load.EncodePayload(bridge.Payload{
			Sender:    sender,
			Recipient: recipient,
			Token:     tokens[r.dice.Intn(len(tokens))],
			Amount:    uint64(1 + r.dice.Intn(1000)),
			Nonce:     r.nextNonce(sender),
			Chain:     r.randomChain(),
		})

	case load.KindCrossChainTransfer:
		chains := r.Network.Chains()
		src := r.dice.Intn(len(chains))
		dst := src
		if len(chains) > 1 {
			dst = (src + 1 + r.dice.Intn(len(chains)-1)) % len(chains)
		}
		return load.EncodePayload(relay.Payload{
			Sender:      r.account(),
			Recipient:   r.account(),
			Amount:      uint64(1 + r.dice.Intn(1000)),
			Nonce:       seq,
			SourceChain: chains[src],
			DestChain:   chains[dst],
		})

	default:
		return nil, fmt.Errorf("no payload factory for kind %s", kind)
	}
}

// CheckRecovery verifies that the target of a reverted fault serves requests
// again. Chains are probed with a deposit, the SUT and the node set with a
// block proposal. Random chain failures are retried with backoff.
func (r *Rollup) CheckRecovery(ctx context.Context, fault load.Fault) error {
	backoff := retry.WithMaxRetries(r.cfg.RecoveryAttempts, retry.NewExponential(10*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := r.probe(ctx, fault)
		if err != nil && sut.IsDomainError(err) {
			r.log.Debug().Err(err).Str("fault", fault.String()).Msg("recovery probe failed, retrying")
			return retry.RetryableError(err)
		}
		return err
	})
}

func (r *Rollup) probe(ctx context.Context, fault load.Fault) error {
	var (
		kind    load.Kind
		payload []byte
		err     error
	)
	switch {
	case fault.Type == load.FaultDisconnect || (fault.Type == load.FaultLatencyInjection && r.Network.Has(fault.Target)):
		sender := fmt.Sprintf("recovery-%s", fault.Target)
		kind = load.KindBridgeDeposit
		payload, err = load.EncodePayload(bridge.Payload{
			Sender:    sender,
			Recipient: sender + "-l2",
			Token:     tokens[0],
			Amount:    1,
			Nonce:     r.nextNonce(sender),
			Chain:     fault.Target,
		})
	default:
		kind = load.KindFinalizationBlock
		seq := uint64(time.Now().UnixNano())
		payload, err = load.EncodePayload(finalization.Payload{
			BlockNumber: seq,
			StateRoot:   stateRoot("recovery", seq),
			Proposer:    r.Nodes.Sequencer(),
		})
	}
	if err != nil {
		return err
	}
	return Drive(ctx, r.SUT(), kind, payload)
}

// Drive submits payload and advances the entity until it reaches a terminal
// state. It returns the first error reported by the SUT.
func Drive(ctx context.Context, s sut.SUT, kind load.Kind, payload []byte) error {
	id, err := s.Submit(ctx, kind, payload)
	if err != nil {
		return err
	}
	for {
		state, err := s.Advance(ctx, id, sut.Next())
		if err != nil {
			return err
		}
		if state.Terminal {
			return nil
		}
	}
}
