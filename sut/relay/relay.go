// Package relay simulates two-phase cross-chain transfers: the transfer is
// first confirmed on its source chain, then delivered on its destination.
// Each chain is guarded by a circuit breaker.
package relay

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/sha3"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/chain"
)

var (
	StatePending         = sut.State{Name: "Pending"}
	StateSourceConfirmed = sut.State{Name: "SourceConfirmed"}
	StateCompleted       = sut.State{Name: "Completed", Terminal: true}
	StateFailed          = sut.State{Name: "Failed", Terminal: true}
)

// Transitions is the state machine of a cross-chain transfer.
var Transitions = sut.Graph{
	StatePending.Name:         {StateSourceConfirmed.Name, StateFailed.Name},
	StateSourceConfirmed.Name: {StateCompleted.Name, StateFailed.Name},
}

const (
	ActionSend    sut.Action = "send"
	ActionDeliver sut.Action = "deliver"
)

// Payload is a cross-chain transfer. When MessageID is empty, the message id
// is derived from the other fields.
type Payload struct {
	MessageID   string `cbor:"1,keyasint,omitempty"`
	Sender      string `cbor:"2,keyasint"`
	Recipient   string `cbor:"3,keyasint"`
	Amount      uint64 `cbor:"4,keyasint"`
	Nonce       uint64 `cbor:"5,keyasint"`
	SourceChain string `cbor:"6,keyasint"`
	DestChain   string `cbor:"7,keyasint"`
}

// messageID is the replay protection key of the payload.
func (p Payload) messageID() string {
	if p.MessageID != "" {
		return p.MessageID
	}
	h := sha3.New256()
	var buf [8]byte
	for _, s := range []string{p.Sender, p.Recipient, p.SourceChain, p.DestChain} {
		_, _ = h.Write([]byte(s))
		_, _ = h.Write([]byte{0})
	}
	binary.BigEndian.PutUint64(buf[:], p.Amount)
	_, _ = h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], p.Nonce)
	_, _ = h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}

// Transfer is the record of a cross-chain transfer entity.
type Transfer struct {
	Payload       Payload
	MessageID     string
	SourceReceipt string
	DestReceipt   string
	Error         string
}

func (t *Transfer) Clone() sut.Record {
	c := *t
	return &c
}

// Config calibrates the relay.
type Config struct {
	// BreakerFailures is the number of consecutive chain failures that opens
	// the breaker of the chain.
	BreakerFailures uint32
	// BreakerTimeout is how long an open breaker rejects sends before it lets
	// a probe through.
	BreakerTimeout time.Duration
	// BreakerProbes is the number of sends allowed while half-open.
	BreakerProbes uint32
}

func DefaultConfig() Config {
	return Config{
		BreakerFailures: 5,
		BreakerTimeout:  time.Second,
		BreakerProbes:   1,
	}
}

// SUT is the cross-chain relay. It serves KindCrossChainTransfer.
type SUT struct {
	log      zerolog.Logger
	store    *sut.Store
	network  *chain.Network
	breakers map[string]*gobreaker.CircuitBreaker
	now      func() time.Time

	mu   sync.Mutex
	seen map[string]sut.EntityID
}

var _ sut.SUT = (*SUT)(nil)

func New(log zerolog.Logger, cfg Config, network *chain.Network) *SUT {
	s := &SUT{
		log:      log.With().Str("component", "relay_sut").Logger(),
		store:    sut.NewStore(),
		network:  network,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		now:      time.Now,
		seen:     make(map[string]sut.EntityID),
	}
	for _, name := range network.Chains() {
		s.breakers[name] = s.newBreaker(name, cfg)
	}
	return s
}

func (s *SUT) newBreaker(name string, cfg Config) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.BreakerProbes,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.log.Info().
				Str("chain", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("chain circuit breaker changed state")
		},
	})
}

// Store exposes the entity store for audits.
func (s *SUT) Store() *sut.Store {
	return s.store
}

// BreakerState returns the state of the circuit breaker of chain.
func (s *SUT) BreakerState(chain string) gobreaker.State {
	cb, ok := s.breakers[chain]
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// Submit registers a transfer. A message id that was submitted before, by
// any transfer in any state, is rejected as a replay.
func (s *SUT) Submit(_ context.Context, kind load.Kind, payload []byte) (sut.EntityID, error) {
	if kind != load.KindCrossChainTransfer {
		return "", sut.NewInvalidPayloadErrorf("unsupported kind %s", kind)
	}
	var p Payload
	err := load.DecodePayload(payload, &p)
	if err != nil {
		return "", sut.NewInvalidPayloadError(err)
	}
	switch {
	case p.Sender == "" || p.Recipient == "":
		return "", sut.NewInvalidPayloadErrorf("missing sender or recipient")
	case p.Amount == 0:
		return "", sut.NewInvalidPayloadErrorf("amount must be positive")
	case !s.network.Has(p.SourceChain) || !s.network.Has(p.DestChain):
		return "", sut.NewInvalidPayloadErrorf("unknown chain in %s -> %s", p.SourceChain, p.DestChain)
	case p.SourceChain == p.DestChain:
		return "", sut.NewInvalidPayloadErrorf("source and destination chain are both %s", p.SourceChain)
	}

	msgID := p.messageID()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, replayed := s.seen[msgID]; replayed {
		return "", sut.ReplayDetectedError{MessageID: msgID}
	}
	e := s.store.Create(kind, StatePending, &Transfer{Payload: p, MessageID: msgID})
	s.seen[msgID] = e.ID
	return e.ID, nil
}

// Advance moves the transfer one phase forward. Next picks the send on the
// source chain for pending transfers and the delivery on the destination
// chain for source-confirmed ones.
func (s *SUT) Advance(ctx context.Context, id sut.EntityID, input sut.Input) (sut.State, error) {
	var state sut.State
	err := s.store.Update(ctx, id, func(e *sut.Entity) error {
		defer func() { state = e.State }()
		transfer := e.Data.(*Transfer)

		action := input.Action
		if action == sut.ActionNext {
			switch e.State {
			case StatePending:
				action = ActionSend
			case StateSourceConfirmed:
				action = ActionDeliver
			}
		}

		switch {
		case action == ActionSend && e.State == StatePending:
			receipt, err := s.send(ctx, transfer.Payload.SourceChain, transfer)
			if err != nil {
				return s.fail(ctx, e, transfer, sut.NewPhaseError(sut.PhaseSource, err), action)
			}
			transfer.SourceReceipt = receipt.Hash
			e.Transition(StateSourceConfirmed, action, s.now())
			return nil

		case action == ActionDeliver && e.State == StateSourceConfirmed:
			receipt, err := s.send(ctx, transfer.Payload.DestChain, transfer)
			if err != nil {
				return s.fail(ctx, e, transfer, sut.NewPhaseError(sut.PhaseDestination, err), action)
			}
			transfer.DestReceipt = receipt.Hash
			e.Transition(StateCompleted, action, s.now())
			return nil

		default:
			return sut.NewIllegalTransitionErrorf(e.State.Name, input.Action, "not a legal relay step")
		}
	})
	return state, err
}

// send submits the transfer to chain through the chain breaker. Context
// errors are not chain failures and do not count against the breaker.
func (s *SUT) send(ctx context.Context, name string, transfer *Transfer) (chain.Receipt, error) {
	p := transfer.Payload
	var receipt chain.Receipt
	var ctxErr error
	_, err := s.breakers[name].Execute(func() (interface{}, error) {
		r, err := s.network.Send(ctx, name, chain.Tx{
			From:   p.Sender,
			To:     p.Recipient,
			Amount: p.Amount,
			Nonce:  p.Nonce,
			Data:   []byte(transfer.MessageID),
		})
		if err != nil && ctx.Err() != nil {
			ctxErr = err
			return nil, nil
		}
		receipt = r
		return nil, err
	})
	if ctxErr != nil {
		return chain.Receipt{}, ctxErr
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return chain.Receipt{}, sut.NewChainError(name, load.ErrorKindCircuitOpen, err)
	}
	return receipt, err
}

// fail moves the transfer to Failed, unless ctx is done: an abandoned
// transfer stays in its current phase.
func (s *SUT) fail(ctx context.Context, e *sut.Entity, transfer *Transfer, err error, action sut.Action) error {
	if ctx.Err() != nil {
		return err
	}
	transfer.Error = err.Error()
	e.Transition(StateFailed, action, s.now())
	s.log.Debug().
		Str("entity_id", string(e.ID)).
		Str("message_id", transfer.MessageID).
		Err(err).
		Msg("cross-chain transfer failed")
	return err
}

func (s *SUT) CurrentState(ctx context.Context, id sut.EntityID) (sut.State, error) {
	return s.store.State(ctx, id)
}
