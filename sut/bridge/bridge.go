// Package bridge simulates a deposit/withdrawal bridge between the rollup and
// a set of chains. Every (sender, nonce) pair can be consumed by a single
// confirmed operation, whether deposit or withdrawal.
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/chain"
)

var (
	StatePending   = sut.State{Name: "Pending"}
	StateConfirmed = sut.State{Name: "Confirmed", Terminal: true}
	StateFailed    = sut.State{Name: "Failed", Terminal: true}
)

// Transitions is the state machine of deposits and withdrawals.
var Transitions = sut.Graph{
	StatePending.Name: {StateConfirmed.Name, StateFailed.Name},
}

// ActionConfirm sends the operation to its chain and settles it.
const ActionConfirm sut.Action = "confirm"

// Payload is a deposit or a withdrawal.
type Payload struct {
	Sender    string `cbor:"1,keyasint"`
	Recipient string `cbor:"2,keyasint"`
	Token     string `cbor:"3,keyasint"`
	Amount    uint64 `cbor:"4,keyasint"`
	Nonce     uint64 `cbor:"5,keyasint"`
	Chain     string `cbor:"6,keyasint"`
}

// Transfer is the record of a deposit or withdrawal entity.
type Transfer struct {
	Payload Payload
	Receipt string
	Error   string
}

func (t *Transfer) Clone() sut.Record {
	c := *t
	return &c
}

type nonceKey struct {
	sender string
	nonce  uint64
}

// Config calibrates the bridge.
type Config struct {
	// InitialBalance is credited to a rollup account the first time it is used.
	InitialBalance uint64
	// SenderRate limits submissions per sender; rate.Inf disables the limit.
	SenderRate  rate.Limit
	SenderBurst int
}

func DefaultConfig() Config {
	return Config{
		InitialBalance: 1_000_000,
		SenderRate:     rate.Inf,
		SenderBurst:    1,
	}
}

// SUT is the bridge protocol. It serves both KindBridgeDeposit and
// KindBridgeWithdrawal.
type SUT struct {
	log     zerolog.Logger
	cfg     Config
	store   *sut.Store
	network *chain.Network
	now     func() time.Time

	mu       sync.Mutex
	nonces   map[nonceKey]sut.EntityID
	balances map[string]uint64
	limiters map[string]*rate.Limiter
}

var _ sut.SUT = (*SUT)(nil)

func New(log zerolog.Logger, cfg Config, network *chain.Network) *SUT {
	return &SUT{
		log:      log.With().Str("component", "bridge_sut").Logger(),
		cfg:      cfg,
		store:    sut.NewStore(),
		network:  network,
		now:      time.Now,
		nonces:   make(map[nonceKey]sut.EntityID),
		balances: make(map[string]uint64),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Store exposes the entity store for audits.
func (s *SUT) Store() *sut.Store {
	return s.store
}

func (s *SUT) Submit(_ context.Context, kind load.Kind, payload []byte) (sut.EntityID, error) {
	if kind != load.KindBridgeDeposit && kind != load.KindBridgeWithdrawal {
		return "", sut.NewInvalidPayloadErrorf("unsupported kind %s", kind)
	}
	var p Payload
	err := load.DecodePayload(payload, &p)
	if err != nil {
		return "", sut.NewInvalidPayloadError(err)
	}
	switch {
	case p.Sender == "":
		return "", sut.NewInvalidPayloadErrorf("missing sender")
	case p.Amount == 0:
		return "", sut.NewInvalidPayloadErrorf("amount must be positive")
	case !s.network.Has(p.Chain):
		return "", sut.NewInvalidPayloadErrorf("unknown chain %q", p.Chain)
	}

	if !s.limiter(p.Sender).Allow() {
		return "", sut.RateLimitedError{Account: p.Sender}
	}

	e := s.store.Create(kind, StatePending, &Transfer{Payload: p})
	return e.ID, nil
}

func (s *SUT) limiter(sender string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[sender]
	if !ok {
		l = rate.NewLimiter(s.cfg.SenderRate, s.cfg.SenderBurst)
		s.limiters[sender] = l
	}
	return l
}

// Advance confirms a pending operation. Confirming an operation that is
// already settled returns an IllegalTransitionError and has no effect.
func (s *SUT) Advance(ctx context.Context, id sut.EntityID, input sut.Input) (sut.State, error) {
	var state sut.State
	err := s.store.Update(ctx, id, func(e *sut.Entity) error {
		defer func() { state = e.State }()
		if input.Action != sut.ActionNext && input.Action != ActionConfirm {
			return sut.NewIllegalTransitionErrorf(e.State.Name, input.Action, "unknown bridge action")
		}
		if e.State != StatePending {
			return sut.NewIllegalTransitionErrorf(e.State.Name, input.Action, "operation already settled")
		}
		return s.confirm(ctx, e)
	})
	return state, err
}

func (s *SUT) confirm(ctx context.Context, e *sut.Entity) error {
	transfer := e.Data.(*Transfer)
	p := transfer.Payload
	key := nonceKey{sender: p.Sender, nonce: p.Nonce}

	err := s.reserve(e, key)
	if err != nil {
		return s.fail(e, transfer, err)
	}

	if e.Kind == load.KindBridgeWithdrawal {
		err = s.debit(p.Sender, p.Token, p.Amount)
		if err != nil {
			s.release(key)
			return s.fail(e, transfer, err)
		}
	}

	receipt, err := s.network.Send(ctx, p.Chain, chain.Tx{
		From:   p.Sender,
		To:     p.Recipient,
		Amount: p.Amount,
		Nonce:  p.Nonce,
	})
	if err != nil {
		s.release(key)
		if e.Kind == load.KindBridgeWithdrawal {
			s.credit(p.Sender, p.Token, p.Amount)
		}
		if ctx.Err() != nil {
			// the operation was abandoned, not rejected: keep it pending
			return err
		}
		return s.fail(e, transfer, err)
	}

	if e.Kind == load.KindBridgeDeposit {
		s.credit(p.Recipient, p.Token, p.Amount)
	}
	transfer.Receipt = receipt.Hash
	e.Transition(StateConfirmed, ActionConfirm, s.now())
	return nil
}

func (s *SUT) fail(e *sut.Entity, transfer *Transfer, err error) error {
	transfer.Error = err.Error()
	e.Transition(StateFailed, ActionConfirm, s.now())
	return err
}

// reserve claims the nonce of the operation. A nonce held by another
// operation, in flight or confirmed, is a collision.
func (s *SUT) reserve(e *sut.Entity, key nonceKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, taken := s.nonces[key]
	if taken && owner != e.ID {
		return sut.NonceCollisionError{Sender: key.sender, Nonce: key.nonce, ConsumedBy: owner}
	}
	s.nonces[key] = e.ID
	return nil
}

func (s *SUT) release(key nonceKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nonces, key)
}

func balanceKey(account, token string) string {
	return fmt.Sprintf("%s/%s", token, account)
}

func (s *SUT) balanceLocked(key string) uint64 {
	b, ok := s.balances[key]
	if !ok {
		b = s.cfg.InitialBalance
		s.balances[key] = b
	}
	return b
}

func (s *SUT) debit(account, token string, amount uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := balanceKey(account, token)
	balance := s.balanceLocked(key)
	if balance < amount {
		return sut.InsufficientFundsError{Account: account, Balance: balance, Amount: amount}
	}
	s.balances[key] = balance - amount
	return nil
}

func (s *SUT) credit(account, token string, amount uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := balanceKey(account, token)
	s.balances[key] = s.balanceLocked(key) + amount
}

// Balance returns the rollup balance of account in token.
func (s *SUT) Balance(account, token string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceLocked(balanceKey(account, token))
}

func (s *SUT) CurrentState(ctx context.Context, id sut.EntityID) (sut.State, error) {
	return s.store.State(ctx, id)
}
