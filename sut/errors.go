package sut

import (
	"context"
	"errors"
	"fmt"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
)

// ErrNotFound is returned for operations on unknown entity ids.
var ErrNotFound = errors.New("entity not found")

// IllegalTransitionError indicates that the requested action is not legal in
// the current state of the entity.
type IllegalTransitionError struct {
	From   string
	Action Action
	err    error
}

func NewIllegalTransitionErrorf(from string, action Action, msg string, args ...interface{}) error {
	return IllegalTransitionError{
		From:   from,
		Action: action,
		err:    fmt.Errorf(msg, args...),
	}
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition %q from state %s: %s", e.Action, e.From, e.err.Error())
}

func (e IllegalTransitionError) Unwrap() error { return e.err }

// IsIllegalTransitionError returns whether err is an IllegalTransitionError
func IsIllegalTransitionError(err error) bool {
	var e IllegalTransitionError
	return errors.As(err, &e)
}

// InvalidPayloadError indicates a malformed submission.
type InvalidPayloadError struct {
	err error
}

func NewInvalidPayloadError(err error) error {
	return InvalidPayloadError{err}
}

func NewInvalidPayloadErrorf(msg string, args ...interface{}) error {
	return InvalidPayloadError{fmt.Errorf(msg, args...)}
}

func (e InvalidPayloadError) Error() string { return "invalid payload: " + e.err.Error() }
func (e InvalidPayloadError) Unwrap() error { return e.err }

// IsInvalidPayloadError returns whether err is an InvalidPayloadError
func IsInvalidPayloadError(err error) bool {
	var e InvalidPayloadError
	return errors.As(err, &e)
}

// NonceCollisionError indicates that the (sender, nonce) pair of an
// operation was already consumed by another confirmed operation.
type NonceCollisionError struct {
	Sender     string
	Nonce      uint64
	ConsumedBy EntityID
}

func (e NonceCollisionError) Error() string {
	return fmt.Sprintf("nonce %d of sender %s already consumed by %s", e.Nonce, e.Sender, e.ConsumedBy)
}

// IsNonceCollisionError returns whether err is a NonceCollisionError
func IsNonceCollisionError(err error) bool {
	var e NonceCollisionError
	return errors.As(err, &e)
}

// ReplayDetectedError indicates that a relay message id was seen before.
type ReplayDetectedError struct {
	MessageID string
}

func (e ReplayDetectedError) Error() string {
	return fmt.Sprintf("replay detected for message %s", e.MessageID)
}

// IsReplayDetectedError returns whether err is a ReplayDetectedError
func IsReplayDetectedError(err error) bool {
	var e ReplayDetectedError
	return errors.As(err, &e)
}

// InsufficientFundsError indicates that an account cannot cover a debit.
type InsufficientFundsError struct {
	Account string
	Balance uint64
	Amount  uint64
}

func (e InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s holds %d, needs %d", e.Account, e.Balance, e.Amount)
}

// IsInsufficientFundsError returns whether err reports missing funds, either
// on the rollup or on a chain.
func IsInsufficientFundsError(err error) bool {
	var e InsufficientFundsError
	if errors.As(err, &e) {
		return true
	}
	var ce ChainError
	return errors.As(err, &ce) && ce.Kind == load.ErrorKindInsufficientFunds
}

// RateLimitedError indicates that an account exceeded its submission rate.
type RateLimitedError struct {
	Account string
}

func (e RateLimitedError) Error() string {
	return fmt.Sprintf("account %s is rate limited", e.Account)
}

// IsRateLimitedError returns whether err is a RateLimitedError
func IsRateLimitedError(err error) bool {
	var e RateLimitedError
	return errors.As(err, &e)
}

// ChainError is a failure reported by a (simulated) chain. Kind is one of the
// chain level error kinds, e.g. chain_not_connected or execution_reverted.
type ChainError struct {
	Chain string
	Kind  load.ErrorKind
	err   error
}

func NewChainError(chain string, kind load.ErrorKind, err error) error {
	return ChainError{Chain: chain, Kind: kind, err: err}
}

func NewChainErrorf(chain string, kind load.ErrorKind, msg string, args ...interface{}) error {
	return ChainError{Chain: chain, Kind: kind, err: fmt.Errorf(msg, args...)}
}

func (e ChainError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("%s: %s", e.Chain, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.Chain, e.Kind, e.err.Error())
}

func (e ChainError) Unwrap() error { return e.err }

// IsChainError returns whether err is a ChainError
func IsChainError(err error) bool {
	var e ChainError
	return errors.As(err, &e)
}

// IsChainNotConnectedError returns whether err reports a disconnected chain.
func IsChainNotConnectedError(err error) bool {
	var e ChainError
	return errors.As(err, &e) && e.Kind == load.ErrorKindChainNotConnected
}

// NodeUnavailableError indicates that no live rollup node could serve a request.
type NodeUnavailableError struct {
	err error
}

func NewNodeUnavailableErrorf(msg string, args ...interface{}) error {
	return NodeUnavailableError{fmt.Errorf(msg, args...)}
}

func (e NodeUnavailableError) Error() string { return "node unavailable: " + e.err.Error() }
func (e NodeUnavailableError) Unwrap() error { return e.err }

// IsNodeUnavailableError returns whether err is a NodeUnavailableError
func IsNodeUnavailableError(err error) bool {
	var e NodeUnavailableError
	return errors.As(err, &e)
}

// Phase is a step of a two-phase cross-chain transfer.
type Phase string

const (
	PhaseSource      Phase = "source_chain_error"
	PhaseDestination Phase = "destination_chain_error"
)

// PhaseError qualifies the failure of a two-phase transfer with the phase it
// happened in, e.g. "source_chain_error: ethereum: chain_not_connected".
type PhaseError struct {
	Phase Phase
	err   error
}

func NewPhaseError(phase Phase, err error) error {
	return PhaseError{Phase: phase, err: err}
}

func (e PhaseError) Error() string { return fmt.Sprintf("%s: %s", e.Phase, e.err.Error()) }
func (e PhaseError) Unwrap() error { return e.err }

// IsPhaseError returns whether err is a PhaseError of the given phase.
func IsPhaseError(err error, phase Phase) bool {
	var e PhaseError
	return errors.As(err, &e) && e.Phase == phase
}

// KindOf maps an error returned by a SUT to its histogram key. Errors that
// are not part of the SUT contract map to ErrorKindInternal.
func KindOf(err error) load.ErrorKind {
	if err == nil {
		return load.ErrorKindNone
	}

	var chainErr ChainError
	switch {
	case errors.Is(err, ErrNotFound):
		return load.ErrorKindNotFound
	case IsIllegalTransitionError(err):
		return load.ErrorKindIllegalTransition
	case IsInvalidPayloadError(err):
		return load.ErrorKindInvalidPayload
	case IsNonceCollisionError(err):
		return load.ErrorKindNonceCollision
	case IsReplayDetectedError(err):
		return load.ErrorKindReplayDetected
	case IsRateLimitedError(err):
		return load.ErrorKindRateLimited
	case IsNodeUnavailableError(err):
		return load.ErrorKindNodeUnavailable
	case errors.As(err, &chainErr):
		return chainErr.Kind
	case IsInsufficientFundsError(err):
		return load.ErrorKindInsufficientFunds
	case errors.Is(err, context.DeadlineExceeded):
		return load.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return load.ErrorKindAbandoned
	default:
		return load.ErrorKindInternal
	}
}

// IsDomainError returns whether err is an expected protocol level error, as
// opposed to an internal failure of the SUT or the harness.
func IsDomainError(err error) bool {
	if IsChainError(err) {
		return true
	}
	switch KindOf(err) {
	case load.ErrorKindNone, load.ErrorKindInternal, load.ErrorKindAbandoned, load.ErrorKindTimeout:
		return false
	default:
		return true
	}
}
