package stub_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/stub"
)

func TestStub_SettlesOnce(t *testing.T) {
	s := stub.New(stub.Config{SuccessRate: 1}, sut.NewDice(1))
	ctx := context.Background()

	id, err := s.Submit(ctx, load.KindBridgeDeposit, nil)
	require.NoError(t, err)
	state, err := s.Advance(ctx, id, sut.Next())
	require.NoError(t, err)
	assert.Equal(t, stub.StateConfirmed, state)

	_, err = s.Advance(ctx, id, sut.Next())
	assert.True(t, sut.IsIllegalTransitionError(err))
}

func TestStub_FailureRate(t *testing.T) {
	s := stub.New(stub.Config{SuccessRate: 0}, sut.NewDice(1))
	ctx := context.Background()

	id, err := s.Submit(ctx, load.KindBridgeDeposit, nil)
	require.NoError(t, err)
	state, err := s.Advance(ctx, id, sut.Next())
	assert.Equal(t, load.ErrorKindExecutionReverted, sut.KindOf(err))
	assert.Equal(t, stub.StateFailed, state)
}
