package sut_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	mocksut "github.com/buybotsolana/LAYER-2-COMPLETE/sut/mock"
	"github.com/buybotsolana/LAYER-2-COMPLETE/utils/unittest"
)

func TestLatencyInjectingSUT_DelaysByFactor(t *testing.T) {
	base := mocksut.NewSUT(t)
	base.On("Submit", mock.Anything, load.KindFraudProof, mock.Anything).Return(sut.EntityID("e1"), nil)
	base.On("Advance", mock.Anything, sut.EntityID("e1"), sut.Next()).Return(sut.State{Name: "Verified"}, nil)

	l := sut.NewLatencyInjectingSUT(unittest.Logger(), base, 10*time.Millisecond, 0, sut.NewDice(1))
	ctx := context.Background()

	start := time.Now()
	id, err := l.Submit(ctx, load.KindFraudProof, []byte{1})
	require.NoError(t, err)
	assert.Equal(t, sut.EntityID("e1"), id)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	prev, err := l.SetFactor(5)
	require.NoError(t, err)
	assert.Equal(t, float64(1), prev)

	start = time.Now()
	_, err = l.Advance(ctx, id, sut.Next())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	_, err = l.SetFactor(0)
	require.Error(t, err)
	assert.Equal(t, float64(5), l.Factor())
}

// A cancelled context interrupts the injected delay without calling the base SUT.
func TestLatencyInjectingSUT_Cancelled(t *testing.T) {
	base := mocksut.NewSUT(t)
	l := sut.NewLatencyInjectingSUT(unittest.Logger(), base, time.Minute, 0, sut.NewDice(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := l.Submit(ctx, load.KindFraudProof, []byte{1})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	base.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
}

func TestRouter(t *testing.T) {
	deposits := mocksut.NewSUT(t)
	deposits.On("Submit", mock.Anything, load.KindBridgeDeposit, mock.Anything).Return(sut.EntityID("d1"), nil)
	deposits.On("CurrentState", mock.Anything, sut.EntityID("d1")).Return(sut.State{Name: "Pending"}, nil)

	router := sut.NewRouter().Register(load.KindBridgeDeposit, deposits)
	ctx := context.Background()

	id, err := router.Submit(ctx, load.KindBridgeDeposit, []byte{1})
	require.NoError(t, err)
	state, err := router.CurrentState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Pending", state.Name)

	_, err = router.Submit(ctx, load.KindFraudProof, []byte{1})
	assert.True(t, sut.IsInvalidPayloadError(err))

	_, err = router.Advance(ctx, "unknown", sut.Next())
	require.ErrorIs(t, err, sut.ErrNotFound)
	assert.Equal(t, []load.Kind{load.KindBridgeDeposit}, router.Kinds())
}
