package loadgen_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/buybotsolana/LAYER-2-COMPLETE/engine/loadgen"
	"github.com/buybotsolana/LAYER-2-COMPLETE/model/load"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/irrecoverable"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/metrics"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/queue"
	"github.com/buybotsolana/LAYER-2-COMPLETE/module/trace"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut"
	mocksut "github.com/buybotsolana/LAYER-2-COMPLETE/sut/mock"
	"github.com/buybotsolana/LAYER-2-COMPLETE/sut/stub"
	"github.com/buybotsolana/LAYER-2-COMPLETE/utils/unittest"
)

func startPool(t *testing.T, cfg loadgen.PoolConfig, target sut.SUT, rec *recorder) (*loadgen.Pool, *queue.Queue[*load.WorkItem], context.CancelFunc) {
	q, err := queue.New[*load.WorkItem](queue.WithCapacity(10_000))
	require.NoError(t, err)
	pool, err := loadgen.NewPool(unittest.Logger(), cfg, q, target, rec, metrics.NewNoopCollector(), trace.NewNoopTracer())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	signalerCtx, _ := irrecoverable.WithSignaler(ctx)
	pool.Start(signalerCtx)
	unittest.RequireCloseBefore(t, pool.Ready(), time.Second, "pool not ready")
	return pool, q, cancel
}

// Every queued item ends in exactly one outcome.
func TestPool_NoLoss(t *testing.T) {
	rec := newRecorder()
	target := stub.New(stub.Config{SuccessRate: 0.5, Jitter: time.Millisecond}, sut.NewDice(5))
	pool, q, cancel := startPool(t, loadgen.PoolConfig{Workers: 16}, target, rec)
	defer cancel()

	const n = 2000
	for i := 0; i < n; i++ {
		require.NoError(t, q.Push(unittest.WorkItemFixture(load.KindBridgeDeposit)))
	}
	unittest.RequireReturnsBefore(t, func() { pool.Stop(cancel) }, 10*time.Second, "pool did not stop")

	_, _, recorded := rec.counts()
	assert.Equal(t, n, recorded)
	assert.Empty(t, rec.duplicates())
	statuses := rec.byStatus()
	assert.Equal(t, n, statuses[load.StatusConfirmed]+statuses[load.StatusFailed])
	assert.Zero(t, statuses[load.StatusTimedOut])
	assert.Equal(t, n, target.Store().Len())
}

func TestPool_RecoversPanics(t *testing.T) {
	rec := newRecorder()
	target := mocksut.NewSUT(t)
	target.On("Submit", mock.Anything, load.KindFraudProof, mock.Anything).
		Run(func(mock.Arguments) { panic("boom") })
	target.On("Submit", mock.Anything, load.KindBridgeDeposit, mock.Anything).
		Return(sut.EntityID("entity-1"), nil)
	target.On("Advance", mock.Anything, sut.EntityID("entity-1"), sut.Next()).
		Return(sut.State{Name: "Done", Terminal: true}, nil)

	pool, q, cancel := startPool(t, loadgen.PoolConfig{Workers: 1}, target, rec)
	defer cancel()

	panicking := unittest.WorkItemFixture(load.KindFraudProof)
	healthy := unittest.WorkItemFixture(load.KindBridgeDeposit)
	require.NoError(t, q.Push(panicking))
	require.NoError(t, q.Push(healthy))
	unittest.RequireReturnsBefore(t, func() { pool.Stop(cancel) }, 5*time.Second, "pool did not stop")

	require.Len(t, rec.outcomes[panicking.ID], 1)
	assert.Equal(t, load.StatusFailed, rec.outcomes[panicking.ID][0].Status)
	assert.Equal(t, load.ErrorKindInternal, rec.outcomes[panicking.ID][0].ErrorKind)
	assert.Contains(t, rec.outcomes[panicking.ID][0].Error, "boom")

	// the worker survived the panic
	require.Len(t, rec.outcomes[healthy.ID], 1)
	assert.Equal(t, load.StatusConfirmed, rec.outcomes[healthy.ID][0].Status)
	assert.Equal(t, "entity-1", rec.outcomes[healthy.ID][0].EntityID)
}

func TestPool_DomainErrorsFail(t *testing.T) {
	rec := newRecorder()
	target := mocksut.NewSUT(t)
	target.On("Submit", mock.Anything, mock.Anything, mock.Anything).
		Return(sut.EntityID(""), sut.ReplayDetectedError{MessageID: "m"})

	pool, q, cancel := startPool(t, loadgen.PoolConfig{Workers: 2}, target, rec)
	defer cancel()
	item := unittest.WorkItemFixture(load.KindCrossChainTransfer)
	require.NoError(t, q.Push(item))
	pool.Stop(cancel)

	require.Len(t, rec.outcomes[item.ID], 1)
	assert.Equal(t, load.StatusFailed, rec.outcomes[item.ID][0].Status)
	assert.Equal(t, load.ErrorKindReplayDetected, rec.outcomes[item.ID][0].ErrorKind)
}

// Items that cannot be drained within the shutdown timeout are recorded as
// timed out, whether in flight or still queued.
func TestPool_AbandonsOnShutdownTimeout(t *testing.T) {
	rec := newRecorder()
	slow := stub.New(stub.Config{SuccessRate: 1, Delay: time.Hour}, sut.NewDice(1))
	pool, q, cancel := startPool(t, loadgen.PoolConfig{Workers: 2, ShutdownTimeout: 50 * time.Millisecond}, slow, rec)
	defer cancel()

	const n = 10
	for i := 0; i < n; i++ {
		require.NoError(t, q.Push(unittest.WorkItemFixture(load.KindBridgeDeposit)))
	}
	unittest.RequireReturnsBefore(t, func() { pool.Stop(cancel) }, 2*time.Second, "pool did not abandon items")

	_, _, recorded := rec.counts()
	assert.Equal(t, n, recorded)
	assert.Empty(t, rec.duplicates())
	assert.Equal(t, n, rec.byStatus()[load.StatusTimedOut])
}

func TestPool_ItemTimeout(t *testing.T) {
	rec := newRecorder()
	slow := stub.New(stub.Config{SuccessRate: 1, Delay: time.Hour}, sut.NewDice(1))
	pool, q, cancel := startPool(t, loadgen.PoolConfig{Workers: 1, ItemTimeout: 20 * time.Millisecond}, slow, rec)
	defer cancel()

	item := unittest.WorkItemFixture(load.KindBridgeDeposit)
	require.NoError(t, q.Push(item))
	pool.Stop(cancel)

	require.Len(t, rec.outcomes[item.ID], 1)
	assert.Equal(t, load.StatusTimedOut, rec.outcomes[item.ID][0].Status)
	assert.Equal(t, load.ErrorKindTimeout, rec.outcomes[item.ID][0].ErrorKind)
}
