package irrecoverable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrowDeliversFirstError(t *testing.T) {
	ctx, errChan := WithSignaler(context.Background())

	first := errors.New("reversion failed")
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx.Throw(first)
		t.Error("Throw must not return")
	}()

	select {
	case err := <-errChan:
		assert.ErrorIs(t, err, first)
	case <-time.After(time.Second):
		t.Fatal("error was not delivered")
	}
	<-done

	// a second throw must not block even though nobody reads the channel
	secondDone := make(chan struct{})
	go func() {
		defer close(secondDone)
		Throw(ctx, errors.New("second"))
	}()
	select {
	case <-secondDone:
	case <-time.After(time.Second):
		t.Fatal("second throw blocked")
	}
}

func TestSignalerContextKeepsParentValues(t *testing.T) {
	type key struct{}
	parent, cancel := context.WithCancel(context.WithValue(context.Background(), key{}, "v"))
	ctx, _ := WithSignaler(parent)
	require.Equal(t, "v", ctx.Value(key{}))

	cancel()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("signaler context not cancelled with parent")
	}
}
