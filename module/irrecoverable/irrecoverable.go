package irrecoverable

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
)

// Signaler delivers an irrecoverable error to the owner of a SignalerContext.
// Only the first thrown error is delivered; later throws only terminate
// the calling goroutine.
type Signaler struct {
	errChan chan error
}

func NewSignaler() (*Signaler, <-chan error) {
	errChan := make(chan error, 1)
	return &Signaler{errChan: errChan}, errChan
}

// Throw sends err to the owner and terminates the calling goroutine.
// It is a replacement for panic and log.Fatal in components that own a
// SignalerContext.
func (s *Signaler) Throw(err error) {
	defer runtime.Goexit()
	select {
	case s.errChan <- err:
	default:
	}
}

// SignalerContext is a context.Context that can also carry irrecoverable errors
// to the routine that created it.
type SignalerContext interface {
	context.Context
	Throw(err error)
	sealed()
}

type signalerCtx struct {
	context.Context
	*Signaler
}

func (sc signalerCtx) sealed() {}

// WithSignaler wraps ctx into a SignalerContext and returns the channel thrown
// errors are delivered on.
func WithSignaler(parent context.Context) (SignalerContext, <-chan error) {
	sig, errChan := NewSignaler()
	return &signalerCtx{parent, sig}, errChan
}

// Throw throws err on ctx when ctx is a SignalerContext. Otherwise the
// process exits, since an irrecoverable error has nowhere to go.
func Throw(ctx context.Context, err error) {
	signalerAbleContext, ok := ctx.(SignalerContext)
	if ok {
		signalerAbleContext.Throw(err)
	}
	log.New(os.Stderr, "", log.LstdFlags).Fatalf("irrecoverable error thrown without a signaler: %v", err)
}

// Throwf formats an error and throws it on ctx.
func Throwf(ctx context.Context, format string, args ...interface{}) {
	Throw(ctx, fmt.Errorf(format, args...))
}
