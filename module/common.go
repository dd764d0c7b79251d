package module

import (
	"errors"

	"github.com/buybotsolana/LAYER-2-COMPLETE/module/irrecoverable"
)

// ErrMultipleStartup is returned when Start is called on a component that was already started.
var ErrMultipleStartup = errors.New("component may only be started once")

// ReadyDoneAware provides an interface to wait for startup and shutdown of a
// long-lived harness service. Services support a single start-stop cycle.
type ReadyDoneAware interface {
	// Ready returns a channel that is closed once startup has completed.
	Ready() <-chan struct{}

	// Done returns a channel that is closed once shutdown has completed.
	Done() <-chan struct{}
}

// Startable is a service that is started with a signaler context. Cancelling
// the context shuts it down; irrecoverable errors are thrown on the context.
type Startable interface {
	Start(irrecoverable.SignalerContext)
}
