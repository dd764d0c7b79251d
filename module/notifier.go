package module

// Notifier wakes up a worker routine when new work arrives. Notifications
// sent while nobody is listening are remembered, but only once: several
// Notify calls before the next receive collapse into a single wake-up.
// A Notifier may be passed by value.
type Notifier struct {
	notifier chan struct{} // capacity 1
}

// NewNotifier instantiates a Notifier.
func NewNotifier() Notifier {
	return Notifier{make(chan struct{}, 1)}
}

// Notify sends a notification without blocking.
func (n Notifier) Notify() {
	select {
	case n.notifier <- struct{}{}:
	default:
	}
}

// Channel returns a channel for receiving notifications
func (n Notifier) Channel() <-chan struct{} {
	return n.notifier
}
