package process

import (
	"reflect"
	"sync"
)

// Loop is a single-threaded cooperative actor: it serves exactly one
// message at a time from its mailbox, dispatching by the message's
// concrete type to a handler installed ahead of time. There is no
// reentrancy — a handler runs to completion before the next message is
// read — and no interior locking is needed for state the handlers
// close over.
type Loop struct {
	Self     PID
	Mailbox  *Mailbox
	Registry *Registry

	handlers   map[reflect.Type]func(Message)
	fallback   func(Message)
	done       chan struct{}
	terminated sync.Once
	exitErr    error
}

// NewLoop creates a loop bound to self and registers its mailbox in
// registry so other actors can Send/Link to it.
func NewLoop(self PID, registry *Registry, mailboxBuffer int) *Loop {
	mbox := NewMailbox(mailboxBuffer)
	registry.Register(self, mbox)
	return &Loop{
		Self:     self,
		Mailbox:  mbox,
		Registry: registry,
		handlers: make(map[reflect.Type]func(Message)),
		done:     make(chan struct{}),
	}
}

// Install registers handler for every message whose concrete type
// matches sample's. This is the "one handler per message kind" table
// the dispatch loop matches against.
func (l *Loop) Install(sample Message, handler func(Message)) {
	l.handlers[reflect.TypeOf(sample)] = handler
}

// OnUnhandled installs a catch-all invoked for any message with no
// Install'd handler. Without one, unhandled messages are silently
// dropped.
func (l *Loop) OnUnhandled(handler func(Message)) {
	l.fallback = handler
}

// Run serves messages until Terminate is called. It returns when the
// loop exits so the caller can join it.
func (l *Loop) Run() {
	for {
		select {
		case msg := <-l.Mailbox.Recv():
			l.dispatch(msg)
		case <-l.done:
			return
		}
	}
}

func (l *Loop) dispatch(msg Message) {
	if h, ok := l.handlers[reflect.TypeOf(msg)]; ok {
		h(msg)
		return
	}
	if l.fallback != nil {
		l.fallback(msg)
	}
}

// Send is a non-blocking enqueue to another actor's mailbox.
func (l *Loop) Send(to PID, msg Message) bool {
	return l.Registry.Send(to, msg)
}

// Link subscribes this actor to target's exit notification.
func (l *Loop) Link(target PID) {
	l.Registry.Link(l.Self, target)
}

// Unlink removes a previously established link without notification.
func (l *Loop) Unlink(target PID) {
	l.Registry.Unlink(l.Self, target)
}

// Terminate stops the loop and unregisters it, which fires Exited on
// every actor linked to it — the actor's own TERMINATE event.
// Idempotent: a second call (e.g. shutdown racing a fatal protocol
// violation) is a no-op rather than a double-close panic.
func (l *Loop) Terminate() {
	l.TerminateWithError(nil)
}

// TerminateWithError is Terminate with a non-nil reason attached: a
// caller observing Done can distinguish an ordinary stop from a fatal
// one via Err. Only the first call (graceful or fatal) sets the
// reason; a later call of either form is a no-op.
func (l *Loop) TerminateWithError(err error) {
	l.terminated.Do(func() {
		l.exitErr = err
		l.Registry.Unregister(l.Self)
		close(l.done)
	})
}

// Done returns a channel closed once the loop has terminated, for a
// caller outside the loop (cmd/noded's shutdown select) to observe
// exit without polling.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Err reports the reason passed to TerminateWithError, or nil for an
// ordinary Terminate. Only meaningful after Done is closed.
func (l *Loop) Err() error {
	return l.exitErr
}
