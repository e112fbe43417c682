package process

// Message is anything an actor can receive: a wire message, a timer
// tick, or an Exited notification. Dispatch is by the message's
// concrete Go type.
type Message any

// Mailbox is a single actor's inbox. Sends never block the sender;
// a full mailbox drops the message, the same non-blocking-enqueue
// contract the control plane assumes for every outbound send.
type Mailbox struct {
	ch chan Message
}

// NewMailbox creates a mailbox with the given buffer depth.
func NewMailbox(buffer int) *Mailbox {
	return &Mailbox{ch: make(chan Message, buffer)}
}

// Send enqueues msg without blocking. It reports false if the mailbox
// was full and the message was dropped.
func (m *Mailbox) Send(msg Message) bool {
	select {
	case m.ch <- msg:
		return true
	default:
		return false
	}
}

// Recv exposes the receive side for a dispatch loop's select.
func (m *Mailbox) Recv() <-chan Message {
	return m.ch
}
