package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ping struct{ n int }
type pong struct{ n int }

func TestLoopDispatchesByType(t *testing.T) {
	reg := NewRegistry()
	loop := NewLoop(PID{ID: "a"}, reg, 8)

	got := make(chan int, 1)
	loop.Install(ping{}, func(msg Message) {
		got <- msg.(ping).n
	})
	go loop.Run()
	defer loop.Terminate()

	loop.Mailbox.Send(ping{n: 7})

	select {
	case n := <-got:
		assert.Equal(t, 7, n)
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestLoopIgnoresUnhandledWithoutFallback(t *testing.T) {
	reg := NewRegistry()
	loop := NewLoop(PID{ID: "a"}, reg, 8)
	go loop.Run()
	defer loop.Terminate()

	// No handler installed for pong; dispatch must not panic and must
	// not block the loop from handling a later, known message.
	loop.Mailbox.Send(pong{n: 1})

	got := make(chan struct{}, 1)
	loop.Install(ping{}, func(Message) { got <- struct{}{} })
	loop.Mailbox.Send(ping{})

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("loop stalled after an unhandled message")
	}
}

func TestRegistrySendRequiresRegistration(t *testing.T) {
	reg := NewRegistry()
	ok := reg.Send(PID{ID: "ghost"}, ping{})
	assert.False(t, ok)

	mbox := NewMailbox(1)
	reg.Register(PID{ID: "a"}, mbox)
	ok = reg.Send(PID{ID: "a"}, ping{n: 1})
	require.True(t, ok)

	select {
	case msg := <-mbox.Recv():
		assert.Equal(t, ping{n: 1}, msg)
	default:
		t.Fatal("message not delivered")
	}
}

func TestLinkNotifiesOnTerminate(t *testing.T) {
	reg := NewRegistry()
	watcher := NewLoop(PID{ID: "watcher"}, reg, 8)
	target := NewLoop(PID{ID: "target"}, reg, 8)

	watcher.Link(target.Self)
	target.Terminate()

	select {
	case msg := <-watcher.Mailbox.Recv():
		assert.Equal(t, Exited{PID: target.Self}, msg)
	case <-time.After(time.Second):
		t.Fatal("Exited never delivered")
	}
}

func TestLinkToAlreadyExitedDeliversImmediately(t *testing.T) {
	reg := NewRegistry()
	watcher := NewLoop(PID{ID: "watcher"}, reg, 8)

	watcher.Link(PID{ID: "never-existed"})

	select {
	case msg := <-watcher.Mailbox.Recv():
		assert.Equal(t, Exited{PID: PID{ID: "never-existed"}}, msg)
	case <-time.After(time.Second):
		t.Fatal("Exited never delivered for unknown target")
	}
}

func TestDoneReportsNilErrAfterOrdinaryTerminate(t *testing.T) {
	reg := NewRegistry()
	loop := NewLoop(PID{ID: "a"}, reg, 8)
	go loop.Run()

	loop.Terminate()

	select {
	case <-loop.Done():
		assert.NoError(t, loop.Err())
	case <-time.After(time.Second):
		t.Fatal("Done never closed")
	}
}

func TestDoneReportsReasonAfterTerminateWithError(t *testing.T) {
	reg := NewRegistry()
	loop := NewLoop(PID{ID: "a"}, reg, 8)
	go loop.Run()

	boom := assert.AnError
	loop.TerminateWithError(boom)

	select {
	case <-loop.Done():
		assert.Equal(t, boom, loop.Err())
	case <-time.After(time.Second):
		t.Fatal("Done never closed")
	}

	// A later call of either form is a no-op: the first reason sticks.
	loop.Terminate()
	assert.Equal(t, boom, loop.Err())
}

func TestTimerAfterDeliversOnce(t *testing.T) {
	mbox := NewMailbox(4)
	h := After(10*time.Millisecond, mbox, ping{n: 42})
	defer h.Stop()

	select {
	case msg := <-mbox.Recv():
		assert.Equal(t, ping{n: 42}, msg)
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerEveryCanBeStopped(t *testing.T) {
	mbox := NewMailbox(4)
	n := 0
	h := Every(5*time.Millisecond, mbox, func() Message {
		n++
		return ping{n: n}
	})

	time.Sleep(30 * time.Millisecond)
	h.Stop()
	time.Sleep(20 * time.Millisecond)

	drained := 0
	for {
		select {
		case <-mbox.Recv():
			drained++
		default:
			assert.Greater(t, drained, 0)
			return
		}
	}
}
