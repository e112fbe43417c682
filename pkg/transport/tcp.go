package transport

import (
	"encoding/gob"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/clustercore/noded/pkg/process"
)

// frame is the on-wire envelope: To names the destination PID,
// Payload carries the concrete message (gob requires the concrete
// type to be registered on both ends via Register).
type frame struct {
	To      process.PID
	Payload process.Message
}

// Register must be called once per message type, on both the sending
// and the receiving binary, before it can cross a TCP transport.
func Register(sample process.Message) {
	gob.Register(sample)
}

// TCP is a length-prefixed, gob-encoded stream transport: one
// persistent outbound connection per destination host:port, dialed
// lazily and reused, plus a listener that decodes inbound frames and
// redelivers them into a local process.Registry.
type TCP struct {
	registry *process.Registry

	mu    sync.Mutex
	conns map[string]*gob.Encoder
	raw   map[string]net.Conn
}

// NewTCP creates a transport that redelivers inbound frames into
// registry.
func NewTCP(registry *process.Registry) *TCP {
	return &TCP{
		registry: registry,
		conns:    make(map[string]*gob.Encoder),
		raw:      make(map[string]net.Conn),
	}
}

func addr(pid process.PID) string {
	return fmt.Sprintf("%s:%d", pid.Host, pid.Port)
}

// Send dials (or reuses) a connection to to's host:port and writes one
// frame. The destination process is expected to be running a Serve
// loop from another TCP instance.
//
// A freshly dialed connection also registers to in the local registry
// under a mailbox nothing ever drains, purely so process.Registry.Link
// sees a remote PID as live rather than synthesizing an immediate
// Exited for it — Link has no other way to know about a PID that lives
// on a different process. watchConn unregisters it again (firing the
// real Exited to any watcher) once the connection actually drops.
func (t *TCP) Send(to process.PID, msg process.Message) error {
	t.mu.Lock()
	enc, ok := t.conns[addr(to)]
	var fresh net.Conn
	if !ok {
		conn, err := net.Dial("tcp", addr(to))
		if err != nil {
			t.mu.Unlock()
			return fmt.Errorf("transport: dial %s: %w", addr(to), err)
		}
		enc = gob.NewEncoder(conn)
		t.conns[addr(to)] = enc
		t.raw[addr(to)] = conn
		fresh = conn
	}
	t.mu.Unlock()

	if fresh != nil {
		t.registry.Register(to, process.NewMailbox(1))
		go t.watchConn(to, fresh)
	}

	if err := enc.Encode(frame{To: to, Payload: msg}); err != nil {
		t.mu.Lock()
		delete(t.conns, addr(to))
		delete(t.raw, addr(to))
		t.mu.Unlock()
		return fmt.Errorf("transport: encode to %s: %w", addr(to), err)
	}
	return nil
}

// watchConn blocks until conn's read side reaches EOF or errors — the
// outbound connection never expects inbound bytes, so this only
// returns once the connection actually breaks — then drops it from
// the connection cache and unregisters pid, which delivers Exited to
// anything linked to it.
func (t *TCP) watchConn(pid process.PID, conn net.Conn) {
	_, _ = io.Copy(io.Discard, conn)

	t.mu.Lock()
	delete(t.conns, addr(pid))
	delete(t.raw, addr(pid))
	t.mu.Unlock()

	t.registry.Unregister(pid)
}

// Close tears down every outbound connection.
func (t *TCP) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, conn := range t.raw {
		conn.Close()
	}
	t.conns = make(map[string]*gob.Encoder)
	t.raw = make(map[string]net.Conn)
}

// Serve accepts connections on ln and, for each inbound frame,
// delivers Payload to the local actor named by frame.To via the
// registry. It blocks until the listener errors (typically because
// it was closed).
func (t *TCP) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go t.serveConn(conn)
	}
}

func (t *TCP) serveConn(conn net.Conn) {
	defer conn.Close()
	dec := gob.NewDecoder(conn)
	for {
		var f frame
		if err := dec.Decode(&f); err != nil {
			return
		}
		t.registry.Send(f.To, f.Payload)
	}
}
