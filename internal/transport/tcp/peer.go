// Package tcp implements the socket-facing collaborators of the relay core:
// the accept/handshake listener plus the per-slot receive and send loops.
package tcp

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"rigrelay/internal/protocol"
)

// outboundQueueSize bounds the per-slot send channel. A client that falls
// this far behind is a slow consumer and gets disconnected by the registry.
const outboundQueueSize = 256

type envelope struct {
	fromUID uint32
	msgType protocol.MessageType
	payload []byte
}

// Broadcaster drains a bounded channel onto one connection. It is the single
// writer for its socket; many relay callers enqueue concurrently.
type Broadcaster struct {
	log *zerolog.Logger

	mu      sync.Mutex
	slot    int
	queue   chan envelope
	stopped chan struct{}
	running bool
	wg      sync.WaitGroup
}

// NewBroadcaster builds an idle broadcaster; Reset arms it for an occupancy.
func NewBroadcaster(logger *zerolog.Logger) *Broadcaster {
	return &Broadcaster{log: logger}
}

// Reset rebinds the broadcaster to a fresh connection and starts the send
// loop. It takes no lock other than its own, so the registry may call it
// while holding the slot-table mutex.
func (b *Broadcaster) Reset(slot int, conn net.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.slot = slot
	b.queue = make(chan envelope, outboundQueueSize)
	b.stopped = make(chan struct{})
	b.running = true

	b.wg.Add(1)
	go b.sendLoop(conn, b.queue, b.stopped)
}

// Queue enqueues one message without ever blocking. Reports false when the
// broadcaster is stopped or the channel is full.
func (b *Broadcaster) Queue(fromUID uint32, t protocol.MessageType, payload []byte) bool {
	b.mu.Lock()
	queue, stopped, running := b.queue, b.stopped, b.running
	b.mu.Unlock()

	if !running {
		return false
	}
	select {
	case queue <- envelope{fromUID: fromUID, msgType: t, payload: payload}:
		return true
	case <-stopped:
		return false
	default:
		return false
	}
}

// Stop shuts the send loop down and waits for it to quiesce. Idempotent and
// safe to call while producers still hold references: Queue fails fast once
// the stop channel closes.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	close(b.stopped)
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *Broadcaster) sendLoop(conn net.Conn, queue chan envelope, stopped chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case env := <-queue:
			if err := protocol.WriteMessage(conn, env.msgType, env.fromUID, env.payload); err != nil {
				b.log.Debug().Err(err).Int("slot", b.slotID()).Msg("outbound write failed")
				// Drain until stopped so producers keep failing fast
				// instead of filling the channel.
				b.discardUntilStopped(queue, stopped)
				return
			}
		case <-stopped:
			return
		}
	}
}

func (b *Broadcaster) discardUntilStopped(queue chan envelope, stopped chan struct{}) {
	for {
		select {
		case <-queue:
		case <-stopped:
			return
		}
	}
}

func (b *Broadcaster) slotID() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.slot
}

// MessageSink is the part of the registry the receive loop needs.
type MessageSink interface {
	QueueMessage(slot int, t protocol.MessageType, payload []byte)
	Disconnect(slot int, reason string)
}

// Receiver runs one read loop per occupancy, pushing every decoded frame
// into the relay engine. Any read error is surfaced as a disconnect request,
// never handled inline.
type Receiver struct {
	log  *zerolog.Logger
	sink MessageSink

	mu       sync.Mutex
	running  bool
	stopping chan struct{}
	wg       sync.WaitGroup
}

// NewReceiver builds an idle receiver bound to the given sink.
func NewReceiver(logger *zerolog.Logger, sink MessageSink) *Receiver {
	return &Receiver{log: logger, sink: sink}
}

// Reset starts the read loop for a fresh occupancy.
func (r *Receiver) Reset(slot int, conn net.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.running = true
	r.stopping = make(chan struct{})
	r.wg.Add(1)
	go r.readLoop(slot, conn, r.stopping)
}

// Stop waits for the read loop to quiesce. The kill worker closes the socket
// before calling Stop, which unblocks any pending read. Idempotent.
func (r *Receiver) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopping)
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Receiver) readLoop(slot int, conn net.Conn, stopping chan struct{}) {
	defer r.wg.Done()
	for {
		msg, err := protocol.ReadMessage(conn)
		if err != nil {
			select {
			case <-stopping:
				// Teardown already in progress; no point re-queueing
				// the slot.
			default:
				reason := "read error"
				if errors.Is(err, io.EOF) {
					reason = "connection closed by peer"
				} else {
					r.log.Debug().Err(err).Int("slot", slot).Msg("receive loop error")
				}
				r.sink.Disconnect(slot, reason)
			}
			return
		}
		r.sink.QueueMessage(slot, msg.Type, msg.Payload)
	}
}
