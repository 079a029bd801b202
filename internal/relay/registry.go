// Package relay implements the session core of the server: a fixed-capacity
// table of client slots, the message relay engine that fans inbound frames
// out to the other participants, and the deferred-teardown kill queue.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"rigrelay/internal/metrics"
	"rigrelay/internal/protocol"
)

var (
	// ErrServerFull is returned by CreateClient when no slot is free. The
	// caller must reject and close the connection; no state was mutated.
	ErrServerFull = errors.New("server full")
)

// Deps are the collaborators a Registry drives. NewOutbound and NewInbound
// are required; one handle pair is allocated per slot at construction and
// reused across occupancies. NewInbound receives the registry so receive
// loops can push messages and disconnect requests back into it. Sink and
// Metrics are optional.
type Deps struct {
	NewOutbound func() Outbound
	NewInbound  func(*Registry) Inbound
	Sink        EventSink
	Metrics     *metrics.Relay
}

// Registry owns the slot table. A single mutex guards every slot read and
// write including the relay fan-out, so each message observes a frozen table.
// No blocking I/O ever happens under that mutex.
type Registry struct {
	log     *zerolog.Logger
	sink    EventSink
	metrics *metrics.Relay

	mu      sync.Mutex
	slots   []clientSlot
	nextUID uint32

	kill       *killQueue
	workerDone chan struct{}
}

// New builds a registry with a fixed slot count. The table is never resized.
func New(maxClients int, logger *zerolog.Logger, deps Deps) (*Registry, error) {
	if maxClients < 1 {
		return nil, fmt.Errorf("max clients must be at least 1, got %d", maxClients)
	}
	if deps.NewOutbound == nil || deps.NewInbound == nil {
		return nil, errors.New("relay: outbound and inbound factories are required")
	}

	r := &Registry{
		log:        logger,
		sink:       deps.Sink,
		metrics:    deps.Metrics,
		slots:      make([]clientSlot, maxClients),
		nextUID:    1,
		kill:       newKillQueue(),
		workerDone: make(chan struct{}),
	}
	for i := range r.slots {
		r.slots[i].outbound = deps.NewOutbound()
		r.slots[i].inbound = deps.NewInbound(r)
	}
	return r, nil
}

// Start launches the kill-queue worker.
func (r *Registry) Start() {
	go r.killWorker()
}

// Capacity returns the fixed slot count.
func (r *Registry) Capacity() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// CreateClient allocates the first free slot for a handshake-validated
// connection. On success the slot is Used, its handles are rebound to conn,
// and a WELCOME frame carrying the assigned uid is written to the client
// outside the lock. Returns ErrServerFull when the table is occupied.
func (r *Registry) CreateClient(conn net.Conn, cred protocol.Credential) (int, uint32, error) {
	r.mu.Lock()
	pos := -1
	for i := range r.slots {
		if r.slots[i].status == StatusFree {
			pos = i
			break
		}
	}
	if pos < 0 {
		r.mu.Unlock()
		if r.metrics != nil {
			r.metrics.ClientsRejected.Inc()
		}
		return 0, 0, ErrServerFull
	}

	s := &r.slots[pos]
	s.status = StatusUsed
	s.flowEnabled = false
	s.vehicleName = ""
	s.position = protocol.Vector3{}
	s.nickname = protocol.Truncate(cred.Username, protocol.MaxNickname)
	s.uniqueID = protocol.Truncate(cred.UniqueID, protocol.MaxUniqueID)
	s.uid = r.nextUID
	r.nextUID++
	s.conn = conn
	s.inbound.Reset(pos, conn)
	s.outbound.Reset(pos, conn)
	uid := s.uid
	nickname := s.nickname
	uniqueID := s.uniqueID
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ClientsConnected.Inc()
		r.metrics.SessionsTotal.Inc()
	}
	if r.sink != nil {
		r.sink.ClientJoined(uid, pos, nickname, uniqueID)
	}

	if err := protocol.WriteMessage(conn, protocol.MsgWelcome, uid, nil); err != nil {
		r.log.Warn().Err(err).Int("slot", pos).Uint32("uid", uid).Msg("welcome write failed")
		r.Disconnect(pos, "welcome write failed")
		return pos, uid, nil
	}

	r.log.Debug().Int("slot", pos).Uint32("uid", uid).Str("nickname", nickname).Msg("new client created")
	return pos, uid, nil
}

// EnableFlow marks a slot eligible for relayed traffic. Called once the join
// handshake completes; idempotent.
func (r *Registry) EnableFlow(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot < 0 || slot >= len(r.slots) {
		return
	}
	r.slots[slot].flowEnabled = true
}

// NotifyAllVehicles sends the newcomer one USE_VEHICLE frame per already
// registered vehicle, so it can spawn what the others drive.
func (r *Registry) NotifyAllVehicles(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot < 0 || slot >= len(r.slots) {
		return
	}
	for i := range r.slots {
		s := &r.slots[i]
		if i == slot || s.status != StatusUsed || s.vehicleName == "" {
			continue
		}
		payload := protocol.AppendNickname([]byte(s.vehicleName), s.nickname)
		r.deliver(slot, s.uid, protocol.MsgUseVehicle, payload)
	}
}

// QueueMessage is the relay engine: it classifies one inbound message by its
// type tag, applies the two core-visible side effects (vehicle registration,
// last-known position), and enqueues the message on every eligible
// destination. The whole fan-out runs under the registry lock so no client
// joins or leaves mid-broadcast.
func (r *Registry) QueueMessage(from int, t protocol.MessageType, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if from < 0 || from >= len(r.slots) {
		return
	}
	sender := &r.slots[from]
	if sender.status != StatusUsed {
		// In-flight message from a slot already being torn down.
		return
	}

	switch t {
	case protocol.MsgUseVehicle:
		sender.vehicleName = protocol.Truncate(string(payload), protocol.MaxVehicleName)
		r.log.Debug().Int("slot", from).Str("vehicle", sender.vehicleName).Msg("on the fly vehicle registration")
		// Recipients learn the owner in the same frame.
		payload = protocol.AppendNickname(payload, sender.nickname)
	case protocol.MsgVehicleData:
		if pos, ok := protocol.ParsePosition(payload); ok {
			sender.position = pos
		} else {
			r.log.Debug().Int("slot", from).Int("len", len(payload)).Msg("vehicle data too short for position")
		}
	}

	if t == protocol.MsgForce {
		// Point-to-point: only the slot holding the target uid.
		target, ok := protocol.ForceTarget(payload)
		if !ok {
			r.log.Debug().Int("slot", from).Msg("force message without target uid")
			return
		}
		for i := range r.slots {
			s := &r.slots[i]
			if s.status == StatusUsed && s.flowEnabled && s.uid == target {
				r.deliver(i, sender.uid, t, payload)
			}
		}
		return
	}

	for i := range r.slots {
		s := &r.slots[i]
		if s.status == StatusUsed && s.flowEnabled && i != from {
			r.deliver(i, sender.uid, t, payload)
		}
	}
}

// deliver hands a message to slot i's outbound handle. Must be called with
// the registry mutex held; the enqueue is non-blocking. A refused delivery
// means the consumer stalled long enough to fill its channel, so the slot is
// queued for disconnect (Disconnect only takes the kill-queue lock, which is
// safe here).
func (r *Registry) deliver(i int, fromUID uint32, t protocol.MessageType, payload []byte) {
	if r.slots[i].outbound.Queue(fromUID, t, payload) {
		if r.metrics != nil {
			r.metrics.MessagesRelayed.Inc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.MessagesDropped.Inc()
	}
	r.log.Warn().Int("slot", i).Uint32("uid", r.slots[i].uid).Msg("outbound queue refused delivery, disconnecting slow consumer")
	r.kill.push(i)
}

// Disconnect requests asynchronous teardown of a slot. Callable from any
// goroutine, including the slot's own send and receive loops: it only
// enqueues work for the kill worker and never touches the registry lock, so
// a receive loop reporting its own socket error cannot deadlock on itself.
func (r *Registry) Disconnect(slot int, reason string) {
	r.log.Debug().Int("slot", slot).Str("reason", reason).Msg("disconnect requested")
	r.kill.push(slot)
}

// Shutdown requests teardown of every occupied slot, waits for the kill
// queue to drain, then stops the worker.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for i := range r.slots {
		if r.slots[i].status == StatusUsed {
			r.kill.push(i)
		}
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.kill.drain()
		r.kill.close()
		<-r.workerDone
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) killWorker() {
	defer close(r.workerDone)
	r.log.Debug().Msg("kill worker ready")
	for {
		pos, ok := r.kill.pop()
		if !ok {
			return
		}
		r.teardown(pos)
		r.kill.done()
	}
}

// teardown runs the two-phase slot release. Phase one, under the registry
// lock: Used -> Busy, then the DELETE notification to every other Used slot
// with a registered vehicle, while the table is still consistent. Phase two,
// lock released: close the socket and stop both collaborator loops, which
// may block for as long as they need. Finally Busy -> Free under the lock.
func (r *Registry) teardown(pos int) {
	if pos < 0 || pos >= len(r.slots) {
		return
	}

	r.mu.Lock()
	s := &r.slots[pos]
	if s.status != StatusUsed {
		// Concurrently freed or never allocated: nothing to do.
		r.mu.Unlock()
		return
	}
	s.status = StatusBusy
	uid := s.uid
	for i := range r.slots {
		o := &r.slots[i]
		if o.status == StatusUsed && o.vehicleName != "" {
			o.outbound.Queue(uid, protocol.MsgDelete, nil)
		}
	}
	conn := s.conn
	inbound := s.inbound
	outbound := s.outbound
	r.mu.Unlock()

	// Teardown is not allowed to fail the server: a close error is logged
	// and the slot freed anyway.
	if conn != nil {
		if err := conn.Close(); err != nil {
			r.log.Warn().Err(err).Int("slot", pos).Msg("socket close failed during teardown")
		}
	}
	inbound.Stop()
	outbound.Stop()

	if r.sink != nil {
		r.sink.ClientLeft(uid, pos)
	}
	if r.metrics != nil {
		r.metrics.ClientsConnected.Dec()
	}

	r.mu.Lock()
	r.slots[pos].clear()
	r.mu.Unlock()

	r.log.Info().Int("slot", pos).Uint32("uid", uid).Msg("client removed")
}
