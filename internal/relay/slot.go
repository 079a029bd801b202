package relay

import (
	"net"

	"rigrelay/internal/protocol"
)

// SlotStatus is the occupancy state of one table position.
//
// Free slots are available for allocation. Used slots are active
// participants. Busy marks a slot mid-teardown: still occupying its position,
// excluded from every delivery set.
type SlotStatus int

const (
	StatusFree SlotStatus = iota
	StatusUsed
	StatusBusy
)

func (s SlotStatus) String() string {
	switch s {
	case StatusFree:
		return "free"
	case StatusUsed:
		return "used"
	case StatusBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Outbound is a slot's delivery handle, drained by one external send loop.
// Queue must never block: it reports false when the message could not be
// accepted (stopped handle or full channel). Reset rebinds the handle for a
// new occupancy and must not require the registry lock. Stop is idempotent,
// unblocks any pending operation, and waits for the send loop to quiesce.
type Outbound interface {
	Reset(slot int, conn net.Conn)
	Queue(fromUID uint32, t protocol.MessageType, payload []byte) bool
	Stop()
}

// Inbound is a slot's receive-loop handle. Same Reset/Stop contract as
// Outbound; the registry never reads from it directly.
type Inbound interface {
	Reset(slot int, conn net.Conn)
	Stop()
}

// EventSink observes slot lifecycle for audit purposes. Calls happen outside
// the registry lock; implementations must not call back into the registry.
type EventSink interface {
	ClientJoined(uid uint32, slot int, nickname, uniqueID string)
	ClientLeft(uid uint32, slot int)
}

// clientSlot is one table position. All fields are guarded by the registry
// mutex except the handles, whose Reset/Stop contracts make them safe to
// touch from the allocator and the kill worker.
type clientSlot struct {
	status      SlotStatus
	uid         uint32
	nickname    string
	uniqueID    string
	vehicleName string
	position    protocol.Vector3
	flowEnabled bool

	conn     net.Conn
	outbound Outbound
	inbound  Inbound
}

func (s *clientSlot) clear() {
	s.status = StatusFree
	s.uid = 0
	s.nickname = ""
	s.uniqueID = ""
	s.vehicleName = ""
	s.position = protocol.Vector3{}
	s.flowEnabled = false
	s.conn = nil
}

// SlotInfo is a copied-out view of one occupied slot.
type SlotInfo struct {
	Slot        int              `json:"slot"`
	Status      string           `json:"status"`
	UID         uint32           `json:"uid"`
	Nickname    string           `json:"nickname"`
	VehicleName string           `json:"vehicle_name"`
	FlowEnabled bool             `json:"flow_enabled"`
	Position    protocol.Vector3 `json:"-"`
	PositionStr string           `json:"position"`
	Addr        string           `json:"addr,omitempty"`
}
