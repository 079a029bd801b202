package relay

import (
	"fmt"
	"strings"

	"rigrelay/internal/protocol"
)

// Snapshot copies out a view of every non-free slot. The lock is held only
// for the copy; formatting always happens on the caller's side.
func (r *Registry) Snapshot() []SlotInfo {
	r.mu.Lock()
	out := make([]SlotInfo, 0, len(r.slots))
	for i := range r.slots {
		s := &r.slots[i]
		if s.status == StatusFree {
			continue
		}
		info := SlotInfo{
			Slot:        i,
			Status:      s.status.String(),
			UID:         s.uid,
			Nickname:    s.nickname,
			VehicleName: s.vehicleName,
			FlowEnabled: s.flowEnabled,
			Position:    s.position,
		}
		if s.status == StatusUsed && s.conn != nil {
			info.Addr = s.conn.RemoteAddr().String()
		}
		out = append(out, info)
	}
	r.mu.Unlock()

	for i := range out {
		out[i].PositionStr = out[i].Position.String()
	}
	return out
}

// NumClients counts occupied slots (used or busy).
func (r *Registry) NumClients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for i := range r.slots {
		if r.slots[i].status != StatusFree {
			count++
		}
	}
	return count
}

// HeartbeatData builds the master-server payload: the challenge token, the
// protocol version tag, the client count, then one line per occupied slot.
func (r *Registry) HeartbeatData(challenge string) string {
	snapshot := r.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n%s\n%d\n", challenge, protocol.VersionTag, len(snapshot))
	for _, info := range snapshot {
		fmt.Fprintf(&b, "%d;%s;%s;%s\n", info.Slot, info.VehicleName, info.Nickname, info.PositionStr)
	}
	return b.String()
}

// DescribeOccupancy renders the operator-facing slot table.
func (r *Registry) DescribeOccupancy() string {
	capacity := r.Capacity()
	snapshot := r.Snapshot()
	occupied := make(map[int]SlotInfo, len(snapshot))
	for _, info := range snapshot {
		occupied[info.Slot] = info
	}

	var b strings.Builder
	b.WriteString("Server occupancy:\n")
	b.WriteString("Slot Status   UID Addr             Nickname, Vehicle\n")
	b.WriteString("--------------------------------------------------\n")
	for i := 0; i < capacity; i++ {
		info, ok := occupied[i]
		if !ok {
			fmt.Fprintf(&b, "%4d Free\n", i)
			continue
		}
		addr := info.Addr
		if addr == "" {
			addr = "-"
		}
		fmt.Fprintf(&b, "%4d %-4s %5d %-16s %s, %s\n",
			i, info.Status, info.UID, addr, info.Nickname, info.VehicleName)
	}
	return b.String()
}
