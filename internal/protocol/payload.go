package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// Credential is the pre-validated join identity extracted from a HELLO frame.
type Credential struct {
	Username string
	UniqueID string
	Password string
}

// ParseCredential decodes a HELLO payload: "nickname NUL uniqueID NUL password".
func ParseCredential(payload []byte) (Credential, error) {
	parts := bytes.SplitN(payload, []byte{0}, 3)
	if len(parts) != 3 {
		return Credential{}, fmt.Errorf("%w: want 3 NUL-separated fields, got %d", ErrBadCredential, len(parts))
	}
	return Credential{
		Username: string(parts[0]),
		UniqueID: string(parts[1]),
		Password: string(parts[2]),
	}, nil
}

// EncodeCredential builds a HELLO payload.
func EncodeCredential(c Credential) []byte {
	out := make([]byte, 0, len(c.Username)+len(c.UniqueID)+len(c.Password)+2)
	out = append(out, c.Username...)
	out = append(out, 0)
	out = append(out, c.UniqueID...)
	out = append(out, 0)
	out = append(out, c.Password...)
	return out
}

// Vector3 is a world position, tracked only for stats and heartbeat output.
type Vector3 struct {
	X, Y, Z float32
}

func (v Vector3) String() string {
	return fmt.Sprintf("%.2f,%.2f,%.2f", v.X, v.Y, v.Z)
}

// vehicle state payload head: [uint32 time][float32 x][float32 y][float32 z]
const vehicleStateHead = 16

// ParsePosition extracts the position from a VEHICLE_DATA payload. A payload
// too short to carry the state head reports ok=false; the caller relays the
// raw payload regardless.
func ParsePosition(payload []byte) (Vector3, bool) {
	if len(payload) < vehicleStateHead {
		return Vector3{}, false
	}
	return Vector3{
		X: math.Float32frombits(binary.LittleEndian.Uint32(payload[4:8])),
		Y: math.Float32frombits(binary.LittleEndian.Uint32(payload[8:12])),
		Z: math.Float32frombits(binary.LittleEndian.Uint32(payload[12:16])),
	}, true
}

// EncodeVehicleState builds a VEHICLE_DATA payload head followed by the
// opaque remainder.
func EncodeVehicleState(time uint32, pos Vector3, rest []byte) []byte {
	out := make([]byte, vehicleStateHead, vehicleStateHead+len(rest))
	binary.LittleEndian.PutUint32(out[0:4], time)
	binary.LittleEndian.PutUint32(out[4:8], math.Float32bits(pos.X))
	binary.LittleEndian.PutUint32(out[8:12], math.Float32bits(pos.Y))
	binary.LittleEndian.PutUint32(out[12:16], math.Float32bits(pos.Z))
	return append(out, rest...)
}

// ForceTarget extracts the destination uid from a FORCE payload. A payload
// too short to name a target reports ok=false and the message is delivered
// to nobody.
func ForceTarget(payload []byte) (uint32, bool) {
	if len(payload) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(payload[0:4]), true
}

// AppendNickname builds the outgoing USE_VEHICLE payload: the original
// payload bytes, a NUL, the nickname, a NUL. The append order matters for
// wire compatibility with existing clients.
func AppendNickname(payload []byte, nickname string) []byte {
	out := make([]byte, 0, len(payload)+len(nickname)+2)
	out = append(out, payload...)
	out = append(out, 0)
	out = append(out, nickname...)
	out = append(out, 0)
	return out
}
