package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageType tags a framed message. Types the relay core recognizes carry
// side effects (vehicle registration, position extraction, targeted delivery);
// every other tag is relayed verbatim.
type MessageType uint32

const (
	// MsgHello is the first client frame: credential payload
	// "nickname NUL uniqueID NUL password".
	MsgHello MessageType = iota + 1
	// MsgVersion carries the protocol version tag during handshake.
	MsgVersion
	// MsgFull is sent to a rejected client when no slot is free.
	MsgFull
	// MsgWelcome is sent to a new client; the source uid field carries
	// its assigned uid.
	MsgWelcome
	// MsgBanned rejects a client that failed the password check.
	MsgBanned
	// MsgUseVehicle registers the sender's vehicle; the relay appends the
	// sender nickname before broadcasting.
	MsgUseVehicle
	// MsgVehicleData is a periodic state update; the relay extracts the
	// embedded position for stats, then broadcasts.
	MsgVehicleData
	// MsgDelete notifies peers that the uid in the source field departed.
	MsgDelete
	// MsgForce is delivered only to the slot holding the target uid named
	// in the payload head.
	MsgForce
	// MsgChat is an opaque broadcast payload.
	MsgChat
)

// VersionTag is the protocol revision exchanged during handshake and
// reported in heartbeat payloads.
const VersionTag = "RIGRELAY-1"

// Bounded string lengths. Longer input is truncated at copy time, never
// rejected.
const (
	MaxNickname    = 20
	MaxUniqueID    = 60
	MaxVehicleName = 129
)

// MaxPayload bounds a single frame's payload.
const MaxPayload = 16 * 1024

const headerLen = 12

var (
	ErrPayloadTooLarge = errors.New("payload exceeds frame limit")
	ErrBadCredential   = errors.New("malformed credential payload")
)

// Message is one decoded frame. SourceUID is the sender's server-assigned
// uid; the server itself sends with uid 0.
type Message struct {
	Type      MessageType
	SourceUID uint32
	Payload   []byte
}

// ReadMessage decodes one frame from r.
// Wire format: [uint32 LE type][uint32 LE source uid][uint32 LE payload length][payload].
func ReadMessage(r io.Reader) (Message, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Message{}, fmt.Errorf("read frame header: %w", err)
	}

	msg := Message{
		Type:      MessageType(binary.LittleEndian.Uint32(header[0:4])),
		SourceUID: binary.LittleEndian.Uint32(header[4:8]),
	}
	size := binary.LittleEndian.Uint32(header[8:12])
	if size > MaxPayload {
		return Message{}, fmt.Errorf("frame of %d bytes: %w", size, ErrPayloadTooLarge)
	}
	if size == 0 {
		return msg, nil
	}

	msg.Payload = make([]byte, size)
	if _, err := io.ReadFull(r, msg.Payload); err != nil {
		return Message{}, fmt.Errorf("read frame payload (%d bytes): %w", size, err)
	}
	return msg, nil
}

// WriteMessage encodes one frame to w. Header and payload go out in a single
// Write call to avoid Nagle-induced delays on tiny frames.
func WriteMessage(w io.Writer, t MessageType, sourceUID uint32, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("frame of %d bytes: %w", len(payload), ErrPayloadTooLarge)
	}

	frame := make([]byte, headerLen+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(t))
	binary.LittleEndian.PutUint32(frame[4:8], sourceUID)
	binary.LittleEndian.PutUint32(frame[8:12], uint32(len(payload)))
	copy(frame[headerLen:], payload)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Truncate bounds s to at most max bytes.
func Truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

func (t MessageType) String() string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgVersion:
		return "version"
	case MsgFull:
		return "full"
	case MsgWelcome:
		return "welcome"
	case MsgBanned:
		return "banned"
	case MsgUseVehicle:
		return "use_vehicle"
	case MsgVehicleData:
		return "vehicle_data"
	case MsgDelete:
		return "delete"
	case MsgForce:
		return "force"
	case MsgChat:
		return "chat"
	default:
		return fmt.Sprintf("type(%d)", uint32(t))
	}
}
