package tcp

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rigrelay/internal/auth"
	"rigrelay/internal/protocol"
	"rigrelay/internal/relay"
)

// startServer wires a real registry with real broadcasters and receivers
// behind a listener on an ephemeral port.
func startServer(t *testing.T, capacity int, password string) (*relay.Registry, string) {
	t.Helper()

	logger := testLogger()
	reg, err := relay.New(capacity, logger, relay.Deps{
		NewOutbound: func() relay.Outbound { return NewBroadcaster(logger) },
		NewInbound:  func(r *relay.Registry) relay.Inbound { return NewReceiver(logger, r) },
	})
	require.NoError(t, err)
	reg.Start()

	hash := ""
	if password != "" {
		hash, err = auth.HashPassword(password)
		require.NoError(t, err)
	}

	ln, err := NewListener(0, hash, reg, logger)
	require.NoError(t, err)
	go ln.Run(context.Background())

	t.Cleanup(func() {
		ln.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, reg.Shutdown(ctx))
	})
	return reg, ln.Addr().String()
}

// dialClient performs the full join handshake and returns the connection and
// the uid the server assigned.
func dialClient(t *testing.T, addr, name, password string) (net.Conn, uint32) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, protocol.WriteMessage(conn, protocol.MsgVersion, 0, []byte(protocol.VersionTag)))
	require.NoError(t, protocol.WriteMessage(conn, protocol.MsgHello, 0, protocol.EncodeCredential(protocol.Credential{
		Username: name,
		UniqueID: name + "-id",
		Password: password,
	})))

	msg, err := protocol.ReadMessage(conn)
	require.NoError(t, err)
	require.Equal(t, protocol.MsgWelcome, msg.Type)
	return conn, msg.SourceUID
}

func waitFlowEnabled(t *testing.T, reg *relay.Registry, clients int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		flowing := 0
		for _, info := range reg.Snapshot() {
			if info.FlowEnabled {
				flowing++
			}
		}
		if flowing >= clients {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("flow never enabled for %d clients", clients)
}

func readUntil(t *testing.T, conn net.Conn, want protocol.MessageType) protocol.Message {
	t.Helper()

	for {
		msg, err := protocol.ReadMessage(conn)
		require.NoError(t, err)
		if msg.Type == want {
			return msg
		}
	}
}

func TestJoinAndRelay(t *testing.T) {
	reg, addr := startServer(t, 4, "")

	connA, uidA := dialClient(t, addr, "alice", "")
	defer connA.Close()
	connB, _ := dialClient(t, addr, "bob", "")
	defer connB.Close()
	waitFlowEnabled(t, reg, 2)

	require.NoError(t, protocol.WriteMessage(connA, protocol.MsgChat, 0, []byte("hi bob")))

	msg := readUntil(t, connB, protocol.MsgChat)
	require.Equal(t, uidA, msg.SourceUID)
	require.Equal(t, "hi bob", string(msg.Payload))
}

func TestLateJoinerLearnsExistingVehicles(t *testing.T) {
	reg, addr := startServer(t, 4, "")

	connA, uidA := dialClient(t, addr, "alice", "")
	defer connA.Close()
	waitFlowEnabled(t, reg, 1)

	require.NoError(t, protocol.WriteMessage(connA, protocol.MsgUseVehicle, 0, []byte("truck1")))
	// Registration is asynchronous; wait until the registry saw it.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snapshot := reg.Snapshot()
		if len(snapshot) == 1 && snapshot[0].VehicleName == "truck1" {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	connB, _ := dialClient(t, addr, "bob", "")
	defer connB.Close()

	msg := readUntil(t, connB, protocol.MsgUseVehicle)
	require.Equal(t, uidA, msg.SourceUID)
	require.Equal(t, "truck1\x00alice\x00", string(msg.Payload))
}

func TestDepartureNotifiesPeers(t *testing.T) {
	reg, addr := startServer(t, 4, "")

	connA, uidA := dialClient(t, addr, "alice", "")
	connB, _ := dialClient(t, addr, "bob", "")
	defer connB.Close()
	waitFlowEnabled(t, reg, 2)

	// Bob must be in the simulation to hear about departures.
	require.NoError(t, protocol.WriteMessage(connB, protocol.MsgUseVehicle, 0, []byte("car2")))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		registered := false
		for _, info := range reg.Snapshot() {
			if info.VehicleName == "car2" {
				registered = true
			}
		}
		if registered {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	connA.Close()

	msg := readUntil(t, connB, protocol.MsgDelete)
	require.Equal(t, uidA, msg.SourceUID)
}

func TestServerFullRejection(t *testing.T) {
	_, addr := startServer(t, 1, "")

	connA, _ := dialClient(t, addr, "alice", "")
	defer connA.Close()

	connB, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer connB.Close()
	require.NoError(t, connB.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, protocol.WriteMessage(connB, protocol.MsgVersion, 0, []byte(protocol.VersionTag)))
	require.NoError(t, protocol.WriteMessage(connB, protocol.MsgHello, 0, protocol.EncodeCredential(protocol.Credential{
		Username: "bob",
	})))

	msg, err := protocol.ReadMessage(connB)
	require.NoError(t, err)
	require.Equal(t, protocol.MsgFull, msg.Type)
}

func TestWrongPasswordRejected(t *testing.T) {
	_, addr := startServer(t, 2, "letmein")

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, protocol.WriteMessage(conn, protocol.MsgVersion, 0, []byte(protocol.VersionTag)))
	require.NoError(t, protocol.WriteMessage(conn, protocol.MsgHello, 0, protocol.EncodeCredential(protocol.Credential{
		Username: "mallory",
		Password: "guess",
	})))

	msg, err := protocol.ReadMessage(conn)
	require.NoError(t, err)
	require.Equal(t, protocol.MsgBanned, msg.Type)
}

func TestCorrectPasswordAccepted(t *testing.T) {
	_, addr := startServer(t, 2, "letmein")

	conn, uid := dialClient(t, addr, "alice", "letmein")
	defer conn.Close()
	require.Equal(t, uint32(1), uid)
}

func TestVersionMismatchDropsConnection(t *testing.T) {
	_, addr := startServer(t, 2, "")

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, protocol.WriteMessage(conn, protocol.MsgVersion, 0, []byte("ANCIENT-0")))

	_, err = protocol.ReadMessage(conn)
	require.Error(t, err, "server closes the connection without a reply")
}
