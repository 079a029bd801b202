package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	"rigrelay/internal/auth"
	"rigrelay/internal/protocol"
	"rigrelay/internal/relay"
)

// handshakeTimeout bounds how long a connection may dawdle before it has
// produced a valid version and credential exchange.
const handshakeTimeout = 10 * time.Second

// Sequencer is the part of the registry the listener drives.
type Sequencer interface {
	CreateClient(conn net.Conn, cred protocol.Credential) (int, uint32, error)
	NotifyAllVehicles(slot int)
	EnableFlow(slot int)
}

// Listener accepts raw connections, runs the join handshake, and hands
// validated clients to the registry.
type Listener struct {
	log          *zerolog.Logger
	seq          Sequencer
	passwordHash string

	ln net.Listener
}

// NewListener starts listening on port. passwordHash is empty for an
// unprotected server, otherwise a bcrypt hash produced at startup.
func NewListener(port int, passwordHash string, seq Sequencer, logger *zerolog.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	logger.Info().Int("port", port).Msg("listening for clients")
	return &Listener{log: logger, seq: seq, passwordHash: passwordHash, ln: ln}, nil
}

// Addr returns the bound listen address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Run accepts connections until the listener is closed or ctx is done. Each
// connection gets its own handshake goroutine so one slow client cannot
// stall the accept loop.
func (l *Listener) Run(ctx context.Context) error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go l.handshake(conn)
	}
}

// Close stops the accept loop.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// handshake validates a new connection: version tag first, then the
// credential, then the password when the server is protected. Only then is
// the registry asked for a slot.
func (l *Listener) handshake(conn net.Conn) {
	peer := conn.RemoteAddr().String()
	deadline := time.Now().Add(handshakeTimeout)
	if err := conn.SetDeadline(deadline); err != nil {
		l.log.Warn().Err(err).Str("peer", peer).Msg("set handshake deadline")
		conn.Close()
		return
	}

	version, err := protocol.ReadMessage(conn)
	if err != nil || version.Type != protocol.MsgVersion {
		l.log.Debug().Err(err).Str("peer", peer).Msg("handshake: no version frame")
		conn.Close()
		return
	}
	if string(version.Payload) != protocol.VersionTag {
		l.log.Info().Str("peer", peer).Str("version", string(version.Payload)).Msg("handshake: protocol version mismatch")
		conn.Close()
		return
	}

	hello, err := protocol.ReadMessage(conn)
	if err != nil || hello.Type != protocol.MsgHello {
		l.log.Debug().Err(err).Str("peer", peer).Msg("handshake: no hello frame")
		conn.Close()
		return
	}
	cred, err := protocol.ParseCredential(hello.Payload)
	if err != nil {
		l.log.Debug().Err(err).Str("peer", peer).Msg("handshake: bad credential")
		conn.Close()
		return
	}

	if l.passwordHash != "" {
		if err := auth.ComparePassword(l.passwordHash, cred.Password); err != nil {
			l.log.Info().Str("peer", peer).Str("nickname", cred.Username).Msg("handshake: wrong password")
			_ = protocol.WriteMessage(conn, protocol.MsgBanned, 0, nil)
			conn.Close()
			return
		}
	}

	// Handshake traffic is done; relay traffic has no deadline. A stalled
	// peer is caught by the slow-consumer policy instead.
	if err := conn.SetDeadline(time.Time{}); err != nil {
		l.log.Warn().Err(err).Str("peer", peer).Msg("clear handshake deadline")
		conn.Close()
		return
	}

	slot, uid, err := l.seq.CreateClient(conn, cred)
	if err != nil {
		if errors.Is(err, relay.ErrServerFull) {
			l.log.Info().Str("peer", peer).Str("nickname", cred.Username).Msg("rejecting client, server full")
			_ = protocol.WriteMessage(conn, protocol.MsgFull, 0, nil)
		} else {
			l.log.Warn().Err(err).Str("peer", peer).Msg("create client failed")
		}
		conn.Close()
		return
	}

	l.seq.NotifyAllVehicles(slot)
	l.seq.EnableFlow(slot)
	l.log.Info().Str("peer", peer).Int("slot", slot).Uint32("uid", uid).Str("nickname", cred.Username).Msg("client joined")
}
