// Package heartbeat reports this server to the master server: one
// registration at startup, then a periodic occupancy payload. Local-mode
// servers never construct a Notifier.
package heartbeat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Snapshotter is the part of the registry the notifier reads.
type Snapshotter interface {
	HeartbeatData(challenge string) string
	NumClients() int
}

// Registration is the announce body sent to the master server.
type Registration struct {
	InstanceID string `json:"instance_id"`
	Name       string `json:"name"`
	Terrain    string `json:"terrain"`
	Host       string `json:"host"`
	Port       int    `json:"port"`
	MaxClients int    `json:"max_clients"`
	Protected  bool   `json:"protected"`
}

// Notifier registers with the master server and then posts heartbeats.
type Notifier struct {
	log      *zerolog.Logger
	reg      Snapshotter
	client   *http.Client
	baseURL  string
	interval time.Duration
	announce Registration

	challenge string
}

// New builds a notifier. The uuid instance id distinguishes restarts of the
// same host/port pair on the master side.
func New(baseURL string, interval time.Duration, announce Registration, reg Snapshotter, logger *zerolog.Logger) *Notifier {
	announce.InstanceID = uuid.New().String()
	return &Notifier{
		log:      logger,
		reg:      reg,
		client:   &http.Client{Timeout: 15 * time.Second},
		baseURL:  strings.TrimRight(baseURL, "/"),
		interval: interval,
		announce: announce,
	}
}

// Register announces the server and stores the challenge token the master
// returns. The token becomes the first line of every heartbeat payload.
func (n *Notifier) Register(ctx context.Context) error {
	body, err := json.Marshal(n.announce)
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/register", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build registration request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("register with master server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("master server rejected registration: %s", resp.Status)
	}

	token, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return fmt.Errorf("read challenge token: %w", err)
	}
	n.challenge = strings.TrimSpace(string(token))
	if n.challenge == "" {
		return fmt.Errorf("master server returned an empty challenge token")
	}

	n.log.Info().Str("master", n.baseURL).Msg("registered with master server")
	return nil
}

// Run posts one heartbeat per interval until ctx is done. A failed post is
// logged and retried on the next tick.
func (n *Notifier) Run(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.beat(ctx); err != nil {
				n.log.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func (n *Notifier) beat(ctx context.Context) error {
	payload := n.reg.HeartbeatData(n.challenge)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/heartbeat", strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build heartbeat request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post heartbeat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("master server rejected heartbeat: %s", resp.Status)
	}

	n.log.Debug().Int("clients", n.reg.NumClients()).Msg("heartbeat sent")
	return nil
}
