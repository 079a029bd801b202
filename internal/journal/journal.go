// Package journal keeps a sqlite audit trail of client sessions: who joined
// which slot and when they left. It records history only; the relay never
// reads it back, so a wiped journal costs nothing but hindsight.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	uid       INTEGER NOT NULL,
	slot      INTEGER NOT NULL,
	nickname  TEXT NOT NULL,
	unique_id TEXT NOT NULL,
	joined_at TIMESTAMP NOT NULL,
	left_at   TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_sessions_uid ON sessions(uid);
`

// Journal is a relay.EventSink writing session rows to sqlite.
type Journal struct {
	db  *sql.DB
	log *zerolog.Logger
}

// Open creates or opens the journal database at path.
func Open(path string, logger *zerolog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db, log: logger}, nil
}

// ClientJoined records a new occupancy. A write failure is logged, never
// surfaced: the journal must not be able to take a session down.
func (j *Journal) ClientJoined(uid uint32, slot int, nickname, uniqueID string) {
	_, err := j.db.Exec(
		`INSERT INTO sessions (uid, slot, nickname, unique_id, joined_at) VALUES (?, ?, ?, ?, ?)`,
		uid, slot, nickname, uniqueID, time.Now().UTC(),
	)
	if err != nil {
		j.log.Warn().Err(err).Uint32("uid", uid).Msg("journal: record join failed")
	}
}

// ClientLeft stamps the departure time on the most recent session for uid.
func (j *Journal) ClientLeft(uid uint32, slot int) {
	_, err := j.db.Exec(
		`UPDATE sessions SET left_at = ? WHERE id = (
			SELECT id FROM sessions WHERE uid = ? ORDER BY id DESC LIMIT 1
		)`,
		time.Now().UTC(), uid,
	)
	if err != nil {
		j.log.Warn().Err(err).Uint32("uid", uid).Int("slot", slot).Msg("journal: record leave failed")
	}
}

// Close releases the database handle.
func (j *Journal) Close() error {
	return j.db.Close()
}
