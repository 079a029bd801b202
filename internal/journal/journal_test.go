package journal

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()

	logger := zerolog.Nop()
	path := filepath.Join(t.TempDir(), "sessions.db")
	j, err := Open(path, &logger)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, path
}

func TestJournalRecordsSessions(t *testing.T) {
	j, path := openTestJournal(t)

	j.ClientJoined(1, 0, "alice", "alice-id")
	j.ClientJoined(2, 1, "bob", "bob-id")
	j.ClientLeft(1, 0)

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&count))
	require.Equal(t, 2, count)

	var nickname string
	var left sql.NullTime
	require.NoError(t, db.QueryRow(
		`SELECT nickname, left_at FROM sessions WHERE uid = 1`,
	).Scan(&nickname, &left))
	require.Equal(t, "alice", nickname)
	require.True(t, left.Valid, "departed session carries a leave timestamp")

	require.NoError(t, db.QueryRow(
		`SELECT nickname, left_at FROM sessions WHERE uid = 2`,
	).Scan(&nickname, &left))
	require.Equal(t, "bob", nickname)
	require.False(t, left.Valid, "active session has no leave timestamp")
}

func TestJournalStampsLatestSessionForReusedUIDOrder(t *testing.T) {
	j, path := openTestJournal(t)

	// Two occupancies of the same slot, distinct uids.
	j.ClientJoined(1, 0, "alice", "alice-id")
	j.ClientLeft(1, 0)
	j.ClientJoined(2, 0, "bob", "bob-id")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE slot = 0`).Scan(&count))
	require.Equal(t, 2, count)
}
