package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/rcon/internal/events"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Minute)

	for i, cmd := range []string{"status", "version", "uptime"} {
		require.NoError(t, s.Record(ctx, Record{
			Time:     base.Add(time.Duration(i) * time.Second),
			Endpoint: "127.0.0.1:9990",
			Peer:     "repeater1",
			Sequence: uint32(i + 1),
			Command:  cmd,
			Status:   "ok",
			Output:   "output of " + cmd,
			Elapsed:  time.Duration(i+1) * time.Millisecond,
		}))
	}
	require.NoError(t, s.Record(ctx, Record{Command: "status", Status: "failed", ErrorKind: "command_timeout", Peer: "other"}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	records, err := s.Recent(ctx, Query{Limit: 2, Peer: "repeater1"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "uptime", records[0].Command)
	assert.Equal(t, "version", records[1].Command)
	assert.Equal(t, 3*time.Millisecond, records[0].Elapsed)
	assert.NotEmpty(t, records[0].ID)
	assert.WithinDuration(t, base.Add(2*time.Second), records[0].Time, time.Millisecond)

	all, err := s.Recent(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "command_timeout", all[0].ErrorKind)
}

func TestStore_Prune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, Record{Time: time.Now().Add(-48 * time.Hour), Command: "old", Status: "ok"}))
	require.NoError(t, s.Record(ctx, Record{Command: "new", Status: "ok"}))

	removed, err := s.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	records, err := s.Recent(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "new", records[0].Command)
}

func TestStore_AttachRecordsCommandEvents(t *testing.T) {
	s := openStore(t)
	bus := events.NewEventBus()
	s.Attach(bus)

	ctx := context.Background()
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type:      events.EventCommandCompleted,
		SessionID: "sess-1",
		Payload: events.CommandPayload{
			Endpoint: "10.0.0.1:9990",
			Sequence: 4,
			Command:  "status",
			Status:   "ok",
			Output:   "running",
			Elapsed:  5 * time.Millisecond,
		},
	}))
	require.NoError(t, bus.EmitSync(ctx, events.Event{
		Type: events.EventCommandFailed,
		Payload: events.CommandPayload{
			Command:   "restart",
			Status:    "failed",
			ErrorKind: "session_lost",
			Error:     "session lost",
		},
	}))

	// Payloads of another type are rejected, not stored.
	err := bus.EmitSync(ctx, events.Event{Type: events.EventCommandFailed, Payload: "bogus"})
	assert.Error(t, err)

	records, err := s.Recent(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "restart", records[0].Command)
	assert.Equal(t, "session_lost", records[0].ErrorKind)
	assert.Equal(t, "sess-1", records[1].SessionID)
	assert.Equal(t, uint32(4), records[1].Sequence)
}
