package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"piper/internal/executor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{DSN: filepath.Join(t.TempDir(), "piper.db"), Prefix: "piper_"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSettings(t *testing.T) {
	s := openTemp(t)

	v, err := s.GetBytes("missing")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.SetBytes("cfg", []byte{1, 2, 3}))
	require.NoError(t, s.SetBytes("cfg", []byte{4, 5}))
	v, err = s.GetBytes("cfg")
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5}, v)

	assert.True(t, s.db.Migrator().HasTable("piper_settings"))
}

func TestInvocationAudit(t *testing.T) {
	s := openTemp(t)
	audit := s.AuditFunc()
	now := time.Now()

	audit(executor.AuditEvent{Type: executor.AuditStart, ID: "a"})
	audit(executor.AuditEvent{Type: executor.AuditComplete, ID: "a", Argv: []string{"cat", "-n"}, Duration: 1500 * time.Millisecond, Timestamp: now})
	audit(executor.AuditEvent{Type: executor.AuditFailed, ID: "b", Argv: []string{"nope"}, Err: errors.New("not found"), Timestamp: now.Add(time.Second)})

	rows, err := s.RecentInvocations(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].ID)
	assert.Equal(t, "not found", rows[0].Error)
	assert.Equal(t, []string{"cat", "-n"}, rows[1].Argv)
	assert.EqualValues(t, 1500, rows[1].DurationMS)

	n, err := s.PruneInvocations(context.Background(), now.Add(500*time.Millisecond))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)
}
