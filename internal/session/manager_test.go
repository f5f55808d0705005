package session

import (
	"testing"

	"piper/internal/dispatcher"
	"piper/pkg/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestManager_Lifecycle(t *testing.T) {
	m := NewManager(dispatcher.New(nil, dispatcher.Options{}), nil)

	a := m.Create(model.SessionConfig{DevToolsURL: "http://127.0.0.1:9222"})
	b := m.Create(model.SessionConfig{Concurrency: 2, PendingCapacity: 4})
	_, err := uuid.Parse(string(a.ID))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 8, a.Config.Concurrency)
	assert.Equal(t, 64, cap(a.events))
	assert.Equal(t, 4, cap(b.events))
	assert.NotNil(t, a.Browser())
	assert.NotNil(t, a.Handler())

	got, err := m.Get(a.ID)
	require.NoError(t, err)
	assert.Same(t, a, got)
	assert.Len(t, m.List(), 2)

	require.NoError(t, m.Delete(a.ID))
	_, err = m.Get(a.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete(a.ID), ErrNotFound)

	require.NoError(t, m.CloseAll())
	assert.Empty(t, m.List())
	assert.NoError(t, b.Close(), "close is idempotent")
}
