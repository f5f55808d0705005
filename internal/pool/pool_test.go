package pool

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubmit_RunsAll(t *testing.T) {
	p := New(3, 16)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		assert.True(t, p.Submit(func() { n.Add(1) }))
	}
	p.Stop()
	assert.Equal(t, int32(10), n.Load())
}

func TestSubmit_FullQueueRejects(t *testing.T) {
	p := New(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	assert.True(t, p.Submit(func() {
		close(started)
		<-release
	}))
	<-started
	assert.True(t, p.Submit(func() {}))
	assert.Equal(t, 1, p.Pending())
	assert.False(t, p.Submit(func() {}), "queue is full")
	close(release)
	p.Stop()
}

func TestStop_RejectsAndIsIdempotent(t *testing.T) {
	p := New(0, 0)
	p.Stop()
	p.Stop()
	assert.False(t, p.Submit(func() {}))
}
