package pump

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingSink 记录回调顺序以及回调是否在 Loop 上执行
type recordingSink struct {
	mu       sync.Mutex
	loop     *Loop
	events   []string
	offLoop  int
	status   Status
	closeErr error
}

func (r *recordingSink) Deliver(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loop != nil && !r.loop.Executing() {
		r.offLoop++
	}
	r.events = append(r.events, "data:"+string(chunk))
}

func (r *recordingSink) Close(status Status, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loop != nil && !r.loop.Executing() {
		r.offLoop++
	}
	r.events = append(r.events, "close:"+status.String())
	r.status, r.closeErr = status, err
}

func (r *recordingSink) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestPump_DeliversOnLoopBeforeCompletion(t *testing.T) {
	loop := NewLoop(8)
	defer loop.Close()

	sink := &recordingSink{loop: loop}
	h := Pump(context.Background(), strings.NewReader("hello\n"), sink, OnLoop(loop))

	status, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, StatusEOF, status)
	assert.Equal(t, []string{"data:hello\n", "close:eof"}, sink.snapshot())
	assert.Zero(t, sink.offLoop)
	assert.EqualValues(t, 6, h.Bytes())
}

func TestPump_PreservesOrderAcrossChunks(t *testing.T) {
	loop := NewLoop(2)
	defer loop.Close()

	var got strings.Builder
	input := strings.Repeat("0123456789", 500)
	h := Pump(context.Background(), strings.NewReader(input), FuncSink{
		OnData: func(c []byte) { got.Write(c) },
	}, OnLoop(loop), BufferSize(7))

	status, _ := h.Wait()
	assert.Equal(t, StatusEOF, status)
	assert.Equal(t, input, got.String())
}

func TestPump_Inline(t *testing.T) {
	sink := NewBufferSink(0)
	h := Pump(context.Background(), strings.NewReader("abc"), sink)
	status, err := h.Wait()
	require.NoError(t, err)
	assert.Equal(t, StatusEOF, status)
	assert.Equal(t, "abc", sink.String())
	<-sink.Done()
}

func TestPump_CancelClosesEarly(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	sink := NewBufferSink(0)
	h := Pump(context.Background(), pr, sink)

	_, err := pw.Write([]byte("partial"))
	require.NoError(t, err)
	h.Cancel()

	status, _ := h.Wait()
	assert.Equal(t, StatusClosedEarly, status)
	assert.Equal(t, "partial", sink.String())
	st, _ := sink.Status()
	assert.Equal(t, StatusClosedEarly, st)
}

func TestPump_ContextTimeout(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	h := Pump(ctx, pr, NewBufferSink(0))
	status, err := h.Wait()
	assert.Equal(t, StatusClosedEarly, status)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPump_WriterSignalsClosedEarly(t *testing.T) {
	pr, pw := io.Pipe()
	sink := NewBufferSink(0)
	h := Pump(context.Background(), pr, sink)

	_, _ = pw.Write([]byte("x"))
	pw.CloseWithError(ErrClosedEarly)

	status, err := h.Wait()
	assert.Equal(t, StatusClosedEarly, status)
	assert.ErrorIs(t, err, ErrClosedEarly)
	assert.Equal(t, "x", sink.String())
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestPump_ReadFailure(t *testing.T) {
	boom := errors.New("boom")
	h := Pump(context.Background(), failingReader{boom}, NewBufferSink(0))
	status, err := h.Wait()
	assert.Equal(t, StatusFailed, status)
	assert.ErrorIs(t, err, boom)
}

func TestPump_LoopClosed(t *testing.T) {
	loop := NewLoop(1)
	loop.Close()

	h := Pump(context.Background(), strings.NewReader("data"), NewBufferSink(0), OnLoop(loop))
	status, err := h.Wait()
	assert.Equal(t, StatusFailed, status)
	assert.ErrorIs(t, err, ErrLoopClosed)
}

func TestPump_LoopClosedKeepsDrainingSource(t *testing.T) {
	loop := NewLoop(1)
	loop.Close()

	pr, pw := io.Pipe()
	written := make(chan error, 1)
	go func() {
		for _, chunk := range []string{"a", "b", "c"} {
			if _, err := pw.Write([]byte(chunk)); err != nil {
				written <- err
				return
			}
		}
		written <- pw.Close()
	}()

	h := Pump(context.Background(), pr, NewBufferSink(0), OnLoop(loop))
	select {
	case err := <-written:
		assert.NoError(t, err, "writer must not be cut off")
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked after delivery failed")
	}
	status, err := h.Wait()
	assert.Equal(t, StatusFailed, status)
	assert.ErrorIs(t, err, ErrLoopClosed)
}

func TestBufferSink_Limit(t *testing.T) {
	s := NewBufferSink(5)
	s.Deliver([]byte("abc"))
	s.Deliver([]byte("defg"))
	s.Deliver([]byte("h"))
	assert.Equal(t, "abcde", s.String())
	assert.True(t, s.Truncated())

	s.Close(StatusEOF, nil)
	s.Close(StatusFailed, errors.New("ignored"))
	st, err := s.Status()
	assert.Equal(t, StatusEOF, st)
	assert.NoError(t, err)
}

func TestLineSink(t *testing.T) {
	var lines []string
	var closed Status = -1
	s := NewLineSink(func(l string) { lines = append(lines, l) }, func(st Status, _ error) { closed = st })

	s.Deliver([]byte("one\r\ntw"))
	s.Deliver([]byte("o\n\nthr"))
	s.Close(StatusEOF, nil)

	assert.Equal(t, []string{"one", "two", "", "thr"}, lines)
	assert.Equal(t, StatusEOF, closed)
}

func TestTee(t *testing.T) {
	a, b := NewBufferSink(0), NewBufferSink(2)
	s := Tee(a, nil, b)
	s.Deliver([]byte("xyz"))
	s.Close(StatusEOF, nil)
	assert.Equal(t, "xyz", a.String())
	assert.Equal(t, "xy", b.String())
	<-a.Done()
	<-b.Done()
}

func TestLoop_SerialAndOrdered(t *testing.T) {
	loop := NewLoop(4)
	var got []int
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, loop.Post(func() { got = append(got, i) }))
	}
	loop.Close()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
	assert.ErrorIs(t, loop.Post(func() {}), ErrLoopClosed)
	loop.Close()
}
