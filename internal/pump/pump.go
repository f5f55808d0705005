// Package pump 将运行中进程的输出流按序、非阻塞地送入消费端
package pump

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
)

// ErrClosedEarly 数据源在 EOF 之前被关闭
var ErrClosedEarly = errors.New("pump: stream closed early")

// Status 流结束状态
type Status int

const (
	StatusEOF         Status = iota // 读到 EOF，数据完整
	StatusClosedEarly               // 取消或超时，数据可能不完整
	StatusFailed                    // 读取出错
)

func (s Status) String() string {
	switch s {
	case StatusEOF:
		return "eof"
	case StatusClosedEarly:
		return "closed_early"
	case StatusFailed:
		return "failed"
	}
	return "unknown"
}

// Sink 输出消费端；Deliver 按产生顺序调用，Close 在所有数据之后调用且仅调用一次
type Sink interface {
	Deliver(chunk []byte)
	Close(status Status, err error)
}

type options struct {
	loop    *Loop
	bufSize int
}

// Option Pump 选项
type Option func(*options)

// OnLoop 所有回调投递到指定 Loop 上执行
func OnLoop(l *Loop) Option {
	return func(o *options) { o.loop = l }
}

// BufferSize 单次读取缓冲大小
func BufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufSize = n
		}
	}
}

// Handle 运行中的 Pump
type Handle struct {
	cancel   context.CancelFunc
	readDone chan struct{}
	done     chan struct{}
	bytes    atomic.Int64
	status   Status
	err      error
}

// Pump 启动后台读取，立即返回
func Pump(ctx context.Context, src io.Reader, sink Sink, opts ...Option) *Handle {
	o := options{bufSize: 32 * 1024}
	for _, fn := range opts {
		fn(&o)
	}
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel:   cancel,
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go h.closeOnCancel(ctx, src)
	go h.run(ctx, src, sink, o)
	return h
}

// Wait 阻塞直到消费端已收到结束信号
func (h *Handle) Wait() (Status, error) {
	<-h.done
	return h.status, h.err
}

// Done 结束信号通道
func (h *Handle) Done() <-chan struct{} { return h.done }

// Cancel 提前终止，已读取的数据仍会送达
func (h *Handle) Cancel() { h.cancel() }

// Bytes 已读取的字节数
func (h *Handle) Bytes() int64 { return h.bytes.Load() }

// closeOnCancel 取消时关闭可关闭的数据源以打断阻塞中的 Read
func (h *Handle) closeOnCancel(ctx context.Context, src io.Reader) {
	select {
	case <-h.readDone:
		return
	case <-ctx.Done():
	}
	select {
	case <-h.readDone:
		return
	default:
	}
	if c, ok := src.(io.Closer); ok {
		_ = c.Close()
	}
}

func (h *Handle) run(ctx context.Context, src io.Reader, sink Sink, o options) {
	defer h.cancel()

	deliver := func(fn func()) error {
		if o.loop == nil {
			fn()
			return nil
		}
		return o.loop.Post(fn)
	}

	status, cause := StatusEOF, error(nil)
	buf := make([]byte, o.bufSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.bytes.Add(int64(n))
			if err := deliver(func() { sink.Deliver(chunk) }); err != nil {
				status, cause = StatusFailed, err
				// 继续读空数据源，写端才不会阻塞；取消时 closeOnCancel 会打断
				_, _ = io.Copy(io.Discard, src)
				break
			}
		}
		if rerr != nil {
			switch {
			case errors.Is(rerr, io.EOF):
			case ctx.Err() != nil:
				status, cause = StatusClosedEarly, context.Cause(ctx)
			case errors.Is(rerr, ErrClosedEarly), errors.Is(rerr, io.ErrClosedPipe):
				status, cause = StatusClosedEarly, rerr
			default:
				status, cause = StatusFailed, rerr
			}
			break
		}
		if ctx.Err() != nil {
			status, cause = StatusClosedEarly, context.Cause(ctx)
			break
		}
	}
	close(h.readDone)

	h.status, h.err = status, cause
	flushed := make(chan struct{})
	if err := deliver(func() {
		sink.Close(status, cause)
		close(flushed)
	}); err != nil {
		h.status, h.err = StatusFailed, err
		close(flushed)
	}
	<-flushed
	close(h.done)
}
