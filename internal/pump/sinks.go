package pump

import (
	"bytes"
	"sync"
)

// BufferSink 累积输出到内存，limit>0 时超出部分丢弃并标记截断
type BufferSink struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
	closed    bool
	status    Status
	err       error
	done      chan struct{}
}

// NewBufferSink 创建 BufferSink
func NewBufferSink(limit int) *BufferSink {
	return &BufferSink{limit: limit, done: make(chan struct{})}
}

func (b *BufferSink) Deliver(chunk []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 {
		room := b.limit - b.buf.Len()
		if room <= 0 {
			b.truncated = true
			return
		}
		if len(chunk) > room {
			chunk = chunk[:room]
			b.truncated = true
		}
	}
	b.buf.Write(chunk)
}

func (b *BufferSink) Close(status Status, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.status, b.err = status, err
	close(b.done)
}

// Bytes 当前累积内容的副本
func (b *BufferSink) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}

// String 当前累积内容
func (b *BufferSink) String() string { return string(b.Bytes()) }

// Truncated 是否因超出上限丢弃过数据
func (b *BufferSink) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}

// Done 收到 Close 后关闭
func (b *BufferSink) Done() <-chan struct{} { return b.done }

// Status 结束状态，Done 之前无意义
func (b *BufferSink) Status() (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status, b.err
}

// LineSink 按行回调，行尾的 \r 会被去掉；结束时未换行的残余作为最后一行送出
type LineSink struct {
	partial []byte
	onLine  func(line string)
	onClose func(status Status, err error)
}

// NewLineSink 创建 LineSink，onClose 可为 nil
func NewLineSink(onLine func(string), onClose func(Status, error)) *LineSink {
	return &LineSink{onLine: onLine, onClose: onClose}
}

func (l *LineSink) Deliver(chunk []byte) {
	l.partial = append(l.partial, chunk...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		l.emit(l.partial[:i])
		l.partial = l.partial[i+1:]
	}
	if len(l.partial) == 0 {
		l.partial = nil
	}
}

func (l *LineSink) Close(status Status, err error) {
	if len(l.partial) > 0 {
		l.emit(l.partial)
		l.partial = nil
	}
	if l.onClose != nil {
		l.onClose(status, err)
	}
}

func (l *LineSink) emit(line []byte) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if l.onLine != nil {
		l.onLine(string(line))
	}
}

// FuncSink 以函数实现 Sink
type FuncSink struct {
	OnData  func(chunk []byte)
	OnClose func(status Status, err error)
}

func (f FuncSink) Deliver(chunk []byte) {
	if f.OnData != nil {
		f.OnData(chunk)
	}
}

func (f FuncSink) Close(status Status, err error) {
	if f.OnClose != nil {
		f.OnClose(status, err)
	}
}

// Tee 将同一份输出广播到多个 Sink
func Tee(sinks ...Sink) Sink {
	out := make(teeSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type teeSink []Sink

func (t teeSink) Deliver(chunk []byte) {
	for _, s := range t {
		s.Deliver(chunk)
	}
}

func (t teeSink) Close(status Status, err error) {
	for _, s := range t {
		s.Close(status, err)
	}
}
