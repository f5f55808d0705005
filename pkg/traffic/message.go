package traffic

import (
	"bytes"
	"slices"
	"strings"

	"piper/pkg/model"
)

// Direction 消息方向
type Direction string

const (
	DirectionRequest  Direction = "request"
	DirectionResponse Direction = "response"
)

// Message 在管线中流转的原始消息：完整字节与消息体起始偏移
type Message struct {
	Bytes      []byte
	BodyOffset int
	Direction  Direction
	Source     model.ToolSource
}

// NewMessage 以原始字节构造消息，自动定位消息体起点
func NewMessage(raw []byte, dir Direction, src model.ToolSource) Message {
	return Message{Bytes: raw, BodyOffset: FindBodyOffset(raw), Direction: dir, Source: src}
}

// IsRequest 是否为请求
func (m Message) IsRequest() bool { return m.Direction != DirectionResponse }

// Headers 头部字节（含结尾空行）
func (m Message) Headers() []byte {
	return m.Bytes[:m.offset()]
}

// Body 消息体字节
func (m Message) Body() []byte {
	return m.Bytes[m.offset():]
}

// Payload 按 passHeaders 决定送给外部进程的字节
func (m Message) Payload(passHeaders bool) []byte {
	if passHeaders {
		return m.Bytes
	}
	return m.Body()
}

// WithBody 保持头部字节原样，替换消息体
func (m Message) WithBody(body []byte) Message {
	head := m.Headers()
	out := make([]byte, 0, len(head)+len(body))
	out = append(out, head...)
	out = append(out, body...)
	m.Bytes = out
	m.BodyOffset = len(head)
	return m
}

// WithBytes 整体替换消息字节并重新定位消息体
func (m Message) WithBytes(raw []byte) Message {
	m.Bytes = slices.Clone(raw)
	m.BodyOffset = FindBodyOffset(raw)
	return m
}

// HeaderLines 头部各行（不含起始行与空行）
func (m Message) HeaderLines() []string {
	head := strings.ReplaceAll(string(m.Headers()), "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(head, "\n"), "\n")
	if len(lines) <= 1 {
		return nil
	}
	return lines[1:]
}

func (m Message) offset() int {
	if m.BodyOffset < 0 {
		return 0
	}
	if m.BodyOffset > len(m.Bytes) {
		return len(m.Bytes)
	}
	return m.BodyOffset
}

// FindBodyOffset 定位头部结束后的第一个字节，取最先出现的空行；找不到时整段视为头部
func FindBodyOffset(raw []byte) int {
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf + 4
	case lf >= 0:
		return lf + 2
	}
	return len(raw)
}

// Annotation 消息上的高亮与注释
type Annotation struct {
	Highlight model.Color
	Comment   string
}
