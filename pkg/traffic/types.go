package traffic

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"piper/pkg/model"
)

// ErrMalformed 原始字节不是可识别的 HTTP/1.x 消息
var ErrMalformed = errors.New("traffic: malformed message")

// Field 单个头部字段，保留原始大小写
type Field struct {
	Name  string
	Value string
}

// Header 有序头部列表，按名称查找时大小写不敏感
type Header []Field

// Get 获取第一个同名字段的值
func (h Header) Get(name string) string {
	for _, f := range h {
		if strings.EqualFold(f.Name, name) {
			return f.Value
		}
	}
	return ""
}

// Set 替换第一个同名字段并删除其余同名字段，不存在时追加
func (h *Header) Set(name, value string) {
	out := (*h)[:0]
	found := false
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
			continue
		}
		if !found {
			out = append(out, Field{Name: f.Name, Value: value})
			found = true
		}
	}
	if !found {
		out = append(out, Field{Name: name, Value: value})
	}
	*h = out
}

// Del 删除所有同名字段
func (h *Header) Del(name string) {
	out := (*h)[:0]
	for _, f := range *h {
		if !strings.EqualFold(f.Name, name) {
			out = append(out, f)
		}
	}
	*h = out
}

// Request 拆开的请求：起始行、头部与消息体
type Request struct {
	Method string
	Target string // 请求目标，路径加查询串
	Proto  string
	Header Header
	Body   []byte
}

// Response 拆开的响应
type Response struct {
	Proto      string
	StatusCode int
	Status     string // 原因短语，为空时按状态码补全
	Header     Header
	Body       []byte
}

// Message 渲染为原始 HTTP/1.1 请求字节
func (r *Request) Message(src model.ToolSource) Message {
	proto := r.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	target := r.Target
	if target == "" {
		target = "/"
	}
	return render(r.Method+" "+target+" "+proto, r.Header, r.Body, DirectionRequest, src)
}

// Message 渲染为原始 HTTP/1.1 响应字节
func (r *Response) Message(src model.ToolSource) Message {
	proto := r.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	status := r.Status
	if status == "" {
		status = http.StatusText(r.StatusCode)
	}
	line := proto + " " + strconv.Itoa(r.StatusCode)
	if status != "" {
		line += " " + status
	}
	return render(line, r.Header, r.Body, DirectionResponse, src)
}

func render(start string, h Header, body []byte, dir Direction, src model.ToolSource) Message {
	var b strings.Builder
	b.WriteString(start)
	b.WriteString("\r\n")
	for _, f := range h {
		b.WriteString(f.Name)
		b.WriteString(": ")
		b.WriteString(f.Value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	head := b.Len()
	raw := make([]byte, 0, head+len(body))
	raw = append(raw, b.String()...)
	raw = append(raw, body...)
	return Message{Bytes: raw, BodyOffset: head, Direction: dir, Source: src}
}

// ParseRequest 从原始字节还原请求，换行可以是 CRLF 或 LF
func ParseRequest(m Message) (*Request, error) {
	start, h, err := splitHead(m)
	if err != nil {
		return nil, err
	}
	parts := strings.Fields(start)
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, fmt.Errorf("%w: request line %q", ErrMalformed, start)
	}
	return &Request{Method: parts[0], Target: parts[1], Proto: parts[2], Header: h, Body: m.Body()}, nil
}

// ParseResponse 从原始字节还原响应
func ParseResponse(m Message) (*Response, error) {
	start, h, err := splitHead(m)
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(start, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return nil, fmt.Errorf("%w: status line %q", ErrMalformed, start)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 999 {
		return nil, fmt.Errorf("%w: status code %q", ErrMalformed, parts[1])
	}
	res := &Response{Proto: parts[0], StatusCode: code, Header: h, Body: m.Body()}
	if len(parts) == 3 {
		res.Status = strings.TrimSpace(parts[2])
	}
	return res, nil
}

func splitHead(m Message) (string, Header, error) {
	head := strings.ReplaceAll(string(m.Headers()), "\r\n", "\n")
	start, _, _ := strings.Cut(head, "\n")
	start = strings.TrimSpace(start)
	if start == "" {
		return "", nil, fmt.Errorf("%w: empty start line", ErrMalformed)
	}
	var h Header
	for _, line := range m.HeaderLines() {
		if strings.TrimSpace(line) == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return "", nil, fmt.Errorf("%w: header line %q", ErrMalformed, line)
		}
		h = append(h, Field{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}
	return start, h, nil
}
