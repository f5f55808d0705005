package cdp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"piper/pkg/model"
	"piper/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
)

// 由浏览器自行计算或不允许改写的头部
var managedHeaders = []string{"Host", "Content-Length"}

// ToRequest 将拦截事件转换为请求模型，Host 头取自 URL
func ToRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := &traffic.Request{Method: ev.Request.Method, Target: "/"}
	if u, err := url.Parse(ev.Request.URL); err == nil {
		req.Target = u.RequestURI()
		req.Header = append(req.Header, traffic.Field{Name: "Host", Value: u.Host})
	}

	var headers map[string]string
	if len(ev.Request.Headers) > 0 {
		if err := json.Unmarshal(ev.Request.Headers, &headers); err == nil {
			names := make([]string, 0, len(headers))
			for k := range headers {
				if !strings.EqualFold(k, "host") {
					names = append(names, k)
				}
			}
			sort.Strings(names)
			for _, k := range names {
				req.Header = append(req.Header, traffic.Field{Name: k, Value: headers[k]})
			}
		}
	}
	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
	}
	return req
}

// ToResponse 将响应阶段的拦截事件与响应体转换为响应模型
func ToResponse(ev *fetch.RequestPausedReply, body []byte) *traffic.Response {
	res := &traffic.Response{Body: body}
	if ev.ResponseStatusCode != nil {
		res.StatusCode = *ev.ResponseStatusCode
	}
	if ev.ResponseStatusText != nil {
		res.Status = *ev.ResponseStatusText
	}
	for _, h := range ev.ResponseHeaders {
		res.Header = append(res.Header, traffic.Field{Name: h.Name, Value: h.Value})
	}
	return res
}

// RequestMessage 请求阶段的原始消息，来源固定为代理
func RequestMessage(ev *fetch.RequestPausedReply) traffic.Message {
	return ToRequest(ev).Message(model.SourceProxy)
}

// ResponseMessage 响应阶段的原始消息
func ResponseMessage(ev *fetch.RequestPausedReply, body []byte) traffic.Message {
	return ToResponse(ev, body).Message(model.SourceProxy)
}

// IsResponseStage 事件是否处于响应阶段
func IsResponseStage(ev *fetch.RequestPausedReply) bool {
	return ev.ResponseStatusCode != nil || ev.ResponseErrorReason != nil
}

// DecodeBody 解码 Fetch.getResponseBody 的返回
func DecodeBody(reply *fetch.GetResponseBodyReply) ([]byte, error) {
	if reply == nil {
		return nil, nil
	}
	if !reply.Base64Encoded {
		return []byte(reply.Body), nil
	}
	b, err := base64.StdEncoding.DecodeString(reply.Body)
	if err != nil {
		return nil, fmt.Errorf("decode response body: %w", err)
	}
	return b, nil
}

// ContinueArgs 将改写后的请求消息转换为继续请求的参数；URL 保留原始的协议，主机取 Host 头
func ContinueArgs(ev *fetch.RequestPausedReply, msg traffic.Message) (*fetch.ContinueRequestArgs, error) {
	req, err := traffic.ParseRequest(msg)
	if err != nil {
		return nil, err
	}
	orig, err := url.Parse(ev.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", ev.Request.URL, err)
	}
	target, err := url.ParseRequestURI(req.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: request target %q", traffic.ErrMalformed, req.Target)
	}
	target.Scheme = orig.Scheme
	target.Host = orig.Host
	if h := req.Header.Get("Host"); h != "" {
		target.Host = h
	}
	u := target.String()
	method := req.Method

	args := fetch.NewContinueRequestArgs(ev.RequestID)
	args.URL = &u
	args.Method = &method
	args.Headers = ToHeaderEntries(req.Header)
	if len(req.Body) > 0 {
		args.PostData = req.Body
	}
	return args, nil
}

// FulfillArgs 将改写后的响应消息转换为直接应答的参数
func FulfillArgs(ev *fetch.RequestPausedReply, msg traffic.Message) (*fetch.FulfillRequestArgs, error) {
	res, err := traffic.ParseResponse(msg)
	if err != nil {
		return nil, err
	}
	args := fetch.NewFulfillRequestArgs(ev.RequestID, res.StatusCode)
	args.ResponseHeaders = ToHeaderEntries(res.Header)
	args.Body = res.Body
	if res.Status != "" {
		phrase := res.Status
		args.ResponsePhrase = &phrase
	}
	return args, nil
}

// ToHeaderEntries 将头部转换为 CDP 头部条目，跳过由浏览器管理的字段
func ToHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for _, f := range h {
		if managed(f.Name) {
			continue
		}
		entries = append(entries, fetch.HeaderEntry{Name: f.Name, Value: f.Value})
	}
	return entries
}

func managed(name string) bool {
	for _, m := range managedHeaders {
		if strings.EqualFold(m, name) {
			return true
		}
	}
	return false
}
