// Package rules 计算 MessageMatch 过滤条件树
package rules

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"piper/internal/executor"
	"piper/internal/logger"
	"piper/pkg/model"
	"piper/pkg/traffic"

	"github.com/tidwall/gjson"
)

// ScopeFunc 由宿主判断消息是否在目标范围内
type ScopeFunc func(msg traffic.Message) bool

// Engine 过滤条件求值器，Cmd 条件通过 Invoker 执行外部命令
type Engine struct {
	invoker executor.Invoker
	inScope ScopeFunc
	env     executor.Environment
	log     logger.Logger
}

// Option 引擎选项
type Option func(*Engine)

// WithScope 设置 InScope 条件的判定函数，未设置时 InScope 条件恒为真
func WithScope(fn ScopeFunc) Option { return func(e *Engine) { e.inScope = fn } }

// WithEnv 过滤命令使用的环境覆盖
func WithEnv(env executor.Environment) Option { return func(e *Engine) { e.env = env } }

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option { return func(e *Engine) { e.log = l } }

// New 创建引擎，inv 可为 nil，此时含 Cmd 的条件求值失败
func New(inv executor.Invoker, opts ...Option) *Engine {
	e := &Engine{invoker: inv, log: logger.NewNop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ErrNoInvoker 条件需要执行命令但未配置 Invoker
var ErrNoInvoker = errors.New("rules: command condition without invoker")

// Match 计算条件树，m 为 nil 时视为匹配。
// 非空条件之间为与关系；AndAlso 全部满足；OrElse 任一满足；Negation 对整体取反
func (e *Engine) Match(ctx context.Context, m *model.MessageMatch, msg traffic.Message) (bool, error) {
	if m == nil {
		return true, nil
	}
	ok, err := e.matchAll(ctx, m, msg)
	if err != nil {
		return false, err
	}
	return ok != m.Negation, nil
}

func (e *Engine) matchAll(ctx context.Context, m *model.MessageMatch, msg traffic.Message) (bool, error) {
	data := msg.Bytes
	if m.Prefix != "" && !bytes.HasPrefix(data, []byte(m.Prefix)) {
		return false, nil
	}
	if m.Postfix != "" && !bytes.HasSuffix(data, []byte(m.Postfix)) {
		return false, nil
	}
	if m.Regex != nil {
		ok, err := matchRegex(*m.Regex, data)
		if err != nil || !ok {
			return false, err
		}
	}
	if m.Header != nil {
		ok, err := matchHeader(*m.Header, msg)
		if err != nil || !ok {
			return false, err
		}
	}
	if m.JSONPath != nil {
		ok, err := matchJSONPath(*m.JSONPath, msg.Body())
		if err != nil || !ok {
			return false, err
		}
	}
	if m.InScope && e.inScope != nil && !e.inScope(msg) {
		return false, nil
	}
	if m.Cmd != nil {
		ok, err := e.CommandMatches(ctx, *m.Cmd, msg.Payload(m.Cmd.PassHeaders))
		if err != nil || !ok {
			return false, err
		}
	}
	for i := range m.AndAlso {
		ok, err := e.Match(ctx, &m.AndAlso[i], msg)
		if err != nil || !ok {
			return false, err
		}
	}
	if len(m.OrElse) > 0 {
		var firstErr error
		for i := range m.OrElse {
			ok, err := e.Match(ctx, &m.OrElse[i], msg)
			if err != nil {
				firstErr = cmpErr(firstErr, err)
				continue
			}
			if ok {
				return true, nil
			}
		}
		return false, firstErr
	}
	return true, nil
}

// CommandMatches 执行命令：退出码在接受集合内且 stdout/stderr 过滤都满足时为匹配。
// 非零退出不是错误，只影响匹配结果；无法启动、超时等错误会返回
func (e *Engine) CommandMatches(ctx context.Context, cmd model.CommandInvocation, payload []byte) (bool, error) {
	if e.invoker == nil {
		return false, ErrNoInvoker
	}
	res, err := e.invoker.Invoke(ctx, cmd, payload, e.env)
	var ee *executor.ExecutionError
	if err != nil && !errors.As(err, &ee) {
		return false, fmt.Errorf("filter command %q: %w", cmd.Executable(), err)
	}
	return e.OutputMatches(ctx, cmd, res)
}

// OutputMatches 根据已完成调用的结果判断命令是否匹配
func (e *Engine) OutputMatches(ctx context.Context, cmd model.CommandInvocation, res *executor.Result) (bool, error) {
	if res == nil {
		return false, nil
	}
	if !cmd.AcceptsExitCode(res.ExitCode) {
		e.log.Debug("过滤命令退出码不匹配", "cmd", cmd.Executable(), "exitCode", res.ExitCode)
		return false, nil
	}
	for _, f := range []struct {
		m   *model.MessageMatch
		out []byte
	}{{cmd.Stdout, res.Stdout}, {cmd.Stderr, res.Stderr}} {
		if f.m == nil {
			continue
		}
		ok, err := e.Match(ctx, f.m, traffic.Message{Bytes: f.out, Direction: traffic.DirectionResponse})
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func matchHeader(h model.HeaderMatch, msg traffic.Message) (bool, error) {
	for _, line := range msg.HeaderLines() {
		name, value, ok := strings.Cut(line, ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(name), h.Header) {
			continue
		}
		matched, err := matchRegex(h.Regex, []byte(strings.TrimSpace(value)))
		if err != nil {
			return false, err
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

// matchJSONPath 路径语法为 gjson path；Regex 为空时只要求路径存在
func matchJSONPath(j model.JSONPathMatch, body []byte) (bool, error) {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return false, nil
	}
	res := gjson.GetBytes(body, j.Path)
	if !res.Exists() {
		return false, nil
	}
	if j.Regex == nil {
		return true, nil
	}
	val := res.String()
	if res.Type == gjson.JSON {
		val = res.Raw
	}
	return matchRegex(*j.Regex, []byte(val))
}

func cmpErr(first, next error) error {
	if first != nil {
		return first
	}
	return next
}
