// Package cdp 通过 Chrome DevTools 的 Fetch 拦截接入流量
package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"piper/internal/handler"
	"piper/internal/logger"
	"piper/internal/pool"
	"piper/pkg/model"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/rpcc"
)

var (
	// ErrNoTarget 没有可附加的页面目标
	ErrNoTarget = errors.New("cdp: no matching target")
	// ErrNotAttached 目标未附加
	ErrNotAttached = errors.New("cdp: target not attached")
)

// Options 管理器选项
type Options struct {
	Session     model.SessionID
	DevToolsURL string
	Handler     *handler.Handler
	Pool        *pool.Pool // 为空时每个事件一个 goroutine
	Logger      logger.Logger
}

// Manager 管理一次会话中附加的浏览器目标
type Manager struct {
	session     model.SessionID
	devtoolsURL string
	handler     *handler.Handler
	pool        *pool.Pool
	log         logger.Logger

	enabled   atomic.Bool
	targetsMu sync.Mutex
	targets   map[model.TargetID]*targetSession
}

type targetSession struct {
	id     model.TargetID
	conn   *rpcc.Conn
	client *cdp.Client
	ctx    context.Context
	cancel context.CancelFunc

	consuming bool // 受 targetsMu 保护
}

// New 创建管理器
func New(opts Options) *Manager {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		session:     opts.Session,
		devtoolsURL: opts.DevToolsURL,
		handler:     opts.Handler,
		pool:        opts.Pool,
		log:         l.With("component", "cdp", "session", string(opts.Session)),
		targets:     make(map[model.TargetID]*targetSession),
	}
}

// ListTargets 列出浏览器中的页面目标
func (m *Manager) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("cdp: list targets: %w", err)
	}
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	out := make([]model.TargetInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		_, attached := m.targets[model.TargetID(t.ID)]
		out = append(out, model.TargetInfo{
			ID:        model.TargetID(t.ID),
			Type:      string(t.Type),
			URL:       t.URL,
			Title:     t.Title,
			IsCurrent: attached,
			IsUser:    !isInternalURL(t.URL),
		})
	}
	return out, nil
}

// AttachTarget 附加目标；id 为空时选择第一个用户页面
func (m *Manager) AttachTarget(ctx context.Context, id model.TargetID) (model.TargetID, error) {
	targets, err := devtool.New(m.devtoolsURL).List(ctx)
	if err != nil {
		return "", fmt.Errorf("cdp: list targets: %w", err)
	}
	var sel *devtool.Target
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		if (id == "" && !isInternalURL(t.URL)) || string(t.ID) == string(id) {
			sel = t
			break
		}
	}
	if sel == nil {
		return "", fmt.Errorf("%w: %q", ErrNoTarget, id)
	}
	tid := model.TargetID(sel.ID)

	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	if _, ok := m.targets[tid]; ok {
		return tid, nil
	}

	tctx, cancel := context.WithCancel(context.Background())
	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return "", fmt.Errorf("cdp: dial %s: %w", tid, err)
	}
	ts := &targetSession{id: tid, conn: conn, client: cdp.NewClient(conn), ctx: tctx, cancel: cancel}
	m.targets[tid] = ts
	m.log.Info("已附加目标", "target", string(tid), "url", sel.URL)

	if m.enabled.Load() {
		if err := m.enableTarget(ts); err != nil {
			m.closeTargetSession(ts)
			delete(m.targets, tid)
			return "", err
		}
	}
	return tid, nil
}

// DetachTarget 分离目标并关闭连接
func (m *Manager) DetachTarget(id model.TargetID) error {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	ts, ok := m.targets[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotAttached, id)
	}
	m.closeTargetSession(ts)
	delete(m.targets, id)
	m.log.Info("已分离目标", "target", string(id))
	return nil
}

// Enable 在所有已附加目标上启用请求与响应两个阶段的拦截
func (m *Manager) Enable() error {
	m.enabled.Store(true)
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	var errs []error
	for _, ts := range m.targets {
		if err := m.enableTarget(ts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Disable 停止拦截，已附加的目标保持连接
func (m *Manager) Disable() error {
	m.enabled.Store(false)
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	var errs []error
	for _, ts := range m.targets {
		if err := ts.client.Fetch.Disable(ts.ctx); err != nil {
			errs = append(errs, fmt.Errorf("cdp: disable %s: %w", ts.id, err))
		}
	}
	return errors.Join(errs...)
}

// Close 分离全部目标
func (m *Manager) Close() error {
	m.enabled.Store(false)
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	for id, ts := range m.targets {
		m.closeTargetSession(ts)
		delete(m.targets, id)
	}
	return nil
}

func (m *Manager) enableTarget(ts *targetSession) error {
	if err := ts.client.Network.Enable(ts.ctx, network.NewEnableArgs()); err != nil {
		return fmt.Errorf("cdp: network enable %s: %w", ts.id, err)
	}
	p := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &p, RequestStage: fetch.RequestStageRequest},
		{URLPattern: &p, RequestStage: fetch.RequestStageResponse},
	}
	if err := ts.client.Fetch.Enable(ts.ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		return fmt.Errorf("cdp: fetch enable %s: %w", ts.id, err)
	}
	if !ts.consuming {
		ts.consuming = true
		go m.watch(ts)
	}
	m.log.Info("已启用拦截", "target", string(ts.id))
	return nil
}

func (m *Manager) closeTargetSession(ts *targetSession) {
	ts.cancel()
	if err := ts.conn.Close(); err != nil {
		m.log.Debug("关闭目标连接出错", "target", string(ts.id), "error", err)
	}
}

func isInternalURL(u string) bool {
	for _, p := range []string{"chrome://", "devtools://", "chrome-extension://", "edge://", "about:"} {
		if strings.HasPrefix(u, p) {
			return true
		}
	}
	return false
}
