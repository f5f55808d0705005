package cdp

import (
	"context"
	"time"

	adapter "piper/internal/adapter/cdp"
	"piper/internal/handler"

	"github.com/mafredri/cdp/protocol/fetch"
)

// passThroughTimeout 降级放行单次调用的上限
const passThroughTimeout = time.Second

// watch 读取目标的 Fetch.requestPaused 事件直到流结束
func (m *Manager) watch(ts *targetSession) {
	stream, err := ts.client.Fetch.RequestPaused(ts.ctx)
	if err != nil {
		m.streamEnded(ts, err)
		return
	}
	defer stream.Close()

	m.log.Debug("事件流已建立", "target", string(ts.id))
	for {
		ev, err := stream.Recv()
		if err != nil {
			m.streamEnded(ts, err)
			return
		}
		m.route(ts, ev)
	}
}

// route 把事件交给工作池；池满或无处理器时原样放行
func (m *Manager) route(ts *targetSession, ev *fetch.RequestPausedReply) {
	if m.handler == nil {
		m.passThrough(ts, ev, "no handler")
		return
	}
	target := handler.Target{Session: m.session, ID: ts.id}
	job := func() { m.handler.Handle(ts.ctx, target, ts.client.Fetch, ev) }
	switch {
	case m.pool == nil:
		go job()
	case !m.pool.Submit(job):
		m.passThrough(ts, ev, "queue full")
	}
}

// streamEnded 事件流结束。主动关闭或已停用时只复位状态，否则视为目标失联并移除
func (m *Manager) streamEnded(ts *targetSession, err error) {
	m.targetsMu.Lock()
	defer m.targetsMu.Unlock()
	ts.consuming = false

	if ts.ctx.Err() != nil || !m.enabled.Load() {
		m.log.Debug("事件流结束", "target", string(ts.id))
		return
	}
	m.log.Err(err, "事件流中断，移除目标", "target", string(ts.id))
	if cur, ok := m.targets[ts.id]; ok && cur == ts {
		m.closeTargetSession(cur)
		delete(m.targets, ts.id)
	}
}

// passThrough 不经工具管线直接继续该请求或响应
func (m *Manager) passThrough(ts *targetSession, ev *fetch.RequestPausedReply, reason string) {
	m.log.Warn("降级放行", "target", string(ts.id), "reason", reason, "requestID", string(ev.RequestID))
	ctx, cancel := context.WithTimeout(ts.ctx, passThroughTimeout)
	defer cancel()

	var err error
	if adapter.IsResponseStage(ev) && ev.ResponseErrorReason == nil {
		err = ts.client.Fetch.ContinueResponse(ctx, fetch.NewContinueResponseArgs(ev.RequestID))
	} else {
		err = ts.client.Fetch.ContinueRequest(ctx, fetch.NewContinueRequestArgs(ev.RequestID))
	}
	if err != nil {
		m.log.Err(err, "降级放行失败", "target", string(ts.id), "requestID", string(ev.RequestID))
	}
}
