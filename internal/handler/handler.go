package handler

import (
	"bytes"
	"context"
	"time"

	cdpadapter "piper/internal/adapter/cdp"
	"piper/internal/ctxkeys"
	"piper/internal/dispatcher"
	"piper/internal/logger"
	"piper/pkg/model"
	"piper/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
)

// Fetcher 处理器用到的 Fetch 域命令，*cdp.Client 的 Fetch 字段满足该接口
type Fetcher interface {
	ContinueRequest(ctx context.Context, args *fetch.ContinueRequestArgs) error
	ContinueResponse(ctx context.Context, args *fetch.ContinueResponseArgs) error
	FulfillRequest(ctx context.Context, args *fetch.FulfillRequestArgs) error
	GetResponseBody(ctx context.Context, args *fetch.GetResponseBodyArgs) (*fetch.GetResponseBodyReply, error)
}

// Handler 事件处理器：把拦截到的消息交给工具管线，按结果放行或改写，再通知监听器与注释工具
type Handler struct {
	dispatcher *dispatcher.Dispatcher
	events     chan<- model.Event
	timeout    time.Duration // 创建后不变
	log        logger.Logger
}

// Config 配置选项
type Config struct {
	Dispatcher       *dispatcher.Dispatcher
	Events           chan<- model.Event
	ProcessTimeoutMS int // 宏改写阶段的超时，<=0 时为 3000
	Logger           logger.Logger
}

// Target 事件来源
type Target struct {
	Session model.SessionID
	ID      model.TargetID
}

// New 创建事件处理器
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	to := cfg.ProcessTimeoutMS
	if to <= 0 {
		to = 3000
	}
	return &Handler{
		dispatcher: cfg.Dispatcher,
		events:     cfg.Events,
		timeout:    time.Duration(to) * time.Millisecond,
		log:        l.With("component", "handler"),
	}
}

// Handle 按阶段处理一次拦截事件。ctx 为目标会话的生命周期
func (h *Handler) Handle(ctx context.Context, t Target, f Fetcher, ev *fetch.RequestPausedReply) {
	ctx = ctxkeys.WithTraceID(ctx, string(ev.RequestID))
	l := h.log.With("target", string(t.ID), "requestID", string(ev.RequestID), "url", ev.Request.URL)
	if cdpadapter.IsResponseStage(ev) {
		h.HandleResponse(ctx, t, f, ev, l)
		return
	}
	h.HandleRequest(ctx, t, f, ev, l)
}

// HandleRequest 请求阶段：宏依次改写请求，放行后再通知监听器并计算注释
func (h *Handler) HandleRequest(ctx context.Context, t Target, f Fetcher, ev *fetch.RequestPausedReply, l logger.Logger) {
	start := time.Now()
	msg := cdpadapter.RequestMessage(ev)
	h.emit(t, ev, "intercepted", nil)
	l.Debug("开始处理请求拦截", "method", ev.Request.Method)

	pctx, cancel := h.processContext(ctx)
	final, outcomes := h.dispatcher.ApplyMacros(pctx, msg)
	h.emitFailures(t, ev, outcomes)

	var args *fetch.ContinueRequestArgs
	if !bytes.Equal(final.Bytes, msg.Bytes) {
		a, err := cdpadapter.ContinueArgs(ev, final)
		if err != nil {
			l.Err(err, "宏输出不是有效请求，按原样放行")
			h.emit(t, ev, "failed", func(e *model.Event) { e.Error = err.Error() })
			final = msg
		} else {
			args = a
		}
	}
	if args == nil {
		args = fetch.NewContinueRequestArgs(ev.RequestID)
	}
	err := f.ContinueRequest(pctx, args)
	cancel()
	if err != nil {
		l.Err(err, "继续请求失败")
		h.emit(t, ev, "failed", func(e *model.Event) { e.Error = err.Error() })
		return
	}
	if args.URL != nil {
		h.emit(t, ev, "mutated", nil)
	}

	h.observe(ctx, t, ev, final)
	l.Debug("请求处理完成", "duration", time.Since(start))
}

// HandleResponse 响应阶段：读取响应体，宏改写后以 Fulfill 应答，未改写时直接放行
func (h *Handler) HandleResponse(ctx context.Context, t Target, f Fetcher, ev *fetch.RequestPausedReply, l logger.Logger) {
	start := time.Now()
	statusCode := 0
	if ev.ResponseStatusCode != nil {
		statusCode = *ev.ResponseStatusCode
	}
	pctx, cancel := h.processContext(ctx)
	defer cancel()

	if ev.ResponseErrorReason != nil {
		// 网络层失败的响应没有可读的响应体
		if err := f.ContinueRequest(pctx, fetch.NewContinueRequestArgs(ev.RequestID)); err != nil {
			l.Err(err, "继续失败的响应出错")
		}
		return
	}

	reply, err := f.GetResponseBody(pctx, fetch.NewGetResponseBodyArgs(ev.RequestID))
	var body []byte
	if err == nil {
		body, err = cdpadapter.DecodeBody(reply)
	}
	if err != nil {
		l.Err(err, "获取响应体失败，直接放行", "statusCode", statusCode)
		h.continueResponse(pctx, f, ev, l)
		h.emit(t, ev, "degraded", func(e *model.Event) { e.Error = err.Error() })
		return
	}

	msg := cdpadapter.ResponseMessage(ev, body)
	h.emit(t, ev, "intercepted", nil)

	final, outcomes := h.dispatcher.ApplyMacros(pctx, msg)
	h.emitFailures(t, ev, outcomes)

	mutated := false
	if !bytes.Equal(final.Bytes, msg.Bytes) {
		args, err := cdpadapter.FulfillArgs(ev, final)
		if err == nil {
			err = f.FulfillRequest(pctx, args)
		}
		if err != nil {
			l.Err(err, "改写响应失败，按原样放行")
			h.emit(t, ev, "failed", func(e *model.Event) { e.Error = err.Error() })
			final = msg
		} else {
			mutated = true
		}
	}
	if !mutated {
		h.continueResponse(pctx, f, ev, l)
	} else {
		h.emit(t, ev, "mutated", nil)
	}
	cancel()

	h.observe(ctx, t, ev, final)
	l.Debug("响应处理完成", "statusCode", statusCode, "duration", time.Since(start))
}

func (h *Handler) continueResponse(ctx context.Context, f Fetcher, ev *fetch.RequestPausedReply, l logger.Logger) {
	if err := f.ContinueResponse(ctx, fetch.NewContinueResponseArgs(ev.RequestID)); err != nil {
		l.Err(err, "继续响应失败")
	}
}

// observe 通知监听器并计算高亮与注释；消息此时已放行，工具失败只产生事件
func (h *Handler) observe(ctx context.Context, t Target, ev *fetch.RequestPausedReply, msg traffic.Message) {
	h.emitFailures(t, ev, h.dispatcher.Listen(ctx, msg))
	ann, outcomes := h.dispatcher.Annotate(ctx, msg, traffic.Annotation{})
	h.emitFailures(t, ev, outcomes)
	if ann.Highlight == "" && ann.Comment == "" {
		return
	}
	h.emit(t, ev, "annotated", func(e *model.Event) {
		e.Highlight = ann.Highlight
		e.Comment = ann.Comment
	})
}

func (h *Handler) processContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.timeout)
}

func (h *Handler) emitFailures(t Target, ev *fetch.RequestPausedReply, outcomes []dispatcher.Outcome) {
	for _, o := range outcomes {
		if !o.Failed() {
			continue
		}
		h.emit(t, ev, "failed", func(e *model.Event) {
			e.Tool = o.Tool
			e.Error = o.Err.Error()
		})
	}
}

// emit 非阻塞发送事件，通道满时丢弃
func (h *Handler) emit(t Target, ev *fetch.RequestPausedReply, typ string, fill func(*model.Event)) {
	if h.events == nil {
		return
	}
	evt := model.Event{
		Type:      typ,
		Session:   t.Session,
		Target:    t.ID,
		URL:       ev.Request.URL,
		Method:    ev.Request.Method,
		Stage:     "request",
		Timestamp: time.Now().UnixMilli(),
	}
	if cdpadapter.IsResponseStage(ev) {
		evt.Stage = "response"
		if ev.ResponseStatusCode != nil {
			evt.StatusCode = *ev.ResponseStatusCode
		}
	}
	if fill != nil {
		fill(&evt)
	}
	select {
	case h.events <- evt:
	default:
	}
}
