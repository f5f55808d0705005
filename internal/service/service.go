// Package service 组装存储、配置、执行器、调度器与抓取会话
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"piper/internal/codec"
	"piper/internal/config"
	"piper/internal/configstore"
	"piper/internal/dispatcher"
	"piper/internal/executor"
	"piper/internal/logger"
	"piper/internal/pump"
	"piper/internal/session"
	"piper/internal/storage"
	"piper/pkg/model"
	"piper/pkg/traffic"
)

// ErrToolNotFound 按名称找不到工具
var ErrToolNotFound = errors.New("service: tool not found")

// Service 服务实现
type Service struct {
	settings    *config.Config
	store       *storage.Store
	configs     *configstore.Store
	dispatcher  *dispatcher.Dispatcher
	sessions    *session.Manager
	unsubscribe func()
	log         logger.Logger
}

// New 打开持久化存储并加载已保存的工具配置
func New(settings *config.Config, l logger.Logger) (*Service, error) {
	if settings == nil {
		settings = config.NewConfig()
	}
	if l == nil {
		l = logger.NewNop()
	}
	st, err := storage.Open(storage.Options{DSN: settings.Sqlite.Dsn, Prefix: settings.Sqlite.Prefix, Logger: l})
	if err != nil {
		return nil, err
	}

	ex := executor.New(executor.Options{
		Timeout:        settings.Executor.Timeout(),
		MaxOutputBytes: settings.Executor.MaxOutputBytes,
		TempDir:        settings.Executor.TempDir,
		Logger:         l,
		Audit:          st.AuditFunc(),
	})
	configs := configstore.New(st, configstore.Options{
		Key:    settings.Persistence.Key,
		Codec:  codec.Options{Align: settings.Persistence.Align},
		Logger: l,
	})
	cfg, err := configs.Load()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	d := dispatcher.New(cfg, dispatcher.Options{
		Invoker:     ex,
		Env:         settings.Executor.Env,
		Concurrency: settings.Executor.Concurrency,
		Logger:      l,
	})

	s := &Service{
		settings:   settings,
		store:      st,
		configs:    configs,
		dispatcher: d,
		sessions:   session.NewManager(d, l),
		log:        l.With("component", "service"),
	}
	s.unsubscribe = configs.OnChange(d.Update)
	return s, nil
}

// Close 关闭所有会话与存储
func (s *Service) Close() error {
	s.unsubscribe()
	return errors.Join(s.sessions.CloseAll(), s.store.Close())
}

// Config 当前工具配置
func (s *Service) Config() *model.Config { return s.configs.Current() }

// Configs 配置存储，用于按种类观察与修改
func (s *Service) Configs() *configstore.Store { return s.configs }

// LoadConfigFile 读取 YAML 工具配置并持久化
func (s *Service) LoadConfigFile(path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("service: read %s: %w", path, err)
	}
	return s.configs.LoadYAML(src)
}

// WatchConfigFile 监视 YAML 文件并在变化时重载，直到 ctx 结束
func (s *Service) WatchConfigFile(ctx context.Context, path string) error {
	return s.configs.Watch(ctx, path)
}

// ExportConfig 导出当前工具配置为 YAML
func (s *Service) ExportConfig() ([]byte, error) { return s.configs.ExportYAML() }

// ToggleTool 切换工具启用状态
func (s *Service) ToggleTool(kind model.Kind, index int) error {
	return s.configs.ToggleEnabled(kind, index)
}

// FindTool 按种类与名称查找工具
func (s *Service) FindTool(kind model.Kind, name string) (model.Tool, error) {
	for _, t := range s.Config().Tools(kind) {
		if t.Base().Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s %q", ErrToolNotFound, kind, name)
}

// MissingDependencies 每个工具在 PATH 中缺失的可执行文件，键为 "种类/名称"
func (s *Service) MissingDependencies() map[string][]string {
	out := make(map[string][]string)
	cfg := s.Config()
	for _, kind := range model.Kinds {
		for _, t := range cfg.Tools(kind) {
			if missing := executor.MissingDependencies(t.Base().Cmd); len(missing) > 0 {
				out[string(kind)+"/"+t.Base().Name] = missing
			}
		}
	}
	return out
}

// Invoke 按需执行一个工具，输出可选地写入 out。
// 消息类工具按各自的 passHeaders 接收 payload 构成的消息，并遵循各种类的退出码约定：
// 高亮器非零退出表示不匹配，匹配时输出颜色；注释器非零退出表示没有注释，有注释时输出注释。
// 载荷类工具直接接收 payload
func (s *Service) Invoke(ctx context.Context, kind model.Kind, name string, payload []byte, out pump.Sink) (*executor.Result, error) {
	t, err := s.FindTool(kind, name)
	if err != nil {
		return nil, err
	}
	msg := traffic.NewMessage(payload, direction(payload), model.SourceSuite)
	switch tool := t.(type) {
	case model.PayloadProcessor:
		b, err := s.dispatcher.ProcessPayload(ctx, tool, payload)
		if err != nil {
			return nil, err
		}
		emitLine(out, b, false)
		return &executor.Result{Stdout: b}, nil
	case model.PayloadGenerator:
		err := s.dispatcher.GeneratePayloads(ctx, tool, func(line []byte) {
			if out != nil {
				out.Deliver(append(slices.Clip(line), '\n'))
			}
		})
		if out != nil {
			status := pump.StatusEOF
			if err != nil {
				status = pump.StatusFailed
			}
			out.Close(status, err)
		}
		return nil, err
	case model.UserActionTool:
		return s.dispatcher.RunAction(ctx, tool, []traffic.Message{msg}, out, nil)
	case model.Highlighter:
		anns, outcomes := s.dispatcher.Highlight(ctx, tool, []traffic.Message{msg}, nil)
		o := outcomes[0]
		if o.Err != nil {
			return o.Result, o.Err
		}
		emitLine(out, []byte(anns[0].Highlight), true)
		return o.Result, nil
	case model.Commentator:
		ann, o := s.dispatcher.Comment(ctx, tool, msg, traffic.Annotation{})
		if o.Err != nil {
			return o.Result, o.Err
		}
		emitLine(out, []byte(ann.Comment), true)
		return o.Result, nil
	}
	return s.dispatcher.RunTool(ctx, t, msg, out)
}

// direction 以状态行判断 payload 是响应还是请求
func direction(payload []byte) traffic.Direction {
	if bytes.HasPrefix(payload, []byte("HTTP/")) {
		return traffic.DirectionResponse
	}
	return traffic.DirectionRequest
}

// emitLine 把完整结果一次性送入 out；b 为空时只关闭
func emitLine(out pump.Sink, b []byte, newline bool) {
	if out == nil {
		return
	}
	if len(b) > 0 {
		if newline {
			b = append(slices.Clip(b), '\n')
		}
		out.Deliver(b)
	}
	out.Close(pump.StatusEOF, nil)
}

// History 最近的调用记录
func (s *Service) History(ctx context.Context, limit int) ([]storage.Invocation, error) {
	return s.store.RecentInvocations(ctx, limit)
}

// PruneHistory 删除早于 age 的调用记录
func (s *Service) PruneHistory(ctx context.Context, age time.Duration) (int64, error) {
	return s.store.PruneInvocations(ctx, time.Now().Add(-age))
}

// StartSession 创建抓取会话，未指定的字段取设置文件中的默认值
func (s *Service) StartSession(cfg model.SessionConfig) (model.SessionID, error) {
	def := s.settings.Session
	if cfg.DevToolsURL == "" {
		cfg.DevToolsURL = def.DevToolsURL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PendingCapacity <= 0 {
		cfg.PendingCapacity = def.PendingCapacity
	}
	if cfg.ProcessTimeoutMS <= 0 {
		cfg.ProcessTimeoutMS = def.ProcessTimeoutMS
	}
	if cfg.DevToolsURL == "" {
		return "", errors.New("service: devtools url is required")
	}
	return s.sessions.Create(cfg).ID, nil
}

// StopSession 停止会话
func (s *Service) StopSession(id model.SessionID) error { return s.sessions.Delete(id) }

// ListTargets 列出会话可附加的页面
func (s *Service) ListTargets(ctx context.Context, id model.SessionID) ([]model.TargetInfo, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Browser().ListTargets(ctx)
}

// AttachTarget 附加页面，target 为空时选择第一个用户页面
func (s *Service) AttachTarget(ctx context.Context, id model.SessionID, target model.TargetID) (model.TargetID, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return "", err
	}
	return sess.Browser().AttachTarget(ctx, target)
}

// DetachTarget 分离页面
func (s *Service) DetachTarget(id model.SessionID, target model.TargetID) error {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return err
	}
	return sess.Browser().DetachTarget(target)
}

// EnableInterception 启用拦截
func (s *Service) EnableInterception(id model.SessionID) error {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return err
	}
	return sess.Browser().Enable()
}

// DisableInterception 禁用拦截
func (s *Service) DisableInterception(id model.SessionID) error {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return err
	}
	return sess.Browser().Disable()
}

// SubscribeEvents 会话事件流
func (s *Service) SubscribeEvents(id model.SessionID) (<-chan model.Event, error) {
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	return sess.Events(), nil
}
