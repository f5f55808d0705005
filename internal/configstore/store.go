// Package configstore 持有当前工具配置快照，将修改经编解码器持久化并通知订阅者
package configstore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"piper/internal/codec"
	"piper/internal/logger"
	"piper/internal/observable"
	"piper/internal/schema"
	"piper/pkg/model"

	"gopkg.in/yaml.v3"
)

// DefaultKey 持久化键
const DefaultKey = "piper.config"

// ErrUnknownKind 未知工具种类
var ErrUnknownKind = errors.New("configstore: unknown tool kind")

// Persistence 宿主提供的键值持久化接口
type Persistence interface {
	GetBytes(key string) ([]byte, error)
	SetBytes(key string, value []byte) error
}

// Options 存储选项
type Options struct {
	Key    string
	Codec  codec.Options
	Logger logger.Logger
}

// Store 配置存储。每个种类一个可观察列表；任一列表的修改先编码持久化，成功后才发布
type Store struct {
	mu      sync.Mutex // 列表编辑、整体替换与持久化共用，同步列表期间一直持有
	current atomic.Pointer[model.Config]
	persist Persistence
	key     string
	codec   codec.Options
	log     logger.Logger

	syncing  atomic.Bool // 从快照同步列表期间不逐个通知，同步结束后统一通知
	notifyMu sync.Mutex  // 串行化通知，保证最后一次送达的是最新快照
	subMu    sync.Mutex
	subID    int
	subs     map[int]func(*model.Config)

	viewers       *observable.List[model.MessageViewer]
	macros        *observable.List[model.Macro]
	httpListeners *observable.List[model.HTTPListener]
	highlighters  *observable.List[model.Highlighter]
	commentators  *observable.List[model.Commentator]
	menuItems     *observable.List[model.UserActionTool]
	processors    *observable.List[model.PayloadProcessor]
	generators    *observable.List[model.PayloadGenerator]
}

// New 创建存储，初始内容为默认配置；p 为 nil 时只在内存中保存
func New(p Persistence, opts Options) *Store {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	s := &Store{
		persist: p,
		key:     opts.Key,
		codec:   opts.Codec,
		log:     l.With("component", "configstore"),
		subs:    make(map[int]func(*model.Config)),
	}
	cfg := model.DefaultConfig()
	s.current.Store(cfg)

	s.viewers = bind(s, cfg.MessageViewers, (*model.Config).WithMessageViewers)
	s.macros = bind(s, cfg.Macros, (*model.Config).WithMacros)
	s.httpListeners = bind(s, cfg.HTTPListeners, (*model.Config).WithHTTPListeners)
	s.highlighters = bind(s, cfg.Highlighters, (*model.Config).WithHighlighters)
	s.commentators = bind(s, cfg.Commentators, (*model.Config).WithCommentators)
	s.menuItems = bind(s, cfg.MenuItems, (*model.Config).WithMenuItems)
	s.processors = bind(s, cfg.PayloadProcessors, (*model.Config).WithPayloadProcessors)
	s.generators = bind(s, cfg.PayloadGenerators, (*model.Config).WithPayloadGenerators)
	return s
}

// bind 创建某一种类的列表。列表以 s.mu 为外层锁，提交钩子运行时 s.mu 已被持有，
// 列表内容与 s.current 一致
func bind[T any](s *Store, items []T, with func(*model.Config, []T) *model.Config) *observable.List[T] {
	l := observable.NewGuardedList(items, &s.mu, func(next []T) error {
		return s.commitLocked(with(s.current.Load(), next))
	})
	l.Subscribe(func(observable.Change) {
		if !s.syncing.Load() {
			s.notify()
		}
	})
	return l
}

// Current 当前配置快照，调用方不得修改
func (s *Store) Current() *model.Config { return s.current.Load() }

// Load 从持久化层读取配置；数据损坏时回退默认配置并记录日志
func (s *Store) Load() (*model.Config, error) {
	var blob []byte
	if s.persist != nil {
		b, err := s.persist.GetBytes(s.key)
		if err != nil {
			return nil, fmt.Errorf("configstore: read %q: %w", s.key, err)
		}
		blob = b
	}
	cfg := codec.DecodeOrDefault(blob, s.codec, s.log)
	s.publish(cfg)
	s.log.Info("配置已加载", "tools", cfg.Total())
	return cfg, nil
}

// ReplaceAll 整体替换配置，持久化失败时保持原状
func (s *Store) ReplaceAll(cfg *model.Config) error {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	s.mu.Lock()
	if err := s.commitLocked(cfg); err != nil {
		s.mu.Unlock()
		return err
	}
	s.syncLists(cfg)
	s.mu.Unlock()
	s.notify()
	return nil
}

// LoadYAML 解析 YAML 并整体替换；解析失败时不改变当前配置
func (s *Store) LoadYAML(src []byte) error {
	cfg, err := schema.Parse(src)
	if err != nil {
		return err
	}
	return s.ReplaceAll(cfg)
}

// ExportYAML 以配置文件格式导出当前配置
func (s *Store) ExportYAML() ([]byte, error) {
	out, err := yaml.Marshal(schema.Encode(s.Current()))
	if err != nil {
		return nil, fmt.Errorf("configstore: export: %w", err)
	}
	return out, nil
}

// ToggleEnabled 切换指定工具的启用状态，其余字段保持不变
func (s *Store) ToggleEnabled(kind model.Kind, index int) error {
	switch kind {
	case model.KindMessageViewer:
		return toggle(s.viewers, index)
	case model.KindMacro:
		return toggle(s.macros, index)
	case model.KindHTTPListener:
		return toggle(s.httpListeners, index)
	case model.KindHighlighter:
		return toggle(s.highlighters, index)
	case model.KindCommentator:
		return toggle(s.commentators, index)
	case model.KindUserAction:
		return toggle(s.menuItems, index)
	case model.KindPayloadProcessor:
		return toggle(s.processors, index)
	case model.KindPayloadGenerator:
		return toggle(s.generators, index)
	}
	return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}

type toggler[T any] interface {
	model.Tool
	WithEnabled(bool) T
}

func toggle[T toggler[T]](l *observable.List[T], index int) error {
	return l.Update(index, func(t T) T { return t.WithEnabled(!t.Base().Enabled) })
}

// OnChange 订阅配置变化，回调在写者 goroutine 上执行，不得再修改本存储
func (s *Store) OnChange(fn func(*model.Config)) (cancel func()) {
	s.subMu.Lock()
	id := s.subID
	s.subID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// MessageViewers 各种类的可观察列表，修改会持久化并通知 OnChange 订阅者
func (s *Store) MessageViewers() *observable.List[model.MessageViewer] { return s.viewers }
func (s *Store) Macros() *observable.List[model.Macro] { return s.macros }
func (s *Store) HTTPListeners() *observable.List[model.HTTPListener] { return s.httpListeners }
func (s *Store) Highlighters() *observable.List[model.Highlighter] { return s.highlighters }
func (s *Store) Commentators() *observable.List[model.Commentator] { return s.commentators }
func (s *Store) MenuItems() *observable.List[model.UserActionTool] { return s.menuItems }
func (s *Store) PayloadProcessors() *observable.List[model.PayloadProcessor] { return s.processors }
func (s *Store) PayloadGenerators() *observable.List[model.PayloadGenerator] { return s.generators }

// commitLocked 编码并写入持久化层，成功后发布新快照；调用方持有 s.mu
func (s *Store) commitLocked(cfg *model.Config) error {
	if s.persist != nil {
		blob, err := codec.Encode(cfg, s.codec)
		if err != nil {
			return err
		}
		if err := s.persist.SetBytes(s.key, blob); err != nil {
			s.log.Err(err, "配置持久化失败", "key", s.key)
			return fmt.Errorf("configstore: write %q: %w", s.key, err)
		}
	}
	s.current.Store(cfg)
	return nil
}

// publish 发布不需要再次持久化的配置
func (s *Store) publish(cfg *model.Config) {
	s.mu.Lock()
	s.current.Store(cfg)
	s.syncLists(cfg)
	s.mu.Unlock()
	s.notify()
}

// syncLists 把快照载入各列表；调用方持有 s.mu
func (s *Store) syncLists(cfg *model.Config) {
	s.syncing.Store(true)
	defer s.syncing.Store(false)
	s.viewers.Load(cfg.MessageViewers)
	s.macros.Load(cfg.Macros)
	s.httpListeners.Load(cfg.HTTPListeners)
	s.highlighters.Load(cfg.Highlighters)
	s.commentators.Load(cfg.Commentators)
	s.menuItems.Load(cfg.MenuItems)
	s.processors.Load(cfg.PayloadProcessors)
	s.generators.Load(cfg.PayloadGenerators)
}

func (s *Store) notify() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	cfg := s.Current()
	s.subMu.Lock()
	fns := make([]func(*model.Config), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(cfg)
	}
}
