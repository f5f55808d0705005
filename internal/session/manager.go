package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"piper/internal/dispatcher"
	"piper/internal/logger"
	"piper/pkg/model"

	"github.com/google/uuid"
)

// ErrNotFound 会话不存在
var ErrNotFound = errors.New("session: not found")

// Manager 全局会话管理器，所有会话共享同一个工具调度器
type Manager struct {
	mu         sync.RWMutex
	sessions   map[model.SessionID]*Session
	dispatcher *dispatcher.Dispatcher
	log        logger.Logger
}

// NewManager 创建会话管理器
func NewManager(d *dispatcher.Dispatcher, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions:   make(map[model.SessionID]*Session),
		dispatcher: d,
		log:        l,
	}
}

// Create 创建并注册新会话
func (m *Manager) Create(cfg model.SessionConfig) *Session {
	id := model.SessionID(uuid.NewString())
	s := newSession(id, cfg, m.dispatcher, m.log.With("session", string(id)))

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.log.Info("创建抓取会话", "sessionID", string(id), "devtools", cfg.DevToolsURL)
	return s
}

// Get 获取会话
func (m *Manager) Get(id model.SessionID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Delete 关闭并销毁会话
func (m *Manager) Delete(id model.SessionID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.log.Info("销毁抓取会话", "sessionID", string(id))
	return s.Close()
}

// List 按创建时间返回所有活动会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list
}

// CloseAll 关闭全部会话
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[model.SessionID]*Session)
	m.mu.Unlock()
	var errs []error
	for _, s := range all {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
