// Package session 管理抓取会话：每个会话拥有自己的事件通道、工作池与浏览器连接
package session

import (
	"sync"
	"time"

	"piper/internal/cdp"
	"piper/internal/dispatcher"
	"piper/internal/handler"
	"piper/internal/logger"
	"piper/internal/pool"
	"piper/pkg/model"
)

// Session 一次抓取会话
type Session struct {
	ID        model.SessionID
	Config    model.SessionConfig
	CreatedAt time.Time

	events  chan model.Event
	pool    *pool.Pool
	cdp     *cdp.Manager
	handler *handler.Handler

	closeOnce sync.Once
}

func newSession(id model.SessionID, cfg model.SessionConfig, d *dispatcher.Dispatcher, l logger.Logger) *Session {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.PendingCapacity <= 0 {
		cfg.PendingCapacity = 64
	}
	s := &Session{
		ID:        id,
		Config:    cfg,
		CreatedAt: time.Now(),
		events:    make(chan model.Event, cfg.PendingCapacity),
		pool:      pool.New(cfg.Concurrency, cfg.PendingCapacity),
	}
	s.handler = handler.New(handler.Config{
		Dispatcher:       d,
		Events:           s.events,
		ProcessTimeoutMS: cfg.ProcessTimeoutMS,
		Logger:           l,
	})
	s.cdp = cdp.New(cdp.Options{
		Session:     id,
		DevToolsURL: cfg.DevToolsURL,
		Handler:     s.handler,
		Pool:        s.pool,
		Logger:      l,
	})
	return s
}

// Events 会话事件流，满时新事件被丢弃
func (s *Session) Events() <-chan model.Event { return s.events }

// Browser 会话的浏览器连接管理器
func (s *Session) Browser() *cdp.Manager { return s.cdp }

// Handler 会话的事件处理器
func (s *Session) Handler() *handler.Handler { return s.handler }

// Close 分离所有目标并等待进行中的处理结束
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.cdp.Close()
		s.pool.Stop()
	})
	return err
}
