package api

import (
	"context"
	"time"

	"piper/internal/config"
	"piper/internal/executor"
	"piper/internal/logger"
	"piper/internal/pump"
	"piper/internal/service"
	"piper/internal/storage"
	"piper/pkg/model"
)

// Service 服务接口
type Service interface {
	// Config 当前工具配置快照
	Config() *model.Config

	// LoadConfigFile 读取 YAML 工具配置并持久化
	LoadConfigFile(path string) error

	// WatchConfigFile 监视配置文件，变化时重载
	WatchConfigFile(ctx context.Context, path string) error

	// ExportConfig 导出工具配置
	ExportConfig() ([]byte, error)

	// ToggleTool 切换工具启用状态
	ToggleTool(kind model.Kind, index int) error

	// FindTool 按名称查找工具
	FindTool(kind model.Kind, name string) (model.Tool, error)

	// MissingDependencies 缺失的可执行文件
	MissingDependencies() map[string][]string

	// Invoke 按需执行工具
	Invoke(ctx context.Context, kind model.Kind, name string, payload []byte, out pump.Sink) (*executor.Result, error)

	// History 最近的调用记录
	History(ctx context.Context, limit int) ([]storage.Invocation, error)

	// PruneHistory 清理旧的调用记录
	PruneHistory(ctx context.Context, age time.Duration) (int64, error)

	// StartSession 启动会话
	StartSession(cfg model.SessionConfig) (model.SessionID, error)

	// StopSession 停止会话
	StopSession(id model.SessionID) error

	// ListTargets 列出目标
	ListTargets(ctx context.Context, id model.SessionID) ([]model.TargetInfo, error)

	// AttachTarget 附加目标
	AttachTarget(ctx context.Context, id model.SessionID, target model.TargetID) (model.TargetID, error)

	// DetachTarget 分离目标
	DetachTarget(id model.SessionID, target model.TargetID) error

	// EnableInterception 启用拦截
	EnableInterception(id model.SessionID) error

	// DisableInterception 禁用拦截
	DisableInterception(id model.SessionID) error

	// SubscribeEvents 订阅事件
	SubscribeEvents(id model.SessionID) (<-chan model.Event, error)

	// Close 释放全部资源
	Close() error
}

var _ Service = (*service.Service)(nil)

// NewService 创建并返回服务接口实现
func NewService(settings *config.Config, l logger.Logger) (Service, error) {
	s, err := service.New(settings, l)
	if err != nil {
		return nil, err
	}
	return s, nil
}
