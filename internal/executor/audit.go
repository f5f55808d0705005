package executor

import "time"

// AuditEventType 审计事件类型
type AuditEventType string

const (
	AuditStart    AuditEventType = "start"
	AuditComplete AuditEventType = "complete"
	AuditFailed   AuditEventType = "failed" // 未能启动
	AuditKilled   AuditEventType = "killed" // 超时或取消
)

// AuditEvent 一次调用的审计记录
type AuditEvent struct {
	Type      AuditEventType
	ID        string
	Argv      []string
	ExitCode  int
	Duration  time.Duration
	Err       error
	Timestamp time.Time
}

// AuditFunc 审计回调，在调用 goroutine 上同步执行
type AuditFunc func(AuditEvent)
