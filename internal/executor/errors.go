package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrEmptyCommand prefix 为空
var ErrEmptyCommand = errors.New("executor: empty command prefix")

// SpawnError 进程无法启动（未找到、无权限、临时文件失败）
type SpawnError struct {
	Argv []string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q: %v", strings.Join(e.Argv, " "), e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExecutionError 进程以非零状态退出，Result 仍会一并返回
type ExecutionError struct {
	ExitCode int
	Stderr   []byte
}

func (e *ExecutionError) Error() string {
	msg := strings.TrimSpace(string(e.Stderr))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		return fmt.Sprintf("process exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("process exited with code %d: %s", e.ExitCode, msg)
}

// TimeoutError 超过截止时间，进程已被终止
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("process killed after %s timeout", e.Timeout)
}

// Is 使 errors.Is(err, context.DeadlineExceeded) 成立
func (e *TimeoutError) Is(target error) bool {
	return target == context.DeadlineExceeded
}
