// Package executor 以外部进程执行工具命令：构造参数、投递输入、注入默认环境、收集输出
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"piper/internal/ctxkeys"
	"piper/internal/logger"
	"piper/internal/pump"
	"piper/pkg/model"

	"github.com/google/uuid"
)

// Invoker 命令调用接口，dispatcher 依赖此接口而非具体实现
type Invoker interface {
	Invoke(ctx context.Context, cmd model.CommandInvocation, payload []byte, env Environment) (*Result, error)
	Run(ctx context.Context, req Request) (*Result, error)
}

// Request 一次调用的完整参数
type Request struct {
	Cmd     model.CommandInvocation
	Inputs  [][]byte    // FILENAME 每个输入一个临时文件；STDIN 依次拼接
	Env     Environment // 调用方覆盖
	Stdout  pump.Sink   // 可选，流式接收 stdout
	Stderr  pump.Sink   // 可选，流式接收 stderr
	Loop    *pump.Loop  // 可选，Sink 回调投递到该 Loop
	Timeout time.Duration
}

// Result 调用结果
type Result struct {
	ID           string
	Argv         []string
	ExitCode     int
	Stdout       []byte
	Stderr       []byte
	Truncated    bool
	StdoutStatus pump.Status
	StderrStatus pump.Status
	StartedAt    time.Time
	Duration     time.Duration
}

// Options 执行器配置
type Options struct {
	Timeout        time.Duration // 默认超时，0 表示不限
	MaxOutputBytes int           // 每个输出流保留的最大字节数，0 表示不限
	Defaults       Environment   // 默认环境，nil 时使用 DefaultEnvironment
	TempDir        string        // 临时文件目录，空为系统默认
	WaitDelay      time.Duration // 进程被杀后等待输出管道关闭的时间
	Logger         logger.Logger
	Audit          AuditFunc
}

// Executor 基于 os/exec 的 Invoker 实现
type Executor struct {
	opts Options
	log  logger.Logger
}

// New 创建执行器
func New(opts Options) *Executor {
	if opts.Defaults == nil {
		opts.Defaults = DefaultEnvironment()
	}
	if opts.WaitDelay <= 0 {
		opts.WaitDelay = 2 * time.Second
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Executor{opts: opts, log: l.With("component", "executor")}
}

// Invoke 单输入调用
func (e *Executor) Invoke(ctx context.Context, cmd model.CommandInvocation, payload []byte, env Environment) (*Result, error) {
	return e.Run(ctx, Request{Cmd: cmd, Inputs: [][]byte{payload}, Env: env})
}

// Run 执行命令直到退出、超时或取消。
// 非零退出返回 *ExecutionError 且 Result 非空，由调用方按工具种类决定是否视为失败
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{ID: uuid.NewString(), ExitCode: -1}
	log := e.log.With("invocation", res.ID, "trace", ctxkeys.TraceID(ctx))

	if req.Cmd.Executable() == "" {
		return nil, &SpawnError{Err: ErrEmptyCommand}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.opts.Timeout
	}
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	var files []string
	defer func() {
		for _, f := range files {
			if err := os.Remove(f); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn("删除临时文件失败", "path", f, "error", err)
			}
		}
	}()

	var stdin io.Reader
	if req.Cmd.InputMethod == model.InputFilename {
		for _, in := range req.Inputs {
			path, err := e.writeTemp(in)
			if path != "" {
				files = append(files, path)
			}
			if err != nil {
				err = &SpawnError{Argv: BuildArgv(req.Cmd, nil), Err: err}
				e.emit(AuditEvent{Type: AuditFailed, ID: res.ID, Argv: req.Cmd.Prefix, Err: err})
				return nil, err
			}
		}
	} else {
		stdin = bytes.NewReader(bytes.Join(req.Inputs, nil))
	}

	res.Argv = BuildArgv(req.Cmd, files)
	cmd := exec.CommandContext(runCtx, res.Argv[0], res.Argv[1:]...)
	cmd.Env = buildEnviron(os.Environ(), req.Env, e.opts.Defaults)
	cmd.WaitDelay = e.opts.WaitDelay
	if stdin != nil {
		// exec 在写完后关闭子进程 stdin，子进程据此看到 EOF
		cmd.Stdin = stdin
	} else {
		cmd.Stdin = bytes.NewReader(nil)
	}

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	cmd.Stdout = outW
	cmd.Stderr = errW

	e.emit(AuditEvent{Type: AuditStart, ID: res.ID, Argv: res.Argv})
	log.Debug("启动进程", "argv", res.Argv, "inputMethod", req.Cmd.InputMethod, "timeout", timeout)

	res.StartedAt = time.Now()
	if err := cmd.Start(); err != nil {
		outW.Close()
		errW.Close()
		serr := &SpawnError{Argv: res.Argv, Err: err}
		log.Warn("进程启动失败", "error", err)
		e.emit(AuditEvent{Type: AuditFailed, ID: res.ID, Argv: res.Argv, Err: serr})
		return nil, serr
	}

	outBuf := pump.NewBufferSink(e.opts.MaxOutputBytes)
	errBuf := pump.NewBufferSink(e.opts.MaxOutputBytes)
	outH := pump.Pump(ctx, outR, pump.Tee(outBuf, req.Stdout), pumpOpts(req.Loop)...)
	errH := pump.Pump(ctx, errR, pump.Tee(errBuf, req.Stderr), pumpOpts(req.Loop)...)

	waitErr := cmd.Wait()
	res.Duration = time.Since(res.StartedAt)

	if runCtx.Err() != nil {
		outW.CloseWithError(pump.ErrClosedEarly)
		errW.CloseWithError(pump.ErrClosedEarly)
	} else {
		outW.Close()
		errW.Close()
	}
	res.StdoutStatus, _ = outH.Wait()
	res.StderrStatus, _ = errH.Wait()
	res.Stdout = outBuf.Bytes()
	res.Stderr = errBuf.Bytes()
	res.Truncated = outBuf.Truncated() || errBuf.Truncated()
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if res.Truncated {
		log.Warn("输出超出上限已截断", "limit", e.opts.MaxOutputBytes)
	}

	err := e.classify(ctx, runCtx, timeout, waitErr, res)
	switch {
	case err == nil:
		log.Debug("进程完成", "exitCode", res.ExitCode, "duration", res.Duration, "stdout", len(res.Stdout))
		e.emit(AuditEvent{Type: AuditComplete, ID: res.ID, Argv: res.Argv, ExitCode: res.ExitCode, Duration: res.Duration})
	case isKilled(err):
		log.Warn("进程被终止", "error", err, "duration", res.Duration)
		e.emit(AuditEvent{Type: AuditKilled, ID: res.ID, Argv: res.Argv, ExitCode: res.ExitCode, Duration: res.Duration, Err: err})
	default:
		log.Debug("进程非零退出", "exitCode", res.ExitCode, "error", err)
		e.emit(AuditEvent{Type: AuditComplete, ID: res.ID, Argv: res.Argv, ExitCode: res.ExitCode, Duration: res.Duration, Err: err})
	}
	return res, err
}

// classify 将 Wait 的结果映射为执行器错误类型
func (e *Executor) classify(parent, runCtx context.Context, timeout time.Duration, waitErr error, res *Result) error {
	if parent.Err() != nil {
		return fmt.Errorf("executor: invocation %s: %w", res.ID, parent.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Timeout: timeout}
	}
	if waitErr == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return &ExecutionError{ExitCode: exitErr.ExitCode(), Stderr: res.Stderr}
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		// 进程已正常退出，只是后代进程仍占用输出管道
		e.log.Warn("输出管道未及时关闭", "invocation", res.ID)
		return nil
	}
	return fmt.Errorf("executor: wait: %w", waitErr)
}

func (e *Executor) writeTemp(payload []byte) (string, error) {
	f, err := os.CreateTemp(e.opts.TempDir, "piper-*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return f.Name(), fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return f.Name(), fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), nil
}

func (e *Executor) emit(ev AuditEvent) {
	if e.opts.Audit == nil {
		return
	}
	ev.Timestamp = time.Now()
	e.opts.Audit(ev)
}

func pumpOpts(loop *pump.Loop) []pump.Option {
	if loop == nil {
		return nil
	}
	return []pump.Option{pump.OnLoop(loop)}
}

func isKilled(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te) || errors.Is(err, context.Canceled)
}
