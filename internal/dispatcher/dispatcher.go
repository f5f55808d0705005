// Package dispatcher 为消息挑选适用的工具、调用执行器并按工具种类应用结果
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"piper/internal/executor"
	"piper/internal/logger"
	"piper/internal/rules"
	"piper/pkg/model"
	"piper/pkg/traffic"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrDisabled 对已禁用的工具发起按需调用
	ErrDisabled = errors.New("dispatcher: tool disabled")
	// ErrInputCount 用户动作的输入数量不在允许范围内
	ErrInputCount = errors.New("dispatcher: input count out of range")
)

// Outcome 单个工具的执行结果，失败互相隔离
type Outcome struct {
	Kind   model.Kind
	Tool   string
	Err    error
	Result *executor.Result
}

// Failed 是否失败
func (o Outcome) Failed() bool { return o.Err != nil }

// Options 调度器依赖与限制
type Options struct {
	Invoker     executor.Invoker
	Matcher     *rules.Engine // 为空时基于 Invoker 创建
	Env         executor.Environment
	Concurrency int           // 同一消息并发执行的工具数上限，<=0 时为 4
	Timeout     time.Duration // 单次调用超时，0 使用执行器默认值
	Logger      logger.Logger
}

// Dispatcher 工具管线调度器；配置以不可变快照持有，读取无需加锁
type Dispatcher struct {
	snapshot atomic.Pointer[model.Config]
	invoker  executor.Invoker
	matcher  *rules.Engine
	env      executor.Environment
	limit    int
	timeout  time.Duration
	log      logger.Logger
}

// New 创建调度器，cfg 为空时使用空配置
func New(cfg *model.Config, opts Options) *Dispatcher {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	d := &Dispatcher{
		invoker: opts.Invoker,
		matcher: opts.Matcher,
		env:     opts.Env,
		limit:   opts.Concurrency,
		timeout: opts.Timeout,
		log:     l.With("component", "dispatcher"),
	}
	if d.limit <= 0 {
		d.limit = 4
	}
	if d.matcher == nil {
		d.matcher = rules.New(opts.Invoker, rules.WithEnv(opts.Env), rules.WithLogger(l))
	}
	d.Update(cfg)
	return d
}

// Update 替换配置快照
func (d *Dispatcher) Update(cfg *model.Config) {
	if cfg == nil {
		cfg = model.DefaultConfig()
	}
	d.snapshot.Store(cfg)
}

// Snapshot 当前配置快照，调用方不得修改
func (d *Dispatcher) Snapshot() *model.Config {
	return d.snapshot.Load()
}

// applies 判断工具是否适用于消息：启用、方向、过滤条件
func (d *Dispatcher) applies(ctx context.Context, t model.MinimalTool, msg traffic.Message) (bool, error) {
	if !t.Enabled {
		return false, nil
	}
	if msg.IsRequest() && !t.Scope.AppliesToRequest() {
		return false, nil
	}
	if !msg.IsRequest() && !t.Scope.AppliesToResponse() {
		return false, nil
	}
	return d.matcher.Match(ctx, t.Filter, msg)
}

// run 执行工具命令，inputs 为空时进程无输入
func (d *Dispatcher) run(ctx context.Context, t model.MinimalTool, inputs ...[]byte) (*executor.Result, error) {
	if d.invoker == nil {
		return nil, errors.New("dispatcher: no invoker configured")
	}
	return d.invoker.Run(ctx, executor.Request{
		Cmd:     t.Cmd,
		Inputs:  inputs,
		Env:     d.env,
		Timeout: d.timeout,
	})
}

// fanOut 以受限并发执行 n 个相互独立的任务，单个任务失败不影响其他任务
func (d *Dispatcher) fanOut(n int, fn func(i int)) {
	var g errgroup.Group
	g.SetLimit(d.limit)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			fn(i)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *Dispatcher) report(o Outcome) {
	if o.Err == nil {
		return
	}
	d.log.Warn("工具执行失败", "kind", o.Kind, "tool", o.Tool, "error", o.Err)
}

func isNonZeroExit(err error) bool {
	var ee *executor.ExecutionError
	return errors.As(err, &ee)
}

func filterErr(err error) error {
	return fmt.Errorf("filter: %w", err)
}
