package dispatcher

import (
	"context"
	"fmt"

	"piper/internal/executor"
	"piper/internal/pump"
	"piper/pkg/model"
	"piper/pkg/traffic"
)

// ProcessPayload 用处理器变换单个 payload，非零退出为失败
func (d *Dispatcher) ProcessPayload(ctx context.Context, p model.PayloadProcessor, payload []byte) ([]byte, error) {
	if !p.Common.Enabled {
		return nil, ErrDisabled
	}
	res, err := d.run(ctx, p.Common, payload)
	if err != nil {
		return nil, fmt.Errorf("payload processor %q: %w", p.Common.Name, err)
	}
	return res.Stdout, nil
}

// GeneratePayloads 执行生成器，stdout 的每一行作为一个 payload 交给 emit；
// emit 在输出到达时即被调用，不等待进程结束
func (d *Dispatcher) GeneratePayloads(ctx context.Context, g model.PayloadGenerator, emit func([]byte)) error {
	if !g.Common.Enabled {
		return ErrDisabled
	}
	if d.invoker == nil {
		return fmt.Errorf("payload generator %q: no invoker configured", g.Common.Name)
	}
	sink := pump.NewLineSink(func(line string) { emit([]byte(line)) }, nil)
	_, err := d.invoker.Run(ctx, executor.Request{
		Cmd:     g.Common.Cmd,
		Env:     d.env,
		Stdout:  sink,
		Timeout: d.timeout,
	})
	if err != nil {
		return fmt.Errorf("payload generator %q: %w", g.Common.Name, err)
	}
	return nil
}

// RunAction 执行用户动作，msgs 数量须在 [MinInputs, MaxInputs] 内（MaxInputs 为 0 表示不限）。
// 输出流式送入 out，loop 非空时回调在 loop 上执行
func (d *Dispatcher) RunAction(ctx context.Context, a model.UserActionTool, msgs []traffic.Message, out pump.Sink, loop *pump.Loop) (*executor.Result, error) {
	if !a.Common.Enabled {
		return nil, ErrDisabled
	}
	n := len(msgs)
	if n < a.MinInputs || (a.MaxInputs > 0 && n > a.MaxInputs) {
		return nil, fmt.Errorf("%w: %q accepts %d..%d inputs, got %d", ErrInputCount, a.Common.Name, a.MinInputs, a.MaxInputs, n)
	}
	if d.invoker == nil {
		return nil, fmt.Errorf("user action %q: no invoker configured", a.Common.Name)
	}
	inputs := make([][]byte, 0, n)
	for _, m := range msgs {
		inputs = append(inputs, m.Payload(a.Common.Cmd.PassHeaders))
	}
	res, err := d.invoker.Run(ctx, executor.Request{
		Cmd:     a.Common.Cmd,
		Inputs:  inputs,
		Env:     d.env,
		Stdout:  out,
		Loop:    loop,
		Timeout: d.timeout,
	})
	if err != nil {
		d.log.Warn("用户动作执行失败", "tool", a.Common.Name, "error", err)
		return res, fmt.Errorf("user action %q: %w", a.Common.Name, err)
	}
	return res, nil
}
