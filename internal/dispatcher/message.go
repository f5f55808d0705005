package dispatcher

import (
	"context"
	"fmt"

	"piper/internal/executor"
	"piper/internal/pump"
	"piper/pkg/model"
	"piper/pkg/traffic"
)

// ViewResult 消息查看器输出
type ViewResult struct {
	Outcome
	Output     []byte
	UsesColors bool
}

// ViewerApplies 查看器是否适用于该消息
func (d *Dispatcher) ViewerApplies(ctx context.Context, v model.MessageViewer, msg traffic.Message) bool {
	ok, err := d.applies(ctx, v.Common, msg)
	if err != nil {
		d.log.Warn("查看器过滤条件求值失败", "tool", v.Common.Name, "error", err)
	}
	return ok
}

// View 并发执行所有适用的查看器，结果按配置顺序返回；非零退出视为失败
func (d *Dispatcher) View(ctx context.Context, msg traffic.Message) []ViewResult {
	viewers := d.Snapshot().MessageViewers
	results := make([]*ViewResult, len(viewers))
	d.fanOut(len(viewers), func(i int) {
		v := viewers[i]
		ok, err := d.applies(ctx, v.Common, msg)
		if err == nil && !ok {
			return
		}
		r := &ViewResult{Outcome: Outcome{Kind: model.KindMessageViewer, Tool: v.Common.Name}, UsesColors: v.UsesColors}
		results[i] = r
		if err != nil {
			r.Err = filterErr(err)
			return
		}
		r.Result, r.Err = d.run(ctx, v.Common, msg.Payload(v.Common.Cmd.PassHeaders))
		if r.Result != nil && r.Err == nil {
			r.Output = r.Result.Stdout
		}
	})

	out := make([]ViewResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			d.report(r.Outcome)
			out = append(out, *r)
		}
	}
	return out
}

// ApplyMacros 按配置顺序串行执行宏，前一个宏的输出作为后一个宏的输入。
// passHeaders 的宏输出替换整个消息，否则只替换消息体且头部字节保持原样；失败的宏不改变消息
func (d *Dispatcher) ApplyMacros(ctx context.Context, msg traffic.Message) (traffic.Message, []Outcome) {
	var outcomes []Outcome
	for _, m := range d.Snapshot().Macros {
		ok, err := d.applies(ctx, m.Common, msg)
		if err == nil && !ok {
			continue
		}
		o := Outcome{Kind: model.KindMacro, Tool: m.Common.Name}
		if err != nil {
			o.Err = filterErr(err)
		} else {
			o.Result, o.Err = d.run(ctx, m.Common, msg.Payload(m.Common.Cmd.PassHeaders))
		}
		if o.Err == nil && o.Result != nil {
			msg = rewrite(m, msg, o.Result.Stdout)
		}
		d.report(o)
		outcomes = append(outcomes, o)
	}
	return msg, outcomes
}

// Listen 并发通知所有适用的监听器，输出被丢弃；失败仅记录
func (d *Dispatcher) Listen(ctx context.Context, msg traffic.Message) []Outcome {
	listeners := d.Snapshot().HTTPListeners
	results := make([]*Outcome, len(listeners))
	d.fanOut(len(listeners), func(i int) {
		l := listeners[i]
		if !l.AcceptsSource(msg.Source) {
			return
		}
		ok, err := d.applies(ctx, l.Common, msg)
		if err == nil && !ok {
			return
		}
		o := &Outcome{Kind: model.KindHTTPListener, Tool: l.Common.Name}
		results[i] = o
		if err != nil {
			o.Err = filterErr(err)
			return
		}
		o.Result, o.Err = d.run(ctx, l.Common, msg.Payload(l.Common.Cmd.PassHeaders))
	})
	return d.collect(results)
}

func (d *Dispatcher) collect(results []*Outcome) []Outcome {
	out := make([]Outcome, 0, len(results))
	for _, o := range results {
		if o != nil {
			d.report(*o)
			out = append(out, *o)
		}
	}
	return out
}

// RunTool 按需对一条消息执行查看器、宏或监听器，不再求值过滤条件。
// 进程按 passHeaders 接收消息，非零退出为失败；查看器与监听器的 stdout 流式送入 out，
// 宏在结束后把改写后的整条消息送入 out 并作为 Result.Stdout 返回
func (d *Dispatcher) RunTool(ctx context.Context, t model.Tool, msg traffic.Message, out pump.Sink) (*executor.Result, error) {
	base := t.Base()
	if !base.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, base.Name)
	}
	if d.invoker == nil {
		return nil, fmt.Errorf("%s %q: no invoker configured", t.Kind(), base.Name)
	}
	macro, isMacro := t.(model.Macro)
	req := executor.Request{
		Cmd:     base.Cmd,
		Inputs:  [][]byte{msg.Payload(base.Cmd.PassHeaders)},
		Env:     d.env,
		Timeout: d.timeout,
	}
	if !isMacro {
		req.Stdout = out
	}
	res, err := d.invoker.Run(ctx, req)
	if err != nil {
		return res, fmt.Errorf("%s %q: %w", t.Kind(), base.Name, err)
	}
	if isMacro {
		res.Stdout = rewrite(macro, msg, res.Stdout).Bytes
		if out != nil {
			out.Deliver(res.Stdout)
			out.Close(pump.StatusEOF, nil)
		}
	}
	return res, nil
}

// rewrite 把宏的输出应用到消息上
func rewrite(m model.Macro, msg traffic.Message, stdout []byte) traffic.Message {
	if m.Common.Cmd.PassHeaders {
		return msg.WithBytes(stdout)
	}
	return msg.WithBody(stdout)
}
