package dispatcher

import (
	"context"
	"fmt"
	"strings"

	"piper/pkg/model"
	"piper/pkg/traffic"
)

// CommentSeparator 非覆盖模式下追加注释的分隔符
const CommentSeparator = "; "

// MergeHighlight overwrite 时替换已有颜色，否则仅在没有颜色时设置
func MergeHighlight(existing model.Color, h model.Highlighter) model.Color {
	if h.Overwrite || existing == "" {
		return h.Color
	}
	return existing
}

// MergeComment overwrite 时替换已有注释，否则追加
func MergeComment(existing, text string, overwrite bool) string {
	switch {
	case text == "":
		return existing
	case overwrite || existing == "":
		return text
	default:
		return existing + CommentSeparator + text
	}
}

// highlight 求值单个高亮器；非零退出表示不匹配而非失败
func (d *Dispatcher) highlight(ctx context.Context, h model.Highlighter, msg traffic.Message) (bool, Outcome) {
	o := Outcome{Kind: model.KindHighlighter, Tool: h.Common.Name}
	ok, err := d.applies(ctx, h.Common, msg)
	if err != nil {
		o.Err = filterErr(err)
		return false, o
	}
	if !ok {
		return false, o
	}
	res, err := d.run(ctx, h.Common, msg.Payload(h.Common.Cmd.PassHeaders))
	o.Result = res
	if err != nil && !isNonZeroExit(err) {
		o.Err = err
		return false, o
	}
	matched, err := d.matcher.OutputMatches(ctx, h.Common.Cmd, res)
	if err != nil {
		o.Err = err
		return false, o
	}
	return matched, o
}

// comment 求值单个注释器；非零退出表示没有注释
func (d *Dispatcher) comment(ctx context.Context, c model.Commentator, msg traffic.Message) (string, Outcome) {
	o := Outcome{Kind: model.KindCommentator, Tool: c.Common.Name}
	ok, err := d.applies(ctx, c.Common, msg)
	if err != nil {
		o.Err = filterErr(err)
		return "", o
	}
	if !ok {
		return "", o
	}
	res, err := d.run(ctx, c.Common, msg.Payload(c.Common.Cmd.PassHeaders))
	o.Result = res
	if err != nil {
		if !isNonZeroExit(err) {
			o.Err = err
		}
		return "", o
	}
	return strings.TrimSpace(string(res.Stdout)), o
}

// Annotate 执行所有 applyWithListener 的高亮器与注释器，按配置顺序合并到 existing
func (d *Dispatcher) Annotate(ctx context.Context, msg traffic.Message, existing traffic.Annotation) (traffic.Annotation, []Outcome) {
	cfg := d.Snapshot()
	var hs []model.Highlighter
	for _, h := range cfg.Highlighters {
		if h.ApplyWithListener && h.Common.Enabled {
			hs = append(hs, h)
		}
	}
	var cs []model.Commentator
	for _, c := range cfg.Commentators {
		if c.ApplyWithListener && c.Common.Enabled {
			cs = append(cs, c)
		}
	}

	matched := make([]bool, len(hs))
	texts := make([]string, len(cs))
	outcomes := make([]Outcome, len(hs)+len(cs))
	d.fanOut(len(outcomes), func(i int) {
		if i < len(hs) {
			matched[i], outcomes[i] = d.highlight(ctx, hs[i], msg)
			return
		}
		j := i - len(hs)
		texts[j], outcomes[i] = d.comment(ctx, cs[j], msg)
	})

	ann := existing
	for i, h := range hs {
		if matched[i] {
			ann.Highlight = MergeHighlight(ann.Highlight, h)
		}
	}
	for j, c := range cs {
		ann.Comment = MergeComment(ann.Comment, texts[j], c.Overwrite)
	}
	for _, o := range outcomes {
		d.report(o)
	}
	return ann, outcomes
}

// Highlight 按需对选中的消息执行一个高亮器，existing 与 msgs 一一对应
func (d *Dispatcher) Highlight(ctx context.Context, h model.Highlighter, msgs []traffic.Message, existing []traffic.Annotation) ([]traffic.Annotation, []Outcome) {
	out := make([]traffic.Annotation, len(msgs))
	copy(out, existing)
	if !h.Common.Enabled {
		return out, []Outcome{{Kind: model.KindHighlighter, Tool: h.Common.Name, Err: ErrDisabled}}
	}
	outcomes := make([]Outcome, len(msgs))
	matched := make([]bool, len(msgs))
	d.fanOut(len(msgs), func(i int) {
		matched[i], outcomes[i] = d.highlight(ctx, h, msgs[i])
	})
	for i := range msgs {
		if matched[i] {
			out[i].Highlight = MergeHighlight(out[i].Highlight, h)
		}
		d.report(outcomes[i])
	}
	return out, outcomes
}

// Comment 按需对一条消息执行注释器
func (d *Dispatcher) Comment(ctx context.Context, c model.Commentator, msg traffic.Message, existing traffic.Annotation) (traffic.Annotation, Outcome) {
	if !c.Common.Enabled {
		return existing, Outcome{Kind: model.KindCommentator, Tool: c.Common.Name, Err: ErrDisabled}
	}
	text, o := d.comment(ctx, c, msg)
	existing.Comment = MergeComment(existing.Comment, text, c.Overwrite)
	d.report(o)
	return existing, o
}

func (o Outcome) String() string {
	if o.Err != nil {
		return fmt.Sprintf("%s/%s: %v", o.Kind, o.Tool, o.Err)
	}
	return fmt.Sprintf("%s/%s: ok", o.Kind, o.Tool)
}
