package dispatcher

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"piper/internal/executor"
	"piper/internal/pump"
	"piper/pkg/model"
	"piper/pkg/traffic"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeInvoker 以可执行文件名分派到预设行为，代替真实进程
type fakeInvoker struct {
	mu    sync.Mutex
	calls []string
	tools map[string]func(input []byte) (out string, code int)
}

func (f *fakeInvoker) Invoke(ctx context.Context, cmd model.CommandInvocation, payload []byte, env executor.Environment) (*executor.Result, error) {
	return f.Run(ctx, executor.Request{Cmd: cmd, Inputs: [][]byte{payload}, Env: env})
}

func (f *fakeInvoker) Run(_ context.Context, req executor.Request) (*executor.Result, error) {
	name := req.Cmd.Executable()
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	fn, ok := f.tools[name]
	if !ok {
		return nil, &executor.SpawnError{Argv: req.Cmd.Prefix, Err: errors.New("not found")}
	}
	out, code := fn(bytes.Join(req.Inputs, nil))
	res := &executor.Result{ExitCode: code, Stdout: []byte(out)}
	if req.Stdout != nil {
		req.Stdout.Deliver([]byte(out))
		req.Stdout.Close(pump.StatusEOF, nil)
	}
	if code != 0 {
		return res, &executor.ExecutionError{ExitCode: code}
	}
	return res, nil
}

func (f *fakeInvoker) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func newFake() *fakeInvoker {
	return &fakeInvoker{tools: map[string]func([]byte) (string, int){
		"upper": func(in []byte) (string, int) { return string(bytes.ToUpper(in)), 0 },
		"echo":  func(in []byte) (string, int) { return string(in), 0 },
		"wrap":  func(in []byte) (string, int) { return "[" + string(in) + "]", 0 },
		"fail":  func([]byte) (string, int) { return "", 2 },
		"grep": func(in []byte) (string, int) {
			if bytes.Contains(in, []byte("secret")) {
				return "hit", 0
			}
			return "", 1
		},
		"note":  func([]byte) (string, int) { return "  looks odd\n", 0 },
		"lines": func([]byte) (string, int) { return "a\nb\nc\n", 0 },
		"count": func(in []byte) (string, int) { return string(rune('0' + len(in))), 0 },
	}}
}

func common(name, exe string, opts ...func(*model.MinimalTool)) model.MinimalTool {
	t := model.MinimalTool{
		Name:    name,
		Enabled: true,
		Scope:   model.ScopeRequestResponse,
		Cmd:     model.CommandInvocation{Prefix: []string{exe}, InputMethod: model.InputStdin},
	}
	for _, o := range opts {
		o(&t)
	}
	return t
}

func passHeaders(t *model.MinimalTool) { t.Cmd.PassHeaders = true }
func disabled(t *model.MinimalTool)    { t.Enabled = false }
func responseOnly(t *model.MinimalTool) {
	t.Scope = model.ScopeResponse
}

const rawReq = "GET / HTTP/1.1\r\nHost: a\r\n\r\nbody secret"

func req() traffic.Message {
	return traffic.NewMessage([]byte(rawReq), traffic.DirectionRequest, model.SourceProxy)
}

func TestView_SelectionAndPolicy(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.MessageViewers = []model.MessageViewer{
		{Common: common("up", "upper")},
		{Common: common("off", "upper", disabled)},
		{Common: common("resp", "upper", responseOnly)},
		{Common: common("bad", "fail"), UsesColors: true},
		{Common: common("whole", "echo", passHeaders)},
	}
	inv := newFake()
	d := New(cfg, Options{Invoker: inv})

	got := d.View(context.Background(), req())
	require.Len(t, got, 3)
	assert.Equal(t, "up", got[0].Tool)
	assert.Equal(t, "BODY SECRET", string(got[0].Output))
	assert.NoError(t, got[0].Err)

	assert.Equal(t, "bad", got[1].Tool)
	var ee *executor.ExecutionError
	assert.ErrorAs(t, got[1].Err, &ee)
	assert.True(t, got[1].UsesColors)

	assert.Equal(t, rawReq, string(got[2].Output))
	assert.Equal(t, 1, inv.called("upper"))
}

func TestViewerApplies_Filter(t *testing.T) {
	d := New(nil, Options{Invoker: newFake()})
	v := model.MessageViewer{Common: common("v", "echo", func(m *model.MinimalTool) {
		m.Filter = &model.MessageMatch{Header: &model.HeaderMatch{Header: "Host", Regex: model.RegexMatch{Pattern: "^a$"}}}
	})}
	assert.True(t, d.ViewerApplies(context.Background(), v, req()))

	v.Common.Filter.Negation = true
	assert.False(t, d.ViewerApplies(context.Background(), v, req()))
}

func TestApplyMacros_Chain(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Macros = []model.Macro{
		{Common: common("upper", "upper")},
		{Common: common("broken", "fail")},
		{Common: common("wrap", "wrap")},
	}
	d := New(cfg, Options{Invoker: newFake()})

	msg, outcomes := d.ApplyMacros(context.Background(), req())
	assert.Equal(t, "GET / HTTP/1.1\r\nHost: a\r\n\r\n[BODY SECRET]", string(msg.Bytes))
	assert.Equal(t, len("GET / HTTP/1.1\r\nHost: a\r\n\r\n"), msg.BodyOffset)
	require.Len(t, outcomes, 3)
	assert.NoError(t, outcomes[0].Err)
	assert.Error(t, outcomes[1].Err)
	assert.NoError(t, outcomes[2].Err)
}

func TestApplyMacros_PassHeadersReplacesWholeMessage(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Macros = []model.Macro{{Common: common("up", "upper", passHeaders)}}
	d := New(cfg, Options{Invoker: newFake()})

	msg, _ := d.ApplyMacros(context.Background(), req())
	assert.Equal(t, "GET / HTTP/1.1\r\nHOST: A\r\n\r\nBODY SECRET", string(msg.Bytes))
	assert.Equal(t, "BODY SECRET", string(msg.Body()))
}

func TestRunTool(t *testing.T) {
	d := New(nil, Options{Invoker: newFake()})
	ctx := context.Background()

	buf := pump.NewBufferSink(0)
	res, err := d.RunTool(ctx, model.MessageViewer{Common: common("body", "echo")}, req(), buf)
	require.NoError(t, err)
	assert.Equal(t, "body secret", string(res.Stdout))
	assert.Equal(t, "body secret", buf.String())

	res, err = d.RunTool(ctx, model.MessageViewer{Common: common("whole", "echo", passHeaders)}, req(), nil)
	require.NoError(t, err)
	assert.Equal(t, rawReq, string(res.Stdout))

	buf = pump.NewBufferSink(0)
	res, err = d.RunTool(ctx, model.Macro{Common: common("wrap", "wrap")}, req(), buf)
	require.NoError(t, err)
	want := "GET / HTTP/1.1\r\nHost: a\r\n\r\n[body secret]"
	assert.Equal(t, want, string(res.Stdout))
	assert.Equal(t, want, buf.String())

	_, err = d.RunTool(ctx, model.HTTPListener{Common: common("bad", "fail")}, req(), nil)
	var ee *executor.ExecutionError
	assert.ErrorAs(t, err, &ee)

	_, err = d.RunTool(ctx, model.MessageViewer{Common: common("off", "echo", disabled)}, req(), nil)
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestListen_SourceAndIsolation(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.HTTPListeners = []model.HTTPListener{
		{Common: common("all", "echo")},
		{Common: common("repeater", "echo"), Tools: []model.ToolSource{model.SourceRepeater}},
		{Common: common("missing", "nope")},
		{Common: common("proxy", "echo"), Tools: []model.ToolSource{model.SourceProxy}},
	}
	d := New(cfg, Options{Invoker: newFake(), Concurrency: 2})

	outcomes := d.Listen(context.Background(), req())
	require.Len(t, outcomes, 3)
	assert.Equal(t, "all", outcomes[0].Tool)
	var se *executor.SpawnError
	assert.ErrorAs(t, outcomes[1].Err, &se)
	assert.Equal(t, "proxy", outcomes[2].Tool)
	assert.NoError(t, outcomes[2].Err)
}

func TestAnnotate_Merge(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Highlighters = []model.Highlighter{
		{Common: common("grep-red", "grep"), Color: model.ColorRed, ApplyWithListener: true},
		{Common: common("grep-blue", "grep"), Color: model.ColorBlue, ApplyWithListener: true},
		{Common: common("manual", "grep"), Color: model.ColorGray},
	}
	cfg.Commentators = []model.Commentator{
		{Common: common("note", "note"), ApplyWithListener: true},
		{Common: common("silent", "fail"), ApplyWithListener: true},
	}
	d := New(cfg, Options{Invoker: newFake()})

	ann, outcomes := d.Annotate(context.Background(), req(), traffic.Annotation{Comment: "prev"})
	assert.Equal(t, model.ColorRed, ann.Highlight)
	assert.Equal(t, "prev; looks odd", ann.Comment)
	require.Len(t, outcomes, 4)
	for _, o := range outcomes {
		assert.NoError(t, o.Err, o.String())
	}
}

func TestAnnotate_HighlightOverwrite(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.Highlighters = []model.Highlighter{
		{Common: common("a", "grep"), Color: model.ColorRed, ApplyWithListener: true},
		{Common: common("b", "grep"), Color: model.ColorGreen, Overwrite: true, ApplyWithListener: true},
	}
	d := New(cfg, Options{Invoker: newFake()})
	ann, _ := d.Annotate(context.Background(), req(), traffic.Annotation{Highlight: model.ColorCyan})
	assert.Equal(t, model.ColorGreen, ann.Highlight)
}

func TestHighlight_NonZeroIsNoMatch(t *testing.T) {
	d := New(nil, Options{Invoker: newFake()})
	h := model.Highlighter{Common: common("g", "grep"), Color: model.ColorYellow}
	clean := traffic.NewMessage([]byte("GET / HTTP/1.1\r\n\r\nnothing"), traffic.DirectionRequest, model.SourceProxy)

	anns, outcomes := d.Highlight(context.Background(), h, []traffic.Message{req(), clean}, []traffic.Annotation{{}, {Highlight: model.ColorPink}})
	assert.Equal(t, model.ColorYellow, anns[0].Highlight)
	assert.Equal(t, model.ColorPink, anns[1].Highlight)
	for _, o := range outcomes {
		assert.NoError(t, o.Err)
	}

	h.Common.Enabled = false
	_, outcomes = d.Highlight(context.Background(), h, []traffic.Message{req()}, nil)
	assert.ErrorIs(t, outcomes[0].Err, ErrDisabled)
}

func TestComment_Overwrite(t *testing.T) {
	d := New(nil, Options{Invoker: newFake()})
	c := model.Commentator{Common: common("n", "note"), Overwrite: true}

	ann, o := d.Comment(context.Background(), c, req(), traffic.Annotation{Comment: "old"})
	require.NoError(t, o.Err)
	assert.Equal(t, "looks odd", ann.Comment)

	c = model.Commentator{Common: common("f", "fail")}
	ann, o = d.Comment(context.Background(), c, req(), traffic.Annotation{Comment: "old"})
	assert.NoError(t, o.Err)
	assert.Equal(t, "old", ann.Comment)
}

func TestMergeComment(t *testing.T) {
	assert.Equal(t, "a", MergeComment("a", "", true))
	assert.Equal(t, "b", MergeComment("", "b", false))
	assert.Equal(t, "a; b", MergeComment("a", "b", false))
	assert.Equal(t, "b", MergeComment("a", "b", true))
}

func TestPayloads(t *testing.T) {
	d := New(nil, Options{Invoker: newFake()})
	ctx := context.Background()

	out, err := d.ProcessPayload(ctx, model.PayloadProcessor{Common: common("p", "upper")}, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "ABC", string(out))

	_, err = d.ProcessPayload(ctx, model.PayloadProcessor{Common: common("p", "fail")}, []byte("abc"))
	var ee *executor.ExecutionError
	assert.ErrorAs(t, err, &ee)

	var got []string
	err = d.GeneratePayloads(ctx, model.PayloadGenerator{Common: common("g", "lines")}, func(b []byte) { got = append(got, string(b)) })
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	err = d.GeneratePayloads(ctx, model.PayloadGenerator{Common: common("g", "lines", disabled)}, func([]byte) {})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestRunAction_InputBounds(t *testing.T) {
	d := New(nil, Options{Invoker: newFake()})
	ctx := context.Background()
	a := model.UserActionTool{Common: common("cnt", "count"), MinInputs: 1, MaxInputs: 2}

	_, err := d.RunAction(ctx, a, nil, nil, nil)
	assert.ErrorIs(t, err, ErrInputCount)
	_, err = d.RunAction(ctx, a, []traffic.Message{req(), req(), req()}, nil, nil)
	assert.ErrorIs(t, err, ErrInputCount)

	sink := pump.NewBufferSink(0)
	two := []traffic.Message{
		traffic.NewMessage([]byte("H\r\n\r\nab"), traffic.DirectionRequest, model.SourceProxy),
		traffic.NewMessage([]byte("H\r\n\r\ncd"), traffic.DirectionRequest, model.SourceProxy),
	}
	res, err := d.RunAction(ctx, a, two, sink, nil)
	require.NoError(t, err)
	assert.Equal(t, "4", string(res.Stdout))
	assert.Equal(t, "4", sink.String())
}

func TestUpdate_SwapsSnapshot(t *testing.T) {
	d := New(nil, Options{Invoker: newFake()})
	assert.Equal(t, 0, d.Snapshot().Total())
	assert.Empty(t, d.View(context.Background(), req()))

	cfg := model.DefaultConfig()
	cfg.MessageViewers = []model.MessageViewer{{Common: common("v", "echo")}}
	d.Update(cfg)
	assert.Same(t, cfg, d.Snapshot())
	assert.Len(t, d.View(context.Background(), req()), 1)
}
