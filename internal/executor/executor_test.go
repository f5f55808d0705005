package executor

import (
	"context"
	"errors"
	"os"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"piper/internal/pump"
	"piper/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("subprocess tests rely on sh")
	}
}

func stdinCmd(prefix ...string) model.CommandInvocation {
	return model.CommandInvocation{Prefix: prefix, InputMethod: model.InputStdin}
}

func fileCmd(prefix ...string) model.CommandInvocation {
	return model.CommandInvocation{Prefix: prefix, InputMethod: model.InputFilename}
}

func newTestExecutor(t *testing.T) (*Executor, string) {
	dir := t.TempDir()
	return New(Options{TempDir: dir, WaitDelay: 200 * time.Millisecond}), dir
}

func assertDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files left behind")
}

func TestMergeEnv(t *testing.T) {
	defaults := DefaultEnvironment()

	got := MergeEnv(Environment{"PYTHONUNBUFFERED": "0", "EXISTING": "1"}, defaults)
	assert.Equal(t, Environment{"PYTHONUNBUFFERED": "0", "EXISTING": "1"}, got)

	got = MergeEnv(Environment{}, defaults)
	assert.Equal(t, Environment{"PYTHONUNBUFFERED": "1"}, got)

	explicit := Environment{"A": "x"}
	_ = MergeEnv(explicit, defaults)
	assert.Equal(t, Environment{"A": "x"}, explicit, "inputs must not be mutated")
}

func TestBuildEnviron(t *testing.T) {
	env := buildEnviron(
		[]string{"PATH=/bin", "PYTHONUNBUFFERED=0", "broken"},
		Environment{"EXTRA": "1", "PATH": "/usr/bin"},
		Environment{"PYTHONUNBUFFERED": "1", "NEW": "d"},
	)
	assert.Equal(t, []string{"EXTRA=1", "NEW=d", "PATH=/usr/bin", "PYTHONUNBUFFERED=0"}, env)
}

func TestBuildArgv(t *testing.T) {
	cases := []struct {
		name  string
		cmd   model.CommandInvocation
		files []string
		want  []string
	}{
		{"stdin", model.CommandInvocation{Prefix: []string{"jq", "."}, Postfix: []string{"-C"}}, nil, []string{"jq", ".", "-C"}},
		{"insert", model.CommandInvocation{Prefix: []string{"xxd"}, Postfix: []string{"-g1"}}, []string{"/t/a"}, []string{"xxd", "/t/a", "-g1"}},
		{"placeholder", model.CommandInvocation{Prefix: []string{"diff", "{file}", "-u"}}, []string{"/t/a", "/t/b"}, []string{"diff", "/t/a", "/t/b", "-u"}},
		{"embedded", model.CommandInvocation{Prefix: []string{"tool", "--in={file}"}}, []string{"/t/a"}, []string{"tool", "--in=/t/a"}},
		{"postfix placeholder", model.CommandInvocation{Prefix: []string{"cp"}, Postfix: []string{"{file}", "/dev/null"}}, []string{"/t/a"}, []string{"cp", "/t/a", "/dev/null"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, BuildArgv(tc.cmd, tc.files))
		})
	}
}

func TestInvoke_StdinReachesEOF(t *testing.T) {
	requireUnix(t)
	e, _ := newTestExecutor(t)

	res, err := e.Invoke(context.Background(), stdinCmd("cat"), []byte("hello\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(res.Stdout))
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, pump.StatusEOF, res.StdoutStatus)
	assert.NotEmpty(t, res.ID)
}

func TestInvoke_FilenameRemovesTempFile(t *testing.T) {
	requireUnix(t)
	e, dir := newTestExecutor(t)

	res, err := e.Invoke(context.Background(), fileCmd("cat"), []byte("from file"), nil)
	require.NoError(t, err)
	assert.Equal(t, "from file", string(res.Stdout))
	require.Len(t, res.Argv, 2)
	assert.True(t, strings.HasPrefix(res.Argv[1], dir))
	assertDirEmpty(t, dir)
}

func TestRun_MultipleFiles(t *testing.T) {
	requireUnix(t)
	e, dir := newTestExecutor(t)

	res, err := e.Run(context.Background(), Request{
		Cmd:    fileCmd("cat", "{file}"),
		Inputs: [][]byte{[]byte("a"), []byte("b")},
	})
	require.NoError(t, err)
	assert.Equal(t, "ab", string(res.Stdout))
	assertDirEmpty(t, dir)
}

func TestInvoke_NonZeroExit(t *testing.T) {
	requireUnix(t)
	e, dir := newTestExecutor(t)

	res, err := e.Invoke(context.Background(), fileCmd("sh", "-c", "echo oops >&2; exit 3", "sh"), []byte("x"), nil)
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 3, ee.ExitCode)
	assert.Equal(t, "oops\n", string(ee.Stderr))
	require.NotNil(t, res)
	assert.Equal(t, 3, res.ExitCode)
	assertDirEmpty(t, dir)
}

func TestInvoke_SpawnFailure(t *testing.T) {
	e, dir := newTestExecutor(t)

	res, err := e.Invoke(context.Background(), fileCmd("piper-definitely-missing-binary"), []byte("x"), nil)
	assert.Nil(t, res)
	var se *SpawnError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "piper-definitely-missing-binary", se.Argv[0])
	assertDirEmpty(t, dir)

	_, err = e.Invoke(context.Background(), model.CommandInvocation{}, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyCommand)
}

func TestInvoke_Timeout(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	e := New(Options{TempDir: dir, Timeout: 100 * time.Millisecond, WaitDelay: 100 * time.Millisecond})

	start := time.Now()
	res, err := e.Invoke(context.Background(), fileCmd("sh", "-c", "sleep 5", "sh", "{file}"), []byte("x"), nil)
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 3*time.Second)
	require.NotNil(t, res)
	assert.Equal(t, pump.StatusClosedEarly, res.StdoutStatus)
	assertDirEmpty(t, dir)
}

func TestInvoke_ParentCancel(t *testing.T) {
	requireUnix(t)
	e, _ := newTestExecutor(t)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := e.Invoke(ctx, stdinCmd("sleep", "5"), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInvoke_EnvironmentOverlay(t *testing.T) {
	requireUnix(t)
	e, _ := newTestExecutor(t)
	script := stdinCmd("sh", "-c", `printf "%s|%s" "$PYTHONUNBUFFERED" "$PIPER_X"`)

	res, err := e.Invoke(context.Background(), script, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "1|", string(res.Stdout))

	res, err = e.Invoke(context.Background(), script, nil, Environment{"PYTHONUNBUFFERED": "0", "PIPER_X": "y"})
	require.NoError(t, err)
	assert.Equal(t, "0|y", string(res.Stdout))
}

func TestRun_StreamsOnLoop(t *testing.T) {
	requireUnix(t)
	e, _ := newTestExecutor(t)
	loop := pump.NewLoop(8)
	defer loop.Close()

	var mu sync.Mutex
	var lines []string
	offLoop := 0
	closed := make(chan pump.Status, 1)
	sink := pump.NewLineSink(func(l string) {
		mu.Lock()
		defer mu.Unlock()
		if !loop.Executing() {
			offLoop++
		}
		lines = append(lines, l)
	}, func(s pump.Status, _ error) { closed <- s })

	res, err := e.Run(context.Background(), Request{
		Cmd:    stdinCmd("printf", "one\ntwo\nthree"),
		Stdout: sink,
		Loop:   loop,
	})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree", string(res.Stdout))

	select {
	case s := <-closed:
		assert.Equal(t, pump.StatusEOF, s)
	default:
		t.Fatal("sink was not closed before Run returned")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"one", "two", "three"}, lines)
	assert.Zero(t, offLoop)
}

func TestRun_ClosedLoopStillReturns(t *testing.T) {
	requireUnix(t)
	e, _ := newTestExecutor(t)
	loop := pump.NewLoop(1)
	loop.Close()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := e.Run(context.Background(), Request{
			Cmd:     stdinCmd("sh", "-c", "echo a; sleep 0.1; echo b"),
			Stdout:  pump.NewBufferSink(0),
			Loop:    loop,
			Timeout: 2 * time.Second,
		})
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		require.NoError(t, out.err)
		assert.Equal(t, pump.StatusFailed, out.res.StdoutStatus)
		assert.Equal(t, 0, out.res.ExitCode)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the loop was closed")
	}
}

func TestRun_OutputLimit(t *testing.T) {
	requireUnix(t)
	e := New(Options{MaxOutputBytes: 4})
	res, err := e.Invoke(context.Background(), stdinCmd("printf", "0123456789"), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "0123", string(res.Stdout))
	assert.True(t, res.Truncated)
}

func TestAudit(t *testing.T) {
	requireUnix(t)
	var events []AuditEventType
	e := New(Options{Audit: func(ev AuditEvent) { events = append(events, ev.Type) }})

	_, err := e.Invoke(context.Background(), stdinCmd("true"), nil, nil)
	require.NoError(t, err)
	_, err = e.Invoke(context.Background(), stdinCmd("piper-definitely-missing-binary"), nil, nil)
	require.Error(t, err)

	assert.Equal(t, []AuditEventType{AuditStart, AuditComplete, AuditStart, AuditFailed}, events)
}

func TestMissingDependencies(t *testing.T) {
	requireUnix(t)
	cmd := model.CommandInvocation{
		Prefix:         []string{"sh"},
		RequiredInPath: []string{"sh", "piper-definitely-missing-binary"},
	}
	assert.Equal(t, []string{"piper-definitely-missing-binary"}, MissingDependencies(cmd))
}

func TestErrorMessages(t *testing.T) {
	err := &ExecutionError{ExitCode: 2, Stderr: []byte("bad input\n")}
	assert.Equal(t, "process exited with code 2: bad input", err.Error())
	assert.Contains(t, (&TimeoutError{Timeout: time.Second}).Error(), "1s")
	assert.True(t, errors.Is(&SpawnError{Err: os.ErrPermission}, os.ErrPermission))
}
