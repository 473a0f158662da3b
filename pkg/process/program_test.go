package process

import (
	"bytes"
	"errors"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the concurrent forwarder goroutines
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests use POSIX utilities")
	}
}

func lookPath(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return path
}

func TestProgramStartStopStatus(t *testing.T) {
	requireUnix(t)
	p := New("sleeper", lookPath(t, "sleep"), []string{"30"})

	assert.False(t, p.Status())
	assert.Zero(t, p.PID())

	require.NoError(t, p.Start())
	assert.True(t, p.Status())
	assert.NotZero(t, p.PID())

	require.NoError(t, p.Stop())
	assert.False(t, p.Status())
	assert.Zero(t, p.PID())
}

func TestProgramStopIsIdempotent(t *testing.T) {
	requireUnix(t)
	p := New("sleeper", lookPath(t, "sleep"), []string{"30"})

	// Never started
	require.NoError(t, p.Stop())

	require.NoError(t, p.Start())
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Stop())
		assert.False(t, p.Status())
	}
}

func TestProgramStartTwice(t *testing.T) {
	requireUnix(t)
	p := New("sleeper", lookPath(t, "sleep"), []string{"30"})
	require.NoError(t, p.Start())
	defer p.Stop()

	pid := p.PID()
	err := p.Start()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyRunning))
	assert.Equal(t, pid, p.PID(), "no second process must be spawned")
}

func TestProgramRestartAfterExit(t *testing.T) {
	requireUnix(t)
	exits := make(chan Exit, 2)
	p := New("truth", lookPath(t, "true"), nil, WithExitHook(func(e Exit) { exits <- e }))

	require.NoError(t, p.Start())
	select {
	case e := <-exits:
		assert.False(t, e.Requested)
		assert.NoError(t, e.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("exit hook not fired")
	}
	assert.False(t, p.Status())

	// A dead process does not block a fresh start
	require.NoError(t, p.Start())
	<-exits
}

func TestProgramStartMissingBinary(t *testing.T) {
	p := New("ghost", "/nonexistent/lanlink-worker", nil)
	err := p.Start()
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrAlreadyRunning))
	assert.False(t, p.Status())
}

func TestProgramForwardsOutput(t *testing.T) {
	requireUnix(t)
	out := &syncBuffer{}
	logger := zerolog.New(out).With().Str("worker", "echoer").Logger()

	p := New("echoer", lookPath(t, "sh"),
		[]string{"-c", "echo hello from worker; echo broken pipe 1>&2"},
		WithLogger(logger))
	require.NoError(t, p.Start())

	// the start line carries the arguments, so match the forwarded messages
	assert.Eventually(t, func() bool {
		s := []byte(out.String())
		return bytes.Contains(s, []byte(`"message":"hello from worker"`)) &&
			bytes.Contains(s, []byte(`"message":"broken pipe"`))
	}, 5*time.Second, 20*time.Millisecond)

	var stderrLine string
	for _, line := range strings.Split(out.String(), "\n") {
		if strings.Contains(line, `"message":"broken pipe"`) {
			stderrLine = line
		}
	}
	assert.Contains(t, stderrLine, `"stream":"stderr"`)
	assert.Contains(t, stderrLine, `"level":"warn"`)
	assert.Contains(t, stderrLine, `"worker":"echoer"`)
}

func TestProgramExitHookRequested(t *testing.T) {
	requireUnix(t)
	exits := make(chan Exit, 1)
	p := New("sleeper", lookPath(t, "sleep"), []string{"30"}, WithExitHook(func(e Exit) { exits <- e }))

	require.NoError(t, p.Start())
	pid := p.PID()
	require.NoError(t, p.Stop())

	select {
	case e := <-exits:
		assert.True(t, e.Requested)
		assert.Equal(t, pid, e.PID)
		assert.Equal(t, "sleeper", e.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("exit hook not fired")
	}
}

func TestProgramArgsAreCopied(t *testing.T) {
	args := []string{"-p", "8090"}
	p := New("fileserver", "/bin/miniserve", args)
	args[1] = "9999"

	assert.Equal(t, []string{"-p", "8090"}, p.Args())
	assert.Equal(t, "/bin/miniserve", p.Path())
	assert.Equal(t, "fileserver", p.Name())
}
