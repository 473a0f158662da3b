package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/lanlink/pkg/log"
	"github.com/rs/zerolog"
)

var (
	// ErrAlreadyRunning is returned by Start when the process is still alive
	ErrAlreadyRunning = errors.New("process already running")

	// ErrKillTimeout is returned by Stop when a killed process is not reaped in time
	ErrKillTimeout = errors.New("process did not exit after kill")
)

const (
	// waitDelay bounds how long Wait keeps copying output after the process
	// exited, in case a grandchild inherited the pipes
	waitDelay = 2 * time.Second

	killTimeout = 5 * time.Second

	maxLineSize = 1024 * 1024
)

// Exit describes how a run of the program ended
type Exit struct {
	Name string
	PID  int
	Err  error
	// Requested is true when the exit was caused by Stop
	Requested bool
}

// ExitFunc is invoked from the waiter goroutine once the process is reaped
type ExitFunc func(Exit)

// Option configures a Program
type Option func(*Program)

// WithLogger overrides the per-worker logger used for forwarded output
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Program) {
		p.logger = logger
	}
}

// WithExitHook registers a callback fired after every run ends
func WithExitHook(fn ExitFunc) Option {
	return func(p *Program) {
		p.onExit = fn
	}
}

// Program owns one external worker process: its launch specification and,
// while running, the OS process handle
type Program struct {
	name   string
	path   string
	args   []string
	logger zerolog.Logger
	onExit ExitFunc

	mu  sync.Mutex
	run *run
}

// run is the state of a single spawned process
type run struct {
	cmd     *exec.Cmd
	done    chan struct{}
	err     error
	stopped atomic.Bool
}

func (r *run) exited() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// New creates a Program; nothing is spawned until Start
func New(name, path string, args []string, opts ...Option) *Program {
	p := &Program{
		name:   name,
		path:   path,
		args:   append([]string(nil), args...),
		logger: log.WithWorker(name),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the worker name
func (p *Program) Name() string {
	return p.name
}

// Path returns the executable path
func (p *Program) Path() string {
	return p.path
}

// Args returns a copy of the launch arguments
func (p *Program) Args() []string {
	return append([]string(nil), p.args...)
}

// PID returns the OS process ID, or 0 when not running
func (p *Program) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.run == nil || p.run.exited() {
		return 0
	}
	return p.run.cmd.Process.Pid
}

// Start spawns the process and begins forwarding its output to the logger
func (p *Program) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.run != nil && !p.run.exited() {
		return fmt.Errorf("%w: %s (PID %d)", ErrAlreadyRunning, p.name, p.run.cmd.Process.Pid)
	}

	p.logger.Debug().
		Str("path", p.path).
		Strs("args", p.args).
		Msg("Starting worker process")

	cmd := exec.Command(p.path, p.args...)
	hideWindow(cmd)
	cmd.WaitDelay = waitDelay

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return fmt.Errorf("failed to start %s: %w", p.name, err)
	}

	r := &run{cmd: cmd, done: make(chan struct{})}
	p.run = r

	go p.forward(stdoutR, "stdout")
	go p.forward(stderrR, "stderr")
	go p.wait(r, stdoutW, stderrW)

	p.logger.Info().Int("pid", cmd.Process.Pid).Msg("Worker process started")
	return nil
}

// Stop kills the process if it is running. Stopping a stopped program succeeds.
func (p *Program) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	r := p.run
	if r == nil {
		return nil
	}
	if r.exited() {
		p.run = nil
		return nil
	}

	r.stopped.Store(true)
	if err := r.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill %s: %w", p.name, err)
	}

	select {
	case <-r.done:
	case <-time.After(killTimeout):
		return fmt.Errorf("%w: %s", ErrKillTimeout, p.name)
	}

	p.run = nil
	p.logger.Info().Msg("Worker process stopped")
	return nil
}

// Status reports whether the process is alive. It never blocks on the process.
func (p *Program) Status() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.run != nil && !p.run.exited()
}

func (p *Program) wait(r *run, stdout, stderr *io.PipeWriter) {
	err := r.cmd.Wait()
	stdout.Close()
	stderr.Close()

	r.err = err
	close(r.done)

	exit := Exit{
		Name:      p.name,
		PID:       r.cmd.Process.Pid,
		Err:       err,
		Requested: r.stopped.Load(),
	}

	if !exit.Requested {
		evt := p.logger.Warn().Int("pid", exit.PID)
		if err != nil {
			evt = evt.Err(err)
		}
		evt.Msg("Worker process exited")
	}

	if p.onExit != nil {
		p.onExit(exit)
	}
}

// forward copies output line by line into the worker logger until the
// stream closes
func (p *Program) forward(r io.Reader, stream string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		if stream == "stderr" {
			p.logger.Warn().Str("stream", stream).Msg(line)
		} else {
			p.logger.Info().Msg(line)
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Debug().Err(err).Str("stream", stream).Msg("Output forwarding stopped")
		// Keep draining so the process never blocks on a full pipe
		_, _ = io.Copy(io.Discard, r)
	}
}
