// Package task models one unit of remote work: a single external
// process bound to a single host. A task captures the process's
// output incrementally, accumulates failure reasons, and walks a
// monotonic state machine from Pending to one of the terminal states.
package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/krig/parallel-ssh/internal/sink"
)

// State is the lifecycle position of a Task. Transitions are
// monotonic: Pending -> Running -> {Succeeded, Failed, TimedOut}.
// A task cancelled before launch goes straight from Pending to Failed.
type State int

const (
	Pending State = iota
	Running
	Succeeded
	Failed
	TimedOut
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed out"
	}
	return "unknown"
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == Succeeded || s == Failed || s == TimedOut
}

// readChunk bounds a single read from the child's pipes, so one noisy
// task cannot starve the others.
const readChunk = 64 * 1024

// Task drives one external process to completion. Identity fields are
// immutable after New; outcome fields freeze once the task is
// terminal.
type Task struct {
	Host string
	Port int // 0 means unset
	User string // "" means unset
	Argv []string

	// LocalPath is the local destination of a pull operation. It is
	// carried through to the result and ignored by the scheduler.
	LocalPath string

	input        []byte
	inlineStdout bool
	inlineStderr bool
	echo         *sink.Console

	outBuf *sink.Buffer
	errBuf *sink.Buffer

	mu         sync.Mutex
	state      State
	failures   []string
	exit       int
	started    time.Time
	duration   time.Duration
	proc       *exec.Cmd
	killed     bool
	timedOut   bool
	stdoutPath string
	stderrPath string
}

// Option configures a Task at creation.
type Option func(*Task)

// WithInput feeds b to the process's standard input.
func WithInput(b []byte) Option {
	return func(t *Task) { t.input = b }
}

// WithInlineOutput buffers the selected streams in memory.
func WithInlineOutput(stdout, stderr bool) Option {
	return func(t *Task) {
		t.inlineStdout = stdout
		t.inlineStderr = stderr
	}
}

// WithEcho additionally writes stdout to the console as it arrives,
// each chunk prefixed with the host name.
func WithEcho(c *sink.Console) Option {
	return func(t *Task) { t.echo = c }
}

// WithLocalPath records the local destination of a pull operation.
func WithLocalPath(path string) Option {
	return func(t *Task) { t.LocalPath = path }
}

// New creates a Task in the Pending state.
func New(host string, port int, user string, argv []string, opts ...Option) *Task {
	t := &Task{
		Host: host,
		Port: port,
		User: user,
		Argv: argv,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.inlineStdout {
		t.outBuf = &sink.Buffer{}
	}
	if t.inlineStderr {
		t.errBuf = &sink.Buffer{}
	}
	return t
}

// RunConfig carries the scheduler-owned settings for one launch.
type RunConfig struct {
	Timeout time.Duration // <= 0 means unbounded
	NodeNum int           // launch index, exported as PSSH_NODENUM
	Askpass *Askpass      // nil disables prompt handling
	OutDir  *sink.DirWriter
	ErrDir  *sink.DirWriter
}

// Run spawns the task's process and drives it to a terminal state.
// It blocks until the process has exited and both output streams are
// drained. Cancelling ctx kills the process group and records an
// "Interrupted" failure.
func (t *Task) Run(ctx context.Context, cfg RunConfig) {
	t.mu.Lock()
	t.transition(Running)
	t.started = time.Now()
	t.mu.Unlock()
	defer t.finalize()

	if len(t.Argv) == 0 {
		t.addFailure("no command to execute")
		return
	}

	cmd := exec.Command(t.Argv[0], t.Argv[1:]...)
	cmd.Env = append(os.Environ(),
		"PSSH_NODENUM="+strconv.Itoa(cfg.NodeNum),
		"PSSH_HOST="+t.Host)
	// Run the child in its own process group so a kill reaches the
	// remote-shell binary and anything it spawned.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		t.addFailure("stdout pipe: " + err.Error())
		return
	}
	errPipe, err := cmd.StderrPipe()
	if err != nil {
		t.addFailure("stderr pipe: " + err.Error())
		return
	}

	var stdin io.WriteCloser
	if len(t.input) > 0 || cfg.Askpass != nil {
		stdin, err = cmd.StdinPipe()
		if err != nil {
			t.addFailure("stdin pipe: " + err.Error())
			return
		}
	}

	outW, errW, closers, err := t.openSinks(cfg)
	if err != nil {
		t.addFailure(err.Error())
		return
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	var watcher *promptWatcher
	if cfg.Askpass != nil {
		watcher = newPromptWatcher(t, cfg.Askpass, stdin)
	}

	if err := cmd.Start(); err != nil {
		t.addFailure("failed to start: " + err.Error())
		return
	}
	t.mu.Lock()
	t.proc = cmd
	t.mu.Unlock()

	if stdin != nil {
		go func() {
			if len(t.input) > 0 {
				if _, err := stdin.Write(t.input); err != nil {
					t.addFailure("write stdin: " + err.Error())
				}
			}
			// With askpass enabled the pipe stays open so the
			// credential can be delivered when the prompt shows up.
			if watcher == nil {
				stdin.Close()
			}
		}()
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go t.drain("stdout", outPipe, outW, watcher, &wg)
	go t.drain("stderr", errPipe, errW, watcher, &wg)

	waitC := make(chan error, 1)
	go func() {
		wg.Wait()
		waitC <- cmd.Wait()
	}()

	var timeoutC <-chan time.Time
	if cfg.Timeout > 0 {
		timer := time.NewTimer(cfg.Timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	var waitErr error
	select {
	case waitErr = <-waitC:
	case <-timeoutC:
		t.markTimedOut()
		t.kill()
		waitErr = <-waitC
	case <-ctx.Done():
		t.addFailure("Interrupted")
		t.kill()
		waitErr = <-waitC
	}
	if stdin != nil {
		stdin.Close()
	}
	t.recordExit(waitErr)
}

// Cancel finalizes a task that never started, e.g. when the batch
// aborted while it was still queued.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Pending {
		return
	}
	t.failures = append(t.failures, "Cancelled")
	t.transition(Failed)
}

// openSinks assembles the writer chains for both streams. Echo applies
// to stdout only, matching the original print-as-it-arrives behavior.
func (t *Task) openSinks(cfg RunConfig) (outW, errW []io.Writer, closers []io.Closer, err error) {
	if t.outBuf != nil {
		outW = append(outW, t.outBuf)
	}
	if t.errBuf != nil {
		errW = append(errW, t.errBuf)
	}
	if cfg.OutDir != nil {
		f, err := cfg.OutDir.Open(t.Host)
		if err != nil {
			return nil, nil, closers, err
		}
		closers = append(closers, f)
		outW = append(outW, f)
		t.mu.Lock()
		t.stdoutPath = f.Location()
		t.mu.Unlock()
	}
	if cfg.ErrDir != nil {
		f, err := cfg.ErrDir.Open(t.Host)
		if err != nil {
			return nil, nil, closers, err
		}
		closers = append(closers, f)
		errW = append(errW, f)
		t.mu.Lock()
		t.stderrPath = f.Location()
		t.mu.Unlock()
	}
	if t.echo != nil {
		outW = append(outW, t.echo.Host(t.Host))
	}
	return outW, errW, closers, nil
}

// drain reads the stream in bounded chunks and forwards each chunk to
// every sink, so no byte is lost even if the process exits abruptly.
func (t *Task) drain(name string, r io.Reader, writers []io.Writer, watcher *promptWatcher, wg *sync.WaitGroup) {
	defer wg.Done()
	buf := make([]byte, readChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			for _, w := range writers {
				if _, werr := w.Write(chunk); werr != nil {
					t.addFailure(fmt.Sprintf("write %s: %v", name, werr))
				}
			}
			if watcher != nil {
				watcher.observe(chunk)
			}
		}
		if err != nil {
			if err != io.EOF && !errors.Is(err, os.ErrClosed) {
				t.addFailure(fmt.Sprintf("read %s: %v", name, err))
			}
			return
		}
	}
}

// kill signals the whole process group. Idempotent.
func (t *Task) kill() {
	t.mu.Lock()
	proc := t.proc
	already := t.killed
	t.killed = true
	t.mu.Unlock()
	if already || proc == nil || proc.Process == nil {
		return
	}
	syscall.Kill(-proc.Process.Pid, syscall.SIGKILL)
}

func (t *Task) markTimedOut() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timedOut = true
	t.failures = append(t.failures, "Timed out")
}

func (t *Task) addFailure(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures = append(t.failures, reason)
}

// recordExit translates the process's wait result into an exit status
// and, when non-zero, a failure reason.
func (t *Task) recordExit(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		t.exit = 0
		return
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			sig := int(ws.Signal())
			t.exit = -sig
			t.failures = append(t.failures, fmt.Sprintf("Killed by signal %d", sig))
			return
		}
		t.exit = ee.ExitCode()
		t.failures = append(t.failures, fmt.Sprintf("Exited with error code %d", t.exit))
		return
	}
	t.exit = -1
	t.failures = append(t.failures, err.Error())
}

// finalize picks the terminal state. Timeout wins over ordinary
// failure, which wins over success.
func (t *Task) finalize() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.duration = time.Since(t.started)
	switch {
	case t.timedOut:
		t.transition(TimedOut)
	case len(t.failures) > 0:
		t.transition(Failed)
	default:
		t.transition(Succeeded)
	}
}

// transition enforces the state machine. The caller holds t.mu.
func (t *Task) transition(next State) {
	valid := false
	switch t.state {
	case Pending:
		valid = next == Running || next == Failed
	case Running:
		valid = next.Terminal()
	}
	if !valid {
		panic(fmt.Sprintf("task %s: invalid state transition %s -> %s", t.Host, t.state, next))
	}
	t.state = next
}

// State returns the task's current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Failures returns the accumulated failure reasons. Empty iff the
// task succeeded.
func (t *Task) Failures() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.failures))
	copy(out, t.failures)
	return out
}

// ExitStatus is the process exit status. Undefined before the task is
// terminal; negative when the process died on a signal.
func (t *Task) ExitStatus() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exit
}

// Duration is the task's wall-clock run time, measured from its own
// launch.
func (t *Task) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// Stdout returns the in-memory captured stdout, if buffering was on.
func (t *Task) Stdout() []byte {
	if t.outBuf == nil {
		return nil
	}
	return t.outBuf.Bytes()
}

// Stderr returns the in-memory captured stderr, if buffering was on.
func (t *Task) Stderr() []byte {
	if t.errBuf == nil {
		return nil
	}
	return t.errBuf.Bytes()
}

// StdoutPath is the capture file for stdout, or "" without a file sink.
func (t *Task) StdoutPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stdoutPath
}

// StderrPath is the capture file for stderr, or "" without a file sink.
func (t *Task) StderrPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stderrPath
}

// Addr formats the host with its port when one was given.
func (t *Task) Addr() string {
	if t.Port > 0 {
		return fmt.Sprintf("%s:%d", t.Host, t.Port)
	}
	return t.Host
}
