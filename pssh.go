// Package pssh runs one logical operation against many hosts in
// parallel: a remote command (Call), a file push (Copy), or a file
// pull (Slurp). Each host becomes one external remote-shell or
// remote-copy process, scheduled under a bounded degree of
// parallelism with per-task timeouts and streaming output capture.
//
// Per-host failures are values in the returned mapping, never
// batch-level errors. Crossing the configured fatal-failure threshold
// is the one all-or-nothing boundary: the operation terminates the
// process with a non-zero status instead of returning a partial
// mapping. Callers that need partial data below that boundary should
// watch completions via Options.Progress.
package pssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/krig/parallel-ssh/internal/command"
	"github.com/krig/parallel-ssh/internal/engine"
	"github.com/krig/parallel-ssh/internal/hostlist"
	"github.com/krig/parallel-ssh/internal/sink"
	"github.com/krig/parallel-ssh/internal/task"
)

// console serializes live-echo output from all tasks onto stdout.
var console = sink.NewConsole(os.Stdout)

// Process-wide defaults, passed explicitly into the engine rather
// than read from ambient state.
const (
	DefaultParallelism = 32
	DefaultTimeout     = 60 * time.Second
)

// Options configures an operation. The zero value is usable; see the
// field comments for defaults.
type Options struct {
	Parallelism int           // max in-flight tasks; default DefaultParallelism
	Timeout     time.Duration // per task; 0 means DefaultTimeout, negative means unbounded

	Askpass       bool   // watch for a password prompt and answer it once
	Password      string // credential supplied in askpass mode
	AskpassPrompt string // prompt regexp; default task.DefaultPrompt

	OutDir string // write stdout to one file per host under this directory
	ErrDir string // likewise for stderr

	SSHOptions []string // extra -o options for the external tool
	Extra      []string // extra trailing arguments

	Inline       bool // buffer stdout and stderr in memory
	InlineStdout bool // buffer stdout only
	Print        bool // echo stdout live, prefixed with the host name

	Input       []byte    // fed to every task's stdin
	InputStream io.Reader // read once at operation start, then used as Input

	Recursive bool // push/pull only: copy directories recursively

	DefaultUser string // user for hosts that specify none
	DefaultPort int    // port for hosts that specify none

	Verbose bool // debug logging
	Quiet   bool // reserved for CLI layers; the library never prints

	// Progress, when set, receives each task as it finishes, before
	// the final mapping exists.
	Progress engine.Observer

	// AbortPolicy is the fatal-failure predicate. Nil never aborts.
	AbortPolicy engine.AbortPolicy

	Logger *slog.Logger
}

// Outcome is the per-host result. Err is non-nil iff the task failed;
// the remaining fields are still populated where known.
type Outcome struct {
	Host       string
	ExitStatus int
	Stdout     string // inline content, or the capture file path with OutDir set
	Stderr     string
	LocalPath  string // Slurp: the local file the host's data landed in
	Duration   time.Duration
	Err        error
}

// HostError is the failure value stored in the result mapping,
// joining the task's accumulated failure reasons.
type HostError struct {
	Host    string
	Reasons []string
}

func (e *HostError) Error() string {
	return fmt.Sprintf("%s: %s", e.Host, strings.Join(e.Reasons, ", "))
}

// Builder seams for the command collaborator, swapped in tests.
var (
	buildCall = command.Call
	buildPush = command.Push
	buildPull = command.Pull

	osExit = os.Exit
)

// Call executes cmdline on every host and returns host -> Outcome.
func Call(ctx context.Context, hosts []string, cmdline string, opts *Options) (map[string]*Outcome, error) {
	o, targets, err := prepare(hosts, opts)
	if err != nil {
		return nil, err
	}
	tasks := make([]*task.Task, 0, len(targets))
	for _, h := range targets {
		argv := buildCall(h.Host, h.Port, h.User, cmdline, o.SSHOptions, o.Extra)
		tasks = append(tasks, newTask(h, argv, o))
	}
	return run(ctx, o, tasks)
}

// Copy pushes local sources to dest on every host.
func Copy(ctx context.Context, hosts []string, sources []string, dest string, opts *Options) (map[string]*Outcome, error) {
	o, targets, err := prepare(hosts, opts)
	if err != nil {
		return nil, err
	}
	copyOpts := command.CopyOpts{Options: o.SSHOptions, Extra: o.Extra, Recursive: o.Recursive}
	tasks := make([]*task.Task, 0, len(targets))
	for _, h := range targets {
		argv := buildPush(h.Host, h.Port, h.User, sources, dest, copyOpts)
		tasks = append(tasks, newTask(h, argv, o))
	}
	return run(ctx, o, tasks)
}

// Slurp pulls source from every host into localDir/<host>/. The
// per-host directories are created before any task starts.
func Slurp(ctx context.Context, hosts []string, source, localDir string, opts *Options) (map[string]*Outcome, error) {
	o, targets, err := prepare(hosts, opts)
	if err != nil {
		return nil, err
	}
	for _, h := range targets {
		if err := os.MkdirAll(filepath.Join(localDir, h.Host), 0o755); err != nil {
			return nil, fmt.Errorf("create local directory for %s: %w", h.Host, err)
		}
	}
	copyOpts := command.CopyOpts{Options: o.SSHOptions, Extra: o.Extra, Recursive: o.Recursive}
	tasks := make([]*task.Task, 0, len(targets))
	for _, h := range targets {
		localPath := filepath.Join(localDir, h.Host, filepath.Base(source))
		argv := buildPull(h.Host, h.Port, h.User, source, localPath, copyOpts)
		t := newTask(h, argv, o)
		t.LocalPath = localPath
		tasks = append(tasks, t)
	}
	return run(ctx, o, tasks)
}

// prepare normalizes options and expands the host list.
func prepare(hosts []string, opts *Options) (*Options, []hostlist.Host, error) {
	o := normalize(opts)
	if len(hosts) == 0 {
		return nil, nil, fmt.Errorf("no hosts given")
	}
	targets, err := hostlist.Expand(hosts, o.DefaultUser, o.DefaultPort)
	if err != nil {
		return nil, nil, err
	}
	for i := range targets {
		hostlist.MergeSSHConfig(&targets[i])
	}
	if o.InputStream != nil && len(o.Input) == 0 {
		data, err := io.ReadAll(o.InputStream)
		if err != nil {
			return nil, nil, fmt.Errorf("read input stream: %w", err)
		}
		o.Input = data
	}
	return o, targets, nil
}

func normalize(opts *Options) *Options {
	o := Options{}
	if opts != nil {
		o = *opts
	} else {
		// Library callers without options get buffered output, the
		// original API's behavior.
		o.Inline = true
	}
	if o.Parallelism <= 0 {
		o.Parallelism = DefaultParallelism
	}
	switch {
	case o.Timeout == 0:
		o.Timeout = DefaultTimeout
	case o.Timeout < 0:
		o.Timeout = 0
	}
	if o.Logger == nil {
		level := slog.LevelWarn
		if o.Verbose {
			level = slog.LevelDebug
		}
		o.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return &o
}

func newTask(h hostlist.Host, argv []string, o *Options) *task.Task {
	taskOpts := []task.Option{
		task.WithInlineOutput(o.Inline || o.InlineStdout, o.Inline),
	}
	if len(o.Input) > 0 {
		taskOpts = append(taskOpts, task.WithInput(o.Input))
	}
	if o.Print {
		taskOpts = append(taskOpts, task.WithEcho(console))
	}
	return task.New(h.Host, h.Port, h.User, argv, taskOpts...)
}

// run schedules the tasks and reduces the finished batch to the
// public mapping. On fatal abort it terminates the process with a
// non-zero status; no partial mapping escapes that path.
func run(ctx context.Context, o *Options, tasks []*task.Task) (map[string]*Outcome, error) {
	agg := &outputBuilder{}
	observer := engine.Observer(agg)
	if o.Progress != nil {
		observer = engine.Observers(o.Progress, agg)
	}

	engineOpts := []engine.Option{
		engine.WithLimit(o.Parallelism),
		engine.WithTimeout(o.Timeout),
		engine.WithOutputDirs(o.OutDir, o.ErrDir),
		engine.WithObserver(observer),
		engine.WithAbortPolicy(o.AbortPolicy),
		engine.WithLogger(o.Logger),
	}
	if o.Askpass {
		var prompt *regexp.Regexp
		if o.AskpassPrompt != "" {
			var err error
			if prompt, err = regexp.Compile(o.AskpassPrompt); err != nil {
				return nil, fmt.Errorf("askpass prompt pattern: %w", err)
			}
		}
		engineOpts = append(engineOpts, engine.WithAskpass(&task.Askpass{Password: o.Password, Prompt: prompt}))
	}

	mgr := engine.New(engineOpts...)
	for _, t := range tasks {
		mgr.Add(t)
	}

	if err := mgr.Run(ctx); err != nil {
		var fatal *engine.FatalError
		if errors.As(err, &fatal) {
			o.Logger.Error("batch aborted", "error", fatal)
			osExit(1)
		}
		return nil, err
	}
	return agg.results(), nil
}

// outputBuilder is the result aggregator: a pure observer that
// reduces finished tasks into the public mapping. Per-host failure is
// data in the mapping, never an error that disturbs other hosts.
type outputBuilder struct {
	finished []*task.Task
}

func (b *outputBuilder) TaskFinished(t *task.Task, n int) {
	b.finished = append(b.finished, t)
}

func (b *outputBuilder) BatchFinished(tasks []*task.Task) {}

func (b *outputBuilder) results() map[string]*Outcome {
	out := make(map[string]*Outcome, len(b.finished))
	for _, t := range b.finished {
		o := &Outcome{
			Host:       t.Host,
			ExitStatus: t.ExitStatus(),
			Duration:   t.Duration(),
			LocalPath:  t.LocalPath,
		}
		if path := t.StdoutPath(); path != "" {
			o.Stdout = path
		} else {
			o.Stdout = string(t.Stdout())
		}
		if path := t.StderrPath(); path != "" {
			o.Stderr = path
		} else {
			o.Stderr = string(t.Stderr())
		}
		if failures := t.Failures(); len(failures) > 0 {
			o.Err = &HostError{Host: t.Host, Reasons: failures}
		}
		out[t.Host] = o
	}
	return out
}
