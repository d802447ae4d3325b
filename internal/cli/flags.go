package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	pssh "github.com/krig/parallel-ssh"
	"github.com/krig/parallel-ssh/internal/config"
	"github.com/krig/parallel-ssh/internal/engine"
	"github.com/krig/parallel-ssh/internal/hostlist"
	"github.com/krig/parallel-ssh/internal/report"
	"github.com/krig/parallel-ssh/internal/task"
)

// batchFlags is the flag set shared by run, push, and pull.
type batchFlags struct {
	hostFiles   []string
	hostArgs    []string
	group       string
	user        string
	port        int
	parallelism int
	timeout     time.Duration
	askpass     bool
	outDir      string
	errDir      string
	sshOptions  []string
	extra       []string
	inline      bool
	inlineOut   bool
	print       bool
	sendInput   bool
	maxFailures int
	verbose     bool
	quiet       bool
	noColor     bool
	jsonOut     bool
	summary     bool
	cfgFile     string
}

func (f *batchFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringSliceVar(&f.hostFiles, "hosts", nil, "host file(s), one [user@]host[:port] per line")
	fl.StringSliceVarP(&f.hostArgs, "host", "H", nil, "additional [user@]host[:port] entries")
	fl.StringVarP(&f.group, "group", "g", "", "host group from the config file")
	fl.StringVarP(&f.user, "user", "l", "", "default remote user")
	fl.IntVar(&f.port, "port", 0, "default remote port")
	fl.IntVarP(&f.parallelism, "par", "p", 0, fmt.Sprintf("max parallel tasks (default %d)", pssh.DefaultParallelism))
	fl.DurationVarP(&f.timeout, "timeout", "t", 0, fmt.Sprintf("per-host timeout, e.g. 30s (default %s, -1s disables)", pssh.DefaultTimeout))
	fl.BoolVarP(&f.askpass, "askpass", "A", false, "prompt for a password and answer remote password prompts")
	fl.StringVarP(&f.outDir, "outdir", "o", "", "write each host's stdout to a file in this directory")
	fl.StringVarP(&f.errDir, "errdir", "e", "", "write each host's stderr to a file in this directory")
	fl.StringArrayVarP(&f.sshOptions, "option", "O", nil, "extra -o option passed to the remote tool (repeatable)")
	fl.StringArrayVarP(&f.extra, "extra", "x", nil, "extra argument passed to the remote tool (repeatable)")
	fl.BoolVarP(&f.inline, "inline", "i", false, "buffer stdout and stderr in memory and print them per host")
	fl.BoolVar(&f.inlineOut, "inline-stdout", false, "buffer stdout only")
	fl.BoolVarP(&f.print, "print", "P", false, "print stdout as it arrives, prefixed with the host name")
	fl.BoolVarP(&f.sendInput, "send-input", "I", false, "read stdin once and feed it to every task")
	fl.IntVar(&f.maxFailures, "max-failures", -1, "abort the batch once more than this many hosts fail (-1 disables)")
	fl.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "suppress per-host progress lines")
	fl.BoolVar(&f.noColor, "no-color", false, "disable colored output")
	fl.BoolVar(&f.jsonOut, "json", false, "print results as JSON")
	fl.BoolVar(&f.summary, "summary", false, "print a summary table when the batch finishes")
	fl.StringVar(&f.cfgFile, "config", "", "config file (default $HOME/.pssh.yaml)")
}

// entryString renders a resolved host back into canonical
// [user@]host[:port] form for the public API.
func entryString(h hostlist.Host) string {
	s := h.Host
	if h.Port > 0 {
		s = fmt.Sprintf("%s:%d", s, h.Port)
	}
	if h.User != "" {
		s = h.User + "@" + s
	}
	return s
}

// resolve turns the flags into library options and the host entry
// list, prompting for a password when askpass is on.
func (f *batchFlags) resolve() (*pssh.Options, []string, *report.Printer, error) {
	level := slog.LevelWarn
	if f.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(f.cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}

	var entries []string
	if f.group != "" {
		groupHosts, err := cfg.ResolveGroup(f.group, f.user, f.port)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, h := range groupHosts {
			entries = append(entries, entryString(h))
		}
	}
	for _, path := range f.hostFiles {
		fileHosts, err := hostlist.ReadFile(path, f.user, f.port)
		if err != nil {
			return nil, nil, nil, err
		}
		for _, h := range fileHosts {
			entries = append(entries, entryString(h))
		}
	}
	entries = append(entries, f.hostArgs...)
	if len(entries) == 0 {
		return nil, nil, nil, fmt.Errorf("no hosts specified: use --hosts, -H, or -g")
	}

	parallelism := f.parallelism
	if parallelism <= 0 {
		parallelism = cfg.Defaults.Parallelism
	}
	timeout := f.timeout
	if timeout == 0 {
		timeout = cfg.Defaults.Timeout.Duration
	}

	color := !f.noColor && term.IsTerminal(int(os.Stdout.Fd()))
	printer := report.NewPrinter(os.Stdout, color, f.quiet || f.jsonOut)

	opts := &pssh.Options{
		Parallelism:  parallelism,
		Timeout:      timeout,
		Askpass:      f.askpass,
		OutDir:       f.outDir,
		ErrDir:       f.errDir,
		SSHOptions:   f.sshOptions,
		Extra:        f.extra,
		Inline:       f.inline,
		InlineStdout: f.inlineOut,
		Print:        f.print,
		DefaultUser:  f.user,
		DefaultPort:  f.port,
		Verbose:      f.verbose,
		Quiet:        f.quiet,
		Progress:     printer,
		Logger:       logger,
	}
	if f.maxFailures >= 0 {
		opts.AbortPolicy = engine.MaxFailures(f.maxFailures)
	}
	if f.sendInput {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("read stdin: %w", err)
		}
		opts.Input = data
	}
	if f.askpass {
		fmt.Fprint(os.Stderr, "Password: ")
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("read password: %w", err)
		}
		opts.Password = string(pw)
	}

	return opts, entries, printer, nil
}

// finish renders the requested end-of-batch output and maps per-host
// failures to the partial-failure exit status.
func (f *batchFlags) finish(printer *report.Printer) error {
	tasks := printer.Tasks()
	if f.jsonOut {
		if err := report.WriteJSON(os.Stdout, tasks); err != nil {
			return err
		}
	}
	if f.summary {
		report.Summary(os.Stdout, tasks)
	}
	for _, t := range tasks {
		if t.State() != task.Succeeded {
			return ExitCode(3)
		}
	}
	return nil
}
