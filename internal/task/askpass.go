package task

import (
	"io"
	"regexp"
	"sync"
)

// Askpass configures interactive password handling. When enabled, the
// scheduler watches the task's output for Prompt and writes Password
// to the process's stdin exactly once; a second prompt means the
// credential was rejected.
type Askpass struct {
	Password string
	Prompt   *regexp.Regexp // nil selects DefaultPrompt
}

// DefaultPrompt matches common interactive password prompts sitting
// at the end of the stream.
var DefaultPrompt = regexp.MustCompile(`(?i)password[^\n]*:\s*$`)

// promptTail bounds how much recent output is kept for prompt
// matching, enough to catch a prompt split across two reads.
const promptTail = 256

// promptWatcher scans output chunks from both streams for a password
// prompt and answers it once.
type promptWatcher struct {
	task     *Task
	re       *regexp.Regexp
	password string
	stdin    io.Writer

	mu        sync.Mutex
	tail      []byte
	responded bool
	failed    bool
}

func newPromptWatcher(t *Task, a *Askpass, stdin io.Writer) *promptWatcher {
	re := a.Prompt
	if re == nil {
		re = DefaultPrompt
	}
	return &promptWatcher{task: t, re: re, password: a.Password, stdin: stdin}
}

func (w *promptWatcher) observe(chunk []byte) {
	w.mu.Lock()
	if w.failed {
		w.mu.Unlock()
		return
	}
	w.tail = append(w.tail, chunk...)
	if n := len(w.tail); n > promptTail {
		w.tail = w.tail[n-promptTail:]
	}
	if !w.re.Match(w.tail) {
		w.mu.Unlock()
		return
	}
	w.tail = nil
	if !w.responded {
		w.responded = true
		w.mu.Unlock()
		if _, err := io.WriteString(w.stdin, w.password+"\n"); err != nil {
			w.task.addFailure("write password: " + err.Error())
		}
		return
	}
	w.failed = true
	w.mu.Unlock()
	w.task.addFailure("password prompt repeated")
	w.task.kill()
}
