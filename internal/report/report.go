// Package report renders batch progress and results for the
// terminal: a status line per finished task, an optional summary
// table, and JSON output.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"charm.land/lipgloss/v2"
	"github.com/olekukonko/tablewriter"

	"github.com/krig/parallel-ssh/internal/task"
)

var (
	progressStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00E5FF"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#04B575")).
			Bold(true)

	failureStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4672")).
			Bold(true)

	stderrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF4672"))
)

// Printer is an engine observer that prints one status line per
// finished task, in finish order, plus any inline-captured output.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	color  bool
	silent bool
	tasks  []*task.Task
}

// NewPrinter writes to out. With color off, styles are skipped; with
// silent on, only the finished tasks are collected for Summary/JSON.
func NewPrinter(out io.Writer, color, silent bool) *Printer {
	return &Printer{out: out, color: color, silent: silent}
}

// TaskFinished implements engine.Observer.
func (p *Printer) TaskFinished(t *task.Task, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, t)
	if p.silent {
		return
	}

	tstamp := time.Now().Format("15:04:05")
	progress := p.render(progressStyle, fmt.Sprintf("[%d]", n))
	if failures := t.Failures(); len(failures) > 0 {
		status := p.render(failureStyle, "[FAILURE]")
		reasons := p.render(failureStyle, strings.Join(failures, ", "))
		fmt.Fprintf(p.out, "%s %s %s %s %s\n", progress, tstamp, status, t.Addr(), reasons)
	} else {
		status := p.render(successStyle, "[SUCCESS]")
		fmt.Fprintf(p.out, "%s %s %s %s\n", progress, tstamp, status, t.Addr())
	}

	if out := t.Stdout(); len(out) > 0 {
		p.out.Write(out)
	}
	if errOut := t.Stderr(); len(errOut) > 0 {
		fmt.Fprint(p.out, p.render(stderrStyle, "Stderr: "))
		p.out.Write(errOut)
	}
}

// BatchFinished implements engine.Observer.
func (p *Printer) BatchFinished(tasks []*task.Task) {}

// Tasks returns the finished tasks seen so far, in finish order.
func (p *Printer) Tasks() []*task.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*task.Task, len(p.tasks))
	copy(out, p.tasks)
	return out
}

func (p *Printer) render(style lipgloss.Style, s string) string {
	if !p.color {
		return s
	}
	return style.Render(s)
}

// Summary renders a host/status/exit/duration table, sorted by host.
func Summary(w io.Writer, tasks []*task.Task) {
	sorted := make([]*task.Task, len(tasks))
	copy(sorted, tasks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Host < sorted[j].Host })

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"HOST", "STATUS", "EXIT", "DURATION"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, t := range sorted {
		table.Append([]string{
			t.Addr(),
			t.State().String(),
			fmt.Sprintf("%d", t.ExitStatus()),
			t.Duration().Round(time.Millisecond).String(),
		})
	}
	table.Render()
}

// WriteJSON serializes finished tasks as a JSON array, in finish
// order.
func WriteJSON(w io.Writer, tasks []*task.Task) error {
	type jsonResult struct {
		Host     string   `json:"host"`
		State    string   `json:"state"`
		Exit     int      `json:"exit_status"`
		Duration string   `json:"duration"`
		Stdout   string   `json:"stdout,omitempty"`
		Stderr   string   `json:"stderr,omitempty"`
		Failures []string `json:"failures,omitempty"`
	}
	out := make([]jsonResult, len(tasks))
	for i, t := range tasks {
		out[i] = jsonResult{
			Host:     t.Addr(),
			State:    t.State().String(),
			Exit:     t.ExitStatus(),
			Duration: t.Duration().String(),
			Stdout:   string(t.Stdout()),
			Stderr:   string(t.Stderr()),
			Failures: t.Failures(),
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
