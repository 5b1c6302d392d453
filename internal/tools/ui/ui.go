package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	boxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type tickMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type model struct {
	title   string
	frame   int
	started time.Time
	done    bool
	details []string
	err     error
}

func (m model) Init() tea.Cmd { return tick() }

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, tick()
	case doneMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.done = true
			m.err = context.Canceled
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	elapsed := dimStyle.Render(time.Since(m.started).Truncate(100 * time.Millisecond).String())
	if !m.done {
		return fmt.Sprintf("%s %s %s\n", spinnerFrames[m.frame], titleStyle.Render(m.title), elapsed)
	}
	return Report(m.title, m.details, m.err) + "\n"
}

// Report renders the outcome of a command the way the spinner leaves it.
func Report(title string, details []string, err error) string {
	var b strings.Builder
	if err != nil {
		b.WriteString(errStyle.Render("✗ " + title))
	} else {
		b.WriteString(okStyle.Render("✓ " + title))
	}
	for _, d := range details {
		b.WriteString("\n  " + d)
	}
	if err != nil {
		b.WriteString("\n  " + errStyle.Render(err.Error()))
	}
	return b.String()
}

// Run shows a spinner while fn executes and returns fn's result.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	p := tea.NewProgram(model{title: title, started: time.Now()})
	go func() {
		details, err := fn(ctx)
		p.Send(doneMsg{details: details, err: err})
	}()
	final, err := p.Run()
	if err != nil {
		return nil, err
	}
	m := final.(model)
	return m.details, m.err
}

// Table renders label/count pairs in a bordered box, largest count first.
func Table(title string, counts map[string]int64) string {
	type row struct {
		label string
		count int64
	}
	rows := make([]row, 0, len(counts))
	width := 0
	for k, v := range counts {
		rows = append(rows, row{k, v})
		width = max(width, len(k))
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].count == rows[j].count {
			return rows[i].label < rows[j].label
		}
		return rows[i].count > rows[j].count
	})
	lines := []string{titleStyle.Render(title)}
	if len(rows) == 0 {
		lines = append(lines, dimStyle.Render("none"))
	}
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%-*s  %d", width, r.label, r.count))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}
