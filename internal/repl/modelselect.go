package repl

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/cockroachdb/errors"
)

// Choice is one entry of the model picker
type Choice struct {
	Name   string // config key
	Detail string // provider/model
}

// modelPicker is a bubbletea model for interactively selecting a model
type modelPicker struct {
	choices   []Choice
	current   string
	cursor    int
	selected  string // empty if cancelled
	cancelled bool
}

func newModelPicker(choices []Choice, current string) *modelPicker {
	cursor := 0
	for i, c := range choices {
		if c.Name == current {
			cursor = i
			break
		}
	}
	return &modelPicker{choices: choices, current: current, cursor: cursor}
}

func (m *modelPicker) Init() tea.Cmd {
	return nil
}

func (m *modelPicker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(m.choices)-1 {
			m.cursor++
		}
	case "enter":
		m.selected = m.choices[m.cursor].Name
		return m, tea.Quit
	case "esc", "ctrl+c", "q":
		m.cancelled = true
		return m, tea.Quit
	}
	return m, nil
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("cyan"))
	detailStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	hintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func (m *modelPicker) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("Select model:"))
	b.WriteString("\n")

	for i, c := range m.choices {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		marker := " "
		if c.Name == m.current {
			marker = "•"
		}

		line := fmt.Sprintf("%s %s %s", cursor, marker, c.Name)
		if i == m.cursor {
			line = highlightStyle.Render(line)
		}
		b.WriteString(line)
		if c.Detail != "" {
			b.WriteString(" ")
			b.WriteString(detailStyle.Render(c.Detail))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(hintStyle.Render("Use ↑/↓ to navigate, Enter to select, Esc to cancel"))
	return b.String()
}

// RunModelPicker runs the interactive picker and returns the chosen name.
// Returns "" if cancelled.
func RunModelPicker(choices []Choice, current string) (string, error) {
	if len(choices) == 0 {
		return "", errors.New("no models available")
	}

	final, err := tea.NewProgram(newModelPicker(choices, current)).Run()
	if err != nil {
		return "", errors.Wrap(err, "error running selector")
	}

	picker, ok := final.(*modelPicker)
	if !ok || picker.cancelled {
		return "", nil
	}
	return picker.selected, nil
}
