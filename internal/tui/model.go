package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"icdcoder/internal/domain"
)

// CoderPort is the TUI-facing subset of the coding service.
type CoderPort interface {
	Conditions(symptoms string) ([]domain.Condition, error)
	SearchICD10Code(ctx context.Context, symptoms string) (domain.RankedResult, error)
}

type resultMsg struct {
	query      string
	conditions []domain.Condition
	ranked     domain.RankedResult
	err        error
}

// Model is the Bubble Tea model for the interactive coding console.
type Model struct {
	ctx        context.Context
	service    CoderPort
	input      textinput.Model
	viewport   viewport.Model
	ranked     domain.RankedResult
	conditions []domain.Condition
	summary    string
	status     string
	cursor     int
	ready      bool
	searching  bool
}

// New creates a new TUI model instance. summary is shown under the header.
func New(ctx context.Context, service CoderPort, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Describe the symptoms and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{ctx: ctx, service: service, input: ti, viewport: vp, summary: summary, status: "Ready. Type symptoms to code."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key and window events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + summary
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderResults())
		return m, nil
	case resultMsg:
		m.searching = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.ranked = nil
			m.conditions = nil
		} else {
			m.status = fmt.Sprintf("%d code(s) for %d condition(s)", len(msg.ranked), len(msg.conditions))
			m.ranked = msg.ranked
			m.conditions = msg.conditions
			m.cursor = 0
		}
		m.viewport.SetContent(m.renderResults())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.searching {
				m.searching = true
				m.status = "Searching..."
				return m, m.search(q)
			}
		case "down":
			if len(m.ranked) > 0 {
				m.cursor = (m.cursor + 1) % len(m.ranked)
				m.viewport.SetContent(m.renderResults())
				return m, nil
			}
		case "up":
			if len(m.ranked) > 0 {
				m.cursor = (m.cursor - 1 + len(m.ranked)) % len(m.ranked)
				m.viewport.SetContent(m.renderResults())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) search(q string) tea.Cmd {
	ctx, svc := m.ctx, m.service
	return func() tea.Msg {
		conditions, err := svc.Conditions(q)
		if err != nil {
			return resultMsg{query: q, err: err}
		}
		ranked, err := svc.SearchICD10Code(ctx, q)
		return resultMsg{query: q, conditions: conditions, ranked: ranked, err: err}
	}
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("ICD-10 Coder")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderResults() string {
	if len(m.ranked) == 0 {
		return "No codes yet."
	}
	var b strings.Builder
	for i, r := range m.ranked {
		line := fmt.Sprintf("%-8s %.3f  %s", r.Code, r.Confidence, r.Source)
		if i == m.cursor {
			line = highlightStyle.Render("▸ " + line)
		} else {
			line = "  " + line
		}
		b.WriteString(line + "\n")
	}
	sel := m.ranked[m.cursor]
	b.WriteString("\n" + sel.Note + "\n\n")
	b.WriteString(highlightBestCondition(m.conditions, sel.Note))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

// highlightBestCondition lists the detected conditions and marks the one the
// note was produced for.
func highlightBestCondition(conditions []domain.Condition, note string) string {
	if len(conditions) == 0 {
		return ""
	}
	noteTokens := toTokenSet(note)
	bestIdx := 0
	bestScore := -1
	for i, c := range conditions {
		score := tokenOverlapScore(noteTokens, c.Text)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	lines := make([]string, len(conditions))
	for i, c := range conditions {
		text := fmt.Sprintf("%d. %s", c.Index+1, strings.TrimSpace(c.Text))
		if i == bestIdx {
			text = highlightStyle.Render(text)
		}
		lines[i] = text
	}
	return strings.Join(lines, "\n")
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
