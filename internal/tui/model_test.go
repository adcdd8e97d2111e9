package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"icdcoder/internal/domain"
)

type stubCoder struct {
	ranked domain.RankedResult
	err    error
	calls  int
}

func (s *stubCoder) Conditions(symptoms string) ([]domain.Condition, error) {
	return []domain.Condition{
		{Text: "Patient has fever and cough", Index: 0},
		{Text: "Also reports mild headache.", Index: 1},
	}, nil
}

func (s *stubCoder) SearchICD10Code(context.Context, string) (domain.RankedResult, error) {
	s.calls++
	return s.ranked, s.err
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 80, Height: 30})
	return next.(Model)
}

func typeAndSubmit(t *testing.T, m Model, text string) Model {
	t.Helper()
	m.input.SetValue(text)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	next, _ = next.(Model).Update(cmd())
	return next.(Model)
}

func TestModel_Search(t *testing.T) {
	t.Run("Should show ranked codes after submitting symptoms", func(t *testing.T) {
		svc := &stubCoder{ranked: domain.RankedResult{
			{Code: "R50.9", Confidence: 0.91, Source: domain.SourceTabular, Note: "Tabular Match: R50.9. Condition 1: Patient has fever and cough..."},
			{Code: "R51.9", Confidence: 0.84, Source: domain.SourceIndex, Note: "Index Match: R51.9. Condition 2: Also reports mild headache...."},
		}}
		m := sized(t, New(context.Background(), svc, "2 corpora loaded"))
		m = typeAndSubmit(t, m, "Patient has fever and cough. Also reports mild headache.")
		assert.Equal(t, 1, svc.calls)
		assert.Equal(t, "2 code(s) for 2 condition(s)", m.status)
		view := m.renderResults()
		assert.Contains(t, view, "R50.9")
		assert.Contains(t, view, "R51.9")
		assert.Contains(t, m.View(), "ICD-10 Coder")
	})

	t.Run("Should cycle the selection with arrow keys", func(t *testing.T) {
		svc := &stubCoder{ranked: domain.RankedResult{
			{Code: "A", Confidence: 0.9, Note: "first"},
			{Code: "B", Confidence: 0.8, Note: "second"},
		}}
		m := typeAndSubmit(t, sized(t, New(context.Background(), svc, "")), "fever and cough for days")
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
		m = next.(Model)
		assert.Equal(t, 1, m.cursor)
		next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
		assert.Equal(t, 0, next.(Model).cursor)
		next, _ = next.(Model).Update(tea.KeyMsg{Type: tea.KeyUp})
		assert.Equal(t, 1, next.(Model).cursor)
	})

	t.Run("Should report service errors in the status line", func(t *testing.T) {
		svc := &stubCoder{err: errors.New("retrieval from index corpus failed")}
		m := typeAndSubmit(t, sized(t, New(context.Background(), svc, "")), "fever and cough for days")
		assert.True(t, strings.HasPrefix(m.status, "Error: "))
		assert.Equal(t, "No codes yet.", m.renderResults())
	})

	t.Run("Should ignore empty submissions", func(t *testing.T) {
		svc := &stubCoder{}
		m := sized(t, New(context.Background(), svc, ""))
		m.input.SetValue("   ")
		next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
		assert.False(t, next.(Model).searching)
		assert.Equal(t, "Ready. Type symptoms to code.", next.(Model).status)
		assert.Equal(t, 0, svc.calls)
	})
}

func TestHighlightBestCondition(t *testing.T) {
	t.Run("Should number conditions from one", func(t *testing.T) {
		out := highlightBestCondition([]domain.Condition{
			{Text: "Severe lower back pain", Index: 0},
			{Text: "Persistent dry cough", Index: 1},
		}, "Index Match: R05. Condition 2: Persistent dry cough...")
		assert.Contains(t, out, "1. Severe lower back pain")
		assert.Contains(t, out, "2. Persistent dry cough")
	})

	t.Run("Should return nothing without conditions", func(t *testing.T) {
		assert.Empty(t, highlightBestCondition(nil, "note"))
	})
}
