package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"ragindex/internal/search"
	"ragindex/internal/summarizer"
)

// Searcher is the TUI-facing subset of the search engine.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]search.Hit, error)
	Health() search.Health
}

// Model is the Bubble Tea model for the interactive search screen.
type Model struct {
	searcher  Searcher
	summ      *summarizer.Summarizer
	topK      int
	timeout   time.Duration
	input     textinput.Model
	viewport  viewport.Model
	results   []search.Hit
	status    string
	cursor    int
	condensed bool
	ready     bool
	busy      bool
	lastQuery string
}

type resultsMsg struct {
	query string
	hits  []search.Hit
	err   error
}

// New creates a new TUI model instance.
func New(searcher Searcher, topK int) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Type query and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		searcher: searcher,
		summ:     summarizer.New(),
		topK:     topK,
		timeout:  time.Minute,
		input:    ti,
		viewport: vp,
		status:   "Loaded. Type to search.",
	}
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
		reserved := 2 + 1 + qh + 1 // header lines, status, query box, spacer
		vh := max(3, msg.Height-reserved)
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case resultsMsg:
		m.busy = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.results = nil
		} else {
			m.status = fmt.Sprintf("%d results for %q", len(msg.hits), msg.query)
			m.results = msg.hits
			m.cursor = 0
			m.lastQuery = msg.query
		}
		m.viewport.SetContent(m.renderCurrentResult())
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD || msg.Type == tea.KeyEsc {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.busy {
				m.busy = true
				m.status = fmt.Sprintf("Searching %q...", q)
				return m, m.searchCmd(q)
			}
		case "down":
			if len(m.results) > 0 {
				m.cursor = (m.cursor + 1) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "up":
			if len(m.results) > 0 {
				m.cursor = (m.cursor - 1 + len(m.results)) % len(m.results)
				m.viewport.SetContent(m.renderCurrentResult())
				return m, nil
			}
		case "tab":
			m.condensed = !m.condensed
			m.viewport.SetContent(m.renderCurrentResult())
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) searchCmd(q string) tea.Cmd {
	searcher, topK, timeout := m.searcher, m.topK, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		hits, err := searcher.Search(ctx, q, topK)
		return resultsMsg{query: q, hits: hits, err: err}
	}
}

// View renders the TUI layout and current result.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	h := m.searcher.Health()
	header := lipgloss.NewStyle().Bold(true).Render("ragindex search")
	info := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).
		Render(fmt.Sprintf("%d chunks indexed · up/down browse · tab condense · esc quit", h.Chunks))
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + info + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	title := fmt.Sprintf("Result %d/%d  %.2f%%  #%s", m.cursor+1, len(m.results), r.Score, r.ChunkID)
	source := sourceStyle.Render(strings.TrimSpace(r.Title + "  " + r.URL))
	text := r.Text
	if m.condensed {
		text = m.summ.Summarize(text, 3)
	}
	return title + "\n" + source + "\n\n" + m.highlightBestSentence(text, m.lastQuery)
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	sourceStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

func (m Model) highlightBestSentence(text, query string) string {
	sentences := summarizer.Sentences(text)
	if len(sentences) == 0 {
		return text
	}
	if best := m.summ.BestSentence(sentences, query); best >= 0 {
		sentences[best] = highlightStyle.Render(sentences[best])
	}
	return strings.Join(sentences, " ")
}
