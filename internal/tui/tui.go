// Package tui is a live operator dashboard over the scan API's status and
// stats endpoints, styled in the project's Dracula bubbletea palette.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	draculaForeground = "#F8F8F2"
	draculaCyan       = "#8BE9FD"
	draculaGreen      = "#50FA7B"
	draculaOrange     = "#FFB86C"
	draculaPurple     = "#BD93F9"
	draculaRed        = "#FF5555"
	draculaComment    = "#6272A4"
)

const pollInterval = 1 * time.Second

// ipv4SpaceSize is the total IPv4 address count, used to render a rough
// round-completion progress bar from the scanned counter.
const ipv4SpaceSize = 1 << 32

type styles struct {
	title, label, value, open, err, app lipgloss.Style
}

func newStyles() styles {
	return styles{
		title: lipgloss.NewStyle().Foreground(lipgloss.Color(draculaPurple)).Bold(true),
		label: lipgloss.NewStyle().Foreground(lipgloss.Color(draculaComment)),
		value: lipgloss.NewStyle().Foreground(lipgloss.Color(draculaForeground)),
		open:  lipgloss.NewStyle().Foreground(lipgloss.Color(draculaGreen)).Bold(true),
		err:   lipgloss.NewStyle().Foreground(lipgloss.Color(draculaRed)).Bold(true),
		app: lipgloss.NewStyle().
			Padding(1, 2).
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color(draculaCyan)).
			Foreground(lipgloss.Color(draculaForeground)),
	}
}

// statusView mirrors internal/api's scan-status/stats JSON responses, kept
// loosely coupled (field-by-field, no shared type) since the TUI only ever
// talks to the API over HTTP.
type statusView struct {
	State       string `json:"State"`
	ScanID      string `json:"ScanID"`
	Round       int64  `json:"Round"`
	ErrorMsg    string `json:"ErrorMsg"`
	Scanned     int64  `json:"Scanned"`
	Open        int64  `json:"Open"`
	Errors      int64  `json:"Errors"`
	Retries     int64  `json:"Retries"`
	FlushedRows int64  `json:"FlushedRows"`
}

type statsView struct {
	TotalOpenRecords int64    `json:"TotalOpenRecords"`
	UniqueIPs        int64    `json:"UniqueIPs"`
	MemoryUsageBytes int64    `json:"MemoryUsageBytes"`
	CurrentRound     int64    `json:"CurrentRound"`
	Host             hostView `json:"host"`
}

type hostView struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryTotalBytes uint64  `json:"memory_total_bytes"`
	MemoryUsedBytes  uint64  `json:"memory_used_bytes"`
}

type tickMsg time.Time

type fetchedMsg struct {
	status statusView
	stats  statsView
	err    error
}

type model struct {
	client  *http.Client
	baseURL string
	styles  styles
	bar     progress.Model

	status statusView
	stats  statsView
	err    error
}

// New builds the dashboard model pointed at an internal/api server's
// baseURL (e.g. "http://127.0.0.1:8090").
func New(baseURL string) *model {
	return &model{
		client:  &http.Client{Timeout: 2 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		styles:  newStyles(),
		bar:     progress.New(progress.WithGradient(draculaCyan, draculaGreen)),
	}
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tick())
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *model) fetch() tea.Cmd {
	return func() tea.Msg {
		status, err := m.get("/api/v1/scan/status")
		if err != nil {
			return fetchedMsg{err: err}
		}

		stats, err := m.get("/api/v1/stats")
		if err != nil {
			return fetchedMsg{err: err}
		}

		var sv statusView

		var stv statsView

		if err := json.Unmarshal(status, &sv); err != nil {
			return fetchedMsg{err: err}
		}

		if err := json.Unmarshal(stats, &stv); err != nil {
			return fetchedMsg{err: err}
		}

		return fetchedMsg{status: sv, stats: stv}
	}
}

func (m *model) get(path string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return nil, err
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			return m, tea.Quit
		}

	case tickMsg:
		return m, tea.Batch(m.fetch(), tick())

	case fetchedMsg:
		m.err = msg.err

		if msg.err == nil {
			m.status = msg.status
			m.stats = msg.stats
		}
	}

	return m, nil
}

func (m *model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.title.Render("scanner dashboard") + "\n\n")

	if m.err != nil {
		b.WriteString(m.styles.err.Render(fmt.Sprintf("fetch error: %v", m.err)) + "\n")
	}

	row := func(label string, value interface{}) string {
		return m.styles.label.Render(label+": ") + m.styles.value.Render(fmt.Sprint(value)) + "\n"
	}

	b.WriteString(row("scan id", m.status.ScanID))
	b.WriteString(row("state", m.status.State))
	b.WriteString(row("round", m.status.Round))
	b.WriteString(m.styles.label.Render("open: ") + m.styles.open.Render(fmt.Sprint(m.status.Open)) + "\n")
	b.WriteString(row("scanned", m.status.Scanned))
	b.WriteString(row("errors", m.status.Errors))
	b.WriteString(row("retries", m.status.Retries))
	b.WriteString(row("flushed rows", m.status.FlushedRows))
	b.WriteString("\n")
	b.WriteString(m.styles.label.Render("round progress") + "\n")
	b.WriteString(m.bar.ViewAs(float64(m.status.Scanned)/ipv4SpaceSize) + "\n")
	b.WriteString("\n")
	b.WriteString(row("total open records", m.stats.TotalOpenRecords))
	b.WriteString(row("unique ips", m.stats.UniqueIPs))
	b.WriteString(row("memory bytes", m.stats.MemoryUsageBytes))
	b.WriteString("\n")
	b.WriteString(row("host cpu %", fmt.Sprintf("%.1f", m.stats.Host.CPUPercent)))
	b.WriteString(row("host mem used", m.stats.Host.MemoryUsedBytes))
	b.WriteString(row("host mem total", m.stats.Host.MemoryTotalBytes))
	b.WriteString("\n" + m.styles.label.Render("q to quit"))

	return m.styles.app.Render(b.String())
}

// Run starts the bubbletea program and blocks until the user quits.
func Run(baseURL string) error {
	_, err := tea.NewProgram(New(baseURL)).Run()
	return err
}
