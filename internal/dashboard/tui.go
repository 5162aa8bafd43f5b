package dashboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"turtle-monitor/internal/models"
)

// ── Messages ─────────────────────────────────────────────────────────

type updateMsg Update

type runDoneMsg struct{ err error }

// ── Model ────────────────────────────────────────────────────────────

// Model экран терминала поверх Client
type Model struct {
	ctx       context.Context
	client    *Client
	latest    Update
	running   bool
	width     int
	height    int
	startTime time.Time
}

// NewModel создает модель; ctx ограничивает опрос сервера.
// Опрос запускается в Init.
func NewModel(ctx context.Context, client *Client) Model {
	return Model{
		ctx:       ctx,
		client:    client,
		latest:    client.Snapshot(),
		running:   true,
		startTime: time.Now(),
	}
}

// ── Commands ─────────────────────────────────────────────────────────

func (m Model) waitUpdate() tea.Cmd {
	updates := m.client.Updates()
	return func() tea.Msg {
		return updateMsg(<-updates)
	}
}

func (m Model) runClient() tea.Cmd {
	ctx, client := m.ctx, m.client
	return func() tea.Msg {
		return runDoneMsg{err: client.Run(ctx)}
	}
}

// ── Init / Update ────────────────────────────────────────────────────

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.runClient(), m.waitUpdate())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			if m.latest.State == StateFailed && !m.running {
				m.client.Reset()
				m.latest = m.client.Snapshot()
				m.running = true
				return m, m.runClient()
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case updateMsg:
		m.latest = Update(msg)
		return m, m.waitUpdate()

	case runDoneMsg:
		m.running = false
		if msg.err != nil && !errors.Is(msg.err, ErrConnectionFailed) {
			return m, tea.Quit
		}
	}

	return m, nil
}

// ── Color palette ────────────────────────────────────────────────────

var (
	colorTitleBg  = lipgloss.Color("22")
	colorTitleFg  = lipgloss.Color("156")
	colorBorder   = lipgloss.Color("65")
	colorSensor   = lipgloss.Color("150")
	colorLabel    = lipgloss.Color("252")
	colorDim      = lipgloss.Color("240")
	colorFooterBg = lipgloss.Color("235")
	colorOk       = lipgloss.Color("78")
	colorWarn     = lipgloss.Color("220")
	colorCrit     = lipgloss.Color("196")
)

func statusColor(s models.Status) lipgloss.Color {
	switch s {
	case models.StatusOptimal:
		return colorOk
	case models.StatusWarning:
		return colorWarn
	case models.StatusCritical:
		return colorCrit
	default:
		return colorDim
	}
}

func stateLabel(s State) (string, lipgloss.Color) {
	switch s {
	case StateConnected:
		return "CONNECTED", colorOk
	case StateConnecting:
		return "CONNECTING", colorWarn
	case StateReconnecting:
		return "RECONNECTING", colorWarn
	case StateFailed:
		return "CONNECTION FAILED", colorCrit
	default:
		return "DISCONNECTED", colorCrit
	}
}

// ── View ─────────────────────────────────────────────────────────────

func (m Model) View() string {
	if m.width == 0 {
		return "  Initializing..."
	}

	contentWidth := m.width - 2
	if contentWidth < 40 {
		contentWidth = 40
	}

	sections := []string{m.renderTitleBar(contentWidth)}

	if banner := m.renderBanner(contentWidth); banner != "" {
		sections = append(sections, banner)
	}

	keys := sortedFieldKeys(m.latest.Fields)
	if len(keys) == 0 {
		waiting := lipgloss.NewStyle().
			Foreground(colorDim).
			Width(contentWidth).
			Align(lipgloss.Center).
			Padding(2, 0).
			Render("no data")
		sections = append(sections, waiting)
	} else {
		sections = append(sections, m.renderSensors(keys, contentWidth)...)
	}

	sections = append(sections, m.renderFooter(contentWidth))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderTitleBar(width int) string {
	logo := lipgloss.NewStyle().
		Bold(true).
		Foreground(colorTitleFg).
		Render("TURTLE MONITOR")

	label, color := stateLabel(m.latest.State)
	state := lipgloss.NewStyle().Foreground(color).Bold(true).Render(label)

	overall := lipgloss.NewStyle().
		Foreground(statusColor(m.latest.Overall)).
		Render(string(m.latest.Overall))
	if m.latest.Overall == "" {
		overall = ""
	}

	sep := lipgloss.NewStyle().Foreground(colorDim).Render(" │ ")
	right := state
	if overall != "" {
		right = overall + sep + state
	}

	gap := width - lipgloss.Width(logo) - lipgloss.Width(right) - 4
	if gap < 1 {
		gap = 1
	}

	return lipgloss.NewStyle().
		Background(colorTitleBg).
		Width(width).
		Padding(0, 1).
		Render(logo + strings.Repeat(" ", gap) + right)
}

func (m Model) renderBanner(width int) string {
	u := m.latest
	var text string
	switch u.State {
	case StateFailed:
		text = fmt.Sprintf(" connection failed after %d attempts: %v  (r to retry)", u.Failures, u.Err)
	case StateDisconnected, StateReconnecting:
		text = fmt.Sprintf(" disconnected, retry %d in %s: %v", u.Failures+1, u.RetryIn, u.Err)
	case StateConnecting:
		if u.Failures > 0 {
			text = fmt.Sprintf(" connecting, retry %d in %s: %v", u.Failures+1, u.RetryIn, u.Err)
		}
	}
	if text == "" {
		return ""
	}

	return lipgloss.NewStyle().
		Foreground(colorCrit).
		Bold(true).
		Width(width).
		Padding(0, 1).
		Render(text)
}

func (m Model) renderSensors(keys []FieldKey, width int) []string {
	labelS := lipgloss.NewStyle().Foreground(colorLabel).Width(14)
	dimS := lipgloss.NewStyle().Foreground(colorDim)

	var panels []string
	var rows []string
	current := ""

	flush := func() {
		if current == "" {
			return
		}
		panel := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Width(width - 2).
			Padding(0, 1).
			Render(strings.Join(rows, "\n"))
		panels = append(panels, panel)
		rows = nil
	}

	for _, key := range keys {
		if key.SensorID != current {
			flush()
			current = key.SensorID
			rows = append(rows, lipgloss.NewStyle().Bold(true).Foreground(colorSensor).Render(current))
		}

		f := m.latest.Fields[key]
		value := dimS.Render("no data")
		if f.Offline {
			value = dimS.Render("no data (offline)")
		}
		if !f.NoData && f.Value != nil {
			value = lipgloss.NewStyle().
				Foreground(statusColor(f.Status)).
				Width(8).
				Align(lipgloss.Right).
				Render(fmt.Sprintf("%.1f", *f.Value))
			value += "  " + lipgloss.NewStyle().Foreground(statusColor(f.Status)).Render(string(f.Status))
		}
		rows = append(rows, labelS.Render(string(key.Metric))+value)
	}
	flush()

	return panels
}

func (m Model) renderFooter(width int) string {
	parts := []string{fmt.Sprintf("up %s", fmtDuration(time.Since(m.startTime)))}
	if !m.latest.LastSuccess.IsZero() {
		parts = append(parts, "updated "+m.latest.LastSuccess.Format("15:04:05"))
	}
	if m.latest.Rejected > 0 {
		parts = append(parts, fmt.Sprintf("%d rejected", m.latest.Rejected))
	}
	parts = append(parts, "q quit")

	return lipgloss.NewStyle().
		Background(colorFooterBg).
		Foreground(colorDim).
		Width(width).
		Padding(0, 1).
		Render(strings.Join(parts, " │ "))
}

func sortedFieldKeys(fields map[FieldKey]Field) []FieldKey {
	keys := make([]FieldKey, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sortKeys(keys)
	return keys
}

func fmtDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, mins)
	}
	if mins > 0 {
		return fmt.Sprintf("%dm%02ds", mins, s)
	}
	return fmt.Sprintf("%ds", s)
}
