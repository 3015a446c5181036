package board

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"defectflow/internal/domain/defect"
	"defectflow/internal/ports"
	"defectflow/internal/usecase/workflow"
)

const maxShownHistory = 8

type Options struct {
	Status          string
	Creator         string
	Pipeline        string
	ShowInternal    bool
	RefreshInterval time.Duration
}

type boardModel struct {
	ctx             context.Context
	service         *workflow.Service
	statusFilter    defect.DefectStatus
	creatorFilter   string
	pipelineFilter  string
	showInternal    bool
	refreshInterval time.Duration

	defects       []ports.Defect
	selectedIndex int
	detail        workflow.DefectDetail
	hasDetail     bool
	history       []ports.FlowEntry
	status        string
}

type defectsLoadedMsg struct {
	items []ports.Defect
	err   error
}

type detailLoadedMsg struct {
	number  string
	detail  workflow.DefectDetail
	history []ports.FlowEntry
	err     error
}

type tickMsg struct{}

func NewBoardModel(ctx context.Context, service *workflow.Service, options Options) tea.Model {
	interval := options.RefreshInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	return &boardModel{
		ctx:             ctx,
		service:         service,
		statusFilter:    defect.DefectStatus(strings.ToUpper(strings.TrimSpace(options.Status))),
		creatorFilter:   strings.TrimSpace(options.Creator),
		pipelineFilter:  strings.TrimSpace(options.Pipeline),
		showInternal:    options.ShowInternal,
		refreshInterval: interval,
		status:          "loading",
	}
}

func (m *boardModel) Init() tea.Cmd {
	return tea.Batch(m.loadDefectsCmd(), m.tickCmd())
}

func (m *boardModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := message.(type) {
	case tickMsg:
		return m, tea.Batch(m.loadDefectsCmd(), m.tickCmd())
	case defectsLoadedMsg:
		if msg.err != nil {
			m.status = "refresh failed: " + msg.err.Error()
			return m, nil
		}
		m.defects = msg.items
		if len(m.defects) == 0 {
			m.selectedIndex = 0
			m.hasDetail = false
			m.status = "no defects"
			return m, nil
		}
		if m.selectedIndex >= len(m.defects) {
			m.selectedIndex = len(m.defects) - 1
		}
		if m.selectedIndex < 0 {
			m.selectedIndex = 0
		}
		m.status = fmt.Sprintf("refreshed, %d defects", len(m.defects))
		return m, m.loadDetailCmd()
	case detailLoadedMsg:
		if !m.isSelected(msg.number) {
			return m, nil
		}
		if msg.err != nil {
			m.hasDetail = false
			m.status = "detail load failed: " + msg.err.Error()
			return m, nil
		}
		m.detail = msg.detail
		m.history = msg.history
		m.hasDetail = true
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "g":
			m.status = "refreshing"
			return m, m.loadDefectsCmd()
		case "i":
			m.showInternal = !m.showInternal
			return m, m.loadDetailCmd()
		case "up", "k":
			if m.selectedIndex > 0 {
				m.selectedIndex--
				return m, m.loadDetailCmd()
			}
			return m, nil
		case "down", "j":
			if m.selectedIndex < len(m.defects)-1 {
				m.selectedIndex++
				return m, m.loadDetailCmd()
			}
			return m, nil
		}
	}
	return m, nil
}

func (m *boardModel) View() string {
	titleStyle := lipgloss.NewStyle().Bold(true)
	sectionStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	selectedStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("229")).Background(lipgloss.Color("62"))

	var builder strings.Builder
	builder.WriteString(titleStyle.Render("Defect Board"))
	builder.WriteString("\n")
	builder.WriteString(dimStyle.Render(fmt.Sprintf(
		"status=%s creator=%s pipeline=%s internal=%v refresh=%s",
		firstNonEmpty(string(m.statusFilter), "all"),
		firstNonEmpty(m.creatorFilter, "-"),
		firstNonEmpty(m.pipelineFilter, "all"),
		m.showInternal,
		m.refreshInterval,
	)))
	builder.WriteString("\n\n")

	builder.WriteString(sectionStyle.Render("Defects"))
	builder.WriteString("\n")
	if len(m.defects) == 0 {
		builder.WriteString(dimStyle.Render("- none"))
		builder.WriteString("\n\n")
	} else {
		for index, item := range m.defects {
			line := fmt.Sprintf("%s [%s] %s (%s, %s)",
				item.Number, item.Status, item.Title, item.Severity, item.Pipeline)
			if index == m.selectedIndex {
				builder.WriteString(selectedStyle.Render("> " + line))
			} else {
				builder.WriteString("  " + line)
			}
			builder.WriteString("\n")
		}
		builder.WriteString("\n")
	}

	builder.WriteString(sectionStyle.Render("Detail"))
	builder.WriteString("\n")
	if !m.hasDetail {
		builder.WriteString(dimStyle.Render("- no detail"))
		builder.WriteString("\n\n")
	} else {
		d := m.detail
		builder.WriteString(fmt.Sprintf("Number: %s\n", d.Defect.Number))
		builder.WriteString(fmt.Sprintf("Title: %s\n", d.Defect.Title))
		builder.WriteString(fmt.Sprintf("Status: %s\n", d.Defect.Status))
		builder.WriteString(fmt.Sprintf("Stage: %s [%s] assignee=%s rejections=%d\n",
			d.CurrentStage.StageType, d.CurrentStage.Status, d.CurrentStage.Assignee, d.CurrentStage.RejectionCount))
		if len(d.Collaborators) > 0 {
			builder.WriteString("Collaborators:\n")
			for _, c := range d.Collaborators {
				builder.WriteString(fmt.Sprintf("- #%d %s %s [%s]\n", c.CollaboratorID, c.Role, c.Assignee, c.Status))
			}
		}
		builder.WriteString("\nHistory:\n")
		if len(m.history) == 0 {
			builder.WriteString("- none\n")
		} else {
			start := len(m.history) - maxShownHistory
			if start < 0 {
				start = 0
			}
			for _, entry := range m.history[start:] {
				line := fmt.Sprintf("- %s %s", entry.Action, entry.Actor)
				if entry.ToStage != "" && entry.ToStage != entry.FromStage {
					line += fmt.Sprintf(" (%s -> %s)", entry.FromStage, entry.ToStage)
				}
				if note := firstNonEmptyLine(entry.Note); note != "" {
					line += " " + note
				}
				builder.WriteString(line)
				builder.WriteString("\n")
			}
		}
		builder.WriteString("\n")
	}

	builder.WriteString(sectionStyle.Render("Status"))
	builder.WriteString("\n")
	builder.WriteString("- " + firstNonEmpty(m.status, "ready"))
	builder.WriteString("\n\n")

	builder.WriteString(dimStyle.Render("Keys: ↑/k ↓/j move  g refresh  i toggle internal  q quit"))
	return builder.String()
}

func (m *boardModel) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *boardModel) loadDefectsCmd() tea.Cmd {
	return func() tea.Msg {
		items, err := m.service.ListDefects(m.ctx, ports.DefectFilter{
			Status:   m.statusFilter,
			Creator:  m.creatorFilter,
			Pipeline: m.pipelineFilter,
		})
		if err != nil {
			return defectsLoadedMsg{err: err}
		}
		return defectsLoadedMsg{items: items}
	}
}

func (m *boardModel) loadDetailCmd() tea.Cmd {
	selected, ok := m.selectedDefect()
	if !ok {
		return nil
	}

	return func() tea.Msg {
		detail, err := m.service.GetDefect(m.ctx, selected.Number)
		if err != nil {
			return detailLoadedMsg{number: selected.Number, err: err}
		}
		history, err := m.service.History(m.ctx, selected.Number, m.showInternal)
		if err != nil {
			return detailLoadedMsg{number: selected.Number, err: err}
		}
		return detailLoadedMsg{number: selected.Number, detail: detail, history: history}
	}
}

func (m *boardModel) selectedDefect() (ports.Defect, bool) {
	if m.selectedIndex < 0 || m.selectedIndex >= len(m.defects) {
		return ports.Defect{}, false
	}
	return m.defects[m.selectedIndex], true
}

func (m *boardModel) isSelected(number string) bool {
	selected, ok := m.selectedDefect()
	return ok && selected.Number == number
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
