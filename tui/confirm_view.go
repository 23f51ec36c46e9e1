// ABOUTME: Confirmation dialog for destructive or bulk TUI actions
// ABOUTME: Guards contact deletion and approving a whole domain
package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

type confirmKind int

const (
	confirmApproveDomain confirmKind = iota
	confirmDeleteContact
)

type confirmation struct {
	kind      confirmKind
	label     string
	domain    string
	contactID uuid.UUID
}

var (
	confirmBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("9")).
			Padding(1, 2).
			Width(60).
			Align(lipgloss.Center)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true)

	confirmButtonStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("9")).
				Padding(0, 2).
				MarginRight(2)

	cancelButtonStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("8")).
				Padding(0, 2)
)

func (m Model) renderConfirmView() string {
	if m.confirm == nil {
		return ""
	}

	title := "CONFIRM"
	if m.confirm.kind == confirmDeleteContact {
		title = "⚠  DELETE CONFIRMATION  ⚠"
	}

	buttons := lipgloss.JoinHorizontal(
		lipgloss.Left,
		confirmButtonStyle.Render("Yes (y)"),
		cancelButtonStyle.Render("Cancel (n/esc)"),
	)

	content := lipgloss.JoinVertical(
		lipgloss.Center,
		warningStyle.Render(title),
		"",
		m.confirm.label,
		"",
		buttons,
	)

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, confirmBoxStyle.Render(content))
}

func (m Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		m.runConfirmed()
		m.confirm = nil
		m.viewMode = ViewList
	case "n", "N", "esc", "q":
		m.confirm = nil
		m.viewMode = ViewList
	}
	return m, nil
}

func (m *Model) runConfirmed() {
	c := m.confirm
	if c == nil {
		return
	}

	switch c.kind {
	case confirmApproveDomain:
		res, err := m.svc.BatchApproveByDomain(m.ctx, m.owner, c.domain)
		if err != nil {
			m.status, m.err = "", err
			return
		}
		m.reload()
		m.status = fmt.Sprintf("✓ %s: %d approved, %d failed", res.Domain, res.Approved, res.Failed)

	case confirmDeleteContact:
		if err := m.svc.DeleteContact(m.ctx, m.owner, c.contactID); err != nil {
			m.status, m.err = "", err
			return
		}
		m.reload()
		m.status = "✓ Contact deleted"
	}
}
