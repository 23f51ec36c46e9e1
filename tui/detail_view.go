package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	fieldLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Width(20)

	fieldValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

func (m Model) renderDetailView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("CONTACT"))
	s.WriteString("\n\n")
	s.WriteString(m.renderContactDetail())
	s.WriteString("\n\n")
	s.WriteString(helpStyle.Render("Esc: Back • q: Quit"))

	return s.String()
}

func (m Model) renderContactDetail() string {
	contact, err := m.svc.GetContact(m.ctx, m.owner, m.selectedID)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	sources, err := m.svc.ContactSources(m.ctx, m.owner, m.selectedID)
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}

	var s strings.Builder
	field := func(label, value string) {
		if value == "" {
			return
		}
		s.WriteString(fieldLabelStyle.Render(label + ":"))
		s.WriteString(fieldValueStyle.Render(value))
		s.WriteString("\n")
	}

	field("Email", contact.Email)
	field("Name", contact.DisplayName)
	field("Organization", contact.Organization)
	field("Type", string(contact.SourceType))
	field("Confidence", fmt.Sprintf("%.2f", contact.ConfidenceScore))
	field("Status", string(contact.VerificationStatus))
	if contact.VerifiedAt != nil {
		field("Verified", fmt.Sprintf("%s (%s)", contact.VerifiedAt.Local().Format("2006-01-02 15:04"), contact.VerificationMethod))
	}
	field("Seen", fmt.Sprintf("%d time(s), last %s", contact.EmailCount, formatTimeSince(contact.LastSeen)))
	field("Tags", strings.Join(contact.Tags, ", "))
	field("Phones", strings.Join(contact.PhoneNumbers, ", "))
	if r, ok := contact.ExtractionMetadata["reasoning"].(string); ok {
		field("Reasoning", r)
	}
	for _, src := range sources {
		field("Source", fmt.Sprintf("%s %s (%s)", src.Provider, src.ExternalResourceName, src.AccountEmail))
	}

	return s.String()
}

func (m Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "backspace":
		m.viewMode = ViewList
		m.reload()
	}
	return m, nil
}
