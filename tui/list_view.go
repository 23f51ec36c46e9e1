package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/harperreed/rolodex/db"
)

var contactsFilter = db.ContactFilter{Limit: 200}

func (m Model) renderListView() string {
	var s strings.Builder

	// Title
	s.WriteString(titleStyle.Render("ROLODEX"))
	s.WriteString("\n\n")

	// Tabs
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	// Table
	s.WriteString(m.renderTable())
	s.WriteString("\n")

	if m.err != nil {
		s.WriteString(errorStyle.Render("Error: " + m.err.Error()))
		s.WriteString("\n")
	} else if m.status != "" {
		s.WriteString(statusStyle.Render(m.status))
		s.WriteString("\n")
	}

	// Help
	s.WriteString(m.renderListHelp())

	return s.String()
}

func (m Model) renderTabs() string {
	var rendered []string
	for i, tab := range tabNames {
		if Tab(i) == m.tab {
			rendered = append(rendered, tabActiveStyle.Render(tab))
		} else {
			rendered = append(rendered, tabInactiveStyle.Render(tab))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}

func (m Model) renderTable() string {
	switch m.tab {
	case TabQueue:
		return m.renderQueueTable()
	case TabContacts:
		return m.renderContactsTable()
	}
	return ""
}

func (m Model) tableHeight() int {
	if h := m.height - 12; h > 3 {
		return h
	}
	return 3
}

func (m Model) renderQueueTable() string {
	if len(m.queue) == 0 {
		return helpStyle.Render("Nothing to review.")
	}

	columns := []table.Column{
		{Title: "Email", Width: 32},
		{Title: "Name", Width: 20},
		{Title: "Suggested", Width: 14},
		{Title: "Conf", Width: 5},
		{Title: "Tags", Width: 20},
	}

	var rows []table.Row
	for _, e := range m.queue {
		confidence := "-"
		if e.Confidence != nil {
			confidence = fmt.Sprintf("%.2f", *e.Confidence)
		}
		rows = append(rows, table.Row{
			e.Email,
			e.DisplayName,
			string(e.SuggestedType),
			confidence,
			strings.Join(e.SuggestedTags, ","),
		})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(m.tableHeight()),
	)
	if m.selectedRow < len(rows) {
		t.SetCursor(m.selectedRow)
	}
	return t.View()
}

func (m Model) renderContactsTable() string {
	if len(m.contacts) == 0 {
		return helpStyle.Render("No contacts yet.")
	}

	columns := []table.Column{
		{Title: "Email", Width: 32},
		{Title: "Name", Width: 20},
		{Title: "Type", Width: 14},
		{Title: "Status", Width: 10},
		{Title: "Seen", Width: 5},
	}

	var rows []table.Row
	for _, c := range m.contacts {
		rows = append(rows, table.Row{
			c.Email,
			c.DisplayName,
			string(c.SourceType),
			string(c.VerificationStatus),
			fmt.Sprintf("%d", c.EmailCount),
		})
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithRows(rows),
		table.WithFocused(true),
		table.WithHeight(m.tableHeight()),
	)
	if m.selectedRow < len(rows) {
		t.SetCursor(m.selectedRow)
	}
	return t.View()
}

func (m Model) renderListHelp() string {
	help := []string{"↑/↓: Navigate", "Tab: Switch tabs", "Enter: Details"}
	switch m.tab {
	case TabQueue:
		help = append(help, "a: Approve", "r: Reject", "d: Approve domain")
	case TabContacts:
		help = append(help, "x: Delete")
	}
	help = append(help, "q: Quit")
	return helpStyle.Render(strings.Join(help, " • "))
}

func (m Model) rowCount() int {
	switch m.tab {
	case TabQueue:
		return len(m.queue)
	case TabContacts:
		return len(m.contacts)
	}
	return 0
}

func (m Model) handleListKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.selectedRow > 0 {
			m.selectedRow--
		}
	case "down", "j":
		if m.selectedRow < m.rowCount()-1 {
			m.selectedRow++
		}
	case "enter":
		if id, ok := m.selectedContactID(); ok {
			m.selectedID = id
			m.viewMode = ViewDetail
		}
	case "a":
		if m.tab == TabQueue && m.selectedRow < len(m.queue) {
			e := m.queue[m.selectedRow]
			if _, err := m.svc.Approve(m.ctx, m.owner, e.ID, e.ContactID); err != nil {
				m.status, m.err = "", err
				return m, nil
			}
			m.reload()
			m.status = "✓ Approved " + e.Email
		}
	case "r":
		if m.tab == TabQueue && m.selectedRow < len(m.queue) {
			e := m.queue[m.selectedRow]
			if _, err := m.svc.Reject(m.ctx, m.owner, e.ID); err != nil {
				m.status, m.err = "", err
				return m, nil
			}
			m.reload()
			m.status = "✓ Rejected " + e.Email
		}
	case "d":
		if m.tab == TabQueue && m.selectedRow < len(m.queue) {
			domain := m.queue[m.selectedRow].Domain
			count := 0
			for _, e := range m.queue {
				if e.Domain == domain {
					count++
				}
			}
			m.confirm = &confirmation{
				kind:   confirmApproveDomain,
				domain: domain,
				label:  fmt.Sprintf("Approve all %d pending suggestion(s) from %s?", count, domain),
			}
			m.viewMode = ViewConfirm
		}
	case "x":
		if m.tab == TabContacts && m.selectedRow < len(m.contacts) {
			c := m.contacts[m.selectedRow]
			m.confirm = &confirmation{
				kind:      confirmDeleteContact,
				contactID: c.ID,
				label:     fmt.Sprintf("Delete %s and its directory links?", c.Email),
			}
			m.viewMode = ViewConfirm
		}
	}

	return m, nil
}

func (m Model) selectedContactID() (uuid.UUID, bool) {
	switch m.tab {
	case TabQueue:
		if m.selectedRow < len(m.queue) {
			return m.queue[m.selectedRow].ContactID, true
		}
	case TabContacts:
		if m.selectedRow < len(m.contacts) {
			return m.contacts[m.selectedRow].ID, true
		}
	}
	return uuid.Nil, false
}
