// ABOUTME: TUI view for directory sync status and controls
// ABOUTME: Displays per-account sync state and triggers syncs in the background
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/rolodex/directory"
	"github.com/harperreed/rolodex/models"
)

var (
	syncHeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Underline(true)

	syncAccountStyle = lipgloss.NewStyle().
				Bold(true).
				Width(32)

	syncIdleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	syncSyncingStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("11")).
				Bold(true)

	syncErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	syncSelectedStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("235")).
				Foreground(lipgloss.Color("255")).
				Bold(true)

	syncMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Italic(true)
)

// SyncCompleteMsg is sent when a sync operation completes.
type SyncCompleteMsg struct {
	Account string
	Result  *directory.SyncResult
	Error   error
}

func (m Model) renderSyncView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("ROLODEX"))
	s.WriteString("\n\n")
	s.WriteString(m.renderTabs())
	s.WriteString("\n\n")

	if len(m.syncStates) == 0 {
		s.WriteString(syncMessageStyle.Render("No accounts found. Run 'rolodex sync init --account <email>' first."))
		s.WriteString("\n\n")
		s.WriteString(helpStyle.Render("Tab: Switch tabs • q: Quit"))
		return s.String()
	}

	s.WriteString(syncHeaderStyle.Render("Accounts"))
	s.WriteString("\n\n")

	for i, state := range m.syncStates {
		var row strings.Builder

		if i == m.selectedAccount {
			row.WriteString("▶ ")
			row.WriteString(syncSelectedStyle.Render(syncAccountStyle.Render(state.Account)))
		} else {
			row.WriteString("  ")
			row.WriteString(syncAccountStyle.Render(state.Account))
		}

		switch {
		case state.InProgress || m.syncInProgress[state.Account]:
			row.WriteString(syncSyncingStyle.Render("  ⟳ Syncing..."))
		case state.Status == models.SyncFailed:
			row.WriteString(syncErrorStyle.Render("  ✗ Failed"))
			if state.ErrorMessage != "" {
				row.WriteString(syncErrorStyle.Render(": " + state.ErrorMessage))
			}
		case state.Status == models.SyncNeverSynced:
			row.WriteString(syncMessageStyle.Render("  Not synced yet"))
			if state.ErrorMessage != "" {
				row.WriteString(syncErrorStyle.Render(" • " + state.ErrorMessage))
			}
		case state.Status == models.SyncSyncing:
			row.WriteString(syncSyncingStyle.Render("  ⟳ Syncing elsewhere"))
		default:
			row.WriteString(syncIdleStyle.Render("  ✓ Idle"))
			if state.LastSyncTime != "" {
				row.WriteString(syncMessageStyle.Render(" • Last synced " + state.LastSyncTime))
			}
		}

		s.WriteString(row.String())
		s.WriteString("\n")
	}

	s.WriteString("\n")

	if len(m.syncMessages) > 0 {
		s.WriteString(syncHeaderStyle.Render("Recent Activity"))
		s.WriteString("\n\n")
		start := 0
		if len(m.syncMessages) > 5 {
			start = len(m.syncMessages) - 5
		}
		for i := start; i < len(m.syncMessages); i++ {
			s.WriteString(syncMessageStyle.Render("  " + m.syncMessages[i]))
			s.WriteString("\n")
		}
		s.WriteString("\n")
	}

	s.WriteString(m.renderSyncHelp())

	return s.String()
}

func (m Model) renderSyncHelp() string {
	help := []string{
		"↑/↓: Select account",
		"Enter: Sync selected",
		"a: Sync all",
		"r: Refresh status",
		"Tab: Switch tabs",
		"q: Quit",
	}
	return helpStyle.Render(strings.Join(help, " • "))
}

// loadSyncStates merges stored state with the configured accounts.
func (m *Model) loadSyncStates() {
	byAccount := map[string]SyncStateDisplay{}
	for _, account := range m.accounts {
		byAccount[account] = SyncStateDisplay{Account: account, Status: models.SyncNeverSynced}
	}

	states, err := m.engine.ListSyncStates(m.ctx, m.owner)
	if err != nil {
		m.err = err
	}
	for _, state := range states {
		display := SyncStateDisplay{
			Account:   state.AccountEmail,
			Status:    state.SyncStatus,
			HasCursor: state.SyncToken != nil && *state.SyncToken != "",
		}
		if last := latest(state.LastFullSyncAt, state.LastIncrementalSyncAt); last != nil {
			display.LastSyncTime = formatTimeSince(*last)
		}
		if state.ErrorMessage != nil {
			display.ErrorMessage = *state.ErrorMessage
		}
		byAccount[state.AccountEmail] = display
	}

	m.syncStates = m.syncStates[:0]
	for _, display := range byAccount {
		display.InProgress = m.syncInProgress[display.Account]
		m.syncStates = append(m.syncStates, display)
	}
	sort.Slice(m.syncStates, func(i, j int) bool { return m.syncStates[i].Account < m.syncStates[j].Account })

	if m.selectedAccount >= len(m.syncStates) {
		m.selectedAccount = len(m.syncStates) - 1
	}
	if m.selectedAccount < 0 {
		m.selectedAccount = 0
	}
}

func latest(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	}
	return a
}

func (m Model) handleSyncKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		if m.selectedAccount > 0 {
			m.selectedAccount--
		}
	case "down", "j":
		if m.selectedAccount < len(m.syncStates)-1 {
			m.selectedAccount++
		}
	case "enter":
		if m.selectedAccount < len(m.syncStates) {
			account := m.syncStates[m.selectedAccount].Account
			if m.syncInProgress[account] {
				return m, nil
			}
			m.syncInProgress[account] = true
			m.addSyncMessage(fmt.Sprintf("Starting sync for %s...", account))
			return m, m.syncAccount(account)
		}
	case "a":
		var cmds []tea.Cmd
		for _, state := range m.syncStates {
			if m.syncInProgress[state.Account] {
				continue
			}
			m.syncInProgress[state.Account] = true
			m.addSyncMessage(fmt.Sprintf("Starting sync for %s...", state.Account))
			cmds = append(cmds, m.syncAccount(state.Account))
		}
		return m, tea.Batch(cmds...)
	case "r":
		m.loadSyncStates()
	}

	return m, nil
}

// syncAccount runs a sync off the UI loop.
func (m Model) syncAccount(account string) tea.Cmd {
	engine, ctx, owner := m.engine, m.ctx, m.owner
	return func() tea.Msg {
		res, err := engine.Sync(ctx, owner, account)
		return SyncCompleteMsg{Account: account, Result: res, Error: err}
	}
}

// addSyncMessage adds a message to the sync message log.
func (m *Model) addSyncMessage(msg string) {
	timestamp := time.Now().Format("15:04:05")
	m.syncMessages = append(m.syncMessages, fmt.Sprintf("[%s] %s", timestamp, msg))
}

// handleSyncComplete handles sync completion messages.
func (m *Model) handleSyncComplete(msg SyncCompleteMsg) tea.Cmd {
	m.syncInProgress[msg.Account] = false

	switch {
	case msg.Error != nil:
		m.addSyncMessage(fmt.Sprintf("✗ %s sync failed: %v", msg.Account, msg.Error))
	case msg.Result != nil && msg.Result.Status != models.SyncCompleted:
		m.addSyncMessage(fmt.Sprintf("✗ %s %s sync failed: %s", msg.Account, msg.Result.Mode, msg.Result.Error))
	case msg.Result != nil:
		r := msg.Result
		m.addSyncMessage(fmt.Sprintf("✓ %s %s sync: %d created, %d updated, %d removed",
			msg.Account, r.Mode, r.Created, r.Updated, r.Removed))
	}

	m.loadSyncStates()
	return nil
}

// formatTimeSince formats a time duration in a human-readable way.
func formatTimeSince(t time.Time) string {
	duration := time.Since(t)

	if duration < time.Minute {
		return "just now"
	} else if duration < time.Hour {
		minutes := int(duration.Minutes())
		if minutes == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", minutes)
	} else if duration < 24*time.Hour {
		hours := int(duration.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	}
	days := int(duration.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", days)
}
