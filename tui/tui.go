// ABOUTME: Terminal User Interface using bubbletea framework
// ABOUTME: Review queue, contact browser and directory sync controls in one full-screen app
package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"github.com/harperreed/rolodex/directory"
	"github.com/harperreed/rolodex/identity"
	"github.com/harperreed/rolodex/models"
)

// ViewMode represents the current TUI view
type ViewMode int

const (
	ViewList ViewMode = iota
	ViewDetail
	ViewConfirm
)

// Tab is the list shown in ViewList.
type Tab int

const (
	TabQueue Tab = iota
	TabContacts
	TabSync
)

var tabNames = []string{"Review Queue", "Contacts", "Sync"}

// Model is the main bubbletea model
type Model struct {
	svc      *identity.Service
	engine   *directory.Engine
	owner    string
	accounts []string
	ctx      context.Context

	viewMode ViewMode
	tab      Tab

	// List view state
	selectedRow int
	queue       []models.QueueEntry
	contacts    []models.Contact

	// Detail view state
	selectedID uuid.UUID

	// Confirmation state
	confirm *confirmation

	// Sync view state
	syncStates      []SyncStateDisplay
	selectedAccount int
	syncInProgress  map[string]bool
	syncMessages    []string

	// UI state
	status string
	width  int
	height int
	err    error
}

// SyncStateDisplay is one account row of the sync view.
type SyncStateDisplay struct {
	Account      string
	Status       models.SyncStatus
	HasCursor    bool
	LastSyncTime string
	ErrorMessage string
	InProgress   bool
}

// NewModel creates a new TUI model. accounts seeds the sync view with
// accounts that may not have synced yet.
func NewModel(svc *identity.Service, engine *directory.Engine, ownerID string, accounts []string) Model {
	m := Model{
		svc:            svc,
		engine:         engine,
		owner:          ownerID,
		accounts:       accounts,
		ctx:            context.Background(),
		viewMode:       ViewList,
		tab:            TabQueue,
		syncInProgress: make(map[string]bool),
		width:          100,
		height:         30,
	}
	m.reload()
	return m
}

// Run starts the full-screen program.
func Run(svc *identity.Service, engine *directory.Engine, ownerID string, accounts []string) error {
	_, err := tea.NewProgram(NewModel(svc, engine, ownerID, accounts), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case SyncCompleteMsg:
		cmd := m.handleSyncComplete(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	switch m.viewMode {
	case ViewList:
		if m.tab == TabSync {
			return m.renderSyncView()
		}
		return m.renderListView()
	case ViewDetail:
		return m.renderDetailView()
	case ViewConfirm:
		return m.renderConfirmView()
	}
	return ""
}

func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return m, tea.Quit
	case "q":
		if m.viewMode != ViewConfirm {
			return m, tea.Quit
		}
	}

	switch m.viewMode {
	case ViewList:
		if msg.String() == "tab" {
			m.tab = (m.tab + 1) % Tab(len(tabNames))
			m.selectedRow = 0
			m.status = ""
			m.reload()
			return m, nil
		}
		if m.tab == TabSync {
			return m.handleSyncKeys(msg)
		}
		return m.handleListKeys(msg)
	case ViewDetail:
		return m.handleDetailKeys(msg)
	case ViewConfirm:
		return m.handleConfirmKeys(msg)
	}

	return m, nil
}

// reload refreshes the data behind the current tab.
func (m *Model) reload() {
	m.err = nil
	switch m.tab {
	case TabQueue:
		pending := models.QueuePending
		m.queue, m.err = m.svc.ListQueue(m.ctx, m.owner, &pending)
		m.clampSelection(len(m.queue))
	case TabContacts:
		m.contacts, m.err = m.svc.FindContacts(m.ctx, m.owner, contactsFilter)
		m.clampSelection(len(m.contacts))
	case TabSync:
		m.loadSyncStates()
	}
}

func (m *Model) clampSelection(n int) {
	if m.selectedRow >= n {
		m.selectedRow = n - 1
	}
	if m.selectedRow < 0 {
		m.selectedRow = 0
	}
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			MarginBottom(1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Background(lipgloss.Color("235")).
			Padding(0, 2)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("240")).
				Padding(0, 2)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			MarginTop(1)

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))
)
