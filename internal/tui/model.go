// Package tui renders an interactive partition status dashboard.
package tui

import (
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/f1data/silverpipe/internal/config"
	"github.com/f1data/silverpipe/internal/silver"
	"github.com/f1data/silverpipe/internal/state"
)

// TickMsg drives periodic refresh of the partition table
type TickMsg time.Time

// refreshMsg carries a freshly loaded state snapshot
type refreshMsg struct {
	rows []partitionRow
	err  error
}

type partitionRow struct {
	dataset     string
	year        int
	status      string
	rowCount    int64
	checksum    string
	committedAt time.Time
	errText     string
	onDisk      bool
}

// Model is the dashboard TUI model
type Model struct {
	cfg    *config.Config
	store  state.Store
	silver *silver.Store

	table  table.Model
	rows   []partitionRow
	err    error
	width  int
	height int
	ready  bool
}

// Start opens the dashboard over the given state store and blocks until the
// user quits.
func Start(cfg *config.Config, store state.Store) error {
	m := newModel(cfg, store)
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func newModel(cfg *config.Config, store state.Store) Model {
	columns := []table.Column{
		{Title: "Dataset", Width: 22},
		{Title: "Year", Width: 6},
		{Title: "Status", Width: 11},
		{Title: "Rows", Width: 10},
		{Title: "Committed", Width: 17},
		{Title: "Segment", Width: 8},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	ts := table.DefaultStyles()
	ts.Header = styleHeader
	ts.Selected = styleSelected
	t.SetStyles(ts)

	return Model{
		cfg:    cfg,
		store:  store,
		silver: silver.NewStore(cfg.Paths.Silver),
		table:  t,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.refreshCmd(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) refreshCmd() tea.Cmd {
	store, ss := m.store, m.silver
	return func() tea.Msg {
		states, err := store.Load()
		if err != nil {
			return refreshMsg{err: err}
		}

		rows := make([]partitionRow, 0, len(states))
		for ref, ps := range states {
			rows = append(rows, partitionRow{
				dataset:     ref.Dataset,
				year:        ref.Key,
				status:      string(ps.Status),
				rowCount:    ps.RowCount,
				checksum:    ps.Checksum,
				committedAt: ps.CommittedAt,
				errText:     ps.Error,
				onDisk:      ss.Exists(ref.Dataset, ref.Key),
			})
		}
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].dataset != rows[j].dataset {
				return rows[i].dataset < rows[j].dataset
			}
			return rows[i].year < rows[j].year
		})
		return refreshMsg{rows: rows}
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.refreshCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		h := msg.Height - 8
		if h < 5 {
			h = 5
		}
		m.table.SetHeight(h)

	case TickMsg:
		return m, tea.Batch(m.refreshCmd(), tickCmd())

	case refreshMsg:
		m.err = msg.err
		if msg.err == nil {
			m.rows = msg.rows
			m.table.SetRows(tableRows(msg.rows))
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func tableRows(rows []partitionRow) []table.Row {
	out := make([]table.Row, 0, len(rows))
	for _, r := range rows {
		committed := ""
		if !r.committedAt.IsZero() {
			committed = r.committedAt.Local().Format("2006-01-02 15:04")
		}
		onDisk := "-"
		if r.onDisk {
			onDisk = "sealed"
		}
		out = append(out, table.Row{
			r.dataset,
			fmt.Sprintf("%d", r.year),
			statusLabel(r.status),
			fmt.Sprintf("%d", r.rowCount),
			committed,
			onDisk,
		})
	}
	return out
}

func statusLabel(status string) string {
	switch status {
	case string(state.StatusCommitted):
		return styleCommitted.Render(status)
	case string(state.StatusFailed):
		return styleFailed.Render(status)
	default:
		return stylePending.Render(status)
	}
}

// View renders the dashboard
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	title := styleTitle.Render("silverpipe · partition status")

	var body string
	if m.err != nil {
		body = styleError.Render(fmt.Sprintf("Error loading state: %v", m.err))
	} else if len(m.rows) == 0 {
		body = styleSummary.Render("No partitions tracked yet. Run an initial load to get started.")
	} else {
		body = styleTable.Render(m.table.View())
	}

	summary := styleSummary.Render(m.summaryLine())
	help := styleHelp.Render("r refresh · q quit")

	return lipgloss.JoinVertical(lipgloss.Left, title, body, summary, help)
}

func (m Model) summaryLine() string {
	var committed, failed, pending int
	var totalRows int64
	for _, r := range m.rows {
		switch r.status {
		case string(state.StatusCommitted):
			committed++
			totalRows += r.rowCount
		case string(state.StatusFailed):
			failed++
		default:
			pending++
		}
	}
	return fmt.Sprintf("%d committed · %d failed · %d pending · %d rows in silver",
		committed, failed, pending, totalRows)
}
