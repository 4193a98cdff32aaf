// Package tui is the live process view: a bubbletea program polling the
// daemon once per tick through the app facade.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"sysmate/internal/app"
	"sysmate/internal/dispatch"
	"sysmate/internal/model"
	"sysmate/internal/modules"
	"sysmate/internal/registry"
)

const (
	refreshEvery  = time.Second
	listTimeout   = 4 * time.Second
	actionTimeout = time.Minute
)

var sortOrder = []modules.SortKey{modules.SortCPU, modules.SortMemory, modules.SortPID, modules.SortName}

// Controller defines the subset of app.App behaviour the TUI needs.
type Controller interface {
	Status() (app.DaemonStatus, error)
	StartDaemon() (*app.DaemonHandle, error)
	List(context.Context, app.ListParams) (app.Snapshot, error)
	Kill(context.Context, app.KillParams) (app.KillResult, error)
}

// Model represents the Bubble Tea state.
type Model struct {
	controller Controller
	keys       KeyMap

	list      list.Model
	filter    textinput.Model
	filtering bool
	processes []model.ProcessView
	meta      registry.Meta
	cpu       *history
	sortIdx   int

	// pending holds the process awaiting kill confirmation.
	pending *model.ProcessView
	force   bool

	daemonStatus app.DaemonStatus
	statusMsg    string

	err     error
	loading bool

	width  int
	height int

	lastUpdated time.Time
}

// New constructs a TUI model with default styles.
func New(ctrl Controller) *Model {
	delegate := list.NewDefaultDelegate()
	lst := list.New([]list.Item{}, delegate, 0, 0)
	lst.Title = "Processes"
	lst.SetShowHelp(false)
	lst.SetFilteringEnabled(false)
	lst.DisableQuitKeybindings()

	in := textinput.New()
	in.Prompt = "filter: "
	in.Placeholder = "name or command line"
	in.CharLimit = 64

	return &Model{
		controller: ctrl,
		keys:       DefaultKeyMap(),
		list:       lst,
		filter:     in,
		cpu:        &history{max: 30},
		statusMsg:  "Checking daemon status…",
		loading:    true,
	}
}

// Run spins up the Bubble Tea program.
func Run(ctrl Controller) error {
	prog := tea.NewProgram(New(ctrl), tea.WithAltScreen())
	_, err := prog.Run()
	return err
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(checkDaemonStatusCmd(m.controller), m.load(), tickCmd())
}

func (m *Model) sortKey() modules.SortKey { return sortOrder[m.sortIdx] }

func (m *Model) load() tea.Cmd {
	return loadProcessesCmd(m.controller, app.ListFilters{
		NameContains: m.filter.Value(),
		ActiveOnly:   true,
	}, m.sortKey())
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		if m.height > 9 {
			m.list.SetSize(msg.Width, msg.Height-9)
		}

	case tickMsg:
		if m.daemonStatus.Running {
			return m, tea.Batch(m.load(), tickCmd())
		}
		return m, tickCmd()

	case daemonStatusMsg:
		m.daemonStatus = msg.status
		if msg.status.Running {
			if msg.status.PID > 0 {
				m.statusMsg = fmt.Sprintf("Daemon running (pid %d).", msg.status.PID)
			} else {
				m.statusMsg = "Daemon running."
			}
		} else {
			m.statusMsg = "Daemon is not running. Press s to start it."
			m.processes = nil
			m.list.SetItems(nil)
		}

	case processesLoadedMsg:
		m.loading = false
		m.err = nil
		m.meta = msg.snapshot.Meta
		if m.meta.System.Valid {
			m.cpu.push(m.meta.System.CPUPercent)
		}
		m.processes = msg.snapshot.Processes
		items := make([]list.Item, 0, len(m.processes))
		for _, proc := range m.processes {
			items = append(items, processItem{view: proc})
		}
		m.list.SetItems(items)
		m.lastUpdated = time.Now()

	case daemonStartedMsg:
		m.statusMsg = "Daemon started."
		return m, tea.Batch(checkDaemonStatusCmd(m.controller), m.load())

	case killDoneMsg:
		m.statusMsg = msg.summary
		m.err = msg.err
		return m, m.load()

	case errMsg:
		m.loading = false
		m.err = msg.err

	case tea.KeyMsg:
		if m.filtering {
			return m.updateFilter(msg)
		}
		if m.pending != nil {
			return m.updateConfirm(msg)
		}
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			m.loading = true
			return m, m.load()
		case key.Matches(msg, m.keys.Start):
			if !m.daemonStatus.Running {
				m.statusMsg = "Starting daemon…"
				return m, startDaemonCmd(m.controller)
			}
		case key.Matches(msg, m.keys.Sort):
			m.sortIdx = (m.sortIdx + 1) % len(sortOrder)
			return m, m.load()
		case key.Matches(msg, m.keys.Filter):
			m.filtering = true
			return m, m.filter.Focus()
		case key.Matches(msg, m.keys.Kill), key.Matches(msg, m.keys.ForceKill):
			if cur := m.currentProcess(); cur != nil {
				m.pending = cur
				m.force = key.Matches(msg, m.keys.ForceKill)
			}
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter, tea.KeyEsc:
		m.filtering = false
		m.filter.Blur()
		if msg.Type == tea.KeyEsc {
			m.filter.SetValue("")
		}
		return m, m.load()
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	return m, cmd
}

func (m *Model) updateConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	target := *m.pending
	switch {
	case key.Matches(msg, m.keys.Confirm):
		m.pending = nil
		m.statusMsg = fmt.Sprintf("Waiting for authorization to stop %s…", target.Name)
		return m, killCmd(m.controller, target, m.force)
	case key.Matches(msg, m.keys.Cancel):
		m.pending = nil
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(renderHeader(m.meta, m.cpu, m.width))
	b.WriteByte('\n')

	statusStyle := okStyle
	if !m.daemonStatus.Running {
		statusStyle = errStyle.Bold(true)
	}
	b.WriteString(statusStyle.Render(m.statusMsg))
	b.WriteByte('\n')

	if m.loading {
		b.WriteString("Loading processes…\n")
	} else if m.err != nil {
		b.WriteString(errStyle.Render(fmt.Sprintf("Error: %v", m.err)))
		b.WriteByte('\n')
	}

	if m.filtering || m.filter.Value() != "" {
		b.WriteString(m.filter.View())
		b.WriteByte('\n')
	}

	if len(m.list.Items()) == 0 && !m.loading && m.err == nil && m.daemonStatus.Running {
		b.WriteString("No processes found.\n")
	} else {
		b.WriteString(m.list.View())
		b.WriteByte('\n')
	}

	if m.pending != nil {
		verb := "Terminate"
		if m.force {
			verb = "Kill"
		}
		prompt := fmt.Sprintf("%s %s (pid %d)? enter/y to confirm, esc/n to cancel", verb, m.pending.Name, m.pending.Identity.PID)
		b.WriteString(boxStyle.BorderForeground(lipgloss.Color("214")).Render(prompt))
		b.WriteByte('\n')
	} else if cur := m.currentProcess(); cur != nil {
		detail := fmt.Sprintf("identity=%s user=%s\ncmd=%s\nfirst seen %s",
			cur.Identity, valueOrDash(cur.User), valueOrDash(cur.Cmdline), cur.FirstSeen.Format(time.Kitchen))
		b.WriteString(boxStyle.Render(detail))
		b.WriteByte('\n')
	}

	help := fmt.Sprintf("q quit • r reload • s start daemon • o sort (%s) • / filter • k terminate • K kill", m.sortKey())
	if !m.lastUpdated.IsZero() {
		help += fmt.Sprintf(" • tick %d at %s", m.meta.Tick, m.lastUpdated.Format(time.Kitchen))
	}
	b.WriteString(mutedStyle.Render(help))

	return b.String()
}

// processItem adapts a process view to the bubbles list item interface.
type processItem struct {
	view model.ProcessView
}

func (p processItem) Title() string {
	return fmt.Sprintf("%-7d %-24s %6.1f%% %9s", p.view.Identity.PID, valueOrDash(p.view.Name), p.view.CPUPercent, modules.FormatSize(p.view.RSSBytes))
}

func (p processItem) Description() string {
	return fmt.Sprintf("%s • io r/w %s/s %s/s", valueOrDash(p.view.User),
		modules.FormatSize(uint64(p.view.DiskReadBps)), modules.FormatSize(uint64(p.view.DiskWriteBps)))
}

func (p processItem) FilterValue() string {
	return fmt.Sprintf("%d %s %s", p.view.Identity.PID, p.view.Name, p.view.Cmdline)
}

func (m *Model) currentProcess() *model.ProcessView {
	idx := m.list.Index()
	if idx < 0 || idx >= len(m.processes) {
		return nil
	}
	v := m.processes[idx]
	return &v
}

func valueOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

type tickMsg time.Time

type daemonStatusMsg struct {
	status app.DaemonStatus
}

type processesLoadedMsg struct {
	snapshot app.Snapshot
}

type daemonStartedMsg struct{}

type killDoneMsg struct {
	summary string
	err     error
}

type errMsg struct{ err error }

func (e errMsg) Error() string { return e.err.Error() }

func tickCmd() tea.Cmd {
	return tea.Tick(refreshEvery, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func checkDaemonStatusCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		status, err := ctrl.Status()
		if err != nil {
			return errMsg{err}
		}
		return daemonStatusMsg{status: status}
	}
}

func loadProcessesCmd(ctrl Controller, filters app.ListFilters, sort modules.SortKey) tea.Cmd {
	return func() tea.Msg {
		snap, err := ctrl.List(context.Background(), app.ListParams{
			Filters: filters,
			Sort:    string(sort),
			Timeout: listTimeout,
		})
		if err != nil {
			return errMsg{err}
		}
		return processesLoadedMsg{snapshot: snap}
	}
}

func killCmd(ctrl Controller, target model.ProcessView, force bool) tea.Cmd {
	return func() tea.Msg {
		res, err := ctrl.Kill(context.Background(), app.KillParams{
			Filters: app.ListFilters{PIDs: []int{int(target.Identity.PID)}},
			Force:   force,
			Timeout: actionTimeout,
		})
		switch {
		case err == nil && res.Successes == 0:
			return killDoneMsg{summary: fmt.Sprintf("%s had already exited.", target.Name)}
		case err == nil:
			return killDoneMsg{summary: fmt.Sprintf("Stopped %s (pid %d).", target.Name, target.Identity.PID)}
		case errors.Is(err, dispatch.ErrDenied):
			return killDoneMsg{summary: "Authorization refused.", err: err}
		case errors.Is(err, dispatch.ErrTargetVanished):
			return killDoneMsg{summary: fmt.Sprintf("%s had already exited.", target.Name)}
		}
		return killDoneMsg{summary: "Kill failed.", err: err}
	}
}

func startDaemonCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		if _, err := ctrl.StartDaemon(); err != nil {
			return errMsg{err}
		}
		return daemonStartedMsg{}
	}
}
