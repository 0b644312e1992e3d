// Package app wires the triage window, the action orchestrator and the
// feed into one Bubble Tea program.
package app

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/inbox-sweep/internal/action"
	"github.com/nhle/inbox-sweep/internal/buffer"
	appsync "github.com/nhle/inbox-sweep/internal/sync"
	"github.com/nhle/inbox-sweep/internal/theme"
	"github.com/nhle/inbox-sweep/internal/ui"
	"github.com/nhle/inbox-sweep/internal/ui/detail"
	helpview "github.com/nhle/inbox-sweep/internal/ui/help"
	"github.com/nhle/inbox-sweep/internal/ui/window"
)

// snapshotMsg carries a buffer change to the UI.
type snapshotMsg struct {
	snap buffer.Snapshot
}

// tickMsg drives the undo countdown.
type tickMsg time.Time

// lastAction is the most recent undoable action.
type lastAction struct {
	kind   action.Kind
	tokens []string
	expiry time.Time
}

// pendingConfirm is an action waiting for the user's answer.
type pendingConfirm struct {
	kind  action.Kind
	entry window.Entry
	form  *huh.Form

	// answer lives on the heap so the form keeps writing to it while the
	// model is copied between updates.
	answer *bool
}

// Model is the root Bubble Tea model of the triage screen.
type Model struct {
	ctx    context.Context
	t      *triage
	now    func() time.Time
	layout ui.Layout
	keys   *KeyMap

	window   window.Model
	detail   detail.Model
	helpView helpview.Model
	showHelp bool
	ready    bool

	snapshots   chan buffer.Snapshot
	unsubscribe func()
	snap        buffer.Snapshot
	feed        appsync.FeedStatus

	// busy is set while an action or undo runs; the buffer expects
	// consumption to be serialized.
	busy    bool
	last    *lastAction
	confirm *pendingConfirm

	message string
	outcome action.Outcome
}

// New creates the root model and subscribes it to buffer changes.
func New(ctx context.Context, deps Deps) Model {
	k := DefaultKeyMap()
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	m := Model{
		ctx: ctx,
		t: &triage{
			buf:    deps.Buffer,
			orch:   deps.Orchestrator,
			caps:   deps.Caps,
			feeder: deps.Feeder,
		},
		now:       now,
		keys:      k,
		window:    window.New(k, 80, 14),
		detail:    detail.New(80, detail.PanelHeight),
		helpView:  helpview.New(k, 80, 24),
		snapshots: make(chan buffer.Snapshot, 1),
		snap:      deps.Buffer.Snapshot(),
		feed:      deps.Feeder.Status(),
	}

	ch := m.snapshots
	m.unsubscribe = deps.Buffer.Subscribe(func(s buffer.Snapshot) {
		// Latest wins; a stale snapshot in the channel is replaced.
		for {
			select {
			case ch <- s:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	})

	m.window.SetEntries(m.t.entries(m.snap))
	m.syncDetail()
	return m
}

// Init starts listening for buffer and feed changes.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.waitForSnapshot(),
		m.t.feeder.WaitForStatus(),
		tick(),
	)
}

func (m Model) waitForSnapshot() tea.Cmd {
	ch := m.snapshots
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return nil
		}
		return snapshotMsg{snap: s}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages and key presses.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.resize()
		return m, nil

	case snapshotMsg:
		m.snap = msg.snap
		m.window.SetFetching(msg.snap.Fetching)
		cmd := m.window.SetEntries(m.t.entries(msg.snap))
		m.syncDetail()
		return m, tea.Batch(cmd, m.waitForSnapshot())

	case appsync.FeedStatusMsg:
		m.feed = msg.Status
		// Classifications land with the batch; refresh badges.
		cmd := m.window.SetEntries(m.t.entries(m.snap))
		m.syncDetail()
		return m, tea.Batch(cmd, m.t.feeder.WaitForStatus())

	case tickMsg:
		if m.last != nil && !m.now().Before(m.last.expiry) {
			m.last = nil
		}
		return m, tick()

	case actionDoneMsg:
		m.busy = false
		if msg.confirm != nil {
			cmd := m.startConfirm(msg.kind, msg.entry, msg.confirm.Reason)
			return m, cmd
		}
		m.message, m.outcome = describeAction(msg)
		if len(msg.tokens) > 0 {
			m.last = &lastAction{kind: msg.kind, tokens: msg.tokens, expiry: msg.expiry}
		}
		return m, nil

	case undoDoneMsg:
		m.busy = false
		m.message, m.outcome = describeUndo(msg)
		if msg.err == nil {
			m.last = nil
		}
		return m, nil

	case tea.KeyMsg:
		if m.confirm != nil {
			return m.updateConfirm(msg)
		}
		return m.handleKey(msg)
	}

	if m.confirm != nil {
		return m.updateConfirm(msg)
	}
	var cmd tea.Cmd
	m.window, cmd = m.window.Update(msg)
	return m, cmd
}

// handleKey processes key input on the triage screen.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		m.showHelp = !m.showHelp
		return m, nil
	}

	if m.showHelp {
		if msg.String() == "esc" {
			m.showHelp = false
		}
		return m, nil
	}

	if kind, ok := actionFor(m.keys, msg); ok {
		if m.busy {
			return m, nil
		}
		entry, ok := m.window.Selected()
		if !ok {
			return m, nil
		}
		cmd := m.runAction(kind, entry, action.Options{})
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.Undo):
		if m.busy {
			return m, nil
		}
		if m.last == nil || !m.now().Before(m.last.expiry) {
			m.last = nil
			m.message, m.outcome = "nothing to undo", ""
			return m, nil
		}
		last := *m.last
		m.busy = true
		m.message, m.outcome = "undoing "+string(last.kind)+"...", ""
		t, ctx := m.t, m.ctx
		return m, func() tea.Msg { return t.undo(ctx, last.kind, last.tokens) }

	case key.Matches(msg, m.keys.Refresh):
		t, ctx := m.t, m.ctx
		return m, func() tea.Msg {
			t.buf.Refill(ctx)
			return nil
		}
	}

	var cmd tea.Cmd
	m.window, cmd = m.window.Update(msg)
	m.syncDetail()
	return m, cmd
}

// runAction marks the model busy and executes kind off the UI goroutine.
func (m *Model) runAction(kind action.Kind, entry window.Entry, opts action.Options) tea.Cmd {
	m.busy = true
	m.message, m.outcome = string(kind)+"...", ""
	t, ctx := m.t, m.ctx
	return func() tea.Msg { return t.execute(ctx, kind, entry, opts) }
}

// startConfirm opens a yes/no form for an action that needs consent.
func (m *Model) startConfirm(kind action.Kind, entry window.Entry, reason string) tea.Cmd {
	answer := new(bool)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(confirmPrompt(kind, entry.Item.Item)).
				Description(reason).
				Affirmative("Yes").
				Negative("Cancel").
				Value(answer),
		),
	).WithWidth(max(m.layout.ContentWidth()-4, 40)).WithShowHelp(false)

	m.confirm = &pendingConfirm{kind: kind, entry: entry, form: form, answer: answer}
	m.message, m.outcome = reason, action.OutcomeNeedsConfirmation
	return form.Init()
}

func (m Model) updateConfirm(msg tea.Msg) (tea.Model, tea.Cmd) {
	c := m.confirm
	mdl, cmd := c.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		c.form = f
	}

	switch c.form.State {
	case huh.StateCompleted:
		m.confirm = nil
		if *c.answer {
			cmd := m.runAction(c.kind, c.entry, action.Options{Confirmed: true})
			return m, cmd
		}
		m.message, m.outcome = string(c.kind)+" cancelled", ""
		return m, nil
	case huh.StateAborted:
		m.confirm = nil
		m.message, m.outcome = string(c.kind)+" cancelled", ""
		return m, nil
	}
	return m, cmd
}

// syncDetail points the detail panel at the selected entry.
func (m *Model) syncDetail() {
	if e, ok := m.window.Selected(); ok {
		m.detail.SetEntry(&e)
		return
	}
	m.detail.SetEntry(nil)
}

func (m *Model) resize() {
	w := m.layout.ContentWidth()
	m.window.SetSize(w, m.layout.ListHeight(detail.PanelHeight))
	m.detail.SetSize(w, detail.PanelHeight)
	m.helpView.SetSize(w, m.layout.ContentHeight())
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.layout.RenderHeader("Inbox Sweep", feedSummary(m.snap.Pending, m.snap.Fetching, m.feed))
	return m.layout.RenderWithFrame(header, m.renderContent(), m.layout.RenderStatusBar(m.statusLine()))
}

func (m Model) renderContent() string {
	if m.showHelp {
		return m.helpView.View()
	}
	bottom := m.detail.View()
	if m.confirm != nil {
		bottom = theme.DetailPanelStyle.
			Width(max(m.layout.ContentWidth()-4, 10)).
			Height(detail.PanelHeight - 2).
			Render(m.confirm.form.View())
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.window.View(), bottom)
}

// statusLine shows the last result and the undo countdown, or the key
// hints when there is nothing to report.
func (m Model) statusLine() string {
	if m.feed.AuthFailed {
		return theme.OutcomeStyle(string(action.OutcomeFailed)).Render("login rejected; update the stored password and restart")
	}

	var parts []string
	if m.message != "" {
		parts = append(parts, theme.OutcomeStyle(string(m.outcome)).Render(m.message))
	}
	if m.last != nil {
		if c := countdown(m.last.expiry, m.now()); c != "" {
			parts = append(parts, c)
		}
	}
	if len(parts) == 0 {
		return "d delete | u unsub | b block | k keep | n nuke domain | ? help | q quit"
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, joinParts(parts)...)
}

func joinParts(parts []string) []string {
	out := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			out = append(out, " | ")
		}
		out = append(out, p)
	}
	return out
}
