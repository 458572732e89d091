package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"unsubscan/internal/model"
)

type viewState int

const (
	viewSenders viewState = iota // sender list
	viewDetail                   // one sender
)

// Unsubscriber performs the unsubscribe action for one sender.
type Unsubscriber interface {
	Unsubscribe(ctx context.Context, s model.SenderSummary) (model.LinkType, error)
}

// ClickMarker records that the user acted on a sender.
type ClickMarker interface {
	MarkSenderClicked(ctx context.Context, analysisID, senderEmail, userEmail string) (bool, error)
}

// AppModel browses the senders of one saved analysis.
type AppModel struct {
	analysis *model.SavedAnalysis
	unsub    Unsubscriber
	marker   ClickMarker
	status   string

	view     viewState
	selected *model.SenderSummary

	senders list.Model

	width, height int
	now           func() time.Time
}

func NewAppModel(a *model.SavedAnalysis, unsub Unsubscriber, marker ClickMarker) *AppModel {
	sl := list.New(sendersToItems(a.Senders), list.NewDefaultDelegate(), 0, 0)
	// Remove esc from the list's built-in Quit binding so it doesn't exit on home
	sl.KeyMap.Quit.SetKeys("q")
	sl.Title = listTitle(a)

	return &AppModel{
		analysis: a,
		unsub:    unsub,
		marker:   marker,
		view:     viewSenders,
		senders:  sl,
		now:      time.Now,
	}
}

func (m *AppModel) Init() tea.Cmd {
	return nil
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.senders.SetSize(msg.Width, msg.Height-4) // room for footer
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case unsubscribeResultMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Unsubscribe %s failed: %v", msg.email, msg.err)
			return m, clearStatusAfter(3 * time.Second)
		}
		m.markClicked(msg.email)
		switch msg.used {
		case model.LinkOneClick:
			m.status = fmt.Sprintf("Unsubscribed from %s", msg.email)
		case model.LinkMailto:
			m.status = fmt.Sprintf("Opened mail client for %s", msg.email)
		default:
			m.status = fmt.Sprintf("Opened unsubscribe page for %s", msg.email)
		}
		if msg.markErr != nil {
			m.status += fmt.Sprintf(" (not saved: %v)", msg.markErr)
			return m, clearStatusAfter(3 * time.Second)
		}
		return m, clearStatusAfter(2 * time.Second)

	case statusMsg:
		if string(msg) == "" {
			m.status = ""
		}
		return m, nil
	}

	var cmd tea.Cmd
	if m.view == viewSenders {
		m.senders, cmd = m.senders.Update(msg)
	}
	return m, cmd
}

func (m *AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	if key == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.view {
	case viewSenders:
		// When the list is filtering, let it handle all keys except ctrl+c
		if m.senders.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.senders, cmd = m.senders.Update(msg)
			return m, cmd
		}
		switch key {
		case "q":
			return m, tea.Quit
		case "enter":
			if s, ok := m.current(); ok {
				m.selected = &s
				m.view = viewDetail
			}
			return m, nil
		case "u":
			if s, ok := m.current(); ok {
				return m, m.unsubscribeCmd(s)
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.senders, cmd = m.senders.Update(msg)
		return m, cmd

	case viewDetail:
		switch key {
		case "q":
			return m, tea.Quit
		case "esc":
			m.view = viewSenders
			m.selected = nil
			return m, nil
		case "u":
			if m.selected != nil {
				return m, m.unsubscribeCmd(*m.selected)
			}
		}
	}
	return m, nil
}

func (m *AppModel) current() (model.SenderSummary, bool) {
	item, ok := m.senders.SelectedItem().(senderItem)
	if !ok {
		return model.SenderSummary{}, false
	}
	return item.SenderSummary, true
}

func (m *AppModel) unsubscribeCmd(s model.SenderSummary) tea.Cmd {
	if s.UnsubscribeURL == "" {
		m.status = fmt.Sprintf("No unsubscribe link for %s", s.Email)
		return clearStatusAfter(2 * time.Second)
	}
	m.status = fmt.Sprintf("Unsubscribing from %s...", s.Email)

	a := m.analysis
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		used, err := m.unsub.Unsubscribe(ctx, s)
		if err != nil {
			return unsubscribeResultMsg{email: s.Email, err: err}
		}
		clicked, err := m.marker.MarkSenderClicked(ctx, a.ID, s.Email, a.UserEmail)
		return unsubscribeResultMsg{email: s.Email, used: used, clicked: clicked, markErr: err}
	}
}

// markClicked updates the in-memory copy so the list shows the checkmark
// without reloading the analysis.
func (m *AppModel) markClicked(email string) {
	at := m.now().UTC().Format(time.DateTime)
	for i := range m.analysis.Senders {
		s := &m.analysis.Senders[i]
		if s.Email != email || s.ClickedAt != nil {
			continue
		}
		s.ClickedAt = &at
		m.senders.SetItem(i, senderItem{*s})
		if m.selected != nil && m.selected.Email == email {
			m.selected = s
		}
	}
}

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return statusMsg("")
	})
}

// View renders the appropriate view based on current state.
func (m *AppModel) View() string {
	var b strings.Builder

	switch m.view {
	case viewSenders:
		if len(m.analysis.Senders) == 0 {
			b.WriteString("No unsubscribable senders in this analysis.\n")
		} else {
			b.WriteString(m.senders.View())
			b.WriteString("\n")
		}
		b.WriteString(sendersFooter())
	case viewDetail:
		if m.selected != nil {
			b.WriteString(detailView(*m.selected))
		}
		b.WriteString(detailFooter())
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(m.status)
	}

	return b.String()
}
