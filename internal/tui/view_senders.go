package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"

	"unsubscan/internal/model"
)

// senderItem wraps SenderSummary to customize list display.
type senderItem struct {
	model.SenderSummary
}

func (s senderItem) FilterValue() string { return s.Name + " " + s.Email }
func (s senderItem) Title() string {
	indicator := "  "
	if s.ClickedAt != nil {
		indicator = "✓ "
	}
	return fmt.Sprintf("%s%s (%d)", indicator, s.Name, s.MessageCount)
}
func (s senderItem) Description() string {
	return fmt.Sprintf("%s  [%s]", s.Email, s.LinkType)
}

var footerStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("241")).
	PaddingTop(1)

func sendersFooter() string {
	return footerStyle.Render("enter: details  u: unsubscribe  /: filter  q: quit  ✓=already unsubscribed")
}

func sendersToItems(senders []model.SenderSummary) []list.Item {
	items := make([]list.Item, len(senders))
	for i, s := range senders {
		items[i] = senderItem{s}
	}
	return items
}

func listTitle(a *model.SavedAnalysis) string {
	return fmt.Sprintf("%s → %s: %d senders, %d%% of %d messages unsubscribable",
		a.DateRangeStart, a.DateRangeEnd, a.UniqueSenders, a.Percentage, a.TotalMessages)
}
