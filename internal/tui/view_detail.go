package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"unsubscan/internal/model"
)

var headerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("39")).
	PaddingBottom(1)

func detailView(s model.SenderSummary) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s <%s>", s.Name, s.Email)))
	b.WriteString("\n")
	fmt.Fprintf(&b, "Messages:     %d\n", s.MessageCount)
	fmt.Fprintf(&b, "Mechanism:    %s\n", s.LinkType)
	link := s.UnsubscribeURL
	if link == "" {
		link = "(none)"
	}
	fmt.Fprintf(&b, "Link:         %s\n", link)
	if s.ClickedAt != nil {
		fmt.Fprintf(&b, "Unsubscribed: %s\n", *s.ClickedAt)
	}
	return b.String()
}

func detailFooter() string {
	return footerStyle.Render("u: unsubscribe  esc: back  q: quit")
}
