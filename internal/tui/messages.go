package tui

import "unsubscan/internal/model"

// Async message types for Bubble Tea commands.

type unsubscribeResultMsg struct {
	email   string
	used    model.LinkType
	clicked bool
	err     error // the unsubscribe action itself failed
	markErr error // the action worked but recording it did not
}

type statusMsg string
