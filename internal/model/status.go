package model

import "fmt"

// ChatStatus tracks a chat through the assignment lifecycle.
type ChatStatus string

const (
	StatusUnqueued  ChatStatus = "unqueued"
	StatusQueued    ChatStatus = "queued"
	StatusAssigning ChatStatus = "assigning"
	StatusActive    ChatStatus = "active"
	StatusIdle      ChatStatus = "idle"
	StatusEscalated ChatStatus = "escalated"
	StatusClosed    ChatStatus = "closed"
)

var terminalStatuses = map[ChatStatus]bool{
	StatusEscalated: true,
	StatusClosed:    true,
}

// Chat lifecycle: unqueued → queued → assigning → active, with
// active ↔ idle and idle → queued (reassignment) as the only cycles.
// queued → escalated fires when reassignment attempts are exhausted.
// escalated and closed are terminal for automated assignment; an
// escalated chat leaves terminal state only through admin resolution.
var validChatTransitions = map[ChatStatus]map[ChatStatus]bool{
	StatusUnqueued: {
		StatusQueued: true,
		StatusClosed: true,
	},
	StatusQueued: {
		StatusAssigning: true,
		StatusEscalated: true,
		StatusClosed:    true,
	},
	StatusAssigning: {
		StatusActive: true,
		StatusQueued: true, // commit failure → back to queued
	},
	StatusActive: {
		StatusIdle:      true,
		StatusQueued:    true, // forced reassignment
		StatusEscalated: true, // forced reassignment past the ceiling
		StatusClosed:    true,
	},
	StatusIdle: {
		StatusActive:    true,
		StatusQueued:    true,
		StatusEscalated: true,
		StatusClosed:    true,
	},
	StatusEscalated: {
		StatusClosed: true,
		StatusQueued: true, // admin resolution re-enters assignment
	},
}

// IsTerminal reports whether s ends the automated assignment lifecycle.
func IsTerminal(s ChatStatus) bool {
	return terminalStatuses[s]
}

// CanReceiveMessages reports whether a chat in status s accepts sends.
func CanReceiveMessages(s ChatStatus) bool {
	return s == StatusActive || s == StatusIdle
}

// ValidateChatTransition checks a status edge against the lifecycle
// graph. Terminal statuses only permit their explicitly listed exits.
func ValidateChatTransition(from, to ChatStatus) error {
	allowed, ok := validChatTransitions[from]
	if !ok {
		return fmt.Errorf("unknown chat status %q", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid chat transition: %q → %q", from, to)
	}
	return nil
}
