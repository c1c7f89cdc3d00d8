// Package fault defines the typed error taxonomy surfaced by the
// messaging and assignment cores. Raw storage errors never escape those
// boundaries; they are translated here.
package fault

import "fmt"

// InsufficientCreditsError is returned when a deduction would take an
// account balance below zero. No state is mutated.
type InsufficientCreditsError struct {
	AccountID string
	Required  int64
	Available int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for %s: required %d, available %d",
		e.AccountID, e.Required, e.Available)
}

// ChatNotFoundError is returned when a chat is missing or not in a
// status that accepts the requested operation.
type ChatNotFoundError struct {
	ChatID string
}

func (e *ChatNotFoundError) Error() string {
	return fmt.Sprintf("chat not found: %s", e.ChatID)
}

// UserNotFoundError is returned when a sender cannot be resolved to a
// participant of the chat.
type UserNotFoundError struct {
	UserID string
}

func (e *UserNotFoundError) Error() string {
	return fmt.Sprintf("user not found: %s", e.UserID)
}

// OperatorNotFoundError is returned when an operator ID does not
// resolve.
type OperatorNotFoundError struct {
	OperatorID string
}

func (e *OperatorNotFoundError) Error() string {
	return fmt.Sprintf("operator not found: %s", e.OperatorID)
}

// OperatorUnavailableError is returned when an operator cannot accept a
// chat. Reason is one of "unavailable", "suspended", "at_capacity".
type OperatorUnavailableError struct {
	OperatorID string
	Reason     string
}

func (e *OperatorUnavailableError) Error() string {
	return fmt.Sprintf("operator %s unavailable: %s", e.OperatorID, e.Reason)
}

// MaxReassignmentsExceededError signals that a chat has exhausted its
// reassignment attempts. It triggers the escalation path and is
// absorbed into an escalated result rather than surfaced to callers.
type MaxReassignmentsExceededError struct {
	ChatID   string
	Attempts int
}

func (e *MaxReassignmentsExceededError) Error() string {
	return fmt.Sprintf("chat %s exceeded max reassignments (%d attempts)", e.ChatID, e.Attempts)
}

// TransactionError wraps an infrastructure-level failure. No partial
// state was committed; the operation is safe to retry.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction failed in %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}
