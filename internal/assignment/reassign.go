package assignment

import (
	"context"
	"fmt"
	"log"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/velora-app/velora/internal/events"
	"github.com/velora-app/velora/internal/fault"
	"github.com/velora-app/velora/internal/model"
	"github.com/velora-app/velora/internal/notify"
	"github.com/velora-app/velora/internal/store"
)

// Escalator handles operator-idle and admin-initiated reassignment.
// Below the attempt ceiling a chat re-enters the queue with a boosted
// priority floor; at the ceiling it is handed off to admin review and
// leaves automated assignment.
type Escalator struct {
	store    *store.Store
	queue    *Queue
	sink     notify.Sink
	cfg      model.QueueConfig
	logger   *log.Logger
	logLevel LogLevel
	eventBus *events.Bus
	audit    *events.AuditLogger
}

// NewEscalator creates a reassignment escalator.
func NewEscalator(st *store.Store, queue *Queue, sink notify.Sink, cfg model.QueueConfig, logger *log.Logger, logLevel LogLevel) *Escalator {
	return &Escalator{
		store:    st,
		queue:    queue,
		sink:     sink,
		cfg:      cfg,
		logger:   logger,
		logLevel: logLevel,
	}
}

// SetEventBus sets the event bus for reassignment events.
func (esc *Escalator) SetEventBus(bus *events.Bus) {
	esc.eventBus = bus
}

// SetAuditLogger wires the append-only audit trail.
func (esc *Escalator) SetAuditLogger(audit *events.AuditLogger) {
	esc.audit = audit
}

// SetConfig swaps the queue tunables. Used by config hot reload.
func (esc *Escalator) SetConfig(cfg model.QueueConfig) {
	esc.cfg = cfg
}

// ReassignResult reports the outcome of a reassignment trigger.
type ReassignResult struct {
	Reassigned bool
	Escalated  bool
	Attempts   int
}

// Reassign handles an idle or admin-forced reassignment trigger for an
// assigned chat. The chat-level assignment count is the authoritative
// attempt counter: below the ceiling it increments and the chat
// re-enters the queue; at the ceiling the chat escalates. Escalation is
// reported as a result, not an error.
func (esc *Escalator) Reassign(ctx context.Context, chatID, reason string) (ReassignResult, error) {
	var (
		result     ReassignResult
		entry      Entry
		escalation *model.Escalation
	)

	err := esc.store.WithTx(ctx, func(conn *sqlite.Conn) error {
		chat, err := esc.store.GetChat(conn, chatID)
		if err != nil {
			return &fault.TransactionError{Op: "reassign", Err: err}
		}
		if chat == nil || model.IsTerminal(chat.Status) {
			return &fault.ChatNotFoundError{ChatID: chatID}
		}
		if chat.Status != model.StatusActive && chat.Status != model.StatusIdle {
			return &fault.TransactionError{Op: "reassign",
				Err: fmt.Errorf("chat %s not assigned (status %s)", chatID, chat.Status)}
		}

		account, err := esc.store.GetAccount(conn, chat.AccountID)
		if err != nil {
			return &fault.TransactionError{Op: "reassign", Err: err}
		}
		if account == nil {
			return &fault.UserNotFoundError{UserID: chat.AccountID}
		}

		if chat.OperatorID != "" {
			if err := esc.store.ReleaseOperatorSlot(conn, chat.OperatorID); err != nil {
				return &fault.TransactionError{Op: "reassign", Err: err}
			}
		}

		if chat.AssignmentCount >= esc.cfg.MaxAttempts {
			// The ceiling violation is absorbed into an escalated
			// result; the typed error only survives as the recorded
			// escalation reason.
			ceiling := &fault.MaxReassignmentsExceededError{ChatID: chat.ID, Attempts: chat.AssignmentCount}
			escalation, err = esc.escalateLocked(conn, chat, fmt.Sprintf("%s: %v", reason, ceiling))
			if err != nil {
				return err
			}
			result = ReassignResult{Escalated: true, Attempts: chat.AssignmentCount}
			return nil
		}

		attempts, err := esc.store.IncrementAssignmentCount(conn, chat.ID)
		if err != nil {
			return &fault.TransactionError{Op: "reassign", Err: err}
		}
		if err := esc.store.ClearChatOperator(conn, chat.ID); err != nil {
			return &fault.TransactionError{Op: "reassign", Err: err}
		}
		ok, err := esc.store.TransitionChat(conn, chat.ID, chat.Status, model.StatusQueued)
		if err != nil {
			return err
		}
		if !ok {
			return &fault.TransactionError{Op: "reassign",
				Err: fmt.Errorf("chat %s changed status concurrently", chat.ID)}
		}

		entry = Entry{
			ChatID:              chat.ID,
			Tier:                account.Tier,
			ExcludedOperatorIDs: excludePrior(chat.OperatorID),
			LifetimeValue:       account.LifetimeValue,
			EnqueuedAt:          time.Now().UTC(),
			Attempts:            attempts,
			Reassignment:        true,
		}
		result = ReassignResult{Reassigned: true, Attempts: attempts}
		return nil
	})
	if err != nil {
		return ReassignResult{}, err
	}

	if result.Escalated {
		esc.afterEscalation(ctx, escalation)
		return result, nil
	}

	esc.queue.Enqueue(entry)
	esc.log(LogLevelInfo, "chat_reassigned chat=%s reason=%s attempts=%d",
		chatID, reason, result.Attempts)
	if esc.eventBus != nil {
		esc.eventBus.Publish(events.EventChatReassigned, map[string]interface{}{
			"chat_id":  chatID,
			"reason":   reason,
			"attempts": result.Attempts,
		})
	}
	if esc.audit != nil {
		_ = esc.audit.Record("chat_reassigned", map[string]interface{}{
			"chat_id":  chatID,
			"reason":   reason,
			"attempts": result.Attempts,
		})
	}
	return result, nil
}

// EscalateQueued escalates a queued entry that has exhausted its
// attempts without ever being assigned. Called by the engine during
// queue processing.
func (esc *Escalator) EscalateQueued(ctx context.Context, entry *Entry) error {
	var escalation *model.Escalation
	err := esc.store.WithTx(ctx, func(conn *sqlite.Conn) error {
		chat, err := esc.store.GetChat(conn, entry.ChatID)
		if err != nil {
			return &fault.TransactionError{Op: "escalate", Err: err}
		}
		if chat == nil {
			return &fault.ChatNotFoundError{ChatID: entry.ChatID}
		}
		if chat.Status != model.StatusQueued {
			return nil // already moved on
		}
		ceiling := &fault.MaxReassignmentsExceededError{ChatID: chat.ID, Attempts: chat.AssignmentCount}
		escalation, err = esc.escalateLocked(conn, chat, ceiling.Error())
		return err
	})
	if err != nil {
		return err
	}
	esc.afterEscalation(ctx, escalation)
	return nil
}

// escalateLocked performs the in-transaction escalation work: status
// transition plus the append-only escalation record.
func (esc *Escalator) escalateLocked(conn *sqlite.Conn, chat *model.Chat, reason string) (*model.Escalation, error) {
	ok, err := esc.store.TransitionChat(conn, chat.ID, chat.Status, model.StatusEscalated)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &fault.TransactionError{Op: "escalate",
			Err: fmt.Errorf("chat %s changed status concurrently", chat.ID)}
	}
	if err := esc.store.ClearChatOperator(conn, chat.ID); err != nil {
		return nil, &fault.TransactionError{Op: "escalate", Err: err}
	}

	id, err := model.GenerateID(model.IDTypeEscalation)
	if err != nil {
		return nil, err
	}
	escalation := &model.Escalation{
		ID:         id,
		ChatID:     chat.ID,
		OperatorID: chat.OperatorID,
		Reason:     reason,
		Attempts:   chat.AssignmentCount,
		CreatedAt:  time.Now().UTC(),
	}
	if err := esc.store.InsertEscalation(conn, escalation); err != nil {
		return nil, &fault.TransactionError{Op: "escalate", Err: err}
	}
	return escalation, nil
}

// afterEscalation emits the notification and events once the
// escalation transaction has committed.
func (esc *Escalator) afterEscalation(ctx context.Context, escalation *model.Escalation) {
	if escalation == nil {
		return
	}

	esc.log(LogLevelWarn, "chat_escalated chat=%s attempts=%d reason=%s",
		escalation.ChatID, escalation.Attempts, escalation.Reason)

	notification := notify.Notification{
		Type:     "chat_escalated",
		Message:  fmt.Sprintf("chat %s requires admin review: %s", escalation.ChatID, escalation.Reason),
		Priority: "urgent",
		Metadata: map[string]any{
			"chat_id":       escalation.ChatID,
			"escalation_id": escalation.ID,
			"operator_id":   escalation.OperatorID,
			"attempts":      escalation.Attempts,
		},
	}
	if err := esc.sink.Publish(ctx, notification); err != nil {
		esc.log(LogLevelError, "escalation_notify_failed chat=%s error=%v", escalation.ChatID, err)
	}

	if esc.eventBus != nil {
		esc.eventBus.Publish(events.EventChatEscalated, map[string]interface{}{
			"chat_id":       escalation.ChatID,
			"escalation_id": escalation.ID,
			"attempts":      escalation.Attempts,
		})
	}
	if esc.audit != nil {
		_ = esc.audit.Record("chat_escalated", map[string]interface{}{
			"chat_id":       escalation.ChatID,
			"escalation_id": escalation.ID,
			"operator_id":   escalation.OperatorID,
			"reason":        escalation.Reason,
			"attempts":      escalation.Attempts,
		})
	}
}

// ResolveEscalation is the admin hook that returns an escalated chat to
// automated assignment: the escalation record is stamped resolved, the
// attempt counter resets, and the chat re-enters the queue fresh.
func (esc *Escalator) ResolveEscalation(ctx context.Context, escalationID string) error {
	now := time.Now().UTC()

	var entry Entry
	err := esc.store.WithTx(ctx, func(conn *sqlite.Conn) error {
		escalation, err := esc.store.GetEscalation(conn, escalationID)
		if err != nil {
			return &fault.TransactionError{Op: "resolve_escalation", Err: err}
		}
		if escalation == nil {
			return fmt.Errorf("escalation %s not found", escalationID)
		}
		resolved, err := esc.store.MarkEscalationResolved(conn, escalationID, now)
		if err != nil {
			return &fault.TransactionError{Op: "resolve_escalation", Err: err}
		}
		if !resolved {
			return fmt.Errorf("escalation %s already resolved", escalationID)
		}

		chat, err := esc.store.GetChat(conn, escalation.ChatID)
		if err != nil {
			return &fault.TransactionError{Op: "resolve_escalation", Err: err}
		}
		if chat == nil {
			return &fault.ChatNotFoundError{ChatID: escalation.ChatID}
		}
		account, err := esc.store.GetAccount(conn, chat.AccountID)
		if err != nil {
			return &fault.TransactionError{Op: "resolve_escalation", Err: err}
		}
		if account == nil {
			return &fault.UserNotFoundError{UserID: chat.AccountID}
		}

		if err := esc.store.ResetAssignmentCount(conn, chat.ID); err != nil {
			return &fault.TransactionError{Op: "resolve_escalation", Err: err}
		}
		ok, err := esc.store.TransitionChat(conn, chat.ID, model.StatusEscalated, model.StatusQueued)
		if err != nil {
			return err
		}
		if !ok {
			return &fault.TransactionError{Op: "resolve_escalation",
				Err: fmt.Errorf("chat %s no longer escalated", chat.ID)}
		}

		entry = Entry{
			ChatID:        chat.ID,
			Tier:          account.Tier,
			LifetimeValue: account.LifetimeValue,
			EnqueuedAt:    now,
		}
		return nil
	})
	if err != nil {
		return err
	}

	esc.queue.Enqueue(entry)
	esc.log(LogLevelInfo, "escalation_resolved escalation=%s chat=%s", escalationID, entry.ChatID)
	if esc.eventBus != nil {
		esc.eventBus.Publish(events.EventEscalationResolved, map[string]interface{}{
			"escalation_id": escalationID,
			"chat_id":       entry.ChatID,
		})
	}
	return nil
}

func excludePrior(operatorID string) []string {
	if operatorID == "" {
		return nil
	}
	return []string{operatorID}
}

func (esc *Escalator) log(level LogLevel, format string, args ...any) {
	if level < esc.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	esc.logger.Printf("%s %s escalator: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
