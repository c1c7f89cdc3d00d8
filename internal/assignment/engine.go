package assignment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/velora-app/velora/internal/events"
	"github.com/velora-app/velora/internal/fault"
	"github.com/velora-app/velora/internal/model"
	"github.com/velora-app/velora/internal/store"
)

// errSlotLost marks a capacity race: another assignment claimed the
// operator's last slot between scoring and commit. The engine moves on
// to the next candidate.
var errSlotLost = errors.New("operator slot lost")

// Engine drives the match loop: it ranks queued chats, scores eligible
// operators for the best entry, and atomically commits the winning
// assignment. It is the only code path that increments operator
// capacity.
type Engine struct {
	store     *store.Store
	queue     *Queue
	cfg       model.QueueConfig
	logger    *log.Logger
	logLevel  LogLevel
	eventBus  *events.Bus
	escalator *Escalator
}

// NewEngine creates an assignment engine.
func NewEngine(st *store.Store, queue *Queue, cfg model.QueueConfig, logger *log.Logger, logLevel LogLevel) *Engine {
	return &Engine{
		store:    st,
		queue:    queue,
		cfg:      cfg,
		logger:   logger,
		logLevel: logLevel,
	}
}

// SetEventBus sets the event bus for publishing assignment events.
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// SetEscalator wires the reassignment escalator. Must be called before
// ProcessQueue so exhausted entries can be escalated.
func (e *Engine) SetEscalator(esc *Escalator) {
	e.escalator = esc
}

// SetConfig swaps the queue tunables. Used by config hot reload.
func (e *Engine) SetConfig(cfg model.QueueConfig) {
	e.cfg = cfg
}

// EnqueueRequest describes a chat entering the assignment queue.
type EnqueueRequest struct {
	ChatID              string
	RequiredSkills      []string
	PreferredOperatorID string
	ExcludedOperatorIDs []string
}

// Enqueue adds a chat to the assignment queue, transitioning it to
// queued. Idempotent per chat: a chat that is already queued is not
// duplicated. Tier and lifetime value are resolved from the owning
// account so priority scoring needs no further lookups.
func (e *Engine) Enqueue(ctx context.Context, req EnqueueRequest) error {
	var entry Entry
	err := e.store.WithTx(ctx, func(conn *sqlite.Conn) error {
		chat, err := e.store.GetChat(conn, req.ChatID)
		if err != nil {
			return &fault.TransactionError{Op: "assignment.enqueue", Err: err}
		}
		if chat == nil {
			return &fault.ChatNotFoundError{ChatID: req.ChatID}
		}
		if chat.Status == model.StatusQueued {
			return nil // already queued, entry dedup below
		}
		if model.IsTerminal(chat.Status) {
			return &fault.ChatNotFoundError{ChatID: req.ChatID}
		}

		account, err := e.store.GetAccount(conn, chat.AccountID)
		if err != nil {
			return &fault.TransactionError{Op: "assignment.enqueue", Err: err}
		}
		if account == nil {
			return &fault.UserNotFoundError{UserID: chat.AccountID}
		}

		ok, err := e.store.TransitionChat(conn, chat.ID, chat.Status, model.StatusQueued)
		if err != nil {
			return err
		}
		if !ok {
			return &fault.TransactionError{Op: "assignment.enqueue",
				Err: fmt.Errorf("chat %s changed status concurrently", chat.ID)}
		}

		entry = Entry{
			ChatID:              chat.ID,
			Tier:                account.Tier,
			RequiredSkills:      req.RequiredSkills,
			PreferredOperatorID: req.PreferredOperatorID,
			ExcludedOperatorIDs: req.ExcludedOperatorIDs,
			LifetimeValue:       account.LifetimeValue,
			EnqueuedAt:          time.Now().UTC(),
			Attempts:            chat.AssignmentCount,
		}
		return nil
	})
	if err != nil {
		return err
	}

	if entry.ChatID == "" {
		// Chat was already queued; nothing to add.
		return nil
	}

	e.queue.Enqueue(entry)
	e.log(LogLevelInfo, "chat_queued chat=%s tier=%s attempts=%d",
		entry.ChatID, entry.Tier, entry.Attempts)
	if e.eventBus != nil {
		e.eventBus.Publish(events.EventChatQueued, map[string]interface{}{
			"chat_id": entry.ChatID,
			"tier":    string(entry.Tier),
		})
	}
	return nil
}

// RecoverQueued rebuilds the in-memory queue from chats persisted in
// queued status. Called once on daemon startup; enqueue is idempotent
// so repeated recovery is harmless.
func (e *Engine) RecoverQueued(ctx context.Context) (int, error) {
	chats, err := e.store.ListChatsByStatus(ctx, model.StatusQueued)
	if err != nil {
		return 0, &fault.TransactionError{Op: "assignment.recover", Err: err}
	}

	recovered := 0
	for i := range chats {
		chat := &chats[i]
		account, err := e.store.GetAccountCtx(ctx, chat.AccountID)
		if err != nil || account == nil {
			e.log(LogLevelWarn, "recover_skip chat=%s account=%s error=%v",
				chat.ID, chat.AccountID, err)
			continue
		}
		added := e.queue.Enqueue(Entry{
			ChatID:        chat.ID,
			Tier:          account.Tier,
			LifetimeValue: account.LifetimeValue,
			EnqueuedAt:    time.Now().UTC(),
			Attempts:      chat.AssignmentCount,
			Reassignment:  chat.AssignmentCount > 0,
		})
		if added {
			recovered++
		}
	}
	if recovered > 0 {
		e.log(LogLevelInfo, "queue_recovered entries=%d", recovered)
	}
	return recovered, nil
}

// ProcessResult summarizes one queue processing pass.
type ProcessResult struct {
	Processed int
	Assigned  int
	Escalated int
}

// ProcessQueue pops up to batchSize best-ranked entries and tries to
// assign each. Entries with no eligible operator are requeued with
// their original enqueue time so the wait term keeps raising their
// priority. Entries past the attempt ceiling are escalated. Designed
// to be invoked on a fixed interval or after an operator frees
// capacity.
func (e *Engine) ProcessQueue(ctx context.Context, batchSize int) (ProcessResult, error) {
	if batchSize <= 0 {
		batchSize = e.cfg.BatchSize
	}

	var result ProcessResult

	// Entries that could not be assigned go back only after the loop.
	// Requeuing inline would re-pop the same top-ranked entry and let
	// one unassignable chat consume the whole batch.
	var unassigned []Entry
	defer func() {
		for i := range unassigned {
			e.queue.Enqueue(unassigned[i])
		}
	}()

	for result.Processed < batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		now := time.Now().UTC()
		entry := e.queue.PopBest(now)
		if entry == nil {
			break
		}
		result.Processed++

		// The reassignment ceiling is enforced at trigger time, so an
		// entry at exactly MaxAttempts is still assignable. Entries past
		// the ceiling exist only when the ceiling was lowered underneath
		// them; they escalate here.
		if entry.Attempts > e.cfg.MaxAttempts {
			if err := e.escalator.EscalateQueued(ctx, entry); err != nil {
				e.log(LogLevelError, "escalate_failed chat=%s error=%v", entry.ChatID, err)
				// Leave the entry out of the queue; the escalation is
				// retried on the next reassignment trigger.
				continue
			}
			result.Escalated++
			continue
		}

		assigned, err := e.tryAssign(ctx, entry)
		if err != nil {
			e.log(LogLevelError, "assign_failed chat=%s error=%v", entry.ChatID, err)
		}
		if assigned {
			result.Assigned++
		} else {
			// No eligible operator right now; reconsider next pass.
			unassigned = append(unassigned, *entry)
		}
	}

	e.log(LogLevelDebug, "process_queue processed=%d assigned=%d escalated=%d",
		result.Processed, result.Assigned, result.Escalated)
	return result, nil
}

// tryAssign walks the ranked candidates and commits the first one whose
// capacity can still be claimed.
func (e *Engine) tryAssign(ctx context.Context, entry *Entry) (bool, error) {
	operators, err := e.store.ListCandidateOperators(ctx)
	if err != nil {
		return false, &fault.TransactionError{Op: "assignment.candidates", Err: err}
	}

	candidates := rankCandidates(entry, operators)
	if len(candidates) == 0 {
		return false, nil
	}

	for _, cand := range candidates {
		err := e.commit(ctx, entry, cand.op.ID)
		if err == nil {
			e.log(LogLevelInfo, "chat_assigned chat=%s operator=%s score=%d attempts=%d",
				entry.ChatID, cand.op.ID, cand.score, entry.Attempts)
			if e.eventBus != nil {
				e.eventBus.Publish(events.EventChatAssigned, map[string]interface{}{
					"chat_id":     entry.ChatID,
					"operator_id": cand.op.ID,
					"score":       cand.score,
				})
			}
			return true, nil
		}
		if errors.Is(err, errSlotLost) {
			e.log(LogLevelDebug, "slot_lost chat=%s operator=%s", entry.ChatID, cand.op.ID)
			continue
		}
		return false, err
	}
	return false, nil
}

// commit atomically claims the operator slot and moves the chat to
// active. Bounded by the configured commit timeout so a stuck write
// cannot hold the queue.
func (e *Engine) commit(ctx context.Context, entry *Entry, operatorID string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.CommitTimeoutSec)*time.Second)
	defer cancel()

	err := e.store.WithTx(ctx, func(conn *sqlite.Conn) error {
		ok, err := e.store.TransitionChat(conn, entry.ChatID, model.StatusQueued, model.StatusAssigning)
		if err != nil {
			return &fault.TransactionError{Op: "assignment.commit", Err: err}
		}
		if !ok {
			return &fault.ChatNotFoundError{ChatID: entry.ChatID}
		}

		now := time.Now().UTC()
		claimed, err := e.store.ReserveOperatorSlot(conn, operatorID, now)
		if err != nil {
			return &fault.TransactionError{Op: "assignment.commit", Err: err}
		}
		if !claimed {
			return errSlotLost
		}

		if err := e.store.AssignChat(conn, entry.ChatID, operatorID, now); err != nil {
			return &fault.TransactionError{Op: "assignment.commit", Err: err}
		}
		return nil
	})
	if err != nil && ctx.Err() != nil && !errors.Is(err, errSlotLost) {
		return &fault.TransactionError{Op: "assignment.commit", Err: ctx.Err()}
	}
	return err
}

// Availability is the checkAvailability result.
type Availability struct {
	Available bool
	Reason    string
}

// CheckAvailability reports whether an operator can accept a chat,
// with a reason when not. Suspension wins ties with capacity so a
// suspended operator with free slots still reads as suspended.
func (e *Engine) CheckAvailability(ctx context.Context, operatorID string) (Availability, error) {
	op, err := e.store.GetOperatorCtx(ctx, operatorID)
	if err != nil {
		return Availability{}, &fault.TransactionError{Op: "assignment.availability", Err: err}
	}
	if op == nil {
		return Availability{}, &fault.OperatorNotFoundError{OperatorID: operatorID}
	}

	switch {
	case op.Suspended:
		return Availability{Reason: "suspended"}, nil
	case !op.Available:
		return Availability{Reason: "unavailable"}, nil
	case op.CurrentChats >= op.MaxChats:
		return Availability{Reason: "at_capacity"}, nil
	default:
		return Availability{Available: true}, nil
	}
}

// RequireAvailable is the error-returning form of CheckAvailability
// for paths that treat an unavailable operator as a failure.
func (e *Engine) RequireAvailable(ctx context.Context, operatorID string) error {
	av, err := e.CheckAvailability(ctx, operatorID)
	if err != nil {
		return err
	}
	if !av.Available {
		return &fault.OperatorUnavailableError{OperatorID: operatorID, Reason: av.Reason}
	}
	return nil
}

// CloseChat closes a chat and releases its operator slot. The release
// is the only capacity decrement outside the reassignment path.
func (e *Engine) CloseChat(ctx context.Context, chatID string) error {
	return e.store.WithTx(ctx, func(conn *sqlite.Conn) error {
		chat, err := e.store.GetChat(conn, chatID)
		if err != nil {
			return &fault.TransactionError{Op: "assignment.close", Err: err}
		}
		if chat == nil {
			return &fault.ChatNotFoundError{ChatID: chatID}
		}
		if chat.Status == model.StatusClosed {
			return nil
		}

		ok, err := e.store.TransitionChat(conn, chatID, chat.Status, model.StatusClosed)
		if err != nil {
			return err
		}
		if !ok {
			return &fault.TransactionError{Op: "assignment.close",
				Err: fmt.Errorf("chat %s changed status concurrently", chatID)}
		}

		if chat.OperatorID != "" {
			if err := e.store.ReleaseOperatorSlot(conn, chat.OperatorID); err != nil {
				return &fault.TransactionError{Op: "assignment.close", Err: err}
			}
		}
		return nil
	})
}

// QueueStats returns the dashboard snapshot of the queue.
func (e *Engine) QueueStats() Stats {
	return e.queue.QueueStats(time.Now().UTC())
}

// LogLevel mirrors the daemon's leveled logging.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (e *Engine) log(level LogLevel, format string, args ...any) {
	if level < e.logLevel {
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
	e.logger.Printf("%s %s engine: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
