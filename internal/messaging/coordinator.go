// Package messaging implements the metered send pipeline. A send
// resolves the chat and sender, prices the message, deducts credits,
// persists the record, and updates chat counters as one atomic unit:
// either every step commits or none does.
package messaging

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/velora-app/velora/internal/events"
	"github.com/velora-app/velora/internal/fault"
	"github.com/velora-app/velora/internal/ledger"
	"github.com/velora-app/velora/internal/lock"
	"github.com/velora-app/velora/internal/model"
	"github.com/velora-app/velora/internal/pricing"
	"github.com/velora-app/velora/internal/store"
)

const defaultContentType = "text"

// insertFunc persists one message record on a transaction connection.
type insertFunc func(conn *sqlite.Conn, m *model.MessageRecord) error

// Coordinator runs message transactions. Sends within one chat are
// serialized by a per-chat mutex so ordinal allocation never races;
// sends across chats proceed concurrently.
type Coordinator struct {
	store    *store.Store
	ledger   *ledger.Ledger
	locks    *lock.MutexMap
	logger   *log.Logger
	timeout  time.Duration
	eventBus *events.Bus
	audit    *events.AuditLogger
	insert   insertFunc

	mu     sync.RWMutex
	pricer *pricing.Engine
}

// NewCoordinator creates a message transaction coordinator.
func NewCoordinator(st *store.Store, led *ledger.Ledger, pricer *pricing.Engine, timeout time.Duration, logger *log.Logger) *Coordinator {
	c := &Coordinator{
		store:   st,
		ledger:  led,
		pricer:  pricer,
		locks:   lock.NewMutexMap(),
		logger:  logger,
		timeout: timeout,
	}
	c.insert = st.InsertMessage
	return c
}

// SetEventBus sets the event bus for billing events.
func (c *Coordinator) SetEventBus(bus *events.Bus) {
	c.eventBus = bus
}

// SetAuditLogger sets the audit trail sink.
func (c *Coordinator) SetAuditLogger(audit *events.AuditLogger) {
	c.audit = audit
}

// SetPricer swaps the pricing engine. Used by config hot reload; sends
// in flight keep the engine they started with.
func (c *Coordinator) SetPricer(pricer *pricing.Engine) {
	c.mu.Lock()
	c.pricer = pricer
	c.mu.Unlock()
}

// SetInsertFunc overrides message persistence. Tests use it to inject
// storage failures mid-transaction.
func (c *Coordinator) SetInsertFunc(fn insertFunc) {
	c.insert = fn
}

func (c *Coordinator) currentPricer() *pricing.Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pricer
}

// SendRequest describes one message send.
type SendRequest struct {
	ChatID      string
	SenderID    string
	Content     string
	ContentType string
}

// SendResult reports a committed send.
type SendResult struct {
	Message    *model.MessageRecord
	Cost       int64
	NewBalance int64 // post-deduction balance; unchanged balance for free sends
	Free       bool
}

// Send runs the full message transaction: resolve chat and sender,
// allocate the per-role ordinal, price, deduct, persist, and update
// counters. All mutation happens inside one IMMEDIATE transaction; any
// failure leaves the balance, the message table, and the chat counters
// exactly as they were.
func (c *Coordinator) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, fmt.Errorf("messaging: empty content for chat %s", req.ChatID)
	}
	contentType := req.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	pricer := c.currentPricer()
	now := time.Now().UTC()
	var result *SendResult

	err := c.locks.WithLock(req.ChatID, func() error {
		return c.store.WithTx(ctx, func(conn *sqlite.Conn) error {
			chat, err := c.store.GetChat(conn, req.ChatID)
			if err != nil {
				return &fault.TransactionError{Op: "messaging.send", Err: err}
			}
			if chat == nil || !model.CanReceiveMessages(chat.Status) {
				return &fault.ChatNotFoundError{ChatID: req.ChatID}
			}

			role, err := resolveSender(chat, req.SenderID)
			if err != nil {
				return err
			}

			sent, err := c.store.CountRoleMessages(conn, chat.ID, role)
			if err != nil {
				return &fault.TransactionError{Op: "messaging.send", Err: err}
			}
			ordinal := sent + 1

			var cost, newBalance int64
			if role == model.RoleCustomer {
				account, err := c.store.GetAccount(conn, chat.AccountID)
				if err != nil {
					return &fault.TransactionError{Op: "messaging.send", Err: err}
				}
				if account == nil {
					return &fault.UserNotFoundError{UserID: chat.AccountID}
				}
				cost = pricer.Cost(ordinal, account.Tier, chat.ProfileFeatured, now)
				if cost > 0 {
					newBalance, err = c.ledger.DeductConn(conn, account.ID, cost)
					if err != nil {
						return err
					}
				} else {
					newBalance = account.Balance
				}
			}

			msgID, err := model.GenerateID(model.IDTypeMessage)
			if err != nil {
				return &fault.TransactionError{Op: "messaging.send", Err: err}
			}
			msg := &model.MessageRecord{
				ID:             msgID,
				ChatID:         chat.ID,
				Ordinal:        ordinal,
				SenderID:       req.SenderID,
				SenderRole:     role,
				Content:        req.Content,
				ContentType:    contentType,
				CreditsCharged: cost,
				CreatedAt:      now,
			}
			if err := c.insert(conn, msg); err != nil {
				return &fault.TransactionError{Op: "messaging.send", Err: err}
			}

			if err := c.store.ApplySendCounters(conn, chat.ID, cost, now); err != nil {
				return &fault.TransactionError{Op: "messaging.send", Err: err}
			}
			if cost > 0 {
				if err := c.store.AddLifetimeValue(conn, chat.AccountID, cost); err != nil {
					return &fault.TransactionError{Op: "messaging.send", Err: err}
				}
			}
			if role == model.RoleOperator && chat.OperatorID != "" {
				if err := c.store.TouchOperatorActivity(conn, chat.OperatorID, now); err != nil {
					return &fault.TransactionError{Op: "messaging.send", Err: err}
				}
			}

			result = &SendResult{
				Message:    msg,
				Cost:       cost,
				NewBalance: newBalance,
				Free:       cost == 0,
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	c.logger.Printf("%s INFO messaging: sent chat=%s message=%s role=%s ordinal=%d cost=%d",
		now.Format(time.RFC3339), req.ChatID, result.Message.ID,
		result.Message.SenderRole, result.Message.Ordinal, result.Cost)

	if c.eventBus != nil {
		c.eventBus.Publish(events.EventMessageBilled, map[string]interface{}{
			"chat_id":    req.ChatID,
			"message_id": result.Message.ID,
			"ordinal":    result.Message.Ordinal,
			"role":       string(result.Message.SenderRole),
			"cost":       result.Cost,
			"free":       result.Free,
		})
	}
	if c.audit != nil && result.Cost > 0 {
		c.audit.Record(string(events.EventMessageBilled), map[string]interface{}{
			"chat_id":    req.ChatID,
			"message_id": result.Message.ID,
			"cost":       result.Cost,
		})
	}
	return result, nil
}

// Preview returns the cost the chat owner would pay for their next
// message, without mutating anything. The ordinal used is the one the
// next customer send would receive.
func (c *Coordinator) Preview(ctx context.Context, chatID string) (int64, error) {
	pricer := c.currentPricer()

	conn, err := c.store.Take(ctx)
	if err != nil {
		return 0, &fault.TransactionError{Op: "messaging.preview", Err: err}
	}
	defer c.store.Put(conn)

	chat, err := c.store.GetChat(conn, chatID)
	if err != nil {
		return 0, &fault.TransactionError{Op: "messaging.preview", Err: err}
	}
	if chat == nil {
		return 0, &fault.ChatNotFoundError{ChatID: chatID}
	}
	account, err := c.store.GetAccount(conn, chat.AccountID)
	if err != nil {
		return 0, &fault.TransactionError{Op: "messaging.preview", Err: err}
	}
	if account == nil {
		return 0, &fault.UserNotFoundError{UserID: chat.AccountID}
	}
	sent, err := c.store.CountRoleMessages(conn, chat.ID, model.RoleCustomer)
	if err != nil {
		return 0, &fault.TransactionError{Op: "messaging.preview", Err: err}
	}

	return pricer.Preview(sent+1, account.Tier, chat.ProfileFeatured, time.Time{}), nil
}

// resolveSender maps a sender ID onto a chat participant role. Only the
// chat's account owner and its currently assigned operator may send.
func resolveSender(chat *model.Chat, senderID string) (model.Role, error) {
	switch {
	case senderID == chat.AccountID:
		return model.RoleCustomer, nil
	case chat.OperatorID != "" && senderID == chat.OperatorID:
		return model.RoleOperator, nil
	default:
		return "", &fault.UserNotFoundError{UserID: senderID}
	}
}
