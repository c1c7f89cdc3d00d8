package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/velora-app/velora/internal/model"
)

// Store provides typed access to the persistent records. Conn-level
// methods compose inside a caller-held transaction; context-level
// methods run standalone.
type Store struct {
	pool   *Pool
	logger *log.Logger
}

// Open opens the database and returns a ready store.
func Open(cfg model.StoreConfig, logger *log.Logger) (*Store, error) {
	pool, err := OpenPool(cfg.Path, cfg.PoolSize, logger)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Take borrows a connection from the pool. See Pool.Take.
func (s *Store) Take(ctx context.Context) (*sqlite.Conn, error) {
	return s.pool.Take(ctx)
}

// Put returns a borrowed connection.
func (s *Store) Put(conn *sqlite.Conn) {
	s.pool.Put(conn)
}

// WithTx runs fn inside a single IMMEDIATE transaction on a pooled
// connection. If fn returns an error the transaction rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	err = fn(conn)
	return err
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeFromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// --- accounts ---

// CreateAccount inserts a credit account.
func (s *Store) CreateAccount(ctx context.Context, a *model.Account) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.Execute(conn,
		`INSERT INTO accounts (id, tier, balance, lifetime_value, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{a.ID, string(a.Tier), a.Balance, a.LifetimeValue, unixOrZero(a.CreatedAt)},
		})
}

// GetAccount loads an account on a caller-held connection. Returns
// (nil, nil) when the account does not exist.
func (s *Store) GetAccount(conn *sqlite.Conn, id string) (*model.Account, error) {
	var account *model.Account
	err := sqlitex.Execute(conn,
		`SELECT id, tier, balance, lifetime_value, created_at FROM accounts WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				account = &model.Account{
					ID:            stmt.ColumnText(0),
					Tier:          model.Tier(stmt.ColumnText(1)),
					Balance:       stmt.ColumnInt64(2),
					LifetimeValue: stmt.ColumnInt64(3),
					CreatedAt:     timeFromUnix(stmt.ColumnInt64(4)),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get account %s: %w", id, err)
	}
	return account, nil
}

// GetAccountCtx is the standalone form of GetAccount.
func (s *Store) GetAccountCtx(ctx context.Context, id string) (*model.Account, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return s.GetAccount(conn, id)
}

// AddLifetimeValue accumulates spend into an account's lifetime value.
func (s *Store) AddLifetimeValue(conn *sqlite.Conn, id string, amount int64) error {
	err := sqlitex.Execute(conn,
		`UPDATE accounts SET lifetime_value = lifetime_value + ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{amount, id}})
	if err != nil {
		return fmt.Errorf("store: add lifetime value %s: %w", id, err)
	}
	return nil
}

// --- operators ---

// CreateOperator inserts an operator row.
func (s *Store) CreateOperator(ctx context.Context, op *model.Operator) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	skills, err := json.Marshal(op.Skills)
	if err != nil {
		return fmt.Errorf("store: marshal skills: %w", err)
	}
	return sqlitex.Execute(conn,
		`INSERT INTO operators
		 (id, display_name, available, suspended, current_chats, max_chats, skills, quality, last_activity)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				op.ID, op.DisplayName, boolToInt(op.Available), boolToInt(op.Suspended),
				op.CurrentChats, op.MaxChats, string(skills), op.Quality,
				unixOrZero(op.LastActivity),
			},
		})
}

func scanOperator(stmt *sqlite.Stmt) (*model.Operator, error) {
	var skills []string
	if raw := stmt.ColumnText(6); raw != "" {
		if err := json.Unmarshal([]byte(raw), &skills); err != nil {
			return nil, fmt.Errorf("store: parse skills: %w", err)
		}
	}
	return &model.Operator{
		ID:           stmt.ColumnText(0),
		DisplayName:  stmt.ColumnText(1),
		Available:    stmt.ColumnInt(2) != 0,
		Suspended:    stmt.ColumnInt(3) != 0,
		CurrentChats: stmt.ColumnInt(4),
		MaxChats:     stmt.ColumnInt(5),
		Skills:       skills,
		Quality:      stmt.ColumnFloat(7),
		LastActivity: timeFromUnix(stmt.ColumnInt64(8)),
	}, nil
}

const operatorColumns = `id, display_name, available, suspended, current_chats, max_chats, skills, quality, last_activity`

// GetOperator loads an operator. Returns (nil, nil) when absent.
func (s *Store) GetOperator(conn *sqlite.Conn, id string) (*model.Operator, error) {
	var op *model.Operator
	err := sqlitex.Execute(conn,
		`SELECT `+operatorColumns+` FROM operators WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				parsed, err := scanOperator(stmt)
				if err != nil {
					return err
				}
				op = parsed
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get operator %s: %w", id, err)
	}
	return op, nil
}

// GetOperatorCtx is the standalone form of GetOperator.
func (s *Store) GetOperatorCtx(ctx context.Context, id string) (*model.Operator, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return s.GetOperator(conn, id)
}

// ListCandidateOperators returns operators passing the SQL-expressible
// hard filters: available, not suspended, below max capacity. Per-entry
// exclusions are applied by the match scorer.
func (s *Store) ListCandidateOperators(ctx context.Context) ([]model.Operator, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var operators []model.Operator
	err = sqlitex.Execute(conn,
		`SELECT `+operatorColumns+` FROM operators
		 WHERE available = 1 AND suspended = 0 AND current_chats < max_chats
		 ORDER BY id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				op, err := scanOperator(stmt)
				if err != nil {
					return err
				}
				operators = append(operators, *op)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list candidate operators: %w", err)
	}
	return operators, nil
}

// ReserveOperatorSlot atomically claims one unit of operator capacity.
// The conditional UPDATE is the serialization point: it succeeds only
// while the operator is available, unsuspended, and under max capacity.
// Returns false when the slot could not be claimed.
func (s *Store) ReserveOperatorSlot(conn *sqlite.Conn, operatorID string, at time.Time) (bool, error) {
	err := sqlitex.Execute(conn,
		`UPDATE operators
		 SET current_chats = current_chats + 1, last_activity = ?
		 WHERE id = ? AND available = 1 AND suspended = 0 AND current_chats < max_chats`,
		&sqlitex.ExecOptions{Args: []any{at.Unix(), operatorID}})
	if err != nil {
		return false, fmt.Errorf("store: reserve operator slot %s: %w", operatorID, err)
	}
	return conn.Changes() == 1, nil
}

// ReleaseOperatorSlot returns one unit of capacity. Releasing at zero
// is a no-op rather than an error so double-release cannot corrupt the
// counter.
func (s *Store) ReleaseOperatorSlot(conn *sqlite.Conn, operatorID string) error {
	err := sqlitex.Execute(conn,
		`UPDATE operators SET current_chats = current_chats - 1
		 WHERE id = ? AND current_chats > 0`,
		&sqlitex.ExecOptions{Args: []any{operatorID}})
	if err != nil {
		return fmt.Errorf("store: release operator slot %s: %w", operatorID, err)
	}
	return nil
}

// SetOperatorAvailability flips the availability flag. An operator with
// live chats cannot go unavailable; returns false in that case.
func (s *Store) SetOperatorAvailability(ctx context.Context, operatorID string, available bool) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	query := `UPDATE operators SET available = ? WHERE id = ?`
	if !available {
		query += ` AND current_chats = 0`
	}
	err = sqlitex.Execute(conn, query,
		&sqlitex.ExecOptions{Args: []any{boolToInt(available), operatorID}})
	if err != nil {
		return false, fmt.Errorf("store: set operator availability %s: %w", operatorID, err)
	}
	return conn.Changes() == 1, nil
}

// TouchOperatorActivity bumps last_activity.
func (s *Store) TouchOperatorActivity(conn *sqlite.Conn, operatorID string, at time.Time) error {
	err := sqlitex.Execute(conn,
		`UPDATE operators SET last_activity = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{at.Unix(), operatorID}})
	if err != nil {
		return fmt.Errorf("store: touch operator %s: %w", operatorID, err)
	}
	return nil
}

// --- chats ---

// CreateChat inserts a chat row.
func (s *Store) CreateChat(ctx context.Context, c *model.Chat) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if c.Status == "" {
		c.Status = model.StatusUnqueued
	}
	return sqlitex.Execute(conn,
		`INSERT INTO chats
		 (id, account_id, profile_id, profile_featured, operator_id, status,
		  assignment_count, assigned_at, message_count, free_messages_used,
		  paid_messages_count, total_credits_spent, last_message_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				c.ID, c.AccountID, c.ProfileID, boolToInt(c.ProfileFeatured),
				c.OperatorID, string(c.Status), c.AssignmentCount,
				unixOrZero(c.AssignedAt), c.MessageCount, c.FreeMessagesUsed,
				c.PaidMessagesCount, c.TotalCreditsSpent,
				unixOrZero(c.LastMessageAt), unixOrZero(c.CreatedAt),
			},
		})
}

const chatColumns = `id, account_id, profile_id, profile_featured, operator_id, status,
	assignment_count, assigned_at, message_count, free_messages_used,
	paid_messages_count, total_credits_spent, last_message_at, created_at`

func scanChat(stmt *sqlite.Stmt) *model.Chat {
	return &model.Chat{
		ID:                stmt.ColumnText(0),
		AccountID:         stmt.ColumnText(1),
		ProfileID:         stmt.ColumnText(2),
		ProfileFeatured:   stmt.ColumnInt(3) != 0,
		OperatorID:        stmt.ColumnText(4),
		Status:            model.ChatStatus(stmt.ColumnText(5)),
		AssignmentCount:   stmt.ColumnInt(6),
		AssignedAt:        timeFromUnix(stmt.ColumnInt64(7)),
		MessageCount:      stmt.ColumnInt(8),
		FreeMessagesUsed:  stmt.ColumnInt(9),
		PaidMessagesCount: stmt.ColumnInt(10),
		TotalCreditsSpent: stmt.ColumnInt64(11),
		LastMessageAt:     timeFromUnix(stmt.ColumnInt64(12)),
		CreatedAt:         timeFromUnix(stmt.ColumnInt64(13)),
	}
}

// GetChat loads a chat. Returns (nil, nil) when absent.
func (s *Store) GetChat(conn *sqlite.Conn, id string) (*model.Chat, error) {
	var chat *model.Chat
	err := sqlitex.Execute(conn,
		`SELECT `+chatColumns+` FROM chats WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				chat = scanChat(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get chat %s: %w", id, err)
	}
	return chat, nil
}

// GetChatCtx is the standalone form of GetChat.
func (s *Store) GetChatCtx(ctx context.Context, id string) (*model.Chat, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)
	return s.GetChat(conn, id)
}

// ListChatsByStatus returns chats in the given status, oldest activity
// first. Used by the idle sweep.
func (s *Store) ListChatsByStatus(ctx context.Context, status model.ChatStatus) ([]model.Chat, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var chats []model.Chat
	err = sqlitex.Execute(conn,
		`SELECT `+chatColumns+` FROM chats WHERE status = ? ORDER BY last_message_at`,
		&sqlitex.ExecOptions{
			Args: []any{string(status)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				chats = append(chats, *scanChat(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list chats by status %s: %w", status, err)
	}
	return chats, nil
}

// TransitionChat moves a chat from one status to another, conditional
// on the current status so racing writers cannot double-apply an edge.
// Returns false when the chat was not in `from`.
func (s *Store) TransitionChat(conn *sqlite.Conn, chatID string, from, to model.ChatStatus) (bool, error) {
	if err := model.ValidateChatTransition(from, to); err != nil {
		return false, err
	}
	err := sqlitex.Execute(conn,
		`UPDATE chats SET status = ? WHERE id = ? AND status = ?`,
		&sqlitex.ExecOptions{Args: []any{string(to), chatID, string(from)}})
	if err != nil {
		return false, fmt.Errorf("store: transition chat %s: %w", chatID, err)
	}
	return conn.Changes() == 1, nil
}

// MarkChatIdle demotes an active chat to idle. A chat that already
// left active is left alone; the idle sweep races message sends and
// assignment commits.
func (s *Store) MarkChatIdle(ctx context.Context, chatID string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	_, err = s.TransitionChat(conn, chatID, model.StatusActive, model.StatusIdle)
	return err
}

// AssignChat records a committed assignment on the chat row.
func (s *Store) AssignChat(conn *sqlite.Conn, chatID, operatorID string, at time.Time) error {
	err := sqlitex.Execute(conn,
		`UPDATE chats SET operator_id = ?, status = ?, assigned_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{operatorID, string(model.StatusActive), at.Unix(), chatID}})
	if err != nil {
		return fmt.Errorf("store: assign chat %s: %w", chatID, err)
	}
	return nil
}

// ClearChatOperator detaches the operator during reassignment.
func (s *Store) ClearChatOperator(conn *sqlite.Conn, chatID string) error {
	err := sqlitex.Execute(conn,
		`UPDATE chats SET operator_id = '' WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{chatID}})
	if err != nil {
		return fmt.Errorf("store: clear chat operator %s: %w", chatID, err)
	}
	return nil
}

// IncrementAssignmentCount bumps the authoritative attempt counter and
// returns the new value.
func (s *Store) IncrementAssignmentCount(conn *sqlite.Conn, chatID string) (int, error) {
	err := sqlitex.Execute(conn,
		`UPDATE chats SET assignment_count = assignment_count + 1 WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{chatID}})
	if err != nil {
		return 0, fmt.Errorf("store: increment assignment count %s: %w", chatID, err)
	}

	count := 0
	err = sqlitex.Execute(conn,
		`SELECT assignment_count FROM chats WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{chatID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: read assignment count %s: %w", chatID, err)
	}
	return count, nil
}

// ResetAssignmentCount zeroes the attempt counter when an admin
// resolution starts a fresh assignment workflow.
func (s *Store) ResetAssignmentCount(conn *sqlite.Conn, chatID string) error {
	err := sqlitex.Execute(conn,
		`UPDATE chats SET assignment_count = 0 WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{chatID}})
	if err != nil {
		return fmt.Errorf("store: reset assignment count %s: %w", chatID, err)
	}
	return nil
}

// ApplySendCounters updates the chat counters consistently with a
// persisted message: message_count, the free/paid split, credit spend,
// and last_message_at.
func (s *Store) ApplySendCounters(conn *sqlite.Conn, chatID string, cost int64, at time.Time) error {
	free, paid := 0, 0
	if cost > 0 {
		paid = 1
	} else {
		free = 1
	}
	err := sqlitex.Execute(conn,
		`UPDATE chats SET
			message_count = message_count + 1,
			free_messages_used = free_messages_used + ?,
			paid_messages_count = paid_messages_count + ?,
			total_credits_spent = total_credits_spent + ?,
			last_message_at = ?
		 WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{free, paid, cost, at.Unix(), chatID}})
	if err != nil {
		return fmt.Errorf("store: apply send counters %s: %w", chatID, err)
	}
	return nil
}

// --- messages ---

// CountRoleMessages returns the number of messages already sent by the
// given role in a chat. The next ordinal is this plus one.
func (s *Store) CountRoleMessages(conn *sqlite.Conn, chatID string, role model.Role) (int, error) {
	count := 0
	err := sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM messages WHERE chat_id = ? AND sender_role = ?`,
		&sqlitex.ExecOptions{
			Args: []any{chatID, string(role)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: count role messages %s: %w", chatID, err)
	}
	return count, nil
}

// InsertMessage persists a message record. The UNIQUE constraint on
// (chat_id, sender_role, ordinal) backs the ordinal invariant.
func (s *Store) InsertMessage(conn *sqlite.Conn, m *model.MessageRecord) error {
	err := sqlitex.Execute(conn,
		`INSERT INTO messages
		 (id, chat_id, ordinal, sender_id, sender_role, content, content_type, credits_charged, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				m.ID, m.ChatID, m.Ordinal, m.SenderID, string(m.SenderRole),
				m.Content, m.ContentType, m.CreditsCharged, unixOrZero(m.CreatedAt),
			},
		})
	if err != nil {
		return fmt.Errorf("store: insert message %s: %w", m.ID, err)
	}
	return nil
}

// GetMessage loads a message by ID. Returns (nil, nil) when absent.
func (s *Store) GetMessage(ctx context.Context, id string) (*model.MessageRecord, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var msg *model.MessageRecord
	err = sqlitex.Execute(conn,
		`SELECT id, chat_id, ordinal, sender_id, sender_role, content, content_type, credits_charged, created_at
		 FROM messages WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				msg = &model.MessageRecord{
					ID:             stmt.ColumnText(0),
					ChatID:         stmt.ColumnText(1),
					Ordinal:        stmt.ColumnInt(2),
					SenderID:       stmt.ColumnText(3),
					SenderRole:     model.Role(stmt.ColumnText(4)),
					Content:        stmt.ColumnText(5),
					ContentType:    stmt.ColumnText(6),
					CreditsCharged: stmt.ColumnInt64(7),
					CreatedAt:      timeFromUnix(stmt.ColumnInt64(8)),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get message %s: %w", id, err)
	}
	return msg, nil
}

// CountChatMessages returns the total persisted messages for a chat.
func (s *Store) CountChatMessages(ctx context.Context, chatID string) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	count := 0
	err = sqlitex.Execute(conn,
		`SELECT COUNT(*) FROM messages WHERE chat_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{chatID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("store: count chat messages %s: %w", chatID, err)
	}
	return count, nil
}

// --- escalations ---

// InsertEscalation appends an escalation record.
func (s *Store) InsertEscalation(conn *sqlite.Conn, e *model.Escalation) error {
	err := sqlitex.Execute(conn,
		`INSERT INTO escalations (id, chat_id, operator_id, reason, attempts, created_at, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				e.ID, e.ChatID, e.OperatorID, e.Reason, e.Attempts,
				unixOrZero(e.CreatedAt), unixOrZero(e.ResolvedAt),
			},
		})
	if err != nil {
		return fmt.Errorf("store: insert escalation %s: %w", e.ID, err)
	}
	return nil
}

// GetEscalation loads an escalation record on a caller-held
// connection. Returns (nil, nil) when absent.
func (s *Store) GetEscalation(conn *sqlite.Conn, id string) (*model.Escalation, error) {
	var escalation *model.Escalation
	err := sqlitex.Execute(conn,
		`SELECT id, chat_id, operator_id, reason, attempts, created_at, resolved_at
		 FROM escalations WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				escalation = &model.Escalation{
					ID:         stmt.ColumnText(0),
					ChatID:     stmt.ColumnText(1),
					OperatorID: stmt.ColumnText(2),
					Reason:     stmt.ColumnText(3),
					Attempts:   stmt.ColumnInt(4),
					CreatedAt:  timeFromUnix(stmt.ColumnInt64(5)),
					ResolvedAt: timeFromUnix(stmt.ColumnInt64(6)),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: get escalation %s: %w", id, err)
	}
	return escalation, nil
}

// MarkEscalationResolved stamps an escalation as handled by an admin.
// Returns false when the escalation is unknown or already resolved.
func (s *Store) MarkEscalationResolved(conn *sqlite.Conn, id string, at time.Time) (bool, error) {
	err := sqlitex.Execute(conn,
		`UPDATE escalations SET resolved_at = ? WHERE id = ? AND resolved_at = 0`,
		&sqlitex.ExecOptions{Args: []any{at.Unix(), id}})
	if err != nil {
		return false, fmt.Errorf("store: resolve escalation %s: %w", id, err)
	}
	return conn.Changes() == 1, nil
}

// ListOpenEscalations returns unresolved escalations, oldest first.
func (s *Store) ListOpenEscalations(ctx context.Context) ([]model.Escalation, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var escalations []model.Escalation
	err = sqlitex.Execute(conn,
		`SELECT id, chat_id, operator_id, reason, attempts, created_at, resolved_at
		 FROM escalations WHERE resolved_at = 0 ORDER BY created_at`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				escalations = append(escalations, model.Escalation{
					ID:         stmt.ColumnText(0),
					ChatID:     stmt.ColumnText(1),
					OperatorID: stmt.ColumnText(2),
					Reason:     stmt.ColumnText(3),
					Attempts:   stmt.ColumnInt(4),
					CreatedAt:  timeFromUnix(stmt.ColumnInt64(5)),
					ResolvedAt: timeFromUnix(stmt.ColumnInt64(6)),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("store: list open escalations: %w", err)
	}
	return escalations, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
