package model

import "time"

// Role identifies which side of a chat sent a message. Free-message
// accounting and ordinals are tracked per role within a chat.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleOperator Role = "operator"
)

// Account is a paying user's credit account. Balance is an integer
// credit count and never goes negative; all mutation goes through the
// ledger.
type Account struct {
	ID            string
	Tier          Tier
	Balance       int64
	LifetimeValue int64 // cumulative spend, KES
	CreatedAt     time.Time
}

// Operator is a staff member handling chats. CurrentChats never exceeds
// MaxChats; both counters are mutated only by the assignment engine and
// the capacity-release paths.
type Operator struct {
	ID           string
	DisplayName  string
	Available    bool
	Suspended    bool
	CurrentChats int
	MaxChats     int
	Skills       []string
	Quality      float64 // rolling quality score, 0–5
	LastActivity time.Time
}

// Chat is a metered conversation between an account and an operator
// persona. AssignmentCount is the authoritative reassignment attempt
// counter for the escalation ceiling.
type Chat struct {
	ID                string
	AccountID         string
	ProfileID         string
	ProfileFeatured   bool
	OperatorID        string // empty while unassigned
	Status            ChatStatus
	AssignmentCount   int
	AssignedAt        time.Time
	MessageCount      int
	FreeMessagesUsed  int
	PaidMessagesCount int
	TotalCreditsSpent int64
	LastMessageAt     time.Time
	CreatedAt         time.Time
}

// MessageRecord is an immutable persisted message. CreditsCharged is
// fully determined by the pricing engine at send time.
type MessageRecord struct {
	ID             string
	ChatID         string
	Ordinal        int
	SenderID       string
	SenderRole     Role
	Content        string
	ContentType    string
	CreditsCharged int64
	CreatedAt      time.Time
}

// Escalation is an append-only record of a chat handed off to admin
// review after exhausting reassignment attempts.
type Escalation struct {
	ID         string
	ChatID     string
	OperatorID string // operator holding the chat when it escalated, if any
	Reason     string
	Attempts   int
	CreatedAt  time.Time
	ResolvedAt time.Time // zero until an admin resolves it
}
