package store

// Times are stored as unix seconds; zero means unset. Operator skills
// are a JSON array of tag strings.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id             TEXT PRIMARY KEY,
	tier           TEXT NOT NULL DEFAULT 'basic',
	balance        INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	lifetime_value INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS operators (
	id            TEXT PRIMARY KEY,
	display_name  TEXT NOT NULL DEFAULT '',
	available     INTEGER NOT NULL DEFAULT 0,
	suspended     INTEGER NOT NULL DEFAULT 0,
	current_chats INTEGER NOT NULL DEFAULT 0 CHECK (current_chats >= 0),
	max_chats     INTEGER NOT NULL DEFAULT 5,
	skills        TEXT NOT NULL DEFAULT '[]',
	quality       REAL NOT NULL DEFAULT 0,
	last_activity INTEGER NOT NULL DEFAULT 0,
	CHECK (current_chats <= max_chats)
);

CREATE TABLE IF NOT EXISTS chats (
	id                  TEXT PRIMARY KEY,
	account_id          TEXT NOT NULL,
	profile_id          TEXT NOT NULL DEFAULT '',
	profile_featured    INTEGER NOT NULL DEFAULT 0,
	operator_id         TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'unqueued',
	assignment_count    INTEGER NOT NULL DEFAULT 0,
	assigned_at         INTEGER NOT NULL DEFAULT 0,
	message_count       INTEGER NOT NULL DEFAULT 0,
	free_messages_used  INTEGER NOT NULL DEFAULT 0,
	paid_messages_count INTEGER NOT NULL DEFAULT 0,
	total_credits_spent INTEGER NOT NULL DEFAULT 0,
	last_message_at     INTEGER NOT NULL DEFAULT 0,
	created_at          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chats_status ON chats(status);
CREATE INDEX IF NOT EXISTS idx_chats_operator ON chats(operator_id);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	chat_id         TEXT NOT NULL,
	ordinal         INTEGER NOT NULL,
	sender_id       TEXT NOT NULL,
	sender_role     TEXT NOT NULL,
	content         TEXT NOT NULL,
	content_type    TEXT NOT NULL DEFAULT 'text',
	credits_charged INTEGER NOT NULL DEFAULT 0,
	created_at      INTEGER NOT NULL,
	UNIQUE (chat_id, sender_role, ordinal)
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);

CREATE TABLE IF NOT EXISTS escalations (
	id          TEXT PRIMARY KEY,
	chat_id     TEXT NOT NULL,
	operator_id TEXT NOT NULL DEFAULT '',
	reason      TEXT NOT NULL,
	attempts    INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	resolved_at INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_escalations_chat ON escalations(chat_id);
`
