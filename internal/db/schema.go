package db

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL UNIQUE,
	full_name     TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	profile_pic   TEXT NOT NULL DEFAULT '',
	online        BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen     TIMESTAMPTZ NOT NULL DEFAULT to_timestamp(0),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chats (
	id              TEXT PRIMARY KEY,
	is_group        BOOLEAN NOT NULL DEFAULT FALSE,
	group_name      TEXT NOT NULL DEFAULT '',
	group_admin     TEXT REFERENCES users(id),
	direct_key      TEXT UNIQUE,
	last_message_id TEXT,
	last_message_at TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chat_participants (
	chat_id TEXT NOT NULL REFERENCES chats(id),
	user_id TEXT NOT NULL REFERENCES users(id),
	PRIMARY KEY (chat_id, user_id)
);
CREATE INDEX IF NOT EXISTS chat_participants_user_idx ON chat_participants (user_id);

CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL REFERENCES chats(id),
	sender_id  TEXT NOT NULL REFERENCES users(id),
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_chat_created_idx ON messages (chat_id, created_at);

CREATE TABLE IF NOT EXISTS message_reads (
	message_id TEXT NOT NULL REFERENCES messages(id),
	user_id    TEXT NOT NULL REFERENCES users(id),
	read_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (message_id, user_id)
);
`
