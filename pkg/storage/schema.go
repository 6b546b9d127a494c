package storage

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS polls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		message_ref TEXT UNIQUE,
		channel_id TEXT NOT NULL,
		guild_id TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		options TEXT NOT NULL,
		vote_snapshot TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL,
		expires_at BIGINT,
		active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS votes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		poll_id INTEGER NOT NULL REFERENCES polls (id),
		voter_id TEXT NOT NULL,
		option_index INTEGER NOT NULL,
		voted_at BIGINT NOT NULL,
		UNIQUE (poll_id, voter_id, option_index)
	)`,
	`CREATE TABLE IF NOT EXISTS scheduled_reminders (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		guild_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		poll_id INTEGER NOT NULL REFERENCES polls (id),
		message TEXT NOT NULL DEFAULT '',
		fire_at BIGINT NOT NULL,
		created_by TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at BIGINT NOT NULL,
		sent_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_polls_guild ON polls (guild_id, active)`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_pending ON scheduled_reminders (status, fire_at, id)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS polls (
		id BIGSERIAL PRIMARY KEY,
		message_ref TEXT UNIQUE,
		channel_id TEXT NOT NULL,
		guild_id TEXT NOT NULL,
		creator_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		options TEXT NOT NULL,
		vote_snapshot TEXT NOT NULL DEFAULT '{}',
		created_at BIGINT NOT NULL,
		expires_at BIGINT,
		active INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS votes (
		id BIGSERIAL PRIMARY KEY,
		poll_id BIGINT NOT NULL REFERENCES polls (id),
		voter_id TEXT NOT NULL,
		option_index INTEGER NOT NULL,
		voted_at BIGINT NOT NULL,
		UNIQUE (poll_id, voter_id, option_index)
	)`,
	`CREATE TABLE IF NOT EXISTS scheduled_reminders (
		id BIGSERIAL PRIMARY KEY,
		guild_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		poll_id BIGINT NOT NULL REFERENCES polls (id),
		message TEXT NOT NULL DEFAULT '',
		fire_at BIGINT NOT NULL,
		created_by TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at BIGINT NOT NULL,
		sent_at BIGINT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_polls_guild ON polls (guild_id, active)`,
	`CREATE INDEX IF NOT EXISTS idx_reminders_pending ON scheduled_reminders (status, fire_at, id)`,
}
