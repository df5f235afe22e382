package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect identifies the SQL flavour behind a SQLStore.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// ParseDialect maps a DB_DRIVER value to a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// driverName is the database/sql driver registered for the dialect.
func (d Dialect) driverName() string {
	return string(d)
}

// rebind rewrites ? placeholders to $N for postgres.
func (d Dialect) rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// schema returns the statements that create the tables for the dialect.
// Timestamps are stored as unix microseconds so ordering is identical on
// every backend.
func (d Dialect) schema() []string {
	switch d {
	case DialectPostgres:
		return []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id         TEXT PRIMARY KEY,
				user_id    TEXT NOT NULL,
				started_at BIGINT NOT NULL,
				title      TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, started_at)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id              TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL REFERENCES conversations(id),
				sender          TEXT NOT NULL,
				text            TEXT,
				sent_at         BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sent_at)`,
			`CREATE TABLE IF NOT EXISTS summaries (
				id              SERIAL PRIMARY KEY,
				conversation_id TEXT NOT NULL REFERENCES conversations(id),
				text            TEXT NOT NULL,
				created_at      BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_summaries_conversation ON summaries(conversation_id)`,
		}
	case DialectMySQL:
		return []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id         VARCHAR(191) NOT NULL PRIMARY KEY,
				user_id    VARCHAR(191) NOT NULL,
				started_at BIGINT NOT NULL,
				title      TEXT NULL,
				INDEX idx_conversations_user (user_id, started_at)
			)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id              VARCHAR(64) NOT NULL PRIMARY KEY,
				conversation_id VARCHAR(191) NOT NULL,
				sender          VARCHAR(16) NOT NULL,
				text            LONGTEXT NULL,
				sent_at         BIGINT NOT NULL,
				INDEX idx_messages_conversation (conversation_id, sent_at),
				FOREIGN KEY (conversation_id) REFERENCES conversations(id)
			)`,
			`CREATE TABLE IF NOT EXISTS summaries (
				id              BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
				conversation_id VARCHAR(191) NOT NULL,
				text            LONGTEXT NOT NULL,
				created_at      BIGINT NOT NULL,
				INDEX idx_summaries_conversation (conversation_id),
				FOREIGN KEY (conversation_id) REFERENCES conversations(id)
			)`,
		}
	default:
		return []string{
			`CREATE TABLE IF NOT EXISTS conversations (
				id         TEXT PRIMARY KEY,
				user_id    TEXT NOT NULL,
				started_at INTEGER NOT NULL,
				title      TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, started_at)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id              TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				sender          TEXT NOT NULL,
				text            TEXT,
				sent_at         INTEGER NOT NULL,
				FOREIGN KEY (conversation_id) REFERENCES conversations(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, sent_at)`,
			`CREATE TABLE IF NOT EXISTS summaries (
				id              INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation_id TEXT NOT NULL,
				text            TEXT NOT NULL,
				created_at      INTEGER NOT NULL,
				FOREIGN KEY (conversation_id) REFERENCES conversations(id)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_summaries_conversation ON summaries(conversation_id)`,
		}
	}
}
