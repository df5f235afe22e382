// Package store persists conversations, messages and summaries in a SQL
// database. SQLite, PostgreSQL and MySQL are supported.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/conversation-orchestrator/internal/model"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/logger"
	"github.com/capitalize-ai/conversation-orchestrator/pkg/metrics"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("not found")

// SQLStore implements the orchestrator's ConversationStore on database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *logger.Logger
}

// Open connects to the database, verifies the connection and creates the
// schema if needed.
func Open(ctx context.Context, driver, dsn string, log *logger.Logger) (*SQLStore, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.Global()
	}

	if dialect == DialectSQLite {
		dsn, err = prepareSQLite(dsn)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if dialect == DialectSQLite {
		// A single writer avoids SQLITE_BUSY under concurrent turns.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  log.With(zap.String("component", "store")),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("store initialized", zap.String("driver", string(dialect)))
	return s, nil
}

// prepareSQLite creates the parent directory of a file database and enables
// foreign keys and WAL on every pooled connection.
func prepareSQLite(dsn string) (string, error) {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("creating database directory: %w", err)
		}
	}
	if strings.Contains(dsn, "_pragma=") {
		return dsn, nil
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Dialect returns the SQL flavour in use.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

func (s *SQLStore) q(query string) string {
	return s.dialect.rebind(query)
}

// observe records the latency of op. errp is read when the deferred call
// runs, after the named result has been set.
func observe(op string, start time.Time, errp *error) {
	metrics.RecordStoreOp(op, *errp, time.Since(start).Seconds())
}

// ListConversationIDs returns the user's conversation ids, newest first.
func (s *SQLStore) ListConversationIDs(ctx context.Context, userID string) (ids []string, err error) {
	defer observe("list_conversation_ids", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id FROM conversations WHERE user_id = ? ORDER BY started_at DESC, id DESC`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return ids, nil
}

// CreateConversation inserts a conversation row.
func (s *SQLStore) CreateConversation(ctx context.Context, id, userID string) (err error) {
	defer observe("create_conversation", time.Now(), &err)

	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO conversations (id, user_id, started_at) VALUES (?, ?, ?)`),
		id, userID, time.Now().UTC().UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("creating conversation %s: %w", id, err)
	}
	return nil
}

// GetConversation returns one conversation row.
func (s *SQLStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var (
		c         model.Conversation
		startedAt int64
		title     sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.q(
		`SELECT id, user_id, started_at, title FROM conversations WHERE id = ?`), id,
	).Scan(&c.ID, &c.UserID, &startedAt, &title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting conversation %s: %w", id, err)
	}
	c.StartedAt = time.UnixMicro(startedAt).UTC()
	c.Title = title.String
	return &c, nil
}

// FetchMessages returns a conversation's messages in chronological order.
func (s *SQLStore) FetchMessages(ctx context.Context, conversationID string) (msgs []model.Message, err error) {
	defer observe("fetch_messages", time.Now(), &err)

	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, conversation_id, sender, text, sent_at
		 FROM messages WHERE conversation_id = ? ORDER BY sent_at ASC, id ASC`),
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching messages: %w", err)
	}
	defer rows.Close()

	msgs = []model.Message{}
	for rows.Next() {
		var (
			m      model.Message
			sender string
			text   sql.NullString
			sentAt int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &sender, &text, &sentAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.Sender = model.Sender(sender)
		if text.Valid {
			t := text.String
			m.Text = &t
		}
		m.SentAt = time.UnixMicro(sentAt).UTC()
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}

// InsertMessage persists one message. Placeholders are rejected.
func (s *SQLStore) InsertMessage(ctx context.Context, msg *model.Message) (err error) {
	defer observe("insert_message", time.Now(), &err)

	if msg.IsPlaceholder() {
		return fmt.Errorf("refusing to persist typing placeholder")
	}
	if !msg.Sender.Valid() {
		return fmt.Errorf("invalid sender %q", msg.Sender)
	}

	var text sql.NullString
	if msg.Text != nil {
		text = sql.NullString{String: *msg.Text, Valid: true}
	}
	_, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO messages (id, conversation_id, sender, text, sent_at) VALUES (?, ?, ?, ?, ?)`),
		msg.ID, msg.ConversationID, string(msg.Sender), text, msg.SentAt.UTC().UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// DeleteMessages removes every message of a conversation.
func (s *SQLStore) DeleteMessages(ctx context.Context, conversationID string) (err error) {
	defer observe("delete_messages", time.Now(), &err)

	if _, err = s.db.ExecContext(ctx, s.q(
		`DELETE FROM messages WHERE conversation_id = ?`), conversationID,
	); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	return nil
}

// DeleteConversation removes a conversation row and its summaries. It fails
// while messages still reference the conversation.
func (s *SQLStore) DeleteConversation(ctx context.Context, conversationID string) (err error) {
	defer observe("delete_conversation", time.Now(), &err)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var remaining int
	if err = tx.QueryRowContext(ctx, s.q(
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`), conversationID,
	).Scan(&remaining); err != nil {
		return fmt.Errorf("counting messages: %w", err)
	}
	if remaining > 0 {
		err = fmt.Errorf("conversation %s still has %d messages", conversationID, remaining)
		return err
	}

	if _, err = tx.ExecContext(ctx, s.q(
		`DELETE FROM summaries WHERE conversation_id = ?`), conversationID,
	); err != nil {
		return fmt.Errorf("deleting summaries: %w", err)
	}
	if _, err = tx.ExecContext(ctx, s.q(
		`DELETE FROM conversations WHERE id = ?`), conversationID,
	); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// GetTitle returns the stored title, or "" when none is set.
func (s *SQLStore) GetTitle(ctx context.Context, conversationID string) (title string, err error) {
	defer observe("get_title", time.Now(), &err)

	var t sql.NullString
	err = s.db.QueryRowContext(ctx, s.q(
		`SELECT title FROM conversations WHERE id = ?`), conversationID,
	).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("getting title: %w", err)
	}
	return t.String, nil
}

// SetTitle stores a conversation's title.
func (s *SQLStore) SetTitle(ctx context.Context, conversationID, title string) (err error) {
	defer observe("set_title", time.Now(), &err)

	if _, err = s.db.ExecContext(ctx, s.q(
		`UPDATE conversations SET title = ? WHERE id = ?`), title, conversationID,
	); err != nil {
		return fmt.Errorf("setting title: %w", err)
	}
	return nil
}

// InsertSummary appends a summary for a conversation.
func (s *SQLStore) InsertSummary(ctx context.Context, conversationID, text string) (err error) {
	defer observe("insert_summary", time.Now(), &err)

	if _, err = s.db.ExecContext(ctx, s.q(
		`INSERT INTO summaries (conversation_id, text, created_at) VALUES (?, ?, ?)`),
		conversationID, text, time.Now().UTC().UnixMicro(),
	); err != nil {
		return fmt.Errorf("inserting summary: %w", err)
	}
	return nil
}

// ListSummaries returns a conversation's summaries, oldest first.
func (s *SQLStore) ListSummaries(ctx context.Context, conversationID string) ([]model.Summary, error) {
	rows, err := s.db.QueryContext(ctx, s.q(
		`SELECT id, conversation_id, text, created_at
		 FROM summaries WHERE conversation_id = ? ORDER BY id ASC`),
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing summaries: %w", err)
	}
	defer rows.Close()

	var out []model.Summary
	for rows.Next() {
		var (
			sum       model.Summary
			createdAt int64
		)
		if err := rows.Scan(&sum.ID, &sum.ConversationID, &sum.Text, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		sum.CreatedAt = time.UnixMicro(createdAt).UTC()
		out = append(out, sum)
	}
	return out, rows.Err()
}
