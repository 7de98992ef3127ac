// Package history keeps a local index of the messages the bot has observed.
// The Bot API cannot list past messages, so cleanup pages through this index
// instead of the chat itself.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aatumaykin/sweepbot/internal/chat"
	"github.com/aatumaykin/sweepbot/internal/logger"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	chat_id     INTEGER NOT NULL,
	message_id  INTEGER NOT NULL,
	sent_at     INTEGER NOT NULL,
	attachments TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (chat_id, message_id)
);
`

// Index is a SQLite-backed message index.
type Index struct {
	db        *sql.DB
	logger    *logger.Logger
	closeOnce sync.Once
}

// Open opens or creates the index at path.
func Open(path string, log *logger.Logger) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("index path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Index{db: db, logger: log.Component("history")}, nil
}

// Close closes the database.
func (i *Index) Close() error {
	var err error
	i.closeOnce.Do(func() {
		err = i.db.Close()
	})
	return err
}

// Record stores or replaces a message.
func (i *Index) Record(ctx context.Context, msg chat.Message) error {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []chat.Attachment{}
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("failed to encode attachments: %w", err)
	}

	_, err = i.db.ExecContext(ctx, `
		INSERT INTO messages (chat_id, message_id, sent_at, attachments)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (chat_id, message_id) DO UPDATE SET
			sent_at = excluded.sent_at,
			attachments = excluded.attachments`,
		msg.ChannelID, msg.ID, msg.Timestamp.Unix(), string(data))
	if err != nil {
		return fmt.Errorf("failed to record message %d: %w", msg.ID, err)
	}
	return nil
}

// Before returns up to limit messages of chatID, newest first. When before is
// positive only messages with a smaller id are returned.
func (i *Index) Before(ctx context.Context, chatID, before int64, limit int) ([]chat.Message, error) {
	query := `SELECT message_id, sent_at, attachments FROM messages WHERE chat_id = ?`
	args := []any{chatID}
	if before > 0 {
		query += ` AND message_id < ?`
		args = append(args, before)
	}
	query += ` ORDER BY message_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var result []chat.Message
	for rows.Next() {
		var (
			id          int64
			sentAt      int64
			attachments string
		)
		if err := rows.Scan(&id, &sentAt, &attachments); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg := chat.Message{
			ID:        id,
			ChannelID: chatID,
			Timestamp: time.Unix(sentAt, 0).UTC(),
		}
		if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
			i.logger.Warn("corrupt attachment list",
				logger.Field{Key: "chat_id", Value: chatID},
				logger.Field{Key: "message_id", Value: id})
		}
		result = append(result, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return result, nil
}

// Delete removes messages from the index.
func (i *Index) Delete(ctx context.Context, chatID int64, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, chatID)
	for _, id := range ids {
		args = append(args, id)
	}

	_, err := i.db.ExecContext(ctx,
		`DELETE FROM messages WHERE chat_id = ? AND message_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

// Forget removes every indexed message of chatID.
func (i *Index) Forget(ctx context.Context, chatID int64) (int64, error) {
	res, err := i.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID)
	if err != nil {
		return 0, fmt.Errorf("failed to forget chat: %w", err)
	}
	return res.RowsAffected()
}

// Prune removes the messages of every chat not listed in keep.
func (i *Index) Prune(ctx context.Context, keep []int64) (int64, error) {
	query := `DELETE FROM messages`
	args := make([]any, 0, len(keep))
	if len(keep) > 0 {
		query += ` WHERE chat_id NOT IN (` + strings.TrimSuffix(strings.Repeat("?,", len(keep)), ",") + `)`
		for _, id := range keep {
			args = append(args, id)
		}
	}
	res, err := i.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to prune index: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of indexed messages of chatID.
func (i *Index) Count(ctx context.Context, chatID int64) (int, error) {
	var n int
	if err := i.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_id = ?`, chatID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
