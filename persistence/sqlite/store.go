// Package sqlite is the durable message backend. It implements
// memory.Persistence over a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/promptmem/promptmem/memory"
)

// Store persists session messages in SQLite.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore wraps an open database handle. The schema is managed separately by
// the migrations package.
func NewStore(db *sql.DB, logger zerolog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("db handle is required")
	}
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "sqliteStore").Logger(),
	}, nil
}

// Open opens (creating if needed) a SQLite database at path.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	return db, nil
}

// SaveMessages upserts messages into a session, keyed by (session_id, id) so
// a re-save overwrites instead of duplicating.
func (s *Store) SaveMessages(ctx context.Context, sessionID string, messages []memory.Message) error {
	if len(messages) == 0 {
		return nil
	}
	query := sq.Insert("messages").
		Columns("session_id", "id", "role", "content", "metadata", "created_at")
	for _, msg := range messages {
		var metadata interface{}
		if len(msg.Metadata) > 0 {
			b, err := json.Marshal(msg.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for message %s: %w", msg.ID, err)
			}
			metadata = string(b)
		}
		ts := msg.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		query = query.Values(sessionID, msg.ID, string(msg.Role), msg.Content, metadata, ts.UnixNano())
	}

	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	// SQLite requires "OR REPLACE" after "INSERT" for an upsert on the
	// (session_id, id) unique index.
	queryStr = strings.Replace(queryStr, "INSERT INTO", "INSERT OR REPLACE INTO", 1)

	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("save %d messages: %w", len(messages), err)
	}
	return nil
}

// LoadMessages returns the session history in insertion order, oldest first.
func (s *Store) LoadMessages(ctx context.Context, sessionID string) ([]memory.Message, error) {
	query := sq.Select("id", "role", "content", "metadata", "created_at").
		From("messages").
		Where(sq.Eq{"session_id": sessionID}).
		OrderBy("seq ASC")

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var messages []memory.Message
	for rows.Next() {
		var (
			msg      memory.Message
			role     string
			metadata sql.NullString
			created  int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &metadata, &created); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		msg.Role = memory.Role(role)
		msg.Timestamp = time.Unix(0, created)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
				s.logger.Warn().Err(err).Str("messageID", msg.ID).Msg("Dropping unreadable message metadata")
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

// DeleteMessages removes the named messages from a session.
func (s *Store) DeleteMessages(ctx context.Context, sessionID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := sq.Delete("messages").
		Where(sq.Eq{"session_id": sessionID, "id": ids})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("delete %d messages: %w", len(ids), err)
	}
	return nil
}

// Clear removes every message in a session.
func (s *Store) Clear(ctx context.Context, sessionID string) error {
	query := sq.Delete("messages").Where(sq.Eq{"session_id": sessionID})
	queryStr, args, err := query.ToSql()
	if err != nil {
		return fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return fmt.Errorf("clear session %s: %w", sessionID, err)
	}
	return nil
}

// PruneBefore deletes messages older than cutoff across all sessions and
// returns their ids so callers can clean up derived state such as vectors.
func (s *Store) PruneBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	selectQ := sq.Select("id").
		From("messages").
		Where(sq.Lt{"created_at": cutoff.UnixNano()})
	queryStr, args, err := selectQ.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("select expired messages: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired message id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired message ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	deleteQ := sq.Delete("messages").Where(sq.Lt{"created_at": cutoff.UnixNano()})
	queryStr, args, err = deleteQ.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryStr, args...); err != nil {
		return nil, fmt.Errorf("delete expired messages: %w", err)
	}

	s.logger.Info().Int("pruned", len(ids)).Time("cutoff", cutoff).Msg("Pruned expired messages")
	return lo.Uniq(ids), nil
}
