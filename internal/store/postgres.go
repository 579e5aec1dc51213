package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"msgbox/internal/message"
)

// PostgresStore manages messages in PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PostgresStore{pool: pool}

	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			from_msisdn TEXT NOT NULL,
			to_msisdn TEXT NOT NULL,
			ts TEXT NOT NULL,
			text TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts COLLATE "C", message_id COLLATE "C")`,
		`CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_msisdn)`,
	} {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

// PutIfAbsent inserts the message, relying on the primary key to detect duplicates
func (s *PostgresStore) PutIfAbsent(ctx context.Context, msg *message.Message) (bool, error) {
	createdAt := msg.CreatedAt
	if createdAt == "" {
		createdAt = message.FormatTimestamp(time.Now())
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO messages (message_id, from_msisdn, to_msisdn, ts, text, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (message_id) DO NOTHING
	`, msg.ID, msg.From, msg.To, msg.Timestamp, msg.Text, createdAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert message: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// List returns a filtered page of messages and the matching total
func (s *PostgresStore) List(ctx context.Context, q message.Query) ([]message.Message, int64, error) {
	countSQL, pageSQL, args := postgresDialect.listQuery(q)

	var total int64
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	rows, err := s.pool.Query(ctx, pageSQL, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []message.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating rows: %w", err)
	}

	return messages, total, nil
}

// Stats returns aggregate counts over all messages
func (s *PostgresStore) Stats(ctx context.Context) (*message.Stats, error) {
	stats := &message.Stats{MessagesPerSender: []message.SenderCount{}}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT from_msisdn), MIN(ts COLLATE "C"), MAX(ts COLLATE "C")
		FROM messages
	`).Scan(&stats.TotalMessages, &stats.SendersCount, &stats.FirstMessageTS, &stats.LastMessageTS)
	if err != nil {
		return nil, fmt.Errorf("failed to query totals: %w", err)
	}

	rows, err := s.pool.Query(ctx, postgresDialect.topSendersQuery())
	if err != nil {
		return nil, fmt.Errorf("failed to query top senders: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sc message.SenderCount
		if err := rows.Scan(&sc.From, &sc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan sender count: %w", err)
		}
		stats.MessagesPerSender = append(stats.MessagesPerSender, sc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return stats, nil
}

// Ping checks the connection and that the messages table exists
func (s *PostgresStore) Ping(ctx context.Context) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT to_regclass('messages') IS NOT NULL`).Scan(&exists); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	if !exists {
		return fmt.Errorf("messages table does not exist")
	}
	return nil
}

func firstLine(stmt string) string {
	for i, c := range stmt {
		if c == '\n' {
			return stmt[:i]
		}
	}
	return stmt
}
