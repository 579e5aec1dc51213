package store

import (
	"context"
	"fmt"
	"strings"

	"msgbox/internal/message"
)

// Backend identifies the storage engine selected by a database URL
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"

	// TopSendersLimit is the number of senders reported in stats
	TopSendersLimit = 10
)

// Store persists messages keyed by message ID.
// Both SQLiteStore and PostgresStore implement this interface.
type Store interface {
	// PutIfAbsent inserts msg unless a message with the same ID exists.
	// It reports true only to the caller that created the record.
	PutIfAbsent(ctx context.Context, msg *message.Message) (bool, error)

	// List returns one page of messages ordered by (ts, message_id) and the
	// total number of messages matching the filters.
	List(ctx context.Context, q message.Query) ([]message.Message, int64, error)

	// Stats returns aggregate counts over all messages.
	Stats(ctx context.Context) (*message.Stats, error)

	// Ping checks connectivity and that the messages table exists.
	Ping(ctx context.Context) error

	Close() error
}

// Open opens the store described by databaseURL and bootstraps its schema
func Open(ctx context.Context, databaseURL string) (Store, error) {
	backend, dsn, err := ParseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendPostgres:
		return NewPostgresStore(ctx, dsn)
	default:
		return NewSQLiteStore(ctx, dsn)
	}
}

// ParseURL maps a database URL to a backend and the DSN its driver expects.
//
// Supported forms:
//   - sqlite:///relative/path.db and sqlite:///./relative/path.db
//   - sqlite:////absolute/path.db
//   - postgres://... and postgresql://...
func ParseURL(databaseURL string) (Backend, string, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return BackendPostgres, databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite:////"):
		return BackendSQLite, "/" + strings.TrimPrefix(databaseURL, "sqlite:////"), nil
	case strings.HasPrefix(databaseURL, "sqlite:///"):
		path := strings.TrimPrefix(databaseURL, "sqlite:///")
		if path == "" {
			return "", "", fmt.Errorf("sqlite URL has no database path: %q", databaseURL)
		}
		return BackendSQLite, path, nil
	default:
		return "", "", fmt.Errorf("unsupported database URL %q (examples: sqlite:///./msgbox.db, sqlite:////data/msgbox.db, postgres://user@host/db)", databaseURL)
	}
}

// dialect captures the SQL differences between backends
type dialect struct {
	placeholder func(n int) string
	// contains is a format string taking the column and a placeholder
	contains string
	// collate is appended to text ORDER BY keys to get byte-wise ordering
	collate string
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	contains:    "instr(lower(%s), lower(%s)) > 0",
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	contains:    "strpos(lower(%s), lower(%s)) > 0",
	collate:     ` COLLATE "C"`,
}

// whereClause builds the filter for a listing query
func (d dialect) whereClause(q message.Query) (string, []any) {
	var where []string
	var args []any

	next := func(v any) string {
		args = append(args, v)
		return d.placeholder(len(args))
	}

	if q.From != "" {
		where = append(where, "from_msisdn = "+next(q.From))
	}
	if q.Since != "" {
		where = append(where, "ts >= "+next(q.Since))
	}
	if q.Text != "" {
		where = append(where, "text IS NOT NULL AND "+fmt.Sprintf(d.contains, "text", next(q.Text)))
	}

	if len(where) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

func (d dialect) listQuery(q message.Query) (countSQL, pageSQL string, args []any) {
	where, args := d.whereClause(q)

	countSQL = "SELECT COUNT(*) FROM messages" + where

	limit := d.placeholder(len(args) + 1)
	offset := d.placeholder(len(args) + 2)
	pageSQL = `
		SELECT message_id, from_msisdn, to_msisdn, ts, text
		FROM messages` + where + `
		ORDER BY ts` + d.collate + ` ASC, message_id` + d.collate + ` ASC
		LIMIT ` + limit + ` OFFSET ` + offset

	return countSQL, pageSQL, args
}

func (d dialect) topSendersQuery() string {
	return `
		SELECT from_msisdn, COUNT(*) AS c
		FROM messages
		GROUP BY from_msisdn
		ORDER BY c DESC, from_msisdn` + d.collate + ` ASC
		LIMIT ` + fmt.Sprint(TopSendersLimit)
}

// scanner is an interface that both *sql.Row/*sql.Rows and pgx.Row/pgx.Rows implement
type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(s scanner) (message.Message, error) {
	var msg message.Message
	err := s.Scan(&msg.ID, &msg.From, &msg.To, &msg.Timestamp, &msg.Text)
	return msg, err
}
