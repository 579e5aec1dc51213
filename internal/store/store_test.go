package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"msgbox/internal/message"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testStores returns every backend available in this environment.
// PostgreSQL is only exercised when MSGBOX_TEST_POSTGRES_URL is set.
func testStores(t *testing.T) map[string]Store {
	t.Helper()

	stores := map[string]Store{"sqlite": newTestSQLiteStore(t)}

	if url := os.Getenv("MSGBOX_TEST_POSTGRES_URL"); url != "" {
		pg, err := NewPostgresStore(context.Background(), url)
		if err != nil {
			t.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		if _, err := pg.pool.Exec(context.Background(), `TRUNCATE messages`); err != nil {
			t.Fatalf("Failed to truncate messages: %v", err)
		}
		t.Cleanup(func() { pg.Close() })
		stores["postgres"] = pg
	}

	return stores
}

func newMessage(id, from, ts string, text *string) *message.Message {
	return &message.Message{
		ID:        id,
		From:      from,
		To:        "+200",
		Timestamp: ts,
		Text:      text,
		CreatedAt: "2025-01-20T00:00:00Z",
	}
}

func textPtr(s string) *string {
	return &s
}

func seed(t *testing.T, s Store, msgs ...*message.Message) {
	t.Helper()
	for _, m := range msgs {
		if _, err := s.PutIfAbsent(context.Background(), m); err != nil {
			t.Fatalf("Failed to insert %s: %v", m.ID, err)
		}
	}
}

func TestStore_PutIfAbsent(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			created, err := s.PutIfAbsent(ctx, newMessage("m1", "+100", "2025-01-15T10:00:00Z", textPtr("first")))
			if err != nil {
				t.Fatalf("Failed to insert message: %v", err)
			}
			if !created {
				t.Error("Expected first insert to create the record")
			}

			// Redelivery with different content is a duplicate and keeps the first values
			created, err = s.PutIfAbsent(ctx, newMessage("m1", "+999", "2030-01-01T00:00:00Z", textPtr("second")))
			if err != nil {
				t.Fatalf("Failed to insert duplicate: %v", err)
			}
			if created {
				t.Error("Expected second insert to be reported as duplicate")
			}

			msgs, total, err := s.List(ctx, message.Query{Limit: 10})
			if err != nil {
				t.Fatalf("Failed to list messages: %v", err)
			}
			if total != 1 || len(msgs) != 1 {
				t.Fatalf("Expected exactly 1 stored message, got total=%d len=%d", total, len(msgs))
			}
			if msgs[0].From != "+100" || msgs[0].Text == nil || *msgs[0].Text != "first" {
				t.Errorf("Expected first-seen values to be kept, got %+v", msgs[0])
			}
		})
	}
}

func TestStore_PutIfAbsent_Concurrent(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			const workers = 20
			var createdCount, duplicateCount atomic.Int32
			var wg sync.WaitGroup
			start := make(chan struct{})

			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					msg := newMessage("race", "+100", "2025-01-15T10:00:00Z", textPtr(fmt.Sprintf("attempt %d", i)))
					created, err := s.PutIfAbsent(context.Background(), msg)
					if err != nil {
						t.Errorf("Insert %d failed: %v", i, err)
						return
					}
					if created {
						createdCount.Add(1)
					} else {
						duplicateCount.Add(1)
					}
				}(i)
			}

			close(start)
			wg.Wait()

			if createdCount.Load() != 1 {
				t.Errorf("Expected exactly 1 created, got %d", createdCount.Load())
			}
			if duplicateCount.Load() != workers-1 {
				t.Errorf("Expected %d duplicates, got %d", workers-1, duplicateCount.Load())
			}

			_, total, err := s.List(context.Background(), message.Query{Limit: 10})
			if err != nil {
				t.Fatalf("Failed to list messages: %v", err)
			}
			if total != 1 {
				t.Errorf("Expected 1 stored record, got %d", total)
			}
		})
	}
}

func TestStore_NullTextRoundTrip(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			seed(t, s, newMessage("m1", "+100", "2025-01-15T10:00:00Z", nil))

			msgs, _, err := s.List(context.Background(), message.Query{Limit: 10})
			if err != nil {
				t.Fatalf("Failed to list messages: %v", err)
			}
			if len(msgs) != 1 {
				t.Fatalf("Expected 1 message, got %d", len(msgs))
			}
			if msgs[0].Text != nil {
				t.Errorf("Expected nil text, got %q", *msgs[0].Text)
			}
		})
	}
}

func TestStore_List(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			// Inserted out of order to check sorting
			seed(t, s,
				newMessage("m3", "+300", "2025-01-15T11:00:00Z", textPtr("Other")),
				newMessage("m1", "+100", "2025-01-15T09:00:00Z", textPtr("Earlier")),
				newMessage("m2", "+100", "2025-01-15T10:00:00Z", textPtr("Hello")),
				newMessage("m0", "+100", "2025-01-15T10:00:00Z", nil),
			)

			tests := []struct {
				name    string
				query   message.Query
				wantIDs []string
				total   int64
			}{
				{"first page", message.Query{Limit: 2}, []string{"m1", "m0"}, 4},
				{"second page", message.Query{Limit: 2, Offset: 2}, []string{"m2", "m3"}, 4},
				{"offset past end", message.Query{Limit: 2, Offset: 10}, []string{}, 4},
				{"from filter", message.Query{Limit: 10, From: "+100"}, []string{"m1", "m0", "m2"}, 3},
				{"since inclusive", message.Query{Limit: 10, Since: "2025-01-15T10:00:00Z"}, []string{"m0", "m2", "m3"}, 3},
				{"text case-insensitive", message.Query{Limit: 10, Text: "hELLo"}, []string{"m2"}, 1},
				{"text substring", message.Query{Limit: 10, Text: "er"}, []string{"m1", "m3"}, 2},
				{"combined", message.Query{Limit: 10, From: "+100", Since: "2025-01-15T10:00:00Z", Text: "l"}, []string{"m2"}, 1},
				{"no match", message.Query{Limit: 10, From: "+555"}, []string{}, 0},
			}

			for _, tc := range tests {
				t.Run(tc.name, func(t *testing.T) {
					msgs, total, err := s.List(context.Background(), tc.query)
					if err != nil {
						t.Fatalf("Failed to list: %v", err)
					}
					if total != tc.total {
						t.Errorf("Expected total %d, got %d", tc.total, total)
					}
					if len(msgs) != len(tc.wantIDs) {
						t.Fatalf("Expected %d messages, got %d", len(tc.wantIDs), len(msgs))
					}
					for i, id := range tc.wantIDs {
						if msgs[i].ID != id {
							t.Errorf("Position %d: expected %s, got %s", i, id, msgs[i].ID)
						}
					}
				})
			}
		})
	}
}

func TestStore_Stats(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			empty, err := s.Stats(ctx)
			if err != nil {
				t.Fatalf("Failed to get stats: %v", err)
			}
			if empty.TotalMessages != 0 || empty.FirstMessageTS != nil || empty.LastMessageTS != nil {
				t.Errorf("Expected empty stats, got %+v", empty)
			}
			if empty.MessagesPerSender == nil {
				t.Error("Expected non-nil messages_per_sender slice")
			}

			seed(t, s,
				newMessage("m1", "+111", "2025-01-10T09:00:00Z", textPtr("A")),
				newMessage("m2", "+111", "2025-01-11T09:00:00Z", textPtr("B")),
				newMessage("m3", "+222", "2025-01-15T10:00:00Z", textPtr("C")),
				newMessage("m4", "+000", "2025-01-12T10:00:00Z", textPtr("D")),
			)

			stats, err := s.Stats(ctx)
			if err != nil {
				t.Fatalf("Failed to get stats: %v", err)
			}

			if stats.TotalMessages != 4 {
				t.Errorf("Expected 4 messages, got %d", stats.TotalMessages)
			}
			if stats.SendersCount != 3 {
				t.Errorf("Expected 3 senders, got %d", stats.SendersCount)
			}
			if stats.FirstMessageTS == nil || *stats.FirstMessageTS != "2025-01-10T09:00:00Z" {
				t.Errorf("Unexpected first_message_ts %v", stats.FirstMessageTS)
			}
			if stats.LastMessageTS == nil || *stats.LastMessageTS != "2025-01-15T10:00:00Z" {
				t.Errorf("Unexpected last_message_ts %v", stats.LastMessageTS)
			}

			// Ties on count are broken by sender ascending
			want := []message.SenderCount{{From: "+111", Count: 2}, {From: "+000", Count: 1}, {From: "+222", Count: 1}}
			if len(stats.MessagesPerSender) != len(want) {
				t.Fatalf("Expected %d senders, got %v", len(want), stats.MessagesPerSender)
			}
			for i := range want {
				if stats.MessagesPerSender[i] != want[i] {
					t.Errorf("Position %d: expected %+v, got %+v", i, want[i], stats.MessagesPerSender[i])
				}
			}
		})
	}
}

func TestStore_StatsTopTenOnly(t *testing.T) {
	s := newTestSQLiteStore(t)
	for i := 0; i < 12; i++ {
		seed(t, s, newMessage(fmt.Sprintf("m%d", i), fmt.Sprintf("+%d", 100+i), "2025-01-15T10:00:00Z", nil))
	}

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if len(stats.MessagesPerSender) != TopSendersLimit {
		t.Errorf("Expected %d senders, got %d", TopSendersLimit, len(stats.MessagesPerSender))
	}
	if stats.SendersCount != 12 {
		t.Errorf("Expected senders_count 12, got %d", stats.SendersCount)
	}
}

func TestStore_Ping(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Ping(context.Background()); err != nil {
				t.Errorf("Expected ping to succeed, got %v", err)
			}
		})
	}
}

func TestSQLiteStore_PingAfterClose(t *testing.T) {
	s := newTestSQLiteStore(t)
	s.Close()

	if err := s.Ping(context.Background()); err == nil {
		t.Error("Expected ping on closed store to fail")
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	seed(t, s, newMessage("m1", "+100", "2025-01-15T10:00:00Z", nil))
	s.Close()

	s, err = NewSQLiteStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer s.Close()

	created, err := s.PutIfAbsent(ctx, newMessage("m1", "+100", "2025-01-15T10:00:00Z", nil))
	if err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}
	if created {
		t.Error("Expected message from previous session to be a duplicate")
	}
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		url     string
		backend Backend
		dsn     string
		wantErr bool
	}{
		{"sqlite:///./data/app.db", BackendSQLite, "./data/app.db", false},
		{"sqlite:///app.db", BackendSQLite, "app.db", false},
		{"sqlite:////data/app.db", BackendSQLite, "/data/app.db", false},
		{"postgres://user:pw@localhost:5432/msgbox", BackendPostgres, "postgres://user:pw@localhost:5432/msgbox", false},
		{"postgresql://localhost/msgbox", BackendPostgres, "postgresql://localhost/msgbox", false},
		{"sqlite:///", "", "", true},
		{"mysql://localhost/db", "", "", true},
		{"./app.db", "", "", true},
		{"", "", "", true},
	}

	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			backend, dsn, err := ParseURL(tc.url)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseURL() error = %v, wantErr %v", err, tc.wantErr)
			}
			if backend != tc.backend || dsn != tc.dsn {
				t.Errorf("ParseURL() = (%q, %q), want (%q, %q)", backend, dsn, tc.backend, tc.dsn)
			}
		})
	}
}

func TestDialect_WhereClause(t *testing.T) {
	where, args := postgresDialect.whereClause(message.Query{From: "+1", Since: "2025-01-15T10:00:00Z", Text: "hi"})

	want := " WHERE from_msisdn = $1 AND ts >= $2 AND text IS NOT NULL AND strpos(lower(text), lower($3)) > 0"
	if where != want {
		t.Errorf("Unexpected where clause:\n got: %s\nwant: %s", where, want)
	}
	if len(args) != 3 {
		t.Errorf("Expected 3 args, got %d", len(args))
	}

	where, args = sqliteDialect.whereClause(message.Query{})
	if where != "" || len(args) != 0 {
		t.Errorf("Expected empty clause, got %q %v", where, args)
	}
}
