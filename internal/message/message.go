package message

import "time"

const (
	// MaxTextLength is the maximum number of characters allowed in a message text
	MaxTextLength = 4096

	// TimestampLayout is the canonical UTC layout used for storage and comparison
	TimestampLayout = "2006-01-02T15:04:05Z"
)

// Message represents a single ingested webhook message
type Message struct {
	ID        string  `json:"message_id"`
	From      string  `json:"from"`
	To        string  `json:"to"`
	Timestamp string  `json:"ts"`
	Text      *string `json:"text"` // nullable
	CreatedAt string  `json:"-"`
}

// Query holds the filters and pagination for listing messages
type Query struct {
	Limit  int
	Offset int
	From   string // exact sender match, empty for no filter
	Since  string // canonical timestamp lower bound (inclusive), empty for no filter
	Text   string // case-insensitive substring, empty for no filter
}

// SenderCount is the number of messages sent by one sender
type SenderCount struct {
	From  string `json:"from"`
	Count int64  `json:"count"`
}

// Stats is the aggregate view over all stored messages
type Stats struct {
	TotalMessages     int64         `json:"total_messages"`
	SendersCount      int64         `json:"senders_count"`
	MessagesPerSender []SenderCount `json:"messages_per_sender"`
	FirstMessageTS    *string       `json:"first_message_ts"`
	LastMessageTS     *string       `json:"last_message_ts"`
}

// FormatTimestamp renders t in the canonical layout, dropping sub-second precision
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimestampLayout)
}
