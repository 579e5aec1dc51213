package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

var msisdnPattern = regexp.MustCompile(`^\+\d+$`)

// timestampLayouts are tried in order. All require a zone, and callers
// additionally require it to be a literal Z.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04Z07:00",
}

// Violation describes a single offending field
type Violation struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// ValidationError is returned when a payload or query fails validation
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		fields = append(fields, fmt.Sprintf("%s: %s", strings.Join(v.Loc, "."), v.Msg))
	}
	return "validation failed: " + strings.Join(fields, "; ")
}

// Add records a violation for field within loc ("body" or "query")
func (e *ValidationError) Add(loc, field, typ, msg string) {
	e.Violations = append(e.Violations, Violation{Loc: []string{loc, field}, Msg: msg, Type: typ})
}

// Parse decodes a webhook body into a canonical Message.
// All field violations are collected before returning.
func Parse(raw []byte) (*Message, error) {
	// encoding/json would silently replace invalid bytes with U+FFFD
	var fields map[string]json.RawMessage
	if !utf8.Valid(raw) || json.Unmarshal(raw, &fields) != nil || fields == nil {
		return nil, &ValidationError{Violations: []Violation{{
			Loc:  []string{"body"},
			Msg:  "body must be a JSON object",
			Type: "json_invalid",
		}}}
	}

	verr := &ValidationError{}
	msg := &Message{}

	if id, ok := requiredString(verr, fields, "message_id"); ok {
		if id == "" {
			verr.Add("body", "message_id", "string_too_short", "message_id must not be empty")
		}
		msg.ID = id
	}

	for _, f := range []struct {
		name string
		dst  *string
	}{{"from", &msg.From}, {"to", &msg.To}} {
		v, ok := requiredString(verr, fields, f.name)
		if !ok {
			continue
		}
		if !msisdnPattern.MatchString(v) {
			verr.Add("body", f.name, "string_pattern_mismatch", fmt.Sprintf("%s must match %s", f.name, msisdnPattern.String()))
			continue
		}
		*f.dst = v
	}

	if ts, ok := requiredString(verr, fields, "ts"); ok {
		canonical, err := CanonicalTimestamp(ts)
		if err != nil {
			verr.Add("body", "ts", "value_error", err.Error())
		}
		msg.Timestamp = canonical
	}

	if rawText, present := fields["text"]; present && !isNull(rawText) {
		var text string
		if err := json.Unmarshal(rawText, &text); err != nil {
			verr.Add("body", "text", "string_type", "text must be a string")
		} else if utf8.RuneCountInString(text) > MaxTextLength {
			verr.Add("body", "text", "string_too_long", fmt.Sprintf("text must have at most %d characters", MaxTextLength))
		} else {
			msg.Text = &text
		}
	}

	if len(verr.Violations) > 0 {
		return nil, verr
	}
	return msg, nil
}

// CanonicalTimestamp validates an ISO-8601 UTC timestamp with a literal Z suffix
// and returns it truncated to whole seconds.
func CanonicalTimestamp(ts string) (string, error) {
	if !strings.HasSuffix(ts, "Z") {
		return "", fmt.Errorf("ts must be ISO-8601 UTC with Z suffix (e.g. 2025-01-15T10:00:00Z)")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return FormatTimestamp(t), nil
		}
	}
	return "", fmt.Errorf("ts must be a valid ISO-8601 timestamp")
}

// ExtractID makes a best-effort attempt to read message_id from a raw body.
// It never fails; nil means no usable identifier was found.
func ExtractID(raw []byte) *string {
	var probe struct {
		ID json.RawMessage `json:"message_id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || len(probe.ID) == 0 {
		return nil
	}
	var id string
	if err := json.Unmarshal(probe.ID, &id); err != nil {
		return nil
	}
	return &id
}

// NormalizeSender normalizes a sender filter. Clients often send "+123"
// unencoded in a query string, which decodes to " 123". It is applied to
// query filters only; stored senders always match ^\+\d+$ already.
func NormalizeSender(v string) string {
	s := strings.TrimSpace(v)
	if s != "" && !strings.HasPrefix(s, "+") && isDigits(s) {
		return "+" + s
	}
	return s
}

func requiredString(verr *ValidationError, fields map[string]json.RawMessage, name string) (string, bool) {
	raw, present := fields[name]
	if !present || isNull(raw) {
		verr.Add("body", name, "missing", "field required")
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		verr.Add("body", name, "string_type", name+" must be a string")
		return "", false
	}
	return s, true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
