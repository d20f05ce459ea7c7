// Package pagination implements keyset cursors for listings ordered by
// timestamp, newest first, with a string key as tie-breaker.
package pagination

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"
)

// Cursor marks the last item of a page.
type Cursor struct {
	Key string
	At  time.Time
}

var ErrInvalidCursor = errors.New("invalid cursor format")

// Encode returns the opaque, URL-safe form of c.
func (c Cursor) Encode() string {
	if c.Key == "" {
		return ""
	}
	raw := c.At.UTC().Format(time.RFC3339Nano) + "|" + c.Key
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a cursor produced by Encode. An empty string yields nil.
func Decode(cursor string) (*Cursor, error) {
	if cursor == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	// Keys may contain "|", timestamps never do.
	at, key, ok := strings.Cut(string(decoded), "|")
	if !ok || key == "" {
		return nil, ErrInvalidCursor
	}

	timestamp, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, ErrInvalidCursor
	}

	return &Cursor{Key: key, At: timestamp}, nil
}

// Next returns the cursor for the page after items, or "" when items is
// shorter than limit and therefore the last page.
func Next[T any](items []T, limit int, key func(T) string, at func(T) time.Time) string {
	if len(items) == 0 || len(items) < limit {
		return ""
	}
	last := items[len(items)-1]
	return Cursor{Key: key(last), At: at(last)}.Encode()
}
