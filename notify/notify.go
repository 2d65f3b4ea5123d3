// Package notify delivers text messages to subscribers.
//
// Recipients are numeric chat ids. Every Notifier attempts every recipient
// even when some fail; per-recipient failures are returned as *SendError
// values joined with errors.Join.
package notify

import "context"

// Notifier delivers one message to a set of recipients.
type Notifier interface {
	Notify(ctx context.Context, recipients []int64, text string) error
	Close() error
}

// Message is the JSON form used by the webhook and stdout channels.
type Message struct {
	Recipients []int64 `json:"recipients"`
	Text       string  `json:"text"`
	SentAt     int64   `json:"sent_at"`
}
