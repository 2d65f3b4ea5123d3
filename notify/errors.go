package notify

import "fmt"

// SendError reports a delivery failure on one channel. Recipient is 0 for
// channels that deliver to all recipients at once.
type SendError struct {
	Channel   string
	Recipient int64
	Cause     error
}

func (e *SendError) Error() string {
	if e.Recipient != 0 {
		return fmt.Sprintf("notify: send failed on %s to %d: %v", e.Channel, e.Recipient, e.Cause)
	}
	return fmt.Sprintf("notify: send failed on %s: %v", e.Channel, e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }
