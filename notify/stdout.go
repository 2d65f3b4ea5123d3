package notify

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Stdout writes each message as a JSON line. Useful for dry runs.
type Stdout struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStdout creates a Stdout channel. If w is nil, os.Stdout is used.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w)}
}

func (s *Stdout) Notify(_ context.Context, recipients []int64, text string) error {
	if len(recipients) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(Message{Recipients: recipients, Text: text, SentAt: time.Now().UnixMilli()})
}

func (s *Stdout) Close() error { return nil }
