package notify

import (
	"context"
	"errors"
	"log/slog"
)

// Router fans a message out to every configured channel. One channel
// failing does not stop the others; all failures are joined.
type Router struct {
	channels []Notifier
	logger   *slog.Logger
}

// NewRouter creates a fan-out router.
func NewRouter(logger *slog.Logger, channels ...Notifier) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{channels: channels, logger: logger}
}

// Len returns the number of channels.
func (r *Router) Len() int { return len(r.channels) }

func (r *Router) Notify(ctx context.Context, recipients []int64, text string) error {
	if len(recipients) == 0 {
		return nil
	}
	var errs []error
	for _, c := range r.channels {
		if err := c.Notify(ctx, recipients, text); err != nil {
			r.logger.Warn("notify: channel failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Router) Close() error {
	var errs []error
	for _, c := range r.channels {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
