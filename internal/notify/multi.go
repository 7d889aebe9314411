package notify

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Multi fans a notification out to several channels. A failing channel does
// not stop delivery to the others.
type Multi struct {
	channels []Notifier
	logger   zerolog.Logger
}

// NewMulti wires the configured channels into one notifier.
func NewMulti(logger zerolog.Logger, channels ...Notifier) *Multi {
	return &Multi{
		channels: channels,
		logger:   logger.With().Str("component", "notify_multi").Logger(),
	}
}

// Notify delivers to every channel and joins the failures.
func (m *Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, ch := range m.channels {
		if err := ch.Notify(ctx, note); err != nil {
			m.logger.Error().Err(err).Str("symbol", note.Symbol).Msg("channel delivery failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Notifier = (*Multi)(nil)
