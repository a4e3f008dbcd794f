package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Mailer delivers a rendered message over email and/or SMS.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer writes messages to the log instead of sending them. It is used
// when no delivery provider is configured.
type LogMailer struct{}

func (LogMailer) Send(ctx context.Context, msg Message) error {
	zerolog.Ctx(ctx).Info().
		Str("order_number", msg.OrderNumber).
		Str("email", msg.Email).
		Str("phone", msg.Phone).
		Str("subject", msg.Subject).
		Msg("customer notification")
	return nil
}
