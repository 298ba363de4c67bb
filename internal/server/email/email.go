// Package email defines the outbound mail collaborator. Token delivery is
// the only channel the protocol has for proving mailbox ownership, so every
// credential email goes through this interface.
package email

import "context"

// Mailer sends one plain-text email.
type Mailer interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}
