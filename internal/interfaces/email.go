package interfaces

import (
	"context"
	"time"
)

// EmailService polls the removal mailbox for a broker's confirmation
// message and extracts the confirmation link. Polling is bounded by
// retries and interval; exhaustion surfaces as a timeout error.
type EmailService interface {
	GetConfirmationLink(ctx context.Context, address string, retries int, interval time.Duration) (string, error)
}
