package ports

import "context"

// Notifier delivers a nudge or status message to one recipient. Delivery is
// fire-and-forget from the engine's perspective: failures are logged by the
// caller and never become workflow failures.
type Notifier interface {
	Send(ctx context.Context, recipient string, title string, body string) error
}
