package ports

import "context"

// Notifier tells a user their persona is ready.
type Notifier interface {
	NotifyReady(ctx context.Context, personaID, contact, displayName string) error
}
