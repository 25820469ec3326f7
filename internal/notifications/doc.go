// Package notifications tells users their persona is ready.
//
// Two transports are available: an ntfy topic (plain text push) and a JSON
// webhook. When neither is configured a no-op notifier is returned and the
// ready transition still completes; only the notifiedAt stamp is missing.
package notifications
