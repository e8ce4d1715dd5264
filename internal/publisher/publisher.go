// Package publisher announces finished datasets to downstream consumers.
package publisher

import "context"

// Publisher sends one JSON-encoded payload and returns the broker's message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
