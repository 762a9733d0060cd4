package notification

import "context"

// Messenger pushes one message to a set of device tokens. Implemented by
// the Firebase client.
type Messenger interface {
	SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}
