package channels

import (
	"context"
)

// Channel delivers text to an external messaging address.
type Channel interface {
	// Name returns the unique name of the channel (e.g., "telegram").
	Name() string

	// Notify sends text to chatID. Long texts may be split into several messages.
	Notify(ctx context.Context, chatID, text string) error
}
