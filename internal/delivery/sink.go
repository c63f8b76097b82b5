package delivery

import "context"

// Handle identifies a delivered message and carries its current text
type Handle struct {
	ID   string
	Text string
}

// Sink is the chat surface a Chunker writes to
type Sink interface {
	// SendNew posts a new message
	SendNew(ctx context.Context, text string) (Handle, error)

	// AppendToLast replaces the text of the message behind h with text,
	// which extends the previous text, and returns the updated handle
	AppendToLast(ctx context.Context, h Handle, text string) (Handle, error)
}
