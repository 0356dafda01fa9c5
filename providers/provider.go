package providers

import "context"

// ChatProvider is the interface the content generator talks to. Implementations
// send a single-turn prompt and return the raw model output.
type ChatProvider interface {
	Name() string
	Complete(ctx context.Context, prompt string) (string, error)
	IsConfigured() bool
}
