// Package hook defines the filter/process contract shared by all hooks and
// the Gerrit-aware base most hooks build on.
package hook

import "context"

// Message is a single broker delivery: the original broker topic plus the
// raw payload. Messages are ephemeral and consumed once.
type Message struct {
	Topic    string
	Payload  []byte
	Metadata map[string]string
}

// Hook is a filter+process unit bound to one category of inbound event.
// Filter decides applicability without side effects; Process performs the
// work and is only called when Filter passed.
type Hook interface {
	Name() string
	Filter(msg Message) bool
	Process(ctx context.Context, msg Message) error
}

// Invoke runs a hook against a message: Process if Filter passes, nothing
// otherwise.
func Invoke(ctx context.Context, h Hook, msg Message) error {
	if !h.Filter(msg) {
		return nil
	}
	return h.Process(ctx, msg)
}
