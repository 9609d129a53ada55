// internal/channel/channel.go

// Package channel defines the outbound transport contract. Rendering and
// transport are external collaborators; the engine only hands a channel a
// recipient, a subject and an opaque template reference.
package channel

import "context"

// Message is one recipient-addressed send request.
type Message struct {
	Recipient    string
	Subject      string
	TemplateName string
	Context      map[string]interface{}
}

// Channel delivers a single message to a single recipient.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}
