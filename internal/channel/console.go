// internal/channel/console.go
package channel

import (
	"context"

	"notification-engine/internal/common/logger"
)

// ConsoleChannel logs messages instead of sending them. Useful for local
// runs and as a dead-simple default.
type ConsoleChannel struct {
	log logger.Logger
}

func NewConsoleChannel(log logger.Logger) *ConsoleChannel {
	return &ConsoleChannel{log: log}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Send(_ context.Context, msg Message) error {
	c.log.Info("notification", map[string]interface{}{
		"recipient": msg.Recipient,
		"subject":   msg.Subject,
		"template":  msg.TemplateName,
	})
	return nil
}
