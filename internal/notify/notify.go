// Package notify defines the notification collaborator consumed by the sync
// engine. Actual delivery (platform notifications, badge rendering) lives
// outside this engine.
package notify

import (
	"github.com/inboxd/inboxd/internal/model"
	"go.uber.org/zap"
)

// Notifier is signaled for inbound messages the user is not looking at.
type Notifier interface {
	NotifyIncomingMessage(msg model.Message, contactName, chatID string)
	SetBadgeCount(n int)
}

// LogNotifier is the default Notifier: it only logs. The embedding app
// shell replaces it with a platform implementation.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a logging notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyIncomingMessage(msg model.Message, contactName, chatID string) {
	n.logger.Info("incoming message notification",
		zap.String("chat_id", chatID),
		zap.String("contact", contactName),
		zap.String("type", msg.Type),
	)
}

func (n *LogNotifier) SetBadgeCount(count int) {
	n.logger.Debug("badge count updated", zap.Int("count", count))
}
