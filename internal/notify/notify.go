package notify

import (
	"context"

	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/notification"
	"github.com/frahmantamala/vpn-billing/internal/core/datamodel/user"
)

// Sender delivers one message to Telegram. The bot runtime implements it;
// tests substitute a recorder.
type Sender interface {
	Send(ctx context.Context, msg notification.Message) error
}

// UserDirectory resolves display data for outbound messages.
type UserDirectory interface {
	Get(userID int64) (*user.User, error)
}

// Config are the delivery toggles and the operator log chat.
type Config struct {
	NotifyUsers bool
	LogPayments bool
	LogChatID   int64
	LogThreadID int
}
