package notification

import (
	"errors"
)

type Kind string

const (
	KindUserReceipt  Kind = "USER_RECEIPT"
	KindUserFailure  Kind = "USER_FAILURE"
	KindAdminLog     Kind = "ADMIN_LOG"
)

// Message is one outbound Telegram send. ThreadID is only meaningful for
// forum-style log chats and is ignored by Telegram otherwise.
type Message struct {
	Kind     Kind   `json:"kind"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	Text     string `json:"text"`
}

func (m *Message) Validate() error {
	if m.Kind == "" {
		return errors.New("kind is required")
	}
	if m.ChatID == 0 {
		return errors.New("chat_id is required")
	}
	if m.Text == "" {
		return errors.New("text is required")
	}
	return nil
}
