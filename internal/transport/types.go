package transport

import (
	"context"
	"strconv"
)

// Target identifies a delivery destination. Which fields matter depends on
// the channel: telegram reads ChatID/ThreadID, email reads Address.
type Target struct {
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	Address  string `json:"address,omitempty"`
}

// Key returns a stable string form of the target for dedup/index keys.
func (t Target) Key() string {
	if t.Address != "" {
		return t.Address
	}
	return strconv.FormatInt(t.ChatID, 10) + "/" + strconv.Itoa(t.ThreadID)
}

func (t Target) IsZero() bool {
	return t.ChatID == 0 && t.ThreadID == 0 && t.Address == ""
}

// SendOptions tweak delivery on channels that support them.
// Channels ignore options they have no concept of.
type SendOptions struct {
	Silent         bool
	DisablePreview bool

	// Plain disables HTML parse mode on telegram. Email bodies are always
	// plain text.
	Plain bool
}

// Notification is one routed outbound message.
//
// Channel selects the Sender; an empty channel means "use the configured
// default". Priority is 0..9 (higher is more important) and is advisory:
// senders and the notifier may use it for retry budgets, not for ordering.
type Notification struct {
	Channel  string
	Priority int
	Target   Target
	Subject  string
	Text     string
	Options  *SendOptions
}

// Sender delivers notifications on a single channel.
//
// Implementations must be safe for concurrent Send calls and must honor ctx
// cancellation on network operations.
type Sender interface {
	Channel() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, n Notification) error
}

// TextSender is the narrow surface the log sink uses to ship log lines.
type TextSender interface {
	SendText(ctx context.Context, to Target, text string, opts *SendOptions) error
}
