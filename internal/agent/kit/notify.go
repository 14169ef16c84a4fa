package agentkit

import (
	"context"
	"errors"

	core "finwatch/internal/agent"
	kit "finwatch/internal/transport"
)

// NotifyHelper is a small ergonomic wrapper around core.NotifierPort.
//
// It provides:
//   - Info/Warn/Error conveniences on the default channel.
//   - A builder for channel, subject and target overrides.
//
// An empty Target means "the channel's configured default recipient"
// (a telegram sender falls back to its default chat, an email sender to
// its configured recipient list).
type NotifyHelper struct {
	agentName string
	deps      core.AgentDeps
	ctx       context.Context
}

func NewNotifyHelper(agentName string, deps core.AgentDeps) *NotifyHelper {
	return &NotifyHelper{agentName: agentName, deps: deps}
}

func (h *NotifyHelper) bindContext(ctx context.Context) { h.ctx = ctx }

func (h *NotifyHelper) Info(text string) error {
	return h.send(kit.Notification{Priority: 5, Text: text})
}

func (h *NotifyHelper) Warn(text string) error {
	return h.send(kit.Notification{Priority: 7, Text: text})
}

func (h *NotifyHelper) Error(text string) error {
	return h.send(kit.Notification{Priority: 9, Text: text})
}

// Channel returns a builder that sends via a named channel ("telegram", "email").
func (h *NotifyHelper) Channel(name string) *NotifyBuilder {
	return &NotifyBuilder{helper: h, n: kit.Notification{Channel: name}}
}

// To returns a builder that sends to a specific target on the default channel.
func (h *NotifyHelper) To(target kit.Target) *NotifyBuilder {
	return &NotifyBuilder{helper: h, n: kit.Notification{Target: target}}
}

// Subject returns a builder carrying a subject line (the email subject; a bold
// first line on telegram).
func (h *NotifyHelper) Subject(subject string) *NotifyBuilder {
	return &NotifyBuilder{helper: h, n: kit.Notification{Subject: subject}}
}

func (h *NotifyHelper) send(n kit.Notification) error {
	if h == nil || h.deps.Services == nil || h.deps.Services.Notifier == nil {
		return errors.New("notifier not available")
	}
	ctx := h.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if n.Options == nil {
		n.Options = &kit.SendOptions{DisablePreview: true}
	}
	return h.deps.Services.Notifier.Notify(ctx, n)
}

type NotifyBuilder struct {
	helper *NotifyHelper
	n      kit.Notification
}

func (b *NotifyBuilder) Channel(name string) *NotifyBuilder {
	b.n.Channel = name
	return b
}

func (b *NotifyBuilder) To(target kit.Target) *NotifyBuilder {
	b.n.Target = target
	return b
}

func (b *NotifyBuilder) Subject(subject string) *NotifyBuilder {
	b.n.Subject = subject
	return b
}

func (b *NotifyBuilder) Info(text string) error  { return b.send(5, text) }
func (b *NotifyBuilder) Warn(text string) error  { return b.send(7, text) }
func (b *NotifyBuilder) Error(text string) error { return b.send(9, text) }

func (b *NotifyBuilder) send(priority int, text string) error {
	n := b.n
	n.Priority = priority
	n.Text = text
	return b.helper.send(n)
}
