package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "finwatch/internal/transport"
	logx "finwatch/pkg/logx"
)

// Config for the outbound telegram channel.
//
// The daemon never polls for updates; the bot account is a pure delivery
// target for notifications and log mirroring.
type Config struct {
	Token string

	// DefaultChatID receives notifications whose target has no chat id.
	DefaultChatID   int64
	DefaultThreadID int

	RequestTimeout time.Duration
}

type Sender struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

// New builds the sender and validates the token against the Bot API
// (telebot performs getMe during construction).
func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Sender{cfg: cfg, log: log, bot: b}, nil
}

func (s *Sender) Channel() string { return "telegram" }

// Start is a no-op: there is no poll loop for a send-only channel.
func (s *Sender) Start(ctx context.Context) error {
	s.log.Debug("telegram sender ready", logx.Int64("default_chat", s.cfg.DefaultChatID))
	return nil
}

func (s *Sender) Stop(ctx context.Context) error { return nil }

func (s *Sender) Send(ctx context.Context, n kit.Notification) error {
	to := n.Target
	if to.ChatID == 0 {
		to.ChatID = s.cfg.DefaultChatID
		if to.ThreadID == 0 {
			to.ThreadID = s.cfg.DefaultThreadID
		}
	}
	if to.ChatID == 0 {
		return errors.New("telegram send: no chat id (set telegram.chat_id or the notification target)")
	}

	opts := n.Options
	text := n.Text
	if subj := strings.TrimSpace(n.Subject); subj != "" {
		if opts != nil && opts.Plain {
			text = subj + "\n" + text
		} else {
			text = B(subj).String() + "\n" + Esc(text).String()
		}
	}
	return s.SendText(ctx, to, text, opts)
}

// SendText delivers text to a chat, chunking long messages.
// HTML parse mode is the default; opts.Plain turns it off.
func (s *Sender) SendText(ctx context.Context, to kit.Target, text string, opts *kit.SendOptions) error {
	if opts == nil {
		opts = &kit.SendOptions{}
	}
	parseMode := tele.ModeHTML
	if opts.Plain {
		parseMode = ""
	}

	chunks := splitText(text, textLimit, parseMode)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	chat := &tele.Chat{ID: to.ChatID}
	for _, chunk := range chunks {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		_, err := s.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             parseMode,
			DisableWebPagePreview: opts.DisablePreview,
			DisableNotification:   opts.Silent,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

const textLimit = 4000

// splitText splits long messages into chunks safe to send to Telegram.
// It prefers newline boundaries and (best-effort) avoids splitting inside an
// HTML tag when parse mode is HTML.
func splitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = textLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}

		// Prefer splitting on a newline near the end of the window.
		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' {
					// Avoid extremely small chunks.
					if i-start >= limit/3 {
						cut = i + 1
						break
					}
				}
			}
			if cut != -1 {
				end = cut
			}
		}

		// Best-effort: don't split inside a tag for HTML parse mode.
		if strings.EqualFold(parseMode, "HTML") && end < len(rs) {
			lastOpen := -1
			lastClose := -1
			for i := start; i < end; i++ {
				if rs[i] == '<' {
					lastOpen = i
				} else if rs[i] == '>' {
					lastClose = i
				}
			}
			if lastOpen > lastClose && lastOpen > start+1 {
				// Move end to the start of the dangling tag.
				end = lastOpen
				if end <= start {
					end = start + limit
					if end > len(rs) {
						end = len(rs)
					}
				}
			}
		}

		chunk := string(rs[start:end])
		chunk = strings.TrimRight(chunk, "\n")
		out = append(out, chunk)

		start = end
		// Skip leading newlines to avoid empty chunks.
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}
