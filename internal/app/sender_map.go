package app

import (
	"fmt"
	"strings"
	"time"

	"finwatch/internal/transport/email"
	"finwatch/internal/transport/telegram"
)

// mapTelegramConfig maps the JSON config into the telegram sender config.
// enabled=false (no error) when no token is configured: the channel is simply
// not registered then.
func mapTelegramConfig(cfg *Config) (telegram.Config, bool, error) {
	if cfg == nil || strings.TrimSpace(cfg.Telegram.Token) == "" {
		return telegram.Config{}, false, nil
	}
	to, err := parseDurationOrDefault("telegram.request_timeout", cfg.Telegram.RequestTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{
		Token:           cfg.Telegram.Token,
		DefaultChatID:   cfg.Telegram.ChatID,
		DefaultThreadID: cfg.Telegram.ThreadID,
		RequestTimeout:  to,
	}, true, nil
}

// mapEmailConfig maps the JSON config into the email sender config.
// enabled=false (no error) when no SMTP host is configured.
func mapEmailConfig(cfg *Config) (email.Config, bool, error) {
	if cfg == nil || strings.TrimSpace(cfg.Email.SMTP.Host) == "" {
		return email.Config{}, false, nil
	}
	em := cfg.Email
	if strings.TrimSpace(em.From) == "" {
		return email.Config{}, false, fmt.Errorf("email.from is required when email.smtp.host is set")
	}
	if len(em.To) == 0 {
		return email.Config{}, false, fmt.Errorf("email.to must list at least one recipient")
	}
	to, err := parseDurationOrDefault("email.timeout", em.Timeout, 30*time.Second)
	if err != nil {
		return email.Config{}, false, err
	}
	return email.Config{
		Host:     em.SMTP.Host,
		Port:     em.SMTP.Port,
		StartTLS: em.SMTP.StartTLS,
		Username: em.SMTP.Username,
		Password: em.SMTP.Password,
		From:     em.From,
		To:       append([]string(nil), em.To...),
		Timeout:  to,
	}, true, nil
}
