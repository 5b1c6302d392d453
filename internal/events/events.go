package events

import (
	"context"
	"log/slog"
	"time"
)

type Type string

const (
	TwoFactorSetup            Type = "security.2fa.setup"
	TwoFactorEnabled          Type = "security.2fa.enabled"
	TwoFactorVerified         Type = "security.2fa.verified"
	TwoFactorBackupCodeUsed   Type = "security.2fa.backup_code_used"
	TwoFactorFailed           Type = "security.2fa.failed"
	TwoFactorLocked           Type = "security.2fa.locked"
	TwoFactorDisabled         Type = "security.2fa.disabled"
	TwoFactorCodesRegenerated Type = "security.2fa.backup_codes_regenerated"
)

// Event is one security-relevant state change for a user.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	UserID     string            `json:"user_id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Publisher delivers security events. Delivery is best effort; callers log and move on.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, event Event) error {
	attrs := []any{
		"event_id", event.ID,
		"event_type", string(event.Type),
		"user_id", event.UserID,
		"occurred_at", event.OccurredAt,
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, k, v)
	}
	p.logger.InfoContext(ctx, "security event", attrs...)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
func (NoopPublisher) Close() error                         { return nil }
