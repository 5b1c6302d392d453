package domain

import "time"

type Session struct {
	ID                   string    `gorm:"primaryKey;size:64" json:"id"`
	UserID               *string   `gorm:"size:64;index" json:"user_id,omitempty"`
	TwoFactorVerifiedFor *string   `gorm:"size:64" json:"-"`
	UserAgent            string    `gorm:"size:512" json:"user_agent"`
	IP                   string    `gorm:"size:64" json:"ip"`
	ExpiresAt            time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// TwoFactorVerified reports whether this session passed 2FA for userID.
// A verification recorded for a different user does not carry over.
func (s *Session) TwoFactorVerified(userID string) bool {
	if s == nil || s.TwoFactorVerifiedFor == nil || userID == "" {
		return false
	}
	if s.UserID == nil || *s.UserID != userID {
		return false
	}
	return *s.TwoFactorVerifiedFor == userID
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}
