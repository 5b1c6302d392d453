package domain

import "time"

type User struct {
	ID               string     `gorm:"primaryKey;size:64" json:"id"`
	Email            string     `gorm:"size:255;index" json:"email"`
	Name             string     `gorm:"size:255" json:"name"`
	Role             Role       `gorm:"size:32;not null;default:field_worker;index" json:"role"`
	IsActive         bool       `gorm:"not null;default:true" json:"is_active"`
	TwoFactorEnabled bool       `gorm:"not null;default:false" json:"two_factor_enabled"`
	TwoFactorSecret  *string    `gorm:"size:128" json:"-"`
	BackupCodes      []string   `gorm:"serializer:json;type:text" json:"-"`
	LoginAttempts    int        `gorm:"not null;default:0" json:"login_attempts"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	LastTOTPCounter  int64      `gorm:"not null;default:0" json:"-"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (u *User) Locked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

func (u *User) HasSecret() bool {
	return u.TwoFactorSecret != nil && *u.TwoFactorSecret != ""
}

// AuthContext is the principal resolved for a request and shared by every
// downstream pipeline stage.
type AuthContext struct {
	UserID            string `json:"user_id"`
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	Role              Role   `json:"role"`
	IsActive          bool   `json:"is_active"`
	TwoFactorEnabled  bool   `json:"two_factor_enabled"`
	TwoFactorVerified bool   `json:"two_factor_verified"`
	SessionID         string `json:"-"`
}
