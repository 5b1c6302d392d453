package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrUnauthenticated         = errors.New("authentication required")
	ErrAccountDisabled         = errors.New("account disabled")
	ErrTwoFactorRequired       = errors.New("two-factor verification required")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication is not enabled")
	ErrTwoFactorInvalidToken   = errors.New("invalid two-factor token")
	ErrTwoFactorSetupRequired  = errors.New("two-factor setup has not been started")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication is already enabled")
	ErrAccountLocked           = errors.New("account locked")
	ErrStoreUnavailable        = errors.New("store unavailable")
)

// LockedError reports an active lockout. errors.Is(err, ErrAccountLocked) holds.
type LockedError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked for %d more seconds", e.RemainingSeconds())
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RemainingSeconds rounds up so a client never retries a moment too early.
func (e *LockedError) RemainingSeconds() int {
	secs := int((e.Remaining + time.Second - 1) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// InvalidTokenError carries how many attempts remain before lockout.
type InvalidTokenError struct {
	AttemptsRemaining int
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid two-factor token (%d attempts remaining)", e.AttemptsRemaining)
}

func (e *InvalidTokenError) Is(target error) bool { return target == ErrTwoFactorInvalidToken }

func storeUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
