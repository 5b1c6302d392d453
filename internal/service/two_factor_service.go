package service

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/posuite/request-guard/internal/domain"
	"github.com/posuite/request-guard/internal/events"
	"github.com/posuite/request-guard/internal/observability"
	"github.com/posuite/request-guard/internal/repository"
	"github.com/posuite/request-guard/internal/security"
)

type TwoFactorPolicy struct {
	MaxAttempts     int
	LockoutDuration time.Duration
	BackupCodeCount int
	StoreTimeout    time.Duration
}

func DefaultTwoFactorPolicy() TwoFactorPolicy {
	return TwoFactorPolicy{
		MaxAttempts:     5,
		LockoutDuration: 15 * time.Minute,
		BackupCodeCount: 8,
		StoreTimeout:    2 * time.Second,
	}
}

type ManualEntry struct {
	Issuer    string `json:"issuer"`
	Account   string `json:"account"`
	Secret    string `json:"secret"`
	Digits    int    `json:"digits"`
	Period    int    `json:"period"`
	Algorithm string `json:"algorithm"`
}

type SetupResult struct {
	Secret      string      `json:"secret"`
	OTPAuthURL  string      `json:"otpauth_url"`
	QRCode      string      `json:"qr_code"`
	BackupCodes []string    `json:"backup_codes"`
	ManualEntry ManualEntry `json:"manual_entry"`
}

type VerifyResult struct {
	UsedBackupCode       bool `json:"used_backup_code"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}

type TwoFactorStatus struct {
	Enabled          bool       `json:"enabled"`
	BackupCodesCount int        `json:"backup_codes_count"`
	HasSecret        bool       `json:"has_secret"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
}

// TwoFactorService drives the per-user TOTP state machine. Every
// read-modify-write on the user record goes through UserRepository.Update so
// concurrent attempts for one user serialize on the row lock.
type TwoFactorService struct {
	users     repository.UserRepository
	totp      *security.TOTP
	publisher events.Publisher
	policy    TwoFactorPolicy
	logger    *slog.Logger
	now       func() time.Time
	rand      io.Reader
}

func NewTwoFactorService(
	users repository.UserRepository,
	totp *security.TOTP,
	publisher events.Publisher,
	policy TwoFactorPolicy,
	logger *slog.Logger,
) *TwoFactorService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultTwoFactorPolicy()
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = def.MaxAttempts
	}
	if policy.LockoutDuration <= 0 {
		policy.LockoutDuration = def.LockoutDuration
	}
	if policy.BackupCodeCount <= 0 {
		policy.BackupCodeCount = def.BackupCodeCount
	}
	if policy.StoreTimeout <= 0 {
		policy.StoreTimeout = def.StoreTimeout
	}
	return &TwoFactorService{
		users:     users,
		totp:      totp,
		publisher: publisher,
		policy:    policy,
		logger:    logger,
		now:       time.Now,
		rand:      rand.Reader,
	}
}

func (s *TwoFactorService) WithClock(now func() time.Time) *TwoFactorService {
	s.now = now
	return s
}

// WithRand sets the entropy source for backup codes.
func (s *TwoFactorService) WithRand(r io.Reader) *TwoFactorService {
	s.rand = r
	return s
}

func (s *TwoFactorService) Policy() TwoFactorPolicy { return s.policy }

func (s *TwoFactorService) Setup(ctx context.Context, userID, email string) (*SetupResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.policy.StoreTimeout)
	defer cancel()

	account := strings.TrimSpace(email)
	if account == "" {
		u, err := s.users.FindByID(ctx, userID)
		if err != nil {
			return nil, s.fail(ctx, "setup", s.classify("find user", err, ErrUnauthenticated))
		}
		account = u.Email
		if account == "" {
			account = u.ID
		}
	}

	key, err := s.totp.Generate(account)
	if err != nil {
		return nil, s.fail(ctx, "setup", err)
	}
	codes, err := security.GenerateBackupCodes(s.rand, s.policy.BackupCodeCount)
	if err != nil {
		return nil, s.fail(ctx, "setup", err)
	}

	_, err = s.users.Update(ctx, userID, func(u *domain.User) error {
		if u.TwoFactorEnabled {
			return ErrTwoFactorAlreadyEnabled
		}
		secret := key.Secret
		u.TwoFactorSecret = &secret
		u.BackupCodes = append([]string(nil), codes...)
		u.TwoFactorEnabled = false
		u.LastTOTPCounter = 0
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "setup", s.classify("store setup", err, ErrUnauthenticated))
	}

	observability.RecordTwoFactorEvent(ctx, "setup", "success")
	s.publish(ctx, events.TwoFactorSetup, userID, nil)
	return &SetupResult{
		Secret:      key.Secret,
		OTPAuthURL:  key.URL,
		QRCode:      key.QRDataURL,
		BackupCodes: codes,
		ManualEntry: s.ManualEntry(account, key.Secret),
	}, nil
}

// ManualEntry describes the key for authenticator apps that cannot scan a QR code.
func (s *TwoFactorService) ManualEntry(account, secret string) ManualEntry {
	return ManualEntry{
		Issuer:    s.totp.Issuer(),
		Account:   account,
		Secret:    secret,
		Digits:    6,
		Period:    security.TOTPPeriod,
		Algorithm: "SHA1",
	}
}

func (s *TwoFactorService) Enable(ctx context.Context, userID, token string) error {
	ctx, cancel := context.WithTimeout(ctx, s.policy.StoreTimeout)
	defer cancel()

	_, err := s.users.Update(ctx, userID, func(u *domain.User) error {
		if u.TwoFactorEnabled {
			return ErrTwoFactorAlreadyEnabled
		}
		if !u.HasSecret() {
			return ErrTwoFactorSetupRequired
		}
		step, ok := s.totp.Validate(*u.TwoFactorSecret, token, s.now())
		if !ok {
			return ErrTwoFactorInvalidToken
		}
		u.TwoFactorEnabled = true
		u.LastTOTPCounter = step
		return nil
	})
	if err != nil {
		return s.fail(ctx, "enable", s.classify("store enable", err, ErrUnauthenticated))
	}
	observability.RecordTwoFactorEvent(ctx, "enable", "success")
	s.publish(ctx, events.TwoFactorEnabled, userID, nil)
	return nil
}

type verifyOutcome struct {
	usedBackup bool
	remaining  int
	failed     bool
	attempts   int
	lockedNow  *time.Time
}

// Verify checks token as a TOTP code, then as a backup code. A failed attempt
// is persisted before the error is returned.
func (s *TwoFactorService) Verify(ctx context.Context, userID, token string) (*VerifyResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.policy.StoreTimeout)
	defer cancel()

	token = strings.TrimSpace(token)
	var out verifyOutcome
	_, err := s.users.Update(ctx, userID, func(u *domain.User) error {
		out = verifyOutcome{}
		now := s.now()
		if u.Locked(now) {
			return &LockedError{Until: *u.LockedUntil, Remaining: u.LockedUntil.Sub(now)}
		}
		if !u.TwoFactorEnabled || !u.HasSecret() {
			return ErrTwoFactorNotEnabled
		}
		if step, ok := s.totp.Validate(*u.TwoFactorSecret, token, now); ok && step > u.LastTOTPCounter {
			u.LastTOTPCounter = step
			s.markSuccess(u, now)
			out.remaining = len(u.BackupCodes)
			return nil
		}
		if idx := security.MatchBackupCode(u.BackupCodes, token); idx >= 0 {
			codes := make([]string, 0, len(u.BackupCodes)-1)
			codes = append(codes, u.BackupCodes[:idx]...)
			codes = append(codes, u.BackupCodes[idx+1:]...)
			u.BackupCodes = codes
			s.markSuccess(u, now)
			out.usedBackup = true
			out.remaining = len(codes)
			return nil
		}
		u.LoginAttempts++
		out.failed = true
		out.attempts = u.LoginAttempts
		if u.LoginAttempts >= s.policy.MaxAttempts {
			until := now.Add(s.policy.LockoutDuration)
			u.LockedUntil = &until
			out.lockedNow = &until
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "verify", s.classify("store verify", err, ErrTwoFactorInvalidToken))
	}

	if out.failed {
		attrs := map[string]string{"attempts": strconv.Itoa(out.attempts)}
		if out.lockedNow != nil {
			attrs["locked_until"] = out.lockedNow.UTC().Format(time.RFC3339)
			observability.RecordTwoFactorEvent(ctx, "verify", "locked")
			s.publish(ctx, events.TwoFactorLocked, userID, attrs)
			s.logger.WarnContext(ctx, "two-factor lockout", "user_id", userID, "locked_until", *out.lockedNow)
		} else {
			observability.RecordTwoFactorEvent(ctx, "verify", "failure")
			s.publish(ctx, events.TwoFactorFailed, userID, attrs)
		}
		remaining := s.policy.MaxAttempts - out.attempts
		if remaining < 0 {
			remaining = 0
		}
		return nil, &InvalidTokenError{AttemptsRemaining: remaining}
	}

	if out.usedBackup {
		observability.RecordTwoFactorEvent(ctx, "verify", "backup_code")
		s.publish(ctx, events.TwoFactorBackupCodeUsed, userID, map[string]string{"remaining": strconv.Itoa(out.remaining)})
	} else {
		observability.RecordTwoFactorEvent(ctx, "verify", "success")
		s.publish(ctx, events.TwoFactorVerified, userID, nil)
	}
	return &VerifyResult{UsedBackupCode: out.usedBackup, BackupCodesRemaining: out.remaining}, nil
}

func (s *TwoFactorService) markSuccess(u *domain.User, now time.Time) {
	u.LoginAttempts = 0
	u.LockedUntil = nil
	u.LastLoginAt = &now
}

func (s *TwoFactorService) Disable(ctx context.Context, userID, token string) error {
	status, err := s.Status(ctx, userID)
	if err != nil {
		return err
	}
	if !status.Enabled {
		return s.fail(ctx, "disable", ErrTwoFactorNotEnabled)
	}
	if _, err := s.Verify(ctx, userID, token); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.policy.StoreTimeout)
	defer cancel()
	_, err = s.users.Update(ctx, userID, func(u *domain.User) error {
		if !u.TwoFactorEnabled {
			return ErrTwoFactorNotEnabled
		}
		u.TwoFactorEnabled = false
		u.TwoFactorSecret = nil
		u.BackupCodes = nil
		u.LastTOTPCounter = 0
		return nil
	})
	if err != nil {
		return s.fail(ctx, "disable", s.classify("store disable", err, ErrUnauthenticated))
	}
	observability.RecordTwoFactorEvent(ctx, "disable", "success")
	s.publish(ctx, events.TwoFactorDisabled, userID, nil)
	return nil
}

func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.policy.StoreTimeout)
	defer cancel()

	codes, err := security.GenerateBackupCodes(s.rand, s.policy.BackupCodeCount)
	if err != nil {
		return nil, s.fail(ctx, "regenerate_backup_codes", err)
	}
	_, err = s.users.Update(ctx, userID, func(u *domain.User) error {
		if !u.TwoFactorEnabled {
			return ErrTwoFactorNotEnabled
		}
		u.BackupCodes = append([]string(nil), codes...)
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, "regenerate_backup_codes", s.classify("store backup codes", err, ErrUnauthenticated))
	}
	observability.RecordTwoFactorEvent(ctx, "regenerate_backup_codes", "success")
	s.publish(ctx, events.TwoFactorCodesRegenerated, userID, map[string]string{"count": strconv.Itoa(len(codes))})
	return codes, nil
}

func (s *TwoFactorService) Status(ctx context.Context, userID string) (*TwoFactorStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, s.policy.StoreTimeout)
	defer cancel()

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, s.classify("find user", err, ErrUnauthenticated)
	}
	status := &TwoFactorStatus{
		Enabled:          u.TwoFactorEnabled,
		BackupCodesCount: len(u.BackupCodes),
		HasSecret:        u.HasSecret(),
	}
	if u.Locked(s.now()) {
		until := *u.LockedUntil
		status.LockedUntil = &until
	}
	return status, nil
}

var twoFactorDomainErrors = []error{
	ErrUnauthenticated,
	ErrTwoFactorNotEnabled,
	ErrTwoFactorInvalidToken,
	ErrTwoFactorSetupRequired,
	ErrTwoFactorAlreadyEnabled,
	ErrAccountLocked,
}

// classify maps repository errors onto the service taxonomy. Anything that is
// not a known domain outcome is a store failure.
func (s *TwoFactorService) classify(op string, err error, notFound error) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return notFound
	}
	for _, target := range twoFactorDomainErrors {
		if errors.Is(err, target) {
			return err
		}
	}
	return storeUnavailable(op, err)
}

func (s *TwoFactorService) fail(ctx context.Context, op string, err error) error {
	outcome := "rejected"
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		outcome = "store_unavailable"
		s.logger.ErrorContext(ctx, "two-factor store failure", "operation", op, "error", err)
	case errors.Is(err, ErrAccountLocked):
		outcome = "locked"
	}
	observability.RecordTwoFactorEvent(ctx, op, outcome)
	return err
}

func (s *TwoFactorService) publish(ctx context.Context, typ events.Type, userID string, attrs map[string]string) {
	err := s.publisher.Publish(ctx, events.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		UserID:     userID,
		OccurredAt: s.now().UTC(),
		Attributes: attrs,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "publish security event", "event_type", string(typ), "user_id", userID, "error", err)
	}
}
