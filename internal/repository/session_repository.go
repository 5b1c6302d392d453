package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/posuite/request-guard/internal/domain"
	"github.com/posuite/request-guard/internal/observability"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionRepository is the Session Store consumed by the security pipeline.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindActiveByID(ctx context.Context, id string) (*domain.Session, error)
	MarkTwoFactorVerified(ctx context.Context, sessionID, userID string) error
	Delete(ctx context.Context, sessionID string) error
	CleanupExpired(ctx context.Context) (int64, error)
}

type GormSessionRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &GormSessionRepository{db: db, now: time.Now}
}

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindActiveByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("id = ? AND expires_at > ?", id, r.now()).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_active_by_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_active_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_active_by_id", "success")
	return &s, nil
}

// MarkTwoFactorVerified only touches a session already bound to userID.
func (r *GormSessionRepository) MarkTwoFactorVerified(ctx context.Context, sessionID, userID string) error {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND user_id = ?", sessionID, userID).
		Update("two_factor_verified_for", userID)
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "mark_two_factor_verified", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "session", "mark_two_factor_verified", "not_found")
		return ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(ctx, "session", "mark_two_factor_verified", "success")
	return nil
}

func (r *GormSessionRepository) Delete(ctx context.Context, sessionID string) error {
	err := r.db.WithContext(ctx).Where("id = ?", sessionID).Delete(&domain.Session{}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "delete", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "delete", "success")
	return nil
}

func (r *GormSessionRepository) CleanupExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", r.now()).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
