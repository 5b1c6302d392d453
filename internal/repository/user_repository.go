package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/posuite/request-guard/internal/domain"
	"github.com/posuite/request-guard/internal/observability"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository is the User Store consumed by the security pipeline.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	// Update runs fn against a row-locked copy of the user and persists the
	// result in the same transaction. If fn returns an error nothing is written.
	Update(ctx context.Context, id string, fn func(u *domain.User) error) (*domain.User, error)
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	err := r.db.WithContext(ctx).Create(user).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "create", "success")
	return nil
}

func (r *GormUserRepository) Update(ctx context.Context, id string, fn func(u *domain.User) error) (*domain.User, error) {
	var updated domain.User
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u domain.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&u).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}
		if err := fn(&u); err != nil {
			return err
		}
		if err := tx.Select("*").Omit("created_at").Save(&u).Error; err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "update", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "user", "update", "error")
		}
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "update", "success")
	return &updated, nil
}
