package login

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository stores confirmation challenges
type Repository interface {
	Create(ctx context.Context, c *Challenge) error
	FindByTokenHash(ctx context.Context, hash string) (*Challenge, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Challenge, error)
	Consume(ctx context.Context, id uuid.UUID, decision string, at time.Time) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a gorm backed challenge repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Create(ctx context.Context, c *Challenge) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *repository) FindByTokenHash(ctx context.Context, hash string) (*Challenge, error) {
	var c Challenge
	if err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*Challenge, error) {
	var c Challenge
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// Consume answers a pending challenge. It reports false when the challenge
// was already answered or has expired.
func (r *repository) Consume(ctx context.Context, id uuid.UUID, decision string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Challenge{}).
		Where("id = ? AND consumed_at IS NULL AND expires_at > ?", id, at).
		Updates(map[string]any{
			"consumed_at": at,
			"decision":    decision,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Complete marks an approved challenge as collected. It reports false when
// the challenge was not approved or was already collected.
func (r *repository) Complete(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Challenge{}).
		Where("id = ? AND decision = ? AND completed_at IS NULL", id, DecisionApproved).
		Update("completed_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// DeleteExpired removes challenges that expired before the given time,
// answered or not
func (r *repository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&Challenge{})
	return res.RowsAffected, res.Error
}
