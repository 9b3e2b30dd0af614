package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository is the durable audit store for sessions
type Repository interface {
	Create(ctx context.Context, sess *Session) error
	FindByID(ctx context.Context, id uuid.UUID) (*Session, error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]Session, error)
	FindByUserID(ctx context.Context, userID string, limit int) ([]Session, error)
	Revoke(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error)
	UpdateLastActivity(ctx context.Context, id uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a gorm backed session audit repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Create(ctx context.Context, sess *Session) error {
	return r.db.WithContext(ctx).Create(sess).Error
}

// FindByID returns the row in any state; gorm.ErrRecordNotFound when absent
func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	var sess Session
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sess).Error; err != nil {
		return nil, err
	}
	return &sess, nil
}

// FindExpired returns unrevoked sessions whose expiry has passed
func (r *repository) FindExpired(ctx context.Context, now time.Time, limit int) ([]Session, error) {
	var sessions []Session
	q := r.db.WithContext(ctx).
		Where("expires_at < ? AND revoked_at IS NULL", now).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&sessions).Error
	return sessions, err
}

// FindByUserID returns the user's session history, newest first
func (r *repository) FindByUserID(ctx context.Context, userID string, limit int) ([]Session, error) {
	var sessions []Session
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&sessions).Error
	return sessions, err
}

// Revoke marks an active row revoked. Already revoked rows are left untouched
// and reported as false.
func (r *repository) Revoke(ctx context.Context, id uuid.UUID, reason string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Updates(map[string]any{
			"revoked_at":        at,
			"revocation_reason": reason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateLastActivity only moves last_activity_at forward
func (r *repository) UpdateLastActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND revoked_at IS NULL AND last_activity_at < ?", id, at).
		Update("last_activity_at", at).Error
}
