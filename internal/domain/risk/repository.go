package risk

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository is the login history store read by the analyzer
type Repository interface {
	RecordAttempt(ctx context.Context, attempt *LoginAttempt) error
	CountAttemptsSince(ctx context.Context, userID string, since time.Time) (int64, error)
	FindKnownDevice(ctx context.Context, userID, fingerprint string) (*KnownDevice, error)
	HasKnownNetwork(ctx context.Context, userID, network string) (bool, error)
	TouchKnownDevice(ctx context.Context, device *KnownDevice) error
	TrustDevice(ctx context.Context, device *KnownDevice) error
	UntrustDevice(ctx context.Context, userID, fingerprint string) error
	ListKnownDevices(ctx context.Context, userID string) ([]KnownDevice, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a gorm backed login history repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) RecordAttempt(ctx context.Context, attempt *LoginAttempt) error {
	return r.db.WithContext(ctx).Create(attempt).Error
}

func (r *repository) CountAttemptsSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&LoginAttempt{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}

// FindKnownDevice returns nil without an error when the device was never seen
func (r *repository) FindKnownDevice(ctx context.Context, userID, fingerprint string) (*KnownDevice, error) {
	var dev KnownDevice
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND fingerprint = ?", userID, fingerprint).
		First(&dev).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &dev, nil
}

func (r *repository) HasKnownNetwork(ctx context.Context, userID, network string) (bool, error) {
	if network == "" {
		return false, nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&KnownDevice{}).
		Where("user_id = ? AND network = ?", userID, network).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}

	err := r.db.WithContext(ctx).Model(&LoginAttempt{}).
		Where("user_id = ? AND network = ? AND outcome IN ?", userID, network,
			[]Outcome{OutcomeAllowed, OutcomeApproved}).
		Count(&count).Error
	return count > 0, err
}

// TouchKnownDevice records the device as seen without changing its trust flag
func (r *repository) TouchKnownDevice(ctx context.Context, device *KnownDevice) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "fingerprint"}},
		DoUpdates: clause.AssignmentColumns([]string{"network", "device_name", "last_seen_at", "updated_at"}),
	}).Create(device).Error
}

// TrustDevice records the device as seen and trusted
func (r *repository) TrustDevice(ctx context.Context, device *KnownDevice) error {
	device.Trusted = true
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "fingerprint"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"network", "device_name", "location", "trusted", "trusted_at", "last_seen_at", "updated_at",
		}),
	}).Create(device).Error
}

// UntrustDevice clears the trust flag; the device stays known
func (r *repository) UntrustDevice(ctx context.Context, userID, fingerprint string) error {
	return r.db.WithContext(ctx).Model(&KnownDevice{}).
		Where("user_id = ? AND fingerprint = ?", userID, fingerprint).
		Updates(map[string]any{"trusted": false, "trusted_at": nil}).Error
}

func (r *repository) ListKnownDevices(ctx context.Context, userID string) ([]KnownDevice, error) {
	var devices []KnownDevice
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("last_seen_at DESC").
		Find(&devices).Error
	return devices, err
}
