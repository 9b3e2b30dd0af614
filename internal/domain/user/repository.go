package user

import (
	"context"

	"gorm.io/gorm"
)

// Repository interface for user directory lookups
type Repository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByLogin(ctx context.Context, login string) (*User, error)
	ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new user repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db}
}

func (r *repository) Create(ctx context.Context, u *User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

func (r *repository) GetByID(ctx context.Context, id string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByLogin finds a user by username or email
func (r *repository) GetByLogin(ctx context.Context, login string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).
		Where("username = ? OR email = ?", login, login).
		First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *repository) ExistsByEmailOrUsername(ctx context.Context, email, username string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&User{}).
		Where("email = ? OR username = ?", email, username).
		Count(&count).Error
	return count > 0, err
}
