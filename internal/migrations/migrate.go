package migrations

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/Anvoria/loginguard/internal/domain/login"
	"github.com/Anvoria/loginguard/internal/domain/risk"
	"github.com/Anvoria/loginguard/internal/domain/session"
	"github.com/Anvoria/loginguard/internal/domain/user"
)

// Models lists every table owned by the service
func Models() []any {
	return []any{
		&user.User{},
		&session.Session{},
		&risk.LoginAttempt{},
		&risk.KnownDevice{},
		&login.Challenge{},
	}
}

// RunMigrations runs all database migrations
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to make migrations: %w", err)
	}
	return nil
}
