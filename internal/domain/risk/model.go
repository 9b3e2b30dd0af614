package risk

import (
	"time"

	"github.com/Anvoria/loginguard/internal/database"
)

// Outcome records what happened to a login attempt after scoring
type Outcome string

const (
	OutcomeAllowed    Outcome = "allowed"
	OutcomeChallenged Outcome = "challenged"
	OutcomeApproved   Outcome = "approved"
	OutcomeDenied     Outcome = "denied"
	OutcomeBlocked    Outcome = "blocked"
)

// Accepted reports whether the attempt ended with the login going through
func (o Outcome) Accepted() bool {
	return o == OutcomeAllowed || o == OutcomeApproved
}

// LoginAttempt is one row of a user's login history
type LoginAttempt struct {
	database.BaseModel

	UserID      string  `gorm:"column:user_id;type:uuid;not null;index"`
	Fingerprint string  `gorm:"column:fingerprint;type:text;not null"`
	IPAddress   string  `gorm:"column:ip_address;type:text"`
	Network     string  `gorm:"column:network;type:text;index"`
	Score       int     `gorm:"column:score"`
	Outcome     Outcome `gorm:"column:outcome;type:text;not null"`
}

func (LoginAttempt) TableName() string {
	return "login_attempts"
}

// KnownDevice is a device/network pair previously accepted for a user
type KnownDevice struct {
	database.BaseModel

	UserID      string     `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_known_devices_user_fingerprint"`
	Fingerprint string     `gorm:"column:fingerprint;type:text;not null;uniqueIndex:idx_known_devices_user_fingerprint"`
	Network     string     `gorm:"column:network;type:text;index"`
	DeviceName  string     `gorm:"column:device_name;type:text"`
	Location    string     `gorm:"column:location;type:text"`
	Trusted     bool       `gorm:"column:trusted;default:false"`
	TrustedAt   *time.Time `gorm:"column:trusted_at"`
	LastSeenAt  time.Time  `gorm:"column:last_seen_at"`
}

func (KnownDevice) TableName() string {
	return "known_devices"
}
