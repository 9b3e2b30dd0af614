package session

import (
	"time"

	"github.com/Anvoria/loginguard/internal/database"
)

// Revocation reasons recorded in the audit store
const (
	ReasonRevoked     = "revoked"
	ReasonLogout      = "logout"
	ReasonLogoutAll   = "logout_all"
	ReasonMaxSessions = "max_sessions"
	ReasonExpired     = "expired"
)

// Session is the durable audit row. The bearer token is only stored as a hash.
type Session struct {
	database.BaseModel

	UserID            string   `gorm:"column:user_id;type:uuid;not null;index"`
	TokenHash         string   `gorm:"column:token_hash;not null;uniqueIndex"`
	DeviceFingerprint string   `gorm:"column:device_fingerprint;type:text"`
	DeviceName        string   `gorm:"column:device_name;type:text"`
	DeviceType        string   `gorm:"column:device_type;type:text"`
	Browser           string   `gorm:"column:browser;type:text"`
	OS                string   `gorm:"column:os;type:text"`
	IPAddress         string   `gorm:"column:ip_address;type:text"`
	Country           string   `gorm:"column:country;type:text"`
	City              string   `gorm:"column:city;type:text"`
	Latitude          *float64 `gorm:"column:latitude"`
	Longitude         *float64 `gorm:"column:longitude"`
	MFAVerified       bool     `gorm:"column:mfa_verified;default:false"`
	TrustedDevice     bool     `gorm:"column:trusted_device;default:false"`

	LastActivityAt   time.Time  `gorm:"column:last_activity_at"`
	ExpiresAt        time.Time  `gorm:"column:expires_at;not null;index"`
	RevokedAt        *time.Time `gorm:"column:revoked_at;index"`
	RevocationReason *string    `gorm:"column:revocation_reason;type:text"`
}

func (Session) TableName() string {
	return "sessions"
}

// Info is the live view of a session held in the fast store
type Info struct {
	SessionID         string    `json:"session_id"`
	UserID            string    `json:"user_id"`
	DeviceFingerprint string    `json:"device_fingerprint"`
	DeviceName        string    `json:"device_name"`
	DeviceType        string    `json:"device_type"`
	Browser           string    `json:"browser"`
	OS                string    `json:"os"`
	NetworkAddress    string    `json:"network_address"`
	Country           string    `json:"country,omitempty"`
	City              string    `json:"city,omitempty"`
	Latitude          *float64  `json:"latitude,omitempty"`
	Longitude         *float64  `json:"longitude,omitempty"`
	TrustedDevice     bool      `json:"trusted_device"`
	MFAVerified       bool      `json:"mfa_verified"`
	CreatedAt         time.Time `json:"created_at"`
	LastActivityAt    time.Time `json:"last_activity_at"`
}

// CreateRequest carries everything needed to establish a session
type CreateRequest struct {
	UserID            string
	DeviceFingerprint string
	NetworkAddress    string
	UserAgent         string
	MFAVerified       bool
	TrustedDevice     bool
}

// CreateResult is returned once a session is written to both stores.
// Token is the bearer secret and must only be handed to the client.
type CreateResult struct {
	SessionID        string
	Token            string
	ExpiresAt        time.Time
	KickedSessionIDs []string
}

// ValidationResult is the outcome of ValidateSession. A missing session is
// reported as Valid=false rather than an error.
type ValidationResult struct {
	Valid       bool
	UserID      string
	MFAVerified bool
	Session     *Info
}
