package login

import (
	"time"

	"github.com/Anvoria/loginguard/internal/database"
)

const (
	DecisionApproved = "approved"
	DecisionDenied   = "denied"
)

// Challenge is a pending new-login confirmation. The emailed token answers
// it; the claim token held by the logging-in client collects the session
// once approved. Only hashes of both are stored.
type Challenge struct {
	database.BaseModel

	UserID         string     `gorm:"column:user_id;type:uuid;not null;index"`
	TokenHash      string     `gorm:"column:token_hash;not null;uniqueIndex"`
	ClaimHash      string     `gorm:"column:claim_hash;not null"`
	Fingerprint    string     `gorm:"column:fingerprint;type:text;not null"`
	NetworkAddress string     `gorm:"column:network_address;type:text"`
	UserAgent      string     `gorm:"column:user_agent;type:text"`
	DeviceName     string     `gorm:"column:device_name;type:text"`
	RiskScore      int        `gorm:"column:risk_score"`
	ExpiresAt      time.Time  `gorm:"column:expires_at;not null;index"`
	ConsumedAt     *time.Time `gorm:"column:consumed_at"`
	Decision       *string    `gorm:"column:decision;type:text"`
	CompletedAt    *time.Time `gorm:"column:completed_at"`
}

func (Challenge) TableName() string {
	return "login_challenges"
}

// Pending reports whether the challenge can still be answered at now
func (c *Challenge) Pending(now time.Time) bool {
	return c.ConsumedAt == nil && now.Before(c.ExpiresAt)
}
