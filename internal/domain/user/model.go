package user

import "github.com/Anvoria/loginguard/internal/database"

// User is a directory entry: who may log in and where their notifications go
type User struct {
	database.BaseModel
	Username     string `gorm:"column:username;uniqueIndex;not null"`
	DisplayName  string `gorm:"column:display_name;type:text"`
	Email        string `gorm:"column:email;uniqueIndex;not null"`
	PasswordHash string `gorm:"column:password_hash;not null" json:"-"`
	IsActive     bool   `gorm:"column:is_active;default:true"`
}

func (User) TableName() string {
	return "users"
}
