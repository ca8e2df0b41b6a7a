package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// AdminUser is a back-office account. There is no self-service signup;
// accounts are provisioned directly.
type AdminUser struct {
	gorm.Model
	Email        string `gorm:"not null;uniqueIndex" json:"email"`
	Name         string `json:"name"`
	PasswordHash string `gorm:"not null" json:"-"`

	IsActive     bool       `gorm:"default:true" json:"is_active"`
	TokenVersion int        `gorm:"default:0" json:"-"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// SetPassword hashes and stores the given plaintext password.
func (u *AdminUser) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword compares a plaintext password against the stored hash.
func (u *AdminUser) CheckPassword(password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) == nil
}
