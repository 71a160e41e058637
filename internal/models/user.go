package models

import "strings"

// User is a portal account. Accounts created through self-registration stay
// inactive until the activation link is followed.
type User struct {
	BaseModel
	Email        string `gorm:"uniqueIndex;not null" json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	PasswordHash string `json:"-"`
	IsActive     bool   `gorm:"not null;default:false" json:"is_active"`
	IsStaff      bool   `gorm:"not null;default:false" json:"is_staff"`
}

// FullName returns "First Last", falling back to the email address.
func (u *User) FullName() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// NormalizeEmail trims and lower-cases an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
