package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/models"
	"github.com/Lapin-Blanc/electruc-portal/internal/utils"
)

// EnsureStaff creates an active staff account for email when none exists.
// Existing accounts are promoted to staff but keep their password.
func EnsureStaff(db *gorm.DB, email, password string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil
	}

	var user models.User
	err := db.Where("email = ?", email).First(&user).Error
	if err == nil {
		if !user.IsStaff || !user.IsActive {
			if err := db.Model(&user).Updates(map[string]interface{}{"is_staff": true, "is_active": true}).Error; err != nil {
				return nil, err
			}
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("hash staff password: %w", err)
	}

	user = models.User{
		Email:        email,
		FirstName:    "Admin",
		PasswordHash: hash,
		IsActive:     true,
		IsStaff:      true,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}
