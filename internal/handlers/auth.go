package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/activation"
	"github.com/Lapin-Blanc/electruc-portal/internal/config"
	"github.com/Lapin-Blanc/electruc-portal/internal/models"
	"github.com/Lapin-Blanc/electruc-portal/internal/registration"
	"github.com/Lapin-Blanc/electruc-portal/internal/utils"
)

// AuthHandler bundles dependencies for authentication endpoints.
type AuthHandler struct {
	db           *gorm.DB
	cfg          *config.Config
	registration *registration.Service
	activation   *activation.Service
	log          *zap.Logger
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, cfg *config.Config, reg *registration.Service, act *activation.Service, log *zap.Logger) *AuthHandler {
	return &AuthHandler{db: db, cfg: cfg, registration: reg, activation: act, log: log}
}

// Register creates an inactive account from an invitation and sends the
// activation link.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registration.Request
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, msgInvalidBody)
	}

	res, err := h.registration.Register(c.UserContext(), req)
	if err != nil {
		return domainError(c, err)
	}

	message := "Un e-mail d'activation vous a été envoyé."
	if !res.Notified {
		message = "Votre compte a été créé mais l'e-mail d'activation n'a pas pu être envoyé. Réessayez plus tard."
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":  true,
		"message":  message,
		"notified": res.Notified,
		"user": fiber.Map{
			"id":        res.Account.ID,
			"email":     res.Account.Email,
			"is_active": res.Account.IsActive,
		},
	})
}

// Activate redeems an activation link.
func (h *AuthHandler) Activate(c *fiber.Ctx) error {
	user, err := h.activation.Activate(c.UserContext(), c.Params("token"))
	if err != nil {
		return domainError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Votre compte est activé. Vous pouvez vous connecter.",
		"user": fiber.Map{
			"id":        user.ID,
			"email":     user.Email,
			"is_active": user.IsActive,
		},
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates an active account and returns a session token.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, msgInvalidBody)
	}

	var user models.User
	if err := h.db.WithContext(c.UserContext()).
		Where("email = ?", models.NormalizeEmail(req.Email)).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
		}
		return err
	}

	if !utils.CheckPassword(user.PasswordHash, req.Password) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid credentials")
	}
	if !user.IsActive {
		return fiber.NewError(fiber.StatusForbidden, "Votre compte n'est pas encore activé.")
	}

	token, err := utils.GenerateToken(h.cfg.JWTSecret, user.ID, h.cfg.TokenExpires)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to generate token")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"user": fiber.Map{
			"id":        user.ID,
			"email":     user.Email,
			"full_name": user.FullName(),
			"is_staff":  user.IsStaff,
		},
		"token": token,
	})
}
