package handlers

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/documents"
	"github.com/Lapin-Blanc/electruc-portal/internal/middleware"
	"github.com/Lapin-Blanc/electruc-portal/internal/models"
	"github.com/Lapin-Blanc/electruc-portal/internal/storage"
	"github.com/Lapin-Blanc/electruc-portal/internal/utils"
)

const dashboardReadings = 5

var supportedLanguages = map[string]bool{"fr": true, "nl": true, "en": true}

// ClientHandler serves the authenticated client area.
type ClientHandler struct {
	db    *gorm.DB
	store *storage.Store
	log   *zap.Logger

	Now func() time.Time
}

// NewClientHandler constructs a ClientHandler.
func NewClientHandler(db *gorm.DB, store *storage.Store, log *zap.Logger) *ClientHandler {
	return &ClientHandler{db: db, store: store, log: log, Now: time.Now}
}

func currentUser(c *fiber.Ctx) (*models.User, error) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}
	return user, nil
}

func parseID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusNotFound, msgNotFound)
	}
	return id, nil
}

func notFoundOr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fiber.NewError(fiber.StatusNotFound, msgNotFound)
	}
	return err
}

func sendPDF(c *fiber.Ctx, filename string, pdf []byte) error {
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Send(pdf)
}

func (h *ClientHandler) profile(c *fiber.Ctx, userID uuid.UUID) (*models.CustomerProfile, error) {
	var profile models.CustomerProfile
	err := h.db.WithContext(c.UserContext()).Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// Dashboard returns the latest validated readings and invoice summary.
func (h *ClientHandler) Dashboard(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	db := h.db.WithContext(c.UserContext())

	var readings []models.MeterReading
	if err := db.Where("user_id = ? AND status = ?", user.ID, models.ReadingValidated).
		Order("reading_date desc").
		Limit(dashboardReadings).
		Find(&readings).Error; err != nil {
		return err
	}
	for i, j := 0, len(readings)-1; i < j; i, j = i+1, j-1 {
		readings[i], readings[j] = readings[j], readings[i]
	}

	var invoiceCount int64
	if err := db.Model(&models.Invoice{}).Where("user_id = ?", user.ID).Count(&invoiceCount).Error; err != nil {
		return err
	}

	var latest *models.Invoice
	var invoice models.Invoice
	err = db.Where("user_id = ?", user.ID).Order("issue_date desc").First(&invoice).Error
	switch {
	case err == nil:
		latest = &invoice
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"readings":       readings,
			"invoices_count": invoiceCount,
			"latest_invoice": latest,
		},
	})
}

// GetProfile returns the client profile.
func (h *ClientHandler) GetProfile(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	profile, err := h.profile(c, user.ID)
	if err != nil {
		return err
	}
	if profile == nil {
		return fiber.NewError(fiber.StatusNotFound, "Profil non disponible.")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"email":   user.Email,
			"profile": profile,
		},
	})
}

type profileRequest struct {
	BillingAddressStreet     *string `json:"billing_address_street"`
	BillingAddressNumber     *string `json:"billing_address_number"`
	BillingAddressPostalCode *string `json:"billing_address_postal_code"`
	BillingAddressCity       *string `json:"billing_address_city"`
	Phone                    *string `json:"phone"`
	PreferredContact         *string `json:"preferred_contact"`
	Language                 *string `json:"language"`
	Email                    *string `json:"email"`
}

// normalizeLanguage maps a BCP 47 tag to one of the portal languages.
func normalizeLanguage(value string) (string, bool) {
	tag, err := language.Parse(strings.TrimSpace(value))
	if err != nil {
		return "", false
	}
	base, _ := tag.Base()
	if !supportedLanguages[base.String()] {
		return "", false
	}
	return base.String(), true
}

// UpdateProfile changes contact and billing details. Absent fields are kept.
func (h *ClientHandler) UpdateProfile(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	var req profileRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, msgInvalidBody)
	}

	profile, err := h.profile(c, user.ID)
	if err != nil {
		return err
	}
	if profile == nil {
		return fiber.NewError(fiber.StatusNotFound, "Profil non disponible.")
	}

	fields := map[string][]string{}
	updates := map[string]interface{}{}
	set := func(column string, value *string) {
		if value != nil {
			updates[column] = strings.TrimSpace(*value)
		}
	}
	set("billing_address_street", req.BillingAddressStreet)
	set("billing_address_number", req.BillingAddressNumber)
	set("billing_address_postal_code", req.BillingAddressPostalCode)
	set("billing_address_city", req.BillingAddressCity)
	set("phone", req.Phone)

	if req.PreferredContact != nil {
		switch *req.PreferredContact {
		case models.ContactEmail, models.ContactPhone:
			updates["preferred_contact"] = *req.PreferredContact
		default:
			fields["preferred_contact"] = []string{"Choix invalide."}
		}
	}
	if req.Language != nil {
		if lang, ok := normalizeLanguage(*req.Language); ok {
			updates["language"] = lang
		} else {
			fields["language"] = []string{"Langue non prise en charge."}
		}
	}

	var email string
	if req.Email != nil {
		email = models.NormalizeEmail(*req.Email)
		if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
			fields["email"] = []string{"Saisissez une adresse e-mail valide."}
		}
	}
	if len(fields) > 0 {
		return fieldErrors(c, fields)
	}

	err = h.db.WithContext(c.UserContext()).Transaction(func(tx *gorm.DB) error {
		if email != "" && email != user.Email {
			var taken int64
			if err := tx.Model(&models.User{}).Where("email = ? AND id <> ?", email, user.ID).Count(&taken).Error; err != nil {
				return err
			}
			if taken > 0 {
				return fiber.NewError(fiber.StatusConflict, "Cette adresse e-mail est déjà utilisée.")
			}
			if err := tx.Model(user).Update("email", email).Error; err != nil {
				return err
			}
			user.Email = email
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(profile).Updates(updates).Error
	})
	if err != nil {
		return err
	}

	if err := h.db.WithContext(c.UserContext()).First(profile, "id = ?", profile.ID).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Vos coordonnées ont été mises à jour.",
		"data": fiber.Map{
			"email":   user.Email,
			"profile": profile,
		},
	})
}

func (h *ClientHandler) latestContract(c *fiber.Ctx, userID uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	if err := h.db.WithContext(c.UserContext()).
		Preload("MeterPoint").
		Where("user_id = ?", userID).
		Order("start_date desc").
		First(&contract).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fiber.NewError(fiber.StatusNotFound, "Contrat non disponible.")
		}
		return nil, err
	}
	return &contract, nil
}

// Contract returns the current contract with the client profile.
func (h *ClientHandler) Contract(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	contract, err := h.latestContract(c, user.ID)
	if err != nil {
		return err
	}
	profile, err := h.profile(c, user.ID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"contract": contract,
			"profile":  profile,
		},
	})
}

// ContractPDF renders the contract summary.
func (h *ClientHandler) ContractPDF(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	contract, err := h.latestContract(c, user.ID)
	if err != nil {
		return err
	}
	profile, err := h.profile(c, user.ID)
	if err != nil {
		return err
	}

	holder := []string{user.FullName(), user.Email}
	data := documents.ContractData{Contract: contract}
	if profile != nil {
		holder = append(holder,
			strings.TrimSpace(profile.SupplyAddressStreet+" "+profile.SupplyAddressNumber),
			strings.TrimSpace(profile.SupplyAddressPostalCode+" "+profile.SupplyAddressCity),
		)
		data.EAN = profile.EAN
	}
	data.Holder = holder

	pdf, err := documents.Contract(data)
	if err != nil {
		return err
	}
	return sendPDF(c, fmt.Sprintf("contrat-%s.pdf", contract.Reference), pdf)
}

// Terms renders the general terms of sale.
func (h *ClientHandler) Terms(c *fiber.Ctx) error {
	pdf, err := documents.Terms()
	if err != nil {
		return err
	}
	return sendPDF(c, "cgv_electruc.pdf", pdf)
}

// ListInvoices returns the client's invoices, newest first.
func (h *ClientHandler) ListInvoices(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	pg := utils.ParsePagination(c)
	query := h.db.WithContext(c.UserContext()).Model(&models.Invoice{}).Where("user_id = ?", user.ID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var invoices []models.Invoice
	if err := h.db.WithContext(c.UserContext()).
		Where("user_id = ?", user.ID).
		Order("issue_date desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&invoices).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       invoices,
		"pagination": pg.Meta(total),
	})
}

// InvoicePDF returns the stored invoice document, or renders one. Invoices
// of other accounts are reported as missing.
func (h *ClientHandler) InvoicePDF(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var invoice models.Invoice
	if err := h.db.WithContext(c.UserContext()).
		Where("id = ? AND user_id = ?", id, user.ID).
		First(&invoice).Error; err != nil {
		return notFoundOr(err)
	}

	filename := fmt.Sprintf("facture-%s.pdf", storage.SafeName(invoice.Reference))
	if invoice.PDFPath != "" {
		pdf, err := h.store.ReadFile(invoice.PDFPath)
		if err == nil {
			return sendPDF(c, filename, pdf)
		}
		h.log.Warn("stored invoice missing, rendering instead",
			zap.String("invoice_id", invoice.ID.String()),
			zap.Error(err),
		)
	}

	client := []string{user.FullName(), user.Email}
	profile, err := h.profile(c, user.ID)
	if err != nil {
		return err
	}
	if profile != nil {
		client = append(client, billingLines(profile)...)
	}

	pdf, err := documents.Invoice(documents.InvoiceData{Invoice: &invoice, Client: client})
	if err != nil {
		return err
	}
	return sendPDF(c, filename, pdf)
}

// billingLines returns the billing address, falling back to the supply address.
func billingLines(p *models.CustomerProfile) []string {
	if p.BillingAddressStreet != "" {
		return []string{
			strings.TrimSpace(p.BillingAddressStreet + " " + p.BillingAddressNumber),
			strings.TrimSpace(p.BillingAddressPostalCode + " " + p.BillingAddressCity),
		}
	}
	return []string{
		strings.TrimSpace(p.SupplyAddressStreet + " " + p.SupplyAddressNumber),
		strings.TrimSpace(p.SupplyAddressPostalCode + " " + p.SupplyAddressCity),
	}
}
