package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/config"
	"github.com/Lapin-Blanc/electruc-portal/internal/documents"
	"github.com/Lapin-Blanc/electruc-portal/internal/importer"
	"github.com/Lapin-Blanc/electruc-portal/internal/invitation"
	"github.com/Lapin-Blanc/electruc-portal/internal/models"
	"github.com/Lapin-Blanc/electruc-portal/internal/secretcode"
	"github.com/Lapin-Blanc/electruc-portal/internal/utils"
)

// RegistrationPagePath is where invitation letters send holders.
const RegistrationPagePath = "/inscription"

// RejectedReadingNote is stored on rejected readings when staff give no note.
const RejectedReadingNote = "Relevé à vérifier."

// AdminHandler manages staff-only endpoints.
type AdminHandler struct {
	db        *gorm.DB
	lifecycle *invitation.Lifecycle
	importer  *importer.Importer
	cfg       *config.Config
	log       *zap.Logger
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(db *gorm.DB, lifecycle *invitation.Lifecycle, imp *importer.Importer, cfg *config.Config, log *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, lifecycle: lifecycle, importer: imp, cfg: cfg, log: log}
}

func (h *AdminHandler) registrationURL() string {
	return strings.TrimRight(h.cfg.SiteURL, "/") + RegistrationPagePath
}

func (h *AdminHandler) letter(mp *models.MeterPoint, inv *models.Invitation, code string) documents.LetterData {
	return documents.LetterData{
		MeterPoint:      mp,
		Code:            code,
		ExpiresAt:       inv.ExpiresAt,
		RegistrationURL: h.registrationURL(),
	}
}

func sendZip(c *fiber.Ctx, filename string, data []byte) error {
	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, filename))
	return c.Send(data)
}

func (h *AdminHandler) meterPointByEAN(c *fiber.Ctx, ean string) (*models.MeterPoint, error) {
	var mp models.MeterPoint
	if err := h.db.WithContext(c.UserContext()).Where("ean = ?", strings.TrimSpace(ean)).First(&mp).Error; err != nil {
		return nil, notFoundOr(err)
	}
	return &mp, nil
}

// ListMeterPoints returns meter points with pagination and an optional EAN
// prefix filter.
func (h *AdminHandler) ListMeterPoints(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	filter := func(tx *gorm.DB) *gorm.DB {
		if q := strings.TrimSpace(c.Query("search")); q != "" {
			return tx.Where("ean LIKE ?", q+"%")
		}
		return tx
	}
	db := h.db.WithContext(c.UserContext())

	var total int64
	if err := db.Model(&models.MeterPoint{}).Scopes(filter).Count(&total).Error; err != nil {
		return err
	}

	var meterPoints []models.MeterPoint
	if err := db.Scopes(filter).
		Order("ean asc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&meterPoints).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       meterPoints,
		"pagination": pg.Meta(total),
	})
}

// GetMeterPoint returns a meter point with its history and invitations.
func (h *AdminHandler) GetMeterPoint(c *fiber.Ctx) error {
	var mp models.MeterPoint
	if err := h.db.WithContext(c.UserContext()).
		Preload("History", func(tx *gorm.DB) *gorm.DB { return tx.Order("period_start asc") }).
		Where("ean = ?", c.Params("ean")).
		First(&mp).Error; err != nil {
		return notFoundOr(err)
	}

	invitations, _, err := h.lifecycle.List(c.UserContext(), utils.NewPagination(1, 50), &mp.ID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"meter_point": mp,
			"invitations": invitations,
		},
	})
}

func rowErrors(res *importer.Result) []string {
	var merr *multierror.Error
	if !errors.As(res.Err(), &merr) {
		return []string{}
	}
	out := make([]string, 0, len(merr.Errors))
	for _, err := range merr.Errors {
		out = append(out, err.Error())
	}
	return out
}

// ImportMeterPoints loads a CSV uploaded as "file". With issue=true an
// invitation is created per row and the letters come back as a ZIP.
func (h *AdminHandler) ImportMeterPoints(c *fiber.Ctx) error {
	header, err := c.FormFile("file")
	if err != nil {
		return fieldErrors(c, map[string][]string{"file": {"Ce champ est obligatoire."}})
	}
	issue, _ := strconv.ParseBool(c.FormValue("issue", c.Query("issue")))

	f, err := header.Open()
	if err != nil {
		return err
	}
	defer f.Close()

	res, err := h.importer.Import(c.UserContext(), f, importer.Options{
		HistoryMonths: h.cfg.Invitation.HistoryMonths,
		Issue:         issue,
		TTL:           h.cfg.Invitation.TTL,
	})
	if err != nil {
		if errors.Is(err, importer.ErrMissingColumns) {
			return fieldErrors(c, map[string][]string{"file": {err.Error()}})
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	if issue && len(res.Issued) > 0 {
		letters := make([]documents.LetterData, len(res.Issued))
		for i, issued := range res.Issued {
			letters[i] = h.letter(issued.MeterPoint, issued.Invitation, issued.Code)
		}
		var buf bytes.Buffer
		if err := documents.BulkLetters(c.UserContext(), &buf, letters); err != nil {
			return err
		}
		c.Set("X-Import-Created", strconv.Itoa(res.Created))
		c.Set("X-Import-Updated", strconv.Itoa(res.Updated))
		c.Set("X-Import-Errors", strconv.Itoa(res.Errors))
		return sendZip(c, "invitations.zip", buf.Bytes())
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"created":    res.Created,
			"updated":    res.Updated,
			"errors":     res.Errors,
			"row_errors": rowErrors(res),
		},
	})
}

// IssueInvitation supersedes the outstanding invitation of a meter point and
// returns the letter of the new one. With format=json the plaintext code is
// returned instead; it is never shown again.
func (h *AdminHandler) IssueInvitation(c *fiber.Ctx) error {
	mp, err := h.meterPointByEAN(c, c.Params("ean"))
	if err != nil {
		return err
	}

	inv, code, err := h.lifecycle.Issue(c.UserContext(), mp, h.cfg.Invitation.TTL)
	if err != nil {
		return err
	}
	h.log.Info("invitation issued",
		zap.String("ean", mp.EAN),
		zap.String("invitation_id", inv.ID.String()),
	)

	if c.Query("format") == "json" {
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"success": true,
			"data": fiber.Map{
				"invitation": inv,
				"code":       secretcode.Group(code),
			},
		})
	}

	pdf, err := documents.Letter(h.letter(mp, inv, code))
	if err != nil {
		return err
	}
	c.Status(fiber.StatusCreated)
	return sendPDF(c, documents.LetterFileName(mp.EAN), pdf)
}

// ListInvitations returns invitations with their derived state. The ean
// query parameter restricts the list to one meter point.
func (h *AdminHandler) ListInvitations(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)

	var meterPointID *uuid.UUID
	if ean := c.Query("ean"); ean != "" {
		mp, err := h.meterPointByEAN(c, ean)
		if err != nil {
			return err
		}
		meterPointID = &mp.ID
	}

	views, total, err := h.lifecycle.List(c.UserContext(), pg, meterPointID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"data":       views,
		"pagination": pg.Meta(total),
	})
}

type exportRequest struct {
	EANs []string `json:"eans"`
}

// ExportInvitations reissues invitations for a list of EANs and returns the
// letters as a ZIP. Nothing is issued when an EAN is unknown.
func (h *AdminHandler) ExportInvitations(c *fiber.Ctx) error {
	var req exportRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, msgInvalidBody)
	}

	seen := map[string]bool{}
	eans := make([]string, 0, len(req.EANs))
	for _, ean := range req.EANs {
		ean = strings.TrimSpace(ean)
		if ean != "" && !seen[ean] {
			seen[ean] = true
			eans = append(eans, ean)
		}
	}
	if len(eans) == 0 {
		return fieldErrors(c, map[string][]string{"eans": {"Sélectionnez au moins un point de fourniture."}})
	}

	var meterPoints []models.MeterPoint
	if err := h.db.WithContext(c.UserContext()).Where("ean IN ?", eans).Find(&meterPoints).Error; err != nil {
		return err
	}
	byEAN := make(map[string]*models.MeterPoint, len(meterPoints))
	for i := range meterPoints {
		byEAN[meterPoints[i].EAN] = &meterPoints[i]
	}
	var unknown []string
	for _, ean := range eans {
		if byEAN[ean] == nil {
			unknown = append(unknown, "EAN inconnu: "+ean)
		}
	}
	if len(unknown) > 0 {
		return fieldErrors(c, map[string][]string{"eans": unknown})
	}

	letters := make([]documents.LetterData, 0, len(eans))
	for _, ean := range eans {
		mp := byEAN[ean]
		inv, code, err := h.lifecycle.Issue(c.UserContext(), mp, h.cfg.Invitation.TTL)
		if err != nil {
			return err
		}
		letters = append(letters, h.letter(mp, inv, code))
	}

	var buf bytes.Buffer
	if err := documents.BulkLetters(c.UserContext(), &buf, letters); err != nil {
		return err
	}
	h.log.Info("invitations reissued", zap.Int("count", len(letters)))
	return sendZip(c, "invitations.zip", buf.Bytes())
}

// ListAccounts returns portal accounts, newest first.
func (h *AdminHandler) ListAccounts(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	db := h.db.WithContext(c.UserContext())

	var total int64
	if err := db.Model(&models.User{}).Count(&total).Error; err != nil {
		return err
	}

	var users []models.User
	if err := db.Order("created_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&users).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       users,
		"pagination": pg.Meta(total),
	})
}

type moderateRequest struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

// ModerateReading validates or rejects a submitted reading.
func (h *AdminHandler) ModerateReading(c *fiber.Ctx) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req moderateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, msgInvalidBody)
	}

	note := strings.TrimSpace(req.Note)
	switch req.Status {
	case models.ReadingValidated:
	case models.ReadingRejected:
		if note == "" {
			note = RejectedReadingNote
		}
	default:
		return fieldErrors(c, map[string][]string{"status": {"Choix invalide."}})
	}

	var reading models.MeterReading
	db := h.db.WithContext(c.UserContext())
	if err := db.First(&reading, "id = ?", id).Error; err != nil {
		return notFoundOr(err)
	}
	if err := db.Model(&reading).Updates(map[string]interface{}{
		"status": req.Status,
		"note":   note,
	}).Error; err != nil {
		return err
	}
	reading.Status = req.Status
	reading.Note = note

	return c.JSON(fiber.Map{"success": true, "data": reading})
}
