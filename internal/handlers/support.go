package handlers

import (
	"fmt"
	"io"
	"mime/multipart"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Lapin-Blanc/electruc-portal/internal/documents"
	"github.com/Lapin-Blanc/electruc-portal/internal/models"
	"github.com/Lapin-Blanc/electruc-portal/internal/storage"
)

const maxSubject = 120

func (h *ClientHandler) saveUpload(dir string, header *multipart.FileHeader) (*storage.File, error) {
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	return h.store.Save(dir, header.Filename, f)
}

func (h *ClientHandler) discard(files []*storage.File) {
	for _, f := range files {
		if err := h.store.Remove(f.Path); err != nil {
			h.log.Warn("failed to remove upload", zap.String("path", f.Path), zap.Error(err))
		}
	}
}

func (h *ClientHandler) sendStored(c *fiber.Ctx, storedPath, name, contentType string) error {
	f, err := h.store.Open(storedPath)
	if err != nil {
		h.log.Warn("stored file missing", zap.String("path", storedPath), zap.Error(err))
		return fiber.NewError(fiber.StatusNotFound, msgNotFound)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	if name == "" {
		name = path.Base(storedPath)
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, storage.SafeName(name)))
	return c.Send(data)
}

func uploadedFiles(c *fiber.Ctx, field string) []*multipart.FileHeader {
	form, err := c.MultipartForm()
	if err != nil {
		return nil
	}
	return form.File[field]
}

// ListRequests returns the client's support requests with attachments.
func (h *ClientHandler) ListRequests(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var requests []models.SupportRequest
	if err := h.db.WithContext(c.UserContext()).
		Preload("Attachments").
		Where("user_id = ?", user.ID).
		Order("created_at desc").
		Find(&requests).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": requests})
}

// CreateRequest stores a support request from a multipart form with optional
// "attachments" files.
func (h *ClientHandler) CreateRequest(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	subject := strings.TrimSpace(c.FormValue("subject"))
	message := strings.TrimSpace(c.FormValue("message"))

	fields := map[string][]string{}
	switch {
	case subject == "":
		fields["subject"] = []string{"Ce champ est obligatoire."}
	case utf8.RuneCountInString(subject) > maxSubject:
		fields["subject"] = []string{"L'objet ne peut pas dépasser 120 caractères."}
	}
	if message == "" {
		fields["message"] = []string{"Ce champ est obligatoire."}
	}
	if len(fields) > 0 {
		return fieldErrors(c, fields)
	}

	dir := path.Join("attachments", user.ID.String())
	var saved []*storage.File
	for _, header := range uploadedFiles(c, "attachments") {
		file, err := h.saveUpload(dir, header)
		if err != nil {
			h.discard(saved)
			return domainError(c, err)
		}
		saved = append(saved, file)
	}

	request := models.SupportRequest{
		UserID:  user.ID,
		Subject: subject,
		Message: message,
		Status:  models.RequestOpen,
	}
	for _, f := range saved {
		request.Attachments = append(request.Attachments, models.Attachment{
			Path:         f.Path,
			OriginalName: f.OriginalName,
			ContentType:  f.ContentType,
			Size:         f.Size,
		})
	}
	if err := h.db.WithContext(c.UserContext()).Create(&request).Error; err != nil {
		h.discard(saved)
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Votre demande a bien été enregistrée.",
		"data":    request,
	})
}

// AttachmentDownload serves an attachment of one of the client's requests.
func (h *ClientHandler) AttachmentDownload(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var attachment models.Attachment
	if err := h.db.WithContext(c.UserContext()).
		Joins("JOIN support_requests ON support_requests.id = attachments.support_request_id").
		Where("attachments.id = ? AND support_requests.user_id = ?", id, user.ID).
		First(&attachment).Error; err != nil {
		return notFoundOr(err)
	}
	return h.sendStored(c, attachment.Path, attachment.OriginalName, attachment.ContentType)
}

// ListDirectDebits returns the client's direct debit requests.
func (h *ClientHandler) ListDirectDebits(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	var history []models.Domiciliation
	if err := h.db.WithContext(c.UserContext()).
		Where("user_id = ?", user.ID).
		Order("created_at desc").
		Find(&history).Error; err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "data": history})
}

// CreateDirectDebit stores a signed mandate uploaded as "document".
func (h *ClientHandler) CreateDirectDebit(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	files := uploadedFiles(c, "document")
	if len(files) == 0 {
		return fieldErrors(c, map[string][]string{"document": {"Ce champ est obligatoire."}})
	}

	file, err := h.saveUpload(path.Join("domiciliations", user.ID.String()), files[0])
	if err != nil {
		return domainError(c, err)
	}

	request := models.Domiciliation{
		UserID:       user.ID,
		Status:       models.DomiciliationPending,
		DocumentPath: file.Path,
		OriginalName: file.OriginalName,
		ContentType:  file.ContentType,
	}
	if err := h.db.WithContext(c.UserContext()).Create(&request).Error; err != nil {
		h.discard([]*storage.File{file})
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"message": "Votre demande de domiciliation a été envoyée.",
		"data":    request,
	})
}

// DirectDebitDocument serves the document of one of the client's requests.
func (h *ClientHandler) DirectDebitDocument(c *fiber.Ctx) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var request models.Domiciliation
	if err := h.db.WithContext(c.UserContext()).
		Where("id = ? AND user_id = ?", id, user.ID).
		First(&request).Error; err != nil {
		return notFoundOr(err)
	}
	return h.sendStored(c, request.DocumentPath, request.OriginalName, request.ContentType)
}

// DirectDebitForm renders the blank SEPA mandate.
func (h *ClientHandler) DirectDebitForm(c *fiber.Ctx) error {
	pdf, err := documents.DirectDebitForm()
	if err != nil {
		return err
	}
	return sendPDF(c, "mandat_domiciliation.pdf", pdf)
}
