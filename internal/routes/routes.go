package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/config"
	"github.com/Lapin-Blanc/electruc-portal/internal/handlers"
	"github.com/Lapin-Blanc/electruc-portal/internal/middleware"
)

// Several attachments of up to 5 MB each fit in one request.
const bodyLimit = 32 << 20

// NewApp creates the fiber application with the shared middleware stack.
func NewApp(cfg *config.Config, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      cfg.ServiceName,
		BodyLimit:    bodyLimit,
		ErrorHandler: middleware.ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger(log))

	return app
}

// Handlers groups every HTTP handler mounted by Register.
type Handlers struct {
	Auth   *handlers.AuthHandler
	Client *handlers.ClientHandler
	Admin  *handlers.AdminHandler
	Public *handlers.PublicHandler
}

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config, h Handlers) {
	api := app.Group("/api")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"success": true, "status": "ok"})
	})
	api.Post("/contact", h.Public.Contact)

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", middleware.RateLimit(middleware.NewIPRateLimiter(cfg.RegisterRatePerMinute)), h.Auth.Register)
	auth.Get("/activation/:token", h.Auth.Activate)
	auth.Post("/login", h.Auth.Login)

	// Client area
	client := api.Group("/client", middleware.AuthMiddleware(db, cfg))
	client.Get("/dashboard", h.Client.Dashboard)
	client.Get("/profile", h.Client.GetProfile)
	client.Put("/profile", h.Client.UpdateProfile)
	client.Get("/contract", h.Client.Contract)
	client.Get("/contract/pdf", h.Client.ContractPDF)
	client.Get("/contract/terms", h.Client.Terms)

	client.Get("/invoices", h.Client.ListInvoices)
	client.Get("/invoices/:id/pdf", h.Client.InvoicePDF)

	client.Get("/readings", h.Client.ListReadings)
	client.Post("/readings", h.Client.SubmitReading)

	client.Get("/requests", h.Client.ListRequests)
	client.Post("/requests", h.Client.CreateRequest)
	client.Get("/requests/attachments/:id", h.Client.AttachmentDownload)

	client.Get("/direct-debit", h.Client.ListDirectDebits)
	client.Post("/direct-debit", h.Client.CreateDirectDebit)
	client.Get("/direct-debit/form", h.Client.DirectDebitForm)
	client.Get("/direct-debit/:id/document", h.Client.DirectDebitDocument)

	// Staff routes
	admin := api.Group("/admin", middleware.AuthMiddleware(db, cfg), middleware.RequireStaff())
	admin.Get("/meter-points", h.Admin.ListMeterPoints)
	admin.Post("/meter-points/import", h.Admin.ImportMeterPoints)
	admin.Get("/meter-points/:ean", h.Admin.GetMeterPoint)
	admin.Post("/meter-points/:ean/invitations", h.Admin.IssueInvitation)
	admin.Get("/invitations", h.Admin.ListInvitations)
	admin.Post("/invitations/export", h.Admin.ExportInvitations)
	admin.Get("/accounts", h.Admin.ListAccounts)
	admin.Patch("/readings/:id", h.Admin.ModerateReading)
}
