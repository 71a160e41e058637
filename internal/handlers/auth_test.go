package handlers_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lapin-Blanc/electruc-portal/internal/activation"
	"github.com/Lapin-Blanc/electruc-portal/internal/config"
	"github.com/Lapin-Blanc/electruc-portal/internal/testutil"
)

func TestRegisterActivateLogin(t *testing.T) {
	e := newEnv(t)

	res := e.request(http.MethodPost, "/api/auth/register", e.registerBody(testEmail), "")
	require.Equal(t, fiber.StatusCreated, res.status, "body: %s", res.body)
	body := res.json(t)
	assert.Equal(t, true, body["notified"])

	res = e.request(http.MethodPost, "/api/auth/login", map[string]string{"email": testEmail, "password": testPassword}, "")
	assert.Equal(t, fiber.StatusForbidden, res.status, "inactive account cannot log in")

	link := e.notifier.last(t).ActivationURL
	require.True(t, strings.HasPrefix(link, "http://portal.test"+activation.ActivationPath))
	res = e.request(http.MethodGet, activation.ActivationPath+activation.TokenFromURL(link), nil, "")
	require.Equal(t, fiber.StatusOK, res.status, "body: %s", res.body)

	token := e.login(testEmail, testPassword)
	res = e.request(http.MethodGet, "/api/client/dashboard", nil, token)
	require.Equal(t, fiber.StatusOK, res.status, "body: %s", res.body)
	data := res.json(t)["data"].(map[string]any)
	assert.EqualValues(t, 5, data["invoices_count"])
	assert.Len(t, data["readings"], 5)
	assert.NotNil(t, data["latest_invoice"])
}

func TestRegister_InvalidCodeAndUnknownEANLookAlike(t *testing.T) {
	e := newEnv(t)

	wrong := e.registerBody(testEmail)
	wrong.Code = "AAAA-AAAA-AAAA"
	res := e.request(http.MethodPost, "/api/auth/register", wrong, "")
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	wrongMsg := res.json(t)["error"]

	unknown := e.registerBody(testEmail)
	unknown.EAN = "549999999999999999"
	res = e.request(http.MethodPost, "/api/auth/register", unknown, "")
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, wrongMsg, res.json(t)["error"])
	assert.Equal(t, "Invitation invalide, expirée ou déjà utilisée.", wrongMsg)
}

func TestRegister_ReservedInvitationLooksLikeWrongCode(t *testing.T) {
	e := newEnv(t)

	res := e.request(http.MethodPost, "/api/auth/register", e.registerBody(testEmail), "")
	require.Equal(t, fiber.StatusCreated, res.status, "body: %s", res.body)

	wrong := e.registerBody("intruder@example.com")
	wrong.Code = "AAAA-AAAA-AAAA"
	res = e.request(http.MethodPost, "/api/auth/register", wrong, "")
	require.Equal(t, fiber.StatusBadRequest, res.status)
	wrongMsg := res.json(t)["error"]

	res = e.request(http.MethodPost, "/api/auth/register", e.registerBody("intruder@example.com"), "")
	assert.Equal(t, fiber.StatusBadRequest, res.status, "body: %s", res.body)
	assert.Equal(t, wrongMsg, res.json(t)["error"])
	assert.Equal(t, "Invitation invalide, expirée ou déjà utilisée.", wrongMsg)
}

func TestRegister_LockedAfterRepeatedFailures(t *testing.T) {
	e := newEnv(t)

	wrong := e.registerBody(testEmail)
	wrong.Code = "AAAA-AAAA-AAAA"
	for i := 0; i < e.cfg.Invitation.MaxAttempts; i++ {
		res := e.request(http.MethodPost, "/api/auth/register", wrong, "")
		require.Equal(t, fiber.StatusBadRequest, res.status)
	}

	res := e.request(http.MethodPost, "/api/auth/register", e.registerBody(testEmail), "")
	assert.Equal(t, fiber.StatusLocked, res.status, "correct code refused while locked")
	assert.Equal(t, "Trop de tentatives. Réessayez dans 15 minutes.", res.json(t)["error"])
}

func TestRegister_ValidationErrors(t *testing.T) {
	e := newEnv(t)

	req := e.registerBody("not-an-email")
	req.PasswordConfirm = "something-else"
	f := fields(t, e.request(http.MethodPost, "/api/auth/register", req, ""))
	assert.Contains(t, f, "email")
	assert.Contains(t, f, "password_confirm")
}

func TestRegister_EmailOfActiveAccount(t *testing.T) {
	e := newEnv(t)
	testutil.User(t, e.db, testEmail, testPassword, true)

	res := e.request(http.MethodPost, "/api/auth/register", e.registerBody(testEmail), "")
	assert.Equal(t, fiber.StatusConflict, res.status)
}

func TestRegister_RateLimited(t *testing.T) {
	e := newEnv(t, func(cfg *config.Config) { cfg.RegisterRatePerMinute = 2 })

	wrong := e.registerBody(testEmail)
	wrong.Code = "AAAA-AAAA-AAAA"
	for i := 0; i < 2; i++ {
		res := e.request(http.MethodPost, "/api/auth/register", wrong, "")
		require.Equal(t, fiber.StatusBadRequest, res.status)
	}
	res := e.request(http.MethodPost, "/api/auth/register", wrong, "")
	assert.Equal(t, fiber.StatusTooManyRequests, res.status)
}

func TestActivate_InvalidToken(t *testing.T) {
	e := newEnv(t)

	res := e.request(http.MethodGet, activation.ActivationPath+"not-a-token", nil, "")
	assert.Equal(t, fiber.StatusBadRequest, res.status)
	assert.Equal(t, false, res.json(t)["success"])
}

func TestActivate_Twice(t *testing.T) {
	e := newEnv(t)
	e.activeClient()

	link := e.notifier.last(t).ActivationURL
	res := e.request(http.MethodGet, activation.ActivationPath+activation.TokenFromURL(link), nil, "")
	assert.Equal(t, fiber.StatusOK, res.status)
}

func TestLogin_WrongPassword(t *testing.T) {
	e := newEnv(t)
	testutil.User(t, e.db, testEmail, testPassword, true)

	res := e.request(http.MethodPost, "/api/auth/login", map[string]string{"email": testEmail, "password": "nope"}, "")
	assert.Equal(t, fiber.StatusUnauthorized, res.status)
}

func TestContact(t *testing.T) {
	e := newEnv(t)

	res := e.request(http.MethodPost, "/api/contact", map[string]string{
		"name":    "Jean Martin",
		"email":   "jean@example.com",
		"message": "Bonjour, j'ai une question sur ma facture.",
	}, "")
	require.Equal(t, fiber.StatusOK, res.status, "body: %s", res.body)
	require.Len(t, e.alerter.contacts, 1)
	assert.Equal(t, "Jean Martin", e.alerter.contacts[0].Name)

	f := fields(t, e.request(http.MethodPost, "/api/contact", map[string]string{
		"name":    strings.Repeat("x", 101),
		"email":   "jean@example.com",
		"message": strings.Repeat("y", 2001),
	}, ""))
	assert.Contains(t, f, "name")
	assert.Contains(t, f, "message")
	assert.Len(t, e.alerter.contacts, 1)
}
