package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/activation"
	"github.com/Lapin-Blanc/electruc-portal/internal/config"
	"github.com/Lapin-Blanc/electruc-portal/internal/handlers"
	"github.com/Lapin-Blanc/electruc-portal/internal/importer"
	"github.com/Lapin-Blanc/electruc-portal/internal/invitation"
	"github.com/Lapin-Blanc/electruc-portal/internal/models"
	"github.com/Lapin-Blanc/electruc-portal/internal/notify"
	"github.com/Lapin-Blanc/electruc-portal/internal/provisioning"
	"github.com/Lapin-Blanc/electruc-portal/internal/registration"
	"github.com/Lapin-Blanc/electruc-portal/internal/routes"
	"github.com/Lapin-Blanc/electruc-portal/internal/secretcode"
	"github.com/Lapin-Blanc/electruc-portal/internal/storage"
	"github.com/Lapin-Blanc/electruc-portal/internal/testutil"
	"github.com/Lapin-Blanc/electruc-portal/internal/utils"
)

const (
	testEmail    = "jean.martin@example.com"
	testPassword = "Vertes-Prairies-42"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.ActivationMessage
}

func (n *recordingNotifier) SendActivation(_ context.Context, msg notify.ActivationMessage) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) last(t *testing.T) notify.ActivationMessage {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no activation message sent")
	return n.sent[len(n.sent)-1]
}

type recordingAlerter struct {
	mu       sync.Mutex
	contacts []notify.ContactMessage
}

func (a *recordingAlerter) NotifyContact(_ context.Context, msg notify.ContactMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.contacts = append(a.contacts, msg)
	return nil
}

type env struct {
	t          *testing.T
	db         *gorm.DB
	cfg        *config.Config
	app        *fiber.App
	notifier   *recordingNotifier
	alerter    *recordingAlerter
	meterPoint *models.MeterPoint
	code       string
}

func newEnv(t *testing.T, tweak ...func(*config.Config)) *env {
	t.Helper()
	db := testutil.DB(t)
	cfg := testutil.Config()
	cfg.RegisterRatePerMinute = 1000
	for _, fn := range tweak {
		fn(cfg)
	}
	log := zap.NewNop()

	codec, err := secretcode.New(bcrypt.MinCost)
	require.NoError(t, err)
	lc := invitation.NewLifecycle(db, codec, cfg.Invitation)
	act := activation.NewService(db, lc, cfg, log)
	notifier := &recordingNotifier{}
	alerter := &recordingAlerter{}
	reg := registration.NewService(db, lc, provisioning.NewProvisioner(), act, notifier, nil, cfg, log)

	app := routes.NewApp(cfg, log)
	routes.Register(app, db, cfg, routes.Handlers{
		Auth:   handlers.NewAuthHandler(db, cfg, reg, act, log),
		Client: handlers.NewClientHandler(db, storage.New(afero.NewMemMapFs()), log),
		Admin:  handlers.NewAdminHandler(db, lc, importer.New(db, lc, log), cfg, log),
		Public: handlers.NewPublicHandler(alerter, log),
	})

	mp := testutil.MeterPoint(t, db, testutil.TestEAN)
	testutil.History(t, db, mp, time.Now().AddDate(0, -5, 0), 5)
	_, code, err := lc.Issue(context.Background(), mp, cfg.Invitation.TTL)
	require.NoError(t, err)

	return &env{
		t:          t,
		db:         db,
		cfg:        cfg,
		app:        app,
		notifier:   notifier,
		alerter:    alerter,
		meterPoint: mp,
		code:       code,
	}
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func (r response) json(t *testing.T) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(r.body, &out), "body: %s", r.body)
	return out
}

func (e *env) do(req *http.Request, token string) response {
	e.t.Helper()
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(e.t, err)
	return response{status: resp.StatusCode, header: resp.Header, body: body}
}

func (e *env) request(method, path string, payload any, token string) response {
	e.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(e.t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	return e.do(req, token)
}

type upload struct {
	field, name string
	content     []byte
}

func (e *env) multipart(method, path string, values map[string]string, files []upload, token string) response {
	e.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range values {
		require.NoError(e.t, mw.WriteField(k, v))
	}
	for _, f := range files {
		w, err := mw.CreateFormFile(f.field, f.name)
		require.NoError(e.t, err)
		_, err = w.Write(f.content)
		require.NoError(e.t, err)
	}
	require.NoError(e.t, mw.Close())

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(fiber.HeaderContentType, mw.FormDataContentType())
	return e.do(req, token)
}

func (e *env) registerBody(email string) registration.Request {
	return registration.Request{
		EAN:             testutil.TestEAN,
		Code:            secretcode.Group(e.code),
		Email:           email,
		Password:        testPassword,
		PasswordConfirm: testPassword,
	}
}

// activeClient registers and activates the invited holder through the API
// and returns a session token.
func (e *env) activeClient() string {
	e.t.Helper()
	res := e.request(http.MethodPost, "/api/auth/register", e.registerBody(testEmail), "")
	require.Equal(e.t, fiber.StatusCreated, res.status, "register: %s", res.body)

	link := e.notifier.last(e.t).ActivationURL
	res = e.request(http.MethodGet, activation.ActivationPath+activation.TokenFromURL(link), nil, "")
	require.Equal(e.t, fiber.StatusOK, res.status, "activate: %s", res.body)

	return e.login(testEmail, testPassword)
}

func (e *env) login(email, password string) string {
	e.t.Helper()
	res := e.request(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password}, "")
	require.Equal(e.t, fiber.StatusOK, res.status, "login: %s", res.body)
	token, _ := res.json(e.t)["token"].(string)
	require.NotEmpty(e.t, token)
	return token
}

// tokenFor creates an active account and returns a session token for it.
func (e *env) tokenFor(email string, staff bool) string {
	e.t.Helper()
	user := testutil.User(e.t, e.db, email, testPassword, true)
	if staff {
		require.NoError(e.t, e.db.Model(user).Update("is_staff", true).Error)
	}
	token, err := utils.GenerateToken(e.cfg.JWTSecret, user.ID, time.Hour)
	require.NoError(e.t, err)
	return token
}

func fields(t *testing.T, res response) map[string]any {
	t.Helper()
	require.Equal(t, fiber.StatusUnprocessableEntity, res.status, "body: %s", res.body)
	f, ok := res.json(t)["fields"].(map[string]any)
	require.True(t, ok)
	return f
}
