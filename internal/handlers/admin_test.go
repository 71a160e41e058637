package handlers_test

import (
	"archive/zip"
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lapin-Blanc/electruc-portal/internal/documents"
	"github.com/Lapin-Blanc/electruc-portal/internal/models"
	"github.com/Lapin-Blanc/electruc-portal/internal/secretcode"
	"github.com/Lapin-Blanc/electruc-portal/internal/testutil"
)

const importCSV = `ean,holder_firstname,holder_lastname,address_line1,address_line2,postal_code,city,country
541234567890120001,Jean,Martin,Rue de Test 1,,1000,Bruxelles,BE
541234567890120002,Marie,Dubois,Avenue Louise 20,,1050,Ixelles,BE
12345,Bad,Row,Nowhere,,0000,Nowhere,BE
`

func zipNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	return names
}

func TestAdmin_RequiresStaff(t *testing.T) {
	e := newEnv(t)

	res := e.request(http.MethodGet, "/api/admin/meter-points", nil, "")
	assert.Equal(t, fiber.StatusUnauthorized, res.status)

	client := e.tokenFor("client@example.com", false)
	res = e.request(http.MethodGet, "/api/admin/meter-points", nil, client)
	assert.Equal(t, fiber.StatusForbidden, res.status)

	staff := e.tokenFor("staff@example.com", true)
	res = e.request(http.MethodGet, "/api/admin/meter-points", nil, staff)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Len(t, res.json(t)["data"], 1)
}

func TestAdmin_IssueInvitation(t *testing.T) {
	e := newEnv(t)
	staff := e.tokenFor("staff@example.com", true)

	res := e.request(http.MethodPost, "/api/admin/meter-points/"+testutil.TestEAN+"/invitations?format=json", nil, staff)
	require.Equal(t, fiber.StatusCreated, res.status, "body: %s", res.body)
	data := res.json(t)["data"].(map[string]any)
	code := data["code"].(string)
	assert.Len(t, code, secretcode.Length+2)
	_, leaked := data["invitation"].(map[string]any)["secret_hash"]
	assert.False(t, leaked)

	// The previous code no longer works, the new one does.
	old := e.registerBody(testEmail)
	res = e.request(http.MethodPost, "/api/auth/register", old, "")
	assert.Equal(t, fiber.StatusBadRequest, res.status)

	fresh := e.registerBody(testEmail)
	fresh.Code = code
	res = e.request(http.MethodPost, "/api/auth/register", fresh, "")
	assert.Equal(t, fiber.StatusCreated, res.status, "body: %s", res.body)

	res = e.request(http.MethodPost, "/api/admin/meter-points/"+testutil.TestEAN+"/invitations", nil, staff)
	require.Equal(t, fiber.StatusCreated, res.status)
	assert.Equal(t, "application/pdf", res.header.Get(fiber.HeaderContentType))
	assert.True(t, bytes.HasPrefix(res.body, []byte("%PDF")))

	res = e.request(http.MethodPost, "/api/admin/meter-points/549999999999999999/invitations", nil, staff)
	assert.Equal(t, fiber.StatusNotFound, res.status)
}

func TestAdmin_ListInvitations(t *testing.T) {
	e := newEnv(t)
	staff := e.tokenFor("staff@example.com", true)

	res := e.request(http.MethodPost, "/api/admin/meter-points/"+testutil.TestEAN+"/invitations?format=json", nil, staff)
	require.Equal(t, fiber.StatusCreated, res.status)

	res = e.request(http.MethodGet, "/api/admin/invitations?ean="+testutil.TestEAN, nil, staff)
	require.Equal(t, fiber.StatusOK, res.status)
	views := res.json(t)["data"].([]any)
	require.Len(t, views, 2)
	assert.Equal(t, models.StateIssued, views[0].(map[string]any)["state"])
	assert.Equal(t, models.StateExpired, views[1].(map[string]any)["state"], "superseded invitation")

	res = e.request(http.MethodGet, "/api/admin/meter-points/"+testutil.TestEAN, nil, staff)
	require.Equal(t, fiber.StatusOK, res.status)
	data := res.json(t)["data"].(map[string]any)
	assert.Len(t, data["invitations"], 2)
	assert.Len(t, data["meter_point"].(map[string]any)["history"], 5)
}

func TestAdmin_ImportMeterPoints(t *testing.T) {
	e := newEnv(t)
	staff := e.tokenFor("staff@example.com", true)

	res := e.multipart(http.MethodPost, "/api/admin/meter-points/import", nil,
		[]upload{{field: "file", name: "export.csv", content: []byte(importCSV)}}, staff)
	require.Equal(t, fiber.StatusOK, res.status, "body: %s", res.body)
	summary := res.json(t)["data"].(map[string]any)
	assert.EqualValues(t, 1, summary["created"])
	assert.EqualValues(t, 1, summary["updated"])
	assert.EqualValues(t, 1, summary["errors"])
	rowErrors := summary["row_errors"].([]any)
	require.Len(t, rowErrors, 1)
	assert.True(t, strings.HasPrefix(rowErrors[0].(string), "line 4"), rowErrors[0])

	res = e.multipart(http.MethodPost, "/api/admin/meter-points/import", map[string]string{"issue": "true"},
		[]upload{{field: "file", name: "export.csv", content: []byte(importCSV)}}, staff)
	require.Equal(t, fiber.StatusOK, res.status, "body: %s", res.body)
	assert.Equal(t, "application/zip", res.header.Get(fiber.HeaderContentType))
	assert.Equal(t, "2", res.header.Get("X-Import-Updated"))
	assert.Equal(t, []string{
		documents.LetterFileName("541234567890120001"),
		documents.LetterFileName("541234567890120002"),
		documents.ManifestName,
	}, zipNames(t, res.body))

	f := fields(t, e.multipart(http.MethodPost, "/api/admin/meter-points/import", nil,
		[]upload{{field: "file", name: "export.csv", content: []byte("ean,city\n1,2\n")}}, staff))
	assert.Contains(t, f, "file")
}

func TestAdmin_ExportInvitations(t *testing.T) {
	e := newEnv(t)
	staff := e.tokenFor("staff@example.com", true)
	testutil.MeterPoint(t, e.db, "541234567890120002")

	f := fields(t, e.request(http.MethodPost, "/api/admin/invitations/export",
		map[string]any{"eans": []string{testutil.TestEAN, "549999999999999999"}}, staff))
	assert.Contains(t, f, "eans")

	var count int64
	require.NoError(t, e.db.Model(&models.Invitation{}).Count(&count).Error)
	assert.EqualValues(t, 1, count, "nothing issued when an EAN is unknown")

	res := e.request(http.MethodPost, "/api/admin/invitations/export",
		map[string]any{"eans": []string{"541234567890120002", testutil.TestEAN, testutil.TestEAN}}, staff)
	require.Equal(t, fiber.StatusOK, res.status, "body: %s", res.body)
	assert.Equal(t, []string{
		documents.LetterFileName("541234567890120002"),
		documents.LetterFileName(testutil.TestEAN),
		documents.ManifestName,
	}, zipNames(t, res.body))
}

func TestAdmin_ModerateReading(t *testing.T) {
	e := newEnv(t)
	token := e.activeClient()
	staff := e.tokenFor("staff@example.com", true)

	var last models.MeterReading
	require.NoError(t, e.db.Where("status = ?", models.ReadingValidated).Order("reading_date desc").First(&last).Error)

	res := e.request(http.MethodPost, "/api/client/readings", map[string]any{
		"reading_date": last.ReadingDate.AddDate(0, 0, 1).Format("2006-01-02"),
		"value_kwh":    last.ValueKWh + 100,
	}, token)
	require.Equal(t, fiber.StatusCreated, res.status, "body: %s", res.body)
	id := res.json(t)["data"].(map[string]any)["id"].(string)

	f := fields(t, e.request(http.MethodPatch, "/api/admin/readings/"+id, map[string]string{"status": "maybe"}, staff))
	assert.Contains(t, f, "status")

	res = e.request(http.MethodPatch, "/api/admin/readings/"+id, map[string]string{"status": models.ReadingRejected}, staff)
	require.Equal(t, fiber.StatusOK, res.status, "body: %s", res.body)
	data := res.json(t)["data"].(map[string]any)
	assert.Equal(t, models.ReadingRejected, data["status"])
	assert.Equal(t, "Relevé à vérifier.", data["note"])

	res = e.request(http.MethodPatch, "/api/admin/readings/"+id, map[string]string{"status": models.ReadingValidated}, token)
	assert.Equal(t, fiber.StatusForbidden, res.status)
}

func TestAdmin_ListAccounts(t *testing.T) {
	e := newEnv(t)
	staff := e.tokenFor("staff@example.com", true)
	e.tokenFor("client@example.com", false)

	res := e.request(http.MethodGet, "/api/admin/accounts", nil, staff)
	require.Equal(t, fiber.StatusOK, res.status)
	body := res.json(t)
	assert.EqualValues(t, 2, body["pagination"].(map[string]any)["total"])
	for _, item := range body["data"].([]any) {
		_, leaked := item.(map[string]any)["password_hash"]
		assert.False(t, leaked)
	}
}
