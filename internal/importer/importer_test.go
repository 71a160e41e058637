package importer

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/invitation"
	"github.com/Lapin-Blanc/electruc-portal/internal/models"
	"github.com/Lapin-Blanc/electruc-portal/internal/secretcode"
	"github.com/Lapin-Blanc/electruc-portal/internal/testutil"
)

var fixedNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Importer, *gorm.DB) {
	t.Helper()
	db := testutil.DB(t)
	codec, err := secretcode.New(bcrypt.MinCost)
	require.NoError(t, err)

	lc := invitation.NewLifecycle(db, codec, testutil.Config().Invitation)
	lc.Now = func() time.Time { return fixedNow }

	im := New(db, lc, zap.NewNop())
	im.Now = func() time.Time { return fixedNow }
	return im, db
}

const header = "ean,holder_firstname,holder_lastname,address_line1,address_line2,postal_code,city,country\n"

func TestImport_CountsRowsWithoutAborting(t *testing.T) {
	im, db := setup(t)
	testutil.MeterPoint(t, db, "541234567890120002")

	csv := "\ufeff" + header +
		testutil.TestEAN + ",Jean,Martin,Rue de Test 1,,1000,Bruxelles,be\n" +
		"541234567890120002,Marie,Dupont,Chaussée de Wavre 12,bte 3,1050,Ixelles,\n" +
		"12345,Bad,Ean,Rue,,1000,Bruxelles,BE\n" +
		"541234567890120003,Sans,,Rue,,1000,Bruxelles,BE\n"

	res, err := im.Import(context.Background(), strings.NewReader(csv), Options{HistoryMonths: 5})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 2, res.Errors)
	require.Error(t, res.Err())
	assert.Contains(t, res.Err().Error(), "line 4")
	assert.Empty(t, res.Issued)

	var updated models.MeterPoint
	require.NoError(t, db.Where("ean = ?", "541234567890120002").First(&updated).Error)
	assert.Equal(t, "Marie", updated.HolderFirstName)
	assert.Equal(t, "bte 3", updated.AddressLine2)
	assert.Equal(t, "BE", updated.Country)

	var history int64
	require.NoError(t, db.Model(&models.MeterPointHistory{}).Where("meter_point_id = ?", updated.ID).Count(&history).Error)
	assert.Equal(t, int64(5), history)
}

func TestImport_IsRepeatableAndIssues(t *testing.T) {
	im, db := setup(t)
	csv := header + testutil.TestEAN + ",Jean,Martin,Rue de Test 1,,1000,Bruxelles,BE\n"

	_, err := im.Import(context.Background(), strings.NewReader(csv), Options{HistoryMonths: 5})
	require.NoError(t, err)

	res, err := im.Import(context.Background(), strings.NewReader(csv), Options{HistoryMonths: 5, Issue: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	require.Len(t, res.Issued, 1)
	assert.Len(t, res.Issued[0].Code, secretcode.Length)
	assert.Equal(t, testutil.TestEAN, res.Issued[0].MeterPoint.EAN)

	var history int64
	require.NoError(t, db.Model(&models.MeterPointHistory{}).Count(&history).Error)
	assert.Equal(t, int64(5), history, "history is not duplicated")
}

func TestImport_MissingColumns(t *testing.T) {
	im, _ := setup(t)

	_, err := im.Import(context.Background(), strings.NewReader("ean,city\n"), Options{})
	assert.ErrorIs(t, err, ErrMissingColumns)
}

func TestSyntheticHistory(t *testing.T) {
	a := SyntheticHistory(testutil.TestEAN, 5, fixedNow)
	b := SyntheticHistory(testutil.TestEAN, 5, fixedNow)
	require.Len(t, a, 5)
	assert.Equal(t, a, b)

	assert.True(t, a[0].PeriodStart.Equal(time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, a[4].PeriodEnd.Equal(time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)))
	for i := 1; i < len(a); i++ {
		assert.Greater(t, a[i].ConsumptionKWh, a[i-1].ConsumptionKWh, "index grows month over month")
	}
}

func TestValidateEAN(t *testing.T) {
	assert.NoError(t, ValidateEAN(testutil.TestEAN))
	assert.Error(t, ValidateEAN("54123456789012000X"))
	assert.Error(t, ValidateEAN("5412"))
}
