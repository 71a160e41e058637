package invitation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/Lapin-Blanc/electruc-portal/internal/models"
	"github.com/Lapin-Blanc/electruc-portal/internal/secretcode"
	"github.com/Lapin-Blanc/electruc-portal/internal/testutil"
	"github.com/Lapin-Blanc/electruc-portal/internal/utils"
)

type fixture struct {
	db         *gorm.DB
	lc         *Lifecycle
	clock      *testutil.Clock
	meterPoint *models.MeterPoint
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.DB(t)
	codec, err := secretcode.New(bcrypt.MinCost)
	require.NoError(t, err)

	clock := testutil.NewClock(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	lc := NewLifecycle(db, codec, testutil.Config().Invitation)
	lc.Now = clock.Now

	return &fixture{db: db, lc: lc, clock: clock, meterPoint: testutil.MeterPoint(t, db, testutil.TestEAN)}
}

func (f *fixture) issue(t *testing.T, ttl time.Duration) (*models.Invitation, string) {
	t.Helper()
	inv, code, err := f.lc.Issue(context.Background(), f.meterPoint, ttl)
	require.NoError(t, err)
	return inv, code
}

func (f *fixture) reload(t *testing.T, inv *models.Invitation) *models.Invitation {
	t.Helper()
	var got models.Invitation
	require.NoError(t, f.db.First(&got, "id = ?", inv.ID).Error)
	return &got
}

func wrongCode(code string) string {
	if strings.HasPrefix(code, "A") {
		return "B" + code[1:]
	}
	return "A" + code[1:]
}

func TestIssue(t *testing.T) {
	f := setup(t)

	inv, code := f.issue(t, 0)
	got := f.reload(t, inv)

	assert.Equal(t, models.InvitationIssued, got.Status)
	assert.True(t, got.ExpiresAt.Equal(f.clock.Now().Add(30*24*time.Hour)))
	assert.Zero(t, got.FailedAttempts)
	assert.Nil(t, got.LockedUntil)
	assert.Nil(t, got.UsedByID)
	assert.NotContains(t, got.SecretHash, code)
	assert.True(t, f.lc.codec.Verify(code, got.SecretHash))
}

func TestIssue_SupersedesLiveInvitation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	old, oldCode := f.issue(t, 30*24*time.Hour)
	f.clock.Advance(time.Minute)
	fresh, freshCode := f.issue(t, 30*24*time.Hour)

	assert.True(t, f.reload(t, old).IsExpired(f.clock.Now()), "superseded invitation is expired immediately")
	assert.False(t, f.reload(t, fresh).IsExpired(f.clock.Now()))

	_, err := f.lc.Verify(ctx, testutil.TestEAN, oldCode)
	assert.ErrorIs(t, err, ErrInvalidInvitation)

	_, err = f.lc.Verify(ctx, testutil.TestEAN, freshCode)
	assert.NoError(t, err)
}

func TestVerify_UnknownMeterPointAndMissingInvitation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.lc.Verify(ctx, "000000000000000000", "ABCDABCDABCD")
	assert.ErrorIs(t, err, ErrUnknownMeterPoint)

	_, err = f.lc.Verify(ctx, testutil.TestEAN, "ABCDABCDABCD")
	assert.ErrorIs(t, err, ErrInvalidInvitation)
}

func TestVerify_LockoutAfterFiveFailures(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	inv, code := f.issue(t, 0)

	for i := 1; i <= 5; i++ {
		_, err := f.lc.Verify(ctx, testutil.TestEAN, wrongCode(code))
		require.ErrorIs(t, err, ErrInvalidInvitation, "attempt %d", i)
		if i < 5 {
			assert.Equal(t, i, f.reload(t, inv).FailedAttempts)
		}
	}

	locked := f.reload(t, inv)
	require.NotNil(t, locked.LockedUntil)
	assert.True(t, locked.LockedUntil.Equal(f.clock.Now().Add(15*time.Minute)))
	assert.Zero(t, locked.FailedAttempts)

	_, err := f.lc.Verify(ctx, testutil.TestEAN, code)
	assert.ErrorIs(t, err, ErrLockedInvitation, "correct code is refused while locked")

	f.clock.Advance(14 * time.Minute)
	_, err = f.lc.Verify(ctx, testutil.TestEAN, code)
	assert.ErrorIs(t, err, ErrLockedInvitation)

	f.clock.Advance(time.Minute)
	got, err := f.lc.Verify(ctx, testutil.TestEAN, code)
	require.NoError(t, err)
	assert.Nil(t, got.LockedUntil)

	cleared := f.reload(t, inv)
	assert.Nil(t, cleared.LockedUntil)
	assert.Zero(t, cleared.FailedAttempts)
}

func TestVerify_SuccessResetsCounter(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	inv, code := f.issue(t, 0)

	for i := 0; i < 3; i++ {
		_, err := f.lc.Verify(ctx, testutil.TestEAN, wrongCode(code))
		require.ErrorIs(t, err, ErrInvalidInvitation)
	}
	_, err := f.lc.Verify(ctx, testutil.TestEAN, code)
	require.NoError(t, err)
	assert.Zero(t, f.reload(t, inv).FailedAttempts)
}

func TestValidateAndReserve_ExpiryBoundary(t *testing.T) {
	f := setup(t)
	_, code := f.issue(t, time.Hour)
	account := testutil.User(t, f.db, "jean.martin@example.com", "s3cure-pass", false)

	f.clock.Advance(time.Hour)
	_, err := f.lc.ValidateAndReserve(context.Background(), testutil.TestEAN, code, account.ID)
	assert.ErrorIs(t, err, ErrInvalidInvitation)
}

func TestValidateAndReserve_TwoPhase(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, code := f.issue(t, 0)
	account := testutil.User(t, f.db, "jean.martin@example.com", "s3cure-pass", false)
	other := testutil.User(t, f.db, "other@example.com", "s3cure-pass", false)

	inv, err := f.lc.ValidateAndReserve(ctx, testutil.TestEAN, code, account.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvitationReserved, inv.Status)
	require.NotNil(t, inv.UsedByID)
	assert.Equal(t, account.ID, *inv.UsedByID)
	assert.Nil(t, inv.UsedAt)

	_, err = f.lc.ValidateAndReserve(ctx, testutil.TestEAN, code, other.ID)
	assert.ErrorIs(t, err, ErrInvalidInvitation, "reserved by another account looks like any other failure")

	again, err := f.lc.ValidateAndReserve(ctx, testutil.TestEAN, code, account.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, again.ID)

	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		return f.lc.Confirm(ctx, tx, inv, account.ID)
	}))
	confirmed := f.reload(t, inv)
	require.NotNil(t, confirmed.UsedAt)
	assert.Equal(t, models.InvitationConfirmed, confirmed.Status)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.db.Transaction(func(tx *gorm.DB) error {
		return f.lc.Confirm(ctx, tx, inv, account.ID)
	}), "second confirmation is a no-op")
	assert.True(t, f.reload(t, inv).UsedAt.Equal(*confirmed.UsedAt))

	_, err = f.lc.ValidateAndReserve(ctx, testutil.TestEAN, code, account.ID)
	assert.ErrorIs(t, err, ErrInvalidInvitation, "confirmed invitations cannot be reused")
}

func TestConfirm_RequiresMatchingReservation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	inv, code := f.issue(t, 0)
	account := testutil.User(t, f.db, "jean.martin@example.com", "s3cure-pass", false)
	other := testutil.User(t, f.db, "other@example.com", "s3cure-pass", false)

	err := f.db.Transaction(func(tx *gorm.DB) error {
		return f.lc.Confirm(ctx, tx, inv, account.ID)
	})
	assert.ErrorIs(t, err, models.ErrInvitationTransition)

	_, err = f.lc.ValidateAndReserve(ctx, testutil.TestEAN, code, account.ID)
	require.NoError(t, err)

	err = f.db.Transaction(func(tx *gorm.DB) error {
		return f.lc.Confirm(ctx, tx, inv, other.ID)
	})
	assert.ErrorIs(t, err, models.ErrInvitationTransition)
	assert.Nil(t, f.reload(t, inv).UsedAt)
}

func TestReserve_RolledBackWithCallerTransaction(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, code := f.issue(t, 0)
	account := testutil.User(t, f.db, "jean.martin@example.com", "s3cure-pass", false)

	verified, err := f.lc.Verify(ctx, testutil.TestEAN, code)
	require.NoError(t, err)

	boom := errors.New("provisioning failed")
	err = f.db.Transaction(func(tx *gorm.DB) error {
		if _, err := f.lc.Reserve(ctx, tx, verified.ID, account.ID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got := f.reload(t, verified)
	assert.Equal(t, models.InvitationIssued, got.Status)
	assert.Nil(t, got.UsedByID)
}

func TestOutstandingFor(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, code := f.issue(t, 0)
	account := testutil.User(t, f.db, "jean.martin@example.com", "s3cure-pass", false)

	none, err := f.lc.OutstandingFor(ctx, f.db, account.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	inv, err := f.lc.ValidateAndReserve(ctx, testutil.TestEAN, code, account.ID)
	require.NoError(t, err)

	outstanding, err := f.lc.OutstandingFor(ctx, f.db, account.ID)
	require.NoError(t, err)
	require.NotNil(t, outstanding)
	assert.Equal(t, inv.ID, outstanding.ID)

	require.NoError(t, f.lc.Confirm(ctx, f.db, outstanding, account.ID))
	none, err = f.lc.OutstandingFor(ctx, f.db, account.ID)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestList_DerivesState(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.issue(t, 0)
	f.clock.Advance(time.Minute)
	f.issue(t, 0)

	views, total, err := f.lc.List(ctx, utils.NewPagination(1, 10), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, views, 2)
	assert.Equal(t, models.StateIssued, views[0].State)
	assert.Equal(t, models.StateExpired, views[1].State)
	require.NotNil(t, views[0].MeterPoint)
	assert.Equal(t, testutil.TestEAN, views[0].MeterPoint.EAN)

	views, total, err = f.lc.List(ctx, utils.NewPagination(2, 1), &f.meterPoint.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, views, 1)
	assert.Equal(t, models.StateExpired, views[0].State)
}

func TestUsedAtImpliesUsedBy(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	account := testutil.User(t, f.db, "jean.martin@example.com", "s3cure-pass", false)

	_, code := f.issue(t, 0)
	inv, err := f.lc.ValidateAndReserve(ctx, testutil.TestEAN, code, account.ID)
	require.NoError(t, err)
	require.NoError(t, f.lc.Confirm(ctx, f.db, inv, account.ID))
	f.clock.Advance(time.Minute)
	f.issue(t, 0)

	var all []models.Invitation
	require.NoError(t, f.db.Find(&all).Error)
	for _, row := range all {
		if row.UsedAt != nil {
			assert.NotNil(t, row.UsedByID, "invitation %s", row.ID)
		}
	}
}
