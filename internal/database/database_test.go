package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	appErrors "telxfwd/internal/errors"
	"telxfwd/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	t.Setenv(envEnableEncryption, "")

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedUser(t *testing.T, db *Database, id int64, plan string) *models.User {
	t.Helper()
	user := &models.User{ID: id, Plan: plan, Status: models.UserStatusActive}
	require.NoError(t, db.SaveUser(context.Background(), user))
	return user
}

func seedAccount(t *testing.T, db *Database, userID int64, platform models.Platform, status models.AccountStatus) *models.LinkedAccount {
	t.Helper()
	account := &models.LinkedAccount{
		UserID:      userID,
		Platform:    platform,
		Credential:  "token-" + string(platform),
		DisplayName: "bot",
		Status:      status,
	}
	require.NoError(t, db.CreateAccount(context.Background(), account))
	return account
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("bad\x00path")
	assert.Error(t, err)
}

func TestUsers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	expires := time.Now().Add(24 * time.Hour).UTC()
	require.NoError(t, db.SaveUser(ctx, &models.User{ID: 7, Plan: "pro", PlanExpiresAt: &expires}))

	user, err := db.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "pro", user.Plan)
	assert.Equal(t, models.UserStatusActive, user.Status)
	require.NotNil(t, user.PlanExpiresAt)
	assert.WithinDuration(t, expires, *user.PlanExpiresAt, time.Second)

	require.NoError(t, db.SaveUser(ctx, &models.User{ID: 7, Plan: "elite"}))
	user, err = db.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "elite", user.Plan)
	assert.Nil(t, user.PlanExpiresAt)

	_, err = db.GetUser(ctx, 99)
	assert.Equal(t, appErrors.ErrCodeNotFound, appErrors.GetCode(err))
}

func TestAccounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedUser(t, db, 1, "pro")

	tg := seedAccount(t, db, 1, models.PlatformTelegram, models.AccountStatusActive)
	dc := seedAccount(t, db, 1, models.PlatformDiscord, models.AccountStatusDisconnected)
	seedAccount(t, db, 1, models.PlatformTelegram, models.AccountStatusInactive)

	got, err := db.GetAccount(ctx, tg.ID)
	require.NoError(t, err)
	assert.Equal(t, "token-telegram", got.Credential)
	assert.Equal(t, models.PlatformTelegram, got.Platform)
	assert.Nil(t, got.LastSeen)

	active, err := db.ListAccountsByStatus(ctx, models.AccountStatusActive)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, tg.ID, active[0].ID)

	count, err := db.CountLinkedAccounts(ctx, 1, models.PlatformTelegram)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "inactive accounts do not hold a slot")

	count, err = db.CountLinkedAccounts(ctx, 1, models.PlatformDiscord)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, db.UpdateAccountStatus(ctx, dc.ID, models.AccountStatusInactive))
	seen := time.Now().UTC()
	require.NoError(t, db.TouchAccount(ctx, tg.ID, seen))

	got, err = db.GetAccount(ctx, tg.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSeen)
	assert.WithinDuration(t, seen, *got.LastSeen, time.Second)

	all, err := db.ListAccountsByUser(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = db.GetAccount(ctx, 404)
	assert.Equal(t, appErrors.ErrCodeNotFound, appErrors.GetCode(err))
}

func TestAccounts_EncryptedAtRest(t *testing.T) {
	t.Setenv(envEnableEncryption, "true")
	t.Setenv(envEncryptionSecret, "0123456789abcdef0123456789abcdef")

	db, err := New(filepath.Join(t.TempDir(), "enc.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	seedUser(t, db, 1, "free")
	account := seedAccount(t, db, 1, models.PlatformTelegram, models.AccountStatusActive)

	var raw string
	require.NoError(t, db.db.QueryRow("SELECT credential FROM linked_accounts WHERE id = ?", account.ID).Scan(&raw))
	assert.NotEqual(t, "token-telegram", raw)

	got, err := db.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "token-telegram", got.Credential)
}

func TestPairs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedUser(t, db, 1, "pro")
	src := seedAccount(t, db, 1, models.PlatformTelegram, models.AccountStatusActive)
	dst := seedAccount(t, db, 1, models.PlatformDiscord, models.AccountStatusActive)

	pair := &models.ForwardingPair{
		UserID:               1,
		SourceAccountID:      &src.ID,
		DestinationAccountID: &dst.ID,
		SourceChannel:        "@news",
		DestinationChannel:   "998877",
		PairType:             models.PairTelegramToDiscord,
		DelaySeconds:         5,
		CopyMode:             true,
		FilterKeywords:       []string{"alpha", "gamma"},
		CustomPrefix:         "[fwd]",
	}
	require.NoError(t, db.CreatePair(ctx, pair))
	assert.NotZero(t, pair.ID)
	assert.Equal(t, models.PairStatusActive, pair.Status)

	got, err := db.GetPair(ctx, pair.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "gamma"}, got.FilterKeywords)
	assert.Empty(t, got.ExcludeKeywords)
	assert.True(t, got.CopyMode)
	assert.Equal(t, src.ID, *got.SourceAccountID)
	assert.Equal(t, "[fwd]", got.CustomPrefix)

	count, err := db.CountActivePairs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	exists, err := db.PairRouteExists(ctx, 1, "@news", "998877")
	require.NoError(t, err)
	assert.True(t, exists)

	byAccount, err := db.ListPairsByAccount(ctx, dst.ID)
	require.NoError(t, err)
	assert.Len(t, byAccount, 1)

	require.NoError(t, db.UpdatePairStatus(ctx, pair.ID, models.PairStatusPaused))
	count, err = db.CountActivePairs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeletePair_CascadesMessageLogs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedUser(t, db, 1, "free")
	src := seedAccount(t, db, 1, models.PlatformTelegram, models.AccountStatusActive)

	pair := &models.ForwardingPair{
		UserID:             1,
		SourceAccountID:    &src.ID,
		SourceChannel:      "a",
		DestinationChannel: "b",
		PairType:           models.PairTelegramToTelegram,
	}
	require.NoError(t, db.CreatePair(ctx, pair))
	require.NoError(t, db.InsertMessageLog(ctx, &models.MessageLog{
		PairID: pair.ID, UserID: 1, Status: models.MessageLogSuccess, MessageSize: 12,
	}))

	logs, err := db.ListMessageLogs(ctx, pair.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "text", logs[0].MessageType)

	deleted, err := db.DeletePair(ctx, pair.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	logs, err = db.ListMessageLogs(ctx, pair.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)

	deleted, err = db.DeletePair(ctx, pair.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestLogs_Retention(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedUser(t, db, 1, "free")
	pair := &models.ForwardingPair{UserID: 1, SourceChannel: "a", DestinationChannel: "b", PairType: models.PairTelegramToTelegram}
	require.NoError(t, db.CreatePair(ctx, pair))

	old := time.Now().Add(-40 * 24 * time.Hour)
	require.NoError(t, db.InsertMessageLog(ctx, &models.MessageLog{PairID: pair.ID, UserID: 1, Status: models.MessageLogSkipped, CreatedAt: old}))
	require.NoError(t, db.InsertMessageLog(ctx, &models.MessageLog{PairID: pair.ID, UserID: 1, Status: models.MessageLogSuccess}))

	n, err := db.DeleteMessageLogsBefore(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, db.InsertErrorLog(ctx, &models.ErrorLog{JobID: "j1", ErrorType: "x", ErrorMessage: "m", Resolved: true, CreatedAt: old}))
	require.NoError(t, db.InsertErrorLog(ctx, &models.ErrorLog{JobID: "j1", ErrorType: "x", ErrorMessage: "m", Resolved: true, Severity: models.SeverityCritical, CreatedAt: old}))
	require.NoError(t, db.InsertErrorLog(ctx, &models.ErrorLog{JobID: "j1", ErrorType: "x", ErrorMessage: "m", CreatedAt: old}))

	n, err = db.DeleteResolvedErrorLogsBefore(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	remaining, err := db.ListErrorLogsByJob(ctx, "j1")
	require.NoError(t, err)
	assert.Len(t, remaining, 2)
}
