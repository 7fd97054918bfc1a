package accounts

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/doctrack-dev/doctrack/internal/models"
	"github.com/doctrack-dev/doctrack/internal/providers"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	// Single connection keeps concurrent writers queued instead of racing
	// into SQLITE_BUSY.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.Exec("PRAGMA busy_timeout = 5000").Error)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func newTestResolver(t *testing.T) (*Resolver, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewResolver(db, zerolog.Nop()), db
}

func strPtr(s string) *string { return &s }

func googleIdentity(subject, email string) *providers.Identity {
	expires := time.Now().Add(time.Hour)
	return &providers.Identity{
		Provider:    providers.KindGoogle,
		SubjectID:   subject,
		Email:       strPtr(email),
		Name:        "Ada Lovelace",
		Image:       "https://lh3.googleusercontent.com/a/ada",
		AccessToken: "access-" + subject,
		Scope:       "openid email profile",
		ExpiresAt:   &expires,
	}
}

func TestResolveCreatesUserAndLink(t *testing.T) {
	resolver, db := newTestResolver(t)

	user, created, err := resolver.Resolve(context.Background(), googleIdentity("g1", "ada@example.com"))
	require.NoError(t, err)
	assert.True(t, created)
	require.NotNil(t, user.Email)
	assert.Equal(t, "ada@example.com", *user.Email)
	assert.Equal(t, "Ada Lovelace", user.Name)
	assert.NotEmpty(t, user.ID)

	var account models.Account
	require.NoError(t, db.Where("provider = ? AND provider_account_id = ?", "google", "g1").First(&account).Error)
	assert.Equal(t, user.ID, account.UserID)
	assert.Equal(t, "access-g1", account.AccessToken)
	assert.Equal(t, "openid email profile", account.Scope)
}

func TestResolveReturnsLinkedUserWithoutRefreshingAttributes(t *testing.T) {
	resolver, db := newTestResolver(t)

	first, created, err := resolver.Resolve(context.Background(), googleIdentity("g1", "ada@example.com"))
	require.NoError(t, err)
	require.True(t, created)

	// Same subject comes back with a changed profile; the stored user wins.
	changed := googleIdentity("g1", "ada@example.com")
	changed.Name = "A. Lovelace"
	changed.Image = "https://lh3.googleusercontent.com/a/new"

	second, created, err := resolver.Resolve(context.Background(), changed)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ada Lovelace", second.Name)

	var count int64
	require.NoError(t, db.Model(&models.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestResolveLinksSecondProviderByEmail(t *testing.T) {
	resolver, db := newTestResolver(t)

	viaGoogle, created, err := resolver.Resolve(context.Background(), googleIdentity("g1", "ada@example.com"))
	require.NoError(t, err)
	require.True(t, created)

	linkedin := &providers.Identity{
		Provider:  providers.KindLinkedIn,
		SubjectID: "l1",
		Email:     strPtr("ada@example.com"),
		Name:      "Ada L",
	}
	viaLinkedIn, created, err := resolver.Resolve(context.Background(), linkedin)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, viaGoogle.ID, viaLinkedIn.ID)

	var userCount, accountCount int64
	require.NoError(t, db.Model(&models.User{}).Count(&userCount).Error)
	require.NoError(t, db.Model(&models.Account{}).Where("user_id = ?", viaGoogle.ID).Count(&accountCount).Error)
	assert.Equal(t, int64(1), userCount)
	assert.Equal(t, int64(2), accountCount)
}

func TestResolvePasskeyCreatesPlaceholderUser(t *testing.T) {
	resolver, db := newTestResolver(t)

	identity := &providers.Identity{
		Provider:  providers.KindPasskey,
		SubjectID: "hanko-user-1",
	}
	user, created, err := resolver.Resolve(context.Background(), identity)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "hanko-user-1", user.ID)
	assert.Nil(t, user.Email)

	var account models.Account
	require.NoError(t, db.Where("provider = ?", "passkey").First(&account).Error)
	assert.Equal(t, "hanko-user-1", account.UserID)

	// Re-authenticating with the same credential lands on the same record.
	again, created, err := resolver.Resolve(context.Background(), identity)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, user.ID, again.ID)
}

func TestResolveSurvivesConcurrentFirstSignIn(t *testing.T) {
	resolver, db := newTestResolver(t)

	const workers = 4
	users := make([]*models.User, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity := googleIdentity(fmt.Sprintf("g%d", i), "ada@example.com")
			users[i], _, errs[i] = resolver.Resolve(context.Background(), identity)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, users[0].ID, users[i].ID)
	}

	var userCount, accountCount int64
	require.NoError(t, db.Model(&models.User{}).Count(&userCount).Error)
	require.NoError(t, db.Model(&models.Account{}).Count(&accountCount).Error)
	assert.Equal(t, int64(1), userCount)
	assert.Equal(t, int64(workers), accountCount)
}

func TestIsDuplicateKey(t *testing.T) {
	assert.True(t, isDuplicateKey(gorm.ErrDuplicatedKey))
	assert.True(t, isDuplicateKey(fmt.Errorf("UNIQUE constraint failed: users.email")))
	assert.False(t, isDuplicateKey(fmt.Errorf("disk I/O error")))
}
