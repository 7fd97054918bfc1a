// Package accounts maps verified external identities onto local users and
// account links.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/doctrack-dev/doctrack/internal/models"
	"github.com/doctrack-dev/doctrack/internal/providers"
)

// Resolver implements find-or-create over users and account links. Races
// between concurrent sign-ins are settled by the unique constraints on
// (provider, provider_account_id) and on email: a duplicate insert becomes
// a re-fetch, never a hard failure.
type Resolver struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// NewResolver creates an account resolver
func NewResolver(db *gorm.DB, logger zerolog.Logger) *Resolver {
	return &Resolver{
		db:     db,
		logger: logger.With().Str("component", "accounts").Logger(),
	}
}

// Resolve returns the local user for a verified identity, creating a user
// and/or account link as needed. The second return value reports whether a
// new user was created by this call.
//
// Linking is intentionally aggressive: an identity whose email matches an
// existing user is linked to that user on email equality alone. This is
// inherited behavior; do not harden it here without revisiting the
// product's trust model.
func (r *Resolver) Resolve(ctx context.Context, identity *providers.Identity) (*models.User, bool, error) {
	const attempts = 2

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		user, created, err := r.resolveOnce(ctx, identity)
		if err == nil {
			return user, created, nil
		}
		if !isDuplicateKey(err) {
			return nil, false, err
		}
		// Lost a find-or-create race to a concurrent sign-in; the row we
		// failed to insert now exists, so re-resolving finds it.
		r.logger.Info().
			Str("provider", string(identity.Provider)).
			Str("subject_id", identity.SubjectID).
			Msg("Duplicate key during resolve, re-resolving")
		lastErr = err
	}

	return nil, false, fmt.Errorf("failed to resolve account: %w", lastErr)
}

func (r *Resolver) resolveOnce(ctx context.Context, identity *providers.Identity) (*models.User, bool, error) {
	db := r.db.WithContext(ctx)

	// Existing link wins: user attributes are not refreshed on every login.
	var account models.Account
	err := db.Where("provider = ? AND provider_account_id = ?", string(identity.Provider), identity.SubjectID).
		First(&account).Error
	if err == nil {
		var user models.User
		if err := models.FindByID(db, account.UserID, &user); err != nil {
			return nil, false, fmt.Errorf("failed to load linked user: %w", err)
		}
		return &user, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up account link: %w", err)
	}

	// No link yet. An email match links the identity to the existing user.
	if identity.Email != nil {
		var user models.User
		err := db.Where("email = ?", *identity.Email).First(&user).Error
		if err == nil {
			if err := db.Create(newLink(&user, identity)).Error; err != nil {
				return nil, false, err
			}
			r.logger.Info().
				Str("user_id", user.ID).
				Str("provider", string(identity.Provider)).
				Msg("Linked provider to existing user")
			return &user, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, fmt.Errorf("failed to look up user by email: %w", err)
		}
	}

	// Brand-new identity: create user and link together.
	user := &models.User{
		Email: identity.Email,
		Name:  identity.Name,
		Image: identity.Image,
	}
	if identity.Provider == providers.KindPasskey {
		// The tenant user id becomes the local id so later passkey
		// sign-ins and identity completion land on the same record.
		user.ID = identity.SubjectID
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return tx.Create(newLink(user, identity)).Error
	})
	if err != nil {
		return nil, false, err
	}

	r.logger.Info().
		Str("user_id", user.ID).
		Str("provider", string(identity.Provider)).
		Msg("User created")
	return user, true, nil
}

func newLink(user *models.User, identity *providers.Identity) *models.Account {
	return &models.Account{
		UserID:            user.ID,
		Provider:          string(identity.Provider),
		ProviderAccountID: identity.SubjectID,
		AccessToken:       identity.AccessToken,
		RefreshToken:      identity.RefreshToken,
		Scope:             identity.Scope,
		ExpiresAt:         identity.ExpiresAt,
	}
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// The sqlite driver does not always translate constraint errors
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
