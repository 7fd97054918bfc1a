package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"gorm.io/gorm"

	"github.com/doctrack-dev/doctrack/internal/models"
)

// BeginEmail issues a single-use magic link and delivers it to the address.
// Callers must answer with the same generic acknowledgment whether or not
// the address belongs to a registered user.
func (r *Router) BeginEmail(ctx context.Context, email, redirectURL string) error {
	email = normalizeEmail(email)
	if email == "" {
		return fmt.Errorf("%w: empty email", ErrVerificationFailed)
	}

	token, err := randomToken()
	if err != nil {
		return fmt.Errorf("failed to generate sign-in token: %w", err)
	}

	record := &models.VerificationToken{
		Identifier: email,
		TokenHash:  sha256Hex(token),
		ExpiresAt:  r.now().Add(r.cfg.MagicLink.TTL),
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to persist verification token: %w", err)
	}

	link := fmt.Sprintf("%s/api/auth/callback/email?token=%s&email=%s",
		strings.TrimSuffix(r.cfg.Server.BaseURL, "/"),
		url.QueryEscape(token),
		url.QueryEscape(email))
	if redirectURL != "" {
		link += "&redirect=" + url.QueryEscape(redirectURL)
	}

	return r.mail.SendVerification(ctx, email, link)
}

// verifyEmailToken consumes a magic-link token exactly once. The row is
// deleted before the expiry check, so a replayed link fails regardless of
// how much of the window remains.
func (r *Router) verifyEmailToken(ctx context.Context, creds Credentials) (*Verification, error) {
	email := normalizeEmail(creds.Email)
	if email == "" || creds.Token == "" {
		return nil, fmt.Errorf("%w: missing email or token", ErrVerificationFailed)
	}

	var record models.VerificationToken
	err := r.db.WithContext(ctx).
		Where("token_hash = ? AND identifier = ?", sha256Hex(creds.Token), email).
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: unknown or consumed token", ErrVerificationFailed)
		}
		return nil, fmt.Errorf("failed to load verification token: %w", err)
	}

	res := r.db.WithContext(ctx).Where("id = ?", record.ID).Delete(&models.VerificationToken{})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to consume verification token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// A concurrent callback won the race; this one is a replay.
		return nil, fmt.Errorf("%w: token already consumed", ErrVerificationFailed)
	}

	if record.Expired(r.now()) {
		return nil, fmt.Errorf("%w: token expired", ErrVerificationFailed)
	}

	identity := &Identity{
		Provider:  KindEmail,
		SubjectID: email,
		Email:     &email,
	}
	return &Verification{Identity: identity, RedirectURL: creds.RedirectURL}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
