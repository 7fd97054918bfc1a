// Package providers implements multi-provider sign-in verification: magic
// email links, Google and LinkedIn OAuth, and passkeys verified by an
// external tenant service.
package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/doctrack-dev/doctrack/internal/config"
	"github.com/doctrack-dev/doctrack/internal/mailer"
)

// Kind identifies a sign-in provider
type Kind string

const (
	KindEmail    Kind = "email"
	KindGoogle   Kind = "google"
	KindLinkedIn Kind = "linkedin"
	KindPasskey  Kind = "passkey"
)

var (
	ErrUnknownProvider    = errors.New("unknown provider")
	ErrVerificationFailed = errors.New("verification failed")
	ErrMalformedProfile   = errors.New("malformed provider profile")
)

// ParseKind validates a provider identifier from a request path or payload
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindEmail, KindGoogle, KindLinkedIn, KindPasskey:
		return Kind(s), nil
	}
	return "", ErrUnknownProvider
}

// Identity is a verified external identity: the provider's subject id plus
// whatever profile fields the provider vouched for. Email is nil on the
// passkey path.
type Identity struct {
	Provider  Kind
	SubjectID string
	Email     *string
	Name      string
	Image     string

	// OAuth grant material, persisted on the account link
	AccessToken  string
	RefreshToken string
	Scope        string
	ExpiresAt    *time.Time
}

// Credentials is the tagged union of provider-specific callback material.
// Only the fields for the declared Kind are read.
type Credentials struct {
	Kind Kind

	// OAuth callback leg
	Code  string
	State string

	// Email callback leg
	Email       string
	Token       string
	RedirectURL string

	// Passkey assertion token from the tenant widget
	PasskeyToken string
}

// Verification is the outcome of a successful credential check
type Verification struct {
	Identity    *Identity
	RedirectURL string // post-login redirect target carried through the flow
}

// PasskeyVerifier verifies a passkey assertion with the external tenant
// service and yields the tenant-scoped user id.
type PasskeyVerifier interface {
	Verify(ctx context.Context, token string) (string, error)
}

// Router dispatches a sign-in attempt to exactly one verification strategy
// based on the declared provider kind.
type Router struct {
	cfg        *config.Config
	db         *gorm.DB
	mail       mailer.Sender
	passkeys   PasskeyVerifier
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// NewRouter creates a credential router. All outbound provider calls share
// one bounded-timeout HTTP client.
func NewRouter(cfg *config.Config, db *gorm.DB, mail mailer.Sender, passkeys PasskeyVerifier, logger zerolog.Logger) *Router {
	return &Router{
		cfg:        cfg,
		db:         db,
		mail:       mail,
		passkeys:   passkeys,
		httpClient: &http.Client{Timeout: config.ProviderTimeout},
		logger:     logger.With().Str("component", "providers").Logger(),
		now:        time.Now,
	}
}

// Verify checks the supplied credentials with the matching strategy. An
// unknown kind is rejected before any persistence call is made.
func (r *Router) Verify(ctx context.Context, creds Credentials) (*Verification, error) {
	switch creds.Kind {
	case KindEmail:
		return r.verifyEmailToken(ctx, creds)
	case KindGoogle:
		return r.verifyOAuthCallback(ctx, r.googleProvider(), creds)
	case KindLinkedIn:
		return r.verifyOAuthCallback(ctx, r.linkedinProvider(), creds)
	case KindPasskey:
		return r.verifyPasskey(ctx, creds)
	}
	return nil, ErrUnknownProvider
}
