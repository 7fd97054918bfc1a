package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/doctrack-dev/doctrack/internal/config"
)

// HankoClient verifies passkey assertions against a tenant-scoped Hanko
// deployment. The tenant holds the stored credentials; this service only
// learns the resulting user id.
type HankoClient struct {
	tenantURL  string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHankoClient creates a tenant verifier client. Returns nil when the
// tenant is not configured, which disables the passkey provider.
func NewHankoClient(cfg config.PasskeyConfig, logger zerolog.Logger) *HankoClient {
	if cfg.TenantURL == "" {
		return nil
	}
	return &HankoClient{
		tenantURL:  strings.TrimSuffix(cfg.TenantURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: config.ProviderTimeout},
		logger:     logger.With().Str("component", "passkey").Logger(),
	}
}

// Verify submits the assertion token to the tenant and returns the
// tenant-scoped user id it vouches for.
func (c *HankoClient) Verify(ctx context.Context, token string) (string, error) {
	payload, err := json.Marshal(map[string]string{"token": token})
	if err != nil {
		return "", fmt.Errorf("failed to marshal verify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tenantURL+"/passkey/verify", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tenant verify call failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tenant verify returned %d", resp.StatusCode)
	}

	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("failed to decode verify response: %w", err)
	}

	return body.UserID, nil
}

// verifyPasskey checks a public-key assertion through the tenant verifier.
// It yields a bare user id with no email; account resolution creates a
// placeholder user for ids it has never seen.
func (r *Router) verifyPasskey(ctx context.Context, creds Credentials) (*Verification, error) {
	if r.passkeys == nil {
		return nil, fmt.Errorf("%w: passkey provider not configured", ErrVerificationFailed)
	}
	if creds.PasskeyToken == "" {
		return nil, fmt.Errorf("%w: missing passkey token", ErrVerificationFailed)
	}

	userID, err := r.passkeys.Verify(ctx, creds.PasskeyToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: tenant returned empty user id", ErrMalformedProfile)
	}

	identity := &Identity{
		Provider:  KindPasskey,
		SubjectID: userID,
		// Email stays nil until identity completion
	}
	return &Verification{Identity: identity, RedirectURL: creds.RedirectURL}, nil
}
