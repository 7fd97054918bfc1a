package providers

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/doctrack-dev/doctrack/internal/models"
)

// Deterministic fallback when a provider profile carries no avatar
const defaultAvatarURL = "https://cdn-icons-png.flaticon.com/512/174/174857.png"

// Lifetime of an in-flight consent flow before the state record expires
const authStateTTL = 10 * time.Minute

// oauthProvider describes one OAuth provider's endpoints and client
// credentials. Both configured providers speak OIDC userinfo.
type oauthProvider struct {
	kind         Kind
	clientID     string
	clientSecret string
	authURL      string
	tokenURL     string
	userInfoURL  string
	scopes       []string
	// Provider-specific authorization parameters (e.g. Google's forced
	// offline consent for a refresh-capable grant)
	authParams url.Values
}

func (r *Router) googleProvider() oauthProvider {
	return oauthProvider{
		kind:         KindGoogle,
		clientID:     r.cfg.Google.ClientID,
		clientSecret: r.cfg.Google.ClientSecret,
		authURL:      "https://accounts.google.com/o/oauth2/v2/auth",
		tokenURL:     "https://oauth2.googleapis.com/token",
		userInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
		scopes:       []string{"openid", "email", "profile"},
		authParams: url.Values{
			"prompt":      {"consent"},
			"access_type": {"offline"},
		},
	}
}

func (r *Router) linkedinProvider() oauthProvider {
	return oauthProvider{
		kind:         KindLinkedIn,
		clientID:     r.cfg.LinkedIn.ClientID,
		clientSecret: r.cfg.LinkedIn.ClientSecret,
		authURL:      "https://www.linkedin.com/oauth/v2/authorization",
		tokenURL:     "https://www.linkedin.com/oauth/v2/accessToken",
		userInfoURL:  "https://api.linkedin.com/v2/userinfo",
		scopes:       []string{"openid", "profile", "email"},
	}
}

func (r *Router) callbackURL(kind Kind) string {
	return fmt.Sprintf("%s/api/auth/callback/%s", strings.TrimSuffix(r.cfg.Server.BaseURL, "/"), kind)
}

// BeginOAuth starts a consent flow: persists the state and PKCE verifier,
// then returns the provider authorization URL to redirect the browser to.
func (r *Router) BeginOAuth(ctx context.Context, kind Kind, redirectURL string) (string, error) {
	var provider oauthProvider
	switch kind {
	case KindGoogle:
		provider = r.googleProvider()
	case KindLinkedIn:
		provider = r.linkedinProvider()
	default:
		return "", ErrUnknownProvider
	}
	if provider.clientID == "" {
		return "", fmt.Errorf("provider %s is not configured", kind)
	}

	state, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	verifier, err := newCodeVerifier()
	if err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}

	record := &models.AuthState{
		State:        state,
		Provider:     string(kind),
		CodeVerifier: verifier,
		RedirectURL:  redirectURL,
		ExpiresAt:    r.now().Add(authStateTTL),
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return "", fmt.Errorf("failed to persist auth state: %w", err)
	}

	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", provider.clientID)
	query.Set("redirect_uri", r.callbackURL(kind))
	query.Set("scope", strings.Join(provider.scopes, " "))
	query.Set("state", state)
	query.Set("code_challenge", computeS256Challenge(verifier))
	query.Set("code_challenge_method", "S256")
	for key, values := range provider.authParams {
		for _, v := range values {
			query.Set(key, v)
		}
	}

	authURL, err := url.Parse(provider.authURL)
	if err != nil {
		return "", fmt.Errorf("invalid provider auth URL: %w", err)
	}
	authURL.RawQuery = query.Encode()
	return authURL.String(), nil
}

// consumeAuthState loads and deletes the state record for a callback.
// Deleting first keeps the state single-use even under concurrent callbacks.
func (r *Router) consumeAuthState(ctx context.Context, kind Kind, state string) (*models.AuthState, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: missing state", ErrVerificationFailed)
	}

	var record models.AuthState
	err := r.db.WithContext(ctx).
		Where("state = ? AND provider = ?", state, string(kind)).
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("%w: unknown state", ErrVerificationFailed)
		}
		return nil, fmt.Errorf("failed to load auth state: %w", err)
	}

	res := r.db.WithContext(ctx).Where("id = ?", record.ID).Delete(&models.AuthState{})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to consume auth state: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: state already consumed", ErrVerificationFailed)
	}

	if r.now().After(record.ExpiresAt) {
		return nil, fmt.Errorf("%w: state expired", ErrVerificationFailed)
	}

	return &record, nil
}

func (r *Router) verifyOAuthCallback(ctx context.Context, provider oauthProvider, creds Credentials) (*Verification, error) {
	if creds.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", ErrVerificationFailed)
	}

	state, err := r.consumeAuthState(ctx, provider.kind, creds.State)
	if err != nil {
		return nil, err
	}

	token, err := r.exchangeCode(ctx, provider, creds.Code, state.CodeVerifier)
	if err != nil {
		return nil, err
	}

	info, err := r.fetchUserInfo(ctx, provider, token.AccessToken)
	if err != nil {
		return nil, err
	}

	// Providers occasionally return incomplete profiles; reject before any
	// persistence is attempted.
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: %s profile missing sub", ErrMalformedProfile, provider.kind)
	}

	image := info.Picture
	if image == "" {
		image = defaultAvatarURL
	}

	identity := &Identity{
		Provider:     provider.kind,
		SubjectID:    info.Sub,
		Name:         info.Name,
		Image:        image,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Scope:        token.Scope,
	}
	if info.Email != "" {
		email := strings.ToLower(info.Email)
		identity.Email = &email
	}
	if token.ExpiresIn > 0 {
		expiresAt := r.now().Add(time.Duration(token.ExpiresIn) * time.Second)
		identity.ExpiresAt = &expiresAt
	}

	return &Verification{Identity: identity, RedirectURL: state.RedirectURL}, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	ExpiresIn    int64  `json:"expires_in"`
	IDToken      string `json:"id_token"`
}

func (r *Router) exchangeCode(ctx context.Context, provider oauthProvider, code, codeVerifier string) (*tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", r.callbackURL(provider.kind))
	form.Set("client_id", provider.clientID)
	form.Set("client_secret", provider.clientSecret)
	form.Set("code_verifier", codeVerifier)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: token exchange: %v", ErrVerificationFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: token exchange returned %d", ErrVerificationFailed, resp.StatusCode)
	}

	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: token exchange: %v", ErrVerificationFailed, err)
	}
	if payload.AccessToken == "" {
		return nil, fmt.Errorf("%w: missing access token", ErrVerificationFailed)
	}

	return &payload, nil
}

// userInfo is the OIDC userinfo shape shared by Google and LinkedIn
type userInfo struct {
	Sub     string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

func (r *Router) fetchUserInfo(ctx context.Context, provider oauthProvider, accessToken string) (*userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo fetch: %v", ErrVerificationFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo returned %d", ErrVerificationFailed, resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: userinfo decode: %v", ErrMalformedProfile, err)
	}

	return &info, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func newCodeVerifier() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func computeS256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
