package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doctrack-dev/doctrack/internal/models"
)

// fakeOAuthProvider serves the token and userinfo endpoints of an OAuth
// provider for callback verification tests.
type fakeOAuthProvider struct {
	server       *httptest.Server
	userInfo     map[string]interface{}
	tokenStatus  int
	lastExchange url.Values
}

func newFakeOAuthProvider(t *testing.T, userInfo map[string]interface{}) *fakeOAuthProvider {
	t.Helper()

	f := &fakeOAuthProvider{userInfo: userInfo, tokenStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.lastExchange = r.PostForm
		if f.tokenStatus != http.StatusOK {
			w.WriteHeader(f.tokenStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "access-token",
			"refresh_token": "refresh-token",
			"scope":         "openid email profile",
			"expires_in":    3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(f.userInfo)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeOAuthProvider) provider(kind Kind) oauthProvider {
	return oauthProvider{
		kind:         kind,
		clientID:     "client-id",
		clientSecret: "client-secret",
		authURL:      f.server.URL + "/auth",
		tokenURL:     f.server.URL + "/token",
		userInfoURL:  f.server.URL + "/userinfo",
		scopes:       []string{"openid", "email", "profile"},
	}
}

func seedAuthState(t *testing.T, router *Router, kind Kind, redirect string) string {
	t.Helper()
	state := "test-state-" + string(kind)
	record := &models.AuthState{
		State:        state,
		Provider:     string(kind),
		CodeVerifier: "test-verifier",
		RedirectURL:  redirect,
		ExpiresAt:    time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, router.db.Create(record).Error)
	return state
}

func TestBeginOAuthGoogleForcesOfflineConsent(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, &fakeMailer{}, nil)

	authURL, err := router.BeginOAuth(context.Background(), KindGoogle, "/documents")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	query := parsed.Query()

	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "google-client", query.Get("client_id"))
	assert.Equal(t, "http://localhost:8080/api/auth/callback/google", query.Get("redirect_uri"))
	// Refresh-capable grant is requested for Google specifically
	assert.Equal(t, "consent", query.Get("prompt"))
	assert.Equal(t, "offline", query.Get("access_type"))
	assert.Equal(t, "S256", query.Get("code_challenge_method"))
	require.NotEmpty(t, query.Get("state"))

	var state models.AuthState
	require.NoError(t, db.Where("state = ?", query.Get("state")).First(&state).Error)
	assert.Equal(t, "google", state.Provider)
	assert.Equal(t, "/documents", state.RedirectURL)
	assert.NotEmpty(t, state.CodeVerifier)
}

func TestBeginOAuthLinkedInOmitsOfflineParams(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, &fakeMailer{}, nil)

	authURL, err := router.BeginOAuth(context.Background(), KindLinkedIn, "")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	query := parsed.Query()

	assert.Empty(t, query.Get("prompt"))
	assert.Empty(t, query.Get("access_type"))
	assert.Equal(t, "linkedin-client", query.Get("client_id"))
}

func TestBeginOAuthRejectsNonOAuthKinds(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, &fakeMailer{}, nil)

	for _, kind := range []Kind{KindEmail, KindPasskey, Kind("github")} {
		_, err := router.BeginOAuth(context.Background(), kind, "")
		assert.True(t, errors.Is(err, ErrUnknownProvider), "kind %q", kind)
	}
}

func TestVerifyOAuthCallbackSuccess(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, &fakeMailer{}, nil)

	fake := newFakeOAuthProvider(t, map[string]interface{}{
		"sub":     "g1",
		"email":   "Ada@Example.com",
		"name":    "Ada Lovelace",
		"picture": "https://lh3.example.com/photo.jpg",
	})
	state := seedAuthState(t, router, KindGoogle, "/documents")

	verification, err := router.verifyOAuthCallback(context.Background(), fake.provider(KindGoogle), Credentials{
		Kind:  KindGoogle,
		Code:  "auth-code",
		State: state,
	})
	require.NoError(t, err)

	identity := verification.Identity
	assert.Equal(t, KindGoogle, identity.Provider)
	assert.Equal(t, "g1", identity.SubjectID)
	require.NotNil(t, identity.Email)
	assert.Equal(t, "ada@example.com", *identity.Email)
	assert.Equal(t, "Ada Lovelace", identity.Name)
	assert.Equal(t, "https://lh3.example.com/photo.jpg", identity.Image)
	assert.Equal(t, "access-token", identity.AccessToken)
	assert.Equal(t, "refresh-token", identity.RefreshToken)
	require.NotNil(t, identity.ExpiresAt)
	assert.Equal(t, "/documents", verification.RedirectURL)

	// PKCE verifier travels with the code exchange
	assert.Equal(t, "test-verifier", fake.lastExchange.Get("code_verifier"))
	assert.Equal(t, "auth-code", fake.lastExchange.Get("code"))
}

func TestVerifyOAuthCallbackMissingSubRejected(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, &fakeMailer{}, nil)

	fake := newFakeOAuthProvider(t, map[string]interface{}{
		"email": "ada@example.com",
		"name":  "Ada Lovelace",
	})
	state := seedAuthState(t, router, KindLinkedIn, "")

	_, err := router.verifyOAuthCallback(context.Background(), fake.provider(KindLinkedIn), Credentials{
		Kind:  KindLinkedIn,
		Code:  "auth-code",
		State: state,
	})
	assert.True(t, errors.Is(err, ErrMalformedProfile))
}

func TestVerifyOAuthCallbackDefaultAvatar(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, &fakeMailer{}, nil)

	fake := newFakeOAuthProvider(t, map[string]interface{}{
		"sub":   "l1",
		"email": "ada@example.com",
		"name":  "Ada Lovelace",
	})
	state := seedAuthState(t, router, KindLinkedIn, "")

	verification, err := router.verifyOAuthCallback(context.Background(), fake.provider(KindLinkedIn), Credentials{
		Kind:  KindLinkedIn,
		Code:  "auth-code",
		State: state,
	})
	require.NoError(t, err)
	assert.Equal(t, defaultAvatarURL, verification.Identity.Image)
}

func TestVerifyOAuthCallbackTokenExchangeFailure(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, &fakeMailer{}, nil)

	fake := newFakeOAuthProvider(t, map[string]interface{}{"sub": "g1"})
	fake.tokenStatus = http.StatusUnauthorized
	state := seedAuthState(t, router, KindGoogle, "")

	_, err := router.verifyOAuthCallback(context.Background(), fake.provider(KindGoogle), Credentials{
		Kind:  KindGoogle,
		Code:  "auth-code",
		State: state,
	})
	assert.True(t, errors.Is(err, ErrVerificationFailed))
}

func TestAuthStateIsSingleUse(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, &fakeMailer{}, nil)

	fake := newFakeOAuthProvider(t, map[string]interface{}{
		"sub":   "g1",
		"email": "ada@example.com",
	})
	state := seedAuthState(t, router, KindGoogle, "")

	creds := Credentials{Kind: KindGoogle, Code: "auth-code", State: state}

	_, err := router.verifyOAuthCallback(context.Background(), fake.provider(KindGoogle), creds)
	require.NoError(t, err)

	_, err = router.verifyOAuthCallback(context.Background(), fake.provider(KindGoogle), creds)
	assert.True(t, errors.Is(err, ErrVerificationFailed))
}

func TestVerifyOAuthCallbackExpiredState(t *testing.T) {
	db := newTestDB(t)
	router := newTestRouter(t, db, &fakeMailer{}, nil)

	fake := newFakeOAuthProvider(t, map[string]interface{}{"sub": "g1"})
	record := &models.AuthState{
		State:        "expired-state",
		Provider:     "google",
		CodeVerifier: "test-verifier",
		ExpiresAt:    time.Now().Add(-time.Minute),
	}
	require.NoError(t, db.Create(record).Error)

	_, err := router.verifyOAuthCallback(context.Background(), fake.provider(KindGoogle), Credentials{
		Kind:  KindGoogle,
		Code:  "auth-code",
		State: "expired-state",
	})
	assert.True(t, errors.Is(err, ErrVerificationFailed))
}
