package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/doctrack-dev/doctrack/internal/auth"
	"github.com/doctrack-dev/doctrack/internal/events"
	"github.com/doctrack-dev/doctrack/internal/providers"
)

// Browser flows land here on failure. The query value is a generic code:
// no provider or database detail ever reaches the client.
const loginErrorPath = "/login?error=auth"

// EmailSignInRequest starts a magic-link flow
type EmailSignInRequest struct {
	Email       string `json:"email" binding:"required,email" validate:"required,email"`
	RedirectURL string `json:"redirect_url"`
}

// PasskeySignInRequest carries the assertion token from the tenant widget
type PasskeySignInRequest struct {
	Token       string `json:"token" binding:"required" validate:"required"`
	RedirectURL string `json:"redirect_url"`
}

// SessionResponse is returned by JSON sign-in endpoints
type SessionResponse struct {
	Token   string           `json:"token"`
	Session auth.SessionView `json:"session"`
}

// @Summary Start email sign-in
// @Description Sends a single-use sign-in link. The response never reveals whether the address is registered.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body EmailSignInRequest true "Email sign-in request"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /api/auth/signin/email [post]
func (s *Server) signInEmail(c *gin.Context) {
	var req EmailSignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A valid email address is required"})
		return
	}

	// Validate request
	if err := s.validator.Struct(&req); err != nil {
		s.logger.Warn().Err(err).Msg("Email sign-in validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "A valid email address is required"})
		return
	}

	if err := s.providers.BeginEmail(c.Request.Context(), req.Email, req.RedirectURL); err != nil {
		s.logger.Error().Err(err).Msg("Failed to start email sign-in")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send sign-in email"})
		return
	}

	// Same acknowledgment whether or not the address is registered
	c.JSON(http.StatusOK, gin.H{"message": "Check your inbox for a sign-in link"})
}

// @Summary Start OAuth sign-in
// @Description Redirects the browser to the provider's consent screen
// @Tags auth
// @Param provider path string true "Provider (google, linkedin)"
// @Param redirect query string false "Post-login redirect target"
// @Success 302
// @Failure 400 {object} map[string]interface{}
// @Router /api/auth/signin/{provider} [get]
func (s *Server) signInOAuth(c *gin.Context) {
	kind, err := providers.ParseKind(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown provider"})
		return
	}

	authURL, err := s.providers.BeginOAuth(c.Request.Context(), kind, c.Query("redirect"))
	if err != nil {
		if errors.Is(err, providers.ErrUnknownProvider) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Provider does not support redirect sign-in"})
			return
		}
		s.logger.Error().Err(err).Str("provider", string(kind)).Msg("Failed to start OAuth sign-in")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start sign-in"})
		return
	}

	c.Redirect(http.StatusFound, authURL)
}

// @Summary OAuth callback
// @Description Completes the consent flow, issues a session cookie and redirects
// @Tags auth
// @Param provider path string true "Provider (google, linkedin)"
// @Success 302
// @Router /api/auth/callback/{provider} [get]
func (s *Server) callbackOAuth(c *gin.Context) {
	kind, err := providers.ParseKind(c.Param("provider"))
	if err != nil || (kind != providers.KindGoogle && kind != providers.KindLinkedIn) {
		c.Redirect(http.StatusFound, loginErrorPath)
		return
	}

	// Providers report user-denied consent via an error parameter
	if c.Query("error") != "" {
		c.Redirect(http.StatusFound, loginErrorPath)
		return
	}

	verification, err := s.providers.Verify(c.Request.Context(), providers.Credentials{
		Kind:  kind,
		Code:  c.Query("code"),
		State: c.Query("state"),
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("provider", string(kind)).Msg("OAuth verification failed")
		c.Redirect(http.StatusFound, loginErrorPath)
		return
	}

	s.finishBrowserSignIn(c, verification)
}

// @Summary Email callback
// @Description Consumes the single-use sign-in token; replay fails
// @Tags auth
// @Success 302
// @Router /api/auth/callback/email [get]
func (s *Server) callbackEmail(c *gin.Context) {
	verification, err := s.providers.Verify(c.Request.Context(), providers.Credentials{
		Kind:        providers.KindEmail,
		Email:       c.Query("email"),
		Token:       c.Query("token"),
		RedirectURL: c.Query("redirect"),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Email token verification failed")
		c.Redirect(http.StatusFound, loginErrorPath)
		return
	}

	s.finishBrowserSignIn(c, verification)
}

// @Summary Passkey sign-in
// @Description Verifies a passkey assertion through the tenant verifier
// @Tags auth
// @Accept json
// @Produce json
// @Param request body PasskeySignInRequest true "Passkey sign-in request"
// @Success 200 {object} SessionResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Router /api/auth/signin/passkey [post]
func (s *Server) signInPasskey(c *gin.Context) {
	var req PasskeySignInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Assertion token is required"})
		return
	}

	// Validate request
	if err := s.validator.Struct(&req); err != nil {
		s.logger.Warn().Err(err).Msg("Passkey sign-in validation failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Assertion token is required"})
		return
	}

	verification, err := s.providers.Verify(c.Request.Context(), providers.Credentials{
		Kind:         providers.KindPasskey,
		PasskeyToken: req.Token,
		RedirectURL:  req.RedirectURL,
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Passkey verification failed")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Sign-in failed"})
		return
	}

	token, session, err := s.issueSession(c, verification)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Sign-in failed"})
		return
	}

	c.JSON(http.StatusOK, SessionResponse{Token: token, Session: session})
}

// issueSession resolves the verified identity to a user, issues the session
// token and cookie, and fires lifecycle events. Verification completed
// before resolution, resolution before issuance, issuance before dispatch.
func (s *Server) issueSession(c *gin.Context, verification *providers.Verification) (string, auth.SessionView, error) {
	user, created, err := s.resolver.Resolve(c.Request.Context(), verification.Identity)
	if err != nil {
		s.logger.Error().Err(err).
			Str("provider", string(verification.Identity.Provider)).
			Msg("Failed to resolve account")
		return "", auth.SessionView{}, err
	}

	token, err := auth.GenerateToken(user, s.config.Session.TTL)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to generate session token")
		return "", auth.SessionView{}, err
	}

	s.setSessionCookie(c, token, int(s.config.Session.TTL.Seconds()))

	if created {
		s.dispatcher.Dispatch(c.Request.Context(), events.Event{Kind: events.KindUserCreated, User: user})
	}
	s.dispatcher.Dispatch(c.Request.Context(), events.Event{Kind: events.KindSignedIn, User: user})

	s.logger.Info().
		Str("user_id", user.ID).
		Str("provider", string(verification.Identity.Provider)).
		Bool("created", created).
		Msg("User signed in")

	claims, err := auth.ValidateToken(token)
	if err != nil {
		return "", auth.SessionView{}, err
	}
	return token, auth.Project(claims), nil
}

// finishBrowserSignIn completes a redirect-based flow
func (s *Server) finishBrowserSignIn(c *gin.Context, verification *providers.Verification) {
	if _, _, err := s.issueSession(c, verification); err != nil {
		c.Redirect(http.StatusFound, loginErrorPath)
		return
	}

	c.Redirect(http.StatusFound, s.safeRedirectTarget(verification.RedirectURL))
}

// safeRedirectTarget confines the post-login redirect to this deployment.
// The target travels through the sign-in link, so whoever initiated the flow
// chose it; a foreign origin here would bounce the victim off-site right
// after the session cookie is set. Only relative paths and absolute URLs on
// the configured base origin survive; everything else falls back to the root.
func (s *Server) safeRedirectTarget(target string) string {
	if target == "" {
		return "/"
	}

	// Relative path. Reject protocol-relative (//host) and backslash
	// variants some browsers normalize into them.
	if strings.HasPrefix(target, "/") {
		if strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
			return "/"
		}
		return target
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "/"
	}
	base, err := url.Parse(s.config.Server.BaseURL)
	if err != nil {
		return "/"
	}
	if parsed.Scheme != base.Scheme || parsed.Host != base.Host {
		return "/"
	}
	return target
}

func (s *Server) setSessionCookie(c *gin.Context, token string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(
		s.config.Session.CookieName,
		token,
		maxAge,
		"/",
		s.config.Session.CookieDomain,
		s.config.Session.Secure,
		true, // httpOnly
	)
}

// @Summary Read current session
// @Description Returns the session view, or null when unauthenticated
// @Tags auth
// @Produce json
// @Success 200 {object} auth.SessionView
// @Router /api/auth/session [get]
func (s *Server) getSession(c *gin.Context) {
	token, err := extractSessionToken(c, s.config.Session.CookieName)
	if err != nil {
		c.JSON(http.StatusOK, nil)
		return
	}

	claims, err := auth.ValidateToken(token)
	if err != nil {
		c.JSON(http.StatusOK, nil)
		return
	}

	c.JSON(http.StatusOK, auth.Project(claims))
}

// @Summary Sign out
// @Description Clears the session cookie
// @Tags auth
// @Success 200 {object} map[string]interface{}
// @Router /api/auth/signout [post]
func (s *Server) signOut(c *gin.Context) {
	s.setSessionCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"message": "Signed out"})
}

// @Summary Get current user
// @Description Returns the session of the currently authenticated user
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} auth.SessionView
// @Failure 401 {object} map[string]interface{}
// @Router /api/auth/me [get]
func (s *Server) getCurrentUser(c *gin.Context) {
	session, exists := GetSession(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	c.JSON(http.StatusOK, session)
}
