package auth

// SessionView is the externally visible session shape consumed by every
// page and API route.
type SessionView struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Image string `json:"image,omitempty"`
}

// Project converts validated token claims into a SessionView. It is pure:
// everything it needs is already on the token.
func Project(claims *JWTClaims) SessionView {
	return SessionView{
		ID:    claims.UserID,
		Email: claims.Email,
		Name:  claims.Name,
		Image: claims.Image,
	}
}

// Incomplete reports whether the session belongs to a user that has not
// captured an email yet (passkey-first signup). This is an explicit state,
// not an error: downstream consumers treat such sessions as anonymous.
func (s SessionView) Incomplete() bool {
	return s.Email == ""
}
