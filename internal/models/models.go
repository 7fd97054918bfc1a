package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// Config represents the global configuration for a deployment
// This is a singleton model (only one row should exist)
type Config struct {
	BaseModel
	// Session signing secret, auto-generated on first boot (64 hex chars)
	JWTSecret string `json:"-" gorm:"type:varchar(64);not null"`
}

// User represents an identity record. The ID is immutable once created.
// Email is nullable: passkey-first accounts exist without one until the
// identity is completed later.
type User struct {
	BaseModel
	Email     *string   `json:"email" gorm:"uniqueIndex"`
	Name      string    `json:"name"`
	Image     string    `json:"image"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`

	// Relationships
	Accounts []Account `json:"accounts,omitempty" gorm:"foreignKey:UserID"`
}

// EmailOrID returns the user's email when present, falling back to the
// stable user ID. Used as the analytics distinct id.
func (u *User) EmailOrID() string {
	if u.Email != nil && *u.Email != "" {
		return *u.Email
	}
	return u.ID
}

// Account links a User to one external provider identity. A given
// (provider, provider_account_id) pair maps to exactly one User; one User
// may hold links to several providers.
type Account struct {
	BaseModel
	UserID            string `json:"user_id" gorm:"not null;index"`
	Provider          string `json:"provider" gorm:"not null;uniqueIndex:idx_provider_account"`
	ProviderAccountID string `json:"provider_account_id" gorm:"not null;uniqueIndex:idx_provider_account"`

	// OAuth grant material (empty for email/passkey links). Google grants
	// are refresh-capable because sign-in forces offline consent.
	AccessToken  string     `json:"-" gorm:"type:text"`
	RefreshToken string     `json:"-" gorm:"type:text"`
	Scope        string     `json:"scope"`
	ExpiresAt    *time.Time `json:"expires_at"`

	// Relationships
	User User `json:"user,omitzero" gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
}

// VerificationToken is a single-use magic-link token. Only the SHA-256 hash
// of the token is stored; consumption deletes the row so a replayed link
// fails even inside the expiry window.
type VerificationToken struct {
	BaseModel
	Identifier string    `json:"identifier" gorm:"not null;index"` // email address the link was sent to
	TokenHash  string    `json:"-" gorm:"not null;uniqueIndex"`
	ExpiresAt  time.Time `json:"expires_at" gorm:"not null;index"`
}

// Expired reports whether the token is past its expiry window.
func (v *VerificationToken) Expired(now time.Time) bool {
	return now.After(v.ExpiresAt)
}

// AuthState is the short-lived state record for an in-flight OAuth consent
// flow. It carries the PKCE code verifier and the post-login redirect target.
type AuthState struct {
	BaseModel
	State        string    `json:"state" gorm:"not null;uniqueIndex"`
	Provider     string    `json:"provider" gorm:"not null"`
	CodeVerifier string    `json:"-" gorm:"not null"`
	RedirectURL  string    `json:"redirect_url"`
	ExpiresAt    time.Time `json:"expires_at" gorm:"not null;index"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	// Collect all models
	models := []interface{}{
		&Config{}, &User{}, &Account{}, &VerificationToken{}, &AuthState{},
	}

	return db.AutoMigrate(models...)
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}
