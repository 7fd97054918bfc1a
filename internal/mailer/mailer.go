// Package mailer sends transactional email through Resend.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"html/template"

	"github.com/resend/resend-go/v2"
	"github.com/rs/zerolog"

	"github.com/doctrack-dev/doctrack/internal/config"
)

// Sender is the narrow mail interface the auth flows depend on
type Sender interface {
	SendVerification(ctx context.Context, to, link string) error
	SendWelcome(ctx context.Context, to, name string) error
}

var welcomeTemplate = template.Must(template.New("welcome").Parse(
	`<p>Hi{{if .Name}} {{.Name}}{{end}},</p>
<p>Welcome to Doctrack! You can now upload documents, create shareable links,
and track who viewed them.</p>
<p>— The Doctrack team</p>`))

// Resend sends email through the Resend API
type Resend struct {
	client *resend.Client
	from   string
	logger zerolog.Logger
}

// NewResend creates a Resend-backed mail sender
func NewResend(cfg config.EmailConfig, logger zerolog.Logger) *Resend {
	return &Resend{
		client: resend.NewClient(cfg.ResendAPIKey),
		from:   cfg.From,
		logger: logger.With().Str("component", "mailer").Logger(),
	}
}

// SendVerification delivers the magic sign-in link. The link itself is the
// deliverable: the caller decides what, if anything, to tell the end user.
func (r *Resend) SendVerification(ctx context.Context, to, link string) error {
	html := fmt.Sprintf(
		`<p>Please click the following link to sign in to Doctrack:</p>
<p><a href="%s">Sign in to Doctrack</a></p>
<p>This link expires shortly and can only be used once.</p>`, link)

	_, err := r.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{to},
		Subject: "Sign in to Doctrack",
		Html:    html,
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to send verification email")
		return fmt.Errorf("failed to send verification email: %w", err)
	}

	return nil
}

// SendWelcome delivers the post-signup welcome email
func (r *Resend) SendWelcome(ctx context.Context, to, name string) error {
	var body bytes.Buffer
	if err := welcomeTemplate.Execute(&body, struct{ Name string }{Name: name}); err != nil {
		return fmt.Errorf("failed to render welcome email: %w", err)
	}

	_, err := r.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{to},
		Subject: "Welcome to Doctrack",
		Html:    body.String(),
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to send welcome email")
		return fmt.Errorf("failed to send welcome email: %w", err)
	}

	return nil
}
