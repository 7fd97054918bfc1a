// Package events fires best-effort side effects on account creation and
// sign-in. Handler failures are logged and swallowed; they never roll back
// the primary operation or block the response.
package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/doctrack-dev/doctrack/internal/models"
)

// Kind identifies an auth lifecycle event
type Kind string

const (
	KindUserCreated Kind = "user.created"
	KindSignedIn    Kind = "user.signed_in"
)

// Event carries the user a lifecycle event is about
type Event struct {
	Kind Kind
	User *models.User
}

// HandlerFunc is one best-effort side effect
type HandlerFunc func(ctx context.Context, evt Event) error

type registration struct {
	name    string
	handler HandlerFunc
}

// Dispatcher runs registered handlers synchronously in registration order.
// A failing or panicking handler is logged and never prevents the handlers
// after it from running.
type Dispatcher struct {
	handlers []registration
	logger   zerolog.Logger
}

// NewDispatcher creates an event dispatcher
func NewDispatcher(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger.With().Str("component", "events").Logger(),
	}
}

// Register appends a named handler. Registration order is execution order.
func (d *Dispatcher) Register(name string, handler HandlerFunc) {
	d.handlers = append(d.handlers, registration{name: name, handler: handler})
}

// Dispatch runs every handler for the event, isolating failures per handler
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) {
	for _, reg := range d.handlers {
		d.run(ctx, reg, evt)
	}
}

func (d *Dispatcher) run(ctx context.Context, reg registration, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error().
				Str("handler", reg.name).
				Str("event", string(evt.Kind)).
				Interface("panic", rec).
				Msg("Event handler panicked")
		}
	}()

	if err := reg.handler(ctx, evt); err != nil {
		d.logger.Warn().
			Err(err).
			Str("handler", reg.name).
			Str("event", string(evt.Kind)).
			Str("user_id", evt.User.ID).
			Msg("Event handler failed")
	}
}
