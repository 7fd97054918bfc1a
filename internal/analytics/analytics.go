// Package analytics wraps the PostHog client behind a best-effort sink.
package analytics

import (
	"github.com/posthog/posthog-go"
	"github.com/rs/zerolog"

	"github.com/doctrack-dev/doctrack/internal/config"
)

// Sink accepts identification and event-tracking calls. Implementations are
// best-effort: callers log returned errors and move on.
type Sink interface {
	Identify(distinctID string, properties map[string]interface{}) error
	Capture(distinctID, event string, properties map[string]interface{}) error
	Close() error
}

// PostHog is a Sink backed by the PostHog batching client. The client
// flushes asynchronously, so Identify/Capture only fail on a closed queue.
type PostHog struct {
	client posthog.Client
	logger zerolog.Logger
}

// New creates the configured analytics sink, or a no-op sink when no API
// key is set.
func New(cfg config.AnalyticsConfig, logger zerolog.Logger) (Sink, error) {
	if cfg.PostHogAPIKey == "" {
		logger.Debug().Msg("Analytics disabled: no API key configured")
		return Noop{}, nil
	}

	client, err := posthog.NewWithConfig(cfg.PostHogAPIKey, posthog.Config{
		Endpoint: cfg.Endpoint,
	})
	if err != nil {
		return nil, err
	}

	return &PostHog{
		client: client,
		logger: logger.With().Str("component", "analytics").Logger(),
	}, nil
}

func (p *PostHog) Identify(distinctID string, properties map[string]interface{}) error {
	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}
	return p.client.Enqueue(posthog.Identify{
		DistinctId: distinctID,
		Properties: props,
	})
}

func (p *PostHog) Capture(distinctID, event string, properties map[string]interface{}) error {
	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}
	return p.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: props,
	})
}

// Close flushes buffered events
func (p *PostHog) Close() error {
	return p.client.Close()
}

// Noop is the sink used when analytics is not configured
type Noop struct{}

func (Noop) Identify(string, map[string]interface{}) error        { return nil }
func (Noop) Capture(string, string, map[string]interface{}) error { return nil }
func (Noop) Close() error                                         { return nil }
