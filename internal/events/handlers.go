package events

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/doctrack-dev/doctrack/internal/analytics"
	"github.com/doctrack-dev/doctrack/internal/tasks"
)

// TaskEnqueuer is the slice of the asynq client the email handler needs
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// NewAnalyticsHandler identifies the user and records a structured event.
// The identify call always precedes the event capture.
func NewAnalyticsHandler(sink analytics.Sink) HandlerFunc {
	return func(ctx context.Context, evt Event) error {
		distinctID := evt.User.EmailOrID()

		if err := sink.Identify(distinctID, map[string]interface{}{
			"user_id": evt.User.ID,
		}); err != nil {
			return fmt.Errorf("identify failed: %w", err)
		}

		props := map[string]interface{}{
			"userId": evt.User.ID,
		}
		if evt.User.Email != nil {
			props["email"] = *evt.User.Email
		}

		var name string
		switch evt.Kind {
		case KindUserCreated:
			name = "User Signed Up"
		case KindSignedIn:
			name = "User Signed In"
		default:
			return nil
		}

		if err := sink.Capture(distinctID, name, props); err != nil {
			return fmt.Errorf("capture failed: %w", err)
		}
		return nil
	}
}

// NewWelcomeEmailHandler enqueues the welcome email for newly created users.
// Delivery happens on the worker so the sign-in response never waits on the
// mail provider; users without an email (passkey-first) are skipped.
func NewWelcomeEmailHandler(enqueuer TaskEnqueuer) HandlerFunc {
	return func(ctx context.Context, evt Event) error {
		if evt.Kind != KindUserCreated {
			return nil
		}
		if evt.User.Email == nil {
			return nil
		}

		task, err := tasks.NewWelcomeEmailTask(evt.User.ID)
		if err != nil {
			return err
		}
		if _, err := enqueuer.EnqueueContext(ctx, task, asynq.MaxRetry(3), asynq.Queue("low")); err != nil {
			return fmt.Errorf("failed to enqueue welcome email: %w", err)
		}
		return nil
	}
}
