package workers

import (
	"context"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/doctrack-dev/doctrack/internal/mailer"
	"github.com/doctrack-dev/doctrack/internal/models"
	"github.com/doctrack-dev/doctrack/internal/tasks"
)

// HandleWelcomeEmail delivers the post-signup welcome email. The task is
// best effort: users deleted (or still emailless) before delivery are
// skipped without error so the task is not retried pointlessly.
func HandleWelcomeEmail(ctx context.Context, t *asynq.Task, db *gorm.DB, mail mailer.Sender, logger zerolog.Logger) error {
	payload, err := tasks.ParseWelcomeEmailPayload(t)
	if err != nil {
		return err
	}

	var user models.User
	if err := models.FindByID(db.WithContext(ctx), payload.UserID, &user); err != nil {
		if err == gorm.ErrRecordNotFound {
			logger.Warn().Str("user_id", payload.UserID).Msg("Welcome email skipped: user no longer exists")
			return nil
		}
		return err
	}

	if user.Email == nil {
		logger.Debug().Str("user_id", user.ID).Msg("Welcome email skipped: user has no email")
		return nil
	}

	if err := mail.SendWelcome(ctx, *user.Email, user.Name); err != nil {
		// Returning the error lets asynq retry within the task's budget
		return err
	}

	logger.Info().Str("user_id", user.ID).Msg("Welcome email sent")
	return nil
}
