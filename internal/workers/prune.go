package workers

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/doctrack-dev/doctrack/internal/models"
)

// HandlePruneAuthArtifacts deletes expired verification tokens and OAuth
// state records. Consumed rows are already gone; this only clears links
// that were never clicked and consent flows that were never completed.
func HandlePruneAuthArtifacts(ctx context.Context, t *asynq.Task, db *gorm.DB, logger zerolog.Logger) error {
	now := time.Now()

	tokens := db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.VerificationToken{})
	if tokens.Error != nil {
		return tokens.Error
	}

	states := db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.AuthState{})
	if states.Error != nil {
		return states.Error
	}

	if tokens.RowsAffected > 0 || states.RowsAffected > 0 {
		logger.Info().
			Int64("verification_tokens", tokens.RowsAffected).
			Int64("auth_states", states.RowsAffected).
			Msg("Pruned expired auth artifacts")
	}

	return nil
}
