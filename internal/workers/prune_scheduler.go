package workers

import (
	"time"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/doctrack-dev/doctrack/internal/tasks"
)

// StartPruneScheduler enqueues a prune task on the configured cron
// schedule. It blocks, so run it in its own goroutine.
func StartPruneScheduler(client *asynq.Client, schedule string, logger zerolog.Logger) {
	// Standard 5-field format: minute hour day-of-month month day-of-week
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	parsed, err := parser.Parse(schedule)
	if err != nil {
		logger.Error().Err(err).Str("schedule", schedule).Msg("Invalid prune schedule, pruning disabled")
		return
	}

	logger.Info().Str("schedule", schedule).Msg("Prune scheduler started")

	for {
		next := parsed.Next(time.Now())
		time.Sleep(time.Until(next))

		if _, err := client.Enqueue(tasks.NewPruneAuthArtifactsTask(), asynq.Queue("low")); err != nil {
			logger.Error().Err(err).Msg("Failed to enqueue prune task")
		}
	}
}
