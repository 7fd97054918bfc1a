package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	// Welcome email sent after account creation (best effort)
	TypeWelcomeEmail = "email:welcome"
	// Periodic pruning of expired verification tokens and auth states
	TypePruneAuthArtifacts = "auth:prune"
)

// WelcomeEmailPayload identifies the user to welcome
type WelcomeEmailPayload struct {
	UserID string `json:"user_id"`
}

// NewWelcomeEmailTask creates a task to deliver the welcome email
func NewWelcomeEmailTask(userID string) (*asynq.Task, error) {
	payload, err := json.Marshal(WelcomeEmailPayload{
		UserID: userID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeWelcomeEmail, payload), nil
}

// NewPruneAuthArtifactsTask creates a task to delete expired auth rows
func NewPruneAuthArtifactsTask() *asynq.Task {
	return asynq.NewTask(TypePruneAuthArtifacts, nil)
}

// ParseWelcomeEmailPayload parses the welcome email payload from an Asynq task
func ParseWelcomeEmailPayload(task *asynq.Task) (WelcomeEmailPayload, error) {
	var payload WelcomeEmailPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}
