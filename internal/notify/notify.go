// Package notify fans membership and message events out to the user's private
// realtime room and to the webhook job queue. Everything here is best-effort:
// failures are logged and dropped, never surfaced to the triggering operation.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teamloop/backend/pkg/queue"
)

// UserPusher delivers an event to a single user's live connections.
// Implemented by the realtime hub.
type UserPusher interface {
	SendToUser(userID uuid.UUID, event string, payload interface{})
}

// JobQueue enqueues webhook delivery jobs. Implemented by pkg/queue.
type JobQueue interface {
	EnqueueNotification(ctx context.Context, payload queue.NotificationPayload) error
}

// Notifier pushes in-band notification events and enqueues webhook jobs.
type Notifier struct {
	pusher UserPusher
	jobs   JobQueue
	logger *zap.Logger
}

// NewNotifier creates a notifier. pusher and jobs may each be nil to disable
// that delivery path.
func NewNotifier(pusher UserPusher, jobs JobQueue, logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifier{pusher: pusher, jobs: jobs, logger: logger}
}

// MemberAdded notifies a user that they were added to a team.
func (n *Notifier) MemberAdded(teamID, userID uuid.UUID, role string) {
	if n.pusher != nil {
		n.pusher.SendToUser(userID, "notification", map[string]interface{}{
			"kind": "team-member-added", "team_id": teamID, "role": role,
		})
	}
	n.enqueue(queue.NotificationPayload{
		Event:  "team-member-added",
		TeamID: teamID,
		UserID: &userID,
		Body:   role,
	})
}

// ProjectMemberAdded notifies a user that they were added to a project.
func (n *Notifier) ProjectMemberAdded(teamID, projectID, userID uuid.UUID, role string) {
	if n.pusher != nil {
		n.pusher.SendToUser(userID, "notification", map[string]interface{}{
			"kind": "project-member-added", "team_id": teamID, "project_id": projectID, "role": role,
		})
	}
	n.enqueue(queue.NotificationPayload{
		Event:  "project-member-added",
		TeamID: teamID,
		UserID: &userID,
		Body:   role,
	})
}

// MessageCreated enqueues a webhook job for a new channel message.
func (n *Notifier) MessageCreated(teamID, channelID uuid.UUID, authorID *uuid.UUID, preview string) {
	n.enqueue(queue.NotificationPayload{
		Event:     "new-message",
		TeamID:    teamID,
		ChannelID: &channelID,
		UserID:    authorID,
		Body:      preview,
	})
}

func (n *Notifier) enqueue(payload queue.NotificationPayload) {
	if n.jobs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.jobs.EnqueueNotification(ctx, payload); err != nil {
		n.logger.Warn("enqueue notification", zap.Error(err), zap.String("event", payload.Event))
	}
}
