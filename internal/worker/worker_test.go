package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamloop/backend/pkg/queue"
)

func notificationJob(t *testing.T, payload queue.NotificationPayload) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return &queue.Job{
		ID:        uuid.New().String(),
		Type:      queue.JobTypeNotification,
		Payload:   raw,
		CreatedAt: time.Now(),
	}
}

func TestProcessDeliversWebhook(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	teamID := uuid.New()
	d := NewNotificationDeliverer(nil, srv.URL, 2*time.Second, nil)
	job := notificationJob(t, queue.NotificationPayload{Event: "message-created", TeamID: teamID, Body: "hi"})

	require.NoError(t, d.Process(context.Background(), job))
	assert.Equal(t, "application/json", gotContentType)

	var delivered queue.NotificationPayload
	require.NoError(t, json.Unmarshal(gotBody, &delivered))
	assert.Equal(t, "message-created", delivered.Event)
	assert.Equal(t, teamID, delivered.TeamID)
	assert.Equal(t, "hi", delivered.Body)
}

func TestProcessWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewNotificationDeliverer(nil, srv.URL, 2*time.Second, nil)
	job := notificationJob(t, queue.NotificationPayload{Event: "member-added", TeamID: uuid.New()})

	assert.Error(t, d.Process(context.Background(), job))
}

func TestProcessNoWebhookConfigured(t *testing.T) {
	d := NewNotificationDeliverer(nil, "", time.Second, nil)
	job := notificationJob(t, queue.NotificationPayload{Event: "member-added", TeamID: uuid.New()})
	assert.NoError(t, d.Process(context.Background(), job))
}

func TestProcessRejectsUnknownJobType(t *testing.T) {
	d := NewNotificationDeliverer(nil, "", time.Second, nil)
	err := d.Process(context.Background(), &queue.Job{ID: "x", Type: "mystery"})
	assert.Error(t, err)
}

func TestProcessRejectsBadPayload(t *testing.T) {
	d := NewNotificationDeliverer(nil, "", time.Second, nil)
	err := d.Process(context.Background(), &queue.Job{ID: "x", Type: queue.JobTypeNotification, Payload: []byte("{")})
	assert.Error(t, err)
}
