package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

type fakeWriter struct {
	failures []error
	messages []kafka.Message
	calls    int
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.calls++
	if len(w.failures) > 0 {
		err := w.failures[0]
		w.failures = w.failures[1:]
		return err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func fastSink(w *fakeWriter) *KafkaSink {
	s := newKafkaSink(w, zap.NewNop())
	s.retry.InitialDelay = time.Millisecond
	s.retry.MaxDelay = time.Millisecond
	return s
}

func testEntry() *models.AuditLogEntry {
	userID := uuid.New()
	execID := "exec-1"
	return &models.AuditLogEntry{
		ID:             uuid.New(),
		OrganisationID: 42,
		UserID:         &userID,
		Action:         models.AuditActionToolExecutionCompleted,
		ExecutionID:    &execID,
		Payload:        map[string]any{"tool_id": "jira_search_7"},
		CreatedAt:      time.Now(),
	}
}

func TestKafkaSink_Publish(t *testing.T) {
	w := &fakeWriter{}
	sink := fastSink(w)
	entry := testEntry()

	require.NoError(t, sink.Publish(context.Background(), entry))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, "42", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, models.AuditActionToolExecutionCompleted, string(msg.Headers[0].Value))

	var event EventMessage
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	assert.Equal(t, entry.ID.String(), event.ID)
	assert.Equal(t, entry.UserID.String(), event.UserID)
	assert.Equal(t, "exec-1", event.ExecutionID)
	assert.Equal(t, "jira_search_7", event.Payload["tool_id"])
}

func TestKafkaSink_RetriesTransientErrors(t *testing.T) {
	w := &fakeWriter{failures: []error{errors.New("[5] Leader Not Available: the cluster is in the middle of a leadership election")}}
	sink := fastSink(w)

	require.NoError(t, sink.Publish(context.Background(), testEntry()))
	assert.Equal(t, 2, w.calls)
	assert.Len(t, w.messages, 1)
}

func TestKafkaSink_PermanentErrorNotRetried(t *testing.T) {
	w := &fakeWriter{failures: []error{errors.New("message size too large")}}
	sink := fastSink(w)

	err := sink.Publish(context.Background(), testEntry())
	require.Error(t, err)
	assert.Equal(t, 1, w.calls)
}

func TestKafkaSink_Close(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, fastSink(w).Close())
	assert.True(t, w.closed)
}
