package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_KeyedByUser(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg, err := encode(Event{Type: TypeImpersonationStarted, UserID: "u1", ActorID: "admin-1", At: at})
	require.NoError(t, err)
	assert.Equal(t, []byte("u1"), msg.Key)
	assert.Equal(t, at, msg.Time)

	var got map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, "impersonation_started", got["type"])
	assert.Equal(t, "admin-1", got["actor_id"])
	_, hasToken := got["token_id"]
	assert.False(t, hasToken)
}

func TestEncode_StampsTime(t *testing.T) {
	t.Parallel()

	msg, err := encode(Event{Type: TypeLogin, UserID: "u1"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), msg.Time, time.Minute)
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	t.Parallel()

	_, err := NewProducer(nil, "")
	assert.Error(t, err)

	p, err := NewProducer([]string{"localhost:9092"}, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTopic, p.writer.Topic)
	require.NoError(t, p.Close())
}

func TestRecorder(t *testing.T) {
	t.Parallel()

	var r Recorder
	require.NoError(t, r.Publish(context.Background(), Event{Type: TypeLogout, UserID: "u1"}))
	require.NoError(t, Nop{}.Publish(context.Background(), Event{}))

	got := r.Events()
	require.Len(t, got, 1)
	assert.Equal(t, TypeLogout, got[0].Type)
}
