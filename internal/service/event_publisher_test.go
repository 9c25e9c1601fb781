package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestEventPublisherPublishesSanitizedEventToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "gema:grading:events")
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	publisher := NewEventPublisher(client, "gema:grading", nil, zerolog.Nop())
	publisher.Publish(ctx, GradingEvent{
		Type:         EventSubmissionGraded,
		SubmissionID: "sub-1",
		AssignmentID: "a-1",
		StudentID:    "student-1",
		Grade:        88,
		Complexity:   "O(n)",
		Message:      "<script>alert(1)</script><b>Ana</b> scored 88.0",
	})

	select {
	case msg := <-sub.Channel():
		var event GradingEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		require.Equal(t, EventSubmissionGraded, event.Type)
		require.Equal(t, "sub-1", event.SubmissionID)
		require.Equal(t, "Ana scored 88.0", event.Message)
		require.NotEmpty(t, event.Source)
		require.False(t, event.SentAt.IsZero())
	case <-ctx.Done():
		t.Fatal("grading event was not delivered")
	}
}

func TestEventPublisherWithoutBrokersIsSilent(t *testing.T) {
	publisher := NewEventPublisher(nil, "gema:grading", nil, zerolog.Nop())
	require.NotPanics(t, func() {
		publisher.Publish(context.Background(), GradingEvent{Type: EventSubmissionGraded})
	})

	require.NotPanics(t, func() {
		NewNoopEventPublisher().Publish(context.Background(), GradingEvent{})
	})
}

func TestEventPublisherSurvivesRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	publisher := NewEventPublisher(client, "gema:grading", nil, zerolog.Nop())
	require.NotPanics(t, func() {
		publisher.Publish(context.Background(), GradingEvent{Type: EventSubmissionGraded, SubmissionID: "sub-1"})
	})
}
