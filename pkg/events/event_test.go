package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStampsTimestamp(t *testing.T) {
	before := time.Now().UTC()
	event := New(TypeSessionCreated, AggregateSession, "sess-1", map[string]interface{}{"program_id": "prog-1"})
	after := time.Now().UTC()

	assert.Equal(t, TypeSessionCreated, event.Type)
	assert.Equal(t, AggregateSession, event.AggregateType)
	assert.Equal(t, "sess-1", event.AggregateID)
	assert.False(t, event.Timestamp.Before(before))
	assert.False(t, event.Timestamp.After(after))
}

func erasureSubscriber(handler AnonymizeHandler) *Subscriber {
	return NewSubscriber(nil, "participation.child_data_anonymized", handler, nil)
}

func erasureSignal(t *testing.T, event Event) string {
	t.Helper()
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return string(body)
}

func TestSubscriberHandleExtractsChildFromPayload(t *testing.T) {
	var got string
	sub := erasureSubscriber(func(_ context.Context, childID string) error {
		got = childID
		return nil
	})

	sub.handle(context.Background(), erasureSignal(t, Event{
		Type:    TypeChildDataAnonymized,
		Payload: map[string]interface{}{"child_id": "child-7"},
	}))
	assert.Equal(t, "child-7", got)
}

func TestSubscriberHandleFallsBackToAggregateID(t *testing.T) {
	var got string
	sub := erasureSubscriber(func(_ context.Context, childID string) error {
		got = childID
		return nil
	})

	sub.handle(context.Background(), erasureSignal(t, Event{
		Type:        TypeChildDataAnonymized,
		AggregateID: "child-9",
	}))
	assert.Equal(t, "child-9", got)
}

func TestSubscriberHandleDiscardsGarbage(t *testing.T) {
	called := false
	sub := erasureSubscriber(func(_ context.Context, _ string) error {
		called = true
		return nil
	})

	sub.handle(context.Background(), "{not json")
	sub.handle(context.Background(), erasureSignal(t, Event{Type: TypeChildDataAnonymized}))
	assert.False(t, called)
}
