package server

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/apply-orchestrator/internal/pipeline"
)

func TestHub_DeliversToMatchingSubscribers(t *testing.T) {
	hub := NewHub()
	a, b := uuid.New(), uuid.New()

	chA, unsubA := hub.Subscribe(a)
	defer unsubA()
	chB, unsubB := hub.Subscribe(b)
	defer unsubB()

	hub.Publish(pipeline.ProgressEvent{Step: "planning", Category: pipeline.CategoryTransition, ApplicationID: a.String()})

	require.Len(t, chA, 1)
	assert.Equal(t, "planning", (<-chA).Step)
	assert.Empty(t, chB)
}

func TestHub_UnsubscribeClosesOnce(t *testing.T) {
	hub := NewHub()
	id := uuid.New()
	ch, unsub := hub.Subscribe(id)
	assert.Equal(t, 1, hub.Subscribers(id))

	unsub()
	unsub()
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers(id))

	// publishing after everyone left is a no-op
	hub.Publish(pipeline.ProgressEvent{ApplicationID: id.String()})
}

func TestHub_DropsWhenSubscriberIsSlow(t *testing.T) {
	hub := NewHub()
	id := uuid.New()
	ch, unsub := hub.Subscribe(id)
	defer unsub()

	for i := 0; i < hubBuffer+5; i++ {
		hub.Publish(pipeline.ProgressEvent{Step: "filling", ApplicationID: id.String()})
	}
	assert.Len(t, ch, hubBuffer)
}

func TestHub_IgnoresEventsWithoutApplication(t *testing.T) {
	hub := NewHub()
	hub.Publish(pipeline.ProgressEvent{Step: "planning"})
}
