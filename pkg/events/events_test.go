package events_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ignatij/goscout/pkg/events"
	"github.com/ignatij/goscout/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestHub_PublishIsScopedToScout(t *testing.T) {
	hub := events.NewHub()
	a, unsubA := hub.Subscribe("scout-a")
	defer unsubA()
	b, unsubB := hub.Subscribe("scout-b")
	defer unsubB()

	hub.Publish("scout-a", events.Event{
		Type:  events.ScoutUpdate,
		Scout: events.ScoutView{ID: "scout-a", Status: models.InProgressScoutStatus},
	})

	select {
	case msg := <-a:
		var ev events.Event
		assert.NoError(t, json.Unmarshal(msg, &ev))
		assert.Equal(t, events.ScoutUpdate, ev.Type)
		assert.Equal(t, "scout-a", ev.Scout.ID)
		assert.False(t, ev.Timestamp.IsZero())
	default:
		t.Fatal("expected a message for scout-a")
	}
	select {
	case <-b:
		t.Fatal("scout-b must not receive scout-a events")
	default:
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := events.NewHub()
	_, unsub := hub.Subscribe("s")
	defer unsub()
	for i := 0; i < 100; i++ {
		hub.Publish("s", events.Event{Type: events.ScoutUpdate})
	}
	assert.Equal(t, 1, hub.Subscribers("s"))
}

func TestHub_UnsubscribeTwice(t *testing.T) {
	hub := events.NewHub()
	subscribed := 0
	hub.OnSubscribe = func(delta int) { subscribed += delta }
	ch, unsub := hub.Subscribe("s")
	assert.Equal(t, 1, subscribed)
	unsub()
	unsub()
	assert.Equal(t, 0, subscribed)
	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, hub.Subscribers("s"))
}

func TestHub_EncodeErrorIsReported(t *testing.T) {
	hub := events.NewHub()
	var failedFor string
	var failure error
	hub.OnError = func(scoutID string, err error) {
		failedFor, failure = scoutID, err
	}
	published := 0
	hub.OnPublish = func() { published++ }
	ch, unsub := hub.Subscribe("s")
	defer unsub()

	// years past 9999 cannot be encoded as RFC 3339
	hub.Publish("s", events.Event{Type: events.ScoutUpdate, Timestamp: time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)})

	assert.Equal(t, "s", failedFor)
	assert.Error(t, failure)
	assert.Equal(t, 0, published)
	select {
	case <-ch:
		t.Fatal("undecodable event was delivered")
	default:
	}
}
