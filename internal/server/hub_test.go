package server

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/council/internal/model"
)

func TestHubRoutesBySession(t *testing.T) {
	h := NewHub(testLogger())
	a, b := newClient("a"), newClient("b")
	h.Subscribe("s1", a)
	h.Subscribe("s2", b)

	h.Publish(model.NewEvent(model.StatusEvent{SessionID: "s1", Status: model.StatusRunning}))

	require.Len(t, a.send, 1)
	assert.Empty(t, b.send)

	var ev struct {
		Type    model.EventType   `json:"type"`
		Version int               `json:"version"`
		Data    model.StatusEvent `json:"data"`
	}
	require.NoError(t, json.Unmarshal(<-a.send, &ev))
	assert.Equal(t, model.EventStatus, ev.Type)
	assert.Equal(t, model.EventSchemaVersion, ev.Version)
	assert.Equal(t, "s1", ev.Data.SessionID)
}

func TestHubIgnoresClientReplies(t *testing.T) {
	h := NewHub(testLogger())
	c := newClient("c")
	h.Subscribe("s1", c)

	h.Publish(model.NewEvent(model.ErrorEvent{Error: "nope", Code: model.ErrCodeInvalidInput}))
	assert.Empty(t, c.send)
}

func TestHubEvictsFullSubscriber(t *testing.T) {
	h := NewHub(testLogger())
	slow, fast := newClient("slow"), newClient("fast")
	h.Subscribe("s1", slow)
	h.Subscribe("s1", fast)

	for range sendBufferSize {
		require.True(t, slow.trySend([]byte("{}")))
	}

	h.Publish(model.NewEvent(model.TimerEvent{SessionID: "s1"}))

	assert.False(t, h.subscribed("s1", slow), "full subscriber is removed")
	assert.True(t, h.subscribed("s1", fast))
	assert.Len(t, fast.send, 1, "other subscribers still receive the event")
	select {
	case <-slow.quit:
	default:
		t.Fatal("evicted subscriber should be asked to close")
	}
}

func TestHubUnsubscribeAndDrop(t *testing.T) {
	h := NewHub(testLogger())
	c := newClient("c")
	h.Subscribe("s1", c)
	h.Subscribe("s2", c)
	h.Subscribe("s2", c)
	assert.Equal(t, 2, h.Subscribers())

	h.Unsubscribe("s1", c)
	assert.Equal(t, 1, h.Subscribers())
	assert.False(t, h.subscribed("s1", c))

	h.Drop(c)
	assert.Equal(t, 0, h.Subscribers())

	h.Publish(model.NewEvent(model.StatusEvent{SessionID: "s2", Status: model.StatusPaused}))
	assert.Empty(t, c.send)
}

func TestClientTrySendAfterKick(t *testing.T) {
	c := newClient("c")
	c.kick()
	c.kick()
	assert.True(t, c.trySend([]byte("{}")), "frames for a closing client are discarded")
	assert.Empty(t, c.send)
}
