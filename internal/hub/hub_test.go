package hub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decoflow/internal/domain"
)

func TestPublishReachesRoomMembers(t *testing.T) {
	h := New()
	printing := h.Subscribe("printing", "decoration")
	coating := h.Subscribe("coating", "decoration")
	defer printing.Close()
	defer coating.Close()

	err := h.Publish(context.Background(), domain.Notification{
		Room:  "printing",
		Event: "team.ready",
	})
	require.NoError(t, err)

	select {
	case n := <-printing.C:
		assert.Equal(t, "team.ready", n.Event)
	default:
		t.Fatal("printing subscriber got nothing")
	}
	select {
	case n := <-coating.C:
		t.Fatalf("coating subscriber should not receive %v", n)
	default:
	}
}

func TestSharedRoomBroadcast(t *testing.T) {
	h := New()
	a := h.Subscribe("coating", "decoration")
	b := h.Subscribe("printing", "decoration")
	defer a.Close()
	defer b.Close()

	require.NoError(t, h.Publish(context.Background(), domain.Notification{
		Room:  "decoration",
		Event: "component.updated",
	}))

	for _, sub := range []*Subscription{a, b} {
		select {
		case n := <-sub.C:
			assert.Equal(t, "component.updated", n.Event)
		default:
			t.Fatal("shared room member got nothing")
		}
	}
}

func TestCloseLeavesRooms(t *testing.T) {
	h := New()
	sub := h.Subscribe("foiling")
	sub.Close()
	sub.Close() // idempotent

	require.NoError(t, h.Publish(context.Background(), domain.Notification{Room: "foiling", Event: "x"}))

	_, open := <-sub.C
	assert.False(t, open, "channel should be closed")
}

func TestSlowConsumerDropped(t *testing.T) {
	h := New()
	slow := h.Subscribe("printing")

	ctx := context.Background()
	for i := 0; i < subscriptionBuffer+1; i++ {
		require.NoError(t, h.Publish(ctx, domain.Notification{Room: "printing", Event: "tick"}))
	}

	// Buffer was full on the last publish, so the subscription was dropped.
	received := 0
	for range slow.C {
		received++
	}
	assert.Equal(t, subscriptionBuffer, received)
}

func TestEmptyRoomIgnoredOnSubscribe(t *testing.T) {
	h := New()
	sub := h.Subscribe("", "coating")
	defer sub.Close()
	assert.Len(t, h.rooms, 1)
}

func TestBridgeWireFormatUsesLowercaseKeys(t *testing.T) {
	data, err := json.Marshal(wireMessage{
		Origin:       "node-a",
		Notification: domain.Notification{Room: "printing", Event: "team.ready"},
	})
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "origin")
	assert.Contains(t, raw, "notification")

	var wire wireMessage
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, "printing", wire.Notification.Room)
	assert.Equal(t, "team.ready", wire.Notification.Event)
}
