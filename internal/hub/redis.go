package hub

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"decoflow/internal/domain"
)

const channelPrefix = "decoflow:"

// Bridge mirrors local room traffic onto Redis pub/sub so multiple decoflow
// instances share one room space. Publishing goes to both the local hub and
// the Redis channel for the room; Run feeds remote messages back into the
// local hub, skipping the instance's own.
type Bridge struct {
	local  *Hub
	client *redis.Client
	origin string
}

type wireMessage struct {
	Origin       string              `json:"origin"`
	Notification domain.Notification `json:"notification"`
}

// NewBridge wraps a local hub with a Redis mirror.
func NewBridge(local *Hub, addr, password string) *Bridge {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})
	return &Bridge{
		local:  local,
		client: client,
		origin: uuid.New().String(),
	}
}

// Publish delivers locally and mirrors to the room's Redis channel.
func (b *Bridge) Publish(ctx context.Context, n domain.Notification) error {
	if err := b.local.Publish(ctx, n); err != nil {
		return err
	}
	data, err := json.Marshal(wireMessage{Origin: b.origin, Notification: n})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, channelPrefix+n.Room, data).Err()
}

// Run subscribes to all decoflow channels and republishes remote messages
// into the local hub until the context is canceled.
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer sub.Close()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var wire wireMessage
			if err := json.Unmarshal([]byte(msg.Payload), &wire); err != nil {
				log.Printf("hub: drop malformed bridge message on %s: %v", msg.Channel, err)
				continue
			}
			if wire.Origin == b.origin {
				continue
			}
			if wire.Notification.Room == "" {
				wire.Notification.Room = strings.TrimPrefix(msg.Channel, channelPrefix)
			}
			if err := b.local.Publish(ctx, wire.Notification); err != nil {
				log.Printf("hub: local republish failed: %v", err)
			}
		}
	}
}

// Close releases the Redis connection.
func (b *Bridge) Close() error {
	return b.client.Close()
}
