package collaboration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// RelayChannel is the pub/sub channel all instances share
const RelayChannel = "scene-sync:rooms"

// RedisRelay forwards room frames between server instances over Redis
// pub/sub. Frames an instance published itself are ignored on receipt.
type RedisRelay struct {
	client     *redis.Client
	instanceID string
}

type relayEnvelope struct {
	Origin string `json:"origin"`
	RoomID string `json:"roomId"`
	Type   int    `json:"type"`
	Data   []byte `json:"data"`
}

func NewRedisRelay(client *redis.Client, instanceID string) *RedisRelay {
	return &RedisRelay{client: client, instanceID: instanceID}
}

// Publish sends a frame to every other instance
func (r *RedisRelay) Publish(ctx context.Context, roomID string, frame Frame) error {
	payload, err := json.Marshal(relayEnvelope{
		Origin: r.instanceID,
		RoomID: roomID,
		Type:   frame.Type,
		Data:   frame.Data,
	})
	if err != nil {
		return fmt.Errorf("failed to encode relay envelope: %w", err)
	}
	if err := r.client.Publish(ctx, RelayChannel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Run subscribes and hands every foreign frame to deliver until ctx ends
func (r *RedisRelay) Run(ctx context.Context, deliver func(roomID string, frame Frame)) error {
	pubsub := r.client.Subscribe(ctx, RelayChannel)
	defer pubsub.Close()

	// wait for the subscription so nothing published after Run starts is missed
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", RelayChannel, err)
	}
	log.Printf("✓ Relaying rooms over redis channel %s", RelayChannel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("⚠️  Dropping malformed relay message: %v", err)
				continue
			}
			if env.Origin == r.instanceID {
				continue
			}
			deliver(env.RoomID, Frame{Type: env.Type, Data: env.Data})
		}
	}
}
