package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const channelPrefix = "telemed:room:"

func channelName(roomID uuid.UUID) string {
	return channelPrefix + roomID.String()
}

// envelope wraps a frame on the redis channel. Origin lets an instance drop
// its own messages when they come back.
type envelope struct {
	Origin  string          `json:"origin"`
	RoomID  uuid.UUID       `json:"room_id"`
	ConnID  string          `json:"conn_id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// RedisRelay shares room frames between server instances over redis pub/sub.
type RedisRelay struct {
	client     redis.UniversalClient
	hub        *Hub
	instanceID string
	logger     zerolog.Logger
}

func NewRedisRelay(client redis.UniversalClient, hub *Hub, logger zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:     client,
		hub:        hub,
		instanceID: uuid.NewString(),
		logger:     logger.With().Str("component", "ws-relay").Logger(),
	}
}

// NewRedisClient parses a redis:// URL and pings the server, retrying a few
// times while it comes up.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		if err = client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		select {
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * time.Second):
		}
	}
	client.Close()
	return nil, fmt.Errorf("connect to redis after %d attempts: %w", maxRetries, err)
}

// Publish implements Relay.
func (r *RedisRelay) Publish(ctx context.Context, roomID uuid.UUID, connID string, payload []byte) error {
	data, err := json.Marshal(envelope{
		Origin:  r.instanceID,
		RoomID:  roomID,
		ConnID:  connID,
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return r.client.Publish(ctx, channelName(roomID), data).Err()
}

// Run subscribes to every room channel and delivers foreign frames to local
// clients until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to room channels: %w", err)
	}
	r.logger.Info().Str("instance_id", r.instanceID).Msg("room relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(msg.Channel, channelPrefix) {
				continue
			}
			r.handle(msg.Payload)
		}
	}
}

// handle returns the number of local clients the frame reached.
func (r *RedisRelay) handle(raw string) int {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		r.logger.Warn().Err(err).Msg("dropping malformed relay message")
		return 0
	}
	if env.Origin == r.instanceID {
		return 0
	}
	return r.hub.DeliverLocal(env.RoomID, env.ConnID, env.Payload)
}
