package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"mission-dispatch/internal/config"
	"mission-dispatch/internal/models"
	"mission-dispatch/internal/telemetry"
)

// Publisher pushes transition events to interested parties. Delivery is
// at-least-once and best effort: a publish failure never rolls back the
// committed transition it describes.
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// Redis fans events out over Pub/Sub. Every event goes to a global
// channel (scouts watching the pending list) and a per-mission channel
// (the requester following one mission).
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis builds the fan-out from config.
func NewRedis(cfg config.Config) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisWithClient(client, cfg.EventChannelPrefix)
}

// NewRedisWithClient wires an existing client, used by tests.
func NewRedisWithClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "missions"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) globalChannel() string {
	return r.prefix + ":events"
}

func (r *Redis) missionChannel(missionID string) string {
	return fmt.Sprintf("%s:mission:%s", r.prefix, missionID)
}

func (r *Redis) Publish(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pipe := r.client.Pipeline()
	pipe.Publish(ctx, r.globalChannel(), payload)
	pipe.Publish(ctx, r.missionChannel(event.MissionID), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		telemetry.EventPublishFails.Inc()
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe listens on the global channel and delivers events in
// per-mission monotonic version order: a consumer is never told a
// mission regressed. Stale and duplicate deliveries are dropped. The
// returned channel closes when ctx is cancelled.
func (r *Redis) Subscribe(ctx context.Context) (<-chan models.Event, error) {
	return r.subscribe(ctx, r.globalChannel())
}

// SubscribeMission follows a single mission, same ordering guarantee.
func (r *Redis) SubscribeMission(ctx context.Context, missionID string) (<-chan models.Event, error) {
	return r.subscribe(ctx, r.missionChannel(missionID))
}

func (r *Redis) subscribe(ctx context.Context, channel string) (<-chan models.Event, error) {
	sub := r.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	out := make(chan models.Event)
	go func() {
		defer close(out)
		defer sub.Close()

		seen := make(map[string]int64)
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var event models.Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				if event.Version <= seen[event.MissionID] {
					// Out-of-order or duplicate delivery.
					continue
				}
				seen[event.MissionID] = event.Version
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
