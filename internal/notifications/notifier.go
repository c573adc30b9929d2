package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"

	"ripple/internal/models"

	"github.com/redis/go-redis/v9"
)

const targetChannelPrefix = "engagement:target:"

// Notifier provides helpers to publish engagement updates into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// TargetChannel derives the Redis channel name for a target.
func TargetChannel(target models.TargetRef) string {
	return targetChannelPrefix + target.Key()
}

// PublishUpdate sends a normalized engagement update to the target's channel.
// Every process with a watcher on that target delivers it locally.
func (n *Notifier) PublishUpdate(ctx context.Context, update models.EngagementUpdate) error {
	if n.rdb == nil {
		return nil
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	return n.rdb.Publish(ctx, TargetChannel(update.Target), string(payload)).Err()
}

// StartPatternSubscriber subscribes to pattern `engagement:target:*` and calls
// onMessage for each incoming message. onMessage receives channel and payload.
func (n *Notifier) StartPatternSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, targetChannelPrefix+"*")
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							log.Printf("PANIC in PatternSubscriber: %v\n%s", r, debug.Stack())
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}
