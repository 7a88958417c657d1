package redisrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CheckInPubSub fans out "an event's check-in state changed" notices so
// every instance can drop its cached window and metrics entries.
type CheckInPubSub struct {
	rdb     *redis.Client
	channel string
}

func NewCheckInPubSub(rdb *redis.Client) *CheckInPubSub {
	return &CheckInPubSub{
		rdb:     rdb,
		channel: ChannelCheckInChanged(),
	}
}

type checkInChangedMsg struct {
	Type    string `json:"type"`
	EventID int64  `json:"event_id"`
	TsUnix  int64  `json:"ts_unix"`
}

func (p *CheckInPubSub) PublishCheckInChanged(ctx context.Context, eventID int64) error {
	const op = "redisrepo.CheckInPubSub.PublishCheckInChanged"

	b, err := json.Marshal(checkInChangedMsg{
		Type:    "checkin_changed",
		EventID: eventID,
		TsUnix:  time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := p.rdb.Publish(ctx, p.channel, b).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// Subscribe blocks delivering event ids to handler until ctx is done.
// Malformed messages are skipped.
func (p *CheckInPubSub) Subscribe(ctx context.Context, handler func(ctx context.Context, eventID int64)) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so that publishes issued
	// after Subscribe returns control are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redisrepo.CheckInPubSub.Subscribe: %w", err)
	}

	ch := sub.Channel(redis.WithChannelSize(256))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg checkInChangedMsg
			if err := json.Unmarshal([]byte(m.Payload), &msg); err == nil &&
				msg.EventID != 0 {
				handler(ctx, msg.EventID)
			}
		}
	}
}
