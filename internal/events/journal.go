package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisJournal keeps the most recent events in a capped Redis list, newest first.
type RedisJournal struct {
	Client *redis.Client
	Key    string
	MaxLen int64
}

func (j RedisJournal) key() string {
	if j.Key == "" {
		return "storefront:events"
	}
	return j.Key
}

func (j RedisJournal) maxLen() int64 {
	if j.MaxLen <= 0 {
		return 1000
	}
	return j.MaxLen
}

// Append pushes the event and trims the list to MaxLen entries.
func (j RedisJournal) Append(ctx context.Context, event Event) error {
	if j.Client == nil {
		return errors.New("events: journal redis client not configured")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	pipe := j.Client.TxPipeline()
	pipe.LPush(ctx, j.key(), data)
	pipe.LTrim(ctx, j.key(), 0, j.maxLen()-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to n events, newest first.
func (j RedisJournal) Recent(ctx context.Context, n int64) ([]Event, error) {
	if j.Client == nil {
		return nil, errors.New("events: journal redis client not configured")
	}
	if n <= 0 {
		n = 20
	}
	raw, err := j.Client.LRange(ctx, j.key(), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(raw))
	for _, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("events: decode journal entry: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}
