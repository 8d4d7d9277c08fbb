package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NicolasHaas/openchat/pkg/model"
)

// RedisConfig holds Redis connection configuration for the presence mirror.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Key      string // SET of online names (default openchat:online)
	Channel  string // pub/sub channel for changes (default openchat:presence)
	Instance string // optional, copied into published payloads
}

// RedisMirror publishes registry changes to Redis so other processes can see
// who is online. It is an Observer; the in-process Registry stays the source
// of truth.
//
// Keys:
//
//	openchat:online     SET<username>
//	openchat:presence   PUBLISH {"name","kind","transport","instance","at"}
type RedisMirror struct {
	client   *redis.Client
	key      string
	channel  string
	instance string
	timeout  time.Duration
}

type presenceUpdate struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Transport string `json:"transport"`
	Instance  string `json:"instance,omitempty"`
	At        int64  `json:"at"`
}

// NewRedisMirror connects to Redis and clears the online set, since a freshly
// started registry is empty.
func NewRedisMirror(ctx context.Context, cfg RedisConfig) (*RedisMirror, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("presence: connect redis: %w", err)
	}

	m := &RedisMirror{
		client:   client,
		key:      cfg.Key,
		channel:  cfg.Channel,
		instance: cfg.Instance,
		timeout:  2 * time.Second,
	}
	if m.key == "" {
		m.key = "openchat:online"
	}
	if m.channel == "" {
		m.channel = "openchat:presence"
	}

	if err := client.Del(pingCtx, m.key).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("presence: reset online set: %w", err)
	}
	return m, nil
}

// PresenceChanged mirrors c into the online set and publishes it.
func (m *RedisMirror) PresenceChanged(c Change) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	payload, err := json.Marshal(presenceUpdate{
		Name:      c.Name,
		Kind:      c.Kind.String(),
		Transport: c.Transport.String(),
		Instance:  m.instance,
		At:        c.At.Unix(),
	})
	if err != nil {
		slog.Warn("presence mirror marshal failed", "user", c.Name, "err", err)
		return
	}

	_, err = m.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		if c.Kind == model.EventJoined {
			pipe.SAdd(ctx, m.key, c.Name)
		} else {
			pipe.SRem(ctx, m.key, c.Name)
		}
		pipe.Publish(ctx, m.channel, payload)
		return nil
	})
	if err != nil {
		slog.Warn("presence mirror update failed", "user", c.Name, "kind", c.Kind, "err", err)
	}
}

// Online returns the mirrored online names, sorted.
func (m *RedisMirror) Online(ctx context.Context) ([]string, error) {
	names, err := m.client.SMembers(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: read online set: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Close closes the Redis client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
