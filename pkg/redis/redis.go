package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config is bound from REDIS_* variables. An empty URL means no Redis is
// configured and callers fall back to the in-memory message store.
type Config struct {
	URL          string `split_words:"true"`
	ReadTimeout  int    `split_words:"true" default:"3"`
	WriteTimeout int    `split_words:"true" default:"3"`
	DialTimeout  int    `split_words:"true" default:"5"`
	MessageTTL   string `split_words:"true" default:"24h"`
}

// Enabled reports whether a Redis URL was provided.
func (r *Config) Enabled() bool {
	return r.URL != ""
}

// TTL parses MessageTTL; invalid or empty values disable expiry.
func (r *Config) TTL() time.Duration {
	d, err := time.ParseDuration(r.MessageTTL)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

func (r *Config) New(ctx context.Context) (*redis.Client, error) {
	opts, err := redis.ParseURL(r.URL)
	if err != nil {
		return nil, err
	}

	opts.ReadTimeout = time.Duration(r.ReadTimeout) * time.Second
	opts.WriteTimeout = time.Duration(r.WriteTimeout) * time.Second
	opts.DialTimeout = time.Duration(r.DialTimeout) * time.Second

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}
