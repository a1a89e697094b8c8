package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

type Options struct {
	Address  string
	Password string
	DB       int
}

// NewClient connects and pings; the caller owns Close.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Address, err)
	}
	return client, nil
}
