// Package publisher announces completed calculations on Redis Streams.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rewired-gh/boxoracle/internal/models"
)

// XAdder is the part of the Redis client the publisher uses. *redis.Client satisfies it.
type XAdder interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// StreamPublisher publishes calculations to a global stream and a per-pack stream.
type StreamPublisher struct {
	client XAdder
	stream string
}

// NewStreamPublisher creates a stream publisher. stream is the global stream key;
// per-pack streams are named "<stream>.<pack id>".
func NewStreamPublisher(client XAdder, stream string) *StreamPublisher {
	return &StreamPublisher{
		client: client,
		stream: stream,
	}
}

// Connect creates a Redis client and checks connectivity.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

// PackStream returns the per-pack stream key.
func (p *StreamPublisher) PackStream(packID string) string {
	return p.stream + "." + packID
}

// Publish adds the calculation to the global stream and to its pack's stream.
func (p *StreamPublisher) Publish(ctx context.Context, calc *models.Calculation) error {
	values, err := streamValues(calc)
	if err != nil {
		return err
	}

	for _, stream := range []string{p.stream, p.PackStream(calc.PackID)} {
		_, err := p.client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: values,
		}).Result()
		if err != nil {
			return fmt.Errorf("failed to publish to stream %s: %w", stream, err)
		}
	}
	return nil
}

func streamValues(calc *models.Calculation) (map[string]interface{}, error) {
	calcJSON, err := json.Marshal(calc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal calculation: %w", err)
	}
	return map[string]interface{}{
		"pack_id":     calc.PackID,
		"calculation": string(calcJSON),
	}, nil
}
