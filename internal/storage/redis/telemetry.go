package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/TinkerUnicorn/authz/internal/models"
)

const defaultChannel = "authz:requests"

// TelemetryPublisher fans request records out over a Redis pub/sub channel
// for any interested consumer (dashboards, anomaly detection, audit).
type TelemetryPublisher struct {
	client  *redis.Client
	channel string
}

func NewTelemetryPublisher(client *redis.Client) *TelemetryPublisher {
	return &TelemetryPublisher{client: client, channel: defaultChannel}
}

func (p *TelemetryPublisher) Publish(ctx context.Context, record models.RequestRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal request record: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish request record: %w", err)
	}
	return nil
}
