package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/villagewatch/internal/metrics"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const relayPublishTimeout = 2 * time.Second

var (
	errMissingRelayClient  = errors.New("realtime relay: redis client required")
	errMissingRelayHub     = errors.New("realtime relay: hub required")
	errMissingRelayChannel = errors.New("realtime relay: channel required")
)

// RelayConfig wires a Relay to Redis and the local hub.
type RelayConfig struct {
	Client     *redis.Client
	Channel    string
	Hub        *Hub
	InstanceID string
	Logger     *zap.Logger
	Metrics    *metrics.Recorder
}

// Relay mirrors events between API instances over Redis pub/sub. Local publishes reach the
// local hub first; the Redis copy is best effort like every other leg of the fan-out.
type Relay struct {
	client     *redis.Client
	channel    string
	hub        *Hub
	instanceID string
	logger     *zap.Logger
	metrics    *metrics.Recorder

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

type relayFrame struct {
	Origin string          `json:"origin"`
	Kind   EventKind       `json:"kind"`
	Frame  json.RawMessage `json:"frame"`
}

// NewRelay validates the configuration and returns an unstarted relay.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	if cfg.Client == nil {
		return nil, errMissingRelayClient
	}
	if cfg.Hub == nil {
		return nil, errMissingRelayHub
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		return nil, errMissingRelayChannel
	}
	instanceID := strings.TrimSpace(cfg.InstanceID)
	if instanceID == "" {
		instanceID = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		client:     cfg.Client,
		channel:    channel,
		hub:        cfg.Hub,
		instanceID: instanceID,
		logger:     logger,
		metrics:    cfg.Metrics,
	}, nil
}

// Publish delivers the event locally and mirrors it to the other instances.
func (r *Relay) Publish(event Event) {
	if event == nil {
		return
	}
	frame, err := Encode(event)
	if err != nil {
		r.logger.Error("realtime event encoding failed", zap.String("kind", string(event.Kind())), zap.Error(err))
		return
	}
	r.hub.Broadcast(event.Kind(), frame)

	payload, err := json.Marshal(relayFrame{Origin: r.instanceID, Kind: event.Kind(), Frame: frame})
	if err != nil {
		r.logger.Error("relay frame encoding failed", zap.Error(err))
		r.metrics.RelayPublishError()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
	defer cancel()
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("relay publish failed", zap.String("kind", string(event.Kind())), zap.Error(err))
		r.metrics.RelayPublishError()
	}
}

// Start subscribes to the relay channel and forwards remote frames until ctx ends or Close is
// called. It returns once the subscription is confirmed.
func (r *Relay) Start(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	done := make(chan struct{})
	r.mu.Lock()
	r.pubsub = pubsub
	r.done = done
	r.mu.Unlock()

	go r.consume(ctx, pubsub, done)
	r.logger.Info("realtime relay subscribed", zap.String("channel", r.channel), zap.String("instance_id", r.instanceID))
	return nil
}

// Close stops the subscription and waits for the consumer to exit.
func (r *Relay) Close() error {
	r.mu.Lock()
	pubsub, done := r.pubsub, r.done
	r.pubsub, r.done = nil, nil
	r.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	err := pubsub.Close()
	<-done
	return err
}

func (r *Relay) consume(ctx context.Context, pubsub *redis.PubSub, done chan struct{}) {
	defer close(done)
	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-messages:
			if !ok {
				return
			}
			var frame relayFrame
			if err := json.Unmarshal([]byte(message.Payload), &frame); err != nil {
				r.logger.Warn("relay frame decoding failed", zap.Error(err))
				continue
			}
			if frame.Origin == r.instanceID || len(frame.Frame) == 0 {
				continue
			}
			r.hub.Broadcast(frame.Kind, frame.Frame)
		}
	}
}
