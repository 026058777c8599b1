package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Lifecycle event topics. Plugins subscribe during build/finish to
// react to substrate events without importing Runtime directly.
const (
	TopicProcessSpawned    = "process.spawned"
	TopicServiceRegistered = "service.registered"
	TopicConnectionUp      = "connection.up"
	TopicConnectionDown    = "connection.down"
)

// Event is the contract for payloads published on the host bus,
// mirroring the teacher's Eventer/Exportable split: every event names
// its own topic, every event is small enough to marshal whole.
type Event interface {
	Topic() string
}

// ProcessSpawned fires once a process.Factory record exists.
type ProcessSpawned struct {
	ID       uint64 `json:"id"`
	Name     string `json:"name"`
	ModuleID string `json:"module_id"`
}

func (ProcessSpawned) Topic() string { return TopicProcessSpawned }

// ServiceRegistered fires once a ServiceSpec's spawn closure has
// confirmed startup and the registry carries its entry.
type ServiceRegistered struct {
	Name string `json:"name"`
}

func (ServiceRegistered) Topic() string { return TopicServiceRegistered }

// ConnectionUp/ConnectionDown fire around a peer Connection's life.
type ConnectionUp struct {
	Peer string `json:"peer"`
}

func (ConnectionUp) Topic() string { return TopicConnectionUp }

type ConnectionDown struct {
	Peer string `json:"peer"`
	Err  string `json:"err,omitempty"`
}

func (ConnectionDown) Topic() string { return TopicConnectionDown }

// EventBus is the in-process publish/subscribe bus plugins use to
// react to substrate lifecycle events, grounded on the teacher's
// EventDispatcher (internal/adapter/pubsub/dispatcher.go) but backed
// by watermill's gochannel implementation instead of an AMQP exchange
// — there is no external broker in Hearth's domain.
type EventBus struct {
	pubsub *gochannel.GoChannel
	logger *slog.Logger
}

// NewEventBus builds a bus with a bounded per-subscriber buffer; slow
// subscribers fall behind rather than blocking publishers, matching
// gochannel's default at-most-once-per-subscriber delivery semantics.
func NewEventBus(logger *slog.Logger) *EventBus {
	if logger == nil {
		logger = slog.Default()
	}
	gc := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		Persistent:                     false,
		BlockPublishUntilSubscriberAck: false,
	}, watermill.NewSlogLogger(logger))
	return &EventBus{pubsub: gc, logger: logger}
}

// Publish marshals ev as JSON and publishes it on ev.Topic().
func (b *EventBus) Publish(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("runtime: marshal event for topic %s: %w", ev.Topic(), err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(ev.Topic(), msg); err != nil {
		return fmt.Errorf("runtime: publish to topic %s: %w", ev.Topic(), err)
	}
	return nil
}

// Subscribe returns the raw watermill message channel for topic; the
// caller is responsible for Ack()/Nack()-ing each message.
func (b *EventBus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Publisher exposes the underlying message.Publisher for components
// (the control plane's gRPC Watch stream, for instance) that want the
// raw watermill interface rather than the typed Event wrapper.
func (b *EventBus) Publisher() message.Publisher { return b.pubsub }

// Close releases the bus's internal channels. Safe to call once during
// runtime teardown.
func (b *EventBus) Close() error {
	return b.pubsub.Close()
}
