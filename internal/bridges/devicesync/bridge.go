package devicesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/raspy-assistant/statehub/internal/auth"
	"github.com/raspy-assistant/statehub/internal/infrastructure/mqtt"
	"github.com/raspy-assistant/statehub/internal/state"
)

// defaultQueueSize is the number of changes buffered for publishing.
const defaultQueueSize = 64

// Bridge keeps MQTT devices in sync with the state store.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	store  *state.Store
	gate   *auth.Gate
	mqtt   MQTTClient
	topics mqtt.Topics
	qos    byte

	queue       chan outbound
	unsubscribe func()
	lastSeq     uint64 // owned by the publish worker

	// Counters for the stats endpoint
	published atomic.Uint64
	dropped   atomic.Uint64
	accepted  atomic.Uint64
	rejected  atomic.Uint64

	// Shutdown coordination
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the subset of the MQTT client the bridge needs.
// *mqtt.Client satisfies it; tests use a fake.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Store is the state store to mirror. Required.
	Store *state.Store

	// Gate authorises inbound commands. Required.
	Gate *auth.Gate

	// MQTTClient is the broker connection. Required.
	MQTTClient MQTTClient

	// Topics builds topic names under the configured prefix.
	Topics mqtt.Topics

	// QoS is used for every publish and subscription.
	QoS byte

	// QueueSize bounds the outbound queue. Default: 64.
	QueueSize int

	// Logger is optional.
	Logger Logger
}

// NewBridge creates a bridge. Call Start to begin syncing.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("state store is required")
	}
	if opts.Gate == nil {
		return nil, fmt.Errorf("access gate is required")
	}
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}

	return &Bridge{
		store:  opts.Store,
		gate:   opts.Gate,
		mqtt:   opts.MQTTClient,
		topics: opts.Topics,
		qos:    opts.QoS,
		queue:  make(chan outbound, size),
		done:   make(chan struct{}),
		logger: opts.Logger,
	}, nil
}

// Start subscribes to command topics, publishes the current record and
// begins forwarding changes. The worker stops when ctx is cancelled or
// Stop is called.
func (b *Bridge) Start(ctx context.Context) error {
	commandTopic := b.topics.AllCommands()
	if err := b.mqtt.Subscribe(commandTopic, b.qos, b.handleMessage); err != nil {
		return fmt.Errorf("subscribe to commands: %w", err)
	}
	b.logInfo("subscribed to commands", "topic", commandTopic)

	b.wg.Add(1)
	go b.publishLoop(ctx)

	b.unsubscribe = b.store.Subscribe(b.Observe)

	// Seed the retained topic so devices see a value before the first change.
	// The seq is read first so a change queued meanwhile supersedes it.
	seq := b.store.Seq()
	if payload, err := json.Marshal(b.store.Get()); err == nil {
		b.enqueue(outbound{seq: seq, state: payload})
	}

	b.logInfo("device sync started", "prefix", b.topics.State())
	return nil
}

// Stop detaches from the store and waits for the worker to publish what is
// already queued.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		close(b.done)
		b.wg.Wait()
		b.logInfo("device sync stopped")
	})
}

// Observe queues c for publishing. It never blocks.
func (b *Bridge) Observe(c state.Change) {
	event, err := json.Marshal(NewEventMessage(c))
	if err != nil {
		b.logError("failed to encode change event", err)
		return
	}
	snapshot, err := json.Marshal(c.Record)
	if err != nil {
		b.logError("failed to encode state", err)
		return
	}
	b.enqueue(outbound{seq: c.Seq, event: event, state: snapshot})
}

func (b *Bridge) enqueue(msg outbound) {
	select {
	case b.queue <- msg:
	default:
		b.dropped.Add(1)
		b.logWarn("device sync queue full, dropping change")
	}
}

// publishLoop drains the queue until shutdown, then flushes what is left.
func (b *Bridge) publishLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case msg := <-b.queue:
			b.publish(msg)
		case <-ctx.Done():
			b.drain()
			return
		case <-b.done:
			b.drain()
			return
		}
	}
}

func (b *Bridge) drain() {
	for {
		select {
		case msg := <-b.queue:
			b.publish(msg)
		default:
			return
		}
	}
}

func (b *Bridge) publish(msg outbound) {
	if !b.mqtt.IsConnected() {
		b.dropped.Add(1)
		b.logDebug("broker not connected, skipping publish")
		return
	}
	if msg.event == nil && msg.seq < b.lastSeq {
		return
	}
	if msg.seq > b.lastSeq {
		b.lastSeq = msg.seq
	}
	if msg.event != nil {
		if err := b.mqtt.Publish(b.topics.EventChanged(), msg.event, b.qos, false); err != nil {
			b.logError("failed to publish change event", err)
		}
	}
	if err := b.mqtt.Publish(b.topics.State(), msg.state, b.qos, true); err != nil {
		b.logError("failed to publish state", err)
		return
	}
	b.published.Add(1)
}

// handleMessage routes an inbound command. Errors are logged by the MQTT
// client.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	name := b.topics.CommandName(topic)

	var cmd CommandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		b.rejected.Add(1)
		return fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	if err := b.gate.Check(cmd.APIKey); err != nil {
		b.rejected.Add(1)
		b.logWarn("rejected device command", "command", name, "client", cmd.Client)
		return err
	}

	switch name {
	case "patch":
		return b.handlePatch(cmd)
	case "reset":
		b.store.ResetBy(cmd.Client)
		b.accepted.Add(1)
		b.logInfo("device reset state", "client", cmd.Client)
		return nil
	default:
		b.rejected.Add(1)
		return fmt.Errorf("%w: %s", ErrUnknownCommand, topic)
	}
}

func (b *Bridge) handlePatch(cmd CommandMessage) error {
	patch, err := state.DecodePatch(cmd.Patch)
	if err == nil {
		_, err = b.store.Apply(patch, cmd.Client)
	}
	if err != nil {
		b.rejected.Add(1)
		var fe *state.FieldError
		if errors.As(err, &fe) {
			b.logWarn("device patch rejected", "client", cmd.Client, "field", fe.Field, "reason", fe.Reason)
		}
		return fmt.Errorf("applying device patch: %w", err)
	}
	b.accepted.Add(1)
	b.logDebug("device patch applied", "client", cmd.Client, "fields", patch.Keys())
	return nil
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	if logger := b.getLogger(); logger != nil {
		logger.Error(msg, "error", err)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// Metrics contains bridge counters for the stats endpoint.
type Metrics struct {
	Connected        bool   `json:"connected"`
	Published        uint64 `json:"published"`
	Dropped          uint64 `json:"dropped"`
	CommandsAccepted uint64 `json:"commands_accepted"`
	CommandsRejected uint64 `json:"commands_rejected"`
	QueueDepth       int    `json:"queue_depth"`
}

// GetMetrics returns current bridge counters.
func (b *Bridge) GetMetrics() Metrics {
	return Metrics{
		Connected:        b.mqtt.IsConnected(),
		Published:        b.published.Load(),
		Dropped:          b.dropped.Load(),
		CommandsAccepted: b.accepted.Load(),
		CommandsRejected: b.rejected.Load(),
		QueueDepth:       len(b.queue),
	}
}
