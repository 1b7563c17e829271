package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/raspy-assistant/statehub/internal/infrastructure/config"
	"github.com/raspy-assistant/statehub/internal/state"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	// DefaultQueueSize is the number of points buffered between the store
	// observers and the InfluxDB write API.
	DefaultQueueSize = 256
)

var (
	// ErrNotConnected indicates the client was never connected or is closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the startup ping failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrDisabled indicates InfluxDB is disabled in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)

// pointWriter is the part of api.WriteAPI the client drives.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Client records the history of the shared state in InfluxDB.
//
// Points are handed to a bounded queue and written by a single goroutine,
// so Observe never blocks a commit. When the queue is full the point is
// dropped and counted.
type Client struct {
	client influxdb2.Client // nil in tests
	writer pointWriter

	points  chan *write.Point
	done    chan struct{}
	wg      sync.WaitGroup
	closing sync.Once

	written atomic.Uint64
	dropped atomic.Uint64

	connected bool
	onError   func(err error)
	mu        sync.RWMutex
}

// Connect pings the server, starts the write queue and queues a snapshot
// of initial so the series starts at the state the service booted with.
func Connect(cfg config.InfluxDBConfig, initial state.Record) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10
	}

	// #nosec G115 -- values validated above to be positive
	client := influxdb2.NewClientWithOptions(
		cfg.URL,
		cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batchSize)).
			SetFlushInterval(uint(flushInterval)*1000),
	)

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	c := newClient(writeAPI, DefaultQueueSize)
	c.client = client
	go c.handleWriteErrors(writeAPI.Errors())

	c.enqueue(StatePoint(initial))
	return c, nil
}

// newClient starts the write queue in front of w.
func newClient(w pointWriter, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	c := &Client{
		writer:    w,
		points:    make(chan *write.Point, queueSize),
		done:      make(chan struct{}),
		connected: true,
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// run hands queued points to the write API until Close, then drains.
func (c *Client) run() {
	defer c.wg.Done()
	for {
		select {
		case p := <-c.points:
			c.write(p)
		case <-c.done:
			for {
				select {
				case p := <-c.points:
					c.write(p)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) write(p *write.Point) {
	c.writer.WritePoint(p)
	c.written.Add(1)
}

// enqueue never blocks; a full queue drops points.
func (c *Client) enqueue(points ...*write.Point) {
	if !c.IsConnected() {
		return
	}
	for _, p := range points {
		select {
		case c.points <- p:
		default:
			c.dropped.Add(1)
		}
	}
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// Close stops accepting points, writes what is queued, flushes and closes
// the underlying client.
func (c *Client) Close() error {
	if c.writer == nil {
		return nil
	}

	c.closing.Do(func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()

		close(c.done)
		c.wg.Wait()
		c.writer.Flush()
		if c.client != nil {
			c.client.Close()
		}
	})
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() || c.client == nil {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// IsConnected reports whether the client accepts points.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError sets the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush sends what the write API has batched. Points still in the queue
// are not waited for.
func (c *Client) Flush() {
	if c.writer == nil || !c.IsConnected() {
		return
	}
	c.writer.Flush()
}

// Metrics contains telemetry counters for the stats endpoint.
type Metrics struct {
	Connected  bool   `json:"connected"`
	Written    uint64 `json:"written"`
	Dropped    uint64 `json:"dropped"`
	QueueDepth int    `json:"queue_depth"`
}

// GetMetrics returns current telemetry counters.
func (c *Client) GetMetrics() Metrics {
	return Metrics{
		Connected:  c.IsConnected(),
		Written:    c.written.Load(),
		Dropped:    c.dropped.Load(),
		QueueDepth: len(c.points),
	}
}
