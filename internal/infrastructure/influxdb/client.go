package influxdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/opensensorhub/osh-addons-sub008/internal/infrastructure/config"
)

const (
	pingTimeout = 5 * time.Second

	fallbackBatchSize     = 100
	fallbackFlushInterval = 10 * time.Second
)

// Logger receives asynchronous write failures.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Client records command status history in an InfluxDB v2 bucket.
//
// Points are queued on the batched write API and never block the caller.
// Batches rejected by the server are logged and counted. A nil *Client
// behaves as a closed one.
type Client struct {
	influx influxdb2.Client
	writer api.WriteAPI
	bucket string

	mu     sync.RWMutex
	open   bool
	logger Logger

	failures atomic.Uint64
}

// Connect pings the server and starts the batched writer. ctx bounds the
// ping only. It returns ErrDisabled when the integration is switched off.
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	influx := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, writeOptions(cfg))
	if err := ping(ctx, influx); err != nil {
		influx.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		influx: influx,
		writer: influx.WriteAPI(cfg.Org, cfg.Bucket),
		bucket: cfg.Bucket,
		open:   true,
		logger: noopLogger{},
	}
	go c.drainErrors(c.writer.Errors())
	return c, nil
}

func writeOptions(cfg config.InfluxDBConfig) *influxdb2.Options {
	batch := uint(fallbackBatchSize)
	if cfg.BatchSize > 0 {
		batch = uint(cfg.BatchSize) // #nosec G115 -- checked positive
	}
	flush := fallbackFlushInterval
	if cfg.FlushInterval > 0 {
		flush = time.Duration(cfg.FlushInterval) * time.Second
	}
	return influxdb2.DefaultOptions().
		SetBatchSize(batch).
		SetFlushInterval(uint(flush.Milliseconds())) // #nosec G115 -- positive duration
}

func ping(ctx context.Context, influx influxdb2.Client) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := influx.Ping(ctx)
	switch {
	case err != nil:
		return fmt.Errorf("ping: %w", err)
	case !healthy:
		return errors.New("server not healthy")
	}
	return nil
}

// drainErrors runs until the write API closes its error channel.
func (c *Client) drainErrors(errs <-chan error) {
	for err := range errs {
		n := c.failures.Add(1)
		c.log().Warn("influxdb batch rejected",
			"bucket", c.bucket,
			"failures", n,
			"error", fmt.Errorf("%w: %w", ErrWriteFailed, err),
		)
	}
}

// SetLogger routes write failures to logger. Passing nil silences them.
func (c *Client) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) log() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// Failures returns how many batches the server has rejected.
func (c *Client) Failures() uint64 {
	if c == nil {
		return 0
	}
	return c.failures.Load()
}

// IsConnected reports whether Close has not yet been called.
func (c *Client) IsConnected() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.open
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := ping(ctx, c.influx); err != nil {
		return fmt.Errorf("influxdb health check: %w", err)
	}
	return nil
}

// Flush blocks until queued points are sent. It does nothing after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writer.Flush()
}

// Close sends queued points and shuts the client down. Later writes are
// dropped.
func (c *Client) Close() error {
	if c == nil || c.influx == nil {
		return nil
	}

	c.mu.Lock()
	wasOpen := c.open
	c.open = false
	c.mu.Unlock()
	if !wasOpen {
		return nil
	}

	c.writer.Flush()
	c.influx.Close()
	return nil
}
