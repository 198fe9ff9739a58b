// Package natsclient manages the engine's NATS connection, core subject
// subscriptions, and JetStream key-value buckets.
package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/autoflow/errors"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        `yaml:"url"`
	Name          string        `yaml:"name"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	Timeout       time.Duration `yaml:"timeout"`
	DrainTimeout  time.Duration `yaml:"drain_timeout"`
}

// DefaultConfig returns connection defaults suitable for an always-on engine.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "autoflow",
		MaxReconnects: -1, // reconnect forever
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		DrainTimeout:  30 * time.Second,
	}
}

// Client wraps a NATS connection with JetStream access and reconnect
// tracking. All methods are safe for concurrent use.
type Client struct {
	config Config
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *nats.Conn
	js     jetstream.JetStream
	status atomic.Value // ConnectionStatus

	reconnects  atomic.Int32
	onReconnect atomic.Pointer[func()]
	closed      atomic.Bool
}

// NewClient creates an unconnected client.
func NewClient(config Config, logger *slog.Logger) *Client {
	if config.URL == "" {
		config.URL = nats.DefaultURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		config: config,
		logger: logger.With("component", "natsclient"),
	}
	c.status.Store(StatusDisconnected)
	return c
}

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	return c.status.Load().(ConnectionStatus)
}

// IsConnected reports whether the underlying connection is live.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

// Connect establishes the connection and initializes JetStream.
func (c *Client) Connect(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}
	c.status.Store(StatusConnecting)

	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.Timeout(c.config.Timeout),
		nats.DrainTimeout(c.config.DrainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.status.Store(StatusReconnecting)
			c.logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			c.logger.Error("NATS async error", "subject", subject, "error", err)
		}),
	}

	conn, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		c.status.Store(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "connect to "+c.config.URL)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		c.status.Store(StatusDisconnected)
		return errors.WrapFatal(err, "Client", "Connect", "initialize jetstream")
	}

	c.conn = conn
	c.js = js
	c.status.Store(StatusConnected)
	c.logger.Info("Connected to NATS", "url", conn.ConnectedUrl())

	return nil
}

// Publish sends data on a subject.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return errors.ErrNoConnection
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", "publish to "+subject)
	}
	return nil
}

// SetReconnectCallback registers fn to run on every reconnect, alongside
// the internal reconnect counter. Safe to call before or after Connect.
func (c *Client) SetReconnectCallback(fn func()) {
	c.onReconnect.Store(&fn)
}

// handleReconnect is the nats.ReconnectHandler installed by Connect.
func (c *Client) handleReconnect(nc *nats.Conn) {
	c.status.Store(StatusConnected)
	c.reconnects.Add(1)
	if fn := c.onReconnect.Load(); fn != nil {
		(*fn)()
	}

	url := ""
	if nc != nil {
		url = nc.ConnectedUrl()
	}
	c.logger.Info("NATS reconnected", "url", url, "reconnects", c.reconnects.Load())
}

// QueueSubscribe registers a queue-group handler so multiple engine
// replicas share one event stream.
func (c *Client) QueueSubscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return nil, errors.ErrNoConnection
	}
	sub, err := conn.QueueSubscribe(subject, queue, handler)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "QueueSubscribe", "subscribe to "+subject)
	}
	return sub, nil
}

// EnsureKeyValue creates or binds the named KV bucket.
func (c *Client) EnsureKeyValue(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	c.mu.RLock()
	js := c.js
	c.mu.RUnlock()

	if js == nil {
		return nil, errors.ErrNoConnection
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  bucket,
		History: 1,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "EnsureKeyValue", "ensure bucket "+bucket)
	}
	return kv, nil
}

// Reconnects returns the number of reconnect events seen.
func (c *Client) Reconnects() int32 {
	return c.reconnects.Load()
}

// Close drains and closes the connection. Safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.logger.Warn("NATS drain failed, closing hard", "error", err)
			c.conn.Close()
		}
		c.conn = nil
		c.js = nil
	}
	c.status.Store(StatusDisconnected)
	return nil
}
