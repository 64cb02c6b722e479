package network

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/glittercutter/udp-network/reliable"
)

// Default timing constants, carried over from
// original_source/src/udpnetwork_Network.cpp's constructor initializer list.
const (
	DefaultResponseTimeout             = 2000 * time.Millisecond
	DefaultConnectionTimeout           = 5000 * time.Millisecond
	DefaultPingRetryDelay              = 1000 * time.Millisecond
	DefaultConnectionRequestRetryDelay = 1000 * time.Millisecond
)

// Config holds a Network's tunables. Use Listen with Options rather than
// constructing this directly; the zero value is not ready to use.
type Config struct {
	responseTimeout             time.Duration
	connectionTimeout           time.Duration
	pingRetryDelay              time.Duration
	connectionRequestRetryDelay time.Duration

	readSocketBufferSize  int
	writeSocketBufferSize int

	log     zerolog.Logger
	metrics reliable.Recorder
}

func defaultConfig() Config {
	return Config{
		responseTimeout:             DefaultResponseTimeout,
		connectionTimeout:           DefaultConnectionTimeout,
		pingRetryDelay:              DefaultPingRetryDelay,
		connectionRequestRetryDelay: DefaultConnectionRequestRetryDelay,
		log:                         zerolog.Nop(),
	}
}

// Option configures a Network at construction time.
type Option interface {
	apply(*Config)
}

type optionFunc func(*Config)

func (f optionFunc) apply(c *Config) { f(c) }

// WithLogger injects a logger used for every log line the Network and its
// connections emit. The zero Logger (zerolog.Nop) is used if omitted.
func WithLogger(log zerolog.Logger) Option {
	return optionFunc(func(c *Config) { c.log = log })
}

// WithMetrics injects a reliable.Recorder (typically *Metrics) instrumenting
// every connection the Network owns. Nil, the default, disables metrics.
func WithMetrics(r reliable.Recorder) Option {
	return optionFunc(func(c *Config) { c.metrics = r })
}

// WithResponseTimeout overrides how long a connection may go without a
// heartbeat before it's considered unresponsive and pinged (spec §4.3).
func WithResponseTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.responseTimeout = d })
}

// WithConnectionTimeout overrides how long a connection may go without any
// heartbeat before it's destroyed outright.
func WithConnectionTimeout(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.connectionTimeout = d })
}

// WithPingRetryDelay overrides the minimum spacing between pings sent to an
// unresponsive connection.
func WithPingRetryDelay(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.pingRetryDelay = d })
}

// WithConnectionRequestRetryDelay overrides the minimum spacing between
// retries of an unacknowledged handshake request.
func WithConnectionRequestRetryDelay(d time.Duration) Option {
	return optionFunc(func(c *Config) { c.connectionRequestRetryDelay = d })
}

// WithSocketBuffers overrides the kernel socket receive/send buffer sizes
// applied at bind time (0 leaves the OS default in place). See sockopt_*.go.
func WithSocketBuffers(read, write int) Option {
	return optionFunc(func(c *Config) {
		c.readSocketBufferSize = read
		c.writeSocketBufferSize = write
	})
}
