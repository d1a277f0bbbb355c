package t2sa

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/arloliu/go-t2sa/logger"
)

// ClientConfig represents the configuration parameters for a T2SA client.
type ClientConfig struct {
	mu sync.RWMutex

	// host specifies the host of the T2SA application.
	host string

	// port specifies the TCP port number of the T2SA application.
	port int

	// readTimeout bounds the wait for one reply line. It should be between 10 milliseconds and 10 minutes.
	// Defaults to 30 seconds.
	readTimeout time.Duration
	// writeTimeout bounds writing one command line. It should be between 10 milliseconds and 60 seconds.
	// Defaults to 5 seconds.
	writeTimeout time.Duration
	// connectTimeout bounds dialing the T2SA application. It should be between 10 milliseconds and 60 seconds.
	// Defaults to 3 seconds.
	connectTimeout time.Duration

	// readyPollInterval is the delay between status polls while the tracker is measuring or busy.
	// Defaults to 300 milliseconds.
	readyPollInterval time.Duration
	// initSettleDelay is the delay before polling again while the tracker reports INIT.
	// Defaults to 5 seconds.
	initSettleDelay time.Duration
	// readySettleDelay is the pause after the tracker reports READY and before the command is sent.
	// Defaults to 500 milliseconds.
	readySettleDelay time.Duration
	// readyTimeout bounds the whole wait-for-ready loop. Zero means unbounded.
	// Defaults to 10 minutes.
	readyTimeout time.Duration
	// readyMaxAttempts bounds the number of status polls in one wait-for-ready loop. Zero means unbounded.
	// Defaults to 0.
	readyMaxAttempts int

	// slowReplyThreshold is the reply latency above which a warning is logged.
	// Defaults to 5 seconds.
	slowReplyThreshold time.Duration

	// simulationMode makes the client switch the T2SA application into its internal
	// simulation mode after connecting, and out of it before disconnecting.
	simulationMode bool

	// logger provides a logger instance for client events and errors.
	logger logger.Logger
}

// NewClientConfig creates a new client configuration with the given host, port number, and optional functional options.
//
// The host parameter specifies the host of the T2SA application.
// The port parameter specifies the TCP port number of the T2SA application.
//
// See the documentation for ClientOption and the various WithXXX functions for available configuration options.
//
// Returns a pointer to the initialized ClientConfig and an error if any option failed validation.
func NewClientConfig(host string, port int, opts ...ClientOption) (*ClientConfig, error) {
	cfg := &ClientConfig{
		readTimeout:        30 * time.Second,
		writeTimeout:       5 * time.Second,
		connectTimeout:     3 * time.Second,
		readyPollInterval:  300 * time.Millisecond,
		initSettleDelay:    5 * time.Second,
		readySettleDelay:   500 * time.Millisecond,
		readyTimeout:       10 * time.Minute,
		readyMaxAttempts:   0,
		slowReplyThreshold: 5 * time.Second,
	}

	if err := withRemoteHost(host).apply(cfg); err != nil {
		return cfg, err
	}

	if err := withPort(port).apply(cfg); err != nil {
		return cfg, err
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.logger == nil {
		cfg.logger = logger.NewSlog(logger.InfoLevel, false)
	}

	return cfg, nil
}

// Addr returns the "host:port" address of the T2SA application.
func (cfg *ClientConfig) Addr() string {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return net.JoinHostPort(cfg.host, strconv.Itoa(cfg.port))
}

func (cfg *ClientConfig) ReadTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.readTimeout
}

func (cfg *ClientConfig) WriteTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.writeTimeout
}

func (cfg *ClientConfig) ConnectTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.connectTimeout
}

func (cfg *ClientConfig) ReadyPollInterval() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.readyPollInterval
}

func (cfg *ClientConfig) InitSettleDelay() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.initSettleDelay
}

func (cfg *ClientConfig) ReadySettleDelay() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.readySettleDelay
}

func (cfg *ClientConfig) ReadyTimeout() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.readyTimeout
}

func (cfg *ClientConfig) ReadyMaxAttempts() int {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.readyMaxAttempts
}

func (cfg *ClientConfig) SlowReplyThreshold() time.Duration {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.slowReplyThreshold
}

func (cfg *ClientConfig) SimulationMode() bool {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.simulationMode
}

func (cfg *ClientConfig) Logger() logger.Logger {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	return cfg.logger
}

// ClientOption represents a functional option for configuring a ClientConfig.
type ClientOption interface {
	apply(*ClientConfig) error
	isRuntime() bool
}

type clientOptFunc struct {
	name      string
	runtime   bool
	applyFunc func(*ClientConfig) error
}

func (c *clientOptFunc) apply(cfg *ClientConfig) error { return c.applyFunc(cfg) }

func (c *clientOptFunc) isRuntime() bool { return c.runtime }

func (c *clientOptFunc) String() string { return c.name }

func newClientOptFunc(name string, runtime bool, f func(*ClientConfig) error) *clientOptFunc {
	return &clientOptFunc{
		name:      name,
		runtime:   runtime,
		applyFunc: f,
	}
}

// withRemoteHost validates the host syntactically. No name resolution happens here;
// an unresolvable host fails at Connect.
func withRemoteHost(host string) ClientOption {
	return newClientOptFunc("withRemoteHost", false, func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		if ip := net.ParseIP(host); ip != nil {
			cfg.host = host
			return nil
		}

		host = strings.TrimSuffix(strings.TrimPrefix(host, "."), ".")
		if isValidHostname(host) {
			cfg.host = host
			return nil
		}

		return errors.New("invalid host")
	})
}

func isValidHostname(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}

	for _, label := range strings.Split(host, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			isAlnum := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			if !isAlnum && r != '-' {
				return false
			}
		}
	}

	return true
}

func withPort(port int) ClientOption {
	return newClientOptFunc("withPort", false, func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		if port < 1 || port > 65535 {
			return errors.New("port is out of range [1, 65535]")
		}
		cfg.port = port

		return nil
	})
}

func durationOption(name string, runtime bool, lo, hi time.Duration, errMsg string, set func(*ClientConfig, time.Duration), val time.Duration) ClientOption {
	return newClientOptFunc(name, runtime, func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		if val < lo || val > hi {
			return errors.New(errMsg)
		}

		cfg.mu.Lock()
		set(cfg, val)
		cfg.mu.Unlock()

		return nil
	})
}

// WithReadTimeout sets the timeout for reading one reply line.
// An error is returned if the value is out of range [10ms, 10m].
//
// The default value is 30 seconds.
//
// This option can be changed at runtime.
func WithReadTimeout(val time.Duration) ClientOption {
	return durationOption("WithReadTimeout", true, 10*time.Millisecond, 10*time.Minute,
		"read timeout out of range [10ms, 10m]",
		func(cfg *ClientConfig, d time.Duration) { cfg.readTimeout = d }, val)
}

// WithWriteTimeout sets the timeout for writing one command line.
// An error is returned if the value is out of range [10ms, 60s].
//
// The default value is 5 seconds.
//
// This option can be changed at runtime.
func WithWriteTimeout(val time.Duration) ClientOption {
	return durationOption("WithWriteTimeout", true, 10*time.Millisecond, 60*time.Second,
		"write timeout out of range [10ms, 60s]",
		func(cfg *ClientConfig, d time.Duration) { cfg.writeTimeout = d }, val)
}

// WithConnectTimeout sets the timeout for dialing the T2SA application.
// An error is returned if the value is out of range [10ms, 60s].
//
// The default value is 3 seconds.
//
// This option can't be changed at runtime.
func WithConnectTimeout(val time.Duration) ClientOption {
	return durationOption("WithConnectTimeout", false, 10*time.Millisecond, 60*time.Second,
		"connect timeout out of range [10ms, 60s]",
		func(cfg *ClientConfig, d time.Duration) { cfg.connectTimeout = d }, val)
}

// WithReadyPollInterval sets the delay between status polls while the tracker is busy.
// An error is returned if the value is out of range [1ms, 60s].
//
// The default value is 300 milliseconds.
//
// This option can be changed at runtime.
func WithReadyPollInterval(val time.Duration) ClientOption {
	return durationOption("WithReadyPollInterval", true, time.Millisecond, 60*time.Second,
		"ready poll interval out of range [1ms, 60s]",
		func(cfg *ClientConfig, d time.Duration) { cfg.readyPollInterval = d }, val)
}

// WithInitSettleDelay sets the delay before polling again while the tracker initializes.
// An error is returned if the value is out of range [0, 60s].
//
// The default value is 5 seconds.
//
// This option can be changed at runtime.
func WithInitSettleDelay(val time.Duration) ClientOption {
	return durationOption("WithInitSettleDelay", true, 0, 60*time.Second,
		"init settle delay out of range [0, 60s]",
		func(cfg *ClientConfig, d time.Duration) { cfg.initSettleDelay = d }, val)
}

// WithReadySettleDelay sets the pause between a READY status and the command that waited for it.
// An error is returned if the value is out of range [0, 10s].
//
// The default value is 500 milliseconds.
//
// This option can be changed at runtime.
func WithReadySettleDelay(val time.Duration) ClientOption {
	return durationOption("WithReadySettleDelay", true, 0, 10*time.Second,
		"ready settle delay out of range [0, 10s]",
		func(cfg *ClientConfig, d time.Duration) { cfg.readySettleDelay = d }, val)
}

// WithReadyTimeout bounds the total time spent waiting for the tracker to become ready.
// Zero disables the bound. An error is returned if a non-zero value is out of range [10ms, 24h].
//
// The default value is 10 minutes.
//
// This option can be changed at runtime.
func WithReadyTimeout(val time.Duration) ClientOption {
	return newClientOptFunc("WithReadyTimeout", true, func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		if val != 0 && (val < 10*time.Millisecond || val > 24*time.Hour) {
			return errors.New("ready timeout out of range [10ms, 24h]")
		}

		cfg.mu.Lock()
		cfg.readyTimeout = val
		cfg.mu.Unlock()

		return nil
	})
}

// WithReadyMaxAttempts bounds the number of status polls while waiting for the tracker to become ready.
// Zero disables the bound. An error is returned if a non-zero value is out of range [1, 1000000].
//
// The default value is 0.
//
// This option can be changed at runtime.
func WithReadyMaxAttempts(val int) ClientOption {
	return newClientOptFunc("WithReadyMaxAttempts", true, func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		if val < 0 || val > 1_000_000 {
			return errors.New("ready max attempts out of range [0, 1000000]")
		}

		cfg.mu.Lock()
		cfg.readyMaxAttempts = val
		cfg.mu.Unlock()

		return nil
	})
}

// WithSlowReplyThreshold sets the reply latency above which a warning is logged.
// An error is returned if the value is not positive.
//
// The default value is 5 seconds.
//
// This option can be changed at runtime.
func WithSlowReplyThreshold(val time.Duration) ClientOption {
	return newClientOptFunc("WithSlowReplyThreshold", true, func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		if val <= 0 {
			return errors.New("slow reply threshold must be positive")
		}

		cfg.mu.Lock()
		cfg.slowReplyThreshold = val
		cfg.mu.Unlock()

		return nil
	})
}

// WithSimulationMode makes the client put the T2SA application into its internal
// simulation mode on connect, and take it out again on disconnect.
//
// This option can't be changed at runtime.
func WithSimulationMode(enabled bool) ClientOption {
	return newClientOptFunc("WithSimulationMode", false, func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		cfg.simulationMode = enabled

		return nil
	})
}

// WithLogger sets the logger.
//
// This option can't be changed at runtime.
func WithLogger(l logger.Logger) ClientOption {
	return newClientOptFunc("WithLogger", false, func(cfg *ClientConfig) error {
		if cfg == nil {
			return ErrClientConfigNil
		}

		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
