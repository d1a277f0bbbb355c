package mocktracker

import (
	"errors"
	"net"
	"time"

	"github.com/arloliu/go-t2sa/logger"
)

// ErrServerConfigNil indicates that a nil ServerConfig was provided.
var ErrServerConfigNil = errors.New("server config is nil")

// ServerConfig represents the configuration of a mock tracker.
type ServerConfig struct {
	// host is the address to listen on.
	// Defaults to 127.0.0.1.
	host string
	// port is the TCP port to listen on; 0 picks an ephemeral port.
	// Defaults to 0.
	port int

	// measurementDuration is how long a measurement plan, two-face check or drift check pretends to run.
	// Defaults to 2 seconds.
	measurementDuration time.Duration
	// warmupDuration is how long the laser warms up after power on.
	// Defaults to 60 seconds.
	warmupDuration time.Duration
	// haltDelay is how long !HALT takes before it is acknowledged.
	// Defaults to 500 milliseconds.
	haltDelay time.Duration
	// initDuration is how long after Start the tracker reports INIT.
	// Defaults to 0.
	initDuration time.Duration

	// laserOn starts the mock with a warm laser.
	laserOn bool
	// autoCorrect moves a target halfway to its nominal placement every time its offset is read.
	autoCorrect bool
	// randSeed seeds the initial placement jitter. 0 seeds from the clock.
	randSeed int64

	logger logger.Logger
}

// NewServerConfig creates a mock tracker configuration with defaults and then applies opts.
func NewServerConfig(opts ...ServerOption) (*ServerConfig, error) {
	cfg := &ServerConfig{
		host:                "127.0.0.1",
		port:                0,
		measurementDuration: 2 * time.Second,
		warmupDuration:      60 * time.Second,
		haltDelay:           500 * time.Millisecond,
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

// ServerOption represents a functional option for configuring a ServerConfig.
type ServerOption interface {
	apply(*ServerConfig) error
}

type serverOptFunc struct {
	name      string
	applyFunc func(*ServerConfig) error
}

func (o *serverOptFunc) apply(cfg *ServerConfig) error { return o.applyFunc(cfg) }

func newServerOptFunc(name string, f func(*ServerConfig) error) *serverOptFunc {
	return &serverOptFunc{name: name, applyFunc: f}
}

// WithHost sets the listen address. It must be an IP address.
func WithHost(host string) ServerOption {
	return newServerOptFunc("WithHost", func(cfg *ServerConfig) error {
		if cfg == nil {
			return ErrServerConfigNil
		}

		if net.ParseIP(host) == nil {
			return errors.New("invalid host")
		}
		cfg.host = host

		return nil
	})
}

// WithPort sets the listen port. 0 picks an ephemeral port.
func WithPort(port int) ServerOption {
	return newServerOptFunc("WithPort", func(cfg *ServerConfig) error {
		if cfg == nil {
			return ErrServerConfigNil
		}

		if port < 0 || port > 65535 {
			return errors.New("port is out of range [0, 65535]")
		}
		cfg.port = port

		return nil
	})
}

// WithMeasurementDuration sets how long measurements pretend to run.
// An error is returned if the value is out of range [0, 10m].
func WithMeasurementDuration(d time.Duration) ServerOption {
	return newServerOptFunc("WithMeasurementDuration", func(cfg *ServerConfig) error {
		if cfg == nil {
			return ErrServerConfigNil
		}

		if d < 0 || d > 10*time.Minute {
			return errors.New("measurement duration out of range [0, 10m]")
		}
		cfg.measurementDuration = d

		return nil
	})
}

// WithWarmupDuration sets the laser warm-up time. Tests should use a sub-second value.
// An error is returned if the value is out of range [0, 10m].
func WithWarmupDuration(d time.Duration) ServerOption {
	return newServerOptFunc("WithWarmupDuration", func(cfg *ServerConfig) error {
		if cfg == nil {
			return ErrServerConfigNil
		}

		if d < 0 || d > 10*time.Minute {
			return errors.New("warmup duration out of range [0, 10m]")
		}
		cfg.warmupDuration = d

		return nil
	})
}

// WithHaltDelay sets how long !HALT takes.
// An error is returned if the value is out of range [0, 60s].
func WithHaltDelay(d time.Duration) ServerOption {
	return newServerOptFunc("WithHaltDelay", func(cfg *ServerConfig) error {
		if cfg == nil {
			return ErrServerConfigNil
		}

		if d < 0 || d > 60*time.Second {
			return errors.New("halt delay out of range [0, 60s]")
		}
		cfg.haltDelay = d

		return nil
	})
}

// WithInitDuration makes the tracker report INIT for d after Start.
// An error is returned if the value is out of range [0, 10m].
func WithInitDuration(d time.Duration) ServerOption {
	return newServerOptFunc("WithInitDuration", func(cfg *ServerConfig) error {
		if cfg == nil {
			return ErrServerConfigNil
		}

		if d < 0 || d > 10*time.Minute {
			return errors.New("init duration out of range [0, 10m]")
		}
		cfg.initDuration = d

		return nil
	})
}

// WithLaserOn starts the mock with the laser already warm.
func WithLaserOn() ServerOption {
	return newServerOptFunc("WithLaserOn", func(cfg *ServerConfig) error {
		if cfg == nil {
			return ErrServerConfigNil
		}

		cfg.laserOn = true

		return nil
	})
}

// WithAutoCorrect makes every offset read move the target halfway to nominal.
func WithAutoCorrect(enabled bool) ServerOption {
	return newServerOptFunc("WithAutoCorrect", func(cfg *ServerConfig) error {
		if cfg == nil {
			return ErrServerConfigNil
		}

		cfg.autoCorrect = enabled

		return nil
	})
}

// WithRandSeed seeds the initial placement jitter, making positions reproducible.
func WithRandSeed(seed int64) ServerOption {
	return newServerOptFunc("WithRandSeed", func(cfg *ServerConfig) error {
		if cfg == nil {
			return ErrServerConfigNil
		}

		cfg.randSeed = seed

		return nil
	})
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) ServerOption {
	return newServerOptFunc("WithLogger", func(cfg *ServerConfig) error {
		if cfg == nil {
			return ErrServerConfigNil
		}

		if l == nil {
			return errors.New("logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
