package alignment

import (
	"context"
	"errors"

	"github.com/arloliu/go-t2sa/logger"
	"github.com/arloliu/go-t2sa/mocktracker"
	"github.com/arloliu/go-t2sa/t2sa"
)

// TelescopePositionFunc returns the current telescope pose.
// The controller falls back to Config.DefaultPosition when it fails.
type TelescopePositionFunc func(ctx context.Context) (TelescopePosition, error)

// Option represents a functional option for configuring a Controller.
type Option interface {
	apply(*Controller) error
}

type optFunc struct {
	name      string
	applyFunc func(*Controller) error
}

func (o *optFunc) apply(c *Controller) error { return o.applyFunc(c) }

func (o *optFunc) String() string { return o.name }

func newOptFunc(name string, f func(*Controller) error) *optFunc {
	return &optFunc{name: name, applyFunc: f}
}

// WithLogger sets the controller logger. Defaults to an info level slog logger.
func WithLogger(l logger.Logger) Option {
	return newOptFunc("WithLogger", func(c *Controller) error {
		if l == nil {
			return errors.New("logger is nil")
		}
		c.logger = l

		return nil
	})
}

// WithEventSink sets where measurements and telemetry are published. Defaults to a LogSink.
func WithEventSink(sink EventSink) Option {
	return newOptFunc("WithEventSink", func(c *Controller) error {
		if sink == nil {
			return errors.New("event sink is nil")
		}
		c.sink = sink

		return nil
	})
}

// WithTelescopePosition sets the source of the telescope pose used to tag measurements.
func WithTelescopePosition(fn TelescopePositionFunc) Option {
	return newOptFunc("WithTelescopePosition", func(c *Controller) error {
		if fn == nil {
			return errors.New("telescope position func is nil")
		}
		c.telescope = fn

		return nil
	})
}

// WithMockOptions passes extra options to the mock tracker started in SimulationMock mode.
func WithMockOptions(opts ...mocktracker.ServerOption) Option {
	return newOptFunc("WithMockOptions", func(c *Controller) error {
		c.mockOpts = append(c.mockOpts, opts...)
		return nil
	})
}

// WithClientOptions passes extra options to the T2SA client.
// They are applied after the options derived from Config.
func WithClientOptions(opts ...t2sa.ClientOption) Option {
	return newOptFunc("WithClientOptions", func(c *Controller) error {
		c.clientOpts = append(c.clientOpts, opts...)
		return nil
	})
}
