package alignment

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/arloliu/go-t2sa/internal/task"
	"github.com/arloliu/go-t2sa/logger"
	"github.com/arloliu/go-t2sa/mocktracker"
	"github.com/arloliu/go-t2sa/t2sa"
)

// ReferenceTarget is the target every alignment offset is measured against.
const ReferenceTarget = "M1M3"

// Controller exposes the laser tracker to an observatory control framework.
//
// The framework drives it through summary states with HandleSummaryState.
// In Disabled and Enabled the controller holds a T2SA connection and runs a
// telemetry loop publishing tracker and laser status. Commands run only in Enabled.
//
// Example Usage:
//
//	cfg := alignment.DefaultConfig()
//	cfg.SimulationMode = alignment.SimulationMock
//
//	ctrl, err := alignment.NewController(cfg, alignment.WithEventSink(sink))
//	if err != nil {
//	    // handle error
//	}
//
//	_ = ctrl.HandleSummaryState(ctx, alignment.StateEnabled)
//	defer ctrl.HandleSummaryState(ctx, alignment.StateStandby)
//
//	m, err := ctrl.MeasureTarget(ctx, "M2")
type Controller struct {
	cfg        *Config
	logger     logger.Logger
	sink       EventSink
	telescope  TelescopePositionFunc
	mockOpts   []mocktracker.ServerOption
	clientOpts []t2sa.ClientOption

	mu      sync.Mutex // protects the fields below
	state   SummaryState
	mock    *mocktracker.Server
	client  *t2sa.Client
	taskMgr *task.Manager
	last    *Measurement
}

// NewController creates a controller in the Standby state.
func NewController(cfg *Config, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		cfg:   cfg,
		state: StateStandby,
	}

	for _, opt := range opts {
		if err := opt.apply(c); err != nil {
			return nil, err
		}
	}

	if c.logger == nil {
		c.logger = logger.NewSlog(logger.InfoLevel, false)
	}
	c.logger = c.logger.With("component", "alignment")

	if c.sink == nil {
		c.sink = NewLogSink(c.logger)
	}

	if c.telescope == nil {
		c.telescope = func(context.Context) (TelescopePosition, error) {
			return cfg.DefaultPosition, nil
		}
	}

	return c, nil
}

// State returns the current summary state.
func (c *Controller) State() SummaryState {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// MockTracker returns the mock tracker started in SimulationMock mode, or nil.
func (c *Controller) MockTracker() *mocktracker.Server {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.mock
}

// LastMeasurement returns the last target position published by MeasureTarget.
func (c *Controller) LastMeasurement() (Measurement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.last == nil {
		return Measurement{}, false
	}

	return *c.last, true
}

// HandleSummaryState moves the controller to state.
//
// Entering Disabled or Enabled starts the mock tracker in SimulationMock mode,
// connects to T2SA and starts the telemetry loop. Any other state stops the
// telemetry loop, disconnects and stops the mock tracker. If connecting fails,
// everything already started is torn down and the controller goes to Fault.
func (c *Controller) HandleSummaryState(ctx context.Context, state SummaryState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("summary state", "from", c.state.String(), "to", state.String())

	if !state.IsActive() {
		c.shutdownLocked(ctx)
		c.state = state

		return nil
	}

	if err := c.startupLocked(ctx); err != nil {
		c.logger.Error("failed to start", "error", err)
		c.shutdownLocked(ctx)
		c.state = StateFault

		return err
	}
	c.state = state

	return nil
}

func (c *Controller) startupLocked(ctx context.Context) error {
	host, port := c.cfg.Host, c.cfg.Port

	if c.cfg.SimulationMode == SimulationMock {
		if c.mock == nil {
			c.logger.Debug("starting mock tracker")

			opts := append([]mocktracker.ServerOption{
				mocktracker.WithLogger(c.logger.With("component", "mocktracker")),
			}, c.mockOpts...)

			cfg, err := mocktracker.NewServerConfig(opts...)
			if err != nil {
				return err
			}
			mock, err := mocktracker.NewServer(cfg)
			if err != nil {
				return err
			}
			if err := mock.Start(context.WithoutCancel(ctx)); err != nil {
				return err
			}
			c.mock = mock
		}
		host, port = "127.0.0.1", c.mock.Port()
	}

	if c.client == nil {
		c.logger.Info("connecting", "host", host, "port", port,
			"readTimeout", c.cfg.ReadTimeout, "simulationMode", c.cfg.SimulationMode.String())

		opts := append([]t2sa.ClientOption{
			t2sa.WithReadTimeout(c.cfg.ReadTimeout),
			t2sa.WithSimulationMode(c.cfg.SimulationMode == SimulationVendor),
			t2sa.WithLogger(c.logger.With("component", "t2sa")),
		}, c.clientOpts...)

		cfg, err := t2sa.NewClientConfig(host, port, opts...)
		if err != nil {
			return err
		}
		client, err := t2sa.NewClient(cfg)
		if err != nil {
			return err
		}
		if err := client.Connect(ctx); err != nil {
			return err
		}
		c.client = client

		if err := c.applySettings(ctx, client); err != nil {
			return err
		}
	}

	if c.taskMgr == nil {
		mgr := task.NewManager(context.WithoutCancel(ctx), c.logger)
		if err := mgr.StartInterval("telemetry", c.publishTelemetry(c.client), c.cfg.TelemetryInterval, true); err != nil {
			mgr.Stop()
			return err
		}
		c.taskMgr = mgr
	}

	return nil
}

// applySettings pushes the measurement settings in the configuration to the tracker.
func (c *Controller) applySettings(ctx context.Context, client *t2sa.Client) error {
	cfg := c.cfg

	steps := []settingStep{
		{"num iterations", func() (string, error) { return client.SetNumIterations(ctx, cfg.NumIterations) }},
		{"num samples", func() (string, error) { return client.SetNumSamples(ctx, cfg.NumSamples) }},
		{"randomize points", func() (string, error) { return client.SetRandomizePoints(ctx, cfg.RandomizePoints) }},
		{"station lock", func() (string, error) { return client.SetStationLock(ctx, cfg.StationLock) }},
		{"power lock", func() (string, error) { return client.SetPowerLock(ctx, cfg.PowerLock) }},
		{"least squares tolerance", func() (string, error) {
			return client.SetLSTolerance(ctx, cfg.RMSTolerance, cfg.MaxTolerance)
		}},
		{"drift tolerance", func() (string, error) {
			return client.SetDriftTolerance(ctx, cfg.RMSDriftTolerance, cfg.MaxDriftTolerance)
		}},
		{"two-face tolerances", func() (string, error) {
			return client.SetTwoFaceTolerances(ctx, cfg.TwoFaceAzTolerance, cfg.TwoFaceElTolerance, cfg.TwoFaceRangeTolerance)
		}},
	}
	if cfg.SinglePointProfile != "" {
		steps = append(steps, settingStep{"measurement profile", func() (string, error) {
			return client.SetMeasurementProfile(ctx, cfg.SinglePointProfile)
		}})
	}

	for _, step := range steps {
		if _, err := step.fn(); err != nil {
			return fmt.Errorf("set %s: %w", step.name, err)
		}
	}
	c.logger.Debug("tracker settings applied")

	return nil
}

type settingStep struct {
	name string
	fn   func() (string, error)
}

func (c *Controller) shutdownLocked(ctx context.Context) {
	if c.taskMgr != nil {
		c.taskMgr.Stop()
		c.taskMgr.Wait()
		c.taskMgr = nil
	}

	if c.client != nil {
		if err := c.client.Disconnect(ctx); err != nil {
			c.logger.Warn("error disconnecting, continuing", "error", err)
		}
		c.client = nil
	}

	if c.mock != nil {
		if err := c.mock.Stop(); err != nil {
			c.logger.Warn("error stopping mock tracker, continuing", "error", err)
		}
		c.mock = nil
	}
}

func (c *Controller) publishTelemetry(client *t2sa.Client) task.Func {
	return func(ctx context.Context) bool {
		ctx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
		defer cancel()

		status, err := client.Status(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("failed to read tracker status", "error", err)
			}
			return true
		}
		if err := c.sink.PublishT2SAStatus(ctx, status); err != nil {
			c.logger.Warn("failed to publish tracker status", "error", err)
		}

		reading, err := client.LaserStatus(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("failed to read laser status", "error", err)
			}
			return true
		}
		if err := c.sink.PublishLaserStatus(ctx, reading.Status); err != nil {
			c.logger.Warn("failed to publish laser status", "error", err)
		}

		return true
	}
}

// enabledClient returns the client if the controller is Enabled.
func (c *Controller) enabledClient() (*t2sa.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateEnabled || c.client == nil {
		return nil, ErrNotEnabled
	}

	return c.client, nil
}

func (c *Controller) checkTarget(target string) error {
	if !c.cfg.HasTarget(target) {
		return fmt.Errorf("%w %s; must be one of %v", ErrUnknownTarget, target, c.cfg.Targets)
	}

	return nil
}

// MeasureTarget tags the measurement with the telescope pose, measures target
// and publishes its position.
func (c *Controller) MeasureTarget(ctx context.Context, target string) (Measurement, error) {
	client, err := c.enabledClient()
	if err != nil {
		return Measurement{}, err
	}
	if err := c.checkTarget(target); err != nil {
		return Measurement{}, err
	}

	pose, err := c.setTelescopePosition(ctx, client)
	if err != nil {
		return Measurement{}, err
	}

	c.logger.Info("measuring target", "target", target)
	if _, err := client.MeasureTarget(ctx, target); err != nil {
		return Measurement{}, err
	}
	if err := client.WaitReady(ctx); err != nil {
		return Measurement{}, err
	}

	c.logger.Info("measurement completed, publishing target position", "target", target)
	pos, err := client.TargetPosition(ctx, c.targetFrameName(target, pose))
	if err != nil {
		return Measurement{}, err
	}

	m := newMeasurement(KindPosition, target, pos)
	c.mu.Lock()
	c.last = &m
	c.mu.Unlock()

	return m, c.sink.PublishPosition(ctx, m)
}

// Align measures the reference target and then target, and publishes the
// offset of target against the reference.
func (c *Controller) Align(ctx context.Context, target string) (Measurement, error) {
	client, err := c.enabledClient()
	if err != nil {
		return Measurement{}, err
	}
	if err := c.checkTarget(target); err != nil {
		return Measurement{}, err
	}

	if _, err := c.setTelescopePosition(ctx, client); err != nil {
		return Measurement{}, err
	}

	if _, err := client.MeasureTarget(ctx, ReferenceTarget); err != nil {
		return Measurement{}, err
	}
	if target != ReferenceTarget {
		if _, err := client.MeasureTarget(ctx, target); err != nil {
			return Measurement{}, err
		}
	}
	if err := client.WaitReady(ctx); err != nil {
		return Measurement{}, err
	}

	off, err := client.TargetOffset(ctx, ReferenceTarget, target)
	if err != nil {
		return Measurement{}, err
	}

	m := newMeasurement(KindOffset, target, off)
	m.Reference = ReferenceTarget

	return m, c.sink.PublishOffset(ctx, m)
}

// MeasurePoint measures a single point and publishes it as a position with no rotation.
func (c *Controller) MeasurePoint(ctx context.Context, collection, group, target string) (Measurement, error) {
	client, err := c.enabledClient()
	if err != nil {
		return Measurement{}, err
	}

	point, err := client.MeasureSinglePoint(ctx, collection, group, target)
	if err != nil {
		return Measurement{}, err
	}

	m := newMeasurement(KindPosition, target, t2sa.Offset{
		DX:        point.Position.X,
		DY:        point.Position.Y,
		DZ:        point.Position.Z,
		Timestamp: point.Timestamp,
	})

	return m, c.sink.PublishPosition(ctx, m)
}

// PointDelta returns the offset between two measured points.
func (c *Controller) PointDelta(ctx context.Context, collectionA, groupA, pointA, collectionB, groupB, pointB string) (t2sa.SinglePoint, error) {
	client, err := c.enabledClient()
	if err != nil {
		return t2sa.SinglePoint{}, err
	}

	delta, err := client.PointDelta(ctx, collectionA, groupA, pointA, collectionB, groupB, pointB)
	if err != nil {
		return t2sa.SinglePoint{}, err
	}
	c.logger.Info("point delta", "name", delta.Name,
		"x", delta.Position.X, "y", delta.Position.Y, "z", delta.Position.Z)

	return delta, nil
}

// LaserPower turns the laser off when power is 0 and on otherwise.
func (c *Controller) LaserPower(ctx context.Context, power int) error {
	client, err := c.enabledClient()
	if err != nil {
		return err
	}

	if power == 0 {
		_, err = client.LaserOff(ctx)
	} else {
		_, err = client.LaserOn(ctx)
	}

	return err
}

// PowerOff is refused. Powering the tracker off requires a manual restart.
func (c *Controller) PowerOff(_ context.Context) error {
	if _, err := c.enabledClient(); err != nil {
		return err
	}

	return fmt.Errorf("%w: powering off the T2SA controller", ErrUnsupported)
}

// HealthCheck runs a two-face check and then a drift check on every configured target.
func (c *Controller) HealthCheck(ctx context.Context) error {
	client, err := c.enabledClient()
	if err != nil {
		return err
	}

	c.logger.Info("running health check")
	for _, target := range c.cfg.Targets {
		c.logger.Debug("running two face check", "target", target)
		if _, err := client.TwoFaceCheck(ctx, target); err != nil {
			return err
		}
		c.logger.Debug("measuring drift", "target", target)
		if _, err := client.MeasureDrift(ctx, target); err != nil {
			return err
		}
	}

	return client.WaitReady(ctx)
}

// Halt stops any measurement plan in progress.
func (c *Controller) Halt(ctx context.Context) error {
	return c.run(ctx, func(client *t2sa.Client) (string, error) { return client.Halt(ctx) })
}

// SetReferenceGroup sets the point group measurements are made against.
func (c *Controller) SetReferenceGroup(ctx context.Context, group string) error {
	err := c.run(ctx, func(client *t2sa.Client) (string, error) { return client.SetReferenceGroup(ctx, group) })
	if err == nil {
		c.logger.Info("new reference group", "group", group)
	}

	return err
}

func (c *Controller) SetWorkingFrame(ctx context.Context, frame string) error {
	return c.run(ctx, func(client *t2sa.Client) (string, error) { return client.SetWorkingFrame(ctx, frame) })
}

// LoadSATemplateFile loads a SpatialAnalyzer template file.
func (c *Controller) LoadSATemplateFile(ctx context.Context, path string) error {
	return c.run(ctx, func(client *t2sa.Client) (string, error) { return client.LoadTemplateFile(ctx, path) })
}

// MeasureDrift runs a drift check on group.
func (c *Controller) MeasureDrift(ctx context.Context, group string) error {
	return c.run(ctx, func(client *t2sa.Client) (string, error) { return client.MeasureDrift(ctx, group) })
}

// ResetT2SA restarts T2SA and SpatialAnalyzer.
func (c *Controller) ResetT2SA(ctx context.Context) error {
	return c.run(ctx, func(client *t2sa.Client) (string, error) { return client.ResetT2SA(ctx) })
}

func (c *Controller) NewStation(ctx context.Context) error {
	return c.run(ctx, func(client *t2sa.Client) (string, error) { return client.NewStation(ctx) })
}

func (c *Controller) SaveJobFile(ctx context.Context, path string) error {
	return c.run(ctx, func(client *t2sa.Client) (string, error) { return client.SaveJobFile(ctx, path) })
}

// InTolerance reports whether a measurement is within the alignment tolerances.
func (c *Controller) InTolerance(Measurement) (bool, error) {
	return false, ErrNotImplemented
}

func (c *Controller) run(ctx context.Context, fn func(*t2sa.Client) (string, error)) error {
	client, err := c.enabledClient()
	if err != nil {
		return err
	}
	_, err = fn(client)

	return err
}

// setTelescopePosition publishes the telescope pose, rounded to 0.01 degree, to the tracker.
func (c *Controller) setTelescopePosition(ctx context.Context, client *t2sa.Client) (TelescopePosition, error) {
	pose, err := c.telescope(ctx)
	if err != nil {
		c.logger.Warn("can't determine telescope position, using default", "error", err)
		pose = c.cfg.DefaultPosition
	}
	pose = TelescopePosition{
		Elevation: round2(pose.Elevation),
		Azimuth:   round2(pose.Azimuth),
		Rotator:   round2(pose.Rotator),
	}

	_, err = client.SetTelescopePosition(ctx, pose.Elevation, pose.Azimuth, pose.Rotator)

	return pose, err
}

// targetFrameName is the SpatialAnalyzer frame a measurement of target is stored under.
func (c *Controller) targetFrameName(target string, pose TelescopePosition) string {
	suffix := fmt.Sprintf("%s_%.2f_%.2f_%.2f%d", target, pose.Elevation, pose.Azimuth, pose.Rotator, c.cfg.GroupIndex)

	return "Meas_" + suffix + "::Frame" + suffix
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
