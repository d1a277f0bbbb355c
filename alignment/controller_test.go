package alignment

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-t2sa/logger"
	"github.com/arloliu/go-t2sa/mocktracker"
	"github.com/arloliu/go-t2sa/t2sa"
)

type recordingSink struct {
	mu        sync.Mutex
	positions []Measurement
	offsets   []Measurement
	statuses  []t2sa.TrackerStatus
	lasers    []t2sa.LaserStatus
}

func (s *recordingSink) PublishPosition(_ context.Context, m Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, m)

	return nil
}

func (s *recordingSink) PublishOffset(_ context.Context, m Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets = append(s.offsets, m)

	return nil
}

func (s *recordingSink) PublishT2SAStatus(_ context.Context, status t2sa.TrackerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)

	return nil
}

func (s *recordingSink) PublishLaserStatus(_ context.Context, status t2sa.LaserStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lasers = append(s.lasers, status)

	return nil
}

func (s *recordingSink) telemetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.lasers)
}

func (s *recordingSink) lastLaser() t2sa.LaserStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.lasers) == 0 {
		return t2sa.LaserUnknown
	}

	return s.lasers[len(s.lasers)-1]
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *recordingSink) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.SimulationMode = SimulationMock
	cfg.ReadTimeout = 2 * time.Second
	cfg.TelemetryInterval = 50 * time.Millisecond

	sink := &recordingSink{}
	opts = append([]Option{
		WithLogger(logger.NewSlog(testLogLevel, false)),
		WithEventSink(sink),
		WithMockOptions(
			mocktracker.WithMeasurementDuration(100*time.Millisecond),
			mocktracker.WithWarmupDuration(50*time.Millisecond),
			mocktracker.WithHaltDelay(10*time.Millisecond),
			mocktracker.WithLaserOn(),
			mocktracker.WithRandSeed(7),
		),
		WithClientOptions(
			t2sa.WithReadyPollInterval(20*time.Millisecond),
			t2sa.WithReadySettleDelay(0),
			t2sa.WithInitSettleDelay(20*time.Millisecond),
			t2sa.WithReadyTimeout(5*time.Second),
		),
	}, opts...)

	ctrl, err := NewController(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.HandleSummaryState(context.Background(), StateStandby) })

	return ctrl, sink
}

func enable(t *testing.T, ctrl *Controller) *mocktracker.Server {
	t.Helper()

	require.NoError(t, ctrl.HandleSummaryState(context.Background(), StateEnabled))
	mock := ctrl.MockTracker()
	require.NotNil(t, mock)

	return mock
}

func TestNewController_Options(t *testing.T) {
	require := require.New(t)

	_, err := NewController(nil)
	require.ErrorIs(err, ErrConfigNil)

	_, err = NewController(DefaultConfig(), WithLogger(nil))
	require.EqualError(err, "logger is nil")

	_, err = NewController(DefaultConfig(), WithEventSink(nil))
	require.EqualError(err, "event sink is nil")

	_, err = NewController(DefaultConfig(), WithTelescopePosition(nil))
	require.EqualError(err, "telescope position func is nil")

	ctrl, err := NewController(DefaultConfig())
	require.NoError(err)
	require.Equal(StateStandby, ctrl.State())
	require.Nil(ctrl.MockTracker())
}

func TestController_CommandsRequireEnabled(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	ctrl, sink := newTestController(t)

	_, err := ctrl.MeasureTarget(ctx, "M2")
	require.ErrorIs(err, ErrNotEnabled)

	require.NoError(ctrl.HandleSummaryState(ctx, StateDisabled))
	require.Equal(StateDisabled, ctrl.State())

	// telemetry runs while disabled
	require.Eventually(func() bool { return sink.telemetryCount() >= 2 }, 2*time.Second, 10*time.Millisecond)

	_, err = ctrl.Align(ctx, "M2")
	require.ErrorIs(err, ErrNotEnabled)
	require.ErrorIs(ctrl.Halt(ctx), ErrNotEnabled)
	require.ErrorIs(ctrl.LaserPower(ctx, 1), ErrNotEnabled)
	require.ErrorIs(ctrl.PowerOff(ctx), ErrNotEnabled)
	require.ErrorIs(ctrl.HealthCheck(ctx), ErrNotEnabled)
	require.ErrorIs(ctrl.SetReferenceGroup(ctx, "M2"), ErrNotEnabled)
}

func TestController_Lifecycle(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	ctrl, sink := newTestController(t)
	mock := enable(t, ctrl)
	require.Equal(StateEnabled, ctrl.State())

	// configuration is pushed on connect
	settings := mock.Settings()
	require.Equal(1, settings.NumIterations)
	require.Equal(1, settings.NumSamples)
	require.Equal([2]float64{0.05, 0.1}, settings.LSTolerance)
	require.Equal([2]float64{0.05, 0.1}, settings.DriftTolerance)
	require.Equal([3]float64{0.001, 0.001, 0.01}, settings.TwoFaceTolerance)

	require.Eventually(func() bool { return sink.lastLaser() == t2sa.LaserOn }, 2*time.Second, 10*time.Millisecond)

	// re-entering an active state keeps the same mock
	require.NoError(ctrl.HandleSummaryState(ctx, StateDisabled))
	require.Same(mock, ctrl.MockTracker())

	require.NoError(ctrl.HandleSummaryState(ctx, StateStandby))
	require.Equal(StateStandby, ctrl.State())
	require.Nil(ctrl.MockTracker())

	// telemetry stops with the connection
	count := sink.telemetryCount()
	time.Sleep(150 * time.Millisecond)
	require.Equal(count, sink.telemetryCount())
}

func TestController_StartFailureFaults(t *testing.T) {
	require := require.New(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(ln.Close())

	cfg := DefaultConfig()
	cfg.Port = port
	ctrl, err := NewController(cfg, WithLogger(logger.NewSlog(testLogLevel, false)),
		WithClientOptions(t2sa.WithConnectTimeout(time.Second)))
	require.NoError(err)

	err = ctrl.HandleSummaryState(context.Background(), StateEnabled)
	var connErr *t2sa.ConnError
	require.ErrorAs(err, &connErr)
	require.Equal(StateFault, ctrl.State())
}

func TestController_MeasureTarget(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	ctrl, sink := newTestController(t, WithTelescopePosition(func(context.Context) (TelescopePosition, error) {
		return TelescopePosition{Elevation: 45.126, Azimuth: 10.5, Rotator: -3.333}, nil
	}))
	mock := enable(t, ctrl)

	_, err := ctrl.MeasureTarget(ctx, "TMA_UPPER")
	require.ErrorIs(err, ErrUnknownTarget)

	m, err := ctrl.MeasureTarget(ctx, "M2")
	require.NoError(err)
	require.Equal(KindPosition, m.Kind)
	require.Equal("M2", m.Target)
	require.Equal("FRAMEM1M3", m.Reference)

	require.Equal([3]float64{45.13, 10.5, -3.33}, mock.Settings().AltAzRot)

	m2, _ := mock.Placement("M2")
	m1m3, _ := mock.Placement("M1M3")
	require.InDelta((m2.Origin.X-m1m3.Origin.X)*1e3, m.DX, 1e-6)
	require.InDelta((m2.Origin.Z-m1m3.Origin.Z)*1e3, m.DZ, 1e-6)

	last, ok := ctrl.LastMeasurement()
	require.True(ok)
	require.Equal(m.ID, last.ID)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(sink.positions, 1)
	require.Equal(m.ID, sink.positions[0].ID)
}

func TestController_TelescopePositionFallback(t *testing.T) {
	require := require.New(t)

	ctrl, _ := newTestController(t, WithTelescopePosition(func(context.Context) (TelescopePosition, error) {
		return TelescopePosition{}, errors.New("mount telemetry unavailable")
	}))
	mock := enable(t, ctrl)

	_, err := ctrl.MeasureTarget(context.Background(), "CAM")
	require.NoError(err)
	require.Equal([3]float64{60, 0, 0}, mock.Settings().AltAzRot)
}

func TestController_TargetFrameName(t *testing.T) {
	ctrl, _ := newTestController(t)

	name := ctrl.targetFrameName("CAM", TelescopePosition{Elevation: 60, Azimuth: 1.5, Rotator: -2})
	require.Equal(t, "Meas_CAM_60.00_1.50_-2.001::FrameCAM_60.00_1.50_-2.001", name)
}

func TestController_Align(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	ctrl, sink := newTestController(t)
	mock := enable(t, ctrl)

	m, err := ctrl.Align(ctx, "M2")
	require.NoError(err)
	require.Equal(KindOffset, m.Kind)
	require.Equal("M2", m.Target)
	require.Equal(ReferenceTarget, m.Reference)

	cur, _ := mock.Placement("M2")
	ref, _ := mock.Placement("M1M3")
	nomCur, _ := mock.Nominal("M2")
	nomRef, _ := mock.Nominal("M1M3")
	expected := ((cur.Origin.Y - ref.Origin.Y) - (nomCur.Origin.Y - nomRef.Origin.Y)) * 1e3
	require.InDelta(expected, m.DY, 1e-6)

	// the reference target aligned against itself has no offset
	self, err := ctrl.Align(ctx, ReferenceTarget)
	require.NoError(err)
	require.InDelta(0, self.DX, 1e-9)
	require.InDelta(0, self.DRZ, 1e-9)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(sink.offsets, 2)
	require.Empty(sink.positions)
}

func TestController_Points(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	ctrl, sink := newTestController(t)
	mock := enable(t, ctrl)

	m, err := ctrl.MeasurePoint(ctx, "A", "M2", "M2_P1")
	require.NoError(err)
	require.Equal("M2_P1", m.Target)
	require.Zero(m.DRX)
	require.Zero(m.DRY)
	require.Zero(m.DRZ)

	placement, _ := mock.Placement("M2")
	fid, err := placement.Fiducial(0)
	require.NoError(err)
	require.InDelta(fid.X*1e3, m.DX, 1e-6)

	delta, err := ctrl.PointDelta(ctx, "A", "M2", "M2_P1", "A", "M2", "M2_P2")
	require.NoError(err)
	require.Equal("M2_P1-M2_P2", delta.Name)

	_, err = ctrl.MeasurePoint(ctx, "A", "M2", "CAM_P1")
	require.True(t2sa.IsDeviceError(err, t2sa.CodeDidFindOrSetPointGroupAndTargetName))

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(sink.positions, 1)
}

func TestController_Commands(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	ctrl, sink := newTestController(t)
	mock := enable(t, ctrl)

	require.NoError(ctrl.SetReferenceGroup(ctx, "M2"))
	require.NoError(ctrl.SetWorkingFrame(ctx, "FRAMEM2"))
	require.NoError(ctrl.LoadSATemplateFile(ctx, "alignment.xit64"))
	require.NoError(ctrl.SaveJobFile(ctx, `C:\jobs\alignment.xit`))
	require.NoError(ctrl.ResetT2SA(ctx))
	require.NoError(ctrl.NewStation(ctx))

	settings := mock.Settings()
	require.Equal("M2", settings.ReferenceGroup)
	require.Equal("FRAMEM2", settings.WorkingFrame)
	require.Equal("alignment.xit64", settings.TemplateFile)
	require.Equal(`C:\jobs\alignment.xit`, settings.JobFile)

	err := ctrl.SetReferenceGroup(ctx, "TMA")
	require.True(t2sa.IsDeviceError(err, t2sa.CodeRefGroupNotFoundInTemplateFile))

	require.NoError(ctrl.HealthCheck(ctx))
	require.NoError(ctrl.MeasureDrift(ctx, "M1M3"))
	require.NoError(ctrl.Halt(ctx))
	require.Equal(t2sa.StatusReady, mock.TrackerStatus())

	err = ctrl.PowerOff(ctx)
	require.ErrorIs(err, ErrUnsupported)
	require.True(strings.Contains(err.Error(), "powering off"))

	_, err = ctrl.InTolerance(Measurement{})
	require.ErrorIs(err, ErrNotImplemented)

	require.NoError(ctrl.LaserPower(ctx, 0))
	require.Equal(t2sa.LaserOff, mock.LaserStatus())
	require.Eventually(func() bool { return sink.lastLaser() == t2sa.LaserOff }, 2*time.Second, 10*time.Millisecond)

	require.NoError(ctrl.LaserPower(ctx, 1))
	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(mock.WaitLaserOn(waitCtx))
}

func TestMultiSink(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	a, b := &recordingSink{}, &recordingSink{}
	sink := MultiSink{a, NewLogSink(logger.NewSlog(testLogLevel, false)), b}

	m := newMeasurement(KindPosition, "CAM", t2sa.Offset{Reference: "FRAMEM1M3", DX: 1})
	require.NoError(sink.PublishPosition(ctx, m))
	require.NoError(sink.PublishOffset(ctx, m))
	require.NoError(sink.PublishT2SAStatus(ctx, t2sa.StatusReady))
	require.NoError(sink.PublishLaserStatus(ctx, t2sa.LaserOn))

	for _, s := range []*recordingSink{a, b} {
		require.Len(s.positions, 1)
		require.Len(s.offsets, 1)
		require.Equal([]t2sa.TrackerStatus{t2sa.StatusReady}, s.statuses)
		require.Equal(t2sa.LaserOn, s.lastLaser())
	}
	require.False(m.MeasuredAt.IsZero())
}

func TestLogSink(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	l := logger.NewMockLogger()
	m := newMeasurement(KindOffset, "M2", t2sa.Offset{Reference: "FRAMEM1M3", DZ: 0.5})
	l.On("Info", "offset", measurementAttrs(m)).Once()
	l.On("Debug", "laser status", []any{"status", "WARMING"}).Once()

	sink := NewLogSink(l)
	require.NoError(sink.PublishOffset(ctx, m))
	require.NoError(sink.PublishLaserStatus(ctx, t2sa.LaserWarming))

	l.AssertExpectations(t)
}
