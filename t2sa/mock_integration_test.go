package t2sa_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-t2sa/logger"
	"github.com/arloliu/go-t2sa/mocktracker"
	"github.com/arloliu/go-t2sa/t2sa"
)

const mockMeasurementDuration = 300 * time.Millisecond

func startMock(t *testing.T, opts ...mocktracker.ServerOption) *mocktracker.Server {
	t.Helper()
	require := require.New(t)

	opts = append([]mocktracker.ServerOption{
		mocktracker.WithMeasurementDuration(mockMeasurementDuration),
		mocktracker.WithWarmupDuration(100 * time.Millisecond),
		mocktracker.WithHaltDelay(10 * time.Millisecond),
		mocktracker.WithRandSeed(1),
		mocktracker.WithLogger(logger.NewSlog(logger.WarnLevel, false)),
	}, opts...)

	cfg, err := mocktracker.NewServerConfig(opts...)
	require.NoError(err)
	srv, err := mocktracker.NewServer(cfg)
	require.NoError(err)
	require.NoError(srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Stop() })

	return srv
}

func connectMock(t *testing.T, srv *mocktracker.Server, opts ...t2sa.ClientOption) *t2sa.Client {
	t.Helper()
	require := require.New(t)

	opts = append([]t2sa.ClientOption{
		t2sa.WithLogger(logger.NewSlog(logger.WarnLevel, false)),
		t2sa.WithReadTimeout(2 * time.Second),
		t2sa.WithReadyPollInterval(20 * time.Millisecond),
		t2sa.WithReadySettleDelay(0),
		t2sa.WithInitSettleDelay(20 * time.Millisecond),
		t2sa.WithReadyTimeout(5 * time.Second),
	}, opts...)

	cfg, err := t2sa.NewClientConfig("127.0.0.1", srv.Port(), opts...)
	require.NoError(err)
	client, err := t2sa.NewClient(cfg)
	require.NoError(err)
	require.NoError(client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	return client
}

func TestMock_LaserLifecycle(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv := startMock(t)
	client := connectMock(t, srv, t2sa.WithSimulationMode(true))

	reading, err := client.LaserStatus(ctx)
	require.NoError(err)
	require.Equal(t2sa.LaserOff, reading.Status)

	_, err = client.MeasureTarget(ctx, "M1M3")
	require.True(t2sa.IsDeviceError(err, t2sa.CodeInstrumentNotReady))

	_, err = client.LaserOn(ctx)
	require.NoError(err)

	reading, err = client.LaserStatus(ctx)
	require.NoError(err)
	require.Equal(t2sa.LaserWarming, reading.Status)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(srv.WaitLaserOn(waitCtx))

	reading, err = client.LaserStatus(ctx)
	require.NoError(err)
	require.Equal(t2sa.LaserOn, reading.Status)

	_, err = client.TrackerOff(ctx)
	require.NoError(err)
	reading, err = client.LaserStatus(ctx)
	require.NoError(err)
	require.Equal(t2sa.LaserNotConnected, reading.Status)
}

func TestMock_MeasureWaitsForReady(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv := startMock(t, mocktracker.WithLaserOn())
	client := connectMock(t, srv)

	body, err := client.MeasureTarget(ctx, "M1M3")
	require.NoError(err)
	require.Equal("ACK300", body)

	status, err := client.Status(ctx)
	require.NoError(err)
	require.Equal(t2sa.StatusMeasuring, status)

	// position queries do not wait and are rejected while measuring
	_, err = client.TargetPosition(ctx, "M1M3")
	require.True(t2sa.IsDeviceError(err, t2sa.CodeCommandRejectedBusy))

	// a second measurement waits for the first instead of getting ACK000
	start := time.Now()
	body, err = client.MeasureTarget(ctx, "CAM")
	require.NoError(err)
	require.Equal("ACK300", body)
	require.Greater(time.Since(start), mockMeasurementDuration/2)

	require.NoError(client.WaitReady(ctx))

	pos, err := client.TargetPosition(ctx, "CAM")
	require.NoError(err)
	require.Equal("FRAMEM1M3", pos.Reference)

	placement, _ := srv.Placement("CAM")
	reference, _ := srv.Placement("M1M3")
	require.InDelta((placement.Origin.Z-reference.Origin.Z)*1e3, pos.DZ, 1e-9)
}

func TestMock_AlignmentOffset(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv := startMock(t, mocktracker.WithLaserOn(), mocktracker.WithAutoCorrect(true))
	client := connectMock(t, srv)

	first, err := client.TargetOffset(ctx, "M1M3", "M2")
	require.NoError(err)

	second, err := client.TargetOffset(ctx, "M1M3", "M2")
	require.NoError(err)

	require.InDelta(first.DX/2, second.DX, 1e-9)
	require.InDelta(first.DY/2, second.DY, 1e-9)
	require.InDelta(first.DZ/2, second.DZ, 1e-9)
}

func TestMock_HaltAndErrors(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()

	srv := startMock(t, mocktracker.WithLaserOn(), mocktracker.WithMeasurementDuration(10*time.Second))
	client := connectMock(t, srv)

	_, err := client.TwoFaceCheck(ctx, "M2")
	require.NoError(err)
	require.Equal(t2sa.StatusTwoFace, srv.TrackerStatus())

	_, err = client.Halt(ctx)
	require.NoError(err)
	require.Equal(t2sa.StatusReady, srv.TrackerStatus())

	_, err = client.TargetPosition(ctx, "M2")
	require.True(t2sa.IsDeviceError(err, t2sa.CodeFailedPointGroupMeasurement))

	_, err = client.SetWorkingFrame(ctx, "FRAMEBOGUS")
	require.True(t2sa.IsDeviceError(err, t2sa.CodeWorkingFrameNotFound))

	_, err = client.LoadTemplateFile(ctx, `C:\templates\align.txt`)
	require.True(t2sa.IsDeviceError(err, t2sa.CodeSATemplateFileNotFound))

	_, err = client.SaveJobFile(ctx, `C:\jobs\today.emp`)
	require.NoError(err)

	point, err := client.MeasureSinglePoint(ctx, "A", "M2", "M2_P2")
	require.NoError(err)
	require.True(point.Valid)

	delta, err := client.PointDelta(ctx, "A", "M2", "M2_P1", "A", "M2", "M2_P2")
	require.NoError(err)
	require.False(delta.Valid)
}
