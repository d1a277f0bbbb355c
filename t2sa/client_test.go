package t2sa

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-t2sa/logger"
)

const (
	// noReply keeps the connection open without answering.
	noReply = "<silent>"
	// hangUp closes the connection instead of answering.
	hangUp = "<close>"
)

// lineServer answers every received command line with handle(line).
type lineServer struct {
	ln     net.Listener
	handle func(line string) string

	mu       sync.Mutex
	conns    []net.Conn
	received []string

	wg sync.WaitGroup
}

func newLineServer(t *testing.T, handle func(line string) string) *lineServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &lineServer{ln: ln, handle: handle}
	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(func() {
		_ = ln.Close()
		s.mu.Lock()
		for _, conn := range s.conns {
			_ = conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})

	return s
}

func (s *lineServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *lineServer) lines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.received...)
}

func (s *lineServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *lineServer) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		line = strings.TrimRight(line, "\r\n")
		s.mu.Lock()
		s.received = append(s.received, line)
		s.mu.Unlock()

		switch reply := s.handle(line); reply {
		case noReply:
		case hangUp:
			return
		default:
			if _, err := io.WriteString(conn, reply+"\r\n"); err != nil {
				return
			}
		}
	}
}

func newTestClient(t *testing.T, port int, opts ...ClientOption) *Client {
	t.Helper()
	require := require.New(t)

	opts = append([]ClientOption{
		WithLogger(logger.NewSlog(testLogLevel, false)),
		WithReadTimeout(2 * time.Second),
		WithReadyPollInterval(time.Millisecond),
		WithInitSettleDelay(time.Millisecond),
		WithReadySettleDelay(0),
	}, opts...)

	cfg, err := NewClientConfig("127.0.0.1", port, opts...)
	require.NoError(err)

	client, err := NewClient(cfg)
	require.NoError(err)
	require.NoError(client.Connect(context.Background()))
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	return client
}

func TestClient_NotConnected(t *testing.T) {
	require := require.New(t)

	_, err := NewClient(nil)
	require.ErrorIs(err, ErrClientConfigNil)

	cfg, err := NewClientConfig("127.0.0.1", 1, WithConnectTimeout(100*time.Millisecond))
	require.NoError(err)
	client, err := NewClient(cfg)
	require.NoError(err)

	ctx := context.Background()
	_, err = client.Send(ctx, StatusCmd())
	require.ErrorIs(err, ErrNotConnected)
	_, err = client.Status(ctx)
	require.ErrorIs(err, ErrNotConnected)
	require.ErrorIs(client.WaitReady(ctx), ErrNotConnected)
	require.NoError(client.Disconnect(ctx))

	// nothing listens on port 1
	err = client.Connect(ctx)
	require.Error(err)
	require.True(IsRetryable(err))
	require.Equal(Disconnected, client.State())
}

func TestClient_ConnectTwice(t *testing.T) {
	require := require.New(t)

	srv := newLineServer(t, func(string) string { return "ACK-300 READY" })
	client := newTestClient(t, srv.port())

	require.True(client.IsConnected())
	require.ErrorIs(client.Connect(context.Background()), ErrAlreadyConnected)
	require.Equal(uint64(1), client.Metrics().ConnectCount.Load())
}

func TestClient_ConcurrentSendsKeepPairing(t *testing.T) {
	require := require.New(t)

	rng := rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	var rngMu sync.Mutex

	srv := newLineServer(t, func(line string) string {
		rngMu.Lock()
		delay := time.Duration(rng.Intn(3)) * time.Millisecond
		rngMu.Unlock()
		time.Sleep(delay)

		return "ACK-300 " + line
	})
	client := newTestClient(t, srv.port())

	const numCallers = 50
	var wg sync.WaitGroup
	errs := make(chan error, numCallers)

	for i := range numCallers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			cmd := NewCommand("ECHO", ':', strconv.Itoa(i))
			body, err := client.Send(context.Background(), cmd)
			if err != nil {
				errs <- err
				return
			}
			if body != cmd.String() {
				errs <- errors.New("reply " + body + " paired with " + cmd.String())
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(err)
	}

	require.Len(srv.lines(), numCallers)
	require.Equal(uint64(numCallers), client.Metrics().AckCount.Load())
	require.Zero(client.Metrics().InflightGauge.Load())
}

func TestClient_ReadTimeout(t *testing.T) {
	require := require.New(t)

	srv := newLineServer(t, func(line string) string {
		if line == "SILENT" {
			return noReply
		}

		return "ACK-300 READY"
	})
	client := newTestClient(t, srv.port(), WithReadTimeout(100*time.Millisecond))

	start := time.Now()
	_, err := client.Send(context.Background(), NewCommand("SILENT", ':'))
	require.Error(err)
	require.Less(time.Since(start), time.Second)

	var connErr *ConnError
	require.True(errors.As(err, &connErr))
	require.Equal("read", connErr.Op)
	require.ErrorIs(err, ErrReadTimeout)
	require.True(IsRetryable(err))

	// a timeout is a connection fault: the caller must reconnect
	require.False(client.IsConnected())
	_, err = client.Send(context.Background(), StatusCmd())
	require.ErrorIs(err, ErrNotConnected)

	require.NoError(client.Connect(context.Background()))
	status, err := client.Status(context.Background())
	require.NoError(err)
	require.Equal(StatusReady, status)
}

func TestClient_ContextDeadlineDuringRead(t *testing.T) {
	require := require.New(t)

	srv := newLineServer(t, func(string) string { return noReply })
	client := newTestClient(t, srv.port(), WithReadTimeout(10*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Send(ctx, StatusCmd())
	require.ErrorIs(err, context.DeadlineExceeded)
	require.True(IsRetryable(err))
	require.False(client.IsConnected())
}

func TestClient_ContextCancelDuringRead(t *testing.T) {
	require := require.New(t)

	srv := newLineServer(t, func(string) string { return noReply })
	client := newTestClient(t, srv.port(), WithReadTimeout(10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := client.Send(ctx, StatusCmd())
	require.ErrorIs(err, context.Canceled)
	require.False(client.IsConnected())
}

func TestClient_PeerClosed(t *testing.T) {
	require := require.New(t)

	srv := newLineServer(t, func(string) string { return hangUp })
	client := newTestClient(t, srv.port())

	_, err := client.Send(context.Background(), StatusCmd())
	require.ErrorIs(err, ErrDisconnected)
	require.True(IsRetryable(err))
	require.False(client.IsConnected())
	require.Equal(uint64(1), client.Metrics().ConnErrCount.Load())
}

func TestClient_DeviceError(t *testing.T) {
	require := require.New(t)

	srv := newLineServer(t, func(line string) string {
		if line == VerbSetReferenceGroup+":NOPE" {
			return "ERR-313 Reference group not found"
		}

		return "ACK-300 ACK300"
	})
	client := newTestClient(t, srv.port())

	_, err := client.SetReferenceGroup(context.Background(), "NOPE")
	require.Error(err)

	var devErr *DeviceError
	require.True(errors.As(err, &devErr))
	require.Equal(CodeRefGroupNotFoundInTemplateFile, devErr.Code)
	require.Equal("Reference group not found", devErr.Message)
	require.Equal("!SET_REFERENCE_GROUP:NOPE", devErr.Command)
	require.False(IsRetryable(err))

	// device errors leave the connection usable
	require.True(client.IsConnected())
	body, err := client.SetReferenceGroup(context.Background(), "M1M3")
	require.NoError(err)
	require.Equal("ACK300", body)
}

func TestClient_ProtocolErrors(t *testing.T) {
	require := require.New(t)

	srv := newLineServer(t, func(line string) string {
		switch {
		case line == "GARBAGE":
			return "what?"
		case line == "BARE":
			return "EMP"
		case strings.HasPrefix(line, VerbPosition):
			return "ACK-300 RefFrame:FRAMEM1M3;X:1;Y:2"
		default:
			return "ACK-300 READY"
		}
	})
	client := newTestClient(t, srv.port())
	ctx := context.Background()

	_, err := client.Send(ctx, NewCommand("GARBAGE", ':'))
	require.ErrorIs(err, ErrMalformedReply)
	var protoErr *ProtocolError
	require.True(errors.As(err, &protoErr))
	require.Equal("what?", protoErr.Reply)

	_, err = client.Send(ctx, NewCommand("BARE", ':'))
	require.ErrorIs(err, ErrUnexpectedStatus)

	_, err = client.TargetPosition(ctx, "M1M3")
	var parseErr *ParseError
	require.True(errors.As(err, &parseErr))
	require.Equal("offset", parseErr.Grammar)

	require.True(client.IsConnected())
	require.Equal(uint64(3), client.Metrics().ProtocolErrCount.Load())

	// bare status tokens are legal replies to the status query
	status, err := client.Status(ctx)
	require.NoError(err)
	require.Equal(StatusReady, status)
}

func TestClient_ReplyTooLong(t *testing.T) {
	require := require.New(t)

	atLimit := "ACK-300 " + strings.Repeat("a", MaxReplyLength-len("ACK-300 ")-2)
	srv := newLineServer(t, func(line string) string {
		if line == "LONG" {
			return "ACK-300 " + strings.Repeat("a", MaxReplyLength)
		}

		return atLimit
	})
	client := newTestClient(t, srv.port())
	ctx := context.Background()

	body, err := client.Send(ctx, NewCommand("FIT", ':'))
	require.NoError(err)
	require.Len(body, MaxReplyLength-len("ACK-300 ")-2)

	_, err = client.Send(ctx, NewCommand("LONG", ':'))
	require.ErrorIs(err, ErrReplyTooLong)

	var protoErr *ProtocolError
	require.True(errors.As(err, &protoErr))
	require.Equal("LONG", protoErr.Command)
	require.False(IsRetryable(err))

	require.False(client.IsConnected())
	require.Equal(uint64(1), client.Metrics().ProtocolErrCount.Load())
}

func TestClient_InvalidArgument(t *testing.T) {
	require := require.New(t)

	srv := newLineServer(t, func(string) string { return "ACK-300 ACK300" })
	client := newTestClient(t, srv.port())

	_, err := client.TargetOffset(context.Background(), "M1M3;CAM", "M2")
	require.ErrorIs(err, ErrInvalidArgument)
	require.Empty(srv.lines(), "invalid commands never reach the wire")
}

func TestClient_Status(t *testing.T) {
	require := require.New(t)

	replies := []string{"EMP", "ERR-201 busy", "ERR-338 not ready", "INIT", "ACK-300 Instrument is connected", "ACK-300 WHATEVER"}
	want := []TrackerStatus{StatusMeasuring, StatusBusy, StatusBusy, StatusInit, StatusReady, StatusUnknown}

	var mu sync.Mutex
	idx := 0
	srv := newLineServer(t, func(string) string {
		mu.Lock()
		defer mu.Unlock()
		reply := replies[idx]
		idx++

		return reply
	})
	client := newTestClient(t, srv.port())

	for i := range replies {
		status, err := client.Status(context.Background())
		require.NoError(err, replies[i])
		require.Equal(want[i], status, replies[i])
	}
}

func TestClient_WaitReadySequence(t *testing.T) {
	require := require.New(t)

	statuses := []string{"INIT", "EMP", "ERR-201 busy", "2FACE", "ACK-300 READY"}

	var mu sync.Mutex
	polls := 0
	srv := newLineServer(t, func(line string) string {
		if line != VerbStatus {
			return "ACK-300 ACK300"
		}

		mu.Lock()
		defer mu.Unlock()
		reply := statuses[min(polls, len(statuses)-1)]
		polls++

		return reply
	})
	client := newTestClient(t, srv.port())

	body, err := client.MeasureTarget(context.Background(), "M1M3")
	require.NoError(err)
	require.Equal("ACK300", body)

	require.Equal([]string{"?STAT", "?STAT", "?STAT", "?STAT", "?STAT", "!CMDEXE:M1M3"}, srv.lines())
	require.Equal(uint64(5), client.Metrics().StatusPollCount.Load())
}

func TestClient_ReadinessCeiling(t *testing.T) {
	require := require.New(t)

	srv := newLineServer(t, func(string) string { return "EMP" })

	t.Run("Max Attempts", func(t *testing.T) {
		client := newTestClient(t, srv.port(), WithReadyMaxAttempts(3))

		_, err := client.MeasureTarget(context.Background(), "M1M3")
		require.ErrorIs(err, ErrReadinessTimeout)
		require.Equal(uint64(3), client.Metrics().StatusPollCount.Load())
		require.Equal(uint64(1), client.Metrics().ReadinessTimeoutCount.Load())

		// the connection is still usable
		require.True(client.IsConnected())
	})

	t.Run("Timeout", func(t *testing.T) {
		client := newTestClient(t, srv.port(), WithReadyTimeout(50*time.Millisecond), WithReadyPollInterval(5*time.Millisecond))

		start := time.Now()
		require.ErrorIs(client.WaitReady(context.Background()), ErrReadinessTimeout)
		require.Less(time.Since(start), time.Second)
	})

	t.Run("Context", func(t *testing.T) {
		client := newTestClient(t, srv.port(), WithReadyTimeout(0))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		require.ErrorIs(client.WaitReady(ctx), context.DeadlineExceeded)
	})
}

func TestClient_WaitReadyHoldsLock(t *testing.T) {
	require := require.New(t)

	var mu sync.Mutex
	polls := 0
	srv := newLineServer(t, func(line string) string {
		if line != VerbStatus {
			return "ACK-300 " + line
		}

		mu.Lock()
		defer mu.Unlock()
		polls++
		if polls < 10 {
			return "EMP"
		}

		return "ACK-300 READY"
	})
	client := newTestClient(t, srv.port(), WithReadyPollInterval(5*time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = client.MeasureTarget(context.Background(), "M1M3")
	}()

	// wait for the readiness loop to start, then race a second command against it
	require.Eventually(func() bool { return len(srv.lines()) > 0 }, time.Second, time.Millisecond)
	_, err := client.Send(context.Background(), NewCommand("OTHER", ':'))
	require.NoError(err)
	<-done

	lines := srv.lines()
	cmdIdx := -1
	otherIdx := -1
	for i, line := range lines {
		switch line {
		case "!CMDEXE:M1M3":
			cmdIdx = i
		case "OTHER":
			otherIdx = i
		}
	}

	// nothing can interleave between the polls and the measurement command
	require.Equal(cmdIdx+1, otherIdx)
	for _, line := range lines[:cmdIdx] {
		require.Equal(VerbStatus, line)
	}
}

func TestClient_LockNotHeld(t *testing.T) {
	require := require.New(t)

	srv := newLineServer(t, func(string) string { return "ACK-300 READY" })
	client := newTestClient(t, srv.port())

	_, err := client.exchange(context.Background(), StatusCmd())
	require.ErrorIs(err, ErrLockNotHeld)
	require.Empty(srv.lines())
}

func TestClient_SimulationMode(t *testing.T) {
	require := require.New(t)

	srv := newLineServer(t, func(string) string { return "ACK-300 ACK300" })
	client := newTestClient(t, srv.port(), WithSimulationMode(true))

	require.Equal([]string{"!SET_SIM:1"}, srv.lines())

	require.NoError(client.Disconnect(context.Background()))
	require.False(client.IsConnected())
	require.Equal([]string{"!SET_SIM:1", "!SET_SIM:0"}, srv.lines())
}

func TestClient_SimulationModeRejected(t *testing.T) {
	require := require.New(t)

	srv := newLineServer(t, func(string) string { return "ERR-337 simulation unavailable" })

	cfg, err := NewClientConfig("127.0.0.1", srv.port(),
		WithSimulationMode(true),
		WithLogger(logger.NewSlog(testLogLevel, false)),
	)
	require.NoError(err)
	client, err := NewClient(cfg)
	require.NoError(err)

	err = client.Connect(context.Background())
	require.True(IsDeviceError(err, CodeFailedToSetSim))
	require.False(client.IsConnected())
}

func TestClient_UpdateConfig(t *testing.T) {
	require := require.New(t)

	srv := newLineServer(t, func(string) string { return "ACK-300 READY" })
	client := newTestClient(t, srv.port())

	require.NoError(client.UpdateConfig(WithReadTimeout(time.Second), WithReadyMaxAttempts(5)))
	require.Equal(time.Second, client.cfg.ReadTimeout())
	require.Equal(5, client.cfg.ReadyMaxAttempts())

	require.ErrorIs(client.UpdateConfig(WithConnectTimeout(time.Second)), ErrOptionNotRuntime)
	require.Error(client.UpdateConfig(WithReadTimeout(0)))
}

func TestClient_TypedCommands(t *testing.T) {
	require := require.New(t)

	replies := map[string]string{
		"?LSTA":                           "ACK-300 WARM, 3.50 seconds",
		"!LST:1":                          "ACK-300 Tracker Interface Started: True",
		"?POS M1M3":                       "ACK-300 RefFrame:FRAMEM1M3;X:1;Y:2;Z:3;Rx:0.1;Ry:0.2;Rz:0.3;03/14/2024 22:05:31",
		"?OFFSET:M1M3;CAM":                "ACK-300 RefFrame:FRAMEM1M3;X:-1;Y:0;Z:0;Rx:0;Ry:0;Rz:0;03/14/2024 22:05:31",
		"?POINT_POS:A;CAM;CAM_P1":         "ACK-300 Measured single pt CAM_P1 result: X:1;Y:2;Z:3;03/14/2024 22:05:31 True",
		"!PUBLISH_ALT_AZ_ROT:45;180;-2.5": "ACK-300 ACK300",
	}
	srv := newLineServer(t, func(line string) string {
		if reply, ok := replies[line]; ok {
			return reply
		}

		return "ERR-200 Unsupported command '" + line + "'"
	})
	client := newTestClient(t, srv.port())
	ctx := context.Background()

	reading, err := client.LaserStatus(ctx)
	require.NoError(err)
	require.Equal(LaserReading{Status: LaserWarming, Warmup: 3500 * time.Millisecond}, reading)

	body, err := client.LaserOn(ctx)
	require.NoError(err)
	require.Equal("Tracker Interface Started: True", body)

	pos, err := client.TargetPosition(ctx, "M1M3")
	require.NoError(err)
	require.Equal("FRAMEM1M3", pos.Reference)
	require.Equal(3.0, pos.DZ)

	offset, err := client.TargetOffset(ctx, "M1M3", "CAM")
	require.NoError(err)
	require.Equal(-1.0, offset.DX)

	point, err := client.PointPosition(ctx, "A", "CAM", "CAM_P1")
	require.NoError(err)
	require.Equal(Point{X: 1, Y: 2, Z: 3}, point.Position)
	require.True(point.Valid)

	_, err = client.SetTelescopePosition(ctx, 45, 180, -2.5)
	require.NoError(err)

	_, err = client.ClearErrors(ctx)
	require.True(IsDeviceError(err, CodeCommandRejected))
}
