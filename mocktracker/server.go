package mocktracker

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-t2sa/geometry"
	"github.com/arloliu/go-t2sa/internal/task"
	"github.com/arloliu/go-t2sa/logger"
	"github.com/arloliu/go-t2sa/t2sa"
)

const (
	acceptPollInterval = 100 * time.Millisecond
	replyWriteTimeout  = 5 * time.Second
)

var (
	// ErrServerStarted is returned by Start when the server is already running.
	ErrServerStarted = errors.New("mock tracker already started")
	// ErrServerNotStarted is returned when an operation needs a running server.
	ErrServerNotStarted = errors.New("mock tracker not started")
)

// Server emulates the T2SA application on a TCP port.
//
// It serves one client at a time and answers every command line with one reply line.
// Measurements, warm-up and halts take wall-clock time, so clients see the same
// busy and status transitions as against the real application.
type Server struct {
	cfg     *ServerConfig
	logger  logger.Logger
	taskMgr *task.Manager
	groups  *pointGroups

	listenerMu sync.Mutex
	listener   net.Listener

	connMu    sync.Mutex
	conn      net.Conn
	connCount atomic.Int32

	started  atomic.Bool
	shutdown atomic.Bool

	mu    sync.Mutex // protects state
	state deviceState
}

type deviceState struct {
	// measuring is the status token of the running measurement; empty when idle.
	measuring     string
	measureSeq    uint64
	measureCancel context.CancelFunc
	// halted is set when a measurement was cancelled by !HALT and cleared by the next one.
	halted bool

	laser        t2sa.LaserStatus
	laserOnCh    chan struct{} // closed while laser is ON
	warmupStart  time.Time
	warmupSeq    uint64
	warmupCancel context.CancelFunc

	settings Settings

	startedAt time.Time
}

// NewServer creates a mock tracker from cfg. The server does not listen until Start is called.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, ErrServerConfigNil
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.logger.With("component", "mocktracker"),
		groups: newPointGroups(cfg.randSeed),
	}
	s.resetState()

	return s, nil
}

// Start binds the listen address and starts accepting clients.
func (s *Server) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerStarted
	}

	s.shutdown.Store(false)
	s.connCount.Store(0)
	s.taskMgr = task.NewManager(ctx, s.logger)
	s.resetState()

	address := net.JoinHostPort(s.cfg.host, strconv.Itoa(s.cfg.port))
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		s.logger.Error("failed to listen", "address", address, "error", err)
		s.started.Store(false)

		return err
	}

	s.listenerMu.Lock()
	s.listener = listener
	s.listenerMu.Unlock()

	s.logger.Info("mock tracker listening", "address", listener.Addr().String())

	if err := s.taskMgr.Start("acceptLoop", s.tryAcceptConn); err != nil {
		_ = s.closeListener()
		s.started.Store(false)

		return err
	}

	return nil
}

// Stop closes the listener and the client connection, cancels running timers,
// and waits for every goroutine of the server to finish.
func (s *Server) Stop() error {
	if !s.started.Load() {
		return ErrServerNotStarted
	}

	s.shutdown.Store(true)
	s.taskMgr.Stop()

	err := s.closeListener()
	s.closeConn()

	s.taskMgr.Wait()
	s.started.Store(false)

	s.logger.Info("mock tracker stopped")

	return err
}

// Addr returns the bound listen address, or an empty string before Start.
func (s *Server) Addr() string {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Port returns the bound TCP port, or 0 before Start.
func (s *Server) Port() int {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	if s.listener == nil {
		return 0
	}

	if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}

	return 0
}

// WaitLaserOn blocks until the laser is ON or ctx is done.
func (s *Server) WaitLaserOn(ctx context.Context) error {
	s.mu.Lock()
	ch := s.state.laserOnCh
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrackerStatus returns the status the server would report to ?STAT.
func (s *Server) TrackerStatus() t2sa.TrackerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status, _ := t2sa.ParseTrackerStatus(s.statusTokenLocked())

	return status
}

// LaserStatus returns the current laser power state.
func (s *Server) LaserStatus() t2sa.LaserStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.laser
}

// Settings returns a snapshot of the values stored by the setter commands.
func (s *Server) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.settings
}

// Placement returns the current rigid-body placement of the named point group.
func (s *Server) Placement(group string) (geometry.PointGroup, bool) {
	return s.groups.placement(group)
}

// Nominal returns the nominal rigid-body placement of the named point group.
func (s *Server) Nominal(group string) (geometry.PointGroup, bool) {
	return s.groups.nominal(group)
}

// Groups returns the names of the point groups known to the server, in lower case.
func (s *Server) Groups() []string {
	return s.groups.names()
}

// Settings holds the values stored by the setter commands.
type Settings struct {
	ReferenceGroup   string
	WorkingFrame     string
	StationLocked    bool
	PowerLocked      bool
	AltAzRot         [3]float64
	NumSamples       int
	NumIterations    int
	MeasIndex        int
	MeasProfile      string
	TwoFaceTolerance [3]float64
	DriftTolerance   [2]float64
	LSTolerance      [2]float64
	TemplateFile     string
	JobFile          string
	CompensationFile string
	ReportName       string
}

func (s *Server) resetState() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.measureCancel != nil {
		s.state.measureCancel()
	}
	if s.state.warmupCancel != nil {
		s.state.warmupCancel()
	}

	s.state = deviceState{
		laser:     t2sa.LaserOff,
		laserOnCh: make(chan struct{}),
		settings: Settings{
			ReferenceGroup: "M1M3",
			WorkingFrame:   "FRAMEM1M3",
			NumSamples:     1,
			NumIterations:  1,
		},
		startedAt: time.Now(),
	}

	if s.cfg.laserOn {
		s.setLaserLocked(t2sa.LaserOn)
	}
}

func (s *Server) tryAcceptConn(ctx context.Context) bool {
	tcpListener := s.getTCPListener()
	// listener already closed, skip
	if tcpListener == nil {
		return false
	}

	conn, err := tcpListener.Accept()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			select {
			case <-ctx.Done():
				s.logger.Debug("accept canceled by context", "method", "tryAcceptConn", "ctxError", ctx.Err())
				return false
			default:
				return true // re-accept if context is not done
			}
		}

		if !s.shutdown.Load() {
			s.logger.Error("failed to accept connection", "method", "tryAcceptConn", "error", err)
			return true
		}

		return false
	}

	if s.connCount.Load() > 0 {
		s.logger.Warn("client already connected, reject", "method", "tryAcceptConn", "remote_address", conn.RemoteAddr())
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			_ = tcpConn.SetLinger(0)
		}
		_ = conn.Close()

		return true
	}

	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.connCount.Add(1)

	s.logger.Info("client connected", "remote_address", conn.RemoteAddr())

	if err := s.taskMgr.Go("replyLoop", func(ctx context.Context) { s.serveConn(ctx, conn) }); err != nil {
		s.dropConn(conn)
		return false
	}

	return true
}

func (s *Server) getTCPListener() *net.TCPListener {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return nil
	}

	tcpListener, ok := s.listener.(*net.TCPListener)
	if !ok {
		s.logger.Error("failed to convert listener to TCPListener", "type", reflect.TypeOf(s.listener))
		return nil
	}

	if err := tcpListener.SetDeadline(time.Now().Add(acceptPollInterval)); err != nil {
		s.logger.Error("failed to set deadline for tcp listener", "error", err)
		return nil
	}

	return tcpListener
}

// serveConn answers command lines strictly in order until the client leaves or the server stops.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		s.dropConn(conn)
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Debug("read command failed", "error", err)
			}

			return
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		reply := s.handle(ctx, line)
		s.logger.Debug("command handled", "command", line, "reply", reply.String())

		if err := s.writeReply(conn, reply); err != nil {
			s.logger.Debug("write reply failed", "command", line, "error", err)
			return
		}
	}
}

func (s *Server) writeReply(conn net.Conn, reply t2sa.Reply) error {
	if err := conn.SetWriteDeadline(time.Now().Add(replyWriteTimeout)); err != nil {
		return err
	}

	_, err := io.WriteString(conn, reply.String()+"\r\n")

	return err
}

func (s *Server) dropConn(conn net.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != conn {
		return
	}

	_ = conn.Close()
	s.conn = nil
	s.connCount.Add(-1)
	s.logger.Info("client disconnected", "remote_address", conn.RemoteAddr())
}

func (s *Server) closeConn() {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	if conn != nil {
		s.dropConn(conn)
	}
}

func (s *Server) closeListener() error {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener != nil {
		err := s.listener.Close()
		s.listener = nil
		return err
	}

	return nil
}
