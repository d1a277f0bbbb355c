package t2sa

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-t2sa/internal/pool"
	"github.com/arloliu/go-t2sa/logger"
)

// MaxReplyLength is the longest reply line, CRLF included, the client accepts.
// A longer reply closes the connection and returns a *ProtocolError.
const MaxReplyLength = 4096

// Client is a T2SA protocol client.
//
// All exchanges with the tracker application go through a single communication
// lock, so at most one command is on the wire at any time. Commands that need an
// idle tracker poll ?STAT while still holding the lock.
//
// The client never retries. After a ConnError the connection is already closed and
// the caller must call Connect again.
type Client struct {
	cfg    *ClientConfig
	logger logger.Logger

	commLock chan struct{}
	lockHeld atomic.Bool

	connMu sync.Mutex
	conn   net.Conn
	reader *bufio.Reader

	state   atomicConnState
	metrics ClientMetrics
}

// NewClient creates a new, disconnected Client.
func NewClient(cfg *ClientConfig) (*Client, error) {
	if cfg == nil {
		return nil, ErrClientConfigNil
	}

	return &Client{
		cfg:      cfg,
		logger:   cfg.Logger().With("component", "t2sa-client", "addr", cfg.Addr()),
		commLock: make(chan struct{}, 1),
	}, nil
}

// Addr returns the address of the T2SA application.
func (c *Client) Addr() string {
	return c.cfg.Addr()
}

// IsConnected reports whether the client has a live connection.
func (c *Client) IsConnected() bool {
	return c.state.IsConnected()
}

// State returns the connection lifecycle state.
func (c *Client) State() ConnState {
	return c.state.Get()
}

// Metrics returns the client metrics.
func (c *Client) Metrics() *ClientMetrics {
	return &c.metrics
}

// UpdateConfig applies runtime options, such as timeouts and readiness bounds, to a live client.
func (c *Client) UpdateConfig(opts ...ClientOption) error {
	for _, opt := range opts {
		if !opt.isRuntime() {
			return fmt.Errorf("%v: %w", opt, ErrOptionNotRuntime)
		}
		if err := opt.apply(c.cfg); err != nil {
			return err
		}
	}

	return nil
}

// Connect dials the T2SA application. When the client is configured for
// simulation mode, the application is switched into it before Connect returns.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if !c.state.ToConnecting() {
		return ErrAlreadyConnected
	}

	c.logger.Debug("connecting", "timeout", c.cfg.ConnectTimeout())

	dialer := net.Dialer{Timeout: c.cfg.ConnectTimeout()}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr())
	if err != nil {
		c.state.Set(Disconnected)
		c.metrics.incConnErrCount()
		c.logger.Error("failed to connect", "error", err)

		return &ConnError{Op: "dial", Err: err}
	}

	c.connMu.Lock()
	c.conn = conn
	c.reader = bufio.NewReaderSize(conn, MaxReplyLength)
	c.connMu.Unlock()

	c.state.ToConnected()
	c.metrics.incConnectCount()
	c.logger.Info("connected", "local", conn.LocalAddr().String())

	if c.cfg.SimulationMode() {
		if _, err := c.exchange(ctx, SetSimulationCmd(true)); err != nil {
			c.logger.Error("failed to enable simulation mode", "error", err)
			c.closeConn()

			return err
		}
	}

	return nil
}

// Disconnect closes the connection. In simulation mode it first tries to switch
// the application back to normal mode, ignoring failures.
//
// If ctx ends before an in-flight command releases the lock, the socket is
// closed underneath it and ctx.Err() is returned.
func (c *Client) Disconnect(ctx context.Context) error {
	if !c.state.IsConnected() {
		return nil
	}

	if err := c.acquire(ctx); err != nil {
		c.closeConn()
		return err
	}
	defer c.release()

	if !c.state.IsConnected() {
		return nil
	}

	if c.cfg.SimulationMode() {
		if _, err := c.exchange(ctx, SetSimulationCmd(false)); err != nil {
			c.logger.Warn("failed to disable simulation mode", "error", err)
		}
	}

	c.closeConn()
	c.logger.Info("disconnected")

	return nil
}

// Send sends cmd and returns the reply body.
func (c *Client) Send(ctx context.Context, cmd Command) (string, error) {
	return c.sendCommand(ctx, cmd, false)
}

// SendWaitReady waits until the tracker reports READY, then sends cmd and returns the reply body.
func (c *Client) SendWaitReady(ctx context.Context, cmd Command) (string, error) {
	return c.sendCommand(ctx, cmd, true)
}

// Status queries the tracker status. ERR-201 and ERR-338 replies map to StatusBusy.
func (c *Client) Status(ctx context.Context) (TrackerStatus, error) {
	if !c.state.IsConnected() {
		return StatusUnknown, ErrNotConnected
	}

	if err := c.acquire(ctx); err != nil {
		return StatusUnknown, err
	}
	defer c.release()

	return c.pollStatus(ctx)
}

// WaitReady blocks until the tracker reports READY, the readiness ceiling is hit, or ctx ends.
func (c *Client) WaitReady(ctx context.Context) error {
	if !c.state.IsConnected() {
		return ErrNotConnected
	}

	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	return c.waitReady(ctx)
}

func (c *Client) sendCommand(ctx context.Context, cmd Command, waitReady bool) (string, error) {
	if err := cmd.validate(); err != nil {
		return "", fmt.Errorf("%s: %w", cmd.Verb(), err)
	}

	if !c.state.IsConnected() {
		return "", ErrNotConnected
	}

	if err := c.acquire(ctx); err != nil {
		return "", err
	}
	defer c.release()

	if waitReady {
		if err := c.waitReady(ctx); err != nil {
			return "", err
		}
	}

	reply, err := c.exchange(ctx, cmd)
	if err != nil {
		return "", err
	}

	return reply.Body, nil
}

func (c *Client) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case c.commLock <- struct{}{}:
		c.lockHeld.Store(true)
		c.metrics.InflightGauge.Store(1)

		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) release() {
	c.metrics.InflightGauge.Store(0)
	c.lockHeld.Store(false)
	<-c.commLock
}

// waitReady polls the tracker status until it reports READY. The caller must hold the lock.
func (c *Client) waitReady(ctx context.Context) error {
	start := time.Now()
	maxAttempts := c.cfg.ReadyMaxAttempts()
	limit := c.cfg.ReadyTimeout()

	for attempt := 1; ; attempt++ {
		if maxAttempts > 0 && attempt > maxAttempts {
			c.metrics.incReadinessTimeoutCount()
			return fmt.Errorf("%w: not ready after %d status polls", ErrReadinessTimeout, maxAttempts)
		}

		if limit > 0 && time.Since(start) >= limit {
			c.metrics.incReadinessTimeoutCount()
			return fmt.Errorf("%w: not ready after %s", ErrReadinessTimeout, limit)
		}

		status, err := c.pollStatus(ctx)
		c.metrics.incStatusPollCount()
		if err != nil {
			return err
		}

		var delay time.Duration
		switch status { //nolint:exhaustive
		case StatusReady:
			c.logger.Debug("tracker ready", "polls", attempt, "elapsed", time.Since(start))
			return pool.Sleep(ctx, c.cfg.ReadySettleDelay())
		case StatusInit:
			delay = c.cfg.InitSettleDelay()
		default:
			delay = c.cfg.ReadyPollInterval()
		}

		if limit > 0 {
			delay = min(delay, max(limit-time.Since(start), 0))
		}

		if err := pool.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (c *Client) pollStatus(ctx context.Context) (TrackerStatus, error) {
	reply, err := c.exchange(ctx, StatusCmd())
	if err != nil {
		if IsDeviceError(err, CodeCommandRejectedBusy, CodeInstrumentNotReady) {
			return StatusBusy, nil
		}

		return StatusUnknown, err
	}

	status, ok := ParseTrackerStatus(reply.Body)
	if !ok {
		c.logger.Debug("unrecognized status", "body", reply.Body)
	}

	return status, nil
}

// exchange writes one command line and reads one reply line. The caller must hold the lock.
func (c *Client) exchange(ctx context.Context, cmd Command) (Reply, error) {
	if !c.lockHeld.Load() {
		return Reply{}, ErrLockNotHeld
	}

	c.connMu.Lock()
	conn, reader := c.conn, c.reader
	c.connMu.Unlock()

	if conn == nil || !c.state.IsConnected() {
		return Reply{}, ErrNotConnected
	}

	line := cmd.String()
	c.logger.Debug("send command", "command", line)

	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout()))
	if _, err := io.WriteString(conn, line+"\r\n"); err != nil {
		return Reply{}, c.connFault(ctx, "write", line, err)
	}
	c.metrics.incCommandSendCount()

	deadline := time.Now().Add(c.cfg.ReadTimeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})

	start := time.Now()
	raw, err := reader.ReadSlice('\n')
	stop()
	elapsed := time.Since(start)

	if errors.Is(err, bufio.ErrBufferFull) {
		// the rest of the line is still unread, so the stream can't be resynchronized
		c.metrics.incProtocolErrCount()
		c.closeConn()
		c.logger.Warn("reply too long, connection closed", "command", line, "limit", MaxReplyLength)

		return Reply{}, &ProtocolError{Command: line, Reply: string(raw[:min(len(raw), 64)]), Err: ErrReplyTooLong}
	}
	if err != nil {
		return Reply{}, c.connFault(ctx, "read", line, err)
	}

	text := strings.TrimRight(string(raw), "\r\n")
	if elapsed > c.cfg.SlowReplyThreshold() {
		c.logger.Warn("slow reply", "command", line, "reply", text, "elapsed", elapsed)
	} else {
		c.logger.Debug("received reply", "command", line, "reply", text, "elapsed", elapsed)
	}

	reply, err := ParseReply(text)
	if err != nil {
		c.metrics.incProtocolErrCount()
		return Reply{}, &ProtocolError{Command: line, Reply: text, Err: fmt.Errorf("%w: %w", ErrMalformedReply, err)}
	}

	switch reply.Kind {
	case ReplyErr:
		c.metrics.incDeviceErrCount()
		return reply, &DeviceError{Code: reply.Code, Message: reply.Body, Command: line}
	case ReplyStatus:
		if cmd.Verb() != VerbStatus {
			c.metrics.incProtocolErrCount()
			return Reply{}, &ProtocolError{Command: line, Reply: text, Err: ErrUnexpectedStatus}
		}
	case ReplyAck:
	}

	c.metrics.incAckCount()

	return reply, nil
}

// connFault closes the connection and wraps err into a ConnError.
func (c *Client) connFault(ctx context.Context, op, line string, err error) error {
	c.metrics.incConnErrCount()
	c.closeConn()

	var cause error
	switch {
	case errors.Is(err, os.ErrDeadlineExceeded) && ctxErr(ctx) != nil:
		cause = ctxErr(ctx)
	case errors.Is(err, os.ErrDeadlineExceeded) && op == "read":
		cause = ErrReadTimeout
	case errors.Is(err, os.ErrDeadlineExceeded):
		cause = ErrWriteTimeout
	default:
		cause = fmt.Errorf("%w: %w", ErrDisconnected, err)
	}

	c.logger.Error("connection fault, connection closed", "op", op, "command", line, "error", cause)

	return &ConnError{Op: op, Command: line, Err: cause}
}

// ctxErr is ctx.Err, except that a passed deadline counts as exceeded even
// before the context's own timer has fired.
func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}

	return nil
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		c.state.Set(Disconnected)
		return
	}

	c.state.ToClosing()
	_ = c.conn.Close()
	c.conn = nil
	c.reader = nil
	c.state.Set(Disconnected)
}

// protocolErr reports a reply body that failed to parse.
func (c *Client) protocolErr(cmd Command, body string, err error) error {
	c.metrics.incProtocolErrCount()
	return &ProtocolError{Command: cmd.String(), Reply: body, Err: err}
}
