package t2sa

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TrackerStatus is the tracker application state reported by the status query.
type TrackerStatus int

const (
	StatusUnknown TrackerStatus = iota
	// StatusReady means the tracker is idle and accepts measurement commands.
	StatusReady
	// StatusInit means the tracker application is still initializing.
	StatusInit
	// StatusMeasuring means a measurement plan is executing (EMP).
	StatusMeasuring
	// StatusTwoFace means a two-face check is executing.
	StatusTwoFace
	// StatusDrift means a drift check is executing.
	StatusDrift
	// StatusBusy means the tracker rejected the status query as busy or not ready.
	StatusBusy
)

// Status tokens as they appear on the wire.
const (
	TokenReady     = "READY"
	TokenInit      = "INIT"
	TokenMeasuring = "EMP"
	TokenTwoFace   = "2FACE"
	TokenDrift     = "DRIFT"

	// instrumentConnected is an ACK body some T2SA versions send instead of READY.
	instrumentConnected = "Instrument is connected"
)

func (s TrackerStatus) String() string {
	switch s {
	case StatusReady:
		return TokenReady
	case StatusInit:
		return TokenInit
	case StatusMeasuring:
		return TokenMeasuring
	case StatusTwoFace:
		return TokenTwoFace
	case StatusDrift:
		return TokenDrift
	case StatusBusy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// IsIdle reports whether the tracker accepts a new measurement.
func (s TrackerStatus) IsIdle() bool {
	return s == StatusReady
}

// ParseTrackerStatus maps a status token or status ACK body to a TrackerStatus.
func ParseTrackerStatus(token string) (TrackerStatus, bool) {
	switch strings.TrimSpace(token) {
	case TokenReady, instrumentConnected:
		return StatusReady, true
	case TokenInit:
		return StatusInit, true
	case TokenMeasuring:
		return StatusMeasuring, true
	case TokenTwoFace:
		return StatusTwoFace, true
	case TokenDrift:
		return StatusDrift, true
	}

	return StatusUnknown, false
}

func isStatusToken(s string) bool {
	switch s {
	case TokenReady, TokenInit, TokenMeasuring, TokenTwoFace, TokenDrift:
		return true
	}

	return false
}

// LaserStatus is the power state of the tracker laser.
type LaserStatus int

const (
	LaserUnknown LaserStatus = iota
	LaserNotConnected
	LaserOff
	LaserWarming
	LaserOn
)

// Laser status tokens as they appear in ?LSTA replies.
const (
	LaserTokenNotConnected = "LNC"
	LaserTokenOff          = "LOFF"
	LaserTokenWarming      = "WARM"
	LaserTokenOn           = "LON"
)

func (s LaserStatus) String() string {
	switch s {
	case LaserNotConnected:
		return "NOT_CONNECTED"
	case LaserOff:
		return "OFF"
	case LaserWarming:
		return "WARMING"
	case LaserOn:
		return "ON"
	default:
		return "UNKNOWN"
	}
}

// LaserReading is a parsed ?LSTA reply.
type LaserReading struct {
	Status LaserStatus
	// Warmup is the elapsed warm-up time, set only while Status is LaserWarming.
	Warmup time.Duration
}

func (r LaserReading) String() string {
	switch r.Status {
	case LaserNotConnected:
		return LaserTokenNotConnected
	case LaserOff:
		return LaserTokenOff
	case LaserOn:
		return LaserTokenOn
	case LaserWarming:
		return fmt.Sprintf("%s, %.2f seconds", LaserTokenWarming, r.Warmup.Seconds())
	default:
		return "UNKNOWN"
	}
}

// ParseLaserReading parses the body of a ?LSTA reply: LNC, LOFF, LON, or "WARM, <seconds> seconds".
func ParseLaserReading(body string) (LaserReading, error) {
	body = strings.TrimSpace(body)
	switch body {
	case LaserTokenNotConnected:
		return LaserReading{Status: LaserNotConnected}, nil
	case LaserTokenOff:
		return LaserReading{Status: LaserOff}, nil
	case LaserTokenOn:
		return LaserReading{Status: LaserOn}, nil
	case LaserTokenWarming:
		return LaserReading{Status: LaserWarming}, nil
	}

	rest, ok := strings.CutPrefix(body, LaserTokenWarming+",")
	if !ok {
		return LaserReading{}, &ParseError{Grammar: "laser status", Input: body, Reason: "unknown token"}
	}

	secs, ok := strings.CutSuffix(strings.TrimSpace(rest), " seconds")
	if !ok {
		return LaserReading{}, &ParseError{Grammar: "laser status", Input: body, Reason: "missing seconds unit"}
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(secs), 64)
	if err != nil || v < 0 {
		return LaserReading{}, &ParseError{Grammar: "laser status", Input: body, Reason: "invalid warm-up time"}
	}

	return LaserReading{Status: LaserWarming, Warmup: time.Duration(v * float64(time.Second))}, nil
}
