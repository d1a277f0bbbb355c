package mocktracker

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/arloliu/go-t2sa/geometry"
	"github.com/arloliu/go-t2sa/internal/pool"
	"github.com/arloliu/go-t2sa/t2sa"
)

const (
	bodyAccepted = "ACK300"
	bodyBusy     = "ACK000"
)

var (
	// Meas_<T>_<el>_<az>_<rot><idx>::Frame<T>_<el>_<az>_<rot><idx>
	frameNameRegex = regexp.MustCompile(`^Meas_([A-Za-z0-9]+)_[^:]*::Frame([A-Za-z0-9]+)_`)
	// <GROUP>_P<n> or <GROUP>_<n>, 1-based
	pointNameRegex = regexp.MustCompile(`^([A-Za-z0-9]+)_[Pp]?(\d+)$`)
)

func errBusy() t2sa.Reply {
	return t2sa.Err(t2sa.CodeCommandRejectedBusy, "Command rejected: measurement in progress")
}

func errNotReady() t2sa.Reply {
	return t2sa.Err(t2sa.CodeInstrumentNotReady, "Instrument not ready: laser is not on")
}

func errUnknownTarget(name string) t2sa.Reply {
	return t2sa.Err(t2sa.CodeDidFindOrSetPointGroupAndTargetName, fmt.Sprintf("Point group or target '%s' not found", name))
}

func now() time.Time {
	return time.Now().UTC()
}

// targetGroup resolves a plain group name or a measured frame name to a known group.
func (s *Server) targetGroup(target string) (string, bool) {
	group := target
	if m := frameNameRegex.FindStringSubmatch(target); m != nil {
		if !strings.EqualFold(m[1], m[2]) {
			return "", false
		}
		group = m[1]
	}

	if !s.groups.has(group) {
		return "", false
	}

	return strings.ToUpper(group), true
}

// statusTokenLocked returns the wire status; s.mu must be held.
func (s *Server) statusTokenLocked() string {
	if s.state.measuring != "" {
		return s.state.measuring
	}

	if time.Since(s.state.startedAt) < s.cfg.initDuration {
		return t2sa.TokenInit
	}

	return t2sa.TokenReady
}

func (s *Server) handleStatus() t2sa.Reply {
	s.mu.Lock()
	token := s.statusTokenLocked()
	s.mu.Unlock()

	if token == t2sa.TokenReady {
		return t2sa.Ack(token)
	}

	return t2sa.Status(token)
}

func (s *Server) handleLaserStatus() t2sa.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	reading := t2sa.LaserReading{Status: s.state.laser}
	if s.state.laser == t2sa.LaserWarming {
		reading.Warmup = time.Since(s.state.warmupStart)
	}

	return t2sa.Ack(reading.String())
}

// setLaserLocked keeps laserOnCh closed exactly while the laser is ON; s.mu must be held.
func (s *Server) setLaserLocked(status t2sa.LaserStatus) {
	wasOn := s.state.laser == t2sa.LaserOn
	s.state.laser = status

	switch {
	case status == t2sa.LaserOn && !wasOn:
		close(s.state.laserOnCh)
	case status != t2sa.LaserOn && wasOn:
		s.state.laserOnCh = make(chan struct{})
	}
}

func (s *Server) cancelWarmupLocked() {
	if s.state.warmupCancel != nil {
		s.state.warmupCancel()
		s.state.warmupCancel = nil
	}
}

func (s *Server) cancelMeasurementLocked() bool {
	if s.state.measuring == "" {
		return false
	}

	if s.state.measureCancel != nil {
		s.state.measureCancel()
		s.state.measureCancel = nil
	}
	s.state.measuring = ""

	return true
}

func (s *Server) handleLaserPower(args map[string]string) t2sa.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch args["power"] {
	case "1":
		if s.state.laser == t2sa.LaserOn || s.state.laser == t2sa.LaserWarming {
			return t2sa.Ack("Tracker Interface Started: True")
		}

		if err := s.startWarmupLocked(); err != nil {
			return t2sa.Err(t2sa.CodeFailedToSetLaserOnOff, err.Error())
		}

		return t2sa.Ack("Tracker Interface Started: True")

	case "0":
		s.cancelWarmupLocked()
		s.setLaserLocked(t2sa.LaserOff)

		return t2sa.Ack("Tracker Interface Stopped: True")

	default: // full tracker shutdown
		s.cancelWarmupLocked()
		s.cancelMeasurementLocked()
		s.setLaserLocked(t2sa.LaserNotConnected)

		return t2sa.Ack("Tracker Interface Stopped: True")
	}
}

func (s *Server) startWarmupLocked() error {
	ctx, cancel := context.WithCancel(s.taskMgr.Context())

	s.state.warmupSeq++
	seq := s.state.warmupSeq
	s.state.warmupCancel = cancel
	s.state.warmupStart = time.Now()
	s.setLaserLocked(t2sa.LaserWarming)

	err := s.taskMgr.Go("laserWarmup", func(context.Context) {
		defer cancel()

		if err := pool.Sleep(ctx, s.cfg.warmupDuration); err != nil {
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state.warmupSeq == seq && s.state.laser == t2sa.LaserWarming {
			s.state.warmupCancel = nil
			s.setLaserLocked(t2sa.LaserOn)
			s.logger.Info("laser warm", "warmup", s.cfg.warmupDuration)
		}
	})
	if err != nil {
		cancel()
		s.state.warmupCancel = nil
		s.setLaserLocked(t2sa.LaserOff)
	}

	return err
}

// startMeasurementLocked switches the status to token for the measurement duration.
func (s *Server) startMeasurementLocked(token, group string) error {
	ctx, cancel := context.WithCancel(s.taskMgr.Context())

	s.state.measureSeq++
	seq := s.state.measureSeq
	s.state.measuring = token
	s.state.measureCancel = cancel
	s.state.halted = false

	err := s.taskMgr.Go("measurement", func(context.Context) {
		defer cancel()

		if err := pool.Sleep(ctx, s.cfg.measurementDuration); err != nil {
			return
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state.measureSeq == seq && s.state.measuring != "" {
			s.state.measuring = ""
			s.state.measureCancel = nil
			s.logger.Debug("measurement done", "status", token, "group", group)
		}
	})
	if err != nil {
		cancel()
		s.state.measuring = ""
		s.state.measureCancel = nil
	}

	return err
}

// measureGateLocked returns a rejection when a new measurement cannot start.
func (s *Server) measureGateLocked(busy t2sa.Reply) (t2sa.Reply, bool) {
	if s.state.measuring != "" {
		return busy, false
	}

	if s.state.laser != t2sa.LaserOn || s.statusTokenLocked() == t2sa.TokenInit {
		return errNotReady(), false
	}

	return t2sa.Reply{}, true
}

func (s *Server) handleMeasurePlan(args map[string]string) t2sa.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reply, ok := s.measureGateLocked(t2sa.Ack(bodyBusy)); !ok {
		return reply
	}

	group, ok := s.targetGroup(args["target"])
	if !ok {
		return errUnknownTarget(args["target"])
	}

	if err := s.startMeasurementLocked(t2sa.TokenMeasuring, group); err != nil {
		return t2sa.Err(t2sa.CodeFailedPointGroupMeasurement, err.Error())
	}

	return t2sa.Ack(bodyAccepted)
}

// handleCheck starts a two-face or drift check, reported as token while it runs.
func (s *Server) handleCheck(args map[string]string, token string) t2sa.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reply, ok := s.measureGateLocked(errBusy()); !ok {
		return reply
	}

	group, ok := s.targetGroup(args["group"])
	if !ok {
		return errUnknownTarget(args["group"])
	}

	if err := s.startMeasurementLocked(token, group); err != nil {
		code := t2sa.CodeTwoFaceCheckFailedToleranceChecks
		if token == t2sa.TokenDrift {
			code = t2sa.CodeDriftCheckFailedToleranceChecks
		}

		return t2sa.Err(code, err.Error())
	}

	return t2sa.Ack(bodyAccepted)
}

func (s *Server) handleHalt(ctx context.Context) t2sa.Reply {
	s.mu.Lock()
	if s.cancelMeasurementLocked() {
		s.state.halted = true
	}
	s.mu.Unlock()

	if err := pool.Sleep(ctx, s.cfg.haltDelay); err != nil {
		return t2sa.Err(t2sa.CodeCommandToHaltT2SAFailed, err.Error())
	}

	return t2sa.Ack(bodyAccepted)
}

// handlePosition reports the target placement relative to the current reference group.
func (s *Server) handlePosition(args map[string]string) t2sa.Reply {
	s.mu.Lock()
	measuring := s.state.measuring != ""
	halted := s.state.halted
	ref := s.state.settings.ReferenceGroup
	s.mu.Unlock()

	if measuring {
		return errBusy()
	}

	if halted {
		return t2sa.Err(t2sa.CodeFailedPointGroupMeasurement, "Last measurement was halted")
	}

	group, ok := s.targetGroup(args["target"])
	if !ok {
		return errUnknownTarget(args["target"])
	}

	tgt, _ := s.groups.placement(group)
	refPlacement, _ := s.groups.placement(ref)

	lin := r3.Scale(1e3, r3.Sub(tgt.Origin, refPlacement.Origin))
	ang := geometry.RadToDeg(r3.Sub(tgt.Rotation, refPlacement.Rotation))

	return t2sa.Ack(offsetReport(ref, lin, ang).String())
}

func (s *Server) handleOffset(args map[string]string) t2sa.Reply {
	s.mu.Lock()
	measuring := s.state.measuring != ""
	s.mu.Unlock()

	if measuring {
		return errBusy()
	}

	ref, ok := s.targetGroup(args["ref"])
	if !ok {
		return errUnknownTarget(args["ref"])
	}

	target, ok := s.targetGroup(args["target"])
	if !ok {
		return errUnknownTarget(args["target"])
	}

	lin, ang := s.groups.relativeOffset(ref, target)
	if s.cfg.autoCorrect && !strings.EqualFold(ref, target) {
		s.groups.correct(ref, target)
	}

	return t2sa.Ack(offsetReport(ref, lin, ang).String())
}

func offsetReport(ref string, lin, ang r3.Vec) t2sa.Offset {
	return t2sa.Offset{
		Reference: "FRAME" + strings.ToUpper(ref),
		DX:        lin.X,
		DY:        lin.Y,
		DZ:        lin.Z,
		DRX:       ang.X,
		DRY:       ang.Y,
		DRZ:       ang.Z,
		Timestamp: now(),
	}
}

// fiducial resolves a point name within group to its current position in millimetres.
func (s *Server) fiducial(group, point string) (r3.Vec, t2sa.Reply, bool) {
	g, ok := s.targetGroup(group)
	if !ok {
		return r3.Vec{}, errUnknownTarget(group), false
	}

	m := pointNameRegex.FindStringSubmatch(point)
	if m == nil {
		return r3.Vec{}, t2sa.Err(t2sa.CodeFailedPointGroupMeasurement, fmt.Sprintf("Invalid point name '%s'", point)), false
	}

	if !strings.EqualFold(m[1], g) {
		return r3.Vec{}, errUnknownTarget(point), false
	}

	idx, _ := strconv.Atoi(m[2])
	placement, _ := s.groups.placement(g)
	pos, err := placement.Fiducial(idx - 1)
	if err != nil {
		return r3.Vec{}, t2sa.Err(t2sa.CodeFailedPointGroupMeasurement, fmt.Sprintf("Point '%s' not found", point)), false
	}

	return r3.Scale(1e3, pos), t2sa.Reply{}, true
}

func singlePoint(name string, pos r3.Vec, valid bool) t2sa.SinglePoint {
	return t2sa.SinglePoint{
		Name:      name,
		Position:  t2sa.Point{X: pos.X, Y: pos.Y, Z: pos.Z},
		Timestamp: now(),
		Valid:     valid,
	}
}

func (s *Server) handlePointPosition(args map[string]string) t2sa.Reply {
	pos, reply, ok := s.fiducial(args["group"], args["point"])
	if !ok {
		return reply
	}

	return t2sa.Ack(singlePoint(args["point"], pos, true).String())
}

func (s *Server) handlePointDelta(args map[string]string) t2sa.Reply {
	p1, reply, ok := s.fiducial(args["g1"], args["p1"])
	if !ok {
		return reply
	}

	p2, reply, ok := s.fiducial(args["g2"], args["p2"])
	if !ok {
		return reply
	}

	return t2sa.Ack(singlePoint(args["p1"]+"-"+args["p2"], r3.Sub(p2, p1), false).String())
}

func (s *Server) handleMeasureSinglePoint(args map[string]string) t2sa.Reply {
	s.mu.Lock()
	reply, ok := s.measureGateLocked(errBusy())
	s.mu.Unlock()
	if !ok {
		return reply
	}

	pos, reply, ok := s.fiducial(args["group"], args["target"])
	if !ok {
		return reply
	}

	return t2sa.Ack(singlePoint(args["target"], pos, true).String())
}

func (s *Server) handleSetReferenceGroup(args map[string]string) t2sa.Reply {
	group, ok := s.targetGroup(args["group"])
	if !ok {
		return t2sa.Err(t2sa.CodeRefGroupNotFoundInTemplateFile, fmt.Sprintf("Reference group '%s' not found", args["group"]))
	}

	s.mu.Lock()
	s.state.settings.ReferenceGroup = group
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func (s *Server) handleSetWorkingFrame(args map[string]string) t2sa.Reply {
	frame := strings.ToUpper(args["frame"])

	valid := frame == "WORLD"
	if group, found := strings.CutPrefix(frame, "FRAME"); found && s.groups.has(group) {
		valid = true
	}

	if !valid {
		return t2sa.Err(t2sa.CodeWorkingFrameNotFound, "POS: NotFound")
	}

	s.mu.Lock()
	s.state.settings.WorkingFrame = frame
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func (s *Server) handleLoadTemplateFile(args map[string]string) t2sa.Reply {
	path := args["path"]
	if !strings.HasSuffix(strings.ToLower(path), ".xit64") {
		return t2sa.Err(t2sa.CodeSATemplateFileNotFound, fmt.Sprintf("Template file '%s' not found", path))
	}

	s.mu.Lock()
	s.state.settings.TemplateFile = path
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func (s *Server) handleSaveJobFile(args map[string]string) t2sa.Reply {
	path := args["path"]
	if !strings.HasPrefix(strings.ToUpper(path), "C:") {
		return t2sa.Err(t2sa.CodeSaveSAJobFileFailed, fmt.Sprintf("Failed to save job file '%s'", path))
	}

	s.mu.Lock()
	s.state.settings.JobFile = path
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func (s *Server) handleSetStationLock(args map[string]string) t2sa.Reply {
	s.mu.Lock()
	s.state.settings.StationLocked = args["flag"] == "1"
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func (s *Server) handleSetPowerLock(args map[string]string) t2sa.Reply {
	s.mu.Lock()
	s.state.settings.PowerLocked = args["flag"] == "1"
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

// parseFloats parses the named float arguments; the payload pattern already guarantees the syntax.
func parseFloats(args map[string]string, names ...string) []float64 {
	vals := make([]float64, len(names))
	for i, name := range names {
		vals[i], _ = strconv.ParseFloat(args[name], 64)
	}

	return vals
}

func (s *Server) handlePublishAltAzRot(args map[string]string) t2sa.Reply {
	vals := parseFloats(args, "alt", "az", "rot")
	if vals[0] < 0 || vals[0] > 90 {
		return t2sa.Err(t2sa.CodeSettingT2SAToTelescopeCurrentPositionFailed, "Elevation out of range [0, 90]")
	}

	s.mu.Lock()
	s.state.settings.AltAzRot = [3]float64{vals[0], vals[1], vals[2]}
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func parseCount(args map[string]string) (int, bool) {
	n, err := strconv.Atoi(args["n"])
	return n, err == nil
}

func (s *Server) handleSetNumSamples(args map[string]string) t2sa.Reply {
	n, ok := parseCount(args)
	if !ok || n < 1 {
		return t2sa.Err(t2sa.CodeFailedSetNumberOfTimePointsAreSampled, "Number of samples must be positive")
	}

	s.mu.Lock()
	s.state.settings.NumSamples = n
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func (s *Server) handleSetNumIterations(args map[string]string) t2sa.Reply {
	n, ok := parseCount(args)
	if !ok || n < 1 {
		return t2sa.Err(t2sa.CodeCouldNotSetNumberOfMeasurementPointIterations, "Number of iterations must be positive")
	}

	s.mu.Lock()
	s.state.settings.NumIterations = n
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func allPositive(vals []float64) bool {
	for _, v := range vals {
		if v <= 0 {
			return false
		}
	}

	return true
}

func (s *Server) handleSetTwoFaceTolerance(args map[string]string) t2sa.Reply {
	vals := parseFloats(args, "az", "el", "range")
	if !allPositive(vals) {
		return t2sa.Err(t2sa.CodeTwoFaceToleranceOutsideBounds, "Two face tolerances must be positive")
	}

	s.mu.Lock()
	s.state.settings.TwoFaceTolerance = [3]float64{vals[0], vals[1], vals[2]}
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func (s *Server) handleSetDriftTolerance(args map[string]string) t2sa.Reply {
	vals := parseFloats(args, "rms", "max")
	if !allPositive(vals) || vals[0] > vals[1] {
		return t2sa.Err(t2sa.CodeDriftToleranceOutsideBounds, "Drift tolerance must satisfy 0 < rms <= max")
	}

	s.mu.Lock()
	s.state.settings.DriftTolerance = [2]float64{vals[0], vals[1]}
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func (s *Server) handleSetLSTolerance(args map[string]string) t2sa.Reply {
	vals := parseFloats(args, "rms", "max")
	if !allPositive(vals) || vals[0] > vals[1] {
		return t2sa.Err(t2sa.CodeLeastSquaresToleranceOutsideBounds, "Least squares tolerance must satisfy 0 < rms <= max")
	}

	s.mu.Lock()
	s.state.settings.LSTolerance = [2]float64{vals[0], vals[1]}
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func (s *Server) handleMeasurementProfile(args map[string]string) t2sa.Reply {
	s.mu.Lock()
	s.state.settings.MeasProfile = args["profile"]
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func (s *Server) handleGenerateReport(args map[string]string) t2sa.Reply {
	s.mu.Lock()
	s.state.settings.ReportName = args["name"]
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func (s *Server) handleIncMeasIndex(args map[string]string) t2sa.Reply {
	n, ok := parseCount(args)
	if !ok {
		return t2sa.Err(t2sa.CodeFailedToIncMeasIndex, "Invalid index increment")
	}

	s.mu.Lock()
	s.state.settings.MeasIndex += n
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func (s *Server) handleSetMeasIndex(args map[string]string) t2sa.Reply {
	n, ok := parseCount(args)
	if !ok {
		return t2sa.Err(t2sa.CodeFailedToSetMeasIndex, "Invalid measurement index")
	}

	s.mu.Lock()
	s.state.settings.MeasIndex = n
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}

func (s *Server) handleLoadTrackerCompensation(args map[string]string) t2sa.Reply {
	s.mu.Lock()
	s.state.settings.CompensationFile = args["path"]
	s.mu.Unlock()

	return t2sa.Ack(bodyAccepted)
}
