package t2sa

import (
	"strconv"
	"strings"
)

// Command verbs understood by the tracker application.
const (
	VerbStatus                = "?STAT"
	VerbLaserStatus           = "?LSTA"
	VerbPosition              = "?POS"
	VerbOffset                = "?OFFSET"
	VerbPointPosition         = "?POINT_POS"
	VerbPointDelta            = "?POINT_DELTA"
	VerbMeasurePlan           = "!CMDEXE"
	VerbLaserPower            = "!LST"
	VerbTwoFaceCheck          = "!2FACE_CHECK"
	VerbMeasureDrift          = "!MEAS_DRIFT"
	VerbMeasureSinglePoint    = "!MEAS_SINGLE_POINT"
	VerbSetReferenceGroup     = "!SET_REFERENCE_GROUP"
	VerbSetWorkingFrame       = "!SET_WORKING_FRAME"
	VerbHalt                  = "!HALT"
	VerbLoadTemplateFile      = "!LOAD_SA_TEMPLATE_FILE"
	VerbSaveJobFile           = "!SAVE_SA_JOBFILE"
	VerbSetStationLock        = "!SET_STATION_LOCK"
	VerbResetT2SA             = "!RESET_T2SA"
	VerbNewStation            = "!NEW_STATION"
	VerbPublishAltAzRot       = "!PUBLISH_ALT_AZ_ROT"
	VerbSetNumSamples         = "SET_NUM_SAMPLES"
	VerbSetNumIterations      = "SET_NUM_ITERATIONS"
	VerbSetRandomizePoints    = "SET_RANDOMIZE_POINTS"
	VerbSetSimulation         = "!SET_SIM"
	VerbSetTwoFaceTolerance   = "!SET_2FACE_TOL"
	VerbSetDriftTolerance     = "!SET_DRIFT_TOL"
	VerbSetLSTolerance        = "!SET_LS_TOL"
	VerbSetPowerLock          = "SET_POWER_LOCK"
	VerbClearErrors           = "!CLERCL"
	VerbMeasurementProfile    = "!SINGLE_POINT_MEAS_PROFILE"
	VerbGenerateReport        = "!GEN_REPORT"
	VerbIncMeasIndex          = "!INC_MEAS_INDEX"
	VerbSetMeasIndex          = "!SET_MEAS_INDEX"
	VerbSaveSettings          = "!SAVE_SETTINGS"
	VerbLoadTrackerCompensate = "!LOAD_TRACKER_COMPENSATION"
)

// Command is one outbound command line without its CRLF terminator.
type Command struct {
	verb string
	sep  byte
	args []string
}

// NewCommand builds a command from a verb, the separator between verb and
// payload (':', ';' or ' '), and the arguments, which are joined with ';'.
func NewCommand(verb string, sep byte, args ...string) Command {
	return Command{verb: verb, sep: sep, args: args}
}

func bare(verb string) Command {
	return Command{verb: verb}
}

func withColon(verb string, args ...string) Command {
	return Command{verb: verb, sep: ':', args: args}
}

// Verb returns the command verb, e.g. "!CMDEXE".
func (c Command) Verb() string { return c.verb }

// Args returns the command arguments.
func (c Command) Args() []string { return c.args }

// String renders the command line.
func (c Command) String() string {
	if len(c.args) == 0 {
		return c.verb
	}

	var sb strings.Builder
	sb.WriteString(c.verb)
	sb.WriteByte(c.sep)
	sb.WriteString(strings.Join(c.args, ";"))

	return sb.String()
}

// validate rejects arguments that would break the line or payload grammar.
func (c Command) validate() error {
	for _, arg := range c.args {
		if arg == "" || strings.ContainsAny(arg, "\r\n;") {
			return ErrInvalidArgument
		}
	}

	return nil
}

func formatBool(b bool) string {
	if b {
		return "1"
	}

	return "0"
}

func formatFloatArg(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// StatusCmd queries the tracker status.
func StatusCmd() Command { return bare(VerbStatus) }

// LaserStatusCmd queries the laser status.
func LaserStatusCmd() Command { return bare(VerbLaserStatus) }

// PositionCmd queries the position of target relative to the reference group.
func PositionCmd(target string) Command {
	return NewCommand(VerbPosition, ' ', target)
}

// OffsetCmd queries the offset of target from its nominal placement relative to ref.
func OffsetCmd(ref, target string) Command {
	return withColon(VerbOffset, ref, target)
}

// PointPositionCmd queries the position of a single point.
func PointPositionCmd(collection, group, point string) Command {
	return withColon(VerbPointPosition, collection, group, point)
}

// PointDeltaCmd queries the delta between two points.
func PointDeltaCmd(c1, g1, p1, c2, g2, p2 string) Command {
	return withColon(VerbPointDelta, c1, g1, p1, c2, g2, p2)
}

// MeasurePlanCmd starts the measurement plan of target.
func MeasurePlanCmd(target string) Command {
	return withColon(VerbMeasurePlan, target)
}

// LaserPowerCmd sets laser power: 0 off, 1 on, 2 full tracker shutdown.
func LaserPowerCmd(value int) Command {
	return withColon(VerbLaserPower, strconv.Itoa(value))
}

// TwoFaceCheckCmd starts a two-face check on group.
func TwoFaceCheckCmd(group string) Command {
	return withColon(VerbTwoFaceCheck, group)
}

// MeasureDriftCmd starts a drift check on group.
func MeasureDriftCmd(group string) Command {
	return withColon(VerbMeasureDrift, group)
}

// MeasureSinglePointCmd measures one point of group.
func MeasureSinglePointCmd(collection, group, target string) Command {
	return withColon(VerbMeasureSinglePoint, collection, group, target)
}

// SetReferenceGroupCmd sets the group positions are reported against.
func SetReferenceGroupCmd(group string) Command {
	return withColon(VerbSetReferenceGroup, group)
}

// SetWorkingFrameCmd sets the working frame.
func SetWorkingFrameCmd(frame string) Command {
	return withColon(VerbSetWorkingFrame, frame)
}

// HaltCmd stops any measurement in progress.
func HaltCmd() Command { return bare(VerbHalt) }

// LoadTemplateFileCmd loads a SA template file.
func LoadTemplateFileCmd(path string) Command {
	return NewCommand(VerbLoadTemplateFile, ';', path)
}

// SaveJobFileCmd saves the current job to path.
func SaveJobFileCmd(path string) Command {
	return NewCommand(VerbSaveJobFile, ';', path)
}

// SetStationLockCmd locks or unlocks the station.
func SetStationLockCmd(locked bool) Command {
	return withColon(VerbSetStationLock, formatBool(locked))
}

// ResetT2SACmd resets the T2SA application.
func ResetT2SACmd() Command { return bare(VerbResetT2SA) }

// NewStationCmd adds a new tracker station.
func NewStationCmd() Command { return bare(VerbNewStation) }

// PublishAltAzRotCmd publishes the telescope elevation, azimuth and rotator angles in degrees.
func PublishAltAzRotCmd(alt, az, rot float64) Command {
	return withColon(VerbPublishAltAzRot, formatFloatArg(alt), formatFloatArg(az), formatFloatArg(rot))
}

// SetNumSamplesCmd sets the number of samples per point.
func SetNumSamplesCmd(n int) Command {
	return withColon(VerbSetNumSamples, strconv.Itoa(n))
}

// SetNumIterationsCmd sets the number of measurement iterations.
func SetNumIterationsCmd(n int) Command {
	return withColon(VerbSetNumIterations, strconv.Itoa(n))
}

// SetRandomizePointsCmd sets whether points are measured in random order.
func SetRandomizePointsCmd(randomize bool) Command {
	return withColon(VerbSetRandomizePoints, formatBool(randomize))
}

// SetSimulationCmd turns the vendor simulation mode on or off.
func SetSimulationCmd(enabled bool) Command {
	return withColon(VerbSetSimulation, formatBool(enabled))
}

// SetTwoFaceToleranceCmd sets the two-face check tolerances.
func SetTwoFaceToleranceCmd(az, el, rng float64) Command {
	return withColon(VerbSetTwoFaceTolerance, formatFloatArg(az), formatFloatArg(el), formatFloatArg(rng))
}

// SetDriftToleranceCmd sets the drift check tolerances.
func SetDriftToleranceCmd(rms, maxTol float64) Command {
	return withColon(VerbSetDriftTolerance, formatFloatArg(rms), formatFloatArg(maxTol))
}

// SetLSToleranceCmd sets the least-squares fit tolerances.
func SetLSToleranceCmd(rms, maxTol float64) Command {
	return withColon(VerbSetLSTolerance, formatFloatArg(rms), formatFloatArg(maxTol))
}

// SetPowerLockCmd locks or unlocks laser power.
func SetPowerLockCmd(locked bool) Command {
	return withColon(VerbSetPowerLock, formatBool(locked))
}

// ClearErrorsCmd clears the T2SA error list.
func ClearErrorsCmd() Command { return bare(VerbClearErrors) }

// MeasurementProfileCmd selects a measurement profile.
func MeasurementProfileCmd(profile string) Command {
	return withColon(VerbMeasurementProfile, profile)
}

// GenerateReportCmd writes a report named name.
func GenerateReportCmd(name string) Command {
	return withColon(VerbGenerateReport, name)
}

// IncMeasIndexCmd increments the measurement index by n.
func IncMeasIndexCmd(n int) Command {
	return withColon(VerbIncMeasIndex, strconv.Itoa(n))
}

// SetMeasIndexCmd sets the measurement index.
func SetMeasIndexCmd(n int) Command {
	return withColon(VerbSetMeasIndex, strconv.Itoa(n))
}

// SaveSettingsCmd persists the current settings.
func SaveSettingsCmd() Command { return bare(VerbSaveSettings) }

// LoadTrackerCompensationCmd loads a tracker compensation file.
func LoadTrackerCompensationCmd(path string) Command {
	return withColon(VerbLoadTrackerCompensate, path)
}
