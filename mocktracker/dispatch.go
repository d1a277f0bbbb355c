package mocktracker

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/arloliu/go-t2sa/t2sa"
)

type commandID int

const (
	cmdStatus commandID = iota + 1
	cmdLaserStatus
	cmdPosition
	cmdOffset
	cmdPointPosition
	cmdPointDelta
	cmdMeasurePlan
	cmdLaserPower
	cmdTwoFaceCheck
	cmdMeasureDrift
	cmdMeasureSinglePoint
	cmdSetReferenceGroup
	cmdSetWorkingFrame
	cmdHalt
	cmdLoadTemplateFile
	cmdSaveJobFile
	cmdSetStationLock
	cmdPublishAltAzRot
	cmdSetNumSamples
	cmdSetNumIterations
	cmdSetTwoFaceTolerance
	cmdSetDriftTolerance
	cmdSetLSTolerance
	cmdSetPowerLock
	cmdMeasurementProfile
	cmdGenerateReport
	cmdIncMeasIndex
	cmdSetMeasIndex
	cmdLoadTrackerCompensation
)

type commandSpec struct {
	id      commandID
	pattern *regexp.Regexp
}

const (
	fieldPattern = `[^;]+`
	floatPattern = `[-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?`
)

func fields(names ...string) *regexp.Regexp {
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("(?P<%s>%s)", name, fieldPattern)
	}

	return regexp.MustCompile("^" + strings.Join(parts, ";") + "$")
}

func floats(names ...string) *regexp.Regexp {
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("(?P<%s>%s)", name, floatPattern)
	}

	return regexp.MustCompile("^" + strings.Join(parts, ";") + "$")
}

var (
	noArgs   = regexp.MustCompile(`^$`)
	flagArg  = regexp.MustCompile(`^(?P<flag>[01])$`)
	countArg = regexp.MustCompile(`^(?P<n>\d+)$`)
	pathArg  = regexp.MustCompile(`^(?P<path>.+)$`)
)

// commandTable maps command names to handlers and their argument grammar.
var commandTable = map[string]commandSpec{
	t2sa.VerbStatus:                {cmdStatus, noArgs},
	t2sa.VerbLaserStatus:           {cmdLaserStatus, noArgs},
	t2sa.VerbPosition:              {cmdPosition, regexp.MustCompile(`^(?P<target>\S+)$`)},
	t2sa.VerbOffset:                {cmdOffset, fields("ref", "target")},
	t2sa.VerbPointPosition:         {cmdPointPosition, fields("collection", "group", "point")},
	t2sa.VerbPointDelta:            {cmdPointDelta, fields("c1", "g1", "p1", "c2", "g2", "p2")},
	t2sa.VerbMeasurePlan:           {cmdMeasurePlan, fields("target")},
	t2sa.VerbLaserPower:            {cmdLaserPower, regexp.MustCompile(`^(?P<power>[012])$`)},
	t2sa.VerbTwoFaceCheck:          {cmdTwoFaceCheck, fields("group")},
	t2sa.VerbMeasureDrift:          {cmdMeasureDrift, fields("group")},
	t2sa.VerbMeasureSinglePoint:    {cmdMeasureSinglePoint, fields("collection", "group", "target")},
	t2sa.VerbSetReferenceGroup:     {cmdSetReferenceGroup, fields("group")},
	t2sa.VerbSetWorkingFrame:       {cmdSetWorkingFrame, fields("frame")},
	t2sa.VerbHalt:                  {cmdHalt, noArgs},
	t2sa.VerbLoadTemplateFile:      {cmdLoadTemplateFile, pathArg},
	t2sa.VerbSaveJobFile:           {cmdSaveJobFile, pathArg},
	t2sa.VerbSetStationLock:        {cmdSetStationLock, flagArg},
	t2sa.VerbPublishAltAzRot:       {cmdPublishAltAzRot, floats("alt", "az", "rot")},
	t2sa.VerbSetNumSamples:         {cmdSetNumSamples, countArg},
	t2sa.VerbSetNumIterations:      {cmdSetNumIterations, countArg},
	t2sa.VerbSetTwoFaceTolerance:   {cmdSetTwoFaceTolerance, floats("az", "el", "range")},
	t2sa.VerbSetDriftTolerance:     {cmdSetDriftTolerance, floats("rms", "max")},
	t2sa.VerbSetLSTolerance:        {cmdSetLSTolerance, floats("rms", "max")},
	t2sa.VerbSetPowerLock:          {cmdSetPowerLock, flagArg},
	t2sa.VerbMeasurementProfile:    {cmdMeasurementProfile, fields("profile")},
	t2sa.VerbGenerateReport:        {cmdGenerateReport, fields("name")},
	t2sa.VerbIncMeasIndex:          {cmdIncMeasIndex, countArg},
	t2sa.VerbSetMeasIndex:          {cmdSetMeasIndex, countArg},
	t2sa.VerbLoadTrackerCompensate: {cmdLoadTrackerCompensation, pathArg},
}

// cannedReplies answers commands that carry no state in the mock, keyed by the full line.
var cannedReplies = map[string]t2sa.Reply{
	"!SET_SIM:0":             t2sa.Ack("ACK300"),
	"!SET_SIM:1":             t2sa.Ack("ACK300"),
	"SET_RANDOMIZE_POINTS:0": t2sa.Ack("ACK300"),
	"SET_RANDOMIZE_POINTS:1": t2sa.Ack("ACK300"),
	"!RESET_T2SA":            t2sa.Ack("ACK300"),
	"!NEW_STATION":           t2sa.Ack("ACK300"),
	"!CLERCL":                t2sa.Ack("ACK300"),
	"!SAVE_SETTINGS":         t2sa.Ack("ACK300"),
}

// splitCommand splits a line at the first ':', ';' or space into name and payload.
func splitCommand(line string) (name, payload string) {
	idx := strings.IndexAny(line, ":; ")
	if idx < 0 {
		return line, ""
	}

	return line[:idx], line[idx+1:]
}

// matchArgs matches payload against pattern and returns its named groups.
func matchArgs(pattern *regexp.Regexp, payload string) (map[string]string, bool) {
	m := pattern.FindStringSubmatch(payload)
	if m == nil {
		return nil, false
	}

	args := make(map[string]string, len(m))
	for i, name := range pattern.SubexpNames() {
		if i > 0 && name != "" {
			args[name] = m[i]
		}
	}

	return args, true
}

func unsupported(line string) t2sa.Reply {
	return t2sa.Err(t2sa.CodeCommandRejected, fmt.Sprintf("Unsupported command '%s'", line))
}

// handle returns the reply to one command line.
func (s *Server) handle(ctx context.Context, line string) t2sa.Reply {
	name, payload := splitCommand(line)

	entry, ok := commandTable[name]
	if !ok {
		if reply, ok := cannedReplies[line]; ok {
			return reply
		}

		return unsupported(line)
	}

	args, ok := matchArgs(entry.pattern, payload)
	if !ok {
		return t2sa.Err(t2sa.CodeCommandRejected, fmt.Sprintf("Invalid arguments for %s: '%s'", name, payload))
	}

	switch entry.id {
	case cmdStatus:
		return s.handleStatus()
	case cmdLaserStatus:
		return s.handleLaserStatus()
	case cmdPosition:
		return s.handlePosition(args)
	case cmdOffset:
		return s.handleOffset(args)
	case cmdPointPosition:
		return s.handlePointPosition(args)
	case cmdPointDelta:
		return s.handlePointDelta(args)
	case cmdMeasurePlan:
		return s.handleMeasurePlan(args)
	case cmdLaserPower:
		return s.handleLaserPower(args)
	case cmdTwoFaceCheck:
		return s.handleCheck(args, t2sa.TokenTwoFace)
	case cmdMeasureDrift:
		return s.handleCheck(args, t2sa.TokenDrift)
	case cmdMeasureSinglePoint:
		return s.handleMeasureSinglePoint(args)
	case cmdSetReferenceGroup:
		return s.handleSetReferenceGroup(args)
	case cmdSetWorkingFrame:
		return s.handleSetWorkingFrame(args)
	case cmdHalt:
		return s.handleHalt(ctx)
	case cmdLoadTemplateFile:
		return s.handleLoadTemplateFile(args)
	case cmdSaveJobFile:
		return s.handleSaveJobFile(args)
	case cmdSetStationLock:
		return s.handleSetStationLock(args)
	case cmdPublishAltAzRot:
		return s.handlePublishAltAzRot(args)
	case cmdSetNumSamples:
		return s.handleSetNumSamples(args)
	case cmdSetNumIterations:
		return s.handleSetNumIterations(args)
	case cmdSetTwoFaceTolerance:
		return s.handleSetTwoFaceTolerance(args)
	case cmdSetDriftTolerance:
		return s.handleSetDriftTolerance(args)
	case cmdSetLSTolerance:
		return s.handleSetLSTolerance(args)
	case cmdSetPowerLock:
		return s.handleSetPowerLock(args)
	case cmdMeasurementProfile:
		return s.handleMeasurementProfile(args)
	case cmdGenerateReport:
		return s.handleGenerateReport(args)
	case cmdIncMeasIndex:
		return s.handleIncMeasIndex(args)
	case cmdSetMeasIndex:
		return s.handleSetMeasIndex(args)
	case cmdLoadTrackerCompensation:
		return s.handleLoadTrackerCompensation(args)
	}

	return unsupported(line)
}
