package t2sa

import "context"

// LaserStatus queries the laser power state.
func (c *Client) LaserStatus(ctx context.Context) (LaserReading, error) {
	cmd := LaserStatusCmd()
	body, err := c.sendCommand(ctx, cmd, false)
	if err != nil {
		return LaserReading{}, err
	}

	reading, err := ParseLaserReading(body)
	if err != nil {
		return LaserReading{}, c.protocolErr(cmd, body, err)
	}

	return reading, nil
}

// LaserOn powers the laser on. The tracker then warms up before reporting LON.
func (c *Client) LaserOn(ctx context.Context) (string, error) {
	return c.sendCommand(ctx, LaserPowerCmd(1), false)
}

// LaserOff powers the laser off.
func (c *Client) LaserOff(ctx context.Context) (string, error) {
	return c.sendCommand(ctx, LaserPowerCmd(0), false)
}

// TrackerOff shuts the tracker down.
func (c *Client) TrackerOff(ctx context.Context) (string, error) {
	return c.sendCommand(ctx, LaserPowerCmd(2), false)
}

// SetSimulationMode switches the T2SA internal simulation mode.
func (c *Client) SetSimulationMode(ctx context.Context, enabled bool) (string, error) {
	return c.sendCommand(ctx, SetSimulationCmd(enabled), false)
}

// MeasureTarget executes the measurement plan of target once the tracker is idle.
// The reply only acknowledges the start of the measurement.
func (c *Client) MeasureTarget(ctx context.Context, target string) (string, error) {
	return c.sendCommand(ctx, MeasurePlanCmd(target), true)
}

// TargetPosition returns the position of a measured target relative to the working frame.
func (c *Client) TargetPosition(ctx context.Context, target string) (Offset, error) {
	return c.offsetQuery(ctx, PositionCmd(target))
}

// TargetOffset returns the offset of target from nominal, using ref as the frame of reference.
func (c *Client) TargetOffset(ctx context.Context, ref, target string) (Offset, error) {
	return c.offsetQuery(ctx, OffsetCmd(ref, target))
}

func (c *Client) offsetQuery(ctx context.Context, cmd Command) (Offset, error) {
	body, err := c.sendCommand(ctx, cmd, false)
	if err != nil {
		return Offset{}, err
	}

	offset, err := ParseOffset(body)
	if err != nil {
		return Offset{}, c.protocolErr(cmd, body, err)
	}

	return offset, nil
}

// PointPosition returns the position of a previously measured point.
func (c *Client) PointPosition(ctx context.Context, collection, group, point string) (SinglePoint, error) {
	return c.pointQuery(ctx, PointPositionCmd(collection, group, point), false)
}

// PointDelta returns the offset between two previously measured points.
func (c *Client) PointDelta(ctx context.Context, c1, g1, p1, c2, g2, p2 string) (SinglePoint, error) {
	return c.pointQuery(ctx, PointDeltaCmd(c1, g1, p1, c2, g2, p2), false)
}

// MeasureSinglePoint measures one fiducial once the tracker is idle.
func (c *Client) MeasureSinglePoint(ctx context.Context, collection, group, target string) (SinglePoint, error) {
	return c.pointQuery(ctx, MeasureSinglePointCmd(collection, group, target), true)
}

func (c *Client) pointQuery(ctx context.Context, cmd Command, waitReady bool) (SinglePoint, error) {
	body, err := c.sendCommand(ctx, cmd, waitReady)
	if err != nil {
		return SinglePoint{}, err
	}

	point, err := ParseSinglePoint(body)
	if err != nil {
		return SinglePoint{}, c.protocolErr(cmd, body, err)
	}

	return point, nil
}

// TwoFaceCheck runs a two-face check on group once the tracker is idle.
func (c *Client) TwoFaceCheck(ctx context.Context, group string) (string, error) {
	return c.sendCommand(ctx, TwoFaceCheckCmd(group), true)
}

// MeasureDrift runs a drift check on group once the tracker is idle.
func (c *Client) MeasureDrift(ctx context.Context, group string) (string, error) {
	return c.sendCommand(ctx, MeasureDriftCmd(group), true)
}

// SetReferenceGroup sets the group positions are reported against.
func (c *Client) SetReferenceGroup(ctx context.Context, group string) (string, error) {
	return c.sendCommand(ctx, SetReferenceGroupCmd(group), false)
}

// SetWorkingFrame sets the frame all reported coordinates are relative to.
func (c *Client) SetWorkingFrame(ctx context.Context, frame string) (string, error) {
	return c.sendCommand(ctx, SetWorkingFrameCmd(frame), false)
}

// Halt stops any measurement in progress. It queues behind the command
// currently holding the lock, like every other command.
func (c *Client) Halt(ctx context.Context) (string, error) {
	return c.sendCommand(ctx, HaltCmd(), false)
}

// LoadTemplateFile loads the SA template file at path.
func (c *Client) LoadTemplateFile(ctx context.Context, path string) (string, error) {
	return c.sendCommand(ctx, LoadTemplateFileCmd(path), false)
}

// SaveJobFile saves the current job to path.
func (c *Client) SaveJobFile(ctx context.Context, path string) (string, error) {
	return c.sendCommand(ctx, SaveJobFileCmd(path), false)
}

// SetStationLock locks or unlocks the station.
func (c *Client) SetStationLock(ctx context.Context, locked bool) (string, error) {
	return c.sendCommand(ctx, SetStationLockCmd(locked), false)
}

// ResetT2SA resets the T2SA application.
func (c *Client) ResetT2SA(ctx context.Context) (string, error) {
	return c.sendCommand(ctx, ResetT2SACmd(), false)
}

// NewStation adds a new tracker station.
func (c *Client) NewStation(ctx context.Context) (string, error) {
	return c.sendCommand(ctx, NewStationCmd(), false)
}

// SetTelescopePosition publishes the telescope elevation, azimuth and rotator angles in degrees.
func (c *Client) SetTelescopePosition(ctx context.Context, alt, az, rot float64) (string, error) {
	return c.sendCommand(ctx, PublishAltAzRotCmd(alt, az, rot), false)
}

// SetNumSamples sets how many times each point is sampled.
func (c *Client) SetNumSamples(ctx context.Context, n int) (string, error) {
	return c.sendCommand(ctx, SetNumSamplesCmd(n), false)
}

// SetNumIterations sets how many times the measurement plan is repeated.
func (c *Client) SetNumIterations(ctx context.Context, n int) (string, error) {
	return c.sendCommand(ctx, SetNumIterationsCmd(n), false)
}

// SetRandomizePoints sets whether points are measured in random order.
func (c *Client) SetRandomizePoints(ctx context.Context, randomize bool) (string, error) {
	return c.sendCommand(ctx, SetRandomizePointsCmd(randomize), false)
}

// SetTwoFaceTolerances sets the two-face check tolerances.
func (c *Client) SetTwoFaceTolerances(ctx context.Context, az, el, rng float64) (string, error) {
	return c.sendCommand(ctx, SetTwoFaceToleranceCmd(az, el, rng), false)
}

// SetDriftTolerance sets the drift check tolerances.
func (c *Client) SetDriftTolerance(ctx context.Context, rms, maxTol float64) (string, error) {
	return c.sendCommand(ctx, SetDriftToleranceCmd(rms, maxTol), false)
}

// SetLSTolerance sets the least squares best fit tolerances.
func (c *Client) SetLSTolerance(ctx context.Context, rms, maxTol float64) (string, error) {
	return c.sendCommand(ctx, SetLSToleranceCmd(rms, maxTol), false)
}

// SetPowerLock locks or unlocks laser power.
func (c *Client) SetPowerLock(ctx context.Context, locked bool) (string, error) {
	return c.sendCommand(ctx, SetPowerLockCmd(locked), false)
}

// ClearErrors clears instrument errors.
func (c *Client) ClearErrors(ctx context.Context) (string, error) {
	return c.sendCommand(ctx, ClearErrorsCmd(), false)
}

// SetMeasurementProfile selects a measurement profile.
func (c *Client) SetMeasurementProfile(ctx context.Context, profile string) (string, error) {
	return c.sendCommand(ctx, MeasurementProfileCmd(profile), false)
}

// GenerateReport writes a report named name.
func (c *Client) GenerateReport(ctx context.Context, name string) (string, error) {
	return c.sendCommand(ctx, GenerateReportCmd(name), false)
}

// IncrementMeasuredIndex increments the measurement index by n.
func (c *Client) IncrementMeasuredIndex(ctx context.Context, n int) (string, error) {
	return c.sendCommand(ctx, IncMeasIndexCmd(n), false)
}

// SetMeasuredIndex sets the measurement index.
func (c *Client) SetMeasuredIndex(ctx context.Context, n int) (string, error) {
	return c.sendCommand(ctx, SetMeasIndexCmd(n), false)
}

// SaveSettings persists the current settings.
func (c *Client) SaveSettings(ctx context.Context) (string, error) {
	return c.sendCommand(ctx, SaveSettingsCmd(), false)
}

// LoadTrackerCompensation loads the tracker compensation file at path.
func (c *Client) LoadTrackerCompensation(ctx context.Context, path string) (string, error) {
	return c.sendCommand(ctx, LoadTrackerCompensationCmd(path), false)
}
