package alignment

import (
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"time"
)

// SimulationMode selects what the controller talks to.
type SimulationMode int

const (
	// SimulationNone drives a real T2SA application.
	SimulationNone SimulationMode = iota
	// SimulationVendor drives a real T2SA application with its internal simulation enabled.
	SimulationVendor
	// SimulationMock starts an in-process mock tracker and drives it instead of T2SA.
	SimulationMock
)

func (m SimulationMode) String() string {
	switch m {
	case SimulationNone:
		return "none"
	case SimulationVendor:
		return "vendor"
	case SimulationMock:
		return "mock"
	default:
		return fmt.Sprintf("SimulationMode(%d)", int(m))
	}
}

// RequiredTargets lists the targets every configuration must include.
var RequiredTargets = []string{"CAM", "M1M3", "M2"}

// TelescopePosition is the telescope pose used to tag target measurements, in degrees.
type TelescopePosition struct {
	Elevation float64
	Azimuth   float64
	Rotator   float64
}

// Config is the controller configuration.
type Config struct {
	// Host and Port locate the T2SA application. Ignored in SimulationMock mode.
	Host string
	Port int
	// ReadTimeout bounds every reply read.
	ReadTimeout time.Duration
	// SimulationMode selects the device the controller drives.
	SimulationMode SimulationMode

	// Targets are the point groups that may be measured. Must include RequiredTargets.
	Targets []string

	NumIterations   int
	NumSamples      int
	RandomizePoints bool
	// StationLock stops SpatialAnalyzer from jumping stations when it detects drift.
	StationLock bool
	// PowerLock enables the tracker camera to help search for SMRs.
	PowerLock bool

	// RMSTolerance and MaxTolerance are the least squares tolerances in mm.
	RMSTolerance float64
	MaxTolerance float64
	// Two-face tolerances: azimuth and elevation in degrees, range in mm.
	TwoFaceAzTolerance    float64
	TwoFaceElTolerance    float64
	TwoFaceRangeTolerance float64
	// RMSDriftTolerance and MaxDriftTolerance are in mm.
	RMSDriftTolerance float64
	MaxDriftTolerance float64

	// SinglePointProfile is the SpatialAnalyzer measurement profile for single point measurements.
	// Left unset on the tracker when empty.
	SinglePointProfile string

	// TelemetryInterval is the period of the status telemetry loop.
	TelemetryInterval time.Duration
	// DefaultPosition is used when the telescope position can't be determined.
	DefaultPosition TelescopePosition
	// GroupIndex is appended to measurement frame names.
	GroupIndex int
}

// DefaultConfig returns a configuration with every field set to its default.
func DefaultConfig() *Config {
	return &Config{
		Host:                  "127.0.0.1",
		Port:                  50000,
		ReadTimeout:           30 * time.Second,
		SimulationMode:        SimulationNone,
		Targets:               slices.Clone(RequiredTargets),
		NumIterations:         1,
		NumSamples:            1,
		RandomizePoints:       false,
		StationLock:           false,
		PowerLock:             false,
		RMSTolerance:          0.05,
		MaxTolerance:          0.1,
		TwoFaceAzTolerance:    0.001,
		TwoFaceElTolerance:    0.001,
		TwoFaceRangeTolerance: 0.01,
		RMSDriftTolerance:     0.05,
		MaxDriftTolerance:     0.1,
		TelemetryInterval:     time.Second,
		DefaultPosition:       TelescopePosition{Elevation: 60},
		GroupIndex:            1,
	}
}

// Validate checks the configuration and returns the first problem found.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return ErrConfigNil
	}

	if cfg.SimulationMode < SimulationNone || cfg.SimulationMode > SimulationMock {
		return fmt.Errorf("%w: %d", ErrInvalidSimulationMode, int(cfg.SimulationMode))
	}

	if cfg.SimulationMode != SimulationMock {
		if cfg.Host == "" {
			return errors.New("host is empty")
		}
		if net.ParseIP(cfg.Host) == nil && strings.ContainsAny(cfg.Host, " /:") {
			return errors.New("invalid host")
		}
		if cfg.Port < 1 || cfg.Port > 65535 {
			return errors.New("port is out of range [1, 65535]")
		}
	}

	if cfg.ReadTimeout <= 0 {
		return errors.New("read timeout must be positive")
	}

	var missing []string
	for _, target := range RequiredTargets {
		if !slices.Contains(cfg.Targets, target) {
			missing = append(missing, target)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingTargets, strings.Join(missing, ", "))
	}

	if cfg.NumIterations < 1 {
		return errors.New("num iterations must be at least 1")
	}
	if cfg.NumSamples < 1 {
		return errors.New("num samples must be at least 1")
	}

	if err := checkTolerancePair("least squares", cfg.RMSTolerance, cfg.MaxTolerance); err != nil {
		return err
	}
	if err := checkTolerancePair("drift", cfg.RMSDriftTolerance, cfg.MaxDriftTolerance); err != nil {
		return err
	}
	if cfg.TwoFaceAzTolerance <= 0 || cfg.TwoFaceElTolerance <= 0 || cfg.TwoFaceRangeTolerance <= 0 {
		return errors.New("two-face tolerances must be positive")
	}

	if cfg.TelemetryInterval <= 0 {
		return errors.New("telemetry interval must be positive")
	}
	if cfg.DefaultPosition.Elevation < 0 || cfg.DefaultPosition.Elevation > 90 {
		return errors.New("default elevation is out of range [0, 90]")
	}
	if cfg.GroupIndex < 0 {
		return errors.New("group index is negative")
	}

	return nil
}

func checkTolerancePair(name string, rms, maxTol float64) error {
	if rms <= 0 || maxTol <= 0 {
		return fmt.Errorf("%s tolerances must be positive", name)
	}
	if rms > maxTol {
		return fmt.Errorf("%s rms tolerance %g exceeds max tolerance %g", name, rms, maxTol)
	}

	return nil
}

// HasTarget reports whether target is one of the configured targets.
func (cfg *Config) HasTarget(target string) bool {
	return slices.Contains(cfg.Targets, target)
}
