package alignment

import "errors"

var (
	// ErrConfigNil indicates that a nil Config was provided.
	ErrConfigNil = errors.New("alignment config is nil")
	// ErrInvalidSimulationMode indicates a simulation mode other than 0, 1 or 2.
	ErrInvalidSimulationMode = errors.New("invalid simulation mode")
	// ErrMissingTargets indicates that the configured targets lack a required target.
	ErrMissingTargets = errors.New("config targets are missing required targets")
)

var (
	// ErrNotEnabled is returned by commands issued outside the Enabled state.
	ErrNotEnabled = errors.New("controller is not enabled")
	// ErrUnknownTarget is returned for a target that isn't in the configured targets.
	ErrUnknownTarget = errors.New("unknown target")
	// ErrUnsupported is returned by commands the controller refuses to run.
	ErrUnsupported = errors.New("unsupported command")
	// ErrNotImplemented is returned by features that are not available yet.
	ErrNotImplemented = errors.New("not implemented")
)
