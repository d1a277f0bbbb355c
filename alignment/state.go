package alignment

import "fmt"

// SummaryState is the lifecycle state the control framework drives the controller through.
type SummaryState int

const (
	StateOffline SummaryState = iota
	StateStandby
	StateDisabled
	StateEnabled
	StateFault
)

func (s SummaryState) String() string {
	switch s {
	case StateOffline:
		return "OFFLINE"
	case StateStandby:
		return "STANDBY"
	case StateDisabled:
		return "DISABLED"
	case StateEnabled:
		return "ENABLED"
	case StateFault:
		return "FAULT"
	default:
		return fmt.Sprintf("SummaryState(%d)", int(s))
	}
}

// IsActive reports whether the controller holds a tracker connection in this state.
func (s SummaryState) IsActive() bool {
	return s == StateDisabled || s == StateEnabled
}
