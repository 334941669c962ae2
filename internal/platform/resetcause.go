// Package platform adapts the host to the boot-level concepts of a
// sensor node: why this boot happened, what the device is called, how
// to restart, how to suspend, and how good the radio link is.
package platform

// ResetCause classifies why the current boot occurred.
type ResetCause int

const (
	ColdPowerOn ResetCause = iota
	ExternalReset
	SoftwareRestart
	WakeFromSuspend
	Other
)

func (c ResetCause) String() string {
	switch c {
	case ColdPowerOn:
		return "cold_power_on"
	case ExternalReset:
		return "external_reset"
	case SoftwareRestart:
		return "software_restart"
	case WakeFromSuspend:
		return "wake_from_suspend"
	default:
		return "other"
	}
}

// ZeroesRunTime reports whether the accumulated run time starts over
// at this boot.
func (c ResetCause) ZeroesRunTime() bool {
	return c == ColdPowerOn || c == ExternalReset
}

// ZeroesSequence reports whether the status sequence counter starts
// over at this boot. Only a cold power-on resets it.
func (c ResetCause) ZeroesSequence() bool {
	return c == ColdPowerOn
}

// Boot markers are written to the scratch region immediately before a
// deliberate restart or suspend and cleared at every boot. A boot that
// finds MarkerNone was not initiated by this program.
const (
	MarkerNone    uint32 = 0
	MarkerRestart uint32 = 0x52535452 // "RSTR"
	MarkerSuspend uint32 = 0x534c5050 // "SLPP"
)

// Classify derives the ResetCause from the scratch region state found
// at boot. fresh means the region did not survive, which only a power
// cycle causes.
func Classify(fresh bool, marker uint32) ResetCause {
	if fresh {
		return ColdPowerOn
	}
	switch marker {
	case MarkerNone:
		return ExternalReset
	case MarkerRestart:
		return SoftwareRestart
	case MarkerSuspend:
		return WakeFromSuspend
	default:
		return Other
	}
}
