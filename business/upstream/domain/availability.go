package domain

// Availability is a coarse liveness classification of an upstream.
// The zero value is AvailabilityUnavailable.
type Availability int32

const (
	AvailabilityUnavailable Availability = iota
	AvailabilityOK
	AvailabilityLagging
	AvailabilityImmature
	AvailabilitySyncing
)

// Numeric availability codes reported by remote nodes.
const (
	CodeAvailabilityUnknown     int32 = 0
	CodeAvailabilityOK          int32 = 1
	CodeAvailabilityLagging     int32 = 2
	CodeAvailabilityImmature    int32 = 3
	CodeAvailabilitySyncing     int32 = 4
	CodeAvailabilityUnavailable int32 = 5
)

// AvailabilityFromCode maps a remote code. Unknown codes are treated as unavailable.
func AvailabilityFromCode(code int32) Availability {
	switch code {
	case CodeAvailabilityOK:
		return AvailabilityOK
	case CodeAvailabilityLagging:
		return AvailabilityLagging
	case CodeAvailabilityImmature:
		return AvailabilityImmature
	case CodeAvailabilitySyncing:
		return AvailabilitySyncing
	default:
		return AvailabilityUnavailable
	}
}

// Code returns the remote numeric code for a.
func (a Availability) Code() int32 {
	switch a {
	case AvailabilityOK:
		return CodeAvailabilityOK
	case AvailabilityLagging:
		return CodeAvailabilityLagging
	case AvailabilityImmature:
		return CodeAvailabilityImmature
	case AvailabilitySyncing:
		return CodeAvailabilitySyncing
	default:
		return CodeAvailabilityUnavailable
	}
}

func (a Availability) String() string {
	switch a {
	case AvailabilityOK:
		return "OK"
	case AvailabilityLagging:
		return "LAGGING"
	case AvailabilityImmature:
		return "IMMATURE"
	case AvailabilitySyncing:
		return "SYNCING"
	default:
		return "UNAVAILABLE"
	}
}

// IsOK reports whether the upstream can serve requests.
func (a Availability) IsOK() bool {
	return a == AvailabilityOK
}
