package domain

// DriverState is the state of an upstream's head subscription.
type DriverState string

const (
	StateConnecting DriverState = "connecting"
	StateStreaming  DriverState = "streaming"
	StateRetrying   DriverState = "retrying"
	StateStopped    DriverState = "stopped"
)

// Int returns the gauge value recorded for s.
func (s DriverState) Int() int64 {
	switch s {
	case StateConnecting:
		return 1
	case StateStreaming:
		return 2
	case StateRetrying:
		return 3
	default:
		return 0
	}
}
