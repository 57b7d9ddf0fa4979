package obs

// ConnectionState tracks the lifecycle of the single device session.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// RecordStatus reports what the device's record output is doing.
type RecordStatus struct {
	Active   bool    `json:"recording"`
	Paused   bool    `json:"paused"`
	Timecode string  `json:"timecode,omitempty"`
	Seconds  float64 `json:"seconds,omitempty"`
}
