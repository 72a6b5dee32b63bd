package models

const (
	NARRATION_CONNECTED     = "Connected to server"
	NARRATION_DISCONNECTED  = "Disconnected from server"
	NARRATION_CONNECT_ERROR = "Connection failed"
	NARRATION_CAPTURE_ERROR = "Error capturing image"
	NARRATION_NO_CURRENCY   = "No currency detected"
)

// ConnectionState is the lifecycle state of a streaming connection.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateError
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
