package models

const (
	MESSAGE_TYPE_HEARTBEAT = "heartbeat"
)

type HeartbeatMessage struct {
	Type string `json:"type"`
}

func NewHeartbeatMessage() HeartbeatMessage {
	return HeartbeatMessage{Type: MESSAGE_TYPE_HEARTBEAT}
}

type FrameMessage struct {
	Frame  string `json:"frame"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func NewFrameMessage(frame Frame) FrameMessage {
	return FrameMessage{
		Frame:  frame.Payload,
		Width:  frame.Width,
		Height: frame.Height,
	}
}

// InboundMessage is anything the detection backend pushes. Detections is nil
// when the key is absent and non-nil (possibly empty) when present.
type InboundMessage struct {
	Detections *[]Detection `json:"detections,omitempty"`
	Error      string       `json:"error,omitempty"`
}

func (m InboundMessage) IsDetection() bool {
	return m.Detections != nil
}

func (m InboundMessage) IsError() bool {
	return m.Error != ""
}
