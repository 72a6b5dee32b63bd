package models

import (
	"time"
)

// BBox is [xMin, yMin, xMax, yMax] in the backend's normalized space.
type BBox [4]float64

type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// Frame is one captured still, already down-sampled and base64 encoded.
type Frame struct {
	Payload    string
	Width      int
	Height     int
	CapturedAt time.Time
}

type ScreenSize struct {
	Width  float64
	Height float64
}

// OverlayBox is a detection mapped into screen coordinates.
type OverlayBox struct {
	Label      string
	Confidence float64
	Left       float64
	Top        float64
	Width      float64
	Height     float64
}
