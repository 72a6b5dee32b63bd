package models

import (
	"time"
)

const (
	ACTIVITY_OBJECT_DETECTION = "object_detection"
	ACTIVITY_TEXT_DETECTION   = "text_detection"
)

// Activity is one completed image-based detection, as kept in the history.
type Activity struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ImageURI  string    `json:"imageUri"`
	Results   []string  `json:"results"`
	Summary   string    `json:"summary"`
}

// ObjectDetection is one entry of the image detection endpoint's response.
type ObjectDetection struct {
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox,omitempty"`
}

type ObjectDetectionResult struct {
	OriginalImage  string            `json:"original_image"`
	AnnotatedImage string            `json:"annotated_image"`
	Detections     []ObjectDetection `json:"detections"`
}

type TextDetectionResult struct {
	Text []string `json:"text"`
}

type Token struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh,omitempty"`
}
