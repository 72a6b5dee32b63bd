package handlers

import (
	"math"
	"strings"
	"sync"

	"github.com/Perceptus-Labs/perceptus-lookout/models"
	"go.uber.org/zap"
)

const (
	DEFAULT_BACKEND_DIM          = 224
	DEFAULT_CONFIDENCE_THRESHOLD = 0.1
	LABEL_SEPARATOR              = ". "
)

type InterpreterConfig struct {
	BackendDim          float64
	Screen              models.ScreenSize
	ConfidenceThreshold float64
	EmptyPhrase         string
}

// Interpreter turns the stream of detection messages into overlay geometry
// and narrates only when the detected set materially changes.
type Interpreter struct {
	cfg     InterpreterConfig
	speaker Speaker
	logger  *zap.Logger

	mu       sync.Mutex
	previous []models.Detection
	overlay  []models.OverlayBox
	onChange func([]models.OverlayBox)
}

func NewInterpreter(cfg InterpreterConfig, speaker Speaker, logger *zap.Logger) *Interpreter {
	if cfg.BackendDim <= 0 {
		cfg.BackendDim = DEFAULT_BACKEND_DIM
	}
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DEFAULT_CONFIDENCE_THRESHOLD
	}
	if cfg.EmptyPhrase == "" {
		cfg.EmptyPhrase = models.NARRATION_NO_CURRENCY
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Interpreter{
		cfg:     cfg,
		speaker: speaker,
		logger:  logger,
	}
}

// OnOverlay registers a callback invoked with every refreshed overlay.
func (in *Interpreter) OnOverlay(fn func([]models.OverlayBox)) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.onChange = fn
}

// HandleDetections processes one detection message. It returns the text
// narrated, or "" when nothing was said.
func (in *Interpreter) HandleDetections(detections []models.Detection) string {
	overlay := MapOverlay(detections, in.cfg.BackendDim, in.cfg.Screen)

	in.mu.Lock()
	prev := in.previous
	in.previous = append([]models.Detection(nil), detections...)
	in.overlay = overlay
	onChange := in.onChange
	in.mu.Unlock()

	if onChange != nil {
		onChange(overlay)
	}

	var text string
	switch {
	case len(detections) > 0 && DetectionsChanged(prev, detections, in.cfg.ConfidenceThreshold):
		text = DescribeDetections(detections)
	case len(detections) == 0 && len(prev) > 0:
		text = in.cfg.EmptyPhrase
	default:
		return ""
	}

	in.logger.Debug("Detections changed", zap.String("narration", text), zap.Int("count", len(detections)))
	in.speaker.Speak(text)
	return text
}

// HandleBackendError narrates an error reported by the backend. The
// connection is not affected.
func (in *Interpreter) HandleBackendError(message string) {
	in.logger.Warn("Server error", zap.String("error", message))
	in.speaker.Speak(message)
}

func (in *Interpreter) Overlay() []models.OverlayBox {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]models.OverlayBox(nil), in.overlay...)
}

// Reset forgets the previous detections, e.g. after a reconnect.
func (in *Interpreter) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.previous = nil
	in.overlay = nil
}

// DetectionsChanged is a positional diff: sequences differ when their
// lengths differ, a label differs at some index, or a confidence moved by
// more than threshold.
func DetectionsChanged(prev, next []models.Detection, threshold float64) bool {
	if len(prev) != len(next) {
		return true
	}
	for i := range next {
		if next[i].Label != prev[i].Label {
			return true
		}
		if math.Abs(next[i].Confidence-prev[i].Confidence) > threshold {
			return true
		}
	}
	return false
}

func DescribeDetections(detections []models.Detection) string {
	labels := make([]string, 0, len(detections))
	for _, d := range detections {
		labels = append(labels, SpokenLabel(d.Label))
	}
	return strings.Join(labels, LABEL_SEPARATOR)
}

func SpokenLabel(label string) string {
	return strings.ReplaceAll(label, "_", " ")
}

// MapOverlay scales backend boxes onto the screen. Both corners are clamped
// to the screen, so a box never extends past its edges.
func MapOverlay(detections []models.Detection, backendDim float64, screen models.ScreenSize) []models.OverlayBox {
	boxes := make([]models.OverlayBox, 0, len(detections))
	for _, d := range detections {
		x1 := clamp(d.BBox[0]/backendDim*screen.Width, 0, screen.Width)
		y1 := clamp(d.BBox[1]/backendDim*screen.Height, 0, screen.Height)
		x2 := clamp(d.BBox[2]/backendDim*screen.Width, 0, screen.Width)
		y2 := clamp(d.BBox[3]/backendDim*screen.Height, 0, screen.Height)
		boxes = append(boxes, models.OverlayBox{
			Label:      SpokenLabel(d.Label),
			Confidence: d.Confidence,
			Left:       x1,
			Top:        y1,
			Width:      math.Max(0, x2-x1),
			Height:     math.Max(0, y2-y1),
		})
	}
	return boxes
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
