package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Perceptus-Labs/perceptus-lookout/models"
	"github.com/Perceptus-Labs/perceptus-lookout/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	NARRATION_PROCESSING      = "Processing image, please wait"
	NARRATION_PROCESSING_TEXT = "Processing image for text detection..."
	NARRATION_PROCESS_FAILED  = "Failed to process image"
	NARRATION_TEXT_FAILED     = "Failed to detect text. Please try again."
	NARRATION_NO_OBJECTS      = "No objects detected in this image"
	NARRATION_NO_TEXT         = "No text detected in this image"
	SUMMARY_NO_TEXT           = "No text detected"
	DETECT_OBJECTS_PATH       = "detect/"
	DETECT_TEXT_PATH          = "detect-text/"
	DETECTION_REQUEST_TIMEOUT = 60 * time.Second
	STILL_PHOTO_QUALITY       = 0.8
	maxErrorBodyBytes         = 512
)

// DetectionClient runs the single-image flows against the backend's HTTP
// API: object detection and text recognition.
type DetectionClient struct {
	BaseURL    string
	HTTPClient *http.Client

	activities utils.ActivityStore
	tokens     utils.TokenStore
	speaker    Speaker
	logger     *zap.Logger

	camera Camera
	flash  utils.FlashMode
}

func NewDetectionClient(baseURL string, activities utils.ActivityStore, tokens utils.TokenStore, speaker Speaker, logger *zap.Logger) *DetectionClient {
	if logger == nil {
		logger = zap.L()
	}
	return &DetectionClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: DETECTION_REQUEST_TIMEOUT},
		activities: activities,
		tokens:     tokens,
		speaker:    speaker,
		logger:     logger,
	}
}

// WithCamera lets the Capture* flows take their own photo.
func (c *DetectionClient) WithCamera(camera Camera, flash utils.FlashMode) *DetectionClient {
	c.camera = camera
	c.flash = flash
	return c
}

// CaptureAndDetectObjects takes a photo and runs object detection on it.
func (c *DetectionClient) CaptureAndDetectObjects(ctx context.Context) (models.ObjectDetectionResult, error) {
	var result models.ObjectDetectionResult
	err := c.withPhoto(ctx, func(path string) error {
		var err error
		result, err = c.DetectObjects(ctx, path)
		return err
	})
	return result, err
}

// CaptureAndDetectText takes a photo and runs text recognition on it.
func (c *DetectionClient) CaptureAndDetectText(ctx context.Context) (models.TextDetectionResult, error) {
	var result models.TextDetectionResult
	err := c.withPhoto(ctx, func(path string) error {
		var err error
		result, err = c.DetectText(ctx, path)
		return err
	})
	return result, err
}

func (c *DetectionClient) withPhoto(ctx context.Context, fn func(path string) error) error {
	if c.camera == nil {
		return utils.NewError(utils.KindCapture, "capture", "no camera configured")
	}
	photo, err := c.camera.TakePhoto(ctx, STILL_PHOTO_QUALITY, c.flash)
	if err != nil {
		c.logger.Error("Photo capture failed", zap.Error(err))
		c.speak(models.NARRATION_CAPTURE_ERROR)
		return utils.Wrap(utils.KindCapture, "capture", "camera capture failed", err)
	}
	defer func() {
		if err := c.camera.DeletePhoto(photo.Path); err != nil {
			c.logger.Warn("Failed to delete photo", zap.String("path", photo.Path), zap.Error(err))
		}
	}()
	return fn(photo.Path)
}

// DetectObjects uploads the image, records the result in the activity log
// and narrates a summary.
func (c *DetectionClient) DetectObjects(ctx context.Context, imagePath string) (models.ObjectDetectionResult, error) {
	c.speak(NARRATION_PROCESSING)

	var result models.ObjectDetectionResult
	err := c.upload(ctx, DETECT_OBJECTS_PATH, imagePath, &result)
	if err == nil && (result.OriginalImage == "" || result.AnnotatedImage == "") {
		err = utils.NewError(utils.KindBackend, "detect_objects", "invalid response from server")
	}
	if err != nil {
		c.logger.Error("Detection error", zap.Error(err), zap.String("image", imagePath))
		c.speak(NARRATION_PROCESS_FAILED)
		return models.ObjectDetectionResult{}, err
	}

	labels := make([]string, 0, len(result.Detections))
	for _, d := range result.Detections {
		labels = append(labels, d.ClassName)
	}
	activity := models.Activity{
		ID:        uuid.New().String(),
		Type:      models.ACTIVITY_OBJECT_DETECTION,
		Timestamp: time.Now().UTC(),
		ImageURI:  imagePath,
		Results:   labels,
		Summary:   SummarizeObjects(labels),
	}
	c.saveActivity(ctx, activity)

	c.logger.Info("Objects detected", zap.Int("count", len(labels)), zap.String("summary", activity.Summary))
	c.speak(ActivityNarration(activity))
	return result, nil
}

// DetectText uploads the image for OCR, records the result and reads the
// recognised lines back.
func (c *DetectionClient) DetectText(ctx context.Context, imagePath string) (models.TextDetectionResult, error) {
	c.speak(NARRATION_PROCESSING_TEXT)

	var result models.TextDetectionResult
	if err := c.upload(ctx, DETECT_TEXT_PATH, imagePath, &result); err != nil {
		c.logger.Error("OCR error", zap.Error(err), zap.String("image", imagePath))
		c.speak(NARRATION_TEXT_FAILED)
		return models.TextDetectionResult{}, err
	}
	if result.Text == nil {
		result.Text = []string{}
	}

	summary := strings.Join(result.Text, ", ")
	if summary == "" {
		summary = SUMMARY_NO_TEXT
	}
	activity := models.Activity{
		ID:        uuid.New().String(),
		Type:      models.ACTIVITY_TEXT_DETECTION,
		Timestamp: time.Now().UTC(),
		ImageURI:  imagePath,
		Results:   result.Text,
		Summary:   summary,
	}
	c.saveActivity(ctx, activity)

	c.logger.Info("Text detected", zap.Int("lines", len(result.Text)))
	c.speak(ActivityNarration(activity))
	return result, nil
}

func (c *DetectionClient) upload(ctx context.Context, path, imagePath string, out any) error {
	endpoint, err := utils.APIURL(c.BaseURL, path)
	if err != nil {
		return err
	}

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return utils.Wrap(utils.KindCapture, "upload", "cannot read image", err)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return utils.Wrap(utils.KindTransport, "upload", "cannot build form", err)
	}
	part.Write(image)
	if err := form.Close(); err != nil {
		return utils.Wrap(utils.KindTransport, "upload", "cannot build form", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return utils.Wrap(utils.KindTransport, "upload", "cannot create request", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if auth := utils.BearerHeader(ctx, c.tokens); auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return utils.Wrap(utils.KindTransport, "upload", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return utils.NewError(utils.KindBackend, "upload",
			fmt.Sprintf("server error: %d %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return utils.Wrap(utils.KindParse, "upload", "invalid response body", err)
	}
	return nil
}

func (c *DetectionClient) saveActivity(ctx context.Context, activity models.Activity) {
	if c.activities == nil {
		return
	}
	if err := c.activities.Save(ctx, activity); err != nil {
		c.logger.Warn("Failed to save activity", zap.Error(err), zap.String("type", activity.Type))
	}
}

func (c *DetectionClient) speak(text string) {
	if c.speaker != nil {
		c.speaker.Speak(text)
	}
}

// SummarizeObjects counts labels case-insensitively, in first-seen order:
// "2 persons, 1 dog".
func SummarizeObjects(labels []string) string {
	counts := make(map[string]int, len(labels))
	var order []string
	for _, l := range labels {
		key := strings.ToLower(l)
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}

	parts := make([]string, 0, len(order))
	for _, label := range order {
		n := counts[label]
		plural := ""
		if n > 1 {
			plural = "s"
		}
		parts = append(parts, fmt.Sprintf("%d %s%s", n, label, plural))
	}
	return strings.Join(parts, ", ")
}

// ActivityNarration is what gets spoken for a history entry.
func ActivityNarration(a models.Activity) string {
	switch a.Type {
	case models.ACTIVITY_OBJECT_DETECTION:
		if len(a.Results) == 0 {
			return NARRATION_NO_OBJECTS
		}
		return "Detected " + SummarizeObjects(a.Results)
	case models.ACTIVITY_TEXT_DETECTION:
		if len(a.Results) == 0 {
			return NARRATION_NO_TEXT
		}
		return "Detected text: " + strings.Join(a.Results, ", ")
	default:
		return a.Summary
	}
}

// WriteAnnotatedImage decodes the backend's annotated image and writes it
// to path as JPEG.
func WriteAnnotatedImage(result models.ObjectDetectionResult, path string) error {
	data, err := base64.StdEncoding.DecodeString(result.AnnotatedImage)
	if err != nil {
		return utils.Wrap(utils.KindParse, "annotated_image", "annotated image is not base64", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return utils.Wrap(utils.KindStorage, "annotated_image", "cannot write annotated image", err)
	}
	return nil
}
