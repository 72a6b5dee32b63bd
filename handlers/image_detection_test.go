package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/Perceptus-Labs/perceptus-lookout/models"
	"github.com/Perceptus-Labs/perceptus-lookout/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImageBackend(t *testing.T, detectBody, textBody string, status int) (*httptest.Server, chan string) {
	auth := make(chan string, 4)
	mux := http.NewServeMux()
	handle := func(body string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			file, header, err := r.FormFile("image")
			if assert.NoError(t, err) {
				data, _ := io.ReadAll(file)
				assert.Equal(t, "jpeg-bytes", string(data))
				assert.Equal(t, "photo.jpg", header.Filename)
			}
			auth <- r.Header.Get("Authorization")
			w.WriteHeader(status)
			io.WriteString(w, body)
		}
	}
	mux.HandleFunc("/api/detect/", handle(detectBody))
	mux.HandleFunc("/api/detect-text/", handle(textBody))
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, auth
}

func writePhoto(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0o644))
	return path
}

func TestDetectObjects(t *testing.T) {
	server, auth := newImageBackend(t, `{
		"original_image": "b3JpZw==",
		"annotated_image": "YW5ub3Q=",
		"detections": [
			{"class_name": "Person", "confidence": 0.9, "bbox": [1,2,3,4]},
			{"class_name": "dog", "confidence": 0.8},
			{"class_name": "person", "confidence": 0.7}
		]
	}`, "", http.StatusOK)

	store := utils.NewMemoryActivityStore()
	speaker := &recordingSpeaker{}
	client := NewDetectionClient(server.URL, store, staticTokens{access: "abc"}, speaker, nil)

	result, err := client.DetectObjects(context.Background(), writePhoto(t))
	require.NoError(t, err)
	assert.Len(t, result.Detections, 3)
	assert.Equal(t, "Bearer abc", <-auth)

	assert.Equal(t, []string{NARRATION_PROCESSING, "Detected 2 persons, 1 dog"}, speaker.Texts())

	activities, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, models.ACTIVITY_OBJECT_DETECTION, activities[0].Type)
	assert.Equal(t, "2 persons, 1 dog", activities[0].Summary)
	assert.Equal(t, []string{"Person", "dog", "person"}, activities[0].Results)
	assert.NotEmpty(t, activities[0].ID)
}

func TestDetectObjectsNothingFound(t *testing.T) {
	server, _ := newImageBackend(t, `{"original_image":"a","annotated_image":"b","detections":[]}`, "", http.StatusOK)
	speaker := &recordingSpeaker{}
	store := utils.NewMemoryActivityStore()
	client := NewDetectionClient(server.URL, store, nil, speaker, nil)

	_, err := client.DetectObjects(context.Background(), writePhoto(t))
	require.NoError(t, err)
	assert.Equal(t, NARRATION_NO_OBJECTS, speaker.Texts()[1])
}

func TestDetectObjectsInvalidResponse(t *testing.T) {
	server, _ := newImageBackend(t, `{"detections":[]}`, "", http.StatusOK)
	speaker := &recordingSpeaker{}
	store := utils.NewMemoryActivityStore()
	client := NewDetectionClient(server.URL, store, nil, speaker, nil)

	_, err := client.DetectObjects(context.Background(), writePhoto(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid response from server")
	assert.True(t, utils.IsKind(err, utils.KindBackend))
	assert.Equal(t, []string{NARRATION_PROCESSING, NARRATION_PROCESS_FAILED}, speaker.Texts())

	activities, _ := store.List(context.Background())
	assert.Empty(t, activities)
}

func TestDetectObjectsServerError(t *testing.T) {
	server, _ := newImageBackend(t, `model unavailable`, "", http.StatusInternalServerError)
	speaker := &recordingSpeaker{}
	client := NewDetectionClient(server.URL, nil, nil, speaker, nil)

	_, err := client.DetectObjects(context.Background(), writePhoto(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, NARRATION_PROCESS_FAILED, speaker.Texts()[1])
}

func TestDetectObjectsMissingImage(t *testing.T) {
	speaker := &recordingSpeaker{}
	client := NewDetectionClient("http://localhost", nil, nil, speaker, nil)

	_, err := client.DetectObjects(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindCapture))
}

func TestDetectText(t *testing.T) {
	server, auth := newImageBackend(t, "", `{"text":["EXIT","Platform 2"]}`, http.StatusOK)
	store := utils.NewMemoryActivityStore()
	speaker := &recordingSpeaker{}
	client := NewDetectionClient(server.URL, store, nil, speaker, nil)

	result, err := client.DetectText(context.Background(), writePhoto(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"EXIT", "Platform 2"}, result.Text)
	assert.Equal(t, "", <-auth)
	assert.Equal(t, []string{NARRATION_PROCESSING_TEXT, "Detected text: EXIT, Platform 2"}, speaker.Texts())

	activities, _ := store.List(context.Background())
	require.Len(t, activities, 1)
	assert.Equal(t, "EXIT, Platform 2", activities[0].Summary)
}

func TestDetectTextEmpty(t *testing.T) {
	server, _ := newImageBackend(t, "", `{}`, http.StatusOK)
	store := utils.NewMemoryActivityStore()
	speaker := &recordingSpeaker{}
	client := NewDetectionClient(server.URL, store, nil, speaker, nil)

	result, err := client.DetectText(context.Background(), writePhoto(t))
	require.NoError(t, err)
	assert.Empty(t, result.Text)
	assert.Equal(t, NARRATION_NO_TEXT, speaker.Texts()[1])

	activities, _ := store.List(context.Background())
	require.Len(t, activities, 1)
	assert.Equal(t, SUMMARY_NO_TEXT, activities[0].Summary)
}

func TestSummarizeObjects(t *testing.T) {
	assert.Equal(t, "", SummarizeObjects(nil))
	assert.Equal(t, "1 car", SummarizeObjects([]string{"Car"}))
	assert.Equal(t, "2 persons, 1 dog", SummarizeObjects([]string{"person", "dog", "PERSON"}))
}

func TestActivityNarration(t *testing.T) {
	assert.Equal(t, NARRATION_NO_OBJECTS, ActivityNarration(models.Activity{Type: models.ACTIVITY_OBJECT_DETECTION}))
	assert.Equal(t, "Detected 3 cats", ActivityNarration(models.Activity{
		Type:    models.ACTIVITY_OBJECT_DETECTION,
		Results: []string{"cat", "cat", "cat"},
	}))
	assert.Equal(t, NARRATION_NO_TEXT, ActivityNarration(models.Activity{Type: models.ACTIVITY_TEXT_DETECTION}))
	assert.Equal(t, "Detected text: a, b", ActivityNarration(models.Activity{
		Type:    models.ACTIVITY_TEXT_DETECTION,
		Results: []string{"a", "b"},
	}))
	assert.Equal(t, "custom", ActivityNarration(models.Activity{Type: "other", Summary: "custom"}))
}

func TestCaptureAndDetectObjects(t *testing.T) {
	uploads := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, _, err := r.FormFile("image")
		if assert.NoError(t, err) {
			data, _ := io.ReadAll(file)
			uploads <- data
		}
		io.WriteString(w, `{"original_image":"a","annotated_image":"YW5ub3RhdGVk","detections":[{"class_name":"cup","confidence":0.7}]}`)
	}))
	defer server.Close()

	source := writePhoto(t)
	camera := &gatedCamera{source: utils.NewFileCamera(source)}
	speaker := &recordingSpeaker{}
	client := NewDetectionClient(server.URL, nil, nil, speaker, nil).WithCamera(camera, utils.FlashAuto)

	result, err := client.CaptureAndDetectObjects(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(<-uploads))
	assert.Equal(t, "Detected 1 cup", speaker.Texts()[1])

	camera.mu.Lock()
	assert.Equal(t, camera.taken, camera.deleted)
	camera.mu.Unlock()

	out := filepath.Join(t.TempDir(), "annotated.jpg")
	require.NoError(t, WriteAnnotatedImage(result, out))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "annotated", string(data))
}

func TestCaptureAndDetectTextCameraFailure(t *testing.T) {
	camera := &gatedCamera{source: utils.NewFileCamera(writePhoto(t)), err: assert.AnError}
	speaker := &recordingSpeaker{}
	client := NewDetectionClient("http://localhost", nil, nil, speaker, nil).WithCamera(camera, utils.FlashOff)

	_, err := client.CaptureAndDetectText(context.Background())
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindCapture))
	assert.Equal(t, []string{models.NARRATION_CAPTURE_ERROR}, speaker.Texts())
}

func TestCaptureWithoutCamera(t *testing.T) {
	client := NewDetectionClient("http://localhost", nil, nil, nil, nil)
	_, err := client.CaptureAndDetectObjects(context.Background())
	assert.True(t, utils.IsKind(err, utils.KindCapture))
}

func TestWriteAnnotatedImageRejectsGarbage(t *testing.T) {
	err := WriteAnnotatedImage(models.ObjectDetectionResult{AnnotatedImage: "%%%"}, filepath.Join(t.TempDir(), "x.jpg"))
	assert.True(t, utils.IsKind(err, utils.KindParse))
}
