package utils

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

type FlashMode string

const (
	FlashOff  FlashMode = "off"
	FlashOn   FlashMode = "on"
	FlashAuto FlashMode = "auto"
)

// ParseFlashMode accepts off, on or auto. Empty means off.
func ParseFlashMode(s string) (FlashMode, error) {
	switch FlashMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", FlashOff:
		return FlashOff, nil
	case FlashOn:
		return FlashOn, nil
	case FlashAuto:
		return FlashAuto, nil
	}
	return FlashOff, NewError(KindConfig, "flash_mode", fmt.Sprintf("unknown flash mode %q", s))
}

// Photo is a still written to temporary storage. The caller owns Path and
// must hand it back to DeletePhoto.
type Photo struct {
	Path string
}

type CameraCapture struct {
	DeviceID int
	Binary   string
	TempDir  string
}

func NewCameraCapture(deviceID int) *CameraCapture {
	return &CameraCapture{
		DeviceID: deviceID,
		Binary:   "ffmpeg",
	}
}

// TakePhoto grabs a single JPEG frame from the camera into a temp file.
// quality is in [0,1]; flash is accepted for API parity but desktop capture
// devices have no flash to drive.
func (c *CameraCapture) TakePhoto(ctx context.Context, quality float64, flash FlashMode) (Photo, error) {
	if flash != "" && flash != FlashOff {
		zap.L().Debug("Flash not supported by capture device, ignoring", zap.String("flash", string(flash)))
	}

	file, err := os.CreateTemp(c.TempDir, "lookout-frame-*.jpg")
	if err != nil {
		return Photo{}, Wrap(KindCapture, "take_photo", "cannot create temp file", err)
	}
	path := file.Name()
	file.Close()

	args, err := c.captureArgs(runtime.GOOS, quality, path)
	if err != nil {
		os.Remove(path)
		return Photo{}, err
	}

	cmd := exec.CommandContext(ctx, c.Binary, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		os.Remove(path)
		zap.L().Error("Failed to capture image from camera", zap.Error(err), zap.ByteString("output", tail(output, 512)))
		return Photo{}, Wrap(KindCapture, "take_photo", "failed to capture image", err)
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		os.Remove(path)
		return Photo{}, NewError(KindCapture, "take_photo", "no image data captured")
	}

	zap.L().Debug("Successfully captured image", zap.Int64("size", info.Size()), zap.String("path", path))
	return Photo{Path: path}, nil
}

func (c *CameraCapture) DeletePhoto(path string) error {
	return deletePhoto(path)
}

func (c *CameraCapture) captureArgs(goos string, quality float64, path string) ([]string, error) {
	var input []string
	switch goos {
	case "darwin":
		input = []string{"-f", "avfoundation", "-video_size", "640x480", "-framerate", "30", "-i", strconv.Itoa(c.DeviceID)}
	case "linux":
		input = []string{"-f", "v4l2", "-video_size", "640x480", "-i", fmt.Sprintf("/dev/video%d", c.DeviceID)}
	case "windows":
		input = []string{"-f", "dshow", "-video_size", "640x480", "-i", "video=USB Camera"}
	default:
		return nil, NewError(KindCapture, "take_photo", fmt.Sprintf("unsupported operating system: %s", goos))
	}

	args := append([]string{"-y", "-loglevel", "error"}, input...)
	return append(args, "-vframes", "1", "-q:v", strconv.Itoa(jpegQScale(quality)), path), nil
}

// jpegQScale maps [0,1] quality onto ffmpeg's mjpeg qscale, 31 (worst) to 2 (best).
func jpegQScale(quality float64) int {
	q := math.Max(0, math.Min(1, quality))
	return int(math.Round(31 - q*29))
}

// FileCamera serves a fixed image through the camera contract, copying it to
// a fresh temp file per shot so deletion behaves like a real capture.
type FileCamera struct {
	Source  string
	TempDir string
}

func NewFileCamera(source string) *FileCamera {
	return &FileCamera{Source: source}
}

func (c *FileCamera) TakePhoto(ctx context.Context, quality float64, flash FlashMode) (Photo, error) {
	if err := ctx.Err(); err != nil {
		return Photo{}, Wrap(KindCapture, "take_photo", "capture cancelled", err)
	}

	src, err := os.Open(c.Source)
	if err != nil {
		return Photo{}, Wrap(KindCapture, "take_photo", "cannot open source image", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(c.TempDir, "lookout-frame-*.img")
	if err != nil {
		return Photo{}, Wrap(KindCapture, "take_photo", "cannot create temp file", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return Photo{}, Wrap(KindCapture, "take_photo", "cannot copy source image", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return Photo{}, Wrap(KindCapture, "take_photo", "cannot write temp file", err)
	}
	return Photo{Path: dst.Name()}, nil
}

func (c *FileCamera) DeletePhoto(path string) error {
	return deletePhoto(path)
}

func deletePhoto(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return Wrap(KindCapture, "delete_photo", "file cleanup failed", err)
	}
	return nil
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
