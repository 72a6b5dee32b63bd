package utils

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestEncodeFrameDownsamples(t *testing.T) {
	encoded, err := EncodeFrame(testPNG(t, 640, 480), 224, 224)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 224, 224), img.Bounds())
}

func TestEncodeFrameRejectsGarbage(t *testing.T) {
	_, err := EncodeFrame([]byte("garbage"), 224, 224)
	assert.True(t, IsKind(err, KindCapture))
}

func TestEncodeFrameFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(path, testPNG(t, 32, 32), 0o600))

	encoded, err := EncodeFrameFile(path, 16, 16)
	require.NoError(t, err)
	assert.NotEmpty(t, encoded)

	_, err = EncodeFrameFile(filepath.Join(t.TempDir(), "missing.png"), 16, 16)
	assert.True(t, IsKind(err, KindCapture))
}
