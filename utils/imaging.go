package utils

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"os"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const FRAME_JPEG_QUALITY = 70

// EncodeFrame decodes an image, scales it to width x height and returns it
// as base64 JPEG text suitable for a JSON frame.
func EncodeFrame(data []byte, width, height int) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", Wrap(KindCapture, "encode_frame", "cannot decode image", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: FRAME_JPEG_QUALITY}); err != nil {
		return "", Wrap(KindCapture, "encode_frame", "cannot encode jpeg", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func EncodeFrameFile(path string, width, height int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", Wrap(KindCapture, "encode_frame", "cannot read photo", err)
	}
	return EncodeFrame(data, width, height)
}
