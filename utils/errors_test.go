package utils

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindTransport, "dial", "failed", nil))
}

func TestWrapKeepsTypedError(t *testing.T) {
	inner := NewError(KindParse, "decode", "bad payload")
	outer := Wrap(KindTransport, "read", "failed", inner)

	assert.Same(t, inner, outer)
	assert.True(t, IsKind(outer, KindParse))
	assert.False(t, IsKind(outer, KindTransport))
}

func TestIsKindThroughFmtWrap(t *testing.T) {
	base := Wrap(KindCapture, "take_photo", "camera busy", errors.New("device busy"))
	wrapped := fmt.Errorf("tick: %w", base)

	assert.True(t, IsKind(wrapped, KindCapture))
	assert.Contains(t, wrapped.Error(), "[capture:take_photo] camera busy: device busy")
}

func TestIsKindPlainError(t *testing.T) {
	assert.False(t, IsKind(errors.New("plain"), KindStorage))
}
