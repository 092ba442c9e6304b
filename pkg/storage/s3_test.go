package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateFrameType(t *testing.T) {
	for _, ct := range []string{"image/jpeg", "IMAGE/PNG", "image/webp"} {
		assert.True(t, ValidateFrameType(ct), ct)
	}
	for _, ct := range []string{"", "image/gif", "application/pdf"} {
		assert.False(t, ValidateFrameType(ct), ct)
	}
}

func TestContentTypeForKey(t *testing.T) {
	assert.Equal(t, "image/png", ContentTypeForKey("frames/m/p/1.PNG"))
	assert.Equal(t, "image/webp", ContentTypeForKey("frames/m/p/1.webp"))
	assert.Equal(t, "image/jpeg", ContentTypeForKey("frames/m/p/1.jpg"))
	assert.Equal(t, "image/jpeg", ContentTypeForKey("frames/m/p/1"))
}
