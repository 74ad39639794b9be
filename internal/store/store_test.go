package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncatePreview(t *testing.T) {
	assert.Equal(t, "short", truncatePreview("short"))
	assert.Equal(t, "1234567…", truncatePreview("12345678"))
	assert.Equal(t, "统计22级男生", truncatePreview("统计22级男生"))
	assert.Equal(t, "统计22级男生…", truncatePreview("统计22级男生各班人数"))
}
