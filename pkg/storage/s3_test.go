package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttachmentKey(t *testing.T) {
	key := AttachmentKey("chan-1", "up-1", "report.pdf")
	assert.Equal(t, "attachments/chan-1/up-1/report.pdf", key)
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "photo.png", "photo.png"},
		{"path stripped", "../../etc/passwd", "passwd"},
		{"spaces and specials", "my file (1).png", "my_file__1_.png"},
		{"empty", "", "file"},
		{"dot only", ".", "file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFilename(tt.in))
		})
	}
}
