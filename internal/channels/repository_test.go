package channels

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "deploy", "deploy"},
		{"percent", "100%", `100\%`},
		{"underscore", "foo_bar", `foo\_bar`},
		{"backslash", `a\b`, `a\\b`},
		{"mixed", `50%_\done`, `50\%\_\\done`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeLike(tt.in))
		})
	}
}
