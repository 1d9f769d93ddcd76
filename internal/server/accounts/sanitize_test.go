package accounts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a@b.com", "a@b.com"},
		{"first.last-name_1@example.org", "first.last-name_1@example.org"},
		{"a//b@c.com", "ab@c.com"},
		{"evil\"; rm -rf /", "evil rm -rf "},
		{"jürgen@straße.de", "jürgen@straße.de"},
		{"tok+en/=", "token"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Sanitize(tt.in), tt.in)
	}
}
