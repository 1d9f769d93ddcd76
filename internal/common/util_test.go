package common

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomURLSafe_DecodesToRequestedSize(t *testing.T) {
	s, err := RandomURLSafe(64)
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(s)
	require.NoError(t, err)
	assert.Len(t, raw, 64)
	assert.NotContains(t, s, "/")
	assert.NotContains(t, s, "+")
}

func TestRandomURLSafe_ZeroSize(t *testing.T) {
	s, err := RandomURLSafe(0)
	require.NoError(t, err)
	assert.Empty(t, s)
}

func TestRandomString_UsesAlphabet(t *testing.T) {
	const alphabet = "abc123"
	s, err := RandomString(200, alphabet)
	require.NoError(t, err)
	require.Len(t, s, 200)
	for _, r := range s {
		assert.True(t, strings.ContainsRune(alphabet, r), "unexpected rune %q", r)
	}
}

func TestPermissionError_MatchesSentinel(t *testing.T) {
	var err error = &PermissionError{Permission: 8, Name: "Create Servers"}
	wrapped := fmt.Errorf("create: %w", err)

	assert.True(t, errors.Is(wrapped, ErrInsufficientPermissions))
	var pe *PermissionError
	require.True(t, errors.As(wrapped, &pe))
	assert.Equal(t, uint64(8), pe.Permission)
	assert.Contains(t, err.Error(), "Create Servers")
}

func TestFieldsError_MatchesSentinel(t *testing.T) {
	err := MissingFields("email_address", "password")
	assert.True(t, errors.Is(err, ErrMissingRequiredFields))
	assert.Equal(t, "missing required fields: email_address, password", err.Error())
}
