package auth

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPasswordStrategy(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		pw, err := DefaultPasswordStrategy(context.Background())
		require.NoError(t, err)
		assert.Len(t, pw, 2*passwordBytes)

		raw, err := hex.DecodeString(pw)
		require.NoError(t, err)
		assert.Len(t, raw, passwordBytes)

		_, dup := seen[pw]
		assert.False(t, dup, "password repeated: %s", pw)
		seen[pw] = struct{}{}
	}
}

func TestSettings_WithDefaults(t *testing.T) {
	s := Settings{}.withDefaults()
	assert.Equal(t, DefaultGroupPrefix, s.GroupPrefix)
	assert.Equal(t, "crowd-authenticator:", s.GroupPrefix)
	assert.NotNil(t, s.PasswordStrategy)
	assert.Empty(t, s.DefaultGroups)

	defaults := []string{"default"}
	s = Settings{GroupPrefix: "p:", DefaultGroups: defaults, PasswordStrategy: fixedPassword}.withDefaults()
	assert.Equal(t, "p:", s.GroupPrefix)
	pw, err := s.PasswordStrategy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed-password", pw)

	// The caller's slice is not shared.
	defaults[0] = "changed"
	assert.Equal(t, []string{"default"}, s.DefaultGroups)
}
