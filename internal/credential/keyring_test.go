package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordKey(t *testing.T) {
	assert.Equal(t, "imap:me@home.example", PasswordKey("  Me@Home.example "))
}

func TestPasswordPrefersEnvironment(t *testing.T) {
	t.Setenv(PasswordEnv, "s3cret")
	pw, err := Password("me@home.example")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)
}
