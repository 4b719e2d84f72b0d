package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvFlags(t *testing.T) {
	env, err := parseEnvFlags([]string{"FOO=bar", "EMPTY=", "URL=http://x?a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"FOO":   "bar",
		"EMPTY": "",
		"URL":   "http://x?a=b",
	}, env)

	env, err = parseEnvFlags(nil)
	require.NoError(t, err)
	assert.Nil(t, env)

	_, err = parseEnvFlags([]string{"NOVALUE"})
	assert.Error(t, err)

	_, err = parseEnvFlags([]string{"=value"})
	assert.Error(t, err)
}

func TestParseInstanceID(t *testing.T) {
	id, err := parseInstanceID("4330147")
	require.NoError(t, err)
	assert.Equal(t, 4330147, id)

	for _, bad := range []string{"abc", "-1", "0", ""} {
		_, err := parseInstanceID(bad)
		assert.Error(t, err, "input %q", bad)
	}
}
