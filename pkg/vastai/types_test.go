package vastai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchOptionsRuntype(t *testing.T) {
	tests := []struct {
		name string
		opts LaunchOptions
		want string
	}{
		{"default", LaunchOptions{}, "ssh"},
		{"args", LaunchOptions{Args: []string{"python", "train.py"}}, "args"},
		{"jupyter", LaunchOptions{Jupyter: true}, "jupyter_proxy ssh_proxy"},
		{"jupyter direct", LaunchOptions{JupyterLab: true, Direct: true}, "jupyter_direc ssh_direct ssh_proxy"},
		{"ssh", LaunchOptions{SSH: true}, "ssh_proxy"},
		{"ssh direct", LaunchOptions{SSH: true, Direct: true}, "ssh_direct ssh_proxy"},
		// The explicit SSH flag wins over jupyter and args, matching the
		// console client's flag resolution.
		{"ssh overrides jupyter", LaunchOptions{SSH: true, Jupyter: true}, "ssh_proxy"},
		{"ssh overrides args", LaunchOptions{SSH: true, Args: []string{"sh"}}, "ssh_proxy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.runtype()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLaunchOptionsRuntypeJupyterArgsConflict(t *testing.T) {
	opts := LaunchOptions{Jupyter: true, Args: []string{"sh"}}
	_, err := opts.runtype()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jupyter and args")

	// The conflict is reported even when SSH would override the result.
	opts.SSH = true
	_, err = opts.runtype()
	require.Error(t, err)
}
