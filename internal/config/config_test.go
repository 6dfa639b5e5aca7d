package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func newFlagSet(t *testing.T, args []string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDefaults(t *testing.T) {
	fs := newFlagSet(t, nil)
	cfg, err := Load(fs)
	require.NoError(t, err)
	require.EqualValues(t, 800, cfg.Width)
	require.EqualValues(t, 600, cfg.Height)
	require.Equal(t, 1337, cfg.Port)
	require.EqualValues(t, 0, cfg.ConnectionsPerIP)
}

func TestFlagOverridesDefault(t *testing.T) {
	fs := newFlagSet(t, []string{"--width=4", "--height=4", "--port=2342", "-c", "2"})
	cfg, err := Load(fs)
	require.NoError(t, err)
	require.EqualValues(t, 4, cfg.Width)
	require.EqualValues(t, 4, cfg.Height)
	require.Equal(t, 2342, cfg.Port)
	require.EqualValues(t, 2, cfg.ConnectionsPerIP)
}

func TestFlagWinsOverEnv(t *testing.T) {
	t.Setenv("WELLENBRECHER_PORT", "9999")
	fs := newFlagSet(t, []string{"--port=1337"})
	cfg, err := Load(fs)
	require.NoError(t, err)
	require.Equal(t, 1337, cfg.Port)
}

func TestEnvUsedWhenFlagAbsent(t *testing.T) {
	t.Setenv("WELLENBRECHER_PORT", "9999")
	fs := newFlagSet(t, nil)
	cfg, err := Load(fs)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Port)
}

func TestHyphenatedFlagEnvVarUsesUnderscore(t *testing.T) {
	t.Setenv("WELLENBRECHER_CONNECTIONS_PER_IP", "5")
	fs := newFlagSet(t, nil)
	cfg, err := Load(fs)
	require.NoError(t, err)
	require.EqualValues(t, 5, cfg.ConnectionsPerIP)
}

func TestInvalidWidthRejected(t *testing.T) {
	fs := newFlagSet(t, []string{"--width=0"})
	_, err := Load(fs)
	require.Error(t, err)
}

func TestInvalidPortRejected(t *testing.T) {
	fs := newFlagSet(t, []string{"--port=70000"})
	_, err := Load(fs)
	require.Error(t, err)
}
