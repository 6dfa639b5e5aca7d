package supervisor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bits0rcerer/wellenbrecher/internal/config"
	"github.com/bits0rcerer/wellenbrecher/internal/logging"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Width:            4,
		Height:           4,
		Port:             0,
		Threads:          1,
		ConnectionsPerIP: 0,
		CanvasFileLink:   filepath.Join(t.TempDir(), "canvas"),
		LogLevel:         "error",
		LogFormat:        "text",
	}
}

func TestNewOpensCanvasAndSkipsMetricsWhenUnset(t *testing.T) {
	s, err := New(testConfig(t), logging.Nop())
	require.NoError(t, err)
	require.NotNil(t, s.canvas)
	require.Nil(t, s.metricsServer)
	require.Equal(t, uint32(4), s.canvas.Width())
	require.Equal(t, uint32(4), s.canvas.Height())

	s.teardown()
}

func TestNewStartsMetricsWhenAddrSet(t *testing.T) {
	cfg := testConfig(t)
	cfg.MetricsAddr = "127.0.0.1:0"
	s, err := New(cfg, logging.Nop())
	require.NoError(t, err)
	require.NotNil(t, s.metricsServer)

	s.teardown()
}
