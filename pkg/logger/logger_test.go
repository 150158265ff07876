package logger

import (
	"testing"

	"propdesk-affiliate/pkg/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewReplacesGlobal(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })

	log := New(ConfigParams{Cfg: &config.Config{AppEnv: "production", AppName: "affiliate", NodeID: 2}})
	require.NotNil(t, log)
	require.Same(t, log, zap.L())
	require.False(t, log.Core().Enabled(zap.DebugLevel))

	dev := New(ConfigParams{Cfg: &config.Config{AppEnv: "development"}})
	require.True(t, dev.Core().Enabled(zap.DebugLevel))
}
