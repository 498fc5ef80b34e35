package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr bool
	}{
		{name: "console info", level: "info", format: "console"},
		{name: "json debug", level: "debug", format: "json"},
		{name: "empty format defaults to console", level: "warn", format: ""},
		{name: "upper case level", level: "ERROR", format: "json"},
		{name: "unknown level", level: "loud", format: "json", wantErr: true},
		{name: "unknown format", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, logger)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
		})
	}
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	logger, err := NewLogger("warn", "json")
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))
}

func TestNewConfig_WritesRunOutputToStdout(t *testing.T) {
	for _, format := range []string{FormatConsole, FormatJSON} {
		t.Run(format, func(t *testing.T) {
			cfg, err := newConfig("info", format)
			require.NoError(t, err)

			assert.Equal(t, []string{"stdout"}, cfg.OutputPaths)
			assert.Equal(t, []string{"stderr"}, cfg.ErrorOutputPaths)
		})
	}
}
