package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isdmx/funcbox/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		mode    string
		level   string
		wantErr bool
	}{
		{name: "Production", mode: "production", level: "info"},
		{name: "Development", mode: "development", level: "debug"},
		{name: "WarnLevel", mode: "production", level: "warn"},
		{name: "InvalidMode", mode: "staging", level: "info", wantErr: true},
		{name: "InvalidLevel", mode: "production", level: "loud", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.mode, tt.level)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, logger)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			_ = logger.Sync()
		})
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := &config.Config{Logging: config.LoggingConfig{Mode: "production", Level: "info"}}

	logger, err := NewFromConfig(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}
