package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		level        string
		format       string
		wantErr      bool
		wantContains string
		wantDebug    bool
	}{
		{name: "given json at info, then json lines", level: "info", format: "json", wantContains: `"message":"hello"`},
		{name: "given console, then plain text", level: "debug", format: "console", wantContains: "hello", wantDebug: true},
		{name: "given unknown level, then error", level: "loud", format: "json", wantErr: true},
		{name: "given unknown format, then error", level: "info", format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			logger, err := New(&buf, tt.level, tt.format)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			logger.Info().Msg("hello")
			logger.Debug().Msg("detail")

			assert.Contains(t, buf.String(), tt.wantContains)
			assert.Equal(t, tt.wantDebug, bytes.Contains(buf.Bytes(), []byte("detail")))
		})
	}
}
