package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("writes JSON with key values", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&Config{Level: DebugLevel, Output: &buf, JSON: true})
		l.With("run_id", "r-1").Info("stage completed", "stage", "validation")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "stage completed", entry["msg"])
		assert.Equal(t, "r-1", entry["run_id"])
		assert.Equal(t, "validation", entry["stage"])
	})

	t.Run("drops messages below the level", func(t *testing.T) {
		var buf bytes.Buffer
		l := NewLogger(&Config{Level: WarnLevel, Output: &buf})
		l.Info("hidden")
		assert.Empty(t, buf.String())
		l.Warn("shown")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestFromContext(t *testing.T) {
	t.Run("returns the stored logger", func(t *testing.T) {
		l := NewLogger(TestConfig())
		ctx := ContextWithLogger(context.Background(), l)
		assert.Same(t, l, FromContext(ctx))
	})

	t.Run("falls back to the default logger", func(t *testing.T) {
		assert.NotNil(t, FromContext(context.Background()))
	})
}
