package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrey-berenda/paysettle/internal/pkg/config"
	"github.com/andrey-berenda/paysettle/internal/pkg/models"
)

func TestNewLoggerWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paysettle.log")
	logger, err := NewLogger(config.LogConfig{Path: path, Level: "debug"})
	require.NoError(t, err)

	logger.Desugar().Info("payment settled", OrderID("ORD-1"), Provider(models.ProviderYoco))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"order_id":"ORD-1"`)
	assert.Contains(t, string(data), `"provider":"yoco"`)
	assert.Contains(t, string(data), `"msg":"payment settled"`)
}

func TestNewLoggerBadLevel(t *testing.T) {
	_, err := NewLogger(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
