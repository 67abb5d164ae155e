package config

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9554"
  address: "192.168.1.20"
stream:
  path: "camera/front"
  max_payload_size: 1200
logging:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9554", cfg.Server.Listen)
	assert.Equal(t, "192.168.1.20", cfg.Server.Address)
	assert.Equal(t, "camera/front", cfg.Stream.Path)
	assert.Equal(t, 1200, cfg.Stream.MaxPayloadSize)
	assert.Equal(t, log.DebugLevel, cfg.LogrusLevel())
}

func TestLoadKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: warning
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8554", cfg.Server.Listen)
	assert.Equal(t, "mjpeg/1", cfg.Stream.Path)
	assert.Equal(t, 1400, cfg.Stream.MaxPayloadSize)
}

func TestLoadInvalid(t *testing.T) {
	for name, content := range map[string]string{
		"bad level":        "logging:\n  level: loud\n",
		"bad payload size": "stream:\n  max_payload_size: 9\n",
		"empty path":       "stream:\n  path: \"\"\n",
		"not yaml":         "{{{",
	} {
		path := writeConfig(t, content)
		_, err := Load(path)
		assert.Error(t, err, name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
