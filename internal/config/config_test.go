package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("stark")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "stark", cfg.Armory.ID)
	assert.Equal(t, 1, cfg.Suits.DefaultVersion)
	assert.Equal(t, "/v0", cfg.Server.BasePath)
	assert.Empty(t, cfg.Webhooks)
}

func TestFromYAMLWebhooks(t *testing.T) {
	cfg, err := FromYAML([]byte(`
armory:
  id: malibu
suits:
  default_version: 42
webhooks:
  - url: http://localhost:9000/hook
    events: [suit.repaired]
    timeout_seconds: 2
`))
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Suits.DefaultVersion)
	require.Len(t, cfg.Webhooks, 1)
	assert.Equal(t, []string{"suit.repaired"}, cfg.Webhooks[0].Events)
	assert.Equal(t, 2, cfg.Webhooks[0].TimeoutSeconds)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"missing id":    "suits:\n  default_version: 1\n",
		"bad base path": "armory:\n  id: x\nserver:\n  base_path: v0\n",
		"empty url":     "armory:\n  id: x\nwebhooks:\n  - url: ''\n",
		"unknown event": "armory:\n  id: x\nwebhooks:\n  - url: http://h\n    events: [task.done]\n",
		"bad yaml":      "armory: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	_, err = Load(dir)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(GenerateDefault("ws")), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "ws", cfg.Armory.ID)
}
