package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
units:
  - id: n1
    layer: L4
    forwards_to: [n2]
  - id: n2
    layer: L3
backend:
  mode: mock
router:
  queue_capacity: 512
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cortex.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTemp(t, sampleYAML))
	require.NoError(t, err)
	assert.Len(t, cfg.Units, 2)
	assert.Equal(t, "mock", cfg.Backend.Mode)
	assert.Equal(t, 512, cfg.Router.QueueCapacity)
}

func TestLoadRejectsDuplicateUnitIDs(t *testing.T) {
	_, err := Load(writeTemp(t, `
units:
  - id: n1
    layer: L4
  - id: n1
    layer: L3
backend:
  mode: mock
`))
	require.Error(t, err)
}

func TestLoadRejectsUnknownForwardTarget(t *testing.T) {
	_, err := Load(writeTemp(t, `
units:
  - id: n1
    layer: L4
    forwards_to: [ghost]
backend:
  mode: mock
`))
	require.Error(t, err)
}

func TestLoadRequiresAPIKeyInAPIMode(t *testing.T) {
	_, err := Load(writeTemp(t, `
units:
  - id: n1
    layer: L4
backend:
  mode: api
  endpoint: https://example.test/v1/complete
`))
	require.Error(t, err)
}
