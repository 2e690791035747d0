package matrix

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefinition_Valid(t *testing.T) {
	path := writeDefinition(t, `
offline:
  axes:
    - name: platform
      values: [linux, macos]
    - name: runtime
      values: ["1.21", "1.22"]
  exclude:
    - platform: macos
      runtime: "1.21"
  command: ["go", "test", "./..."]
  max_retries: 2
online:
  axes:
    - name: account
      values: [personal, business]
  credentials:
    axis: account
    slots:
      personal: ci-personal
      business: ci-business
  command: ["go", "test", "-tags=online", "./..."]
  max_retries: 1
`)

	def, err := LoadDefinition(path)
	require.NoError(t, err)
	require.NotNil(t, def.Online)

	offline, err := def.Offline.Lanes()
	require.NoError(t, err)
	assert.Len(t, offline, 3, "four combinations minus one exclusion")

	online, err := def.Online.Lanes()
	require.NoError(t, err)
	require.Len(t, online, 2)
	assert.Equal(t, "ci-personal", online[0].Slot)
}

func TestLoadDefinition_OfflineOnly(t *testing.T) {
	path := writeDefinition(t, `
offline:
  axes:
    - name: runtime
      values: ["1.22"]
  command: ["go", "test", "./..."]
`)
	def, err := LoadDefinition(path)
	require.NoError(t, err)
	assert.Nil(t, def.Online)
}

func TestLoadDefinition_MissingFile(t *testing.T) {
	_, err := LoadDefinition(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name: "no axes",
			content: `
offline:
  command: ["go", "test"]
`,
			errMsg: "at least one axis",
		},
		{
			name: "no command",
			content: `
offline:
  axes:
    - name: runtime
      values: ["1.22"]
`,
			errMsg: "command is required",
		},
		{
			name: "duplicate axis",
			content: `
offline:
  axes:
    - name: runtime
      values: ["1.21"]
    - name: runtime
      values: ["1.22"]
  command: ["go", "test"]
`,
			errMsg: "duplicate axis",
		},
		{
			name: "negative retries",
			content: `
offline:
  axes:
    - name: runtime
      values: ["1.22"]
  command: ["go", "test"]
  max_retries: -1
`,
			errMsg: "max_retries",
		},
		{
			name: "online without credentials",
			content: `
offline:
  axes:
    - name: runtime
      values: ["1.22"]
  command: ["go", "test"]
online:
  axes:
    - name: account
      values: [personal]
  command: ["go", "test"]
`,
			errMsg: "credentials binding is required",
		},
		{
			name: "credentials on unknown axis",
			content: `
offline:
  axes:
    - name: runtime
      values: ["1.22"]
  command: ["go", "test"]
online:
  axes:
    - name: account
      values: [personal]
  credentials:
    axis: region
    slots:
      personal: ci-personal
  command: ["go", "test"]
`,
			errMsg: "unknown axis",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadDefinition(writeDefinition(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}
}
