package env

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDotEnv(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected map[string]string
	}{
		{
			name:     "simple key-value",
			content:  "API_KEY=secret123",
			expected: map[string]string{"API_KEY": "secret123"},
		},
		{
			name:     "multiple keys",
			content:  "KEY1=value1\nKEY2=value2",
			expected: map[string]string{"KEY1": "value1", "KEY2": "value2"},
		},
		{
			name:     "double quoted value",
			content:  `API_KEY="secret with spaces"`,
			expected: map[string]string{"API_KEY": "secret with spaces"},
		},
		{
			name:     "single quoted value",
			content:  `API_KEY='secret with spaces'`,
			expected: map[string]string{"API_KEY": "secret with spaces"},
		},
		{
			name:     "mismatched quotes kept",
			content:  `API_KEY="half'`,
			expected: map[string]string{"API_KEY": `"half'`},
		},
		{
			name:     "export prefix",
			content:  "export POSTKIT_TIMEOUT=5000",
			expected: map[string]string{"POSTKIT_TIMEOUT": "5000"},
		},
		{
			name:     "comments and blank lines skipped",
			content:  "# comment\n\nKEY=v\n   \n# another",
			expected: map[string]string{"KEY": "v"},
		},
		{
			name:     "value containing equals",
			content:  "TOKEN=a=b=c",
			expected: map[string]string{"TOKEN": "a=b=c"},
		},
		{
			name:     "lines without equals and empty keys skipped",
			content:  "JUSTTEXT\n=value\nOK=1",
			expected: map[string]string{"OK": "1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDotEnv(strings.NewReader(tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	_, err := LoadDotEnv(filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "cannot open env file")
}

func TestLoadAndExportDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("POSTKIT_TEST_NEW=fromfile\nPOSTKIT_TEST_SET=fromfile\n"), 0644))

	t.Setenv("POSTKIT_TEST_SET", "fromenv")
	t.Setenv("POSTKIT_TEST_NEW", "")
	require.NoError(t, os.Unsetenv("POSTKIT_TEST_NEW"))

	vars, err := LoadAndExportDotEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "fromfile", vars["POSTKIT_TEST_NEW"])
	assert.Equal(t, "fromfile", os.Getenv("POSTKIT_TEST_NEW"))
	assert.Equal(t, "fromenv", os.Getenv("POSTKIT_TEST_SET"), "existing variables are not overwritten")
}
