package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
authority: engine
database: /var/lib/streamledger/journal.db
period_length: 10
log_level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "engine", cfg.Authority)
	assert.Equal(t, "/var/lib/streamledger/journal.db", cfg.Database)
	assert.Equal(t, uint64(10), cfg.PeriodLength)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DefaultLogFormat, cfg.LogFormat, "unset fields keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "authority: a\nbogus: 1\n"},
		{"empty authority", "authority: \"\"\n"},
		{"empty database", "database: \"\"\n"},
		{"zero period", "period_length: 0\n"},
		{"negative period", "period_length: -3\n"},
		{"bad level", "log_level: verbose\n"},
		{"bad format", "log_format: xml\n"},
		{"not yaml", "authority: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestValidate_ReportsField(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_format")
}

func TestAuthorityPrincipal(t *testing.T) {
	cfg := Default()
	cfg.Authority = "  engine "
	assert.Equal(t, "engine", cfg.AuthorityPrincipal().String())
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	cfg := Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", 1)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	assert.Equal(t, slog.LevelDebug, Config{LogLevel: "debug"}.Level())
	assert.Equal(t, slog.LevelInfo, Config{LogLevel: "other"}.Level())
}
