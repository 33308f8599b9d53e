package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes a fresh root command and returns its stdout.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// jsonResponse is CLIResponse with the payload left raw.
type jsonResponse struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Error   *CLIError       `json:"error"`
	Session string          `json:"session"`
}

func decodeResponse(t *testing.T, out string) jsonResponse {
	t.Helper()
	var resp jsonResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), "output: %s", out)
	return resp
}

func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	resp := decodeResponse(t, out)
	require.Equal(t, "ok", resp.Status, "output: %s", out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func testDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "streams.db")
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "streamctl", cmd.Use)
	assert.Contains(t, cmd.Long, "journaled")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"create"}, {"withdraw"}, {"refuel"}, {"cancel"},
		{"record", "complete"}, {"record", "cancel"}, {"rate"},
		{"stream"}, {"streams"}, {"stats", "global"}, {"stats", "sender"}, {"stats", "recipient"},
		{"period"}, {"profile"}, {"rating"}, {"history"}, {"snapshot"}, {"height"},
		{"replay"}, {"test"},
	}

	for _, path := range commands {
		name := path[len(path)-1]
		t.Run(name, func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, name, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "db", "authority", "period-length", "metrics-file"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "flag %s", name)
	}
}

func TestMutationFlags(t *testing.T) {
	cmd := NewRootCommand()
	withdrawCmd, _, err := cmd.Find([]string{"withdraw"})
	require.NoError(t, err)

	asFlag := withdrawCmd.Flags().Lookup("as")
	require.NotNil(t, asFlag)
	assert.Equal(t, "", asFlag.DefValue)

	atFlag := withdrawCmd.Flags().Lookup("at")
	require.NotNil(t, atFlag)
	assert.Equal(t, "0", atFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := runCLI(t, "height", "--db", testDB(t), "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "streamledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("authority: file-auth\ndatabase: file.db\nperiod_length: 50\n"), 0644))

	opts := &RootOptions{ConfigPath: path}
	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "file-auth", cfg.Authority)
	assert.Equal(t, "file.db", cfg.Database)
	assert.Equal(t, uint64(50), cfg.PeriodLength)

	opts = &RootOptions{ConfigPath: path, Database: "flag.db", Authority: "flag-auth", PeriodLength: 7, Verbose: true}
	cfg, err = opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "flag-auth", cfg.Authority)
	assert.Equal(t, "flag.db", cfg.Database)
	assert.Equal(t, uint64(7), cfg.PeriodLength)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestOpenNode_BadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("period_length: 0\n"), 0644))

	_, err := runCLI(t, "height", "--config", path, "--db", testDB(t))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestMetricsFile(t *testing.T) {
	db := testDB(t)
	metricsPath := filepath.Join(t.TempDir(), "streamledger.prom")

	_, err := runCLI(t, "create", "bob", "1000", "100", "200", "10",
		"--as", "alice", "--at", "90", "--db", db, "--metrics-file", metricsPath)
	require.NoError(t, err)

	data, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "streamledger_commands_total")
	assert.Contains(t, string(data), `result="ok"`)
}
