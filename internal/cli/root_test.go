package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SteelMorgan/nginx-sqlize/internal/cli/commands"
)

const sampleLog = `78.153.140.148 - - [16/May/2025:00:06:10 +0000] "GET /.env HTTP/1.1" 404 153 "-" "Mozilla/5.0"
10.0.0.1 - alice [16/May/2025:00:07:00 +0000] "POST /api/login HTTP/1.1" 200 512 "https://example.com/" "curl/8.0"
this line is not an access log entry
`

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	code := execute(context.Background(), root, args)
	return code, stdout.String(), stderr.String()
}

func setup(t *testing.T) (logPath, dbPath string) {
	t.Helper()
	dir := t.TempDir()
	logPath = filepath.Join(dir, "access.log")
	require.NoError(t, os.WriteFile(logPath, []byte(sampleLog), 0o644))
	return logPath, filepath.Join(dir, "data", "logs.db")
}

func TestCommandsRegistered(t *testing.T) {
	root := NewRootCommand()
	for _, name := range []string{"ingest", "info", "query", "export", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	for _, flag := range []string{"db", "config", "verbose", "log-file"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, "version")
	assert.Equal(t, 0, code)
	assert.Equal(t, "nginx-sqlize "+commands.Version+"\n", out)
}

func TestIngestAndReport(t *testing.T) {
	logPath, dbPath := setup(t)

	code, out, stderr := run(t, "ingest", "--logs", logPath, "--db", dbPath)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "- Records inserted: 2")
	assert.Contains(t, out, "- Lines failed to parse: 1")
	assert.Contains(t, out, "- Total entries in database: 2")

	// Nothing new the second time
	code, out, _ = run(t, "ingest", "--logs", logPath, "--db", dbPath)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "- Records inserted: 0")
	assert.Contains(t, out, "skipped 1")
	assert.Contains(t, out, "- Total entries in database: 2")

	code, out, stderr = run(t, "info", "--db", dbPath, "--runs", "5")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "- Total records: 2")
	assert.Contains(t, out, "- Schema version: 1")
	assert.Contains(t, out, logPath)
	assert.Contains(t, out, "404: 1")
	assert.Contains(t, out, "Recent runs:")

	code, out, stderr = run(t, "query", "status", "--db", dbPath, "--format", "json")
	require.Equal(t, 0, code, stderr)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Len(t, rows, 2)

	code, out, stderr = run(t, "export", "--db", dbPath, "--type", "errors")
	require.Equal(t, 0, code, stderr)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "/.env")

	pq := filepath.Join(t.TempDir(), "all.parquet")
	code, _, stderr = run(t, "export", "--db", dbPath, "--format", "parquet", "--out", pq)
	require.Equal(t, 0, code, stderr)
	fi, err := os.Stat(pq)
	require.NoError(t, err)
	assert.Positive(t, fi.Size())
}

func TestIngestForceDuplicates(t *testing.T) {
	logPath, dbPath := setup(t)

	code, _, _ := run(t, "ingest", "--logs", logPath, "--db", dbPath)
	require.Equal(t, 0, code)
	code, out, _ := run(t, "ingest", "--logs", logPath, "--db", dbPath, "--force")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "- Total entries in database: 4")
}

func TestIngestVerboseListsFiles(t *testing.T) {
	logPath, dbPath := setup(t)

	code, out, _ := run(t, "ingest", "--logs", logPath, "--db", dbPath, "-v")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "done")
	assert.Contains(t, out, logPath)
}

func TestIngestNoMatchExitsOne(t *testing.T) {
	_, dbPath := setup(t)

	code, _, stderr := run(t, "ingest", "--logs", filepath.Join(t.TempDir(), "*.log"), "--db", dbPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "Error:")
}

func TestIngestPartialMatchIngestsAndExitsOne(t *testing.T) {
	logPath, dbPath := setup(t)
	missing := filepath.Join(t.TempDir(), "*.log")

	code, out, stderr := run(t, "ingest", "--logs", logPath, "--logs", missing, "--db", dbPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, missing)
	assert.Contains(t, out, "- Records inserted: 2")
	assert.Contains(t, out, "- Patterns with no files: "+missing)
}

func TestIngestRequiresLogs(t *testing.T) {
	_, dbPath := setup(t)

	code, _, stderr := run(t, "ingest", "--db", dbPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "logs")
}

func TestIngestRejectsBadBatchSize(t *testing.T) {
	logPath, dbPath := setup(t)

	code, _, stderr := run(t, "ingest", "--logs", logPath, "--db", dbPath, "--batch-size", "5")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "batch size")
}

func TestReadCommandsNeedDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "missing.db")

	for _, args := range [][]string{
		{"info", "--db", dbPath},
		{"query", "overview", "--db", dbPath},
		{"export", "--db", dbPath},
	} {
		code, _, stderr := run(t, args...)
		assert.Equal(t, 1, code, args)
		assert.Contains(t, stderr, "database file not found", args)
		_, err := os.Stat(dbPath)
		assert.True(t, os.IsNotExist(err), "read command must not create the database")
	}
}

func TestQueryErrors(t *testing.T) {
	logPath, dbPath := setup(t)
	code, _, _ := run(t, "ingest", "--logs", logPath, "--db", dbPath)
	require.Equal(t, 0, code)

	code, _, stderr := run(t, "query", "nope", "--db", dbPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "nope")

	code, _, stderr = run(t, "query", "status", "--db", dbPath, "--format", "xml")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unknown format")
}

func TestParquetExportNeedsOut(t *testing.T) {
	code, _, stderr := run(t, "export", "--format", "parquet")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "--out")
}
