package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SteelMorgan/nginx-sqlize/internal/accesslog"
	"github.com/SteelMorgan/nginx-sqlize/internal/domain"
	"github.com/SteelMorgan/nginx-sqlize/internal/store"
)

var fixtureLines = []string{
	`78.153.140.148 - - [16/May/2025:00:06:10 +0000] "GET /.env HTTP/1.1" 404 153 "-" "Mozilla/5.0"`,
	`78.153.140.148 - - [16/May/2025:00:06:11 +0000] "GET /.git/config HTTP/1.1" 404 153 "-" "Mozilla/5.0"`,
	`10.0.0.5 - alice [16/May/2025:01:10:00 +0000] "POST /api/login HTTP/1.1" 200 512 "https://example.com/" "curl/8.0"`,
	`10.0.0.5 - - [16/May/2025:01:11:00 +0000] "GET / HTTP/2.0" 200 2048 "https://example.com/" "Googlebot/2.1"`,
	`192.168.1.9 - - [17/May/2025:09:00:00 +0000] "GET /index.html HTTP/1.1" 500 - "-" "Mozilla/5.0"`,
}

func newEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "logs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	var recs []*domain.LogRecord
	for _, line := range fixtureLines {
		rec, err := accesslog.ParseLine(line)
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	res, err := s.InsertBatch(context.Background(), recs)
	require.NoError(t, err)
	require.Equal(t, len(fixtureLines), res.Inserted)
	return NewEngine(s.DB()), s
}

func column(t *testing.T, table *Table, name string) int {
	t.Helper()
	for i, c := range table.Columns {
		if c == name {
			return i
		}
	}
	t.Fatalf("column %q not in %v", name, table.Columns)
	return -1
}

func TestRun_AllQueriesExecute(t *testing.T) {
	e, _ := newEngine(t)
	for _, name := range QueryNames() {
		for _, period := range []string{"hour", "day"} {
			table, err := e.Run(context.Background(), name, Options{Limit: 5, Period: period})
			require.NoError(t, err, "query %s/%s", name, period)
			assert.Equal(t, name, table.Name)
			assert.NotEmpty(t, table.Columns)
			assert.NotEmpty(t, Describe(name))
		}
	}
}

func TestRun_Unknown(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.Run(context.Background(), "nope", Options{})
	assert.ErrorContains(t, err, "unknown query")
	_, err = e.Run(context.Background(), "traffic", Options{Period: "week"})
	assert.ErrorContains(t, err, "unknown period")
}

func TestRun_Status(t *testing.T) {
	e, _ := newEngine(t)
	table, err := e.Run(context.Background(), "status", Options{})
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)

	statusCol, countCol, catCol := column(t, table, "status"), column(t, table, "count"), column(t, table, "category")
	// 404 and 200 tie on count; both come before 500
	last := table.Rows[2]
	assert.Equal(t, int64(500), last[statusCol])
	assert.Equal(t, int64(1), last[countCol])
	assert.Equal(t, "server_error", last[catCol])
}

func TestRun_SecurityAndBots(t *testing.T) {
	e, _ := newEngine(t)

	sec, err := e.Run(context.Background(), "security", Options{Limit: 10})
	require.NoError(t, err)
	pathCol, typeCol := column(t, sec, "request_path"), column(t, sec, "attack_type")
	types := map[string]string{}
	for _, row := range sec.Rows {
		types[row[pathCol].(string)] = row[typeCol].(string)
	}
	assert.Equal(t, "config_file_probe", types["/.env"])
	assert.Equal(t, "config_file_probe", types["/.git/config"])

	bots, err := e.Run(context.Background(), "bots", Options{Limit: 10})
	require.NoError(t, err)
	require.Len(t, bots.Rows, 2)
	agents := []string{bots.Rows[0][0].(string), bots.Rows[1][0].(string)}
	assert.ElementsMatch(t, []string{"curl/8.0", "Googlebot/2.1"}, agents)
}

func TestRun_LimitApplies(t *testing.T) {
	e, _ := newEngine(t)
	table, err := e.Run(context.Background(), "ips", Options{Limit: 1})
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, int64(2), table.Rows[0][column(t, table, "requests")])
}

func TestStats(t *testing.T) {
	e, s := newEngine(t)
	require.NoError(t, s.UpsertProgress(context.Background(), domain.FileProgress{Filename: "/logs/a.log", LastPosition: 10}))

	st, err := e.Stats(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.Records)
	assert.Equal(t, int64(1), st.TrackedFiles)
	assert.Equal(t, "16/May/2025:00:06:10 +0000", st.FirstTimestamp)
	assert.Equal(t, "17/May/2025:09:00:00 +0000", st.LastTimestamp)
	require.Len(t, st.TopStatus, 2)
	assert.Equal(t, StatusCount{Status: 200, Count: 2}, st.TopStatus[0])
	assert.Equal(t, StatusCount{Status: 404, Count: 2}, st.TopStatus[1])
}

func TestExport_CSV(t *testing.T) {
	e, _ := newEngine(t)

	var buf bytes.Buffer
	n, err := e.Export(context.Background(), &buf, ExportErrors, FormatCSV, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "id", rows[0][0])
	assert.Equal(t, "/.env", rows[1][5])
	// NULL bytes_sent of the 500 row is an empty field
	assert.Equal(t, "", rows[3][8])

	buf.Reset()
	n, err = e.Export(context.Background(), &buf, ExportSummary, FormatCSV, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, strings.HasPrefix(buf.String(), "date,requests,unique_ips,errors"))
}

func TestExport_Parquet(t *testing.T) {
	e, _ := newEngine(t)
	path := filepath.Join(t.TempDir(), "records.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)

	n, err := e.Export(context.Background(), f, ExportAll, FormatParquet, 4)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Equal(t, 4, n)

	rows, err := parquet.ReadFile[RecordRow](path)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "78.153.140.148", rows[0].RemoteAddr)
	assert.Nil(t, rows[0].RemoteUser)
	require.NotNil(t, rows[2].RemoteUser)
	assert.Equal(t, "alice", *rows[2].RemoteUser)
	require.NotNil(t, rows[0].BytesSent)
	assert.Equal(t, int64(153), *rows[0].BytesSent)
}

func TestExport_ParquetSummary(t *testing.T) {
	e, _ := newEngine(t)
	path := filepath.Join(t.TempDir(), "summary.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	_, err = e.Export(context.Background(), f, ExportSummary, FormatParquet, 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	rows, err := parquet.ReadFile[SummaryRow](path)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "17/May/2025", rows[0].Date)
	assert.Equal(t, int64(1), rows[0].Errors)
	assert.Equal(t, int64(4), rows[1].Requests)
}

func TestExport_Unsupported(t *testing.T) {
	e, _ := newEngine(t)
	_, err := e.Export(context.Background(), &bytes.Buffer{}, "weekly", FormatCSV, 0)
	assert.Error(t, err)
	_, err = e.Export(context.Background(), &bytes.Buffer{}, ExportAll, "xml", 0)
	assert.Error(t, err)
}

func TestWriteTextAndJSON(t *testing.T) {
	table := &Table{Columns: []string{"metric", "value"}, Rows: [][]any{{"total", int64(5)}, {"rate", nil}}}

	var text bytes.Buffer
	require.NoError(t, WriteText(&text, table))
	assert.Contains(t, text.String(), "metric  value")
	assert.Contains(t, text.String(), "total   5")

	var js bytes.Buffer
	require.NoError(t, WriteJSON(&js, table))
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, float64(5), decoded[0]["value"])
	assert.Nil(t, decoded[1]["value"])
}
