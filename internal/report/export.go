package report

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// ExportType selects what is exported
type ExportType string

const (
	ExportAll     ExportType = "all"
	ExportErrors  ExportType = "errors"
	ExportSummary ExportType = "summary"
)

// ExportFormat selects the output encoding
type ExportFormat string

const (
	FormatCSV     ExportFormat = "csv"
	FormatParquet ExportFormat = "parquet"
)

// DefaultExportLimit caps record exports
const DefaultExportLimit = 10000

// RecordRow is one records row as written to Parquet
type RecordRow struct {
	ID            int64   `parquet:"id"`
	Timestamp     string  `parquet:"timestamp"`
	RemoteAddr    string  `parquet:"remote_addr"`
	RemoteUser    *string `parquet:"remote_user"`
	RequestMethod *string `parquet:"request_method"`
	RequestPath   *string `parquet:"request_path"`
	HTTPVersion   *string `parquet:"http_version"`
	Status        int32   `parquet:"status"`
	BytesSent     *int64  `parquet:"bytes_sent"`
	Referer       *string `parquet:"referer"`
	UserAgent     *string `parquet:"user_agent"`
	ProcessedAt   string  `parquet:"processed_at"`
}

// SummaryRow is one day of the summary export
type SummaryRow struct {
	Date      string `parquet:"date"`
	Requests  int64  `parquet:"requests"`
	UniqueIPs int64  `parquet:"unique_ips"`
	Errors    int64  `parquet:"errors"`
}

const recordColumns = `id, timestamp, remote_addr, remote_user, request_method, request_path,
	http_version, status, bytes_sent, referer, user_agent, processed_at`

const summarySQL = `
SELECT
	substr(timestamp, 1, 11) AS date,
	COUNT(*) AS requests,
	COUNT(DISTINCT remote_addr) AS unique_ips,
	SUM(CASE WHEN status >= 400 THEN 1 ELSE 0 END) AS errors
FROM records
GROUP BY date
ORDER BY MAX(id) DESC`

func exportSQL(typ ExportType) (string, bool, error) {
	switch typ {
	case ExportAll:
		return "SELECT " + recordColumns + " FROM records ORDER BY id LIMIT ?", true, nil
	case ExportErrors:
		return "SELECT " + recordColumns + " FROM records WHERE status >= 400 ORDER BY id LIMIT ?", true, nil
	case ExportSummary:
		return summarySQL, false, nil
	default:
		return "", false, fmt.Errorf("unsupported export type %q (use all, errors or summary)", typ)
	}
}

// Export writes the selected rows to w and returns how many were written
func (e *Engine) Export(ctx context.Context, w io.Writer, typ ExportType, format ExportFormat, limit int) (int, error) {
	q, limited, err := exportSQL(typ)
	if err != nil {
		return 0, err
	}
	var args []any
	if limited {
		if limit <= 0 {
			limit = DefaultExportLimit
		}
		args = append(args, limit)
	}

	switch format {
	case FormatCSV:
		table, err := e.query(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("export %s: %w", typ, err)
		}
		return len(table.Rows), WriteCSV(w, table)
	case FormatParquet:
		if typ == ExportSummary {
			return e.exportSummaryParquet(ctx, w, q)
		}
		return e.exportRecordsParquet(ctx, w, q, args...)
	default:
		return 0, fmt.Errorf("unsupported export format %q (use csv or parquet)", format)
	}
}

// WriteCSV writes a header row and all rows of t; NULLs become empty fields
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	record := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, v := range row {
			record[i] = formatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (e *Engine) exportRecordsParquet(ctx context.Context, w io.Writer, q string, args ...any) (int, error) {
	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("export records: %w", err)
	}
	defer rows.Close()

	pw := parquet.NewGenericWriter[RecordRow](w)
	buf := make([]RecordRow, 0, 1024)
	written := 0

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		n, err := pw.Write(buf)
		written += n
		buf = buf[:0]
		return err
	}

	for rows.Next() {
		var (
			r         RecordRow
			status    sql.NullInt64
			bytesSent sql.NullInt64
			ts, addr  sql.NullString
			processed sql.NullString
		)
		if err := rows.Scan(&r.ID, &ts, &addr, &r.RemoteUser, &r.RequestMethod, &r.RequestPath,
			&r.HTTPVersion, &status, &bytesSent, &r.Referer, &r.UserAgent, &processed); err != nil {
			return written, fmt.Errorf("scan record: %w", err)
		}
		r.Timestamp, r.RemoteAddr, r.ProcessedAt = ts.String, addr.String, processed.String
		r.Status = int32(status.Int64)
		if bytesSent.Valid {
			v := bytesSent.Int64
			r.BytesSent = &v
		}
		buf = append(buf, r)
		if len(buf) == cap(buf) {
			if err := flush(); err != nil {
				return written, fmt.Errorf("write parquet: %w", err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return written, err
	}
	if err := flush(); err != nil {
		return written, fmt.Errorf("write parquet: %w", err)
	}
	if err := pw.Close(); err != nil {
		return written, fmt.Errorf("close parquet: %w", err)
	}
	return written, nil
}

func (e *Engine) exportSummaryParquet(ctx context.Context, w io.Writer, q string) (int, error) {
	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("export summary: %w", err)
	}
	defer rows.Close()

	var out []SummaryRow
	for rows.Next() {
		var (
			r    SummaryRow
			date sql.NullString
		)
		if err := rows.Scan(&date, &r.Requests, &r.UniqueIPs, &r.Errors); err != nil {
			return 0, fmt.Errorf("scan summary: %w", err)
		}
		r.Date = date.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	pw := parquet.NewGenericWriter[SummaryRow](w)
	n, err := pw.Write(out)
	if err != nil {
		return n, fmt.Errorf("write parquet: %w", err)
	}
	if err := pw.Close(); err != nil {
		return n, fmt.Errorf("close parquet: %w", err)
	}
	return n, nil
}
