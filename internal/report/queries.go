// Package report runs fixed read-only analytics over the records table.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// Table is a query result with ordered columns
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// Options tune a query run
type Options struct {
	Limit  int    // Row limit for ranked queries
	Period string // "hour" or "day" for time-bucketed queries
}

const DefaultLimit = 10

type queryDef struct {
	description string
	sql         func(period string) string
	limited     bool
}

// Bucket expressions over the source-format timestamp (16/May/2025:00:06:10 +0000)
var periodExpr = map[string]string{
	"hour": "substr(timestamp, 1, 14)",
	"day":  "substr(timestamp, 1, 11)",
}

func static(q string) func(string) string {
	return func(string) string { return q }
}

var queries = map[string]queryDef{
	"overview": {
		description: "Request totals, unique clients and paths, error rate",
		sql: static(`
WITH stats AS (
	SELECT
		COUNT(*) AS total_requests,
		COUNT(DISTINCT remote_addr) AS unique_ips,
		COUNT(DISTINCT request_path) AS unique_paths,
		AVG(bytes_sent) AS avg_response_size,
		SUM(CASE WHEN status >= 400 THEN 1 ELSE 0 END) * 100.0 / MAX(COUNT(*), 1) AS error_rate
	FROM records
),
bounds AS (
	SELECT
		(SELECT timestamp FROM records ORDER BY id LIMIT 1) AS first_ts,
		(SELECT timestamp FROM records ORDER BY id DESC LIMIT 1) AS last_ts
)
SELECT 'total requests' AS metric, printf('%d', total_requests) AS value FROM stats
UNION ALL SELECT 'unique ips', printf('%d', unique_ips) FROM stats
UNION ALL SELECT 'unique paths', printf('%d', unique_paths) FROM stats
UNION ALL SELECT 'date range', COALESCE(first_ts, '-') || ' -> ' || COALESCE(last_ts, '-') FROM bounds
UNION ALL SELECT 'avg response size', printf('%.1f kb', COALESCE(avg_response_size, 0) / 1024.0) FROM stats
UNION ALL SELECT 'error rate', printf('%.2f%%', COALESCE(error_rate, 0)) FROM stats`),
	},
	"status": {
		description: "HTTP status code distribution",
		sql: static(`
SELECT
	status,
	COUNT(*) AS count,
	printf('%.2f%%', COUNT(*) * 100.0 / (SELECT COUNT(*) FROM records)) AS percentage,
	CASE
		WHEN status < 300 THEN 'success'
		WHEN status < 400 THEN 'redirect'
		WHEN status < 500 THEN 'client_error'
		ELSE 'server_error'
	END AS category
FROM records
GROUP BY status
ORDER BY count DESC`),
	},
	"methods": {
		description: "HTTP method distribution",
		sql: static(`
SELECT
	request_method,
	COUNT(*) AS count,
	printf('%.2f%%', COUNT(*) * 100.0 / (SELECT COUNT(*) FROM records)) AS percentage
FROM records
WHERE request_method IS NOT NULL AND request_method != ''
GROUP BY request_method
ORDER BY count DESC`),
	},
	"ips": {
		description: "Most active client addresses",
		limited:     true,
		sql: static(`
SELECT
	remote_addr,
	COUNT(*) AS requests,
	COUNT(DISTINCT request_path) AS unique_paths,
	MIN(timestamp) AS first_seen,
	MAX(timestamp) AS last_seen,
	COALESCE(SUM(bytes_sent), 0) AS total_bytes,
	printf('%.2f%%', COUNT(*) * 100.0 / (SELECT COUNT(*) FROM records)) AS percentage,
	CASE
		WHEN remote_addr LIKE '10.%' OR remote_addr LIKE '192.168.%' OR remote_addr LIKE '172.%' THEN 'private'
		WHEN remote_addr LIKE '127.%' OR remote_addr = '::1' THEN 'localhost'
		ELSE 'public'
	END AS ip_type
FROM records
GROUP BY remote_addr
ORDER BY requests DESC
LIMIT ?`),
	},
	"paths": {
		description: "Most requested paths",
		limited:     true,
		sql: static(`
SELECT
	request_path,
	COUNT(*) AS requests,
	COUNT(DISTINCT remote_addr) AS unique_visitors,
	printf('%.1f', AVG(bytes_sent)) AS avg_size_bytes,
	printf('%.1f%%', COUNT(*) * 100.0 / (SELECT COUNT(*) FROM records)) AS percentage
FROM records
WHERE request_path IS NOT NULL AND request_path != ''
GROUP BY request_path
ORDER BY requests DESC
LIMIT ?`),
	},
	"referrers": {
		description: "Top referrers, direct traffic excluded",
		limited:     true,
		sql: static(`
SELECT
	referer,
	COUNT(*) AS requests,
	COUNT(DISTINCT remote_addr) AS unique_visitors,
	printf('%.2f%%', COUNT(*) * 100.0 / (SELECT COUNT(*) FROM records)) AS percentage
FROM records
WHERE referer IS NOT NULL AND referer != '' AND referer != '-'
GROUP BY referer
ORDER BY requests DESC
LIMIT ?`),
	},
	"traffic": {
		description: "Requests per hour or day with peak detection",
		sql: func(period string) string {
			return fmt.Sprintf(`
WITH traffic_data AS (
	SELECT
		%s AS time_period,
		COUNT(*) AS requests,
		COUNT(DISTINCT remote_addr) AS unique_visitors,
		COALESCE(SUM(bytes_sent), 0) AS total_bytes,
		COALESCE(AVG(bytes_sent), 0) AS avg_response_size,
		MAX(id) AS last_id
	FROM records
	GROUP BY time_period
),
traffic_stats AS (
	SELECT AVG(requests) AS avg_requests FROM traffic_data
)
SELECT
	td.time_period,
	td.requests,
	td.unique_visitors,
	printf('%%.2f mb', td.total_bytes / 1024.0 / 1024.0) AS bandwidth,
	printf('%%.1f kb', td.avg_response_size / 1024.0) AS avg_response_size,
	CASE
		WHEN td.requests > ts.avg_requests * 2 THEN 'peak'
		WHEN td.requests < ts.avg_requests * 0.5 THEN 'low'
		ELSE 'normal'
	END AS traffic_level
FROM traffic_data td
CROSS JOIN traffic_stats ts
ORDER BY td.last_id DESC
LIMIT 100`, periodExpr[period])
		},
	},
	"bots": {
		description: "Crawler, scanner and scripted client activity",
		limited:     true,
		sql: static(`
SELECT
	user_agent,
	COUNT(*) AS requests,
	COUNT(DISTINCT request_path) AS unique_paths,
	COUNT(DISTINCT remote_addr) AS unique_ips,
	printf('%.2f', COUNT(*) * 1.0 / MAX(COUNT(DISTINCT request_path), 1)) AS requests_per_path,
	MIN(timestamp) AS first_seen,
	MAX(timestamp) AS last_seen,
	CASE
		WHEN user_agent LIKE '%bot%' OR user_agent LIKE '%spider%' OR user_agent LIKE '%crawler%' THEN 'identified_bot'
		WHEN COUNT(*) > 1000 AND COUNT(DISTINCT request_path) < 10 THEN 'suspicious_bot'
		WHEN COUNT(*) > 100 AND user_agent LIKE '%curl%' THEN 'api_client'
		ELSE 'unknown'
	END AS bot_type
FROM records
WHERE user_agent LIKE '%bot%' OR user_agent LIKE '%spider%'
	OR user_agent LIKE '%crawler%' OR user_agent LIKE '%scan%'
	OR (user_agent LIKE '%curl%' AND user_agent NOT LIKE '%Mozilla%')
GROUP BY user_agent
ORDER BY requests DESC
LIMIT ?`),
	},
	"security": {
		description: "Probe and attack patterns by path and client",
		limited:     true,
		sql: static(`
SELECT
	request_path,
	remote_addr,
	COUNT(*) AS attempts,
	COUNT(DISTINCT substr(timestamp, 1, 11)) AS days_active,
	MAX(status) AS max_status,
	MAX(user_agent) AS user_agent,
	CASE
		WHEN request_path LIKE '%../%' THEN 'directory_traversal'
		WHEN request_path LIKE '%.php%' AND request_path LIKE '%admin%' THEN 'php_admin_probe'
		WHEN request_path LIKE '%wp-%' THEN 'wordpress_probe'
		WHEN request_path LIKE '%.git%' OR request_path LIKE '%.env%' THEN 'config_file_probe'
		WHEN request_path LIKE '%shell%' OR request_path LIKE '%cmd%' THEN 'shell_probe'
		WHEN request_path LIKE '%passwd%' OR request_path LIKE '%shadow%' THEN 'system_file_probe'
		WHEN request_path LIKE '%sql%' OR request_path LIKE '%union%' THEN 'sql_injection'
		WHEN request_path LIKE '%script%' OR request_path LIKE '%alert%' THEN 'xss_probe'
		ELSE 'generic_probe'
	END AS attack_type
FROM records
WHERE request_path LIKE '%../%' OR request_path LIKE '%.php%'
	OR request_path LIKE '%shell%' OR request_path LIKE '%admin%'
	OR request_path LIKE '%wp-%' OR request_path LIKE '%.git%'
	OR request_path LIKE '%passwd%' OR request_path LIKE '%.env%'
	OR request_path LIKE '%credentials%' OR request_path LIKE '%config%'
	OR request_path LIKE '%sql%' OR request_path LIKE '%union%'
	OR request_path LIKE '%script%' OR request_path LIKE '%alert%'
GROUP BY request_path, remote_addr
ORDER BY attempts DESC, days_active DESC
LIMIT ?`),
	},
	"errors": {
		description: "4xx/5xx counts per hour or day",
		sql: func(period string) string {
			return fmt.Sprintf(`
SELECT
	%s AS time_period,
	COUNT(*) AS total_requests,
	SUM(CASE WHEN status >= 400 AND status < 500 THEN 1 ELSE 0 END) AS client_errors,
	SUM(CASE WHEN status >= 500 THEN 1 ELSE 0 END) AS server_errors,
	printf('%%.2f%%%%', SUM(CASE WHEN status >= 400 THEN 1 ELSE 0 END) * 100.0 / COUNT(*)) AS error_rate,
	MAX(CASE WHEN status >= 400 THEN request_path END) AS top_error_path
FROM records
GROUP BY time_period
HAVING SUM(CASE WHEN status >= 400 THEN 1 ELSE 0 END) > 0
ORDER BY MAX(id) DESC
LIMIT 50`, periodExpr[period])
		},
	},
	"performance": {
		description: "Bandwidth and error rate of paths with at least 10 requests",
		sql: static(`
WITH performance_data AS (
	SELECT
		request_path,
		COUNT(*) AS requests,
		COALESCE(AVG(bytes_sent), 0) AS avg_size,
		COALESCE(SUM(bytes_sent), 0) AS total_size,
		COUNT(CASE WHEN status >= 400 THEN 1 END) AS errors,
		COUNT(CASE WHEN status = 200 THEN 1 END) AS success_count
	FROM records
	WHERE request_path IS NOT NULL AND request_path != ''
	GROUP BY request_path
	HAVING requests >= 10
)
SELECT
	request_path,
	requests,
	printf('%.1f kb', avg_size / 1024.0) AS avg_response_size,
	printf('%.2f mb', total_size / 1024.0 / 1024.0) AS total_bandwidth,
	printf('%.2f%%', errors * 100.0 / requests) AS error_rate,
	printf('%.2f%%', success_count * 100.0 / requests) AS success_rate,
	CASE
		WHEN avg_size > 1024 * 1024 THEN 'large_response'
		WHEN errors * 100.0 / requests > 10 THEN 'high_error_rate'
		WHEN requests > 1000 THEN 'high_traffic'
		ELSE 'normal'
	END AS performance_flag
FROM performance_data
ORDER BY total_size DESC
LIMIT 50`),
	},
}

// QueryNames lists the available queries, sorted
func QueryNames() []string {
	names := make([]string, 0, len(queries))
	for name := range queries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns a one-line description of a query
func Describe(name string) string {
	return queries[name].description
}

// Engine runs report queries against one database
type Engine struct {
	db *sql.DB
}

// NewEngine creates a report engine
func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// Run executes a named query
func (e *Engine) Run(ctx context.Context, name string, opts Options) (*Table, error) {
	def, ok := queries[name]
	if !ok {
		return nil, fmt.Errorf("unknown query %q (available: %s)", name, strings.Join(QueryNames(), ", "))
	}

	period := opts.Period
	if period == "" {
		period = "hour"
	}
	if _, ok := periodExpr[period]; !ok {
		return nil, fmt.Errorf("unknown period %q (use hour or day)", period)
	}

	var args []any
	if def.limited {
		limit := opts.Limit
		if limit <= 0 {
			limit = DefaultLimit
		}
		args = append(args, limit)
	}

	table, err := e.query(ctx, def.sql(period), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}
	table.Name = name
	return table, nil
}

func (e *Engine) query(ctx context.Context, q string, args ...any) (*Table, error) {
	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	table := &Table{Columns: cols}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		table.Rows = append(table.Rows, vals)
	}
	return table, rows.Err()
}
