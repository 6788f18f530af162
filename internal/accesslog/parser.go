package accesslog

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/SteelMorgan/nginx-sqlize/internal/domain"
)

// TimeLayout is the nginx/apache $time_local layout
const TimeLayout = "02/Jan/2006:15:04:05 -0700"

// combinedPattern matches the "combined" log format:
// $remote_addr - $remote_user [$time_local] "$request" $status $body_bytes_sent "$http_referer" "$http_user_agent"
// Anything after the user agent (extra nginx fields) is ignored.
var combinedPattern = regexp.MustCompile(
	`^(\S+) \S+ (\S+) \[([^\]]*)\] "((?:[^"\\]|\\.)*)" (\S+) (\d+|-) "((?:[^"\\]|\\.)*)" "((?:[^"\\]|\\.)*)"`,
)

// Reason classifies a rejected line
type Reason string

const (
	ReasonEmpty     Reason = "empty line"
	ReasonMalformed Reason = "malformed structure"
	ReasonBadStatus Reason = "unparseable status"
)

// ParseError is returned for lines that cannot be turned into a record
type ParseError struct {
	Reason Reason
	Line   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %q", e.Reason, truncate(e.Line, 120))
}

// ParseLine parses one combined-format line.
// A line that does not match the grammar returns a *ParseError and no record.
// Sub-fields that match but fail to parse are set to nil and listed in Degraded.
func ParseLine(line string) (record *domain.LogRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			record, err = nil, &ParseError{Reason: ReasonMalformed, Line: line}
		}
	}()

	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return nil, &ParseError{Reason: ReasonEmpty, Line: line}
	}

	m := combinedPattern.FindStringSubmatch(line)
	if m == nil {
		return nil, &ParseError{Reason: ReasonMalformed, Line: line}
	}

	status, convErr := strconv.Atoi(m[5])
	if convErr != nil || status < 0 || status > 999 {
		return nil, &ParseError{Reason: ReasonBadStatus, Line: line}
	}

	record = &domain.LogRecord{
		Timestamp:  m[3],
		RemoteAddr: m[1],
		RemoteUser: optional(m[2]),
		Status:     status,
		Referer:    optional(unescape(m[7])),
		UserAgent:  optional(unescape(m[8])),
	}

	if ts, err := time.Parse(TimeLayout, m[3]); err == nil {
		record.Time = &ts
	} else {
		record.Degraded = append(record.Degraded, "time")
	}

	if m[6] != "-" {
		n, err := strconv.ParseInt(m[6], 10, 64)
		if err == nil {
			record.BytesSent = &n
		} else {
			record.Degraded = append(record.Degraded, "bytes_sent")
		}
	}

	if !parseRequest(unescape(m[4]), record) {
		record.Degraded = append(record.Degraded, "request")
	}

	return record, nil
}

// parseRequest splits "METHOD PATH PROTO" into the record.
// Returns false when the request line had an unexpected shape.
func parseRequest(request string, record *domain.LogRecord) bool {
	parts := strings.Fields(request)
	switch len(parts) {
	case 3:
		record.Method = &parts[0]
		record.Path = &parts[1]
		record.Protocol = &parts[2]
		return true
	case 2:
		// HTTP/0.9 style request without protocol
		record.Method = &parts[0]
		record.Path = &parts[1]
		return true
	default:
		// Probes and TLS garbage: keep the raw text where it is most useful for analysis
		record.Path = optional(request)
		return request == "" || request == "-"
	}
}

// optional maps the log placeholder "-" and empty values to nil
func optional(s string) *string {
	if s == "" || s == "-" {
		return nil
	}
	return &s
}

// unescape resolves backslash escapes apache writes inside quoted fields.
// nginx writes \xHH which is left as-is.
func unescape(s string) string {
	if !strings.Contains(s, `\"`) && !strings.Contains(s, `\\`) {
		return s
	}
	r := strings.NewReplacer(`\"`, `"`, `\\`, `\`)
	return r.Replace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
