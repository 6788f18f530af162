package domain

import "time"

// LogRecord is one parsed access log request.
// Optional fields are nil when the source had "-" or the sub-field failed to parse.
type LogRecord struct {
	Timestamp  string     // Source text of [time_local], always kept
	Time       *time.Time // Parsed Timestamp, nil if unparseable
	RemoteAddr string
	RemoteUser *string
	Method     *string
	Path       *string
	Protocol   *string
	Status     int
	BytesSent  *int64
	Referer    *string
	UserAgent  *string

	ProcessedAt time.Time

	// Degraded lists sub-fields that matched the line grammar but could not be parsed
	Degraded []string
}

// StringValue returns the pointed-to string or "" for nil
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
