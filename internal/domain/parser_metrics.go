package domain

import "time"

// FileState is the ingestion state of a single file within a run
type FileState string

const (
	StateDiscovered      FileState = "discovered"
	StateOpened          FileState = "opened"
	StateStreaming       FileState = "streaming"
	StateFlushing        FileState = "flushing"
	StateProgressUpdated FileState = "progress_updated"
	StateDone            FileState = "done"
	StateSkipped         FileState = "skipped"
	StateFailed          FileState = "failed"
)

// FileStats is the per-file result of one ingestion run
type FileStats struct {
	FilePath     string
	State        FileState
	ResumeReason string // fresh, resume, force, rotated, truncated
	StartOffset  int64
	EndOffset    int64
	LinesRead    int64
	BlankLines   int64
	Inserted     int64
	ParseFailed  int64 // lines rejected by the parser
	Rejected     int64 // records rejected by the store at write time
	Degraded     int64 // records kept with at least one nulled sub-field
	Batches      int
	Duration     time.Duration
	Err          string
}

// RunSummary aggregates FileStats for the whole run
type RunSummary struct {
	RunID       string
	StartTime   time.Time
	EndTime     time.Time
	Force       bool
	Files       []FileStats
	Interrupted bool

	UnmatchedPatterns []string // Globs that resolved to no files
}

// Totals sums the per-file counters
func (s *RunSummary) Totals() FileStats {
	var t FileStats
	for _, f := range s.Files {
		t.LinesRead += f.LinesRead
		t.BlankLines += f.BlankLines
		t.Inserted += f.Inserted
		t.ParseFailed += f.ParseFailed
		t.Rejected += f.Rejected
		t.Degraded += f.Degraded
		t.Batches += f.Batches
	}
	t.Duration = s.EndTime.Sub(s.StartTime)
	return t
}

// CountState returns how many files ended in the given state
func (s *RunSummary) CountState(state FileState) int {
	n := 0
	for _, f := range s.Files {
		if f.State == state {
			n++
		}
	}
	return n
}
