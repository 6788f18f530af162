package domain

import "time"

// FileProgress is the persisted ingestion state of one source file
type FileProgress struct {
	Filename       string    // Absolute path, primary key
	LastPosition   int64     // Byte offset consumed so far (decompressed bytes for .gz/.zst)
	LastProcessed  time.Time // When the last batch for this file was committed
	LinesProcessed int64     // Lines read from offset 0 up to LastPosition
	FileHash       string    // Fingerprint of the processed prefix
}

// IsNew reports whether the file has never been committed
func (p FileProgress) IsNew() bool {
	return p.LastProcessed.IsZero() && p.LastPosition == 0 && p.FileHash == ""
}

// Advance returns a copy moved to the given offset with added lines
func (p FileProgress) Advance(offset int64, lines int64, hash string, now time.Time) FileProgress {
	p.LastPosition = offset
	p.LinesProcessed += lines
	p.FileHash = hash
	p.LastProcessed = now
	return p
}
