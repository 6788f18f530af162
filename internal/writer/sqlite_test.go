package writer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SteelMorgan/nginx-sqlize/internal/domain"
	"github.com/SteelMorgan/nginx-sqlize/internal/store"
)

type recordingCommitter struct {
	batches   [][]*domain.LogRecord
	progress  []domain.FileProgress
	failAfter int // fail every commit once this many have succeeded, 0 disables
}

func (c *recordingCommitter) CommitBatch(_ context.Context, records []*domain.LogRecord, progress *domain.FileProgress) (store.BatchResult, error) {
	if c.failAfter > 0 && len(c.batches) >= c.failAfter {
		return store.BatchResult{}, errors.New("disk I/O error")
	}
	cp := make([]*domain.LogRecord, len(records))
	copy(cp, records)
	c.batches = append(c.batches, cp)
	c.progress = append(c.progress, *progress)
	return store.BatchResult{Inserted: len(records)}, nil
}

func record(addr string) *domain.LogRecord {
	return &domain.LogRecord{RemoteAddr: addr, Timestamp: "16/May/2025:00:06:10 +0000", Status: 200}
}

func TestSQLiteWriter_FullAtMaxSize(t *testing.T) {
	c := &recordingCommitter{}
	w := NewSQLiteWriter(c, BatchConfig{MaxSize: 2})
	p := domain.FileProgress{Filename: "/logs/a.log"}
	w.Begin(p)

	assert.False(t, w.Add(record("1.1.1.1")))
	assert.True(t, w.Add(record("2.2.2.2")))
	assert.Equal(t, 2, w.Pending())

	res, err := w.Flush(context.Background(), p.Advance(40, 2, "h", p.LastProcessed))
	require.NoError(t, err)
	assert.Equal(t, FlushResult{Inserted: 2}, res)
	assert.Zero(t, w.Pending())

	require.Len(t, c.batches, 1)
	assert.Equal(t, "2.2.2.2", c.batches[0][1].RemoteAddr)
	assert.Equal(t, int64(40), c.progress[0].LastPosition)
}

func TestSQLiteWriter_EmptyFlushCommitsProgress(t *testing.T) {
	c := &recordingCommitter{}
	w := NewSQLiteWriter(c, BatchConfig{})
	p := domain.FileProgress{Filename: "/logs/bad.log"}
	w.Begin(p)

	_, err := w.Flush(context.Background(), p.Advance(100, 5, "h", p.LastProcessed))
	require.NoError(t, err)
	require.Len(t, c.progress, 1)
	assert.Equal(t, int64(5), c.progress[0].LinesProcessed)
}

func TestSQLiteWriter_FailedFlushClearsBuffer(t *testing.T) {
	c := &recordingCommitter{failAfter: 1}
	w := NewSQLiteWriter(c, BatchConfig{MaxSize: 10})
	p := domain.FileProgress{Filename: "/logs/a.log"}
	w.Begin(p)

	w.Add(record("1.1.1.1"))
	_, err := w.Flush(context.Background(), p)
	require.NoError(t, err)

	w.Add(record("2.2.2.2"))
	_, err = w.Flush(context.Background(), p)
	require.Error(t, err)
	assert.Zero(t, w.Pending())
}

func TestSQLiteWriter_RejectsForeignProgress(t *testing.T) {
	w := NewSQLiteWriter(&recordingCommitter{}, BatchConfig{})
	w.Begin(domain.FileProgress{Filename: "/logs/a.log"})
	_, err := w.Flush(context.Background(), domain.FileProgress{Filename: "/logs/b.log"})
	assert.Error(t, err)
}

func TestSQLiteWriter_Discard(t *testing.T) {
	c := &recordingCommitter{}
	w := NewSQLiteWriter(c, BatchConfig{MaxSize: 10})
	w.Begin(domain.FileProgress{Filename: "/logs/a.log"})
	w.Add(record("1.1.1.1"))
	w.Add(record("2.2.2.2"))

	assert.Equal(t, 2, w.Discard())
	assert.Zero(t, w.Pending())
	assert.Empty(t, c.batches)
}

func TestSQLiteWriter_WithStore(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "logs.db"))
	require.NoError(t, err)
	defer s.Close()

	w := NewSQLiteWriter(s, BatchConfig{MaxSize: 3})
	p := domain.FileProgress{Filename: "/logs/a.log"}
	w.Begin(p)

	var lines int64
	for i := 0; i < 7; i++ {
		lines++
		if w.Add(record("10.0.0.1")) {
			p = p.Advance(lines*10, 3, "h", p.LastProcessed)
			_, err := w.Flush(ctx, p)
			require.NoError(t, err)
		}
	}
	p = p.Advance(70, 1, "h", p.LastProcessed)
	res, err := w.Flush(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	n, err := s.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	got, found, err := s.GetProgress(ctx, "/logs/a.log")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(70), got.LastPosition)
	assert.Equal(t, int64(7), got.LinesProcessed)
}
