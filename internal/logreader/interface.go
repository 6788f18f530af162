package logreader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression identifies the transport encoding of a log file
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
)

// DetectCompression picks the decoder from the file extension
func DetectCompression(path string) Compression {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		return CompressionGzip
	case strings.HasSuffix(lower, ".zst"), strings.HasSuffix(lower, ".zstd"):
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// ErrShortStream is returned by Skip when the stream ends before the requested offset
var ErrShortStream = errors.New("stream shorter than requested offset")

// Reader reads a log file line by line and tracks the logical byte offset.
// For compressed files the offset counts decompressed bytes.
type Reader struct {
	path        string
	compression Compression
	file        *os.File
	closers     []func() error
	buf         *bufio.Reader
	offset      int64
}

// Open opens path with transparent decompression
func Open(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	r := &Reader{
		path:        path,
		compression: DetectCompression(path),
		file:        file,
	}

	var src io.Reader = file
	switch r.compression {
	case CompressionGzip:
		gzReader, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create gzip reader: %w", err)
		}
		r.closers = append(r.closers, gzReader.Close)
		src = gzReader
	case CompressionZstd:
		zReader, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		r.closers = append(r.closers, func() error { zReader.Close(); return nil })
		src = zReader
	}

	r.buf = bufio.NewReaderSize(src, 64*1024)
	return r, nil
}

// Compression returns the detected transport encoding
func (r *Reader) Compression() Compression {
	return r.compression
}

// Offset returns the logical offset of the next unread byte
func (r *Reader) Offset() int64 {
	return r.offset
}

// Skip positions the reader at the given logical offset.
// Plain files seek; compressed streams are decoded and discarded.
func (r *Reader) Skip(offset int64) error {
	if offset <= r.offset {
		return nil
	}

	if r.compression == CompressionNone && r.offset == 0 {
		if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek to offset %d: %w", offset, err)
		}
		r.buf.Reset(r.file)
		r.offset = offset
		return nil
	}

	n, err := io.CopyN(io.Discard, r.buf, offset-r.offset)
	r.offset += n
	if errors.Is(err, io.EOF) {
		return ErrShortStream
	}
	if err != nil {
		return fmt.Errorf("failed to skip to offset %d: %w", offset, err)
	}
	return nil
}

// ReadLine returns the next line without its terminator and reports whether
// it was complete. Only complete lines advance the offset, so a plain file's
// unterminated tail is read again once the writer finishes it. Compressed
// streams cannot grow, so their last line counts as complete. Returns io.EOF
// at end.
func (r *Reader) ReadLine() (string, bool, error) {
	line, err := r.buf.ReadString('\n')
	switch {
	case err == nil:
		r.offset += int64(len(line))
		return strings.TrimRight(line, "\r\n"), true, nil
	case errors.Is(err, io.EOF):
		if line == "" {
			return "", false, io.EOF
		}
		if r.compression != CompressionNone {
			r.offset += int64(len(line))
			return strings.TrimRight(line, "\r\n"), true, nil
		}
		return strings.TrimRight(line, "\r\n"), false, nil
	default:
		return "", false, fmt.Errorf("read error at offset %d: %w", r.offset, err)
	}
}

// Close releases the decoder and the file
func (r *Reader) Close() error {
	var firstErr error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := r.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// LogicalSize returns the size of the readable stream: the file size for plain
// files, the decompressed length for compressed ones (requires a full decode).
func LogicalSize(path string) (int64, error) {
	if DetectCompression(path) == CompressionNone {
		info, err := os.Stat(path)
		if err != nil {
			return 0, fmt.Errorf("failed to stat file: %w", err)
		}
		return info.Size(), nil
	}

	r, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	n, err := io.Copy(io.Discard, r.buf)
	if err != nil {
		return 0, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return n, nil
}

// ReadPrefix returns up to n bytes from the start of the logical stream
func ReadPrefix(path string, n int64) ([]byte, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(r.buf, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("failed to read prefix of %s: %w", path, err)
	}
	return buf[:read], nil
}
