package tradelog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/oerlikon/prep/internal/model"
)

const (
	// blockSize is the read window for Last and the bisection cutoff for Tail.
	blockSize = 4096

	// lookback widens the Tail bisection target to tolerate unordered timestamps.
	lookback = 24 * time.Hour

	// chunkSize bounds a single write; writes always end on a line boundary.
	chunkSize = 64 * 1024

	fileMode = 0o644
	dirMode  = 0o755
)

// ErrNotFound is returned by Tail when the instrument has no log file.
var ErrNotFound = fmt.Errorf("trade log not found: %w", fs.ErrNotExist)

// ParseError reports a malformed record.
type ParseError struct {
	Path   string
	Offset int64
	Line   string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: malformed record %q: %v", e.Path, e.Offset, e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Mark is the position of the last record in a log.
type Mark struct {
	Time    time.Time
	TradeID int64
}

// Store locates and accesses trade log files under one directory.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir. The directory is created on first append.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the log file path for sym.
func (s *Store) Path(sym model.Symbol) string {
	return filepath.Join(s.dir, sym.FileName())
}

// Append writes trades to the end of the log, creating it if needed.
// On error the caller must re-derive the log position with Last.
func (s *Store) Append(sym model.Symbol, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	path := s.Path(sym)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, fileMode)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}

	buf := make([]byte, 0, chunkSize+256)
	for _, t := range trades {
		if len(buf) >= chunkSize {
			if _, err := f.Write(buf); err != nil {
				f.Close()
				return fmt.Errorf("write %s: %w", path, err)
			}
			buf = buf[:0]
		}
		buf = AppendLine(buf, t)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// Last returns the timestamp and id of the last well-formed record.
// ok is false when the log does not exist or is empty.
func (s *Store) Last(sym model.Symbol) (Mark, bool, error) {
	path := s.Path(sym)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Mark{}, false, nil
	}
	if err != nil {
		return Mark{}, false, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return Mark{}, false, fmt.Errorf("stat log: %w", err)
	}
	size := fi.Size()
	if size == 0 {
		return Mark{}, false, nil
	}

	start := max(0, size-blockSize)
	buf := make([]byte, size-start)
	if _, err := f.ReadAt(buf, start); err != nil && !errors.Is(err, io.EOF) {
		return Mark{}, false, fmt.Errorf("read log: %w", err)
	}

	// Keep only complete lines.
	end := bytes.LastIndexByte(buf, '\n')
	if end < 0 {
		return Mark{}, false, &ParseError{Path: path, Offset: start, Line: string(buf), Err: errors.New("no complete record")}
	}
	buf = buf[:end]
	lo := 0
	if start > 0 {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			return Mark{}, false, &ParseError{Path: path, Offset: start, Err: errors.New("no complete record")}
		}
		lo = i + 1
	}

	var lastErr error
	lines := bytes.Split(buf[lo:], []byte{'\n'})
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if len(line) == 0 {
			continue
		}
		t, err := DecodeLine(line)
		if err != nil {
			if lastErr == nil {
				lastErr = &ParseError{Path: path, Offset: start + int64(lo), Line: string(line), Err: err}
			}
			continue
		}
		return Mark{Time: t.Time, TradeID: t.TradeID}, true, nil
	}

	if lastErr == nil {
		lastErr = &ParseError{Path: path, Offset: start, Err: errors.New("no complete record")}
	}
	return Mark{}, false, lastErr
}

// Tail returns every record with timestamp at or after since, in file order.
// The file size is fixed when Tail starts; later appends are not observed.
func (s *Store) Tail(sym model.Symbol, since time.Time) ([]model.Trade, error) {
	path := s.Path(sym)
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat log: %w", err)
	}
	size := fi.Size()

	threshold := since.Add(-lookback)
	lo, hi := int64(0), size
	for hi-lo > blockSize {
		mid := lo + (hi-lo)/2
		off, line, err := lineAt(f, mid, size)
		if err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
		if off < 0 {
			hi = mid
			continue
		}
		ts, err := timeOf(line)
		if err != nil {
			return nil, &ParseError{Path: path, Offset: off, Line: string(line), Err: err}
		}
		if ts.Before(threshold) {
			lo = mid
		} else {
			hi = mid
		}
	}

	start, _, err := lineAt(f, lo, size)
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	if start < 0 {
		return nil, nil
	}
	return scan(path, f, start, size, since)
}

// scan decodes complete lines in [start, size) and keeps those at or after since.
func scan(path string, r io.ReaderAt, start, size int64, since time.Time) ([]model.Trade, error) {
	br := bufio.NewReaderSize(io.NewSectionReader(r, start, size-start), chunkSize)
	var out []model.Trade
	off := start
	for {
		line, err := br.ReadBytes('\n')
		if err == io.EOF {
			// A trailing segment without newline is an in-flight write.
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read log: %w", err)
		}
		n := int64(len(line))
		if len(line) > 1 {
			t, derr := DecodeLine(line)
			if derr != nil {
				return nil, &ParseError{Path: path, Offset: off, Line: string(bytes.TrimSpace(line)), Err: derr}
			}
			if !t.Time.Before(since) {
				out = append(out, t)
			}
		}
		off += n
	}
}

// lineAt finds the first complete line starting at or after off.
// It returns a negative offset if there is none within the read window.
func lineAt(r io.ReaderAt, off, size int64) (int64, []byte, error) {
	from := off
	if off > 0 {
		from = off - 1
	}
	n := min(size-from, 2*blockSize)
	if n <= 0 {
		return -1, nil, nil
	}
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, from); err != nil && !errors.Is(err, io.EOF) {
		return -1, nil, err
	}

	i := 0
	if off > 0 {
		j := bytes.IndexByte(buf, '\n')
		if j < 0 {
			return -1, nil, nil
		}
		i = j + 1
	}
	k := bytes.IndexByte(buf[i:], '\n')
	if k < 0 {
		return -1, nil, nil
	}
	return from + int64(i), buf[i : i+k], nil
}
