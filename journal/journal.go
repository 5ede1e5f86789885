// Package journal writes an append-only JSONL trail of scan runs:
// what started, which scopes succeeded or failed, what policies
// excluded, and where reports landed. Files rotate per process and can
// be replayed for post-mortems.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EntryType defines the type of journal entry
type EntryType string

const (
	EntryRunStarted    EntryType = "run_started"
	EntryScopeScanned  EntryType = "scope_scanned"
	EntryScopeFailed   EntryType = "scope_failed"
	EntryExcluded      EntryType = "policy_excluded"
	EntryReportWritten EntryType = "report_written"
	EntryRunFinished   EntryType = "run_finished"
)

const filePrefix = "horros"

// Config bounds journal growth.
type Config struct {
	MaxFileSize   int64
	RetentionDays int
}

// DefaultConfig returns sensible journal limits.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:   50 * 1024 * 1024,
		RetentionDays: 30,
	}
}

// Entry is a single journal line.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	Type      EntryType       `json:"type"`
	Scope     string          `json:"scope,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Journal appends run events to a timestamped JSONL file.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
	config   Config
}

// Open creates or opens a journal with default limits.
func Open(dir string) (*Journal, error) {
	return OpenWithConfig(dir, DefaultConfig())
}

// OpenWithConfig creates or opens a journal in the specified directory.
// Each open starts a fresh file; sequence numbers continue across files.
func OpenWithConfig(dir string, config Config) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := openJournalFile(dir)
	if err != nil {
		return nil, err
	}

	j := &Journal{
		file:   file,
		writer: bufio.NewWriter(file),
		dir:    dir,
		config: config,
	}
	j.sequence = loadSequence(dir)

	return j, nil
}

// openJournalFile creates a fresh file named with nanosecond precision
// so rapid rotation never reuses a name.
func openJournalFile(dir string) (*os.File, error) {
	filename := fmt.Sprintf("%s-%s.jsonl", filePrefix, time.Now().Format("20060102-150405.000000000"))
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}
	return file, nil
}

// Close flushes and closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

// Append adds an entry to the journal.
func (j *Journal) Append(entryType EntryType, scope string, data interface{}) error {
	return j.append(entryType, scope, data, nil)
}

// AppendError adds an entry carrying a failure.
func (j *Journal) AppendError(entryType EntryType, scope string, data interface{}, cause error) error {
	return j.append(entryType, scope, data, cause)
}

func (j *Journal) append(entryType EntryType, scope string, data interface{}, cause error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.sequence++

	entry := Entry{
		Timestamp: time.Now().UTC(),
		Sequence:  j.sequence,
		Type:      entryType,
		Scope:     scope,
	}
	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal data: %w", err)
		}
		entry.Data = jsonData
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	return j.writeEntry(entry)
}

// writeEntry writes one line and syncs it; the journal is the audit
// trail, a crashed run must not lose it.
func (j *Journal) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := j.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if _, err := j.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return err
	}

	if j.shouldRotate() {
		return j.rotate()
	}
	return nil
}

// shouldRotate reports whether the current file reached its size limit.
func (j *Journal) shouldRotate() bool {
	if j.config.MaxFileSize <= 0 {
		return false
	}
	info, err := j.file.Stat()
	if err != nil {
		return false
	}
	return info.Size() >= j.config.MaxFileSize
}

// rotate closes the current file and starts a new one. Sequence
// numbering continues uninterrupted.
func (j *Journal) rotate() error {
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("failed to close journal file: %w", err)
	}

	file, err := openJournalFile(j.dir)
	if err != nil {
		return err
	}
	j.file = file
	j.writer = bufio.NewWriter(file)
	return nil
}

// loadSequence finds the highest sequence across existing files so a
// new file continues numbering instead of restarting.
func loadSequence(dir string) int64 {
	files := listJournalFiles(dir)

	var max int64
	for _, file := range files {
		reader, err := NewReader(file)
		if err != nil {
			continue
		}
		for {
			entry, err := reader.Next()
			if err != nil {
				break
			}
			if entry.Sequence > max {
				max = entry.Sequence
			}
		}
		_ = reader.Close()
	}
	return max
}

func listJournalFiles(dir string) []string {
	files, err := filepath.Glob(filepath.Join(dir, filePrefix+"-*.jsonl"))
	if err != nil {
		return nil
	}
	return files
}

// Reader replays one journal file.
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens a journal file for replay.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next reads the next entry. io.EOF after the last one.
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay walks every journal file in dir, invoking handler for entries
// after since.
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	for _, file := range listJournalFiles(dir) {
		reader, err := NewReader(file)
		if err != nil {
			return err
		}

		for {
			entry, err := reader.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				_ = reader.Close()
				return err
			}
			if entry.Timestamp.After(since) {
				if err := handler(entry); err != nil {
					_ = reader.Close()
					return err
				}
			}
		}
		if err := reader.Close(); err != nil {
			return err
		}
	}
	return nil
}
