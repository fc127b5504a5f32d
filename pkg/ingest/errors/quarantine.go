package errors

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Quarantine stores rejected records for later inspection.
type Quarantine interface {
	// Add adds an error to quarantine.
	Add(err RecordError)

	// Count returns number of quarantined items.
	Count() int

	// Close flushes and closes the quarantine.
	Close() error
}

// MemoryQuarantine stores errors in memory.
type MemoryQuarantine struct {
	mu     sync.Mutex
	errors []RecordError
	limit  int
}

// NewMemoryQuarantine creates a memory-based quarantine.
func NewMemoryQuarantine(limit int) *MemoryQuarantine {
	return &MemoryQuarantine{limit: limit}
}

func (q *MemoryQuarantine) Add(err RecordError) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.limit > 0 && len(q.errors) >= q.limit {
		return // Drop if at limit
	}
	q.errors = append(q.errors, err)
}

// Errors returns the quarantined errors.
func (q *MemoryQuarantine) Errors() []RecordError {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]RecordError{}, q.errors...)
}

func (q *MemoryQuarantine) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.errors)
}

func (q *MemoryQuarantine) Close() error {
	return nil
}

// quarantineRecord is the JSONL form of a quarantined record.
type quarantineRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Input     string    `json:"input"`
	Line      int       `json:"line"`
	Offset    int       `json:"offset"`
	Code      string    `json:"code"`
	Error     string    `json:"error"`
}

// FileQuarantine appends errors to a JSONL file.
type FileQuarantine struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	enc   *json.Encoder
	count int
}

// NewFileQuarantine creates a file-based quarantine, truncating path.
func NewFileQuarantine(path string) (*FileQuarantine, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	return &FileQuarantine{
		path: path,
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

func (q *FileQuarantine) Add(err RecordError) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.count++
	rec := quarantineRecord{
		Timestamp: time.Now().UTC(),
		Input:     err.Input,
		Line:      err.Line,
		Offset:    err.Offset,
		Code:      string(err.Code),
	}
	if err.Err != nil {
		rec.Error = err.Err.Error()
	}
	// Write immediately
	q.enc.Encode(rec)
}

// Path returns the quarantine file path.
func (q *FileQuarantine) Path() string {
	return q.path
}

func (q *FileQuarantine) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

func (q *FileQuarantine) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.file.Sync(); err != nil {
		q.file.Close()
		return err
	}
	return q.file.Close()
}
