package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one immutable audit log line. Exactly one record is written
// per evaluated event, including failure paths.
type Record struct {
	Timestamp       time.Time `json:"timestamp"`
	EventType       string    `json:"eventType"` // "join" | "message"
	SubjectID       string    `json:"subjectId"`
	Decision        string    `json:"decision"` // join: approve|reject, message: delete|keep
	Reason          string    `json:"reason"`
	LatencyMs       int64     `json:"latencyMs"`
	FallbackApplied bool      `json:"fallbackApplied"`
}

// Logger appends records to day-partitioned JSONL files. Files are named
// vetd-YYYY-MM-DD.jsonl by the record's UTC date. Appends are serialized
// through one mutex so record order within a file is call order even when
// event handling interleaves.
type Logger struct {
	dir string
	mu  sync.Mutex
}

func NewLogger(dir string) *Logger {
	return &Logger{dir: dir}
}

func (l *Logger) Dir() string { return l.dir }

// Append writes rec as one JSONL line to the file for rec's UTC day,
// creating the directory and file on first use.
func (l *Logger) Append(rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	f, err := os.OpenFile(l.pathForDay(rec.Timestamp), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')

	_, err = f.Write(data)
	return err
}

// ReadDay returns all records in the file for day (UTC), in append order.
// A missing file is an empty day, not an error.
func (l *Logger) ReadDay(day time.Time) ([]Record, error) {
	f, err := os.Open(l.pathForDay(day))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue // skip malformed lines
		}
		records = append(records, rec)
	}

	return records, scanner.Err()
}

// Tail returns the last n records of today's file (UTC).
func (l *Logger) Tail(n int) ([]Record, error) {
	records, err := l.ReadDay(time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}

func (l *Logger) pathForDay(t time.Time) string {
	return filepath.Join(l.dir, "vetd-"+t.UTC().Format("2006-01-02")+".jsonl")
}
