// Package msglog implements the broker's append-only replay log used for
// crash recovery: every emitted payload is appended as one JSON line so a
// restarted daemon can replay the channel table back to its prior state.
// Grounded on hydra-mail/src/message_log.rs.
package msglog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one line of the replay log. The field is named Payload, not
// Message, to match spec.md §3's literal replay-log entry shape; see
// DESIGN.md's Open Question decisions.
type Entry struct {
	ProjectUUID uuid.UUID `json:"project_uuid"`
	Channel     string    `json:"channel"`
	Payload     string    `json:"payload"`
	Timestamp   time.Time `json:"timestamp"`
}

// Log is an append-only, newline-delimited JSON log file.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// Open opens (creating if absent) the log file at path in append mode.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open message log: %w", err)
	}
	return &Log{path: path, file: f}, nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Append writes one entry to the log and flushes it. If the log is
// currently busy (another goroutine holds its lock, e.g. mid-compact), the
// append is skipped rather than blocked: channels.rs's log_message uses
// the same try-lock-and-skip policy because the replay log is a
// best-effort crash recovery aid, not a source of truth the emit path may
// ever wait on.
func (l *Log) Append(projectID uuid.UUID, channel string, payload []byte) error {
	if !l.mu.TryLock() {
		return nil
	}
	defer l.mu.Unlock()

	entry := Entry{
		ProjectUUID: projectID,
		Channel:     channel,
		Payload:     string(payload),
		Timestamp:   time.Now().UTC(),
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	b = append(b, '\n')
	if _, err := l.file.Write(b); err != nil {
		return fmt.Errorf("write log entry: %w", err)
	}
	return l.file.Sync()
}

// Replay reads every entry currently in the log, in file order.
func (l *Log) Replay() ([]Entry, error) {
	return readEntries(l.path)
}

func readEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open message log for replay: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bufTrim(line)) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parse log entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read message log: %w", err)
	}
	return entries, nil
}

func bufTrim(b []byte) []byte {
	i, j := 0, len(b)
	for i < j && isSpace(b[i]) {
		i++
	}
	for j > i && isSpace(b[j-1]) {
		j--
	}
	return b[i:j]
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\r' || c == '\n' }

// Compact rewrites the log keeping only the last keepPerChannel entries
// for each (project, channel) pair, ordered by timestamp, and atomically
// replaces the original file. Grounded on MessageLog::compact.
func (l *Log) Compact(keepPerChannel int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := readEntries(l.path)
	if err != nil {
		return err
	}

	type key struct {
		project uuid.UUID
		channel string
	}
	byChannel := make(map[key][]Entry)
	for _, e := range entries {
		k := key{e.ProjectUUID, e.Channel}
		byChannel[k] = append(byChannel[k], e)
	}

	var kept []Entry
	for _, es := range byChannel {
		sort.Slice(es, func(i, j int) bool { return es[i].Timestamp.Before(es[j].Timestamp) })
		start := 0
		if len(es) > keepPerChannel {
			start = len(es) - keepPerChannel
		}
		kept = append(kept, es[start:]...)
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Timestamp.Before(kept[j].Timestamp) })

	tempPath := l.path + ".tmp"
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create temp log file: %w", err)
	}
	w := bufio.NewWriter(tempFile)
	for _, e := range kept {
		b, err := json.Marshal(e)
		if err != nil {
			tempFile.Close()
			return fmt.Errorf("marshal compacted entry: %w", err)
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			tempFile.Close()
			return fmt.Errorf("write compacted entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tempFile.Close()
		return fmt.Errorf("flush compacted log: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close compacted log: %w", err)
	}

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close active log handle: %w", err)
	}
	if err := os.Rename(tempPath, l.path); err != nil {
		return fmt.Errorf("replace log with compacted version: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("reopen compacted log: %w", err)
	}
	l.file = f
	return nil
}
