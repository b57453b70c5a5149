// Package audit implements the append-only, hash-chained ledger of gate
// decisions, promotions and drift corrections.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jvs-project/goldgate/internal/integrity"
	"github.com/jvs-project/goldgate/pkg/errclass"
	"github.com/jvs-project/goldgate/pkg/logging"
	"github.com/jvs-project/goldgate/pkg/model"
)

// maxLineSize bounds a single ledger line when scanning.
const maxLineSize = 4 << 20

// Appender is the write side of the ledger.
type Appender interface {
	Append(ctx context.Context, entry model.LedgerEntry) (uint64, error)
}

// Ledger appends entries to a JSONL file. Each line carries a sequence
// number (first = 1, no gaps) and a prev_hash/record_hash chain.
type Ledger struct {
	path   string
	mu     sync.Mutex
	mirror Mirror
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMirror publishes each durable entry to m after it is written.
func WithMirror(m Mirror) Option {
	return func(l *Ledger) { l.mirror = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// NewLedger creates a Ledger at path. The file is created on first append.
func NewLedger(path string, opts ...Option) *Ledger {
	l := &Ledger{
		path: path,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Path returns the ledger file location.
func (l *Ledger) Path() string {
	return l.path
}

// Append writes entry as the next ledger line and returns its sequence number.
// Seq, PrevHash and RecordHash are assigned here; Timestamp is filled when zero.
// Every failure is reported as E_LEDGER_WRITE_FAILURE.
//
// The mirror, if any, is called after the ledger lock is released, so a slow
// mirror never holds up other writers.
func (l *Ledger) Append(ctx context.Context, entry model.LedgerEntry) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, errclass.ErrLedgerWriteFailure.WithMessagef("append cancelled: %v", err)
	}

	written, err := l.write(entry)
	if err != nil {
		return 0, err
	}

	if l.mirror != nil {
		if err := l.mirror.Publish(ctx, written); err != nil {
			logging.Warn("ledger mirror publish failed", map[string]any{"seq": written.Seq, "error": err.Error()})
		}
	}
	return written.Seq, nil
}

// write appends one line under the in-process mutex and the file lock.
func (l *Ledger) write(entry model.LedgerEntry) (model.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return model.LedgerEntry{}, writeFailure("create ledger dir", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return model.LedgerEntry{}, writeFailure("open ledger", err)
	}
	defer file.Close()

	if err := lockLedger(file); err != nil {
		return model.LedgerEntry{}, writeFailure("flock ledger", err)
	}
	defer unlockLedger(file)

	last, torn, err := readTail(file)
	if err != nil {
		return model.LedgerEntry{}, writeFailure("read ledger tail", err)
	}

	entry.Seq = last.Seq + 1
	entry.PrevHash = last.RecordHash
	entry.RecordHash = ""
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	recordHash, err := integrity.ComputeRecordHash(&entry)
	if err != nil {
		return model.LedgerEntry{}, writeFailure("compute record hash", err)
	}
	entry.RecordHash = recordHash

	line, err := json.Marshal(&entry)
	if err != nil {
		return model.LedgerEntry{}, writeFailure("marshal ledger entry", err)
	}
	if torn {
		// Terminate a partial line left by a crashed writer so ours parses.
		line = append([]byte{'\n'}, line...)
	}

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return model.LedgerEntry{}, writeFailure("seek to end", err)
	}
	if _, err := file.Write(append(line, '\n')); err != nil {
		return model.LedgerEntry{}, writeFailure("write ledger entry", err)
	}
	if err := file.Sync(); err != nil {
		return model.LedgerEntry{}, writeFailure("sync ledger", err)
	}
	return entry, nil
}

// Replay returns every well-formed entry in file order.
// Malformed lines are skipped; Verify reports them.
func (l *Ledger) Replay(ctx context.Context) ([]model.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()

	var entries []model.LedgerEntry
	err = scanLines(file, func(lineNo int, raw []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		var entry model.LedgerEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			logging.Warn("skipping malformed ledger line", map[string]any{"line": lineNo})
			return nil
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return entries, nil
}

// readTail returns the last well-formed entry and whether the file ends
// without a trailing newline.
func readTail(file *os.File) (model.LedgerEntry, bool, error) {
	var last model.LedgerEntry

	info, err := file.Stat()
	if err != nil {
		return last, false, err
	}
	if info.Size() == 0 {
		return last, false, nil
	}

	torn := false
	buf := make([]byte, 1)
	if _, err := file.ReadAt(buf, info.Size()-1); err != nil {
		return last, false, err
	}
	if buf[0] != '\n' {
		torn = true
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return last, false, err
	}
	err = scanLines(file, func(_ int, raw []byte) error {
		var entry model.LedgerEntry
		if json.Unmarshal(raw, &entry) == nil {
			last = entry
		}
		return nil
	})
	return last, torn, err
}

func scanLines(r io.Reader, fn func(lineNo int, raw []byte) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if err := fn(lineNo, raw); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func writeFailure(op string, err error) error {
	return errclass.ErrLedgerWriteFailure.WithMessagef("%s: %v", op, err)
}
