package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jvs-project/goldgate/pkg/logging"
	"github.com/jvs-project/goldgate/pkg/model"
)

// Mirror receives ledger entries after they are durable on disk.
// Publishing is best-effort: the file ledger stays authoritative.
type Mirror interface {
	Publish(ctx context.Context, entry model.LedgerEntry) error
	Close() error
}

// messageWriter is the subset of *kafka.Writer the mirror uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaMirrorConfig contains configurable parameters for the Kafka mirror.
type KafkaMirrorConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic receives one message per ledger entry.
	Topic string

	// MaxAttempts defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout. Defaults to 5s if zero.
	WriteTimeout time.Duration
}

// KafkaMirror publishes ledger entries to a Kafka topic keyed by subject,
// so entries for one artifact land on the same partition in order.
type KafkaMirror struct {
	writer       messageWriter
	maxAttempts  int
	writeTimeout time.Duration
	backoff      time.Duration
}

// NewKafkaMirror constructs a KafkaMirror.
func NewKafkaMirror(cfg KafkaMirrorConfig) (*KafkaMirror, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaMirror(w, cfg), nil
}

func newKafkaMirror(w messageWriter, cfg KafkaMirrorConfig) *KafkaMirror {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &KafkaMirror{
		writer:       w,
		maxAttempts:  cfg.MaxAttempts,
		writeTimeout: cfg.WriteTimeout,
		backoff:      100 * time.Millisecond,
	}
}

// Publish writes entry as JSON, retrying transient failures.
func (m *KafkaMirror) Publish(ctx context.Context, entry model.LedgerEntry) error {
	value, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	key := entry.Subject
	if key == "" {
		key = string(entry.Kind)
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  entry.Timestamp,
		Headers: []kafka.Header{
			{Key: "seq", Value: []byte(strconv.FormatUint(entry.Seq, 10))},
			{Key: "kind", Value: []byte(entry.Kind)},
		},
	}

	var lastErr error
	backoff := m.backoff
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, m.writeTimeout)
		lastErr = m.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if lastErr == nil {
			return nil
		}
		if attempt == m.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("publish seq %d failed after %d attempts: %w", entry.Seq, m.maxAttempts, lastErr)
}

// Close shuts down the underlying writer.
func (m *KafkaMirror) Close() error {
	if m == nil || m.writer == nil {
		return nil
	}
	return m.writer.Close()
}

// AsyncMirror queues entries for a background publisher so Append returns
// as soon as the entry is on disk. A full queue drops the entry.
type AsyncMirror struct {
	next  Mirror
	drain time.Duration

	mu     sync.RWMutex
	queue  chan model.LedgerEntry
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewAsyncMirror starts the publisher. Close waits at most drain for queued
// entries (zero waits until the queue is empty) and then closes next.
func NewAsyncMirror(next Mirror, queueSize int, drain time.Duration) *AsyncMirror {
	if queueSize <= 0 {
		queueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &AsyncMirror{
		next:   next,
		drain:  drain,
		queue:  make(chan model.LedgerEntry, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	m.wg.Add(1)
	go m.run()
	return m
}

func (m *AsyncMirror) run() {
	defer m.wg.Done()
	for entry := range m.queue {
		if m.ctx.Err() != nil {
			continue
		}
		if err := m.next.Publish(m.ctx, entry); err != nil {
			logging.Warn("ledger mirror publish failed", map[string]any{"seq": entry.Seq, "error": err.Error()})
		}
	}
}

// Publish enqueues entry without waiting for the mirror.
func (m *AsyncMirror) Publish(_ context.Context, entry model.LedgerEntry) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("mirror closed, seq %d not published", entry.Seq)
	}
	select {
	case m.queue <- entry:
		return nil
	default:
		return fmt.Errorf("mirror queue full, seq %d dropped", entry.Seq)
	}
}

// Close flushes the queue within the drain timeout, then closes the
// underlying mirror. Entries still queued after the timeout are dropped.
func (m *AsyncMirror) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(drained)
	}()

	var timeout <-chan time.Time
	if m.drain > 0 {
		timer := time.NewTimer(m.drain)
		defer timer.Stop()
		timeout = timer.C
	}

	var err error
	select {
	case <-drained:
	case <-timeout:
		dropped := len(m.queue)
		m.cancel()
		<-drained
		err = fmt.Errorf("ledger mirror not drained within %s (%d entries dropped)", m.drain, dropped)
	}
	m.cancel()
	return errors.Join(err, m.next.Close())
}
