package audit

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jvs-project/goldgate/pkg/model"
)

type mockWriter struct {
	mock.Mock
}

func (w *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	return w.Called(msgs).Error(0)
}

func (w *mockWriter) Close() error {
	return w.Called().Error(0)
}

func TestNewKafkaMirror_RequiresBrokersAndTopic(t *testing.T) {
	_, err := NewKafkaMirror(KafkaMirrorConfig{Topic: "t"})
	assert.Error(t, err)
	_, err = NewKafkaMirror(KafkaMirrorConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

func TestKafkaMirror_PublishKeysBySubject(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteMessages", mock.MatchedBy(func(msgs []kafka.Message) bool {
		return len(msgs) == 1 && string(msgs[0].Key) == "test_x.py"
	})).Return(nil).Once()

	m := newKafkaMirror(w, KafkaMirrorConfig{})
	err := m.Publish(context.Background(), model.LedgerEntry{Seq: 9, Kind: model.KindPromotion, Subject: "test_x.py"})
	require.NoError(t, err)
	w.AssertExpectations(t)
}

func TestKafkaMirror_RetriesThenFails(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteMessages", mock.Anything).Return(errors.New("leader not available")).Times(2)

	m := newKafkaMirror(w, KafkaMirrorConfig{MaxAttempts: 2, WriteTimeout: time.Second})
	m.backoff = time.Millisecond

	err := m.Publish(context.Background(), model.LedgerEntry{Seq: 1, Kind: model.KindGateDecision})
	assert.ErrorContains(t, err, "after 2 attempts")
	w.AssertExpectations(t)
}

func TestKafkaMirror_Close(t *testing.T) {
	w := &mockWriter{}
	w.On("Close").Return(nil).Once()
	require.NoError(t, newKafkaMirror(w, KafkaMirrorConfig{}).Close())
	w.AssertExpectations(t)
}

// hangingWriter never completes a write, like an unreachable broker.
type hangingWriter struct {
	closed atomic.Bool
}

func (w *hangingWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func (w *hangingWriter) Close() error {
	w.closed.Store(true)
	return nil
}

func mirroredEntry(subject string) model.LedgerEntry {
	return model.LedgerEntry{
		Actor:   "hook",
		Kind:    model.KindGateDecision,
		Outcome: string(model.VerdictAllow),
		Subject: subject,
	}
}

func TestLedger_HangingMirrorDoesNotDelayAppends(t *testing.T) {
	w := &hangingWriter{}
	mirror := NewAsyncMirror(newKafkaMirror(w, KafkaMirrorConfig{MaxAttempts: 3, WriteTimeout: 300 * time.Millisecond}), 16, 100*time.Millisecond)
	l := NewLedger(filepath.Join(t.TempDir(), "ledger.jsonl"), WithMirror(mirror))

	latencies := make([]time.Duration, 2)
	var wg sync.WaitGroup
	for i := range latencies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			_, err := l.Append(context.Background(), mirroredEntry(fmt.Sprintf("src/f%d.js", i)))
			assert.NoError(t, err)
			latencies[i] = time.Since(start)
		}()
	}
	wg.Wait()
	for _, d := range latencies {
		assert.Less(t, d, 250*time.Millisecond)
	}

	start := time.Now()
	assert.Error(t, mirror.Close())
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, w.closed.Load())

	entries, err := l.Replay(context.Background())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

// gatedMirror holds the publish of seq 1 until release is closed.
type gatedMirror struct {
	release chan struct{}
}

func (m *gatedMirror) Publish(_ context.Context, entry model.LedgerEntry) error {
	if entry.Seq == 1 {
		<-m.release
	}
	return nil
}

func (m *gatedMirror) Close() error { return nil }

func TestLedger_PublishesOutsideLedgerLock(t *testing.T) {
	m := &gatedMirror{release: make(chan struct{})}
	l := NewLedger(filepath.Join(t.TempDir(), "ledger.jsonl"), WithMirror(m))

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, err := l.Append(context.Background(), mirroredEntry("a"))
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		entries, err := l.Replay(context.Background())
		return err == nil && len(entries) == 1
	}, 2*time.Second, 5*time.Millisecond)

	seq, err := l.Append(context.Background(), mirroredEntry("b"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	close(m.release)
	<-firstDone
}

func TestAsyncMirror_CloseDeliversQueuedEntries(t *testing.T) {
	w := &mockWriter{}
	w.On("WriteMessages", mock.Anything).Return(nil).Times(3)
	w.On("Close").Return(nil).Once()

	m := NewAsyncMirror(newKafkaMirror(w, KafkaMirrorConfig{}), 8, 0)
	for i := 1; i <= 3; i++ {
		require.NoError(t, m.Publish(context.Background(), model.LedgerEntry{Seq: uint64(i), Kind: model.KindPromotion, Subject: "test_x.py"}))
	}
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	w.AssertExpectations(t)

	assert.Error(t, m.Publish(context.Background(), model.LedgerEntry{Seq: 4}))
}
