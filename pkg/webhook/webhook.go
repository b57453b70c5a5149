// Package webhook delivers goldgate lifecycle events to HTTP endpoints.
//
// Deliveries are signed with HMAC-SHA256 over "<unix-seconds>.<body>" so a
// receiver can reject both forged and replayed payloads; see Verify.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/jvs-project/goldgate/pkg/logging"
)

// EventType names a ledgered outcome that can be delivered.
type EventType string

const (
	EventPromotionGolden   EventType = "promotion.golden"
	EventPromotionRejected EventType = "promotion.rejected"
	EventDriftCorrected    EventType = "drift.corrected"
	EventGateBlock         EventType = "gate.block"

	// EventAll subscribes a hook to every event type.
	EventAll EventType = "*"
)

// Request headers set on every delivery.
const (
	HeaderEvent     = "X-Goldgate-Event"
	HeaderDelivery  = "X-Goldgate-Delivery"
	HeaderSignature = "X-Goldgate-Signature"
)

// Event is the JSON body of a delivery.
type Event struct {
	ID         string         `json:"id"`
	Event      EventType      `json:"event"`
	Timestamp  string         `json:"timestamp"`
	RepoRoot   string         `json:"repo_root,omitempty"`
	ArtifactID string         `json:"artifact_id,omitempty"`
	Path       string         `json:"path,omitempty"`
	Actor      string         `json:"actor,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	LedgerSeq  uint64         `json:"ledger_seq,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// HookConfig is one endpoint subscription.
type HookConfig struct {
	URL     string        `json:"url" yaml:"url" mapstructure:"url"`
	Secret  string        `json:"secret,omitempty" yaml:"secret,omitempty" mapstructure:"secret"`
	Events  []EventType   `json:"events" yaml:"events" mapstructure:"events"`
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
	Enabled bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

func (h HookConfig) wants(t EventType) bool {
	if !h.Enabled {
		return false
	}
	for _, e := range h.Events {
		if e == t || e == EventAll {
			return true
		}
	}
	return false
}

// Config is the webhooks section of .goldgate/config.yaml.
type Config struct {
	Hooks          []HookConfig  `json:"hooks" yaml:"hooks" mapstructure:"hooks"`
	Enabled        bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay     time.Duration `json:"retry_delay" yaml:"retry_delay" mapstructure:"retry_delay"`
	AsyncQueueSize int           `json:"async_queue_size" yaml:"async_queue_size" mapstructure:"async_queue_size"`

	// DrainTimeout bounds how long Close waits for queued deliveries,
	// retries included. Zero waits until the queue is empty.
	DrainTimeout time.Duration `json:"drain_timeout" yaml:"drain_timeout" mapstructure:"drain_timeout"`
}

// DefaultConfig enables delivery but configures no hooks.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		MaxRetries:     3,
		RetryDelay:     5 * time.Second,
		AsyncQueueSize: 100,
		DrainTimeout:   2 * time.Second,
	}
}

// Notifier is what the workflow and enforcer depend on.
type Notifier interface {
	Send(event Event, async bool) error
}

// Client posts events to the configured hooks. Async sends go through a
// bounded queue drained by one worker; Close flushes it.
type Client struct {
	config *Config
	http   *http.Client
	now    func() time.Time

	mu     sync.RWMutex
	queue  chan delivery
	closed bool
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

type delivery struct {
	hook    HookConfig
	event   EventType
	id      string
	payload []byte
}

// NewClient starts the delivery worker when cfg is enabled.
func NewClient(cfg *Config) *Client {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	size := cfg.AsyncQueueSize
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config: cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		now:    time.Now,
		queue:  make(chan delivery, size),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.Enabled {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

func (c *Client) worker() {
	defer c.wg.Done()
	for d := range c.queue {
		if c.ctx.Err() != nil {
			continue
		}
		if err := c.deliver(d); err != nil {
			logging.ErrorErr("webhook delivery failed", err, map[string]any{
				"event": string(d.event), "delivery": d.id, "url": d.hook.URL,
			})
		}
	}
}

// Send delivers event to every enabled hook subscribed to its type. The
// event gets an id and timestamp if it has none. With async the deliveries
// are queued; a full queue drops them with a warning.
func (c *Client) Send(event Event, async bool) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.config.Enabled || c.closed {
		return nil
	}
	var hooks []HookConfig
	for _, h := range c.config.Hooks {
		if h.wants(event.Event) {
			hooks = append(hooks, h)
		}
	}
	if len(hooks) == 0 {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp == "" {
		event.Timestamp = c.now().UTC().Format(time.RFC3339)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var errs []error
	for _, h := range hooks {
		d := delivery{hook: h, event: event.Event, id: event.ID, payload: payload}
		if !async {
			if err := c.deliver(d); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", h.URL, err))
			}
			continue
		}
		select {
		case c.queue <- d:
		default:
			logging.Warn("webhook queue full, dropping event", map[string]any{"event": string(event.Event), "url": h.URL})
		}
	}
	return errors.Join(errs...)
}

// permanentError stops retries: the receiver rejected the request itself.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// deliver posts d with exponential backoff. 4xx responses other than 408
// and 429 are not retried.
func (c *Client) deliver(d delivery) error {
	backoff := wait.Backoff{
		Duration: c.config.RetryDelay,
		Factor:   2,
		Jitter:   0.1,
		Steps:    c.config.MaxRetries + 1,
	}
	if backoff.Duration <= 0 {
		backoff.Duration = time.Millisecond
	}

	var lastErr error
	err := wait.ExponentialBackoffWithContext(c.ctx, backoff, func(ctx context.Context) (bool, error) {
		lastErr = c.post(ctx, d)
		var perm *permanentError
		switch {
		case lastErr == nil:
			return true, nil
		case errors.As(lastErr, &perm):
			return false, perm.err
		default:
			return false, nil
		}
	})
	if err == nil {
		return nil
	}
	var perm *permanentError
	if lastErr != nil && !errors.As(lastErr, &perm) {
		return fmt.Errorf("giving up after %d attempt(s): %w", backoff.Steps, lastErr)
	}
	return err
}

func (c *Client) post(ctx context.Context, d delivery) error {
	if d.hook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.hook.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.hook.URL, bytes.NewReader(d.payload))
	if err != nil {
		return &permanentError{err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "goldgate-webhook/1.0")
	req.Header.Set(HeaderEvent, string(d.event))
	req.Header.Set(HeaderDelivery, d.id)
	if d.hook.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(d.payload, d.hook.Secret, c.now()))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 &&
		resp.StatusCode != http.StatusRequestTimeout && resp.StatusCode != http.StatusTooManyRequests:
		return &permanentError{err: fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	default:
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
}

// Sign returns the signature header value "t=<unix>,v1=<hex hmac>".
func Sign(payload []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac(payload, secret, ts))
}

// Verify checks a signature header produced by Sign. Signatures older or
// newer than tolerance relative to now are rejected.
func Verify(payload []byte, header, secret string, tolerance time.Duration, now time.Time) error {
	var ts, sig string
	for _, part := range strings.Split(header, ",") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return fmt.Errorf("malformed signature header")
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed signature timestamp: %w", err)
	}
	if skew := now.Sub(time.Unix(unix, 0)); skew > tolerance || skew < -tolerance {
		return fmt.Errorf("signature timestamp outside tolerance (%s)", skew.Round(time.Second))
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", err)
	}
	if !hmac.Equal(got, mac(payload, secret, ts)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func mac(payload []byte, secret, ts string) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(ts))
	m.Write([]byte("."))
	m.Write(payload)
	return m.Sum(nil)
}

// Close stops accepting events and delivers what is queued, giving up after
// the configured DrainTimeout.
func (c *Client) Close() error {
	ctx := context.Background()
	if c.config.DrainTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.DrainTimeout)
		defer cancel()
	}
	return c.Shutdown(ctx)
}

// Shutdown stops accepting events and waits for queued deliveries until ctx
// is done. In-flight requests and backoff waits are then aborted and the rest
// of the queue is dropped. Calling it again is a no-op.
func (c *Client) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-ctx.Done():
		dropped := len(c.queue)
		c.cancel()
		<-drained
		logging.Warn("webhook queue not drained before shutdown", map[string]any{"dropped": dropped})
		err = fmt.Errorf("webhook shutdown: %w (%d queued deliveries dropped)", ctx.Err(), dropped)
	}
	c.cancel()
	return err
}
