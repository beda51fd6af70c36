// Package webhook delivers print job outcomes to subscribed HTTP endpoints.
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
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orrn/printspool/internal/core"
	"github.com/orrn/printspool/internal/db"
)

type Event string

const (
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventPing         Event = "ping"
)

// Events lists what a webhook may subscribe to.
var Events = []Event{EventJobCompleted, EventJobFailed}

type Payload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Signature string    `json:"signature,omitempty"`
}

type JobEventData struct {
	ReferenceID string `json:"reference_id"`
	Status      string `json:"status"`
	ReportURI   string `json:"report_uri,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
}

type Config struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type delivery struct {
	event   Event
	payload *Payload
}

// Sender fans job events out to every enabled webhook subscribed to them.
// Deliveries are queued and retried with exponential backoff; when the
// queue is full new events are dropped.
type Sender struct {
	httpClient  *http.Client
	retryCount  int
	retryDelay  time.Duration
	workerCount int
	queue       chan *delivery
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

var _ core.Notifier = (*Sender)(nil)

func NewSender(cfg Config) *Sender {
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 3
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}

	return &Sender{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		retryCount:  cfg.RetryCount,
		retryDelay:  cfg.RetryDelay,
		workerCount: cfg.WorkerCount,
		queue:       make(chan *delivery, cfg.QueueSize),
		stopCh:      make(chan struct{}),
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop abandons queued deliveries and waits for in-flight ones.
func (s *Sender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sender) JobCompleted(c *core.Completed) {
	s.enqueue(EventJobCompleted, &JobEventData{
		ReferenceID: c.RefID,
		Status:      string(c.State()),
		ReportURI:   c.ReportURI,
		MimeType:    c.MimeType,
		DurationMS:  c.Duration.Milliseconds(),
	})
}

func (s *Sender) JobFailed(f *core.Failed) {
	s.enqueue(EventJobFailed, &JobEventData{
		ReferenceID: f.RefID,
		Status:      string(f.State()),
		Error:       f.Description,
	})
}

// Ping delivers a single test event to w, without retries.
func (s *Sender) Ping(ctx context.Context, w *db.Webhook) error {
	return s.send(ctx, w, &Payload{
		Event:     string(EventPing),
		Timestamp: time.Now(),
		Data:      map[string]string{"webhook": w.Name},
	})
}

func (s *Sender) enqueue(event Event, data any) {
	d := &delivery{
		event:   event,
		payload: &Payload{Event: string(event), Timestamp: time.Now(), Data: data},
	}
	select {
	case s.queue <- d:
	default:
		log.Warn().
			Str("component", "webhook").
			Str("event", string(event)).
			Msg("Webhook queue full, dropping event")
	}
}

func (s *Sender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case d := <-s.queue:
			s.dispatch(id, d)
		}
	}
}

func (s *Sender) dispatch(worker int, d *delivery) {
	ctx := context.Background()
	webhooks, err := db.Webhooks.ListActiveWebhooksForEvent(ctx, string(d.event))
	if err != nil {
		log.Error().Str("component", "webhook").Err(err).Msg("Failed to load webhooks")
		return
	}

	for _, w := range webhooks {
		attempts, err := s.sendWithRetry(ctx, w, d.payload)
		if err != nil {
			log.Warn().
				Str("component", "webhook").
				Int("worker", worker).
				Int64("webhook_id", w.ID).
				Str("event", string(d.event)).
				Int("attempts", attempts).
				Err(err).
				Msg("Webhook delivery failed")
		}
	}
}

func (s *Sender) sendWithRetry(ctx context.Context, w *db.Webhook, payload *Payload) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= s.retryCount; attempt++ {
		err := s.send(ctx, w, payload)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code < 500 {
			return attempt, err
		}

		if attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(attempt-1))
			log.Debug().
				Str("component", "webhook").
				Int64("webhook_id", w.ID).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Err(err).
				Msg("Retrying webhook")
			select {
			case <-s.stopCh:
				return attempt, fmt.Errorf("shutdown requested: %w", lastErr)
			case <-time.After(backoff):
			}
		}
	}
	return s.retryCount, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// StatusError is a non-2xx/3xx reply from a webhook endpoint.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("http error: %d", e.Code) }

func (s *Sender) send(ctx context.Context, w *db.Webhook, payload *Payload) error {
	data, err := json.Marshal(payload.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}

	p := *payload
	if w.Secret != "" {
		p.Signature = Sign(data, w.Secret)
	}
	body, err := json.Marshal(&p)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", p.Event)
	if p.Signature != "" {
		req.Header.Set("X-Webhook-Signature", p.Signature)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Sign is the hex HMAC-SHA256 of the event data, keyed by the webhook secret.
func Sign(data []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
