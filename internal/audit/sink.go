package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// HTTPSink forwards entries to an HTTP log collector as JSON with bearer auth.
type HTTPSink struct {
	name   string
	url    string
	token  string
	client *http.Client
}

func NewHTTPSink(name, url, token string) *HTTPSink {
	return &HTTPSink{
		name:   name,
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSink) Name() string { return s.name }

func (s *HTTPSink) Deliver(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling entry: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting entry: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sink returned status %d", resp.StatusCode)
	}
	return nil
}

// fanout delivers entries to each sink on its own worker so one slow or dead
// collector cannot stall the others, and nothing in here ever blocks Record.
type fanout struct {
	workers []*sinkWorker
}

type sinkWorker struct {
	sink        Sink
	trail       *Trail
	logger      *slog.Logger
	limiter     *rate.Limiter
	maxAttempts int
	ch          chan Entry
	done        chan struct{}
}

func newFanout(trail *Trail, sinks []SinkOptions, logger *slog.Logger) *fanout {
	f := &fanout{}
	for _, so := range sinks {
		maxAttempts := so.MaxAttempts
		if maxAttempts <= 0 {
			maxAttempts = 3
		}
		ratePerSec := so.RatePerSec
		if ratePerSec <= 0 {
			ratePerSec = 50
		}
		w := &sinkWorker{
			sink:        so.Sink,
			trail:       trail,
			logger:      logger,
			limiter:     rate.NewLimiter(rate.Limit(ratePerSec), 1),
			maxAttempts: maxAttempts,
			ch:          make(chan Entry, 256),
			done:        make(chan struct{}),
		}
		go w.run()
		f.workers = append(f.workers, w)
	}
	return f
}

// enqueue hands an entry to every sink worker without blocking. A full queue
// drops the entry for that sink only; the local trail already holds it.
func (f *fanout) enqueue(e Entry) {
	for _, w := range f.workers {
		select {
		case w.ch <- e:
		default:
			w.logger.Warn("audit sink queue full, dropping entry for sink",
				"sink", w.sink.Name(), "seq", e.Seq)
		}
	}
}

func (f *fanout) close() {
	for _, w := range f.workers {
		close(w.ch)
	}
	for _, w := range f.workers {
		<-w.done
	}
}

func (w *sinkWorker) run() {
	defer close(w.done)
	for e := range w.ch {
		w.deliver(e)
	}
}

// deliver tries the sink up to maxAttempts with doubling backoff. Terminal
// failure is recorded as a security_event in the local trail; that record
// does not re-enter the fan-out.
func (w *sinkWorker) deliver(e Entry) {
	backoff := 250 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		// Sink delivery is never cancelled by the originating request.
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := w.limiter.Wait(ctx); err != nil {
			cancel()
			lastErr = err
			break
		}
		err := w.sink.Deliver(ctx, e)
		cancel()
		if err == nil {
			return
		}
		lastErr = err
		if attempt < w.maxAttempts {
			time.Sleep(backoff)
			if backoff < 4*time.Second {
				backoff *= 2
			}
		}
	}

	w.logger.Warn("audit sink delivery failed", "sink", w.sink.Name(), "seq", e.Seq, "error", lastErr)
	w.trail.recordLocal(Entry{
		EventType: EventSecurity,
		Purpose:   "sink-delivery-failure",
		Outcome:   "failed",
		Detail: map[string]string{
			"sink":     w.sink.Name(),
			"entry_id": e.EntryID,
			"error":    lastErr.Error(),
			"attempts": fmt.Sprintf("%d", w.maxAttempts),
		},
	})
}
