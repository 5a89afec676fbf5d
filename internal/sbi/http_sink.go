package sbi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/signalsfoundry/sagin-domain-engine/internal/logging"
	"github.com/signalsfoundry/sagin-domain-engine/model"
)

const directivesPath = "/v1/directives"

// installRequest is the wire shape POSTed to the control plane.
type installRequest struct {
	RunID      string                `json:"run_id"`
	Slot       int                   `json:"slot"`
	Directives []model.FlowDirective `json:"directives"`
}

// HTTPSink delivers directive batches to a control-plane endpoint over
// HTTP. Transient failures are retried with exponential backoff; a 4xx
// response aborts the batch immediately, since redelivering the same
// payload cannot succeed.
type HTTPSink struct {
	baseURL  string
	runID    string
	client   *http.Client
	maxTries uint
	log      logging.Logger
}

// HTTPSinkOption customises an HTTPSink.
type HTTPSinkOption func(*HTTPSink)

// WithHTTPClient overrides the HTTP client used for delivery.
func WithHTTPClient(client *http.Client) HTTPSinkOption {
	return func(s *HTTPSink) {
		if client != nil {
			s.client = client
		}
	}
}

// WithMaxTries bounds delivery attempts per batch. The default is 4.
func WithMaxTries(n uint) HTTPSinkOption {
	return func(s *HTTPSink) {
		if n > 0 {
			s.maxTries = n
		}
	}
}

// WithSinkLogger attaches a logger for per-attempt diagnostics.
func WithSinkLogger(log logging.Logger) HTTPSinkOption {
	return func(s *HTTPSink) {
		if log != nil {
			s.log = log
		}
	}
}

// NewHTTPSink creates a sink that POSTs each batch to
// baseURL+"/v1/directives", stamping payloads with runID.
func NewHTTPSink(baseURL, runID string, opts ...HTTPSinkOption) *HTTPSink {
	s := &HTTPSink{
		baseURL:  strings.TrimRight(baseURL, "/"),
		runID:    runID,
		client:   &http.Client{Timeout: 10 * time.Second},
		maxTries: 4,
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Install POSTs the batch, retrying transient failures with exponential
// backoff until the context is cancelled or the attempt budget runs out.
func (s *HTTPSink) Install(ctx context.Context, slot int, directives []model.FlowDirective) error {
	body, err := json.Marshal(installRequest{RunID: s.runID, Slot: slot, Directives: directives})
	if err != nil {
		return fmt.Errorf("HTTPSink.Install: encode payload: %w", err)
	}

	attempt := func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+directivesPath, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return struct{}{}, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			return struct{}{}, backoff.Permanent(fmt.Errorf("control plane rejected batch: %s", resp.Status))
		default:
			return struct{}{}, fmt.Errorf("control plane returned %s", resp.Status)
		}
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 100 * time.Millisecond
	expo.MaxInterval = 2 * time.Second

	_, err = backoff.Retry(ctx, attempt,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			s.log.Warn(ctx, "directive delivery failed; retrying",
				logging.Int("slot", slot),
				logging.Duration("wait", wait),
				logging.Err(err),
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("HTTPSink.Install: slot %d: %w", slot, err)
	}
	return nil
}
