// Package notify delivers best-effort job completion callbacks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/github-scraper/pkg/jobs"
)

// DefaultTimeout bounds a single webhook delivery.
const DefaultTimeout = 10 * time.Second

// ErrNoTarget is returned when no webhook URL is given.
var ErrNoTarget = errors.New("webhook url is required")

var webhookDeliveries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scraper_webhook_deliveries_total",
		Help: "Webhook deliveries by result",
	},
	[]string{"result"}, // "success", "error"
)

// Payload is the JSON body posted to a job's webhook.
type Payload struct {
	JobID       string      `json:"job_id"`
	Username    string      `json:"username"`
	Status      jobs.Status `json:"status"`
	Progress    int         `json:"progress"`
	Error       string      `json:"error,omitempty"`
	ExportFiles []string    `json:"export_files,omitempty"`
	FinishedAt  time.Time   `json:"finished_at"`
}

// PayloadFor builds the notification body of a job.
func PayloadFor(job jobs.Job) Payload {
	return Payload{
		JobID:       job.ID,
		Username:    job.Subject,
		Status:      job.Status,
		Progress:    job.Progress,
		Error:       job.Error,
		ExportFiles: job.ExportArtifacts,
		FinishedAt:  job.UpdatedAt,
	}
}

// Webhook posts job payloads to a URL.
type Webhook struct {
	client    *http.Client
	userAgent string
	logger    zerolog.Logger
}

// NewWebhook constructs a Webhook. A nil client gets a DefaultTimeout client.
func NewWebhook(client *http.Client, userAgent string, logger zerolog.Logger) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Webhook{client: client, userAgent: userAgent, logger: logger}
}

// Send posts payload to target. Any non-2xx answer is an error.
func (w *Webhook) Send(ctx context.Context, target string, payload Payload) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return ErrNoTarget
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.userAgent != "" {
		req.Header.Set("User-Agent", w.userAgent)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook responded %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// Notify delivers the payload of job and only logs failures.
func (w *Webhook) Notify(ctx context.Context, target string, job jobs.Job) {
	start := time.Now()
	err := w.Send(ctx, target, PayloadFor(job))
	if err != nil {
		webhookDeliveries.WithLabelValues("error").Inc()
		w.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Msg("webhook delivery failed")
		return
	}
	webhookDeliveries.WithLabelValues("success").Inc()
	w.logger.Debug().
		Str("job_id", job.ID).
		Dur("duration", time.Since(start)).
		Msg("webhook delivered")
}
