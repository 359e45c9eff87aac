package postback

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/internal/logger"
)

// WebhookOptions configures the webhook handler. RetryCount is the total
// number of attempts per batch.
type WebhookOptions struct {
	URL        string            `mapstructure:"url" validate:"required,url"`
	Timeout    time.Duration     `mapstructure:"timeout" validate:"gt=0"`
	Headers    map[string]string `mapstructure:"headers"`
	BatchSize  int               `mapstructure:"batch_size" validate:"min=1"`
	RetryCount int               `mapstructure:"retry_count" validate:"min=1"`
	RetryDelay time.Duration     `mapstructure:"retry_delay" validate:"min=0"`
}

type webhookPayload struct {
	Data  []*domain.Row `json:"data"`
	Count int           `json:"count"`
}

// WebhookHandler POSTs rows in batches as {"data": [...], "count": n}.
type WebhookHandler struct {
	opts WebhookOptions
	http *resty.Client
}

func NewWebhookHandler(options map[string]any) (Handler, error) {
	opts := WebhookOptions{
		Timeout:    30 * time.Second,
		BatchSize:  100,
		RetryCount: 3,
		RetryDelay: 2 * time.Second,
	}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeaders(opts.Headers)
	return &WebhookHandler{opts: opts, http: client}, nil
}

func acceptedStatus(code int) bool {
	return code == http.StatusOK || code == http.StatusCreated || code == http.StatusAccepted
}

func (h *WebhookHandler) Deliver(ctx context.Context, batch Batch) (string, error) {
	var sent, failed int
	for start := 0; start < len(batch.Rows); start += h.opts.BatchSize {
		end := min(start+h.opts.BatchSize, len(batch.Rows))
		if err := h.send(ctx, batch.Rows[start:end]); err != nil {
			logger.FromContext(ctx).Warn("webhook batch failed", "url", h.opts.URL, "offset", start, "error", err)
			failed++
			continue
		}
		sent++
	}
	if failed > 0 {
		return "", fmt.Errorf("%w: %d of %d webhook batches failed", apperr.ErrPostback, failed, failed+sent)
	}
	return fmt.Sprintf("%s (%d batches)", h.opts.URL, sent), nil
}

func (h *WebhookHandler) send(ctx context.Context, rows []*domain.Row) error {
	payload := webhookPayload{Data: rows, Count: len(rows)}
	backoff := retry.WithMaxRetries(uint64(h.opts.RetryCount-1), retry.NewConstant(max(h.opts.RetryDelay, time.Millisecond)))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := h.http.R().SetContext(ctx).SetBody(payload).Post(h.opts.URL)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}
		if !acceptedStatus(resp.StatusCode()) {
			return retry.RetryableError(fmt.Errorf("webhook returned status %d", resp.StatusCode()))
		}
		return nil
	})
}
