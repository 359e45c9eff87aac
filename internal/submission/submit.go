package submission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/internal/logger"
	"github.com/rpattn/loadflow/pkg/schema"
)

// loadNumberPaths are the response shapes the load number is read from.
var loadNumberPaths = []string{
	"load.loadNumber",
	"loadNumber",
	"load_number",
	"data.load.loadNumber",
	"data.loadNumber",
	"id",
}

// annotationKeys are pipeline bookkeeping columns that never go on the wire.
var annotationKeys = map[string]struct{}{
	domain.KeyLoadNumber:       {},
	domain.KeySubmissionStatus: {},
	domain.KeySubmissionError:  {},
	domain.KeyInternalLoadID:   {},
}

// BuildPayload nests a row into the API request body. Bookkeeping and sf_
// columns are left out and numeric schema fields are sent as numbers.
func BuildPayload(reg *schema.Registry, row *domain.Row) (map[string]any, error) {
	flat := make(map[string]any, row.Len())
	for _, key := range row.Keys() {
		if _, skip := annotationKeys[key]; skip || strings.HasPrefix(key, "sf_") {
			continue
		}
		value, _ := row.Get(key)
		flat[key] = coerce(reg, key, value)
	}
	return schema.Nest(flat)
}

func coerce(reg *schema.Registry, path string, value any) any {
	s, ok := value.(string)
	if !ok || reg == nil {
		return value
	}
	field, known := reg.Lookup(path)
	if !known || field.Type != schema.FieldTypeNumber {
		return value
	}
	trimmed := strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if _, err := strconv.ParseFloat(trimmed, 64); err != nil {
		return value
	}
	return json.Number(trimmed)
}

// Outcome of submitting one row.
type Outcome struct {
	LoadNumber string
	Attempts   int
}

// Submitter posts valid rows to the load endpoint.
type Submitter struct {
	client   *Client
	registry *schema.Registry
}

func NewSubmitter(client *Client, registry *schema.Registry) *Submitter {
	if registry == nil {
		registry = schema.Default()
	}
	return &Submitter{client: client, registry: registry}
}

// Submit posts one row and returns the load number the API assigned.
// When the response carries none, the submitted load number is used.
func (s *Submitter) Submit(ctx context.Context, row *domain.Row) (Outcome, error) {
	payload, err := BuildPayload(s.registry, row)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: build payload: %v", apperr.ErrSubmission, err)
	}

	resp, attempts, err := s.client.do(ctx, func(ctx context.Context) (*resty.Response, error) {
		return s.client.http.R().
			SetContext(ctx).
			SetBody(payload).
			Post(s.client.opts.LoadPath)
	})
	if err != nil {
		return Outcome{Attempts: attempts}, fmt.Errorf("%w: %w", apperr.ErrSubmission, err)
	}

	loadNumber := extractString(resp.Body(), loadNumberPaths)
	if loadNumber == "" {
		loadNumber = strings.TrimSpace(fmt.Sprint(valueOr(row, "load.loadNumber")))
	}
	return Outcome{LoadNumber: loadNumber, Attempts: attempts}, nil
}

// Stats counts submission outcomes.
type Stats struct {
	Submitted int
	Failed    int
}

// SubmitAll submits rows concurrently up to the configured limit. A failed
// row is annotated with submission_status=failed and never fails the batch.
func (s *Submitter) SubmitAll(ctx context.Context, rows []*domain.Row) Stats {
	log := logger.FromContext(ctx)
	var submitted, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.client.opts.Concurrency)
	for _, row := range rows {
		g.Go(func() error {
			out, err := s.Submit(gctx, row)
			if err != nil {
				failed.Add(1)
				row.Set(domain.KeySubmissionStatus, domain.SubmissionFailed)
				row.Set(domain.KeySubmissionError, err.Error())
				log.Warn("load submission failed", "row", row.Index, "attempts", out.Attempts, "error", err)
				return nil
			}
			submitted.Add(1)
			row.Set(domain.KeyLoadNumber, out.LoadNumber)
			row.Set(domain.KeySubmissionStatus, domain.SubmissionSucceeded)
			log.Debug("load submitted", "row", row.Index, "load_number", out.LoadNumber, "attempts", out.Attempts)
			return nil
		})
	}
	_ = g.Wait()

	return Stats{Submitted: int(submitted.Load()), Failed: int(failed.Load())}
}

func valueOr(row *domain.Row, key string) any {
	v, ok := row.Get(key)
	if !ok || v == nil {
		return ""
	}
	return v
}

// extractString returns the first non-empty scalar found at paths.
func extractString(body []byte, paths []string) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, p := range paths {
		res := gjson.GetBytes(body, p)
		if !res.Exists() || res.IsObject() || res.IsArray() {
			continue
		}
		if v := strings.TrimSpace(res.String()); v != "" {
			return v
		}
	}
	return ""
}

// IsStatus reports whether err carries an API response with the given status.
func IsStatus(err error, status int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == status
}
