package submission

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/internal/logger"
)

// ErrLoadNotFound is returned when the API has no load for the number.
var ErrLoadNotFound = errors.New("load not found")

var internalIDPaths = []string{"internal_load_id", "load_id", "id", "data.internal_load_id", "data.id"}

// LoadIDMapper resolves internal load ids from brokerage load numbers.
type LoadIDMapper struct {
	client *Client
}

func NewLoadIDMapper(client *Client) *LoadIDMapper {
	return &LoadIDMapper{client: client}
}

// Resolve looks up the internal id of one load number under brokerageKey,
// falling back to the configured key when it is empty. 4xx responses are
// final; 5xx, 408, 429 and transport errors are retried.
func (m *LoadIDMapper) Resolve(ctx context.Context, brokerageKey, loadNumber string) (string, error) {
	loadNumber = strings.TrimSpace(loadNumber)
	if loadNumber == "" {
		return "", fmt.Errorf("%w: empty load number", apperr.ErrLookup)
	}
	opts := m.client.opts
	if opts.LoadIDBaseURL == "" {
		return "", fmt.Errorf("%w: load id base url is not configured", apperr.ErrLookup)
	}
	if strings.TrimSpace(brokerageKey) == "" {
		brokerageKey = opts.BrokerageKey
	}
	url := strings.TrimRight(opts.LoadIDBaseURL, "/") + "/brokerage-key/{brokerageKey}/brokerage-load-id/{loadNumber}"

	resp, _, err := m.client.do(ctx, func(ctx context.Context) (*resty.Response, error) {
		return m.client.http.R().
			SetContext(ctx).
			SetPathParams(map[string]string{
				"brokerageKey": brokerageKey,
				"loadNumber":   loadNumber,
			}).
			Get(url)
	})
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return "", fmt.Errorf("%w: %w: %s", apperr.ErrLookup, ErrLoadNotFound, loadNumber)
		}
		return "", fmt.Errorf("%w: %w", apperr.ErrLookup, err)
	}

	id := extractString(resp.Body(), internalIDPaths)
	if id == "" {
		return "", fmt.Errorf("%w: response for %s carries no internal id", apperr.ErrLookup, loadNumber)
	}
	return id, nil
}

// MapAll sets internal_load_id on every row carrying a load_number, looked
// up under the run's brokerage key. Rows that fail to resolve proceed
// without it. Returns the number mapped.
func (m *LoadIDMapper) MapAll(ctx context.Context, brokerageKey string, rows []*domain.Row) int {
	log := logger.FromContext(ctx)
	var mapped atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.client.opts.Concurrency)
	for _, row := range rows {
		loadNumber := row.Text(domain.KeyLoadNumber)
		if strings.TrimSpace(loadNumber) == "" {
			continue
		}
		g.Go(func() error {
			id, err := m.Resolve(gctx, brokerageKey, loadNumber)
			if err != nil {
				log.Warn("load id lookup failed", "row", row.Index, "load_number", loadNumber, "error", err)
				return nil
			}
			row.Set(domain.KeyInternalLoadID, id)
			mapped.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(mapped.Load())
}
