package submission

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/pkg/schema"
)

func testRow(index int, loadNumber string) *domain.Row {
	row := domain.NewRow(index)
	row.Set("load.loadNumber", loadNumber)
	row.Set("load.items.0.quantity", "1,200")
	row.Set("load.route.0.address.city", "Austin")
	row.Set("customer.customerId", "C-1")
	return row
}

func newTestClient(baseURL string, retries int) *Client {
	return NewClient(Options{
		BaseURL:       baseURL,
		LoadIDBaseURL: baseURL + "/unstable/loads",
		BrokerageKey:  "augment-brokerage",
		Token:         "tok",
		Timeout:       2 * time.Second,
		RetryCount:    retries,
		RetryDelay:    time.Millisecond,
		Concurrency:   4,
	})
}

func TestBuildPayload(t *testing.T) {
	row := testRow(0, "L-1")
	row.Set(domain.KeySubmissionStatus, "success")
	row.Set("sf_tracking_status", "Delivered")

	payload, err := BuildPayload(schema.Default(), row)
	require.NoError(t, err)

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"load": {
			"loadNumber": "L-1",
			"items": [{"quantity": 1200}],
			"route": [{"address": {"city": "Austin"}}]
		},
		"customer": {"customerId": "C-1"}
	}`, string(raw))
}

func TestSubmitter(t *testing.T) {
	t.Run("posts the nested payload and capture the load number", func(t *testing.T) {
		var gotAuth string
		var gotBody map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/loads", r.URL.Path)
			gotAuth = r.Header.Get("Authorization")
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &gotBody)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"load": {"loadNumber": "API-77"}}`))
		}))
		defer srv.Close()

		sub := NewSubmitter(newTestClient(srv.URL, 0), nil)
		out, err := sub.Submit(context.Background(), testRow(0, "L-1"))
		require.NoError(t, err)
		assert.Equal(t, "API-77", out.LoadNumber)
		assert.Equal(t, "Bearer tok", gotAuth)
		assert.Equal(t, "L-1", gotBody["load"].(map[string]any)["loadNumber"])
	})

	t.Run("falls back to the submitted load number", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status": "accepted"}`))
		}))
		defer srv.Close()

		out, err := NewSubmitter(newTestClient(srv.URL, 0), nil).Submit(context.Background(), testRow(0, "L-9"))
		require.NoError(t, err)
		assert.Equal(t, "L-9", out.LoadNumber)
	})

	t.Run("retries transient failures then succeed", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(`{"loadNumber": "L-OK"}`))
		}))
		defer srv.Close()

		out, err := NewSubmitter(newTestClient(srv.URL, 3), nil).Submit(context.Background(), testRow(0, "L-1"))
		require.NoError(t, err)
		assert.Equal(t, 3, out.Attempts)
		assert.Equal(t, "L-OK", out.LoadNumber)
	})

	t.Run("does not retry client errors", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error": "bad mode"}`))
		}))
		defer srv.Close()

		_, err := NewSubmitter(newTestClient(srv.URL, 3), nil).Submit(context.Background(), testRow(0, "L-1"))
		require.ErrorIs(t, err, apperr.ErrSubmission)
		assert.True(t, IsStatus(err, http.StatusUnprocessableEntity))
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("marks failed rows without failing the batch", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["load"].(map[string]any)["loadNumber"] == "BAD" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(`{}`))
		}))
		defer srv.Close()

		rows := []*domain.Row{testRow(0, "L-1"), testRow(1, "BAD"), testRow(2, "L-3")}
		stats := NewSubmitter(newTestClient(srv.URL, 2), nil).SubmitAll(context.Background(), rows)

		assert.Equal(t, Stats{Submitted: 2, Failed: 1}, stats)
		assert.Equal(t, int32(2+3), calls.Load())
		assert.Equal(t, "L-1", rows[0].Text(domain.KeyLoadNumber))
		assert.Equal(t, domain.SubmissionFailed, rows[1].Text(domain.KeySubmissionStatus))
		assert.False(t, rows[1].Has(domain.KeyLoadNumber))
		assert.Equal(t, domain.SubmissionSucceeded, rows[2].Text(domain.KeySubmissionStatus))
	})
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	assert.NoError(t, newTestClient(srv.URL, 0).Ping(context.Background()))
	srv.Close()

	err := newTestClient(srv.URL, 0).Ping(context.Background())
	assert.ErrorIs(t, err, apperr.ErrStructural)

	assert.ErrorIs(t, NewClient(Options{}).Ping(context.Background()), apperr.ErrStructural)
}

func TestLoadIDMapper(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/unstable/loads/brokerage-key/augment-brokerage/brokerage-load-id/L-1":
			_, _ = w.Write([]byte(`{"internal_load_id": "int-1"}`))
		case "/unstable/loads/brokerage-key/augment-brokerage/brokerage-load-id/L-2":
			_, _ = w.Write([]byte(`{"id": 42}`))
		case "/unstable/loads/brokerage-key/augment-brokerage/brokerage-load-id/L 3":
			_, _ = w.Write([]byte(`{"load_id": "int-3"}`))
		case "/unstable/loads/brokerage-key/tenant-b/brokerage-load-id/L-1":
			_, _ = w.Write([]byte(`{"internal_load_id": "tenant-b-1"}`))
		case "/unstable/loads/brokerage-key/augment-brokerage/brokerage-load-id/DENIED":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	mapper := NewLoadIDMapper(newTestClient(srv.URL, 3))

	t.Run("resolves ids from each response shape", func(t *testing.T) {
		id, err := mapper.Resolve(context.Background(), "", "L-1")
		require.NoError(t, err)
		assert.Equal(t, "int-1", id)

		id, err = mapper.Resolve(context.Background(), "", "L-2")
		require.NoError(t, err)
		assert.Equal(t, "42", id)

		id, err = mapper.Resolve(context.Background(), "", "L 3")
		require.NoError(t, err)
		assert.Equal(t, "int-3", id)
	})

	t.Run("looks up under the given brokerage key", func(t *testing.T) {
		id, err := mapper.Resolve(context.Background(), "tenant-b", "L-1")
		require.NoError(t, err)
		assert.Equal(t, "tenant-b-1", id)

		row := domain.NewRow(0)
		row.Set(domain.KeyLoadNumber, "L-1")
		assert.Equal(t, 1, mapper.MapAll(context.Background(), "tenant-b", []*domain.Row{row}))
		assert.Equal(t, "tenant-b-1", row.Text(domain.KeyInternalLoadID))
	})

	t.Run("does not retry not-found or forbidden", func(t *testing.T) {
		calls.Store(0)
		_, err := mapper.Resolve(context.Background(), "", "MISSING")
		assert.ErrorIs(t, err, ErrLoadNotFound)
		assert.ErrorIs(t, err, apperr.ErrLookup)

		_, err = mapper.Resolve(context.Background(), "", "DENIED")
		assert.True(t, IsStatus(err, http.StatusForbidden))
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("maps rows that carry a load number and skip the rest", func(t *testing.T) {
		withNumber := domain.NewRow(0)
		withNumber.Set(domain.KeyLoadNumber, "L-1")
		unknown := domain.NewRow(1)
		unknown.Set(domain.KeyLoadNumber, "MISSING")
		failedSubmit := domain.NewRow(2)
		failedSubmit.Set(domain.KeySubmissionStatus, domain.SubmissionFailed)

		mapped := mapper.MapAll(context.Background(), "", []*domain.Row{withNumber, unknown, failedSubmit})
		assert.Equal(t, 1, mapped)
		assert.Equal(t, "int-1", withNumber.Text(domain.KeyInternalLoadID))
		assert.False(t, unknown.Has(domain.KeyInternalLoadID))
		assert.False(t, failedSubmit.Has(domain.KeyInternalLoadID))
	})
}
