package enrichment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/internal/ingestion"
	"github.com/rpattn/loadflow/pkg/schema"
)

type fakeWarehouse struct {
	mu       sync.Mutex
	calls    []domain.Category
	records  map[domain.Category]map[string]any
	fail     map[domain.Category]error
	failKeys map[string]error
}

func (f *fakeWarehouse) Lookup(_ context.Context, category domain.Category, keys Keys) (domain.EnrichmentRecord, bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, category)
	f.mu.Unlock()
	if err := f.fail[category]; err != nil {
		return domain.EnrichmentRecord{}, false, err
	}
	key, _ := keys.For(category)
	if err := f.failKeys[key]; err != nil {
		return domain.EnrichmentRecord{}, false, err
	}
	fields, ok := f.records[category]
	if !ok {
		return domain.EnrichmentRecord{}, false, nil
	}
	return domain.EnrichmentRecord{Category: category, Key: key, Columns: Columns(category), Fields: fields}, true, nil
}

func strPtr(s string) *string { return &s }

func submittedRow(index int) *domain.Row {
	row := domain.NewRow(index)
	row.Set("load.loadNumber", "L-100")
	row.Set("customer.customerId", "CUST-1")
	row.Set("load.referenceNumbers.0.name", "PO")
	row.Set("load.referenceNumbers.0.value", "PO-9")
	row.Set("load.referenceNumbers.1.name", "PRO_NUMBER")
	row.Set("load.referenceNumbers.1.value", "PRO123")
	row.Set("load.route.0.address.postalCode", "73301")
	row.Set("load.route.1.address.postalCode", "89501")
	row.Set(domain.KeyLoadNumber, "L-100")
	row.Set(domain.KeyInternalLoadID, "int-1")
	return row
}

func TestDeriveKeys(t *testing.T) {
	t.Run("reads schema paths", func(t *testing.T) {
		row := submittedRow(0)
		row.Set("carrier.mcNumber", "MC-1")
		keys := DeriveKeys(row)
		assert.Equal(t, Keys{
			PRO:            "PRO123",
			Customer:       "CUST-1",
			Carrier:        "MC-1",
			OriginZip:      "73301",
			DestZip:        "89501",
			InternalLoadID: "int-1",
		}, keys)
	})

	t.Run("falls back to legacy columns", func(t *testing.T) {
		row := domain.NewRow(0)
		row.Set("Carrier Pro#", " 555 ")
		row.Set("customer_code", "C-9")
		row.Set("carrier_code", "ABCD")
		row.Set("origin_zip", "10001")
		row.Set("dest_zip", 60601)
		keys := DeriveKeys(row)
		assert.Equal(t, "555", keys.PRO)
		assert.Equal(t, "C-9", keys.Customer)
		assert.Equal(t, "ABCD", keys.Carrier)
		assert.Equal(t, "60601", keys.DestZip)

		lane, ok := keys.For(domain.CategoryLane)
		assert.True(t, ok)
		assert.Equal(t, "10001>60601", lane)
		_, ok = keys.For(domain.CategoryLoad)
		assert.False(t, ok)
	})

	t.Run("finds the PRO of a suggested mapping", func(t *testing.T) {
		table := ingestion.Table{
			Columns: []string{"load_number", "PRO"},
			Records: []map[string]any{{"load_number": "L-1", "PRO": "PRO-77"}},
		}
		mapping, _ := ingestion.SuggestMapping(schema.Default(), table.Columns)
		mapped, err := ingestion.NewMapper(schema.Default()).Apply(table, mapping)
		require.NoError(t, err)
		require.Len(t, mapped.Rows, 1)

		keys := DeriveKeys(mapped.Rows[0])
		assert.Equal(t, "PRO-77", keys.PRO)
		pro, ok := keys.For(domain.CategoryTracking)
		assert.True(t, ok)
		assert.Equal(t, "PRO-77", pro)
	})
}

func TestGatewayEnrichRow(t *testing.T) {
	clock := func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	t.Run("merges hits and keep every prior field", func(t *testing.T) {
		wh := &fakeWarehouse{records: map[domain.Category]map[string]any{
			domain.CategoryTracking: {
				"sf_tracking_status":    "In Transit",
				"sf_last_scan_location": "Dallas, TX",
				"sf_last_scan_time":     "2025-01-01T10:00:00Z",
				"sf_estimated_delivery": "2025-01-03",
			},
		}}
		row := submittedRow(0)
		before := row.Map()
		beforeKeys := row.Keys()

		res := NewGateway(wh, WithClock(clock)).EnrichRow(context.Background(), row)

		assert.True(t, res.Hit)
		assert.Equal(t, 1, res.Hits)
		assert.Equal(t, "In Transit", row.Text("sf_tracking_status"))
		assert.Equal(t, "2025-01-02T03:04:05Z", row.Text(ColumnTimestamp))
		assert.Equal(t, DefaultSource, row.Text(ColumnSource))
		for k, v := range before {
			got, _ := row.Get(k)
			assert.Equal(t, v, got, k)
		}
		assert.Equal(t, beforeKeys, row.Keys()[:len(beforeKeys)])
	})

	t.Run("leaves the row untouched on misses and failures", func(t *testing.T) {
		wh := &fakeWarehouse{
			records: map[domain.Category]map[string]any{},
			fail:    map[domain.Category]error{domain.CategoryCustomer: errors.New("timeout")},
		}
		row := submittedRow(0)
		keys := row.Keys()

		res := NewGateway(wh).EnrichRow(context.Background(), row)
		assert.False(t, res.Hit)
		assert.Equal(t, 1, res.Failures)
		assert.Equal(t, keys, row.Keys())
	})

	t.Run("skips the load category without an internal id", func(t *testing.T) {
		wh := &fakeWarehouse{records: map[domain.Category]map[string]any{}}
		row := domain.NewRow(0)
		row.Set("customer.customerId", "C-1")

		NewGateway(wh).EnrichRow(context.Background(), row)
		assert.Equal(t, []domain.Category{domain.CategoryCustomer}, wh.calls)
	})

	t.Run("only queries enabled categories", func(t *testing.T) {
		wh := &fakeWarehouse{records: map[domain.Category]map[string]any{}}
		NewGateway(wh, WithCategories(domain.CategoryCarrier)).EnrichRow(context.Background(), submittedRow(0))
		assert.Empty(t, wh.calls)
	})
}

func TestGatewayEnrichAll(t *testing.T) {
	wh := &fakeWarehouse{records: map[domain.Category]map[string]any{
		domain.CategoryLoad: {
			"sf_load_status":   "DELIVERED",
			"sf_pickup_date":   "2025-01-01",
			"sf_delivery_date": "2025-01-02",
			"sf_total_cost":    1500.0,
		},
	}}
	noID := domain.NewRow(2)
	noID.Set("load.loadNumber", "L-3")
	rows := []*domain.Row{submittedRow(0), submittedRow(1), noID}

	stats := NewGateway(wh, WithCategories(domain.CategoryLoad), WithConcurrency(2)).EnrichAll(context.Background(), rows)

	assert.Equal(t, Stats{Rows: 3, Enriched: 2, Lookups: 2, Hits: 2}, stats)
	assert.Equal(t, 1500.0, rows[1].Map()["sf_total_cost"])
	assert.False(t, noID.Has("sf_load_status"))
}

func TestGatewayEnrichAllPartialFailure(t *testing.T) {
	wh := &fakeWarehouse{
		records: map[domain.Category]map[string]any{
			domain.CategoryTracking: {
				"sf_tracking_status":    "In Transit",
				"sf_last_scan_location": "Dallas, TX",
				"sf_last_scan_time":     "2025-01-01T10:00:00Z",
				"sf_estimated_delivery": "2025-01-03",
			},
			domain.CategoryCustomer: {
				"sf_customer_name": "Acme",
			},
		},
		failKeys: map[string]error{"CUST-1": errors.New("timeout")},
	}
	failing := submittedRow(0)
	other := submittedRow(1)
	other.Set("customer.customerId", "CUST-2")

	stats := NewGateway(wh, WithCategories(domain.CategoryTracking, domain.CategoryCustomer), WithConcurrency(2)).
		EnrichAll(context.Background(), []*domain.Row{failing, other})

	assert.Equal(t, Stats{Rows: 2, Enriched: 2, Lookups: 4, Hits: 3, Failures: 1}, stats)
	for _, row := range []*domain.Row{failing, other} {
		assert.Equal(t, "In Transit", row.Text("sf_tracking_status"))
		assert.Equal(t, "Dallas, TX", row.Text("sf_last_scan_location"))
		assert.True(t, row.Has(ColumnTimestamp))
	}
	assert.False(t, failing.Has("sf_customer_name"))
	assert.Equal(t, "Acme", other.Text("sf_customer_name"))
}

func TestSQLWarehouse(t *testing.T) {
	t.Run("looks up the latest tracking event with the brokerage filter", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		var nilText *string
		rows := mock.NewRows([]string{"current_status", "scan_location", "scan_datetime", "estimated_delivery_date"}).
			AddRow(strPtr("Delivered"), strPtr("Reno, NV"), strPtr("2025-01-01 10:00:00"), nilText)
		mock.ExpectQuery(`SELECT (.+) FROM "fct_tracking_events" WHERE pro_number = \$1 AND brokerage_id = \$2 ORDER BY scan_datetime DESC LIMIT 1`).
			WithArgs("PRO123", "brk-1").
			WillReturnRows(rows)

		wh := NewSQLWarehouse(mock, WithBrokerageID("brk-1"))
		rec, ok, err := wh.Lookup(context.Background(), domain.CategoryTracking, Keys{PRO: "PRO123"})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "PRO123", rec.Key)
		assert.Equal(t, "Delivered", rec.Fields["sf_tracking_status"])
		assert.Nil(t, rec.Fields["sf_estimated_delivery"])
		assert.Equal(t, Columns(domain.CategoryTracking), rec.Columns)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("converts numeric carrier columns", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := mock.NewRows([]string{"carrier_name", "on_time_percentage", "service_levels"}).
			AddRow(strPtr("Acme Freight"), strPtr("97.5"), strPtr("LTL,FTL"))
		mock.ExpectQuery(`FROM "marts"."dim_carriers" WHERE carrier_code = \$1`).
			WithArgs("ABCD").
			WillReturnRows(rows)

		wh := NewSQLWarehouse(mock, WithSchema("marts"))
		rec, ok, err := wh.Lookup(context.Background(), domain.CategoryCarrier, Keys{Carrier: "ABCD"})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 97.5, rec.Fields["sf_carrier_otp"])
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("treats an empty lane aggregate as a miss", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		var nilText *string
		rows := mock.NewRows([]string{"avg", "avg", "count"}).AddRow(nilText, nilText, strPtr("0"))
		mock.ExpectQuery(`FROM "fct_shipments" WHERE origin_zip = \$1 AND dest_zip = \$2 AND ship_date`).
			WithArgs("10001", "60601").
			WillReturnRows(rows)

		_, ok, err := NewSQLWarehouse(mock).Lookup(context.Background(), domain.CategoryLane, Keys{OriginZip: "10001", DestZip: "60601"})
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps no rows to a miss and other errors to lookup failures", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`FROM "dim_customers"`).WithArgs("C-1").WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery(`FROM "dim_loads"`).WithArgs("int-1").WillReturnError(errors.New("connection reset"))

		wh := NewSQLWarehouse(mock)
		_, ok, err := wh.Lookup(context.Background(), domain.CategoryCustomer, Keys{Customer: "C-1"})
		require.NoError(t, err)
		assert.False(t, ok)

		_, _, err = wh.Lookup(context.Background(), domain.CategoryLoad, Keys{InternalLoadID: "int-1"})
		assert.ErrorIs(t, err, apperr.ErrLookup)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("does not query without keys", func(t *testing.T) {
		_, _, ok := NewSQLWarehouse(nil).Query(domain.CategoryTracking, Keys{})
		assert.False(t, ok)
	})
}
