package enrichment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
)

// Warehouse performs single-row keyed lookups. A miss returns ok=false
// and a nil error.
type Warehouse interface {
	Lookup(ctx context.Context, category domain.Category, keys Keys) (domain.EnrichmentRecord, bool, error)
}

// Querier is satisfied by pgxpool.Pool, pgx.Tx and pgxmock pools.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type columnKind int

const (
	kindText columnKind = iota
	kindFloat
	kindInt
)

type column struct {
	name string
	kind columnKind
}

// Columns returns the sf_ columns a category contributes, in merge order.
func Columns(category domain.Category) []string {
	cols := categoryColumns[category]
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.name
	}
	return out
}

var categoryColumns = map[domain.Category][]column{
	domain.CategoryTracking: {
		{"sf_tracking_status", kindText},
		{"sf_last_scan_location", kindText},
		{"sf_last_scan_time", kindText},
		{"sf_estimated_delivery", kindText},
	},
	domain.CategoryCustomer: {
		{"sf_customer_name", kindText},
		{"sf_account_manager", kindText},
		{"sf_payment_terms", kindText},
		{"sf_customer_tier", kindText},
	},
	domain.CategoryCarrier: {
		{"sf_carrier_name", kindText},
		{"sf_carrier_otp", kindFloat},
		{"sf_service_levels", kindText},
	},
	domain.CategoryLane: {
		{"sf_avg_transit_days", kindFloat},
		{"sf_avg_lane_cost", kindFloat},
		{"sf_lane_volume", kindInt},
	},
	domain.CategoryLoad: {
		{"sf_load_status", kindText},
		{"sf_pickup_date", kindText},
		{"sf_delivery_date", kindText},
		{"sf_total_cost", kindFloat},
	},
}

// SQLWarehouse runs the lookups against a Postgres-compatible mart. Every
// selected column is cast to text and converted back by kind.
type SQLWarehouse struct {
	db          Querier
	schema      string
	brokerageID string
}

// SQLOption configures a SQLWarehouse.
type SQLOption func(*SQLWarehouse)

// WithSchema qualifies mart tables with a schema name.
func WithSchema(name string) SQLOption {
	return func(w *SQLWarehouse) { w.schema = name }
}

// WithBrokerageID filters tracking, customer and load lookups by brokerage.
func WithBrokerageID(id string) SQLOption {
	return func(w *SQLWarehouse) { w.brokerageID = id }
}

func NewSQLWarehouse(db Querier, opts ...SQLOption) *SQLWarehouse {
	w := &SQLWarehouse{db: db}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *SQLWarehouse) table(name string) string {
	if w.schema == "" {
		return pgx.Identifier{name}.Sanitize()
	}
	return pgx.Identifier{w.schema, name}.Sanitize()
}

// Query returns the SQL and arguments for a category, or ok=false when the
// keys cannot drive the lookup.
func (w *SQLWarehouse) Query(category domain.Category, keys Keys) (string, []any, bool) {
	var (
		sb   strings.Builder
		args []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	brokerage := func(col string) {
		if w.brokerageID != "" {
			fmt.Fprintf(&sb, " AND %s = %s", col, arg(w.brokerageID))
		}
	}

	switch category {
	case domain.CategoryTracking:
		if keys.PRO == "" {
			return "", nil, false
		}
		fmt.Fprintf(&sb, "SELECT current_status::text, scan_location::text, scan_datetime::text, estimated_delivery_date::text FROM %s WHERE pro_number = %s",
			w.table("fct_tracking_events"), arg(keys.PRO))
		brokerage("brokerage_id")
		sb.WriteString(" ORDER BY scan_datetime DESC LIMIT 1")

	case domain.CategoryCustomer:
		if keys.Customer == "" {
			return "", nil, false
		}
		fmt.Fprintf(&sb, "SELECT customer_name::text, account_manager::text, payment_terms::text, customer_tier::text FROM %s WHERE customer_code = %s",
			w.table("dim_customers"), arg(keys.Customer))
		brokerage("brokerage_id")
		sb.WriteString(" LIMIT 1")

	case domain.CategoryCarrier:
		if keys.Carrier == "" {
			return "", nil, false
		}
		fmt.Fprintf(&sb, "SELECT carrier_name::text, on_time_percentage::text, service_levels::text FROM %s WHERE carrier_code = %s LIMIT 1",
			w.table("dim_carriers"), arg(keys.Carrier))

	case domain.CategoryLane:
		if keys.OriginZip == "" || keys.DestZip == "" {
			return "", nil, false
		}
		fmt.Fprintf(&sb, "SELECT AVG(transit_days)::text, AVG(total_cost)::text, COUNT(*)::text FROM %s WHERE origin_zip = %s AND dest_zip = %s",
			w.table("fct_shipments"), arg(keys.OriginZip), arg(keys.DestZip))
		if keys.Carrier != "" {
			fmt.Fprintf(&sb, " AND carrier_code = %s", arg(keys.Carrier))
		}
		sb.WriteString(" AND ship_date >= CURRENT_DATE - 90")

	case domain.CategoryLoad:
		if keys.InternalLoadID == "" {
			return "", nil, false
		}
		fmt.Fprintf(&sb, "SELECT current_status::text, pickup_date::text, delivery_date::text, total_cost::text FROM %s WHERE internal_load_id = %s",
			w.table("dim_loads"), arg(keys.InternalLoadID))
		brokerage("brokerage_id")
		sb.WriteString(" LIMIT 1")

	default:
		return "", nil, false
	}
	return sb.String(), args, true
}

// Lookup runs the category query and converts the row into a record.
func (w *SQLWarehouse) Lookup(ctx context.Context, category domain.Category, keys Keys) (domain.EnrichmentRecord, bool, error) {
	sql, args, ok := w.Query(category, keys)
	if !ok {
		return domain.EnrichmentRecord{}, false, nil
	}
	cols := categoryColumns[category]

	raw := make([]*string, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := w.db.QueryRow(ctx, sql, args...).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EnrichmentRecord{}, false, nil
		}
		return domain.EnrichmentRecord{}, false, fmt.Errorf("%w: %s lookup: %v", apperr.ErrLookup, category, err)
	}

	key, _ := keys.For(category)
	rec := domain.EnrichmentRecord{
		Category: category,
		Key:      key,
		Columns:  make([]string, len(cols)),
		Fields:   make(map[string]any, len(cols)),
	}
	for i, c := range cols {
		rec.Columns[i] = c.name
		rec.Fields[c.name] = convert(raw[i], c.kind)
	}

	// Lane aggregates always return one row; no shipments is a miss.
	if category == domain.CategoryLane {
		if n, _ := rec.Fields["sf_lane_volume"].(int64); n == 0 {
			return domain.EnrichmentRecord{}, false, nil
		}
	}
	return rec, true, nil
}

func convert(v *string, kind columnKind) any {
	if v == nil {
		return nil
	}
	switch kind {
	case kindFloat:
		if f, err := strconv.ParseFloat(*v, 64); err == nil {
			return f
		}
	case kindInt:
		if n, err := strconv.ParseInt(*v, 10, 64); err == nil {
			return n
		}
	}
	return *v
}
