package domain

// Category names one warehouse lookup family.
type Category string

const (
	CategoryTracking Category = "tracking"
	CategoryCustomer Category = "customer"
	CategoryCarrier  Category = "carrier"
	CategoryLane     Category = "lane"
	CategoryLoad     Category = "load"
)

// AllCategories lists categories in merge order.
var AllCategories = []Category{CategoryTracking, CategoryCustomer, CategoryCarrier, CategoryLane, CategoryLoad}

// EnrichmentRecord is the sf_ columns one category returned for one row.
// Fields keeps the category's column order.
type EnrichmentRecord struct {
	Category Category
	Key      string
	Columns  []string
	Fields   map[string]any
}
