package schema

import (
	"sort"
	"strings"
)

// Tag classifies when a field path is required.
type Tag string

const (
	// TagAlways marks a field that every load must carry.
	TagAlways Tag = "always"
	// TagFirstStop marks a field of the first route stop. Later stops are optional.
	TagFirstStop Tag = "first-stop-only"
	// TagItems marks a field that is required only when the row carries item data.
	TagItems Tag = "conditional-on-items"
	// TagOptional marks a field the API accepts but never requires.
	TagOptional Tag = "optional"
)

// FieldType describes the scalar shape expected at a field path.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeNumber   FieldType = "number"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypeEnum     FieldType = "enum"
)

// FieldSpec describes a single schema field path.
type FieldSpec struct {
	Path        string    `json:"path"`
	Tag         Tag       `json:"tag"`
	Type        FieldType `json:"type"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	// Aliases are normalized source column names that suggest this path.
	Aliases []string `json:"aliases,omitempty"`
}

// Required reports whether the field carries any requirement tag.
func (f FieldSpec) Required() bool {
	return f.Tag != TagOptional && f.Tag != ""
}

// Registry is the fixed set of field paths the load API understands.
type Registry struct {
	fields []FieldSpec
	byPath map[string]int
}

// NewRegistry builds a registry preserving declaration order. Later
// duplicates replace earlier entries.
func NewRegistry(fields ...FieldSpec) *Registry {
	r := &Registry{byPath: make(map[string]int, len(fields))}
	for _, field := range fields {
		if idx, ok := r.byPath[field.Path]; ok {
			r.fields[idx] = field
			continue
		}
		r.byPath[field.Path] = len(r.fields)
		r.fields = append(r.fields, field)
	}
	return r
}

// Fields returns a copy of all field specs in declaration order.
func (r *Registry) Fields() []FieldSpec {
	out := make([]FieldSpec, len(r.fields))
	copy(out, r.fields)
	return out
}

// Lookup returns the field registered at path.
func (r *Registry) Lookup(path string) (FieldSpec, bool) {
	idx, ok := r.byPath[path]
	if !ok {
		return FieldSpec{}, false
	}
	return r.fields[idx], true
}

// Requirements returns the required-field contract of the registry.
func (r *Registry) Requirements() RequiredFieldSpec {
	var reqs RequiredFieldSpec
	for _, field := range r.fields {
		if field.Required() {
			reqs = append(reqs, Requirement{Path: field.Path, Tag: field.Tag})
		}
	}
	return reqs
}

// PathsWithPrefix lists registry paths below prefix, sorted.
func (r *Registry) PathsWithPrefix(prefix string) []string {
	var out []string
	for _, field := range r.fields {
		if IsAncestorOf(prefix, field.Path) {
			out = append(out, field.Path)
		}
	}
	sort.Strings(out)
	return out
}

var (
	modes      = []string{"FTL", "LTL", "DRAYAGE"}
	rateTypes  = []string{"SPOT", "CONTRACT", "DEDICATED", "PROJECT"}
	statuses   = []string{"DRAFT", "CUSTOMER_CONFIRMED", "COVERED", "DISPATCHED", "AT_PICKUP", "IN_TRANSIT", "AT_DELIVERY", "DELIVERED", "INVOICED", "CANCELLED", "AVAILABLE"}
	activities = []string{"PICKUP", "DELIVERY"}
)

// Default returns the registry of the load-management API.
func Default() *Registry {
	return NewRegistry(
		FieldSpec{Path: "load.loadNumber", Tag: TagAlways, Type: FieldTypeString, Description: "Brokerage load number", Aliases: []string{"load_number", "load_id", "loadnumber", "load", "bol_number", "bol"}},
		FieldSpec{Path: "load.mode", Tag: TagAlways, Type: FieldTypeEnum, Enum: modes, Description: "Transportation mode", Aliases: []string{"mode", "service_mode"}},
		FieldSpec{Path: "load.rateType", Tag: TagAlways, Type: FieldTypeEnum, Enum: rateTypes, Description: "Rate type", Aliases: []string{"rate_type", "ratetype"}},
		FieldSpec{Path: "load.status", Tag: TagAlways, Type: FieldTypeEnum, Enum: statuses, Description: "Load status", Aliases: []string{"status", "load_status"}},
		FieldSpec{Path: "customer.customerId", Tag: TagAlways, Type: FieldTypeString, Description: "Customer identifier", Aliases: []string{"customer_id", "customer_code", "acct_customer", "account_number"}},
		FieldSpec{Path: "customer.name", Tag: TagAlways, Type: FieldTypeString, Description: "Customer name", Aliases: []string{"customer_name", "customer"}},

		FieldSpec{Path: "load.route.0.stopActivity", Tag: TagFirstStop, Type: FieldTypeEnum, Enum: activities, Description: "First stop activity"},
		FieldSpec{Path: "load.route.0.address.addressLine1", Tag: TagFirstStop, Type: FieldTypeString, Description: "First stop street address", Aliases: []string{"origin_address", "pickup_address", "shipper_address"}},
		FieldSpec{Path: "load.route.0.address.city", Tag: TagFirstStop, Type: FieldTypeString, Description: "First stop city", Aliases: []string{"origin_city", "pickup_city", "shipper_city"}},
		FieldSpec{Path: "load.route.0.address.state", Tag: TagFirstStop, Type: FieldTypeString, Description: "First stop state", Aliases: []string{"origin_state", "pickup_state", "shipper_state"}},
		FieldSpec{Path: "load.route.0.address.postalCode", Tag: TagFirstStop, Type: FieldTypeString, Description: "First stop postal code", Aliases: []string{"origin_zip", "pickup_zip", "origin_postal_code", "shipper_zip"}},
		FieldSpec{Path: "load.route.0.address.country", Tag: TagFirstStop, Type: FieldTypeString, Description: "First stop country", Aliases: []string{"origin_country", "pickup_country"}},
		FieldSpec{Path: "load.route.0.expectedArrivalWindowStart", Tag: TagFirstStop, Type: FieldTypeDateTime, Description: "First stop window start", Aliases: []string{"pickup_date", "pickup_start", "ship_date"}},
		FieldSpec{Path: "load.route.0.expectedArrivalWindowEnd", Tag: TagFirstStop, Type: FieldTypeDateTime, Description: "First stop window end", Aliases: []string{"pickup_end"}},

		FieldSpec{Path: "load.items.0.quantity", Tag: TagItems, Type: FieldTypeNumber, Description: "Item quantity", Aliases: []string{"quantity", "pieces", "item_quantity"}},
		FieldSpec{Path: "load.items.0.packageType", Tag: TagItems, Type: FieldTypeString, Description: "Item package type", Aliases: []string{"package_type", "packaging"}},
		FieldSpec{Path: "load.items.0.totalWeightLbs", Tag: TagItems, Type: FieldTypeNumber, Description: "Item total weight in pounds", Aliases: []string{"weight", "total_weight", "weight_lbs"}},
		FieldSpec{Path: "load.items.0.description", Tag: TagOptional, Type: FieldTypeString, Description: "Item description", Aliases: []string{"commodity", "item_description"}},
		FieldSpec{Path: "load.items.0.freightClass", Tag: TagOptional, Type: FieldTypeString, Description: "NMFC freight class", Aliases: []string{"freight_class", "class"}},

		FieldSpec{Path: "load.equipment.equipmentType", Tag: TagOptional, Type: FieldTypeString, Description: "Equipment type", Aliases: []string{"equipment", "equipment_type", "trailer_type"}},
		FieldSpec{Path: "load.route.1.stopActivity", Tag: TagOptional, Type: FieldTypeEnum, Enum: activities, Description: "Second stop activity"},
		FieldSpec{Path: "load.route.1.address.addressLine1", Tag: TagOptional, Type: FieldTypeString, Description: "Second stop street address", Aliases: []string{"dest_address", "delivery_address", "consignee_address"}},
		FieldSpec{Path: "load.route.1.address.city", Tag: TagOptional, Type: FieldTypeString, Description: "Second stop city", Aliases: []string{"dest_city", "delivery_city", "consignee_city"}},
		FieldSpec{Path: "load.route.1.address.state", Tag: TagOptional, Type: FieldTypeString, Description: "Second stop state", Aliases: []string{"dest_state", "delivery_state", "consignee_state"}},
		FieldSpec{Path: "load.route.1.address.postalCode", Tag: TagOptional, Type: FieldTypeString, Description: "Second stop postal code", Aliases: []string{"dest_zip", "delivery_zip", "dest_postal_code", "destination_zip", "consignee_zip"}},
		FieldSpec{Path: "load.route.1.address.country", Tag: TagOptional, Type: FieldTypeString, Description: "Second stop country", Aliases: []string{"dest_country", "delivery_country"}},
		FieldSpec{Path: "load.route.1.expectedArrivalWindowStart", Tag: TagOptional, Type: FieldTypeDateTime, Description: "Second stop window start", Aliases: []string{"delivery_date", "delivery_start"}},
		FieldSpec{Path: "load.route.1.expectedArrivalWindowEnd", Tag: TagOptional, Type: FieldTypeDateTime, Description: "Second stop window end", Aliases: []string{"delivery_end"}},

		FieldSpec{Path: "load.referenceNumbers.0.name", Tag: TagOptional, Type: FieldTypeString, Description: "Primary reference name"},
		FieldSpec{Path: "load.referenceNumbers.0.value", Tag: TagOptional, Type: FieldTypeString, Description: "Primary reference value", Aliases: []string{"pro", "pro_number", "carrier_pro"}},
		FieldSpec{Path: "load.referenceNumbers.1.name", Tag: TagOptional, Type: FieldTypeString, Description: "Secondary reference name"},
		FieldSpec{Path: "load.referenceNumbers.1.value", Tag: TagOptional, Type: FieldTypeString, Description: "Secondary reference value", Aliases: []string{"po_number", "po"}},

		FieldSpec{Path: "carrier.name", Tag: TagOptional, Type: FieldTypeString, Description: "Carrier name", Aliases: []string{"carrier", "carrier_name"}},
		FieldSpec{Path: "carrier.scac", Tag: TagOptional, Type: FieldTypeString, Description: "Carrier SCAC", Aliases: []string{"scac", "carrier_code", "carrier_scac"}},
		FieldSpec{Path: "carrier.mcNumber", Tag: TagOptional, Type: FieldTypeString, Description: "Carrier MC number", Aliases: []string{"mc", "mc_number"}},
		FieldSpec{Path: "carrier.dotNumber", Tag: TagOptional, Type: FieldTypeString, Description: "Carrier DOT number", Aliases: []string{"dot", "dot_number"}},
		FieldSpec{Path: "carrier.email", Tag: TagOptional, Type: FieldTypeString, Description: "Carrier email", Aliases: []string{"carrier_email"}},
		FieldSpec{Path: "carrier.phone", Tag: TagOptional, Type: FieldTypeString, Description: "Carrier phone", Aliases: []string{"carrier_phone"}},

		FieldSpec{Path: "bidCriteria.equipment", Tag: TagOptional, Type: FieldTypeString, Description: "Bid equipment"},
		FieldSpec{Path: "bidCriteria.service", Tag: TagOptional, Type: FieldTypeString, Description: "Bid service level"},
	)
}

// NormalizeName lowercases a column label and collapses separators so
// "Carrier Pro#" and "carrier_pro" compare equal.
func NormalizeName(label string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
