package enrichment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/pkg/schema"
)

// Keys are the join keys derived from one row.
type Keys struct {
	PRO            string
	Customer       string
	Carrier        string
	OriginZip      string
	DestZip        string
	InternalLoadID string
}

// Legacy column names accepted when rows carry raw upload columns rather
// than schema paths.
var (
	proColumns      = []string{"pro_number", "PRO", "Carrier Pro#", "carrier_pro"}
	customerColumns = []string{"customer.customerId", "customer_code", "Acct/Customer#", "Customer Name", "customer_name"}
	carrierColumns  = []string{"carrier.scac", "carrier.mcNumber", "carrier.dotNumber", "carrier_code", "carrier", "Carrier Name", "carrier_name"}
	originColumns   = []string{"load.route.0.address.postalCode", "origin_zip", "Origin Zip", "origin_postal_code"}
	destColumns     = []string{"dest_zip", "Destination Zip", "dest_postal_code"}
)

const proReferenceName = "PRO_NUMBER"

// DeriveKeys reads join keys from known identifier fields.
func DeriveKeys(row *domain.Row) Keys {
	return Keys{
		PRO:            firstNonBlank(proFromReferences(row), first(row, proColumns)),
		Customer:       first(row, customerColumns),
		Carrier:        first(row, carrierColumns),
		OriginZip:      first(row, originColumns),
		DestZip:        firstNonBlank(lastStopPostalCode(row), first(row, destColumns)),
		InternalLoadID: first(row, []string{domain.KeyInternalLoadID}),
	}
}

// For returns the key a category looks up by, and whether it is present.
func (k Keys) For(category domain.Category) (string, bool) {
	switch category {
	case domain.CategoryTracking:
		return k.PRO, k.PRO != ""
	case domain.CategoryCustomer:
		return k.Customer, k.Customer != ""
	case domain.CategoryCarrier:
		return k.Carrier, k.Carrier != ""
	case domain.CategoryLane:
		if k.OriginZip == "" || k.DestZip == "" {
			return "", false
		}
		return k.OriginZip + ">" + k.DestZip, true
	case domain.CategoryLoad:
		return k.InternalLoadID, k.InternalLoadID != ""
	}
	return "", false
}

// proFromReferences finds the reference number named PRO_NUMBER.
func proFromReferences(row *domain.Row) string {
	for i := 0; ; i++ {
		prefix := fmt.Sprintf("load.referenceNumbers.%d", i)
		name, hasName := row.Get(prefix + ".name")
		value, hasValue := row.Get(prefix + ".value")
		if !hasName && !hasValue {
			return ""
		}
		if strings.EqualFold(strings.TrimSpace(text(name)), proReferenceName) {
			if v := strings.TrimSpace(text(value)); v != "" {
				return v
			}
		}
	}
}

// lastStopPostalCode returns the postal code of the highest-indexed stop
// after the first.
func lastStopPostalCode(row *domain.Row) string {
	best, bestIdx := "", 0
	for _, key := range row.Keys() {
		if !schema.IsAncestorOf("load.route", key) || !strings.HasSuffix(key, ".address.postalCode") {
			continue
		}
		parts := schema.Components(key)
		idx, err := strconv.Atoi(parts[2])
		if err != nil || idx == 0 {
			continue
		}
		v, _ := row.Get(key)
		if s := strings.TrimSpace(text(v)); s != "" && idx >= bestIdx {
			best, bestIdx = s, idx
		}
	}
	return best
}

func first(row *domain.Row, keys []string) string {
	for _, k := range keys {
		v, ok := row.Get(k)
		if !ok {
			continue
		}
		if s := strings.TrimSpace(text(v)); s != "" {
			return s
		}
	}
	return ""
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func text(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
