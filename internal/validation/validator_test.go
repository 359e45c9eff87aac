package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/pkg/schema"
)

func completeRow(index int) *domain.Row {
	row := domain.NewRow(index)
	for _, req := range schema.Default().Requirements() {
		if req.Tag == schema.TagItems {
			continue
		}
		row.Set(req.Path, "x")
	}
	row.Set("load.loadNumber", "L-100")
	return row
}

func TestValidate(t *testing.T) {
	v := NewDefault()

	t.Run("rejects a blank load number and keep the valid row", func(t *testing.T) {
		blank := completeRow(0)
		blank.Set("load.loadNumber", "   ")
		good := completeRow(1)

		res := v.Validate(blank.Keys(), []*domain.Row{blank, good})

		require.Len(t, res.Valid, 1)
		assert.Equal(t, 1, res.Valid[0].Index)
		require.Len(t, res.Invalid, 1)
		assert.Equal(t, []domain.ValidationError{{RowIndex: 0, Field: "load.loadNumber", Reason: domain.ReasonEmpty}}, res.Errors)
	})

	t.Run("reports missing null and malformed values", func(t *testing.T) {
		row := completeRow(4)
		row.Set("customer.name", nil)
		row.Set("load.mode", map[string]any{"nested": true})
		missing := domain.NewRow(5)
		for _, k := range row.Keys() {
			if k != "load.status" {
				val, _ := row.Get(k)
				missing.Set(k, val)
			}
		}

		res := v.Validate(nil, []*domain.Row{row})
		assert.ElementsMatch(t, []domain.ValidationError{
			{RowIndex: 4, Field: "load.mode", Reason: domain.ReasonMalformed},
			{RowIndex: 4, Field: "customer.name", Reason: domain.ReasonEmpty},
		}, res.Errors)

		errs := v.CheckRow(missing)
		assert.Contains(t, errs, domain.ValidationError{RowIndex: 5, Field: "load.status", Reason: domain.ReasonMissing})
	})

	t.Run("requires item fields only when item data is present", func(t *testing.T) {
		noItems := completeRow(0)
		assert.Empty(t, v.CheckRow(noItems))

		withItems := completeRow(1)
		withItems.Set("load.items.0.description", "pallets")
		withItems.Set("load.items.0.quantity", 4)
		errs := v.CheckRow(withItems)
		fields := make([]string, 0, len(errs))
		for _, e := range errs {
			fields = append(fields, e.Field)
			assert.Equal(t, domain.ReasonMissing, e.Reason)
		}
		assert.ElementsMatch(t, []string{"load.items.0.packageType", "load.items.0.totalWeightLbs"}, fields)
	})

	t.Run("keeps every column when all rows fail", func(t *testing.T) {
		a := completeRow(0)
		a.Set("customer.customerId", "")
		a.Set("extra", "kept")
		b := completeRow(1)
		b.Set("load.mode", nil)

		res := v.Validate(nil, []*domain.Row{a, b})
		assert.Empty(t, res.Valid)
		assert.Len(t, res.Invalid, 2)
		assert.Contains(t, res.Columns, "extra")
		assert.Equal(t, domain.Columns([]*domain.Row{a, b}), res.Columns)
		assert.Len(t, res.ErrorsByRow(), 2)
	})

	t.Run("accepts numeric and boolean values", func(t *testing.T) {
		row := completeRow(0)
		row.Set("load.loadNumber", 12345)
		row.Set("customer.customerId", 0.0)
		assert.Empty(t, v.CheckRow(row))
	})
}
