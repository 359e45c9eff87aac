package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRow(t *testing.T) {
	t.Run("keeps insertion order and never duplicate keys", func(t *testing.T) {
		row := NewRow(3)
		row.Set("load.loadNumber", "L-1")
		row.Set("customer.name", "Acme")
		row.Set("load.loadNumber", "L-2")

		assert.Equal(t, []string{"load.loadNumber", "customer.name"}, row.Keys())
		assert.Equal(t, "L-2", row.Text("load.loadNumber"))
		assert.Equal(t, 3, row.Index)
	})

	t.Run("marshals in key order", func(t *testing.T) {
		row := NewRow(0)
		row.Set("b", 1)
		row.Set("a", nil)
		row.Set("c", "x")

		data, err := json.Marshal(row)
		require.NoError(t, err)
		assert.Equal(t, `{"b":1,"a":null,"c":"x"}`, string(data))
	})

	t.Run("clones independently", func(t *testing.T) {
		row := NewRow(1)
		row.Set("a", "1")
		clone := row.Clone()
		clone.Set("b", "2")
		clone.Set("a", "changed")

		assert.Equal(t, []string{"a"}, row.Keys())
		assert.Equal(t, "1", row.Text("a"))
		assert.Equal(t, 1, clone.Index)
	})

	t.Run("reports presence separately from value", func(t *testing.T) {
		row := NewRow(0)
		row.Set("x", nil)
		assert.True(t, row.Has("x"))
		assert.False(t, row.Has("y"))
		assert.Equal(t, "", row.Text("x"))
	})
}

func TestColumns(t *testing.T) {
	r1 := NewRow(0)
	r1.Set("a", 1)
	r1.Set("b", 2)
	r2 := NewRow(1)
	r2.Set("b", 3)
	r2.Set("sf_tracking_status", "Delivered")

	assert.Equal(t, []string{"a", "b", "sf_tracking_status"}, Columns([]*Row{r1, r2}))
}

func TestNewRun(t *testing.T) {
	run := NewRun("augment-brokerage", ModeEndToEnd, "loads.csv")
	assert.Equal(t, RunRunning, run.Status)
	require.Len(t, run.Stages, 6)
	for _, stage := range run.Stages {
		assert.Equal(t, StagePending, stage.Status)
	}
	require.NotNil(t, run.Stage(StageEnrichment))
	assert.Nil(t, run.Stage("unknown"))
	assert.True(t, ModePostback.Valid())
	assert.False(t, Mode("other").Valid())
}

func TestNormalizeBrokerageKey(t *testing.T) {
	cases := map[string]string{
		"augment-brokerage":   "augment-brokerage",
		" Augment_Brokerage ": "augment-brokerage",
		"AUGMENT BROKERAGE":   "augment-brokerage",
		"e--shipping!":        "e-shipping",
		"_lead_":              "lead",
		"":                    "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeBrokerageKey(in), in)
	}
}
