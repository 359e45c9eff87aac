// Package postback delivers finished rows to the configured destinations.
package postback

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
)

// Batch is the data handed to every handler of a run.
type Batch struct {
	RunID   string
	Columns []string
	Rows    []*domain.Row
	Time    time.Time
}

// Handler delivers a batch to one destination and returns a short
// description of what it produced (a path, object key or message count).
type Handler interface {
	Deliver(ctx context.Context, batch Batch) (string, error)
}

// Factory builds a handler from its raw options.
type Factory func(options map[string]any) (Handler, error)

var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeOptions fills out from raw handler options and validates it.
// Defaults must already be set on out.
func decodeOptions(raw map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(raw); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrConfig, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrConfig, err)
	}
	return nil
}

// cellText renders a row value for text formats.
func cellText(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

// cellValue keeps numbers numeric for formats that have types.
func cellValue(v any) any {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}

func records(columns []string, rows []*domain.Row) [][]string {
	out := make([][]string, len(rows))
	for i, row := range rows {
		rec := make([]string, len(columns))
		for j, col := range columns {
			v, _ := row.Get(col)
			rec[j] = cellText(v)
		}
		out[i] = rec
	}
	return out
}
