package ingestion

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/loadflow/internal/apperr"
)

func TestParseCSV(t *testing.T) {
	t.Run("strips the BOM and keep header labels verbatim", func(t *testing.T) {
		data := "\xEF\xBB\xBFLoad #,Customer Name,Load #\nL-1,Acme,dup\n\n,,\nL-2,Globex\n"
		table, err := Parse(ParseRequest{FileName: "loads.csv", Data: strings.NewReader(data)})
		require.NoError(t, err)

		assert.Equal(t, []string{"Load #", "Customer Name", "Load #_2"}, table.Columns)
		require.Len(t, table.Records, 2)
		assert.Equal(t, "L-1", table.Records[0]["Load #"])
		assert.Equal(t, "dup", table.Records[0]["Load #_2"])
		assert.Equal(t, "", table.Records[1]["Load #_2"])
	})

	t.Run("honours an explicit header row", func(t *testing.T) {
		data := "Report generated today\nload,customer\nL-9,Acme\n"
		idx := 1
		table, err := Parse(ParseRequest{FileName: "loads.CSV", Data: strings.NewReader(data), HeaderRowIndex: &idx})
		require.NoError(t, err)
		assert.Equal(t, []string{"load", "customer"}, table.Columns)
		require.Len(t, table.Records, 1)
	})

	t.Run("rejects uploads over the size cap", func(t *testing.T) {
		data := strings.Repeat("a", 64)
		_, err := Parse(ParseRequest{FileName: "loads.csv", Data: strings.NewReader(data), MaxBytes: 32})
		require.ErrorIs(t, err, ErrTooLarge)
		assert.ErrorIs(t, err, apperr.ErrUpload)
	})

	t.Run("rejects unsupported extensions", func(t *testing.T) {
		_, err := Parse(ParseRequest{FileName: "loads.pdf", Data: strings.NewReader("x")})
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("rejects empty uploads", func(t *testing.T) {
		_, err := Parse(ParseRequest{FileName: "loads.csv", Data: strings.NewReader("  \n")})
		assert.ErrorIs(t, err, ErrEmpty)
	})
}

func TestParseJSON(t *testing.T) {
	t.Run("flattens nested objects into dot paths", func(t *testing.T) {
		data := `[{"load": {"loadNumber": "L-1", "route": [{"address": {"city": "Austin"}}]}, "weight": 1200}]`
		table, err := Parse(ParseRequest{FileName: "loads.json", Data: strings.NewReader(data)})
		require.NoError(t, err)

		assert.Equal(t, []string{"load.loadNumber", "load.route.0.address.city", "weight"}, table.Columns)
		assert.Equal(t, "L-1", table.Records[0]["load.loadNumber"])
		assert.Equal(t, json.Number("1200"), table.Records[0]["weight"])
	})

	t.Run("accepts a data envelope", func(t *testing.T) {
		data := `{"data": [{"pro": "123"}, {"pro": null}, {"pro": "456"}]}`
		table, err := Parse(ParseRequest{FileName: "loads.json", Data: strings.NewReader(data)})
		require.NoError(t, err)
		require.Len(t, table.Records, 2)
		assert.Equal(t, "456", table.Records[1]["pro"])
	})

	t.Run("rejects scalars", func(t *testing.T) {
		_, err := Parse(ParseRequest{FileName: "loads.json", Data: strings.NewReader(`"x"`)})
		assert.ErrorIs(t, err, apperr.ErrUpload)
	})
}

func TestParseExcel(t *testing.T) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"Load Number", "Carrier SCAC"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"L-7", "ABCD"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	table, err := Parse(ParseRequest{FileName: "loads.xlsx", Data: bytes.NewReader(buf.Bytes())})
	require.NoError(t, err)
	assert.Equal(t, []string{"Load Number", "Carrier SCAC"}, table.Columns)
	require.Len(t, table.Records, 1)
	assert.Equal(t, "ABCD", table.Records[0]["Carrier SCAC"])
}
