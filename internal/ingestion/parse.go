package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/pkg/schema"
)

// DefaultMaxUploadBytes caps an upload at 10 MiB.
const DefaultMaxUploadBytes = 10 << 20

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported file format", apperr.ErrUpload)
	// ErrTooLarge is returned when an upload exceeds the size cap.
	ErrTooLarge = fmt.Errorf("%w: file exceeds size limit", apperr.ErrUpload)
	// ErrEmpty is returned for an upload with no data rows.
	ErrEmpty = fmt.Errorf("%w: file is empty", apperr.ErrUpload)

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// Table is a parsed upload: column labels in file order and one record
// per data row. CSV and XLSX cells are strings; JSON keeps its scalars.
type Table struct {
	Columns []string
	Records []map[string]any
}

// HasColumn reports whether the table has a column with the exact label.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// ParseRequest describes an upload to parse.
type ParseRequest struct {
	FileName string
	Data     io.Reader
	// HeaderRowIndex selects the header row of CSV and XLSX files. When nil
	// the first non-empty row is the header.
	HeaderRowIndex *int
	MaxBytes       int64
}

// Parse reads an upload by file extension.
func Parse(req ParseRequest) (Table, error) {
	if req.Data == nil {
		return Table{}, fmt.Errorf("%w: data reader is required", apperr.ErrUpload)
	}
	limit := req.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxUploadBytes
	}

	payload, err := io.ReadAll(io.LimitReader(req.Data, limit+1))
	if err != nil {
		return Table{}, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(payload)) > limit {
		return Table{}, fmt.Errorf("%w: %d bytes allowed", ErrTooLarge, limit)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return Table{}, ErrEmpty
	}

	ext := strings.ToLower(filepath.Ext(req.FileName))
	switch ext {
	case ".csv", ".txt":
		return parseCSV(payload, req.HeaderRowIndex)
	case ".xlsx":
		return parseExcel(payload, req.HeaderRowIndex)
	case ".json":
		return parseJSON(payload)
	default:
		return Table{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte, headerRowIndex *int) (Table, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("%w: failed to read csv: %v", apperr.ErrUpload, err)
	}
	return normalizeTable(records, headerRowIndex)
}

func parseExcel(payload []byte, headerRowIndex *int) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return Table{}, fmt.Errorf("%w: failed to open xlsx: %v", apperr.ErrUpload, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, fmt.Errorf("%w: excel file has no sheets", apperr.ErrUpload)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("%w: failed to read rows from xlsx: %v", apperr.ErrUpload, err)
	}
	return normalizeTable(rows, headerRowIndex)
}

// parseJSON accepts an array of objects or an object with a "data" array.
// Nested objects are flattened to dot paths.
func parseJSON(payload []byte) (Table, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Table{}, fmt.Errorf("%w: failed to read json: %v", apperr.ErrUpload, err)
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		data, ok := v["data"].([]any)
		if !ok {
			return Table{}, fmt.Errorf("%w: json object must carry a \"data\" array", apperr.ErrUpload)
		}
		items = data
	default:
		return Table{}, fmt.Errorf("%w: json must be an array of records", apperr.ErrUpload)
	}

	var table Table
	seen := make(map[string]struct{})
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return Table{}, fmt.Errorf("%w: json record %d is not an object", apperr.ErrUpload, i)
		}
		flat := schema.Flatten(obj)
		if isBlankRecord(flat) {
			continue
		}
		for _, key := range sortedPaths(flat) {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				table.Columns = append(table.Columns, key)
			}
		}
		table.Records = append(table.Records, flat)
	}
	if len(table.Records) == 0 {
		return Table{}, ErrEmpty
	}
	return table, nil
}

// sortedPaths lists the keys of a flattened record in path order so JSON
// columns come out stable.
func sortedPaths(flat map[string]any) []string {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return schema.ComparePaths(keys[i], keys[j]) < 0 })
	return keys
}

func isBlankRecord(record map[string]any) bool {
	for _, v := range record {
		if !schema.IsBlank(v) {
			return false
		}
	}
	return true
}

func normalizeTable(records [][]string, headerRowIndex *int) (Table, error) {
	if len(records) == 0 {
		return Table{}, ErrEmpty
	}

	var headerRow []string
	var dataRows [][]string

	if headerRowIndex != nil {
		if *headerRowIndex < 0 || *headerRowIndex >= len(records) {
			return Table{}, fmt.Errorf("%w: header row index %d out of range", apperr.ErrUpload, *headerRowIndex)
		}
		if isBlankRow(records[*headerRowIndex]) {
			return Table{}, fmt.Errorf("%w: selected header row %d is empty", apperr.ErrUpload, *headerRowIndex+1)
		}
		headerRow = records[*headerRowIndex]
		dataRows = records[*headerRowIndex+1:]
	} else {
		for idx, row := range records {
			if !isBlankRow(row) {
				headerRow = row
				dataRows = records[idx+1:]
				break
			}
		}
	}

	if headerRow == nil {
		return Table{}, errors.Join(ErrEmpty, errors.New("header row could not be detected"))
	}

	headers := dedupeHeaders(headerRow)
	table := Table{Columns: headers}
	for _, row := range dataRows {
		if isBlankRow(row) {
			continue
		}
		row = padRow(row, len(headers))
		record := make(map[string]any, len(headers))
		for i, h := range headers {
			record[h] = row[i]
		}
		table.Records = append(table.Records, record)
	}
	return table, nil
}

// dedupeHeaders keeps labels verbatim apart from trimming. Blank labels
// become column_N and repeats get a _N suffix.
func dedupeHeaders(raw []string) []string {
	headers := make([]string, len(raw))
	seen := make(map[string]int)

	for idx, value := range raw {
		name := strings.TrimSpace(value)
		if name == "" {
			name = fmt.Sprintf("column_%d", idx+1)
		}

		base := name
		count := seen[base]
		if count > 0 {
			name = fmt.Sprintf("%s_%d", base, count+1)
		}
		seen[base] = count + 1

		headers[idx] = name
	}

	return headers
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
