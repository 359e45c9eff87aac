package postback

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/internal/logger"
)

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// CSVOptions configures the csv handler.
type CSVOptions struct {
	OutputPath string `mapstructure:"output_path" validate:"required"`
}

// CSVHandler appends rows to a CSV file, writing the header only when the
// file is new. Rows are written under the existing file's header.
type CSVHandler struct {
	opts CSVOptions
}

func NewCSVHandler(options map[string]any) (Handler, error) {
	opts := CSVOptions{OutputPath: "./outputs/postback.csv"}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	return &CSVHandler{opts: opts}, nil
}

func (h *CSVHandler) Deliver(_ context.Context, batch Batch) (string, error) {
	path := h.opts.OutputPath
	if err := ensureDir(path); err != nil {
		return "", fmt.Errorf("%w: create output dir: %v", apperr.ErrPostback, err)
	}

	header, err := readCSVHeader(path)
	if err != nil {
		return "", fmt.Errorf("%w: read existing csv: %v", apperr.ErrPostback, err)
	}
	isNew := header == nil
	if isNew {
		header = batch.Columns
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("%w: open csv: %v", apperr.ErrPostback, err)
	}
	defer func() { _ = f.Close() }()

	w := csv.NewWriter(f)
	if isNew {
		if err := w.Write(header); err != nil {
			return "", fmt.Errorf("%w: write csv header: %v", apperr.ErrPostback, err)
		}
	}
	if err := w.WriteAll(records(header, batch.Rows)); err != nil {
		return "", fmt.Errorf("%w: write csv: %v", apperr.ErrPostback, err)
	}
	return path, nil
}

// readCSVHeader returns nil when the file does not exist or is empty.
func readCSVHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	header, err := csv.NewReader(bufio.NewReader(f)).Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return header, nil
}

// XLSXOptions configures the xlsx handler.
type XLSXOptions struct {
	OutputPath string `mapstructure:"output_path" validate:"required"`
	SheetName  string `mapstructure:"sheet_name" validate:"required,max=31"`
}

// XLSXHandler writes a fresh workbook on every delivery.
type XLSXHandler struct {
	opts XLSXOptions
}

func NewXLSXHandler(options map[string]any) (Handler, error) {
	opts := XLSXOptions{OutputPath: "./outputs/postback.xlsx", SheetName: "Enriched_Data"}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	return &XLSXHandler{opts: opts}, nil
}

func (h *XLSXHandler) Deliver(_ context.Context, batch Batch) (string, error) {
	path := h.opts.OutputPath
	if err := ensureDir(path); err != nil {
		return "", fmt.Errorf("%w: create output dir: %v", apperr.ErrPostback, err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := h.opts.SheetName
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return "", fmt.Errorf("%w: name sheet: %v", apperr.ErrPostback, err)
	}

	header := make([]any, len(batch.Columns))
	for i, c := range batch.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return "", fmt.Errorf("%w: write xlsx header: %v", apperr.ErrPostback, err)
	}
	for i, row := range batch.Rows {
		cells := make([]any, len(batch.Columns))
		for j, col := range batch.Columns {
			v, _ := row.Get(col)
			cells[j] = cellValue(v)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return "", fmt.Errorf("%w: %v", apperr.ErrPostback, err)
		}
		if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
			return "", fmt.Errorf("%w: write xlsx row %d: %v", apperr.ErrPostback, row.Index, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("%w: save xlsx: %v", apperr.ErrPostback, err)
	}
	return path, nil
}

// JSONOptions configures the json handler.
type JSONOptions struct {
	OutputPath string `mapstructure:"output_path" validate:"required"`
	AppendMode bool   `mapstructure:"append_mode"`
}

// JSONHandler writes rows as an indented array. In append mode the rows
// are added to the array already in the file.
type JSONHandler struct {
	opts JSONOptions
}

func NewJSONHandler(options map[string]any) (Handler, error) {
	opts := JSONOptions{OutputPath: "./outputs/postback.json"}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	return &JSONHandler{opts: opts}, nil
}

func (h *JSONHandler) Deliver(ctx context.Context, batch Batch) (string, error) {
	path := h.opts.OutputPath
	if err := ensureDir(path); err != nil {
		return "", fmt.Errorf("%w: create output dir: %v", apperr.ErrPostback, err)
	}

	var out []json.RawMessage
	if h.opts.AppendMode {
		existing, err := readJSONArray(path)
		if err != nil {
			logger.FromContext(ctx).Warn("existing json output is invalid, overwriting", "path", path, "error", err)
		}
		out = existing
	}
	for _, row := range batch.Rows {
		data, err := json.Marshal(row)
		if err != nil {
			return "", fmt.Errorf("%w: encode row %d: %v", apperr.ErrPostback, row.Index, err)
		}
		out = append(out, data)
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encode json: %v", apperr.ErrPostback, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: write json: %v", apperr.ErrPostback, err)
	}
	return path, nil
}

// readJSONArray loads an existing array, wrapping a lone value in one.
func readJSONArray(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var single json.RawMessage
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, err
	}
	return []json.RawMessage{single}, nil
}

// XMLOptions configures the xml handler.
type XMLOptions struct {
	OutputPath     string `mapstructure:"output_path" validate:"required"`
	RootElement    string `mapstructure:"root_element" validate:"required"`
	RowElement     string `mapstructure:"row_element" validate:"required"`
	IncludeIndexes bool   `mapstructure:"include_indexes"`
}

// XMLHandler writes one element per row with one child per column.
type XMLHandler struct {
	opts XMLOptions
}

func NewXMLHandler(options map[string]any) (Handler, error) {
	opts := XMLOptions{OutputPath: "./outputs/postback.xml", RootElement: "data", RowElement: "row"}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, err
	}
	return &XMLHandler{opts: opts}, nil
}

func (h *XMLHandler) Deliver(_ context.Context, batch Batch) (string, error) {
	path := h.opts.OutputPath
	if err := ensureDir(path); err != nil {
		return "", fmt.Errorf("%w: create output dir: %v", apperr.ErrPostback, err)
	}

	var buf bytes.Buffer
	if err := h.encode(&buf, batch); err != nil {
		return "", fmt.Errorf("%w: encode xml: %v", apperr.ErrPostback, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("%w: write xml: %v", apperr.ErrPostback, err)
	}
	return path, nil
}

func (h *XMLHandler) encode(buf *bytes.Buffer, batch Batch) error {
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(buf)
	enc.Indent("", "  ")

	root := xml.StartElement{Name: xml.Name{Local: ElementName(h.opts.RootElement)}}
	if err := enc.EncodeToken(root); err != nil {
		return err
	}
	names := make([]string, len(batch.Columns))
	for i, c := range batch.Columns {
		names[i] = ElementName(c)
	}
	for _, row := range batch.Rows {
		start := xml.StartElement{Name: xml.Name{Local: ElementName(h.opts.RowElement)}}
		if h.opts.IncludeIndexes {
			start.Attr = []xml.Attr{{Name: xml.Name{Local: "index"}, Value: fmt.Sprint(row.Index)}}
		}
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		for i, col := range batch.Columns {
			v, _ := row.Get(col)
			if err := enc.EncodeElement(cellText(v), xml.StartElement{Name: xml.Name{Local: names[i]}}); err != nil {
				return err
			}
		}
		if err := enc.EncodeToken(start.End()); err != nil {
			return err
		}
	}
	if err := enc.EncodeToken(root.End()); err != nil {
		return err
	}
	return enc.Flush()
}

// ElementName turns a column label into a valid XML element name: any
// rune other than a letter, digit, '-' or '_' becomes '_', and a name that
// does not start with a letter or '_' gets a '_' prefix.
func ElementName(label string) string {
	var sb strings.Builder
	for _, r := range label {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			sb.WriteRune(r)
			continue
		}
		sb.WriteByte('_')
	}
	name := sb.String()
	if name == "" {
		return "field"
	}
	if first := []rune(name)[0]; !unicode.IsLetter(first) && first != '_' {
		name = "_" + name
	}
	return name
}

// csvBytes renders a batch as a standalone CSV document with header.
func csvBytes(columns []string, rows []*domain.Row) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	if err := w.WriteAll(records(columns, rows)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
