package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/rpattn/loadflow/internal/apperr"
	"github.com/rpattn/loadflow/internal/domain"
	"github.com/rpattn/loadflow/internal/ingestion"
	"github.com/rpattn/loadflow/internal/logger"
	"github.com/rpattn/loadflow/internal/repository"
)

const maxMultipartMemory = 32 << 20

// Handler exposes the pipeline over HTTP.
type Handler struct {
	service     *Service
	mappings    repository.MappingRepository
	runs        repository.RunRepository
	previewRows int
	mux         *http.ServeMux
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithMappingRepository enables saved mappings.
func WithMappingRepository(repo repository.MappingRepository) HandlerOption {
	return func(h *Handler) { h.mappings = repo }
}

// WithRunLog enables the read endpoints over recorded runs.
func WithRunLog(repo repository.RunRepository) HandlerOption {
	return func(h *Handler) { h.runs = repo }
}

func WithPreviewRows(n int) HandlerOption {
	return func(h *Handler) {
		if n > 0 {
			h.previewRows = n
		}
	}
}

// NewHTTPHandler routes:
//
//	POST   /runs                          run an upload through the pipeline
//	GET    /runs?brokerage=&limit=        list recorded runs
//	GET    /runs/{id}                     one recorded run
//	GET    /runs/{id}/errors              validation errors of a run
//	POST   /preview                       map and validate the head of an upload
//	GET    /fields                        list the schema registry
//	GET    /mappings/{brokerage}          list saved mappings
//	PUT    /mappings/{brokerage}/{name}   save a mapping
//	DELETE /mappings/{brokerage}/{name}   delete a mapping
func NewHTTPHandler(service *Service, opts ...HandlerOption) http.Handler {
	h := &Handler{service: service, previewRows: 20, mux: http.NewServeMux()}
	for _, opt := range opts {
		opt(h)
	}
	h.mux.HandleFunc("POST /runs", h.handleRun)
	h.mux.HandleFunc("GET /runs", h.handleListRuns)
	h.mux.HandleFunc("GET /runs/{id}", h.handleGetRun)
	h.mux.HandleFunc("GET /runs/{id}/errors", h.handleRunErrors)
	h.mux.HandleFunc("POST /preview", h.handlePreview)
	h.mux.HandleFunc("GET /fields", h.handleFields)
	h.mux.HandleFunc("GET /mappings/{brokerage}", h.handleListMappings)
	h.mux.HandleFunc("PUT /mappings/{brokerage}/{name}", h.handleSaveMapping)
	h.mux.HandleFunc("DELETE /mappings/{brokerage}/{name}", h.handleDeleteMapping)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type upload struct {
	fileName string
	data     []byte
}

func readUpload(r *http.Request) (upload, error) {
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		return upload{}, fmt.Errorf("%w: invalid form data: %v", apperr.ErrUpload, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return upload{}, fmt.Errorf("%w: file required: %v", apperr.ErrUpload, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return upload{}, fmt.Errorf("%w: failed to read file: %v", apperr.ErrUpload, err)
	}
	return upload{fileName: header.Filename, data: data}, nil
}

func formBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(strings.TrimSpace(r.FormValue(key)))
	return v
}

func formHeaderRow(r *http.Request) (*int, error) {
	raw := strings.TrimSpace(r.FormValue("headerRowIndex"))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid headerRowIndex: %v", apperr.ErrUpload, err)
	}
	return &n, nil
}

// mappingFromForm reads an inline "mapping" JSON object or a saved
// "mappingName" for the request's brokerage.
func (h *Handler) mappingFromForm(r *http.Request, brokerageKey string) (ingestion.Mapping, error) {
	if raw := strings.TrimSpace(r.FormValue("mapping")); raw != "" {
		var m ingestion.Mapping
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("%w: mapping must be a JSON object: %v", apperr.ErrMapping, err)
		}
		return m, nil
	}
	name := strings.TrimSpace(r.FormValue("mappingName"))
	if name == "" || h.mappings == nil {
		return nil, nil
	}
	cfg, err := h.mappings.Get(r.Context(), domain.NormalizeBrokerageKey(brokerageKey), name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: saved mapping %q not found", apperr.ErrMapping, name)
		}
		return nil, err
	}
	return cfg.Mapping, nil
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	brokerageKey := strings.TrimSpace(r.FormValue("brokerageKey"))
	mapping, err := h.mappingFromForm(r, brokerageKey)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if len(mapping) == 0 {
		writeError(w, r, fmt.Errorf("%w: mapping or mappingName is required", apperr.ErrMapping))
		return
	}
	headerRow, err := formHeaderRow(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	req := Request{
		FileName:       up.fileName,
		Data:           bytes.NewReader(up.data),
		HeaderRowIndex: headerRow,
		Mapping:        mapping,
		Mode:           domain.Mode(strings.TrimSpace(r.FormValue("mode"))),
		BrokerageKey:   brokerageKey,
		SkipSubmit:     formBool(r, "skipSubmit"),
		Enrich:         formBool(r, "enrich"),
		DryRun:         formBool(r, "dryRun"),
	}

	result, err := h.service.Run(r.Context(), req)
	if err != nil && result.Run.ID == uuid.Nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = apperr.HTTPStatus(err)
	}
	writeJSON(w, status, newRunResponse(result, err))
}

type runResponse struct {
	Result
	InvalidRows []*domain.Row `json:"invalid_rows,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
}

func newRunResponse(res Result, err error) runResponse {
	out := runResponse{Result: res}
	valid := make(map[*domain.Row]bool, len(res.Valid))
	for _, row := range res.Valid {
		valid[row] = true
	}
	for _, row := range res.Rows {
		if !valid[row] {
			out.InvalidRows = append(out.InvalidRows, row)
		}
	}
	if err != nil {
		out.Error = err.Error()
		out.ErrorKind = apperr.Kind(err)
	}
	return out
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	mapping, err := h.mappingFromForm(r, r.FormValue("brokerageKey"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	headerRow, err := formHeaderRow(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	preview, err := h.service.Preview(PreviewRequest{
		FileName:       up.fileName,
		Data:           bytes.NewReader(up.data),
		HeaderRowIndex: headerRow,
		Mapping:        mapping,
		Limit:          h.previewRows,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *Handler) handleFields(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Registry().Fields())
}

func (h *Handler) handleListMappings(w http.ResponseWriter, r *http.Request) {
	if h.mappings == nil {
		http.Error(w, "saved mappings are not configured", http.StatusNotImplemented)
		return
	}
	list, err := h.mappings.List(r.Context(), domain.NormalizeBrokerageKey(r.PathValue("brokerage")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleSaveMapping(w http.ResponseWriter, r *http.Request) {
	if h.mappings == nil {
		http.Error(w, "saved mappings are not configured", http.StatusNotImplemented)
		return
	}
	var body ingestion.Mapping
	if err := decodeMappingBody(r, &body); err != nil {
		writeError(w, r, err)
		return
	}
	cfg := domain.NewMappingConfig(domain.NormalizeBrokerageKey(r.PathValue("brokerage")), r.PathValue("name"), body)
	saved, err := h.mappings.Save(r.Context(), cfg)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *Handler) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	if h.mappings == nil {
		http.Error(w, "saved mappings are not configured", http.StatusNotImplemented)
		return
	}
	err := h.mappings.Delete(r.Context(), domain.NormalizeBrokerageKey(r.PathValue("brokerage")), r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		http.Error(w, "run log is not configured", http.StatusNotImplemented)
		return
	}
	brokerageKey := strings.TrimSpace(r.URL.Query().Get("brokerage"))
	if brokerageKey == "" {
		brokerageKey = h.service.brokerageKey
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, fmt.Errorf("%w: invalid limit %q", apperr.ErrConfig, raw))
			return
		}
		limit = n
	}
	runs, err := h.runs.List(r.Context(), domain.NormalizeBrokerageKey(brokerageKey), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	if h.runs == nil {
		http.Error(w, "run log is not configured", http.StatusNotImplemented)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid run id: %v", apperr.ErrConfig, err))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	run, err := h.runs.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handler) handleRunErrors(w http.ResponseWriter, r *http.Request) {
	id, ok := h.runID(w, r)
	if !ok {
		return
	}
	errs, err := h.runs.ListValidationErrors(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, errs)
}

// decodeMappingBody accepts JSON, or YAML when the content type says so.
func decodeMappingBody(r *http.Request, out *ingestion.Mapping) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read body: %v", apperr.ErrMapping, err)
	}
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		err = yaml.Unmarshal(data, out)
	} else {
		err = json.Unmarshal(data, out)
	}
	if err != nil {
		return fmt.Errorf("%w: invalid mapping body: %v", apperr.ErrMapping, err)
	}
	if len(*out) == 0 {
		return fmt.Errorf("%w: mapping is empty", apperr.ErrMapping)
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	payload := map[string]any{"error": err.Error(), "kind": apperr.Kind(err)}
	var me *apperr.MappingError
	if errors.As(err, &me) {
		payload["missing_columns"] = me.MissingColumns
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
