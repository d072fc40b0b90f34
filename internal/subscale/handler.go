package subscale

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"surveycmi/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

const (
	maxUploadBytes = 16 << 20
	xlsxMIME       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type Handler struct {
	svc subscaleService
}

type subscaleService interface {
	ListSubscales(ctx context.Context) ([]Subscale, error)
	CreateSubscale(ctx context.Context, in SubscaleInput) (*Subscale, error)
	UpdateSubscale(ctx context.Context, id int64, in SubscaleInput) (*Subscale, error)
	DeleteSubscale(ctx context.Context, id int64) error
	NormalizationTable(ctx context.Context, subscaleID int64) ([]NormalizationRow, error)
	ImportNormalization(ctx context.Context, subscaleID int64, filename string, r io.Reader) (*ImportReport, error)
	ExportNormalizationXLSX(ctx context.Context, subscaleID int64) ([]byte, error)
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListSubscales(r.Context())
	if err != nil {
		writeServiceError(w, r, "list subscales", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req SubscaleInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	item, err := h.svc.CreateSubscale(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, "create subscale", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, apiResponse{OK: true, Data: item})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := subscaleID(w, r)
	if !ok {
		return
	}
	var req SubscaleInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}
	item, err := h.svc.UpdateSubscale(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, r, "update subscale", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: item})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := subscaleID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteSubscale(r.Context(), id); err != nil {
		writeServiceError(w, r, "delete subscale", err)
		return
	}
	writeJSON(w, r, http.StatusNoContent, apiResponse{OK: true})
}

func (h *Handler) NormalizationTable(w http.ResponseWriter, r *http.Request) {
	id, ok := subscaleID(w, r)
	if !ok {
		return
	}
	items, err := h.svc.NormalizationTable(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "normalization table", err)
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) ExportNormalizationTable(w http.ResponseWriter, r *http.Request) {
	id, ok := subscaleID(w, r)
	if !ok {
		return
	}
	b, err := h.svc.ExportNormalizationXLSX(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "export normalization table", err)
		return
	}
	w.Header().Set("Content-Type", xlsxMIME)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="subscale-%d-normalization.xlsx"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

func (h *Handler) UploadNormalization(w http.ResponseWriter, r *http.Request) {
	id, ok := subscaleID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid multipart form"})
		return
	}
	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "file field is required"})
		return
	}
	defer file.Close()

	report, err := h.svc.ImportNormalization(r.Context(), id, hdr.Filename, file)
	if err != nil {
		if errors.Is(err, ErrInvalidRows) {
			apiresp.WriteErrorWithData(w, r, http.StatusUnprocessableEntity, err.Error(), report)
			return
		}
		writeServiceError(w, r, "upload normalization", err)
		return
	}
	log.Printf("normalization table replaced: subscale_id=%d file=%s rows=%d", id, hdr.Filename, report.ImportedRows)
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: report})
}

func subscaleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid subscale id"})
		return 0, false
	}
	return id, true
}

func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
	case errors.Is(err, ErrSubscaleNotFound):
		writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
	default:
		log.Printf("%s: %v", op, err)
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
