package subscale

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"surveycmi/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type mockSubscaleService struct {
	listFn   func(ctx context.Context) ([]Subscale, error)
	createFn func(ctx context.Context, in SubscaleInput) (*Subscale, error)
	updateFn func(ctx context.Context, id int64, in SubscaleInput) (*Subscale, error)
	deleteFn func(ctx context.Context, id int64) error
	tableFn  func(ctx context.Context, subscaleID int64) ([]NormalizationRow, error)
	importFn func(ctx context.Context, subscaleID int64, filename string, r io.Reader) (*ImportReport, error)
	exportFn func(ctx context.Context, subscaleID int64) ([]byte, error)
}

func (m *mockSubscaleService) ListSubscales(ctx context.Context) ([]Subscale, error) {
	if m.listFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listFn(ctx)
}

func (m *mockSubscaleService) CreateSubscale(ctx context.Context, in SubscaleInput) (*Subscale, error) {
	if m.createFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createFn(ctx, in)
}

func (m *mockSubscaleService) UpdateSubscale(ctx context.Context, id int64, in SubscaleInput) (*Subscale, error) {
	if m.updateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateFn(ctx, id, in)
}

func (m *mockSubscaleService) DeleteSubscale(ctx context.Context, id int64) error {
	if m.deleteFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteFn(ctx, id)
}

func (m *mockSubscaleService) NormalizationTable(ctx context.Context, subscaleID int64) ([]NormalizationRow, error) {
	if m.tableFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.tableFn(ctx, subscaleID)
}

func (m *mockSubscaleService) ImportNormalization(ctx context.Context, subscaleID int64, filename string, r io.Reader) (*ImportReport, error) {
	if m.importFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.importFn(ctx, subscaleID, filename, r)
}

func (m *mockSubscaleService) ExportNormalizationXLSX(ctx context.Context, subscaleID int64) ([]byte, error) {
	if m.exportFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.exportFn(ctx, subscaleID)
}

func withParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func multipartUpload(t *testing.T, filename, body string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = part.Write([]byte(body))
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestCreateSubscale(t *testing.T) {
	h := &Handler{svc: &mockSubscaleService{
		createFn: func(ctx context.Context, in SubscaleInput) (*Subscale, error) {
			if in.Name != "Anxiety" || in.Method != "sum" || len(in.QuestionIDs) != 2 {
				t.Fatalf("unexpected input %+v", in)
			}
			return &Subscale{ID: 3, Name: in.Name, Method: in.Method, QuestionIDs: in.QuestionIDs}, nil
		},
	}}

	body := `{"name":"Anxiety","method":"sum","question_ids":[1,2]}`
	req := httptest.NewRequest(http.MethodPost, "/subscales/", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
}

func TestUpdateSubscaleNotFound(t *testing.T) {
	h := &Handler{svc: &mockSubscaleService{
		updateFn: func(ctx context.Context, id int64, in SubscaleInput) (*Subscale, error) {
			return nil, ErrSubscaleNotFound
		},
	}}

	req := httptest.NewRequest(http.MethodPatch, "/subscales/8", strings.NewReader(`{"name":"A","method":"sum"}`))
	req = withParam(req, "id", "8")
	w := httptest.NewRecorder()
	h.Update(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestDeleteSubscaleNoContent(t *testing.T) {
	h := &Handler{svc: &mockSubscaleService{
		deleteFn: func(ctx context.Context, id int64) error { return nil },
	}}

	req := httptest.NewRequest(http.MethodDelete, "/subscales/8", nil)
	req = withParam(req, "id", "8")
	w := httptest.NewRecorder()
	h.Delete(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
}

func TestUploadNormalizationAccepted(t *testing.T) {
	h := &Handler{svc: &mockSubscaleService{
		importFn: func(ctx context.Context, subscaleID int64, filename string, r io.Reader) (*ImportReport, error) {
			b, _ := io.ReadAll(r)
			if subscaleID != 2 || filename != "norms.csv" || !strings.HasPrefix(string(b), "age,") {
				t.Fatalf("unexpected upload %d %s %q", subscaleID, filename, string(b))
			}
			return &ImportReport{TotalRows: 1, ImportedRows: 1, Errors: []ImportRowError{}}, nil
		},
	}}

	body, contentType := multipartUpload(t, "norms.csv", "age,sex,raw_score,normalized_score\n21,F,10,75\n")
	req := httptest.NewRequest(http.MethodPost, "/subscales/2/upload-normalization/", body)
	req.Header.Set("Content-Type", contentType)
	req = withParam(req, "id", "2")
	w := httptest.NewRecorder()
	h.UploadNormalization(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var got ImportReport
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ImportedRows != 1 {
		t.Fatalf("unexpected report %+v", got)
	}
}

func TestUploadNormalizationRejectedCarriesReport(t *testing.T) {
	h := &Handler{svc: &mockSubscaleService{
		importFn: func(ctx context.Context, subscaleID int64, filename string, r io.Reader) (*ImportReport, error) {
			return &ImportReport{TotalRows: 2, Errors: []ImportRowError{{Row: 3, Error: "sex must be M or F"}}}, ErrInvalidRows
		},
	}}

	body, contentType := multipartUpload(t, "norms.csv", "x")
	req := httptest.NewRequest(http.MethodPost, "/subscales/2/upload-normalization/", body)
	req.Header.Set("Content-Type", contentType)
	req = withParam(req, "id", "2")
	w := httptest.NewRecorder()
	h.UploadNormalization(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	var env struct {
		apiresp.Envelope
		Data ImportReport `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.OK || len(env.Data.Errors) != 1 || env.Data.Errors[0].Row != 3 {
		t.Fatalf("unexpected envelope %s", w.Body.String())
	}
}

func TestUploadNormalizationRequiresFile(t *testing.T) {
	h := &Handler{svc: &mockSubscaleService{}}

	req := httptest.NewRequest(http.MethodPost, "/subscales/2/upload-normalization/", strings.NewReader("plain"))
	req = withParam(req, "id", "2")
	w := httptest.NewRecorder()
	h.UploadNormalization(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestExportNormalizationTable(t *testing.T) {
	h := &Handler{svc: &mockSubscaleService{
		exportFn: func(ctx context.Context, subscaleID int64) ([]byte, error) {
			return renderNormalizationXLSX([]NormalizationRow{{Age: 21, Sex: "F", RawScore: 10, NormalizedScore: 75}})
		},
	}}

	req := httptest.NewRequest(http.MethodGet, "/subscales/2/normalization-table.xlsx", nil)
	req = withParam(req, "id", "2")
	w := httptest.NewRecorder()
	h.ExportNormalizationTable(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != xlsxMIME {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "subscale-2-normalization.xlsx") {
		t.Fatalf("unexpected disposition %q", w.Header().Get("Content-Disposition"))
	}
	if w.Body.Len() == 0 {
		t.Fatalf("expected workbook bytes")
	}
}

func TestNormalizationTableNotFound(t *testing.T) {
	h := &Handler{svc: &mockSubscaleService{
		tableFn: func(ctx context.Context, subscaleID int64) ([]NormalizationRow, error) {
			return nil, ErrSubscaleNotFound
		},
	}}

	req := httptest.NewRequest(http.MethodGet, "/subscales/5/normalization-table/", nil)
	req = withParam(req, "id", "5")
	w := httptest.NewRecorder()
	h.NormalizationTable(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
