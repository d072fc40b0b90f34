package surveyclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/"})
}

func TestListQuestions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/questions/" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{"id":1,"text":"How often?","options":[{"id":10,"text":"Never","raw_score":0},{"id":11,"text":"Often","raw_score":3}]}]`))
	})

	qs, err := c.ListQuestions(context.Background())
	if err != nil {
		t.Fatalf("list questions: %v", err)
	}
	if len(qs) != 1 || len(qs[0].Options) != 2 || qs[0].Options[1].RawScore != 3 {
		t.Fatalf("unexpected questions: %+v", qs)
	}
}

func TestSubmitSendsIdempotencyKey(t *testing.T) {
	var gotKey string
	var got Submission
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/submit/" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		_, _ = w.Write([]byte(`{"message":"Submission saved!","user_id":7}`))
	})

	ack, err := c.Submit(context.Background(), Submission{
		User:      SubmissionUser{Name: "Sarah", Age: 21, Gender: "F"},
		Responses: []SubmissionResponse{{QuestionID: 1, Answer: "Often", RawScore: 3}},
	}, "sess-1")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ack.UserID != 7 {
		t.Fatalf("expected user id 7, got %d", ack.UserID)
	}
	if gotKey != "sess-1" {
		t.Fatalf("expected idempotency key sess-1, got %q", gotKey)
	}
	if got.User.Age != 21 || len(got.Responses) != 1 || got.Responses[0].RawScore != 3 {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestErrorEnvelopeDecoded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error":{"code":"not_found","message":"subscale not found"},"meta":{"request_id":"req-1"}}`))
	})

	err := c.DeleteSubscale(context.Background(), 4)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "not_found" || apiErr.RequestID != "req-1" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected errors.Is ErrNotFound")
	}
}

func TestGetSubscaleFiltersList(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"id":1,"name":"A","method":"sum","question_ids":[1]},{"id":2,"name":"B","method":"average","question_ids":[2,3]}]`))
	})

	sub, err := c.GetSubscale(context.Background(), 2)
	if err != nil {
		t.Fatalf("get subscale: %v", err)
	}
	if sub.Name != "B" || len(sub.QuestionIDs) != 2 {
		t.Fatalf("unexpected subscale: %+v", sub)
	}
	if _, err := c.GetSubscale(context.Background(), 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUploadNormalizationCSV(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/subscales/3/upload-normalization/" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		file, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		b, _ := io.ReadAll(file)
		if hdr.Filename != "norms.csv" || !strings.HasPrefix(string(b), "age,sex") {
			t.Fatalf("unexpected upload %s: %q", hdr.Filename, string(b))
		}
		_, _ = w.Write([]byte(`{"total_rows":1,"imported_rows":1,"errors":[]}`))
	})

	report, err := c.UploadNormalizationCSV(context.Background(), 3, "norms.csv", strings.NewReader("age,sex,raw_score,normalized_score\n21,F,10,75\n"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if report.ImportedRows != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestUploadNormalizationCSVRejectedKeepsReport(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ok":false,"data":{"total_rows":2,"imported_rows":0,"errors":[{"row":3,"error":"invalid age"}]},"error":{"code":"unprocessable_entity","message":"normalization csv has invalid rows"},"meta":{}}`))
	})

	report, err := c.UploadNormalizationCSV(context.Background(), 3, "norms.csv", strings.NewReader("x"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if report == nil || len(report.Errors) != 1 || report.Errors[0].Row != 3 {
		t.Fatalf("expected report with row errors, got %+v", report)
	}
}
