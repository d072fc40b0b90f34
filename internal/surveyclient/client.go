// Package surveyclient talks to the question/response/subscale service.
package surveyclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

var ErrNotFound = errors.New("not found")

// APIError is returned for any non-2xx answer from the service.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	Data      json.RawMessage
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("survey api error %d", e.Status)
	}
	return fmt.Sprintf("survey api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

type errorEnvelope struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(cfg Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		httpClient: client,
	}
}

func (c *Client) ListQuestions(ctx context.Context) ([]Question, error) {
	var out []Question
	if err := c.doJSON(ctx, http.MethodGet, "/questions/", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CreateQuestion(ctx context.Context, in QuestionInput) (*Question, error) {
	var out Question
	if err := c.doJSON(ctx, http.MethodPost, "/questions/", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateQuestion(ctx context.Context, id int64, in QuestionInput) (*Question, error) {
	var out Question
	if err := c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/questions/%d", id), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteQuestion(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/questions/%d", id), nil, nil, nil)
}

// Submit posts a finished survey once. idempotencyKey lets the service drop a
// duplicate of a submission it already stored.
func (c *Client) Submit(ctx context.Context, sub Submission, idempotencyKey string) (*SubmitAck, error) {
	header := http.Header{}
	if idempotencyKey != "" {
		header.Set("Idempotency-Key", idempotencyKey)
	}
	var out SubmitAck
	if err := c.doJSON(ctx, http.MethodPost, "/submit/", header, sub, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var out []User
	if err := c.doJSON(ctx, http.MethodGet, "/users/", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetUser(ctx context.Context, id int64) (*User, error) {
	var out User
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/users/%d", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListUserResponses(ctx context.Context, userID int64) ([]UserResponse, error) {
	var out []UserResponse
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/users/%d/responses", userID), nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListSubscales(ctx context.Context) ([]Subscale, error) {
	var out []Subscale
	if err := c.doJSON(ctx, http.MethodGet, "/subscales/", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetSubscale has no dedicated endpoint; it filters the list.
func (c *Client) GetSubscale(ctx context.Context, id int64) (*Subscale, error) {
	items, err := c.ListSubscales(ctx)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].ID == id {
			return &items[i], nil
		}
	}
	return nil, ErrNotFound
}

func (c *Client) CreateSubscale(ctx context.Context, in Subscale) (*Subscale, error) {
	var out Subscale
	if err := c.doJSON(ctx, http.MethodPost, "/subscales/", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateSubscale(ctx context.Context, id int64, in Subscale) (*Subscale, error) {
	var out Subscale
	if err := c.doJSON(ctx, http.MethodPatch, fmt.Sprintf("/subscales/%d", id), nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteSubscale(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, fmt.Sprintf("/subscales/%d", id), nil, nil, nil)
}

func (c *Client) NormalizationTable(ctx context.Context, subscaleID int64) ([]NormalizationRow, error) {
	var out []NormalizationRow
	path := fmt.Sprintf("/subscales/%d/normalization-table/", subscaleID)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExportNormalizationTable streams the XLSX workbook into w.
func (c *Client) ExportNormalizationTable(ctx context.Context, subscaleID int64, w io.Writer) error {
	path := fmt.Sprintf("/subscales/%d/normalization-table.xlsx", subscaleID)
	resp, err := c.do(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read workbook: %w", err)
	}
	return nil
}

// UploadNormalizationCSV replaces the subscale's table. A rejected upload still
// returns the per-row report alongside the error.
func (c *Client) UploadNormalizationCSV(ctx context.Context, subscaleID int64, filename string, csv io.Reader) (*ImportReport, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, csv); err != nil {
		return nil, fmt.Errorf("copy csv: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", mw.FormDataContentType())
	path := fmt.Sprintf("/subscales/%d/upload-normalization/", subscaleID)

	resp, err := c.do(ctx, http.MethodPost, path, header, &body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && len(apiErr.Data) > 0 {
			var report ImportReport
			if jsonErr := json.Unmarshal(apiErr.Data, &report); jsonErr == nil {
				return &report, err
			}
		}
		return nil, err
	}
	defer resp.Body.Close()

	var report ImportReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode import report: %w", err)
	}
	return &report, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, header http.Header, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
		if header == nil {
			header = http.Header{}
		}
		header.Set("Content-Type", "application/json")
	}

	resp, err := c.do(ctx, method, path, header, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// do returns the open response for 2xx answers and an *APIError otherwise.
func (c *Client) do(ctx context.Context, method, path string, header http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	apiErr := &APIError{Status: resp.StatusCode}
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil {
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		apiErr.RequestID = env.Meta.RequestID
		apiErr.Data = env.Data
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return nil, apiErr
}
