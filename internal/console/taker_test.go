package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"surveycmi/internal/progress"
	"surveycmi/internal/survey"
	"surveycmi/internal/surveyclient"
)

type mockLoader struct {
	ListQuestionsFn func(ctx context.Context) ([]surveyclient.Question, error)
}

func (m *mockLoader) ListQuestions(ctx context.Context) ([]surveyclient.Question, error) {
	return m.ListQuestionsFn(ctx)
}

type mockSubmitter struct {
	SubmitFn func(ctx context.Context, sub surveyclient.Submission, key string) (*surveyclient.SubmitAck, error)
}

func (m *mockSubmitter) Submit(ctx context.Context, sub surveyclient.Submission, key string) (*surveyclient.SubmitAck, error) {
	return m.SubmitFn(ctx, sub, key)
}

func twoQuestions() []surveyclient.Question {
	opts := func(base int64) []surveyclient.Option {
		return []surveyclient.Option{
			{ID: base + 1, Text: "Never", RawScore: 0},
			{ID: base + 2, Text: "Often", RawScore: 3},
		}
	}
	return []surveyclient.Question{
		{ID: 1, Text: "Do you sleep well?", Options: opts(10)},
		{ID: 2, Text: "Do you feel rested?", Options: opts(20)},
	}
}

func openStore(t *testing.T, path string) progress.Store {
	t.Helper()
	store, err := progress.OpenSQLite(context.Background(), path, "test")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTaker(store progress.Store, sub survey.Submitter, input string, out io.Writer) *Taker {
	m := survey.NewMachine(survey.Config{
		Store:     store,
		Submitter: sub,
		Logger:    log.New(io.Discard, "", 0),
	})
	loader := &mockLoader{ListQuestionsFn: func(ctx context.Context) ([]surveyclient.Question, error) {
		return twoQuestions(), nil
	}}
	return NewTaker(m, loader, strings.NewReader(input), out)
}

func TestTakerCompletesSurvey(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "progress.db"))

	var got surveyclient.Submission
	var gotKey string
	sub := &mockSubmitter{SubmitFn: func(ctx context.Context, s surveyclient.Submission, key string) (*surveyclient.SubmitAck, error) {
		got, gotKey = s, key
		return &surveyclient.SubmitAck{Message: "Submission saved!", UserID: 7}, nil
	}}

	input := strings.Join([]string{"", "Sarah", "abc", "21", "f", "2", "", "", ":s", ":q"}, "\n") + "\n"
	var out bytes.Buffer
	if err := newTaker(store, sub, input, &out).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got.User != (surveyclient.SubmissionUser{Name: "Sarah", Age: 21, Gender: "F"}) {
		t.Fatalf("unexpected user %+v", got.User)
	}
	want := []surveyclient.SubmissionResponse{
		{QuestionID: 1, Answer: "Often", RawScore: 3},
		{QuestionID: 2, Answer: "", RawScore: 0},
	}
	if len(got.Responses) != 2 || got.Responses[0] != want[0] || got.Responses[1] != want[1] {
		t.Fatalf("unexpected responses %+v", got.Responses)
	}
	if gotKey == "" {
		t.Fatalf("expected an idempotency key")
	}

	text := out.String()
	for _, s := range []string{"age must be between", "[enter] Skip", "[enter] Next", "[>1*][2]", "Answered 1 of 2", "Thank you"} {
		if !strings.Contains(text, s) {
			t.Fatalf("expected %q in output:\n%s", s, text)
		}
	}
	if _, err := store.Load(context.Background()); !errors.Is(err, progress.ErrNotFound) {
		t.Fatalf("expected progress cleared after submit, got %v", err)
	}
}

func TestTakerResumesSavedSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.db")
	sub := &mockSubmitter{SubmitFn: func(ctx context.Context, s surveyclient.Submission, key string) (*surveyclient.SubmitAck, error) {
		t.Fatalf("submit should not be called")
		return nil, nil
	}}

	first := openStore(t, path)
	if err := newTaker(first, sub, "\nSarah\n", io.Discard).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second := openStore(t, path)
	var out bytes.Buffer
	if err := newTaker(second, sub, ":b\n:q\n", &out).Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !strings.Contains(out.String(), "Your age") || !strings.Contains(out.String(), "Your name [Sarah]") {
		t.Fatalf("expected resume on age with name kept:\n%s", out.String())
	}
}

func TestTakerSubmitFailureStaysOnReview(t *testing.T) {
	store := openStore(t, filepath.Join(t.TempDir(), "progress.db"))
	calls := 0
	sub := &mockSubmitter{SubmitFn: func(ctx context.Context, s surveyclient.Submission, key string) (*surveyclient.SubmitAck, error) {
		calls++
		return nil, errors.New("connection refused")
	}}

	input := strings.Join([]string{"", "Ana", "30", "M", "", "", ":s", ":q"}, "\n") + "\n"
	var out bytes.Buffer
	if err := newTaker(store, sub, input, &out).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one submit attempt, got %d", calls)
	}
	if !strings.Contains(out.String(), "connection refused") || strings.Contains(out.String(), "Thank you") {
		t.Fatalf("expected failure to be reported without finishing:\n%s", out.String())
	}
	rec, err := store.Load(context.Background())
	if err != nil || rec.Step != string(survey.StepSubmitting) {
		t.Fatalf("expected progress kept on the submit step, got %+v %v", rec, err)
	}
}

func TestNavigatorMarks(t *testing.T) {
	st := survey.State{Step: survey.StepAnswering, Position: 1, Answers: []string{"Often", "", "Never"}}
	if got := navigator(st); got != "[1*][>2][3*]" {
		t.Fatalf("unexpected navigator %q", got)
	}
}
