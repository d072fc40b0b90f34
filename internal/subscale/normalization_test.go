package subscale

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParseNormalizationCSV(t *testing.T) {
	body := "Age, Sex ,raw-score,normalized score\n" +
		"21,F,10,75\n" +
		"21,f,11,77.5\n" +
		"\n" +
		"30,M,4,40\n"

	rows, report, err := ParseNormalizationCSV(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []NormalizationRow{
		{Age: 21, Sex: "F", RawScore: 10, NormalizedScore: 75},
		{Age: 21, Sex: "F", RawScore: 11, NormalizedScore: 77.5},
		{Age: 30, Sex: "M", RawScore: 4, NormalizedScore: 40},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Fatalf("unexpected rows %+v", rows)
	}
	if report.TotalRows != 3 || len(report.Errors) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestParseNormalizationCSVRowErrors(t *testing.T) {
	body := "age,sex,raw_score,normalized_score\n" +
		"21,F,10,75\n" +
		"0,F,10,75\n" +
		"21,X,10,75\n" +
		"21,F,ten,75\n" +
		"21,F,12,high\n" +
		"21,F,10,80\n"

	_, report, err := ParseNormalizationCSV(strings.NewReader(body))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	gotRows := make([]int, 0, len(report.Errors))
	for _, e := range report.Errors {
		gotRows = append(gotRows, e.Row)
	}
	if !reflect.DeepEqual(gotRows, []int{3, 4, 5, 6, 7}) {
		t.Fatalf("unexpected error rows %v (%+v)", gotRows, report.Errors)
	}
	if report.Errors[4].Error != "duplicates row 2" {
		t.Fatalf("expected duplicate reported against row 2, got %q", report.Errors[4].Error)
	}
	if report.TotalRows != 6 {
		t.Fatalf("expected 6 data rows, got %d", report.TotalRows)
	}
}

func TestParseNormalizationCSVRejectsFile(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "empty", body: ""},
		{name: "missing column", body: "age,sex,raw_score\n21,F,10\n"},
		{name: "header only", body: "age,sex,raw_score,normalized_score\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := ParseNormalizationCSV(strings.NewReader(tc.body)); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestNormalizationXLSXExportReimports(t *testing.T) {
	in := []NormalizationRow{
		{Age: 21, Sex: "F", RawScore: 10, NormalizedScore: 75},
		{Age: 45, Sex: "M", RawScore: 3, NormalizedScore: 52.25},
	}
	b, err := renderNormalizationXLSX(in)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	rows, report, err := ParseNormalizationXLSX(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("parse xlsx: %v", err)
	}
	if len(report.Errors) != 0 || !reflect.DeepEqual(rows, in) {
		t.Fatalf("expected exported table to import unchanged, got %+v report %+v", rows, report)
	}
}

func TestParseNormalizationXLSXRejectsGarbage(t *testing.T) {
	if _, _, err := ParseNormalizationXLSX(strings.NewReader("not a workbook")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNormalizeSubscaleInput(t *testing.T) {
	out, err := normalizeSubscaleInput(SubscaleInput{Name: " Anxiety ", Method: "AVERAGE", QuestionIDs: []int64{3, 1, 3}})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.Name != "Anxiety" || out.Method != "average" || !reflect.DeepEqual(out.QuestionIDs, []int64{3, 1}) {
		t.Fatalf("unexpected normalized input %+v", out)
	}

	bad := []SubscaleInput{
		{Name: "", Method: "sum"},
		{Name: "A", Method: "median"},
		{Name: "A", Method: "sum", QuestionIDs: []int64{0}},
	}
	for _, in := range bad {
		if _, err := normalizeSubscaleInput(in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", in, err)
		}
	}
}
