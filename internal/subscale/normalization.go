package subscale

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	internaldb "surveycmi/internal/db"

	"github.com/xuri/excelize/v2"
)

var normalizationColumns = []string{"age", "sex", "raw_score", "normalized_score"}

type NormalizationRow struct {
	Age             int     `json:"age"`
	Sex             string  `json:"sex"`
	RawScore        int     `json:"raw_score"`
	NormalizedScore float64 `json:"normalized_score"`
}

type ImportRowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportReport struct {
	TotalRows    int              `json:"total_rows"`
	ImportedRows int              `json:"imported_rows"`
	Errors       []ImportRowError `json:"errors"`
}

func (s *Service) NormalizationTable(ctx context.Context, subscaleID int64) ([]NormalizationRow, error) {
	if subscaleID <= 0 {
		return nil, ErrInvalidInput
	}
	if err := subscaleExists(ctx, s.db, subscaleID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT age, sex, raw_score, normalized_score
		FROM normalization_rows
		WHERE subscale_id = $1
		ORDER BY sex ASC, age ASC, raw_score ASC
	`, subscaleID)
	if err != nil {
		return nil, fmt.Errorf("query normalization rows: %w", err)
	}
	defer rows.Close()

	items := make([]NormalizationRow, 0)
	for rows.Next() {
		var it NormalizationRow
		if err := rows.Scan(&it.Age, &it.Sex, &it.RawScore, &it.NormalizedScore); err != nil {
			return nil, fmt.Errorf("scan normalization row: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate normalization rows: %w", err)
	}
	return items, nil
}

// ImportNormalization replaces the subscale's table with the uploaded file.
// The upload is all-or-nothing: any invalid row returns the report with
// ErrInvalidRows and leaves the stored table untouched.
func (s *Service) ImportNormalization(ctx context.Context, subscaleID int64, filename string, r io.Reader) (*ImportReport, error) {
	if subscaleID <= 0 {
		return nil, ErrInvalidInput
	}
	if err := subscaleExists(ctx, s.db, subscaleID); err != nil {
		return nil, err
	}

	var rows []NormalizationRow
	var report *ImportReport
	var err error
	if strings.EqualFold(filepath.Ext(filename), ".xlsx") {
		rows, report, err = ParseNormalizationXLSX(r)
	} else {
		rows, report, err = ParseNormalizationCSV(r)
	}
	if err != nil {
		return nil, err
	}
	if len(report.Errors) > 0 {
		return report, ErrInvalidRows
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM normalization_rows WHERE subscale_id = $1`, subscaleID); err != nil {
		return nil, fmt.Errorf("clear normalization rows: %w", err)
	}
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO normalization_rows (subscale_id, age, sex, raw_score, normalized_score)
			VALUES ($1, $2, $3, $4, $5)
		`, subscaleID, row.Age, row.Sex, row.RawScore, row.NormalizedScore); err != nil {
			if internaldb.IsUniqueViolation(err, "normalization_rows_key") {
				return nil, fmt.Errorf("%w: duplicate row for age %d sex %s raw score %d", ErrInvalidInput, row.Age, row.Sex, row.RawScore)
			}
			return nil, fmt.Errorf("insert normalization row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	report.ImportedRows = len(rows)
	return report, nil
}

// ExportNormalizationXLSX renders the stored table as a one-sheet workbook
// with the same columns the import accepts.
func (s *Service) ExportNormalizationXLSX(ctx context.Context, subscaleID int64) ([]byte, error) {
	items, err := s.NormalizationTable(ctx, subscaleID)
	if err != nil {
		return nil, err
	}
	return renderNormalizationXLSX(items)
}

func renderNormalizationXLSX(items []NormalizationRow) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	for i, h := range normalizationColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, it := range items {
		values := []any{it.Age, it.Sex, it.RawScore, it.NormalizedScore}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "D", 18)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write excel: %w", err)
	}
	return buf.Bytes(), nil
}

func ParseNormalizationCSV(r io.Reader) ([]NormalizationRow, *ImportReport, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: read csv header: %v", ErrInvalidInput, err)
	}
	return parseNormalizationRecords(header, reader.Read)
}

func ParseNormalizationXLSX(r io.Reader) ([]NormalizationRow, *ImportReport, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open excel: %v", ErrInvalidInput, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("%w: excel sheet is empty", ErrInvalidInput)
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("%w: excel sheet is empty", ErrInvalidInput)
	}

	next := 1
	return parseNormalizationRecords(records[0], func() ([]string, error) {
		if next >= len(records) {
			return nil, io.EOF
		}
		rec := records[next]
		next++
		return rec, nil
	})
}

type rowKey struct {
	age int
	sex string
	raw int
}

func parseNormalizationRecords(header []string, read func() ([]string, error)) ([]NormalizationRow, *ImportReport, error) {
	index := make(map[string]int, len(header))
	for i, h := range header {
		if n := normalizeHeader(h); n != "" {
			index[n] = i
		}
	}
	for _, col := range normalizationColumns {
		if _, ok := index[col]; !ok {
			return nil, nil, fmt.Errorf("%w: missing required column: %s", ErrInvalidInput, col)
		}
	}

	report := &ImportReport{Errors: make([]ImportRowError, 0)}
	out := make([]NormalizationRow, 0)
	firstSeen := make(map[rowKey]int)
	rowNo := 1
	for {
		rowNo++
		rec, err := read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			report.TotalRows++
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: fmt.Sprintf("csv parse error: %v", err)})
			continue
		}
		if isRowEmpty(rec) {
			continue
		}
		report.TotalRows++

		row, err := parseNormalizationRow(rec, index)
		if err != nil {
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: err.Error()})
			continue
		}
		key := rowKey{age: row.Age, sex: row.Sex, raw: row.RawScore}
		if prev, ok := firstSeen[key]; ok {
			report.Errors = append(report.Errors, ImportRowError{Row: rowNo, Error: fmt.Sprintf("duplicates row %d", prev)})
			continue
		}
		firstSeen[key] = rowNo
		out = append(out, row)
	}

	if report.TotalRows == 0 {
		return nil, nil, fmt.Errorf("%w: no data rows found", ErrInvalidInput)
	}
	return out, report, nil
}

func parseNormalizationRow(rec []string, index map[string]int) (NormalizationRow, error) {
	var row NormalizationRow

	age, err := strconv.Atoi(cell(rec, index, "age"))
	if err != nil || age < 1 || age > 99 {
		return row, errors.New("age must be a whole number between 1 and 99")
	}
	sex := strings.ToUpper(cell(rec, index, "sex"))
	if sex != "M" && sex != "F" {
		return row, errors.New("sex must be M or F")
	}
	raw, err := strconv.Atoi(cell(rec, index, "raw_score"))
	if err != nil {
		return row, errors.New("raw_score must be a whole number")
	}
	norm, err := strconv.ParseFloat(cell(rec, index, "normalized_score"), 64)
	if err != nil || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return row, errors.New("normalized_score must be a number")
	}

	return NormalizationRow{Age: age, Sex: sex, RawScore: raw, NormalizedScore: norm}, nil
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	h = strings.ReplaceAll(h, "-", "_")
	h = strings.ReplaceAll(h, " ", "_")
	return h
}

func cell(rec []string, idx map[string]int, key string) string {
	i, ok := idx[key]
	if !ok || i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func isRowEmpty(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
