package question

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrQuestionNotFound = errors.New("question not found")
)

type Service struct {
	db *sql.DB
}

type Option struct {
	ID       int64  `json:"id"`
	Text     string `json:"text"`
	RawScore int    `json:"raw_score"`
}

type Question struct {
	ID      int64    `json:"id"`
	Text    string   `json:"text"`
	Options []Option `json:"options"`
}

// OptionInput carries an ID only when an existing option is being edited.
type OptionInput struct {
	ID       *int64 `json:"id,omitempty"`
	Text     string `json:"text"`
	RawScore int    `json:"raw_score"`
}

type QuestionInput struct {
	Text    string        `json:"text"`
	Options []OptionInput `json:"options"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// ListQuestions returns every question in id order with options in their
// authored order.
func (s *Service) ListQuestions(ctx context.Context) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.id, q.text, o.id, o.text, o.raw_score
		FROM questions q
		LEFT JOIN options o ON o.question_id = q.id
		ORDER BY q.id ASC, o.position ASC, o.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	items := make([]Question, 0)
	for rows.Next() {
		var qID int64
		var qText string
		var optID sql.NullInt64
		var optText sql.NullString
		var optScore sql.NullInt64
		if err := rows.Scan(&qID, &qText, &optID, &optText, &optScore); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if n := len(items); n == 0 || items[n-1].ID != qID {
			items = append(items, Question{ID: qID, Text: qText, Options: make([]Option, 0)})
		}
		if optID.Valid {
			cur := &items[len(items)-1]
			cur.Options = append(cur.Options, Option{ID: optID.Int64, Text: optText.String, RawScore: int(optScore.Int64)})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate questions: %w", err)
	}
	return items, nil
}

func (s *Service) CreateQuestion(ctx context.Context, in QuestionInput) (*Question, error) {
	in, err := normalizeQuestionInput(in)
	if err != nil {
		return nil, err
	}
	for _, opt := range in.Options {
		if opt.ID != nil {
			return nil, fmt.Errorf("%w: new question options cannot carry an id", ErrInvalidInput)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out := Question{Text: in.Text}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO questions (text, created_at, updated_at)
		VALUES ($1, now(), now())
		RETURNING id
	`, in.Text).Scan(&out.ID); err != nil {
		return nil, fmt.Errorf("insert question: %w", err)
	}

	out.Options, err = insertOptionsTx(ctx, tx, out.ID, in.Options, 0)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &out, nil
}

// UpdateQuestion replaces the text and the option list. Options with an id are
// edited in place, options without one are added, and omitted options are
// removed.
func (s *Service) UpdateQuestion(ctx context.Context, id int64, in QuestionInput) (*Question, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	in, err := normalizeQuestionInput(in)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE questions SET text = $2, updated_at = now() WHERE id = $1`, id, in.Text)
	if err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrQuestionNotFound
	}

	existing, err := optionIDsTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	keep := make(map[int64]struct{}, len(in.Options))
	for i, opt := range in.Options {
		if opt.ID == nil {
			continue
		}
		if _, ok := existing[*opt.ID]; !ok {
			return nil, fmt.Errorf("%w: options[%d] does not belong to question %d", ErrInvalidInput, i, id)
		}
		keep[*opt.ID] = struct{}{}
	}
	for optID := range existing {
		if _, ok := keep[optID]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM options WHERE id = $1`, optID); err != nil {
			return nil, fmt.Errorf("delete option: %w", err)
		}
	}

	out := Question{ID: id, Text: in.Text, Options: make([]Option, 0, len(in.Options))}
	for i, opt := range in.Options {
		if opt.ID == nil {
			added, err := insertOptionsTx(ctx, tx, id, []OptionInput{opt}, i)
			if err != nil {
				return nil, err
			}
			out.Options = append(out.Options, added...)
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE options SET text = $2, raw_score = $3, position = $4
			WHERE id = $1
		`, *opt.ID, opt.Text, opt.RawScore, i); err != nil {
			return nil, fmt.Errorf("update option: %w", err)
		}
		out.Options = append(out.Options, Option{ID: *opt.ID, Text: opt.Text, RawScore: opt.RawScore})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &out, nil
}

// DeleteQuestion also drops its options, stored responses and subscale
// memberships through cascading foreign keys.
func (s *Service) DeleteQuestion(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM questions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrQuestionNotFound
	}
	return nil
}

func insertOptionsTx(ctx context.Context, tx *sql.Tx, questionID int64, options []OptionInput, startPos int) ([]Option, error) {
	out := make([]Option, 0, len(options))
	for i, opt := range options {
		var id int64
		if err := tx.QueryRowContext(ctx, `
			INSERT INTO options (question_id, position, text, raw_score)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, questionID, startPos+i, opt.Text, opt.RawScore).Scan(&id); err != nil {
			return nil, fmt.Errorf("insert option: %w", err)
		}
		out = append(out, Option{ID: id, Text: opt.Text, RawScore: opt.RawScore})
	}
	return out, nil
}

func optionIDsTx(ctx context.Context, tx *sql.Tx, questionID int64) (map[int64]struct{}, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM options WHERE question_id = $1`, questionID)
	if err != nil {
		return nil, fmt.Errorf("query options: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		out[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate options: %w", err)
	}
	return out, nil
}

// normalizeQuestionInput trims text and rejects option lists a respondent
// could not answer unambiguously: answers are matched back to options by text.
func normalizeQuestionInput(in QuestionInput) (QuestionInput, error) {
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" {
		return in, fmt.Errorf("%w: text is required", ErrInvalidInput)
	}
	if len(in.Options) == 0 {
		return in, fmt.Errorf("%w: at least one option is required", ErrInvalidInput)
	}

	seen := make(map[string]struct{}, len(in.Options))
	seenIDs := make(map[int64]struct{}, len(in.Options))
	out := make([]OptionInput, 0, len(in.Options))
	for i, opt := range in.Options {
		opt.Text = strings.TrimSpace(opt.Text)
		if opt.Text == "" {
			return in, fmt.Errorf("%w: options[%d].text is required", ErrInvalidInput, i)
		}
		if _, ok := seen[opt.Text]; ok {
			return in, fmt.Errorf("%w: duplicate option text %q", ErrInvalidInput, opt.Text)
		}
		seen[opt.Text] = struct{}{}
		if opt.ID != nil {
			if *opt.ID <= 0 {
				return in, fmt.Errorf("%w: options[%d].id must be positive", ErrInvalidInput, i)
			}
			if _, ok := seenIDs[*opt.ID]; ok {
				return in, fmt.Errorf("%w: duplicate option id %d", ErrInvalidInput, *opt.ID)
			}
			seenIDs[*opt.ID] = struct{}{}
		}
		out = append(out, opt)
	}
	in.Options = out
	return in, nil
}
