// Package subscale manages subscales, their member questions and the
// normalization tables the admin console previews against.
package subscale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	internaldb "surveycmi/internal/db"
	"surveycmi/internal/scoring"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrSubscaleNotFound = errors.New("subscale not found")
	ErrInvalidRows      = errors.New("normalization file has invalid rows")
)

type Service struct {
	db *sql.DB
}

type Subscale struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Method      string  `json:"method"`
	QuestionIDs []int64 `json:"question_ids"`
}

type SubscaleInput struct {
	Name        string  `json:"name"`
	Method      string  `json:"method"`
	QuestionIDs []int64 `json:"question_ids"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

func (s *Service) ListSubscales(ctx context.Context) ([]Subscale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sc.id, sc.name, sc.method, sq.question_id
		FROM subscales sc
		LEFT JOIN subscale_questions sq ON sq.subscale_id = sc.id
		ORDER BY sc.id ASC, sq.position ASC, sq.question_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query subscales: %w", err)
	}
	defer rows.Close()

	items := make([]Subscale, 0)
	for rows.Next() {
		var id int64
		var name, method string
		var questionID sql.NullInt64
		if err := rows.Scan(&id, &name, &method, &questionID); err != nil {
			return nil, fmt.Errorf("scan subscale: %w", err)
		}
		if n := len(items); n == 0 || items[n-1].ID != id {
			items = append(items, Subscale{ID: id, Name: name, Method: method, QuestionIDs: make([]int64, 0)})
		}
		if questionID.Valid {
			cur := &items[len(items)-1]
			cur.QuestionIDs = append(cur.QuestionIDs, questionID.Int64)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscales: %w", err)
	}
	return items, nil
}

func (s *Service) CreateSubscale(ctx context.Context, in SubscaleInput) (*Subscale, error) {
	in, err := normalizeSubscaleInput(in)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	out := Subscale{Name: in.Name, Method: in.Method, QuestionIDs: in.QuestionIDs}
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO subscales (name, method) VALUES ($1, $2) RETURNING id
	`, in.Name, in.Method).Scan(&out.ID); err != nil {
		return nil, fmt.Errorf("insert subscale: %w", err)
	}
	if err := replaceMembersTx(ctx, tx, out.ID, in.QuestionIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &out, nil
}

func (s *Service) UpdateSubscale(ctx context.Context, id int64, in SubscaleInput) (*Subscale, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	in, err := normalizeSubscaleInput(in)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE subscales SET name = $2, method = $3 WHERE id = $1`, id, in.Name, in.Method)
	if err != nil {
		return nil, fmt.Errorf("update subscale: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrSubscaleNotFound
	}
	if err := replaceMembersTx(ctx, tx, id, in.QuestionIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &Subscale{ID: id, Name: in.Name, Method: in.Method, QuestionIDs: in.QuestionIDs}, nil
}

// DeleteSubscale removes the subscale together with its members and
// normalization table.
func (s *Service) DeleteSubscale(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscales WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscale: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSubscaleNotFound
	}
	return nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func subscaleExists(ctx context.Context, q rowQuerier, id int64) error {
	var found int64
	err := q.QueryRowContext(ctx, `SELECT id FROM subscales WHERE id = $1`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSubscaleNotFound
	}
	if err != nil {
		return fmt.Errorf("load subscale: %w", err)
	}
	return nil
}

func replaceMembersTx(ctx context.Context, tx *sql.Tx, subscaleID int64, questionIDs []int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM subscale_questions WHERE subscale_id = $1`, subscaleID); err != nil {
		return fmt.Errorf("clear subscale questions: %w", err)
	}
	for i, qID := range questionIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO subscale_questions (subscale_id, question_id, position)
			VALUES ($1, $2, $3)
		`, subscaleID, qID, i); err != nil {
			if internaldb.IsForeignKeyViolation(err) {
				return fmt.Errorf("%w: unknown question %d", ErrInvalidInput, qID)
			}
			return fmt.Errorf("insert subscale question: %w", err)
		}
	}
	return nil
}

func normalizeSubscaleInput(in SubscaleInput) (SubscaleInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	method, err := scoring.ParseMethod(in.Method)
	if err != nil {
		return in, fmt.Errorf("%w: method must be sum or average", ErrInvalidInput)
	}
	in.Method = string(method)

	seen := make(map[int64]struct{}, len(in.QuestionIDs))
	ids := make([]int64, 0, len(in.QuestionIDs))
	for _, id := range in.QuestionIDs {
		if id <= 0 {
			return in, fmt.Errorf("%w: question_ids must be positive", ErrInvalidInput)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	in.QuestionIDs = ids
	return in, nil
}
