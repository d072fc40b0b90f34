// Package submission stores finished surveys and serves respondents and their
// answers back to the admin console.
package submission

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	internaldb "surveycmi/internal/db"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrUserNotFound = errors.New("user not found")
)

const maxIdempotencyKeyLen = 128

type Service struct {
	db *sql.DB
}

type UserInput struct {
	Name   string `json:"name"`
	Age    int    `json:"age"`
	Gender string `json:"gender"`
}

type ResponseInput struct {
	QuestionID int64  `json:"question_id"`
	Answer     string `json:"answer"`
	RawScore   int    `json:"raw_score"`
}

type SubmissionInput struct {
	User      UserInput       `json:"user"`
	Responses []ResponseInput `json:"responses"`
}

// Result reports the stored user. Duplicate is set when the idempotency key
// had already been used and nothing new was written.
type Result struct {
	UserID    int64
	Duplicate bool
}

type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Gender    string    `json:"gender"`
	CreatedAt time.Time `json:"created_at"`
}

type Response struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"user_id"`
	QuestionID   int64  `json:"question_id"`
	QuestionText string `json:"question_text"`
	Answer       string `json:"answer"`
	RawScore     int    `json:"raw_score"`
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Submit writes the user and every response in one transaction. A non-empty
// key that was seen before returns the original user id.
func (s *Service) Submit(ctx context.Context, in SubmissionInput, key string) (*Result, error) {
	in, err := normalizeSubmission(in)
	if err != nil {
		return nil, err
	}
	key = strings.TrimSpace(key)
	if len(key) > maxIdempotencyKeyLen {
		return nil, fmt.Errorf("%w: idempotency key too long", ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var userID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (name, age, gender, submission_key, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), now())
		ON CONFLICT (submission_key) WHERE submission_key IS NOT NULL DO NOTHING
		RETURNING id
	`, in.User.Name, in.User.Age, in.User.Gender, key).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		if err := tx.QueryRowContext(ctx, `SELECT id FROM users WHERE submission_key = $1`, key).Scan(&userID); err != nil {
			return nil, fmt.Errorf("load submitted user: %w", err)
		}
		return &Result{UserID: userID, Duplicate: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	for i, resp := range in.Responses {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO responses (user_id, question_id, answer, raw_score)
			VALUES ($1, $2, $3, $4)
		`, userID, resp.QuestionID, resp.Answer, resp.RawScore); err != nil {
			if internaldb.IsForeignKeyViolation(err) {
				return nil, fmt.Errorf("%w: responses[%d] references unknown question %d", ErrInvalidInput, i, resp.QuestionID)
			}
			return nil, fmt.Errorf("insert response: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &Result{UserID: userID}, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, age, gender, created_at
		FROM users
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Name, &u.Age, &u.Gender, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (*User, error) {
	if id <= 0 {
		return nil, ErrInvalidInput
	}
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, age, gender, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Age, &u.Gender, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &u, nil
}

// ListUserResponses returns the user's answers joined with the question text,
// in question order.
func (s *Service) ListUserResponses(ctx context.Context, userID int64) ([]Response, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.user_id, r.question_id, q.text, r.answer, r.raw_score
		FROM responses r
		JOIN questions q ON q.id = r.question_id
		WHERE r.user_id = $1
		ORDER BY r.question_id ASC, r.id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	items := make([]Response, 0)
	for rows.Next() {
		var it Response
		if err := rows.Scan(&it.ID, &it.UserID, &it.QuestionID, &it.QuestionText, &it.Answer, &it.RawScore); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return items, nil
}

func normalizeSubmission(in SubmissionInput) (SubmissionInput, error) {
	in.User.Name = strings.TrimSpace(in.User.Name)
	in.User.Gender = strings.ToUpper(strings.TrimSpace(in.User.Gender))
	if in.User.Name == "" {
		return in, fmt.Errorf("%w: user.name is required", ErrInvalidInput)
	}
	if in.User.Age < 1 || in.User.Age > 99 {
		return in, fmt.Errorf("%w: user.age must be between 1 and 99", ErrInvalidInput)
	}
	if in.User.Gender != "M" && in.User.Gender != "F" {
		return in, fmt.Errorf("%w: user.gender must be M or F", ErrInvalidInput)
	}

	seen := make(map[int64]struct{}, len(in.Responses))
	for i, resp := range in.Responses {
		if resp.QuestionID <= 0 {
			return in, fmt.Errorf("%w: responses[%d].question_id must be positive", ErrInvalidInput, i)
		}
		if _, ok := seen[resp.QuestionID]; ok {
			return in, fmt.Errorf("%w: duplicate response for question %d", ErrInvalidInput, resp.QuestionID)
		}
		seen[resp.QuestionID] = struct{}{}
	}
	return in, nil
}
