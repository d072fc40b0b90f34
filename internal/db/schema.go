package db

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS questions (
	id bigserial PRIMARY KEY,
	text text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS options (
	id bigserial PRIMARY KEY,
	question_id bigint NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	position int NOT NULL DEFAULT 0,
	text text NOT NULL,
	raw_score int NOT NULL
);
CREATE INDEX IF NOT EXISTS options_question_id_idx ON options(question_id, position);

CREATE TABLE IF NOT EXISTS users (
	id bigserial PRIMARY KEY,
	name text NOT NULL,
	age int NOT NULL CHECK (age BETWEEN 1 AND 99),
	gender text NOT NULL CHECK (gender IN ('M', 'F')),
	submission_key text,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS users_submission_key_idx ON users(submission_key) WHERE submission_key IS NOT NULL;

CREATE TABLE IF NOT EXISTS responses (
	id bigserial PRIMARY KEY,
	user_id bigint NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	question_id bigint NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	answer text NOT NULL DEFAULT '',
	raw_score int NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS responses_user_id_idx ON responses(user_id);

CREATE TABLE IF NOT EXISTS subscales (
	id bigserial PRIMARY KEY,
	name text NOT NULL,
	method text NOT NULL CHECK (method IN ('sum', 'average'))
);

CREATE TABLE IF NOT EXISTS subscale_questions (
	subscale_id bigint NOT NULL REFERENCES subscales(id) ON DELETE CASCADE,
	question_id bigint NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
	position int NOT NULL DEFAULT 0,
	PRIMARY KEY (subscale_id, question_id)
);

CREATE TABLE IF NOT EXISTS normalization_rows (
	id bigserial PRIMARY KEY,
	subscale_id bigint NOT NULL REFERENCES subscales(id) ON DELETE CASCADE,
	age int NOT NULL,
	sex text NOT NULL,
	raw_score int NOT NULL,
	normalized_score double precision NOT NULL,
	CONSTRAINT normalization_rows_key UNIQUE (subscale_id, age, sex, raw_score)
);
`

// UsersSubmissionKeyIndex is the unique index that makes submissions idempotent.
const UsersSubmissionKeyIndex = "users_submission_key_idx"

// EnsureSchema creates every table the service needs. It is safe to run on
// each start.
func EnsureSchema(ctx context.Context, conn *sql.DB) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}
