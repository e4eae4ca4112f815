package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"essay-proxy/api/internal/feedback"
)

var ErrNotFound = sql.ErrNoRows

// ReviewRepo кэширует готовые разборы эссе по ключу (input_hash, backend, model).
type ReviewRepo struct{ DB *sql.DB }

func NewReviewRepo(db *sql.DB) *ReviewRepo { return &ReviewRepo{DB: db} }

type ReviewRow struct {
	ID        int64
	CreatedAt time.Time
	InputHash string
	Backend   string
	Model     string
	Result    feedback.Result
}

const schema = `
create table if not exists essay_reviews (
  id          bigserial primary key,
  created_at  timestamptz not null default now(),
  input_hash  text not null,
  backend     text not null,
  model       text not null,
  narrative   text not null default '',
  result_json jsonb not null,
  unique (input_hash, backend, model)
)`

// EnsureSchema создаёт таблицу, если её ещё нет.
func (r *ReviewRepo) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, schema)
	return err
}

func (r *ReviewRepo) Ping(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

// FindByHash достаёт запись по ключу. Если maxAge > 0, проверяет "свежесть",
// иначе игнорирует возраст.
func (r *ReviewRepo) FindByHash(ctx context.Context, inputHash, backend, model string, maxAge time.Duration) (*ReviewRow, error) {
	const q = `
select id, created_at, input_hash, backend, model, result_json
from essay_reviews
where input_hash = $1 and backend = $2 and model = $3`
	var (
		row ReviewRow
		js  []byte
	)
	err := r.DB.QueryRowContext(ctx, q, inputHash, backend, model).
		Scan(&row.ID, &row.CreatedAt, &row.InputHash, &row.Backend, &row.Model, &js)
	if err != nil {
		return nil, err
	}
	if maxAge > 0 && time.Since(row.CreatedAt) > maxAge {
		return nil, ErrNotFound
	}
	if err := json.Unmarshal(js, &row.Result); err != nil {
		// битый JSON считаем, что записи нет
		return nil, ErrNotFound
	}
	if row.Result.Suggestions == nil {
		row.Result.Suggestions = []feedback.Suggestion{}
	}
	return &row, nil
}

// Upsert сохраняет результат; существующая запись перезаписывается и
// считается свежей.
func (r *ReviewRepo) Upsert(ctx context.Context, inputHash, backend, model string, res feedback.Result) error {
	js, err := json.Marshal(res)
	if err != nil {
		return err
	}
	const q = `
insert into essay_reviews (input_hash, backend, model, narrative, result_json)
values ($1,$2,$3,$4,$5)
on conflict (input_hash, backend, model) do update
set narrative = excluded.narrative,
    result_json = excluded.result_json,
    created_at = now()`
	_, err = r.DB.ExecContext(ctx, q, inputHash, backend, model, res.Narrative, js)
	return err
}

// PurgeOlderThan удаляет старые записи, чтобы не раздувать БД.
func (r *ReviewRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	res, err := r.DB.ExecContext(ctx, `delete from essay_reviews where created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}
