package directory

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sentra-iam/sentra/internal/platform/db"
	"github.com/sentra-iam/sentra/internal/shared"
	"github.com/sentra-iam/sentra/internal/temporal"
)

// Repository is the PostgreSQL-backed Store implementation.
type Repository struct {
	pool *pgxpool.Pool
	db   dbtx
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewRepository constructs a repository over the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

var _ Store = (*Repository)(nil)

// withTx runs fn against a repository bound to one repeatable-read
// transaction. This is the serialization point the engine requires for
// edge writes and count-then-commit sequences.
func (r *Repository) withTx(ctx context.Context, fn func(*Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&Repository{pool: r.pool, db: tx})
	})
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// storeErr wraps unexpected driver failures; expected shapes (no rows,
// unique violations) are mapped by callers before reaching it.
func storeErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	var engineErr *shared.Error
	if errors.As(err, &engineErr) {
		return err
	}
	return shared.WrapStore(err, msg)
}

func encodeConstraint(c temporal.Constraint) ([]byte, error) {
	return json.Marshal(c)
}

func decodeConstraint(raw []byte) (temporal.Constraint, error) {
	var c temporal.Constraint
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, shared.WrapStore(err, "decode constraint")
	}
	return c, nil
}

func encodeStrings(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}
	return json.Marshal(list)
}

func decodeStrings(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, shared.WrapStore(err, "decode string list")
	}
	return list, nil
}
