package shortener

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolationCode  = "23505"
	codeUniqueConstraint = "links_code_unique"
)

func isCodeUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolationCode &&
		pgErr.ConstraintName == codeUniqueConstraint
}
