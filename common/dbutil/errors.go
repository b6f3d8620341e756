package dbutil

import (
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/Aidin1998/tickex/pkg/errors"
)

const (
	DuplicateKeyErrorCode         = "23505"
	SerializationFailureErrorCode = "40001"
	DeadlockDetectedErrorCode     = "40P01"
)

// WrapError maps gorm errors onto catalogue errors. notFound and conflict are
// the codes the caller wants for a missing row and a unique-key clash.
func WrapError(err error, notFound, conflict *errors.Error) error {
	var pgErr *pgconn.PgError

	if err == nil {
		return nil
	} else if _, ok := err.(*errors.Error); ok {
		return err
	} else if errors.Is(err, gorm.ErrRecordNotFound) && notFound != nil {
		return notFound.Wrap(err)
	} else if errors.Is(err, gorm.ErrDuplicatedKey) && conflict != nil {
		return conflict.Wrap(err)
	} else if errors.As(err, &pgErr) && pgErr.Code == DuplicateKeyErrorCode && conflict != nil {
		return conflict.Wrap(err)
	}

	return err
}

// IsRetryable reports whether err is a Postgres abort that a fresh attempt of
// the same transaction can succeed on.
func IsRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == SerializationFailureErrorCode || pgErr.Code == DeadlockDetectedErrorCode
}
