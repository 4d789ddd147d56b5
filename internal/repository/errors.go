package repository

import (
	"errors"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrDuplicate reports a unique constraint violation on insert.
	ErrDuplicate = errors.New("duplicate record")
	// ErrPendingConflict reports that another pending link already holds the
	// generated code or the parent's target slot.
	ErrPendingConflict = errors.New("pending link conflict")
	// ErrPairLinked reports that the parent and scholar already share a verified link.
	ErrPairLinked = errors.New("parent and scholar already linked")
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}
