package database

import "database/sql"

// Queryable is the subset of the sqlx API common to both *sqlx.DB and
// *sqlx.Tx; stores accept this interface so that callers can decide
// whether an operation participates in a wider transaction.
type Queryable interface {
	Exec(query string, args ...any) (sql.Result, error)
	Get(dest any, query string, args ...any) error
	Select(dest any, query string, args ...any) error
	NamedExec(query string, arg any) (sql.Result, error)
	Rebind(query string) string
}
