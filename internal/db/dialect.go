package db

import (
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Dialect identifiers supported by the database layer.
const (
	// DialectPostgres is the PostgreSQL dialect name.
	DialectPostgres = "postgres"
	// DialectSQLite is the SQLite dialect name.
	DialectSQLite = "sqlite"
)

// Dialect holds the SQL fragments that differ between the supported backends.
// Statements are otherwise shared and use gorm's "?" placeholders.
type Dialect interface {
	// Name returns the dialect identifier.
	Name() string
	// CutoffExpr returns an expression for "now minus the bound interval".
	CutoffExpr() string
	// PeriodArg converts an interval literal such as "5 days" into the value bound to CutoffExpr.
	PeriodArg(period string) string
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string       { return DialectSQLite }
func (sqliteDialect) CutoffExpr() string { return "datetime('now', ?)" }
func (sqliteDialect) PeriodArg(period string) string {
	return "-" + strings.TrimSpace(period)
}

type postgresDialect struct{}

func (postgresDialect) Name() string       { return DialectPostgres }
func (postgresDialect) CutoffExpr() string { return "NOW() - CAST(? AS INTERVAL)" }
func (postgresDialect) PeriodArg(period string) string {
	return strings.TrimSpace(period)
}

// DialectFor returns the adapter for the dialect name.
func DialectFor(name string) (Dialect, error) {
	switch name {
	case DialectSQLite:
		return sqliteDialect{}, nil
	case DialectPostgres:
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("db: unsupported dialect: %q", name)
	}
}

// DialectName returns the active database dialect name.
func DialectName(conn *gorm.DB) string {
	if conn == nil || conn.Dialector == nil {
		return ""
	}
	return conn.Dialector.Name()
}

// DialectOf returns the adapter for an open connection.
func DialectOf(conn *gorm.DB) (Dialect, error) {
	return DialectFor(DialectName(conn))
}
