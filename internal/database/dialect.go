package database

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between supported engines
type Dialect interface {
	Name() Driver
	// DriverName is the name registered with database/sql
	DriverName() string
	QuoteIdent(name string) string
	// Placeholder returns the bind marker for the n-th (1-based) argument
	Placeholder(n int) string
	// ConstraintToggle returns the session statements that suspend and restore
	// foreign key enforcement. ok is false when the engine has no such switch.
	ConstraintToggle() (disable, enable string, ok bool)
}

// DialectFor returns the dialect for a driver
func DialectFor(driver Driver) (Dialect, error) {
	switch driver {
	case DriverMySQL, "":
		return mysqlDialect{}, nil
	case DriverPostgres:
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

type mysqlDialect struct{}

func (mysqlDialect) Name() Driver       { return DriverMySQL }
func (mysqlDialect) DriverName() string { return "mysql" }

func (mysqlDialect) QuoteIdent(name string) string {
	return quoteParts(name, "`")
}

func (mysqlDialect) Placeholder(int) string { return "?" }

func (mysqlDialect) ConstraintToggle() (string, string, bool) {
	return "SET FOREIGN_KEY_CHECKS = 0", "SET FOREIGN_KEY_CHECKS = 1", true
}

type postgresDialect struct{}

func (postgresDialect) Name() Driver       { return DriverPostgres }
func (postgresDialect) DriverName() string { return "pgx" }

func (postgresDialect) QuoteIdent(name string) string {
	return quoteParts(name, `"`)
}

func (postgresDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

// Replica mode skips FK triggers for the session; it needs superuser, and the
// caller degrades when the statement is rejected.
func (postgresDialect) ConstraintToggle() (string, string, bool) {
	return "SET session_replication_role = replica", "SET session_replication_role = DEFAULT", true
}

// quoteParts quotes each dot-separated part of an identifier, doubling embedded quotes
func quoteParts(name, quote string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = quote + strings.ReplaceAll(p, quote, quote+quote) + quote
	}
	return strings.Join(parts, ".")
}
