package store

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Dialect captures the SQL differences between the supported engines.
type Dialect struct {
	Name       string
	DriverName string
	BindType   int
	Schema     []string
	// ContainsFormat renders a case-insensitive substring match of one column
	// against the single bind parameter "?".
	ContainsFormat string
}

// Rebind converts "?" placeholders to the dialect's bind style.
func (d Dialect) Rebind(query string) string {
	return sqlx.Rebind(d.BindType, query)
}

// Contains returns the predicate for a whitelisted column.
func (d Dialect) Contains(column string) string {
	return fmt.Sprintf(d.ContainsFormat, column)
}

// DialectFor resolves a configured driver name.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
}

// SQLite is the embedded engine. It has no regular expressions, so the email
// CHECK is a LIKE approximation and the exact rule lives in the validator.
var SQLite = Dialect{
	Name:           DialectSQLite,
	DriverName:     "sqlite3",
	BindType:       sqlx.QUESTION,
	ContainsFormat: "CAST(%s AS TEXT) LIKE ?",
	Schema: []string{`CREATE TABLE IF NOT EXISTS patients (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    registration_datetime TEXT NOT NULL,
    key_value_pairs TEXT CHECK (key_value_pairs IS NULL OR json_valid(key_value_pairs)),
    first_name TEXT NOT NULL CHECK (length(trim(first_name)) > 0),
    last_name TEXT,
    sex TEXT NOT NULL CHECK (sex IN ('male', 'female', 'other')),
    dob TEXT NOT NULL CHECK (date(dob) IS NOT NULL),
    phone_number TEXT NOT NULL CHECK (length(phone_number) BETWEEN 10 AND 15),
    email TEXT NOT NULL CHECK (email LIKE '%_@_%._%' AND email NOT LIKE '% %'),
    address_line1 TEXT NOT NULL,
    address_line2 TEXT,
    city TEXT NOT NULL,
    state TEXT NOT NULL,
    postal_code TEXT NOT NULL,
    reason TEXT NOT NULL,
    additional_notes TEXT,
    patient_history TEXT,
    photo BLOB CHECK (photo IS NULL OR length(photo) <= 5242880),
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`},
}

// Postgres mirrors the embedded schema with native types and the regex CHECK.
var Postgres = Dialect{
	Name:           DialectPostgres,
	DriverName:     "postgres",
	BindType:       sqlx.DOLLAR,
	ContainsFormat: "%s::text ILIKE ?",
	Schema: []string{`CREATE TABLE IF NOT EXISTS patients (
    id SERIAL PRIMARY KEY,
    registration_datetime TIMESTAMPTZ NOT NULL,
    key_value_pairs JSONB,
    first_name TEXT NOT NULL,
    last_name TEXT,
    sex TEXT NOT NULL CHECK (sex IN ('male', 'female', 'other')),
    dob DATE NOT NULL,
    phone_number VARCHAR(15) NOT NULL CHECK (LENGTH(phone_number) >= 10),
    email TEXT NOT NULL CHECK (
        email ~* '^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}$'
    ),
    address_line1 TEXT NOT NULL,
    address_line2 TEXT,
    city TEXT NOT NULL,
    state TEXT NOT NULL,
    postal_code TEXT NOT NULL,
    reason TEXT NOT NULL,
    additional_notes TEXT,
    patient_history TEXT,
    photo BYTEA CHECK (octet_length(photo) <= 5 * 1024 * 1024),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`},
}
