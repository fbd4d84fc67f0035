// Package pgstore holds the Postgres plumbing shared by every durable projection:
// schema selection, identifier quoting and the embedded DDL.
//
// Stores never own the pgx pool. The caller opens it once and closes it after
// every store user (including websocket teardown) has finished.
package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSchema is used when no schema option is given.
const DefaultSchema = "protoimsg"

//go:embed schema.sql
var schemaSQL string

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// ValidIdent reports whether s is a plain, unquoted-safe Postgres identifier.
func ValidIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

// Ident returns the quoted schema-qualified table name.
func Ident(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

// CheckSchema trims and validates a schema name.
func CheckSchema(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return "", errors.New("pgstore: empty schema")
	}
	if !ValidIdent(schema) {
		return "", errors.New("pgstore: invalid schema identifier")
	}
	return schema, nil
}

// Migrate creates the schema and every table used by the Postgres stores.
// Statements are idempotent so it is safe to run on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if pool == nil {
		return errors.New("pgstore: nil pool")
	}
	schema, err := CheckSchema(schema)
	if err != nil {
		return err
	}
	ddl := strings.ReplaceAll(schemaSQL, "{{schema}}", pgx.Identifier{schema}.Sanitize())
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("pgstore: migrate %s: %w", schema, err)
	}
	return nil
}
