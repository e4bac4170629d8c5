// Package db provides the database component of the gradation project: the
// tenant credential vault, the local mirror of each tenant's CRM entities and
// the per-tenant summary aggregates.
//
// The backend is sqlite so that a deployment is a single binary plus a single
// file. The database is not considered a simple storage layer: each query is
// held in an sql file in the `sql` directory, which can also be run on the
// sqlite command line. The use of external, runnable sql files as Go prepared
// statements is made possible through the parameterization scheme set out in
// parameterize.go.
//
// Entity persistence is insert-only: a record already held locally is never
// updated from the remote source. Only the derived summary table and the
// local on-call flag are written in place.
package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx" // helper library
	_ "modernc.org/sqlite"    // pure go sqlite driver
)

//go:embed sql
var embeddedSQL embed.FS

// parameterizedStmt describes an sql file parsed into an sqlx NamedStmt
// expecting the provided args.
type parameterizedStmt struct {
	sqlFile string
	args    []string
	*sqlx.NamedStmt
}

// verifyArgs determines if the number of arguments provided to a
// parameterizedStmt is as expected. This check could be more thorough.
func (p *parameterizedStmt) verifyArgs(args map[string]any) error {
	if got, want := len(args), len(p.args); got != want {
		return fmt.Errorf(
			"argument length to named statement from %q incorrect: got %d want %d",
			p.sqlFile,
			got,
			want,
		)
	}
	return nil
}

// DB provides a wrapper around the sql.DB connection for application-specific
// db operations.
type DB struct {
	*sqlx.DB
	logger *slog.Logger
	key    []byte // credential vault encryption key
	sqlFS  fs.FS

	// Prepared statements.
	tenantInsertStmt *parameterizedStmt
	tenantGetStmt    *parameterizedStmt

	contactExistsStmt *parameterizedStmt
	contactInsertStmt *parameterizedStmt
	contactsGetStmt   *parameterizedStmt
	contactsMaxIDStmt *parameterizedStmt

	companyExistsStmt      *parameterizedStmt
	companyInsertStmt      *parameterizedStmt
	companiesGetStmt       *parameterizedStmt
	companiesMaxIDStmt     *parameterizedStmt
	companyOnCallClearStmt *parameterizedStmt
	companyOnCallSetStmt   *parameterizedStmt

	dealExistsStmt *parameterizedStmt
	dealInsertStmt *parameterizedStmt
	dealsGetStmt   *parameterizedStmt
	dealsMaxIDStmt *parameterizedStmt

	summaryUpsertStmt *parameterizedStmt
	summaryGetStmt    *parameterizedStmt
}

// NewConnection creates a new connection to an SQLite database at the given
// path, initializes the schema and prepares the named statements. The key is
// the 32-byte credential vault encryption key.
func NewConnection(dbPath string, logger *slog.Logger, key []byte) (*DB, error) {

	// dataSource is the default setting for file-based databases.
	dataSource := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", dbPath)

	// for in-memory test databases, check the necessary cached setting is used.
	if strings.Contains(dbPath, "memory") {
		if !strings.Contains(dbPath, "cache=shared") {
			return nil, fmt.Errorf("in-memory connection %q should contain '?cache=shared'", dbPath)
		}
		dataSource = dbPath
	}
	dbDB, err := sql.Open("sqlite", dataSource)
	if err != nil {
		return nil, err
	}
	if err := dbDB.Ping(); err != nil {
		return nil, err
	}

	sqlFS, err := fs.Sub(embeddedSQL, "sql")
	if err != nil {
		return nil, fmt.Errorf("could not load embedded sql directory: %w", err)
	}

	// Wrap the standard library *sql.DB with sqlx.
	db := &DB{
		DB:     sqlx.NewDb(dbDB, "sqlite"),
		logger: logger,
		key:    key,
		sqlFS:  sqlFS,
	}

	// The schema is idempotent and must exist before statement preparation.
	if err := db.InitSchema("schema.sql"); err != nil {
		return nil, err
	}
	if err := db.prepareNamedStatements(); err != nil {
		return nil, fmt.Errorf("could not prepare named statements: %w", err)
	}

	return db, nil
}

// prepareNamedStatements prepares all the named statements for this database
// connection.
func (db *DB) prepareNamedStatements() error {

	stmts := []struct {
		target  **parameterizedStmt
		sqlFile string
	}{
		{&db.tenantInsertStmt, "tenant_insert.sql"},
		{&db.tenantGetStmt, "tenant_get.sql"},

		{&db.contactExistsStmt, "contact_exists.sql"},
		{&db.contactInsertStmt, "contact_insert.sql"},
		{&db.contactsGetStmt, "contacts.sql"},
		{&db.contactsMaxIDStmt, "contacts_max_id.sql"},

		{&db.companyExistsStmt, "company_exists.sql"},
		{&db.companyInsertStmt, "company_insert.sql"},
		{&db.companiesGetStmt, "companies.sql"},
		{&db.companiesMaxIDStmt, "companies_max_id.sql"},
		{&db.companyOnCallClearStmt, "company_on_call_clear.sql"},
		{&db.companyOnCallSetStmt, "company_on_call_set.sql"},

		{&db.dealExistsStmt, "deal_exists.sql"},
		{&db.dealInsertStmt, "deal_insert.sql"},
		{&db.dealsGetStmt, "deals.sql"},
		{&db.dealsMaxIDStmt, "deals_max_id.sql"},

		{&db.summaryUpsertStmt, "summary_upsert.sql"},
		{&db.summaryGetStmt, "summary_get.sql"},
	}

	for _, s := range stmts {
		var err error
		*s.target, err = db.prepNamedStatement(db.sqlFS, s.sqlFile)
		if err != nil {
			return fmt.Errorf("%s statement error: %w", s.sqlFile, err)
		}
	}
	return nil
}

// prepNamedStatement prepares the SQL queries.
func (db *DB) prepNamedStatement(fileFS fs.FS, filePath string) (*parameterizedStmt, error) {
	query, err := ParameterizeFile(fileFS, filePath)
	if err != nil {
		return nil, fmt.Errorf("could not parameterize %q: %w", filePath, err)
	}

	pQuery, err := db.PrepareNamed(string(query.Body))
	if err != nil {
		return nil, fmt.Errorf("could not prepare statement %q: %w", filePath, err)
	}
	return &parameterizedStmt{
		filePath,
		query.Parameters,
		pQuery,
	}, nil
}

// InitSchema creates the necessary tables if they don't already exist. The
// schema file can be run idempotently.
func (db *DB) InitSchema(filePath string) error {

	schema, err := fs.ReadFile(db.sqlFS, filePath)
	if err != nil {
		return fmt.Errorf("could not read schema file at %q: %w", filePath, err)
	}

	_, err = db.ExecContext(context.Background(), string(schema))
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// logQuery is for helping debug SQL issues.
func (db *DB) logQuery(name string, stmt *parameterizedStmt, args map[string]any, err error) {
	const debug = false
	if !debug {
		return
	}
	db.logger.Debug(fmt.Sprintf(
		"sql: %s\n---\nquery:\n%q\n---\nargs: %#v\nerror: %v\n",
		name,
		stmt.QueryString,
		args,
		err,
	))
}
