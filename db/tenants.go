package db

// tenants.go is the credential vault: tenant webhook links are stored
// encrypted and only decrypted on resolution. Tenants have a one-way
// lifecycle, there is no update or delete path.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gradation/internal/secrets"
)

var (
	// ErrTenantExists reports a registration for an already-taken name.
	ErrTenantExists = errors.New("tenant name already registered")
	// ErrTenantNotFound reports resolution of an unknown tenant.
	ErrTenantNotFound = errors.New("tenant not found")
)

// Tenant is a resolved tenant with its webhook link decrypted.
type Tenant struct {
	ID   int64
	Name string
	Link string
}

// tenantRow is the stored shape of a tenant record.
type tenantRow struct {
	ID            int64  `db:"id"`
	Name          string `db:"name"`
	LinkEncrypted string `db:"link_encrypted"`
}

// TenantRegister stores a tenant name with its encrypted webhook link,
// returning the new tenant id. A name can only be registered once.
func (db *DB) TenantRegister(ctx context.Context, name, link string) (int64, error) {

	if name == "" || link == "" {
		return 0, fmt.Errorf("tenant name and link must not be empty")
	}

	encrypted, err := secrets.Encrypt(link, db.key)
	if err != nil {
		return 0, fmt.Errorf("could not encrypt tenant link: %w", err)
	}

	stmt := db.tenantInsertStmt
	namedArgs := map[string]any{
		"Name":          name,
		"LinkEncrypted": encrypted,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return 0, fmt.Errorf("tenant insert verify arguments error: %v", err)
	}

	result, err := stmt.ExecContext(ctx, namedArgs)
	if err != nil {
		db.logQuery("tenant insert", stmt, namedArgs, err)
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrTenantExists
		}
		return 0, fmt.Errorf("failed to register tenant %q: %w", name, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("could not read new tenant id: %w", err)
	}
	db.logger.Info(fmt.Sprintf("registered tenant %q with id %d", name, id))
	return id, nil
}

// TenantResolve fetches a tenant by name and decrypts its webhook link.
func (db *DB) TenantResolve(ctx context.Context, name string) (Tenant, error) {

	stmt := db.tenantGetStmt
	namedArgs := map[string]any{
		"Name": name,
	}
	if err := stmt.verifyArgs(namedArgs); err != nil {
		return Tenant{}, fmt.Errorf("tenant get verify arguments error: %v", err)
	}

	var row tenantRow
	err := stmt.GetContext(ctx, &row, namedArgs)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, ErrTenantNotFound
	}
	if err != nil {
		db.logQuery("tenant get", stmt, namedArgs, err)
		return Tenant{}, fmt.Errorf("failed to resolve tenant %q: %w", name, err)
	}

	link, err := secrets.Decrypt(row.LinkEncrypted, db.key)
	if err != nil {
		return Tenant{}, fmt.Errorf("could not decrypt link for tenant %q: %w", name, err)
	}

	return Tenant{ID: row.ID, Name: row.Name, Link: link}, nil
}
