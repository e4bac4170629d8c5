package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"gradation/config"
	"gradation/db"
	"gradation/logger"
	"gradation/syncer"
	"gradation/web"
)

// App implements Applicator over the real configuration, store and sync
// engine.
type App struct{}

// setup loads configuration and opens the store and engine. The returned
// closer flushes the logger and closes the database.
func (a *App) setup(cfgPath string) (*config.Config, *slog.Logger, *db.DB, *syncer.Engine, func(), error) {

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("configuration error: %w", err)
	}

	log, closeLog, err := logger.New(cfg.ErrorLogPath)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("logger error: %w", err)
	}

	store, err := db.NewConnection(cfg.DatabasePath, log, cfg.EncryptionKey)
	if err != nil {
		closeLog()
		return nil, nil, nil, nil, nil, fmt.Errorf("database setup error: %w", err)
	}

	engine := syncer.NewEngine(store, nil, log)

	closer := func() {
		_ = store.Close()
		closeLog()
	}
	return cfg, log, store, engine, closer, nil
}

// Serve runs the web server until it fails or is shut down.
func (a *App) Serve(ctx context.Context, cfgPath string) error {

	cfg, log, store, engine, closer, err := a.setup(cfgPath)
	if err != nil {
		return err
	}
	defer closer()

	webApp, err := web.New(log, cfg, store, engine)
	if err != nil {
		return err
	}
	return webApp.StartServer()
}

// Register stores a tenant name with its webhook link.
func (a *App) Register(ctx context.Context, cfgPath, name, link string) error {

	_, log, store, _, closer, err := a.setup(cfgPath)
	if err != nil {
		return err
	}
	defer closer()

	id, err := store.TenantRegister(ctx, name, link)
	if err != nil {
		return err
	}
	log.Info(fmt.Sprintf("tenant %q registered with id %d", name, id))
	return nil
}

// Sync brings a tenant's local mirror up to date. A full sync fetches every
// record; the default syncs incrementally from the local id cursors.
func (a *App) Sync(ctx context.Context, cfgPath, tenantName string, full bool) error {

	_, log, store, engine, closer, err := a.setup(cfgPath)
	if err != nil {
		return err
	}
	defer closer()

	tenant, err := store.TenantResolve(ctx, tenantName)
	if err != nil {
		return err
	}

	if !full {
		results, err := engine.SyncIncremental(ctx, tenant)
		if err != nil {
			return err
		}
		log.Info(fmt.Sprintf(
			"synced tenant %q: %d contacts, %d companies, %d deals inserted",
			tenant.Name,
			results.Contacts.Inserted,
			results.Companies.Inserted,
			results.Deals.Inserted,
		))
		return nil
	}

	contacts, err := engine.SyncContacts(ctx, tenant)
	if err != nil {
		return err
	}
	companies, err := engine.SyncCompanies(ctx, tenant)
	if err != nil {
		return err
	}
	deals, err := engine.SyncDealsFromDate(ctx, tenant, "")
	if err != nil {
		return err
	}
	if _, err := engine.RefreshSummary(ctx, tenant); err != nil {
		return err
	}
	log.Info(fmt.Sprintf(
		"full sync of tenant %q: %d contacts, %d companies, %d deals inserted",
		tenant.Name,
		contacts.Inserted,
		companies.Inserted,
		deals.Inserted,
	))
	return nil
}

// Summary prints a tenant's summary aggregates as JSON.
func (a *App) Summary(ctx context.Context, cfgPath, tenantName string) error {

	_, _, store, engine, closer, err := a.setup(cfgPath)
	if err != nil {
		return err
	}
	defer closer()

	tenant, err := store.TenantResolve(ctx, tenantName)
	if err != nil {
		return err
	}
	summary, err := engine.RefreshSummary(ctx, tenant)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(summary)
}
