package pack

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresDriver = "pgx"

var (
	openMu  sync.Mutex
	sqlOpen = sql.Open
)

// OverrideSQLOpen swaps the low-level database opener and returns a restore
// func. Tests use it to run the postgres writer against a stub driver.
func OverrideSQLOpen(open func(driverName, dsn string) (*sql.DB, error)) (restore func()) {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = open
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}

// writePostgres replaces the packed tables on a shared server. Drops, schema
// and inserts all run in one transaction, so concurrent readers switch from
// the old graph to the new one at commit.
func writePostgres(params Params) error {
	openMu.Lock()
	open := sqlOpen
	openMu.Unlock()

	db, err := open(postgresDriver, params.DSN)
	if err != nil {
		return fmt.Errorf("pack: open postgres: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("pack: ping postgres: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("pack: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	for _, table := range packTables {
		if _, err := tx.Exec(`DROP TABLE IF EXISTS ` + table + ` CASCADE`); err != nil {
			return fmt.Errorf("pack: drop %s: %w", table, err)
		}
	}
	for _, stmt := range splitStatements(postgresDDL) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("pack: apply schema: %w", err)
		}
	}
	if err := insertAll(tx, DialectPostgres, params); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pack: commit: %w", err)
	}
	committed = true

	params.Logger.Info("packed database written",
		"dialect", DialectPostgres,
		"fingerprint", params.Fingerprint)
	return nil
}
