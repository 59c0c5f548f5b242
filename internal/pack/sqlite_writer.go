package pack

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const sqliteDriver = "sqlite"

// writeSQLite builds the database in a temp file beside the target and
// renames it over the old one, so a crash or failed build leaves the
// previous pack intact.
func writeSQLite(params Params) error {
	dir := filepath.Dir(params.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("pack: create output dir %s: %w", dir, err)
	}
	tmp := params.Path + ".tmp"
	_ = os.Remove(tmp)

	db, err := sql.Open(sqliteDriver, tmp)
	if err != nil {
		return fmt.Errorf("pack: open %s: %w", tmp, err)
	}
	if err := fillSQLite(db, params); err != nil {
		_ = db.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := db.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("pack: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, params.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("pack: replace %s: %w", params.Path, err)
	}
	params.Logger.Info("packed database written",
		"dialect", DialectSQLite,
		"path", params.Path,
		"fingerprint", params.Fingerprint)
	return nil
}

func fillSQLite(db *sql.DB, params Params) error {
	for _, stmt := range splitStatements(sqliteDDL) {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("pack: apply schema: %w", err)
		}
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
	if err := insertAll(tx, DialectSQLite, params); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("pack: commit: %w", err)
	}
	committed = true
	return nil
}
