package pack

import (
	"bufio"
	_ "embed"
	"strings"
)

// The two dialects share one table layout; only column types differ.
// Statements are separated by a trailing semicolon on their own line so the
// files stay loadable by plain psql / sqlite3 as well.

//go:embed sqlite.sql
var sqliteDDL string

//go:embed postgres.sql
var postgresDDL string

// ddlFor returns the embedded schema for the dialect.
func ddlFor(dialect Dialect) string {
	if dialect == DialectPostgres {
		return postgresDDL
	}
	return sqliteDDL
}

// splitStatements breaks an embedded DDL bundle into individual statements
// that database/sql can execute one at a time. Comment-only and blank lines
// are dropped; a statement ends at a line with a trailing semicolon.
func splitStatements(bundle string) []string {
	var (
		stmts []string
		buf   []string
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		stmt := strings.TrimSpace(strings.Join(buf, "\n"))
		buf = buf[:0]
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	sc := bufio.NewScanner(strings.NewReader(bundle))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		buf = append(buf, line)
		if strings.HasSuffix(trimmed, ";") {
			flush()
		}
	}
	flush()
	return stmts
}
