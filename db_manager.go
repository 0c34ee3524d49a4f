package sqlbridge

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	mysql "github.com/go-sql-driver/mysql"
)

const showDatabasesQuery = "SHOW DATABASES"

// quoteIdentifier backtick-quotes a schema object name. Backticks in
// the name are doubled, which is the only escaping MySQL identifiers
// need.
func quoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// adminDSN derives a schema-less DSN from the configured target so
// management statements can run before the database exists, and
// returns the database name the configuration points at.
func adminDSN(cfg Config) (string, string, error) {
	name := cfg.Database
	if cfg.DSN != "" {
		mc, err := mysql.ParseDSN(cfg.DSN)
		if err != nil {
			// Opaque DSN for a non-MySQL driver; use it unchanged.
			return cfg.DSN, name, nil
		}
		if name == "" {
			name = mc.DBName
		}
		mc.DBName = ""
		return mc.FormatDSN(), name, nil
	}
	c := cfg
	c.Database = ""
	dsn, err := dsnFromConfig(c)
	return dsn, name, err
}

// EnsureDatabase creates the configured database when it does not
// exist yet. It connects without selecting a schema, so it works
// against a server where the database has never been created. Hosts
// call it once at first boot; SQLBRIDGE_AUTO_CREATE_DB wires it into
// NewPoolEnv.
func EnsureDatabase(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	dsn, name, err := adminDSN(cfg)
	if err != nil {
		return wrapError(KindConnection, "", err)
	}
	if name == "" {
		return wrapError(KindConnection, "", errors.New("no database name configured"))
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return wrapError(KindConnection, "", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	stmt := "CREATE DATABASE IF NOT EXISTS " + quoteIdentifier(name)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return wrapError(KindExecution, stmt, err)
	}
	return nil
}

// DropDatabase removes a database and everything in it. There is no
// confirmation and no undo.
func DropDatabase(ctx context.Context, cfg Config, name string) error {
	if name == "" {
		return wrapError(KindConnection, "", errors.New("no database name given"))
	}
	cfg = cfg.withDefaults()
	dsn, _, err := adminDSN(cfg)
	if err != nil {
		return wrapError(KindConnection, "", err)
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return wrapError(KindConnection, "", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	stmt := "DROP DATABASE IF EXISTS " + quoteIdentifier(name)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return wrapError(KindExecution, stmt, err)
	}
	return nil
}

// ListDatabases returns the database names visible to the configured
// account.
func ListDatabases(ctx context.Context, cfg Config) ([]string, error) {
	cfg = cfg.withDefaults()
	dsn, _, err := adminDSN(cfg)
	if err != nil {
		return nil, wrapError(KindConnection, "", err)
	}
	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, wrapError(KindConnection, "", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	rows, err := db.QueryContext(ctx, showDatabasesQuery)
	if err != nil {
		return nil, wrapError(KindExecution, showDatabasesQuery, err)
	}
	names, err := scanStrings(rows)
	if err != nil {
		return nil, wrapError(KindExecution, showDatabasesQuery, err)
	}
	return names, nil
}

// Databases lists the database names visible through this pool's
// account, using a pooled slot.
func (p *Pool) Databases(ctx context.Context) ([]string, error) {
	if p == nil {
		return nil, wrapError(KindConnection, "", ErrPoolClosed)
	}
	pc, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := pc.inner.QueryContext(ctx, showDatabasesQuery)
	if err != nil {
		p.release(ctx, pc, err)
		return nil, wrapError(KindExecution, showDatabasesQuery, err)
	}
	names, err := scanStrings(rows)
	p.release(ctx, pc, err)
	if err != nil {
		return nil, wrapError(KindExecution, showDatabasesQuery, err)
	}
	return names, nil
}

func scanStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
