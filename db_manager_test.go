package sqlbridge

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	mysql "github.com/go-sql-driver/mysql"
)

func TestQuoteIdentifier(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"players", "`players`"},
		{"weird`db", "`weird``db`"},
		{"a``b", "`a````b`"},
	}
	for _, tc := range cases {
		if got := quoteIdentifier(tc.in); got != tc.want {
			t.Fatalf("quoteIdentifier(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestAdminDSN(t *testing.T) {
	t.Run("mysql dsn drops schema", func(t *testing.T) {
		dsn, name, err := adminDSN(Config{DSN: "root:pw@tcp(db.internal:3306)/worlddb?parseTime=true"})
		if err != nil {
			t.Fatalf("adminDSN: %v", err)
		}
		if name != "worlddb" {
			t.Fatalf("name = %q, want worlddb", name)
		}
		mc, err := mysql.ParseDSN(dsn)
		if err != nil {
			t.Fatalf("parse result %q: %v", dsn, err)
		}
		if mc.DBName != "" {
			t.Fatalf("admin DSN still selects schema %q", mc.DBName)
		}
		if mc.Addr != "db.internal:3306" {
			t.Fatalf("addr = %q", mc.Addr)
		}
		if !mc.ParseTime {
			t.Fatal("parseTime param lost")
		}
	})

	t.Run("explicit database wins over dsn", func(t *testing.T) {
		_, name, err := adminDSN(Config{
			DSN:      "root:pw@tcp(db.internal:3306)/worlddb",
			Database: "otherdb",
		})
		if err != nil {
			t.Fatalf("adminDSN: %v", err)
		}
		if name != "otherdb" {
			t.Fatalf("name = %q, want otherdb", name)
		}
	})

	t.Run("field config", func(t *testing.T) {
		dsn, name, err := adminDSN(Config{
			Host:     "127.0.0.1",
			Port:     3306,
			Username: "root",
			Password: "pw",
			Database: "gamedb",
		})
		if err != nil {
			t.Fatalf("adminDSN: %v", err)
		}
		if name != "gamedb" {
			t.Fatalf("name = %q, want gamedb", name)
		}
		if want := "root:pw@tcp(127.0.0.1:3306)/"; dsn != want {
			t.Fatalf("dsn = %q, want %q", dsn, want)
		}
	})

	t.Run("opaque dsn unchanged", func(t *testing.T) {
		dsn, name, err := adminDSN(Config{Driver: "sqlmock", DSN: "sqlbridge_admin_opaque", Database: "gamedb"})
		if err != nil {
			t.Fatalf("adminDSN: %v", err)
		}
		if dsn != "sqlbridge_admin_opaque" {
			t.Fatalf("dsn = %q", dsn)
		}
		if name != "gamedb" {
			t.Fatalf("name = %q, want gamedb", name)
		}
	})
}

func TestEnsureDatabase(t *testing.T) {
	db, mock, err := sqlmock.NewWithDSN("sqlbridge_admin_ensure")
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE DATABASE IF NOT EXISTS `gamedb`")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cfg := Config{Driver: "sqlmock", DSN: "sqlbridge_admin_ensure", Database: "gamedb"}
	if err := EnsureDatabase(context.Background(), cfg); err != nil {
		t.Fatalf("EnsureDatabase: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureDatabase_NoName(t *testing.T) {
	cfg := Config{Driver: "sqlmock", DSN: "sqlbridge_admin_unnamed"}
	err := EnsureDatabase(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected error when no database name is configured")
	}
	if !IsKind(err, KindConnection) {
		t.Fatalf("want connection error, got %v", err)
	}
}

func TestDropDatabase_QuotesIdentifier(t *testing.T) {
	db, mock, err := sqlmock.NewWithDSN("sqlbridge_admin_drop")
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DROP DATABASE IF EXISTS `weird``db`")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	cfg := Config{Driver: "sqlmock", DSN: "sqlbridge_admin_drop"}
	if err := DropDatabase(context.Background(), cfg, "weird`db"); err != nil {
		t.Fatalf("DropDatabase: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListDatabases(t *testing.T) {
	db, mock, err := sqlmock.NewWithDSN("sqlbridge_admin_list")
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta(showDatabasesQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"Database"}).
			AddRow("information_schema").
			AddRow("gamedb"))

	names, err := ListDatabases(context.Background(), Config{Driver: "sqlmock", DSN: "sqlbridge_admin_list"})
	if err != nil {
		t.Fatalf("ListDatabases: %v", err)
	}
	if len(names) != 2 || names[0] != "information_schema" || names[1] != "gamedb" {
		t.Fatalf("names = %v", names)
	}
}

func TestPool_Databases(t *testing.T) {
	ctx := context.Background()
	p, mock, err := NewMockPool(ctx)
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer p.Close()

	mock.ExpectQuery(regexp.QuoteMeta(showDatabasesQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"Database"}).
			AddRow("gamedb").
			AddRow("battle_logs"))

	names, err := p.Databases(ctx)
	if err != nil {
		t.Fatalf("Databases: %v", err)
	}
	if len(names) != 2 || names[0] != "gamedb" || names[1] != "battle_logs" {
		t.Fatalf("names = %v", names)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNewPoolEnv_AutoCreateDatabase(t *testing.T) {
	db, mock, err := sqlmock.NewWithDSN("sqlbridge_env_autocreate")
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	t.Setenv(EnvDriver, "sqlmock")
	t.Setenv(EnvDSN, "sqlbridge_env_autocreate")
	t.Setenv(EnvDatabase, "bootworld")
	t.Setenv(EnvPoolSize, "1")
	t.Setenv(EnvAutoCreate, "true")

	mock.ExpectExec(regexp.QuoteMeta("CREATE DATABASE IF NOT EXISTS `bootworld`")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	p, err := NewPoolEnv(context.Background())
	if err != nil {
		t.Fatalf("NewPoolEnv: %v", err)
	}
	defer p.Close()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestNewPoolEnv_AutoCreateRejectsBadBoolean(t *testing.T) {
	t.Setenv(EnvDriver, "sqlmock")
	t.Setenv(EnvDSN, "sqlbridge_env_autocreate_bad")
	t.Setenv(EnvAutoCreate, "sometimes")

	if _, err := NewPoolEnv(context.Background()); err == nil {
		t.Fatal("expected error for malformed boolean")
	}
}
