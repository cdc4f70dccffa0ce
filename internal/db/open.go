package db

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	sqliteBusyTimeoutMillis = 5000
	slowQueryThreshold      = 500 * time.Millisecond
	pgUniqueViolation       = "23505"
)

// Open connects to the database named by dsn. `file:` DSNs (and bare
// *.db paths) use SQLite; everything else is treated as PostgreSQL.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}
	cfg := &gorm.Config{
		TranslateError: true,
		// SQLite compares timestamps as text, so every stored time is UTC.
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger: logger.New(log.StandardLogger(), logger.Config{
			SlowThreshold:             slowQueryThreshold,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	if isSQLiteDSN(dsn) {
		conn, errOpen := gorm.Open(sqlite.Open(buildSQLiteDSN(dsn)), cfg)
		if errOpen != nil {
			return nil, fmt.Errorf("db: open sqlite: %w", errOpen)
		}
		sqlDB, errDB := conn.DB()
		if errDB != nil {
			return nil, fmt.Errorf("db: sqlite handle: %w", errDB)
		}
		// SQLite has a single writer.
		sqlDB.SetMaxOpenConns(1)
		return conn, nil
	}

	pgCfg, errParse := pgx.ParseConfig(dsn)
	if errParse != nil {
		return nil, fmt.Errorf("db: parse postgres dsn: %w", errParse)
	}
	sqlDB := stdlib.OpenDB(*pgCfg)
	conn, errOpen := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), cfg)
	if errOpen != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("db: open postgres: %w", errOpen)
	}
	return conn, nil
}

// Close releases the underlying connection pool.
func Close(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		return fmt.Errorf("db: close: %w", errDB)
	}
	return sqlDB.Close()
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func isSQLiteDSN(dsn string) bool {
	lowered := strings.ToLower(dsn)
	if strings.HasPrefix(lowered, "file:") {
		return true
	}
	return strings.HasSuffix(lowered, ".db") || strings.HasSuffix(lowered, ".sqlite")
}

// buildSQLiteDSN enables foreign keys and a busy timeout unless the DSN
// already sets pragmas.
func buildSQLiteDSN(dsn string) string {
	if !strings.HasPrefix(strings.ToLower(dsn), "file:") {
		dsn = "file:" + dsn
	}
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	pragmas := url.Values{}
	pragmas.Add("_pragma", "foreign_keys(1)")
	pragmas.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", sqliteBusyTimeoutMillis))
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + pragmas.Encode()
}
