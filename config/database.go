package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cardlink/internal/entity"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// OpenDatabase connects to postgres or sqlite depending on the DSN and
// migrates the schema.
func OpenDatabase(dsn string, log logrus.FieldLogger) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}

	gormConfig := &gorm.Config{
		PrepareStmt: false,
		Logger: gormlogger.New(printfLogger{log: log}, gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	var (
		db  *gorm.DB
		err error
	)
	switch detectDialect(trimmed) {
	case dialectPostgres:
		db, err = gorm.Open(postgres.New(postgres.Config{
			DSN:                  trimmed,
			PreferSimpleProtocol: true,
		}), gormConfig)
	default:
		db, err = gorm.Open(sqlite.Open(sqliteDSN(trimmed)), gormConfig)
	}
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db: open sql: %w", err)
	}
	if isMemoryDSN(trimmed) {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(25)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}

	if err := Migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&entity.Account{}, &entity.ActivityLog{}); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}

func detectDialect(dsn string) string {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return dialectPostgres
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "sslmode="):
		return dialectPostgres
	default:
		return dialectSQLite
	}
}

// sqliteDSN strips a sqlite:// scheme and turns on foreign keys.
func sqliteDSN(dsn string) string {
	for _, prefix := range []string{"sqlite3://", "sqlite://"} {
		if strings.HasPrefix(strings.ToLower(dsn), prefix) {
			dsn = dsn[len(prefix):]
			break
		}
	}
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	separator := "?"
	if strings.Contains(dsn, "?") {
		separator = "&"
	}
	return dsn + separator + "_pragma=foreign_keys(1)"
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

type printfLogger struct {
	log logrus.FieldLogger
}

func (l printfLogger) Printf(format string, args ...any) {
	if l.log == nil {
		return
	}
	l.log.WithField("component", "gorm").Warnf(format, args...)
}
