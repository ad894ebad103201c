package mysql

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"askdoc/internal/config"
	applog "askdoc/internal/platform/log"
)

const pingTimeout = 3 * time.Second

// New opens the message log database with the pool limits from cfg. gorm reports
// slow queries and errors through applog.
func New(ctx context.Context, dsn string, cfg config.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: newGormLogger(cfg),
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql failed: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get mysql sql db failed: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleMinutes) * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping mysql failed: %w", err)
	}

	applog.Info("mysql connected",
		"host", cfg.Host,
		"port", cfg.Port,
		"db", cfg.DB,
		"max_open_conns", cfg.MaxOpenConns,
	)
	return db, nil
}

func newGormLogger(cfg config.MySQLConfig) logger.Interface {
	return logger.New(gormWriter{}, logger.Config{
		SlowThreshold:             time.Duration(cfg.SlowQueryMillis) * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// gormWriter forwards gorm's printf-style log lines to applog.
type gormWriter struct{}

func (gormWriter) Printf(format string, args ...any) {
	applog.Warn(fmt.Sprintf(format, args...), "component", "gorm")
}
