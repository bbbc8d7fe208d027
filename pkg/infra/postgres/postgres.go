package postgres_wrapper

import (
	"log"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	_ "github.com/lib/pq" // nolint
	"go.uber.org/zap"
	pg "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/dbresolver"
)

type PostgresConfig struct {
	DataSource       string          `yaml:"data_source"`
	MaxOpenConns     int             `yaml:"max_open_conns"`
	MaxIdleConns     int             `yaml:"max_idle_conns"`
	ConnMaxLifeMs    int64           `yaml:"conn_max_life_time_ms"`
	MigrationConnURL string          `yaml:"migration_conn_url"`
	ReplicaSources   []string        `yaml:"replica_sources"`
	LogLevel         logger.LogLevel `yaml:"log_level"`
}

// InitPostgres opens the order store. Replicas, when configured, serve reads
// through dbresolver; writes always go to the primary.
func InitPostgres(cfg *PostgresConfig) (*gorm.DB, error) {
	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold: time.Second,
			LogLevel:      cfg.LogLevel,
		},
	)

	db, err := gorm.Open(pg.Open(cfg.DataSource), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		zap.S().Errorw("open postgres failed", "err", err)
		return nil, err
	}

	if len(cfg.ReplicaSources) > 0 {
		var replicas []gorm.Dialector
		for _, source := range cfg.ReplicaSources {
			replicas = append(replicas, pg.Open(source))
		}
		err := db.Use(dbresolver.Register(dbresolver.Config{
			Replicas: replicas,
			Policy:   dbresolver.RandomPolicy{},
		}))
		if err != nil {
			zap.S().Errorw("register postgres replicas failed", "err", err)
			return nil, err
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifeMs > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifeMs) * time.Millisecond)
	}

	return db, nil
}

// InitPostgresWithBackoff retries the connection with exponential backoff
// until the database accepts it.
func InitPostgresWithBackoff(cfg *PostgresConfig) (*gorm.DB, error) {
	var db *gorm.DB
	boff := backoff.NewExponentialBackOff()
	err := backoff.Retry(func() error {
		var err error
		db, err = InitPostgres(cfg)
		if err != nil {
			zap.S().Warnw("connect postgres failed, retrying", "err", err)
		}
		return err
	}, boff)
	if err != nil {
		return nil, err
	}
	return db, nil
}
