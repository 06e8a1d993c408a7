package colbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	dbTypeSQLite   = "sqlite"
	dbTypePostgres = "postgres"
)

var (
	sqliteMaxOpenConns    = 1
	sqliteMaxIdleConns    = 1
	sqliteMaxConnLifetime = 5 * time.Minute
	sqliteExecPragma      = []string{
		"pragma journal_mode=WAL;",
		"pragma synchronous = normal;",
		"pragma temp_store = memory;",
	}
)

// RegistryDocument is a named, serialized Registry
type RegistryDocument struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	Name      string `gorm:"uniqueIndex;not null" json:"name"`
	Content   string `gorm:"type:text" json:"content"`
	CreatedAt int64  `gorm:"autoCreateTime:milli" json:"created_at,omitempty"`
	UpdatedAt int64  `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

// DatabaseBackend stores the registry document as a single row, keyed
// by name. Writes are serialized for sqlite.
type DatabaseBackend struct {
	db                     *gorm.DB
	name                   string
	mu                     sync.Mutex
	enableConcurrentWrites bool
}

func NewDatabaseBackend(db *gorm.DB, databaseType string, name string) *DatabaseBackend {
	if name == "" {
		name = DefaultDatabaseDocumentName
	}
	return &DatabaseBackend{
		db:                     db,
		name:                   name,
		enableConcurrentWrites: databaseType == dbTypePostgres,
	}
}

func (*DatabaseBackend) Name() string {
	return storeBackendDatabase
}

func (d *DatabaseBackend) lock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Lock()
}

func (d *DatabaseBackend) unlock() {
	if d.enableConcurrentWrites {
		return
	}
	d.mu.Unlock()
}

func (d *DatabaseBackend) Get(ctx context.Context) ([]byte, error) {
	var doc RegistryDocument
	err := d.db.WithContext(ctx).Where("name = ?", d.name).Take(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error getting document %q: %w", d.name, err)
	}
	return []byte(doc.Content), nil
}

func (d *DatabaseBackend) Put(ctx context.Context, data []byte) error {
	d.lock()
	defer d.unlock()

	doc := RegistryDocument{Name: d.name, Content: string(data)}
	err := d.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"content", "updated_at"}),
		},
	).Create(&doc).Error
	if err != nil {
		return fmt.Errorf("error saving document %q: %w", d.name, err)
	}
	return nil
}

// Close closes the underlying connection pool
func (d *DatabaseBackend) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateDB opens the configured database, applies sqlite connection
// settings and migrates the schema
func CreateDB(ctx context.Context, cfg DatabaseConfig, logger *slog.Logger) (*gorm.DB, error) {
	var level slog.Leveler = DefaultDatabaseLogLevel
	if cfg.LogLevel != nil {
		level = cfg.LogLevel
	}
	handler := newLogHandler(level)
	gormLogger := newGORMLogger(handler, cfg.SlowThreshold)

	if logger == nil {
		logger = slog.New(handler)
	}
	logger.InfoContext(
		ctx,
		"initializing database",
		"database_type", cfg.Type,
	)

	db, err := getDB(cfg.Type, cfg.DSN, gormLogger)
	if err != nil {
		return nil, err
	}

	if cfg.Type == dbTypeSQLite {
		sqlDB, dbErr := db.DB()
		if dbErr != nil {
			return nil, fmt.Errorf("error getting database connection: %w", dbErr)
		}
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)

		pragmaErrors := make([]error, 0, len(sqliteExecPragma))
		for _, p := range sqliteExecPragma {
			pragmaErrors = append(pragmaErrors, db.WithContext(ctx).Exec(p).Error)
		}
		if pragmaErr := errors.Join(pragmaErrors...); pragmaErr != nil {
			return nil, pragmaErr
		}
	}

	logger.DebugContext(ctx, "migrating database")
	txn := db.WithContext(ctx).Begin()
	if err = txn.Migrator().AutoMigrate(&RegistryDocument{}); err != nil {
		txn.Rollback()
		return nil, fmt.Errorf("error migrating database: %w", err)
	}
	if err = txn.Commit().Error; err != nil {
		logger.ErrorContext(ctx, "error committing migration", tint.Err(err))
		return nil, err
	}
	return db, nil
}

// getDB opens a gorm connection. For sqlite, dsn is a file path, and
// its parent directory is created if needed.
func getDB(
	databaseType string,
	dsn string,
	gormLogger *gormStructuredLogger,
) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormLogger,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	switch databaseType {
	case dbTypeSQLite:
		parentDir := filepath.Dir(dsn)
		if parentDir != "" {
			if err := os.MkdirAll(parentDir, 0o755); err != nil {
				if !errors.Is(err, os.ErrExist) {
					return nil, err
				}
			}
		}
		return gorm.Open(sqlite.Open(dsn), gormCfg)
	case dbTypePostgres:
		return gorm.Open(postgres.Open(dsn), gormCfg)
	default:
		return nil, fmt.Errorf(
			"unsupported database type: %s (must be %q or %q)",
			databaseType, dbTypeSQLite, dbTypePostgres,
		)
	}
}
