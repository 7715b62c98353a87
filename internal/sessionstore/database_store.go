package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("session_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("session_store.empty_database_url")
	errSQLiteEmptyPath     = errors.New("session_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("session_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("session_store.unsupported_no_scheme")
)

// DatabaseStore persists session blobs using GORM.
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
	now         func() time.Time
}

// Driver exposes the selected database driver label.
func (store *DatabaseStore) Driver() string {
	return store.driverLabel
}

type sessionRecord struct {
	AccountName string `gorm:"column:account_name;primaryKey"`
	Blob        string `gorm:"column:blob;not null"`
	UpdatedUnix int64  `gorm:"column:updated_unix;not null"`
}

func (sessionRecord) TableName() string {
	return "sessions"
}

// NewDatabaseStore opens databaseURL (postgres:// or sqlite://) and migrates the sessions table.
func NewDatabaseStore(ctx context.Context, databaseURL string) (*DatabaseStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("session_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("session_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&sessionRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("session_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStore{
		db:          gormDB,
		driverLabel: driverLabel,
		now:         time.Now,
	}, nil
}

// Load returns the blob stored for accountName.
func (store *DatabaseStore) Load(ctx context.Context, accountName string) ([]byte, error) {
	normalized, err := normalizeAccount(accountName)
	if err != nil {
		return nil, fmt.Errorf("session_store.load.%s: %w", store.driverLabel, err)
	}
	var record sessionRecord
	takeErr := store.db.WithContext(ctx).Where("account_name = ?", normalized).Take(&record).Error
	if takeErr != nil {
		if errors.Is(takeErr, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("session_store.load.%s: %w", store.driverLabel, ErrNotFound)
		}
		return nil, fmt.Errorf("session_store.load.%s: %w", store.driverLabel, takeErr)
	}
	return []byte(record.Blob), nil
}

// Save inserts or replaces the blob for accountName.
func (store *DatabaseStore) Save(ctx context.Context, accountName string, blob []byte) error {
	normalized, err := normalizeAccount(accountName)
	if err != nil {
		return fmt.Errorf("session_store.save.%s: %w", store.driverLabel, err)
	}
	if len(blob) == 0 {
		return fmt.Errorf("session_store.save.%s: %w", store.driverLabel, ErrEmptyBlob)
	}
	record := sessionRecord{
		AccountName: normalized,
		Blob:        string(blob),
		UpdatedUnix: store.now().UTC().Unix(),
	}
	saveErr := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"blob", "updated_unix"}),
	}).Create(&record).Error
	if saveErr != nil {
		return fmt.Errorf("session_store.save.%s: %w", store.driverLabel, saveErr)
	}
	return nil
}

// Delete removes the blob for accountName. Deleting a missing blob is not an error.
func (store *DatabaseStore) Delete(ctx context.Context, accountName string) error {
	normalized, err := normalizeAccount(accountName)
	if err != nil {
		return fmt.Errorf("session_store.delete.%s: %w", store.driverLabel, err)
	}
	if deleteErr := store.db.WithContext(ctx).Where("account_name = ?", normalized).Delete(&sessionRecord{}).Error; deleteErr != nil {
		return fmt.Errorf("session_store.delete.%s: %w", store.driverLabel, deleteErr)
	}
	return nil
}

// Close releases the underlying connection pool.
func (store *DatabaseStore) Close() error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return fmt.Errorf("session_store.close.%s: %w", store.driverLabel, err)
	}
	if closeErr := sqlDB.Close(); closeErr != nil {
		return fmt.Errorf("session_store.close.%s: %w", store.driverLabel, closeErr)
	}
	return nil
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("session_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("session_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("session_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("session_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
