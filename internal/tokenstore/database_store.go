package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sqliteDialector "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("token_store.unsupported_dialect")

	errEmptyDatabaseURL = errors.New("token_store.empty_database_url")
	errMissingScheme    = errors.New("token_store.missing_scheme")
	errSQLiteEmptyPath  = errors.New("token_store.sqlite.empty_path")
)

// DatabaseStore persists the tokens of one session using GORM.
// Rows are keyed by a session id generated when the store opens, so a new
// store never sees tokens written by an earlier session. Close removes them.
type DatabaseStore struct {
	db          *gorm.DB
	driverLabel string
	sessionID   string

	mutex  sync.Mutex
	closed bool
}

type tokenRecord struct {
	SessionID     string `gorm:"column:session_id;primaryKey"`
	TokenKey      string `gorm:"column:token_key;primaryKey"`
	TokenValue    string `gorm:"column:token_value;not null"`
	UpdatedAtUnix int64  `gorm:"column:updated_at_unix;not null"`
}

func (tokenRecord) TableName() string {
	return "session_tokens"
}

// NewDatabaseStore opens the database behind databaseURL and starts a new session.
func NewDatabaseStore(ctx context.Context, databaseURL string) (*DatabaseStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("token_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("token_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&tokenRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("token_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseStore{
		db:          gormDB,
		driverLabel: driverLabel,
		sessionID:   uuid.NewString(),
	}, nil
}

// Driver exposes the selected database driver label.
func (store *DatabaseStore) Driver() string {
	return store.driverLabel
}

// SessionID identifies the rows owned by this store.
func (store *DatabaseStore) SessionID() string {
	return store.sessionID
}

// Set writes both tokens in one transaction.
func (store *DatabaseStore) Set(ctx context.Context, accessToken string, refreshToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return ErrEmptyAccessToken
	}
	if err := store.ensureOpen(); err != nil {
		return err
	}
	err := store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if upsertErr := store.upsert(tx, AccessTokenKey, accessToken); upsertErr != nil {
			return upsertErr
		}
		if refreshToken == "" {
			return store.remove(tx, RefreshTokenKey)
		}
		return store.upsert(tx, RefreshTokenKey, refreshToken)
	})
	if err != nil {
		return fmt.Errorf("token_store.set.%s: %w", store.driverLabel, err)
	}
	return nil
}

// SetAccess replaces the access token only.
func (store *DatabaseStore) SetAccess(ctx context.Context, accessToken string) error {
	if strings.TrimSpace(accessToken) == "" {
		return ErrEmptyAccessToken
	}
	if err := store.ensureOpen(); err != nil {
		return err
	}
	if err := store.upsert(store.db.WithContext(ctx), AccessTokenKey, accessToken); err != nil {
		return fmt.Errorf("token_store.set_access.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Load reads the tokens of the current session.
func (store *DatabaseStore) Load(ctx context.Context) (Tokens, error) {
	if err := store.ensureOpen(); err != nil {
		return Tokens{}, err
	}
	var records []tokenRecord
	err := store.db.WithContext(ctx).Where("session_id = ?", store.sessionID).Find(&records).Error
	if err != nil {
		return Tokens{}, fmt.Errorf("token_store.load.%s: %w", store.driverLabel, err)
	}
	var tokens Tokens
	for _, record := range records {
		switch record.TokenKey {
		case AccessTokenKey:
			tokens.Access = record.TokenValue
		case RefreshTokenKey:
			tokens.Refresh = record.TokenValue
		}
	}
	return tokens, nil
}

// Clear removes both tokens of the current session.
func (store *DatabaseStore) Clear(ctx context.Context) error {
	if err := store.ensureOpen(); err != nil {
		return err
	}
	if err := store.db.WithContext(ctx).Where("session_id = ?", store.sessionID).Delete(&tokenRecord{}).Error; err != nil {
		return fmt.Errorf("token_store.clear.%s: %w", store.driverLabel, err)
	}
	return nil
}

// Close ends the session: its rows are deleted and further calls fail with ErrStoreClosed.
func (store *DatabaseStore) Close(ctx context.Context) error {
	store.mutex.Lock()
	if store.closed {
		store.mutex.Unlock()
		return nil
	}
	store.closed = true
	store.mutex.Unlock()

	if err := store.db.WithContext(ctx).Where("session_id = ?", store.sessionID).Delete(&tokenRecord{}).Error; err != nil {
		return fmt.Errorf("token_store.close.%s: %w", store.driverLabel, err)
	}
	return nil
}

func (store *DatabaseStore) ensureOpen() error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.closed {
		return fmt.Errorf("token_store.%s: %w", store.driverLabel, ErrStoreClosed)
	}
	return nil
}

func (store *DatabaseStore) upsert(tx *gorm.DB, key string, value string) error {
	record := tokenRecord{
		SessionID:     store.sessionID,
		TokenKey:      key,
		TokenValue:    value,
		UpdatedAtUnix: time.Now().UTC().Unix(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "token_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"token_value", "updated_at_unix"}),
	}).Create(&record).Error
}

func (store *DatabaseStore) remove(tx *gorm.DB, key string) error {
	return tx.Where("session_id = ? AND token_key = ?", store.sessionID, key).Delete(&tokenRecord{}).Error
}

// resolveDialector accepts sqlite://<dsn> (a file path or
// file::memory:?cache=shared) and postgres:// or postgresql:// URLs.
func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	trimmed := strings.TrimSpace(databaseURL)
	scheme, rest, found := strings.Cut(trimmed, "://")
	if !found || scheme == "" {
		return nil, "", fmt.Errorf("token_store.dialect: %w", errMissingScheme)
	}
	switch strings.ToLower(scheme) {
	case "sqlite":
		if rest == "" || strings.HasPrefix(rest, "?") {
			return nil, "", fmt.Errorf("token_store.sqlite: %w", errSQLiteEmptyPath)
		}
		return sqliteDialector.Open(rest), "sqlite", nil
	case "postgres", "postgresql":
		return postgres.Open(trimmed), "postgres", nil
	default:
		return nil, "", fmt.Errorf("token_store.dialect.%s: %w", strings.ToLower(scheme), ErrUnsupportedDialect)
	}
}
