package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type sessionRow struct {
	UserID         int64     `gorm:"primaryKey;autoIncrement:false"`
	Data           string    `gorm:"type:text;not null"`
	LastActivityAt time.Time `gorm:"index;not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

func (sessionRow) TableName() string { return "sessions" }

func (r sessionRow) record() Record {
	return Record{
		UserID:         r.UserID,
		Data:           []byte(r.Data),
		LastActivityAt: r.LastActivityAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// PostgresStore implements Repository on PostgreSQL through GORM.
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgres connects to dsn and migrates the sessions table.
func NewPostgres(dsn string) (Repository, error) {
	if dsn == "" {
		return nil, errors.New("postgres store requires a DSN")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newGormStore(db)
}

func newGormStore(db *gorm.DB) (*PostgresStore, error) {
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("migrate sessions: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Upsert creates or replaces the snapshot for a user.
func (s *PostgresStore) Upsert(ctx context.Context, userID int64, data []byte, lastActivityAt time.Time) error {
	row := sessionRow{
		UserID:         userID,
		Data:           string(data),
		LastActivityAt: lastActivityAt.UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "last_activity_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Get retrieves the record for a user.
func (s *PostgresStore) Get(ctx context.Context, userID int64) (*Record, error) {
	var row sessionRow
	err := s.db.WithContext(ctx).First(&row, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	rec := row.record()
	return &rec, nil
}

// ScanAll returns every stored record.
func (s *PostgresStore) ScanAll(ctx context.Context) ([]Record, error) {
	var rows []sessionRow
	if err := s.db.WithContext(ctx).Order("user_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	records := make([]Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, r.record())
	}
	return records, nil
}

// DeleteOlderThan removes sessions inactive for longer than age.
func (s *PostgresStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	threshold := time.Now().Add(-age).UTC()
	result := s.db.WithContext(ctx).Where("last_activity_at < ?", threshold).Delete(&sessionRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("delete old sessions: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	return sqlDB.Close()
}
