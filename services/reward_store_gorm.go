// services/reward_store_gorm.go
package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"shop-reward-system/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// GormRewardStore talks to the shop's Postgres database.
type GormRewardStore struct {
	DB *gorm.DB
}

func NewGormRewardStore(db *gorm.DB) *GormRewardStore {
	return &GormRewardStore{DB: db}
}

// OpenGormRewardStore opens a pooled connection and checks it is reachable.
func OpenGormRewardStore(ctx context.Context, dsn string, maxConns int, logger *zap.Logger) (*GormRewardStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, classifyStoreError("open", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, classifyStoreError("open", err)
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)

	store := NewGormRewardStore(db)
	if err := store.Ping(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info("[STORE] connected to reward database", zap.Int("max_conns", maxConns))
	return store, nil
}

// AutoMigrate creates the shop tables. Only for local setups: the web shop owns the schema.
func (s *GormRewardStore) AutoMigrate() error {
	return s.DB.AutoMigrate(&models.WebUser{}, &models.PendingReward{})
}

func (s *GormRewardStore) LookupUserID(ctx context.Context, playerID uuid.UUID) (int64, error) {
	var user models.WebUser
	err := s.DB.WithContext(ctx).
		Select("id").
		Where("uuid = ?", models.CompactUUID(playerID)).
		Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, classifyStoreError("lookup user", err)
	}
	return user.ID, nil
}

func (s *GormRewardStore) HasPendingRewards(ctx context.Context, userID int64) (bool, error) {
	var ids []int64
	err := s.DB.WithContext(ctx).
		Model(&models.PendingReward{}).
		Where("user_id = ? AND status = ?", userID, models.RewardStatusPending).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return false, classifyStoreError("has pending", err)
	}
	return len(ids) > 0, nil
}

func (s *GormRewardStore) Begin(ctx context.Context) (RewardTx, error) {
	tx := s.DB.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, classifyStoreError("begin", tx.Error)
	}
	return &gormRewardTx{tx: tx}, nil
}

func (s *GormRewardStore) Ping(ctx context.Context) error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return classifyStoreError("ping", err)
	}
	return classifyStoreError("ping", sqlDB.PingContext(ctx))
}

func (s *GormRewardStore) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormRewardTx struct {
	tx *gorm.DB
}

func (t *gormRewardTx) FetchAndLockPending(ctx context.Context, userID int64) ([]models.PendingReward, error) {
	var rewards []models.PendingReward
	err := t.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("user_id = ? AND status = ?", userID, models.RewardStatusPending).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rewards).Error
	if err != nil {
		return nil, classifyStoreError("fetch pending", err)
	}
	return rewards, nil
}

func (t *gormRewardTx) UpdateStatuses(ctx context.Context, ids []int64, status models.RewardStatus) error {
	if len(ids) == 0 {
		return nil
	}
	err := t.tx.WithContext(ctx).
		Model(&models.PendingReward{}).
		Where("id IN ?", ids).
		Update("status", status).Error
	return classifyStoreError("update statuses", err)
}

func (t *gormRewardTx) Commit() error {
	err := t.tx.Commit().Error
	if errors.Is(err, sql.ErrTxDone) {
		return ErrTxDone
	}
	return classifyStoreError("commit", err)
}

func (t *gormRewardTx) Rollback() error {
	err := t.tx.Rollback().Error
	if errors.Is(err, sql.ErrTxDone) {
		return ErrTxDone
	}
	return classifyStoreError("rollback", err)
}

// classifyStoreError separates connectivity problems from everything else.
func classifyStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrStoreFailure) {
		return err
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connectErr) ||
		errors.As(err, &netErr) ||
		pgconn.Timeout(err) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreFailure, op, err)
}
