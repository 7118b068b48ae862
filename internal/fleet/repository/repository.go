// Package repository 提供数据持久化层实现
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jimyag/fleet/internal/fleet/repository/model"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite" // 纯 Go SQLite 驱动，不需要 CGO
)

// ErrVersionConflict 乐观并发冲突：另一个写入者先更新了该行
var ErrVersionConflict = errors.New("repository: version conflict")

// Repository 数据库仓库
type Repository struct {
	db *gorm.DB
}

// New 创建新的 Repository 实例
func New(dbPath string) (*Repository, error) {
	// 确保数据库目录存在
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// 连接数据库（使用纯 Go SQLite 驱动，不需要 CGO）
	// 编排器、监控和对账三个循环共享这一个库，写冲突必须由
	// 存储层排队：单连接把进程内访问串行化，busy_timeout 兜底
	// 锁等待，并发写入者才不会拿到裸的 SQLITE_BUSY
	dsn := dbPath + "?_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	// 使用 GORM 的 Dialector 包装已创建的 sql.DB 连接
	db, err := gorm.Open(sqlite.Dialector{
		DriverName: "sqlite",
		DSN:        dsn,
		Conn:       sqlDB,
	}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("open gorm database: %w", err)
	}

	// 自动迁移
	if err := db.AutoMigrate(
		&model.Instance{},
		&model.Infrastructure{},
		&model.Health{},
		&model.ProvisioningEvent{},
		&model.WorkerIdentity{},
		&model.QueueItem{},
		&model.Billing{},
		&model.InstanceConfig{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	// 创建索引（GORM 的 AutoMigrate 可能不会创建所有索引，手动确保）
	if err := createIndexes(db); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}

	return &Repository{db: db}, nil
}

// DB 返回 GORM 数据库实例（用于 Repository 实现）
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// WithContext 返回带上下文的数据库实例
func (r *Repository) WithContext(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx)
}

// Close 关闭数据库连接
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// createIndexes 创建额外的索引和唯一约束
func createIndexes(db *gorm.DB) error {
	// 实例拥有的记录每种最多一条
	uniquePerInstance := map[string]string{
		"idx_infrastructures_instance_unique":  "infrastructures",
		"idx_healths_instance_unique":          "healths",
		"idx_billings_instance_unique":         "billings",
		"idx_instance_configs_instance_unique": "instance_configs",
	}
	for idx, table := range uniquePerInstance {
		stmt := fmt.Sprintf(`
			CREATE UNIQUE INDEX IF NOT EXISTS %s
			ON %s(instance_id)
			WHERE deleted_at IS NULL
		`, idx, table)
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create unique index on %s: %w", table, err)
		}
	}

	// 一个存活实例最多绑定一个 worker identity，
	// 并发分配的最终仲裁者是这里的唯一约束，不是应用层锁
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_worker_identities_instance_unique
		ON worker_identities(instance_id)
		WHERE instance_id IS NOT NULL
	`).Error; err != nil {
		return fmt.Errorf("create unique index on worker_identities: %w", err)
	}

	// 同一实例最多一条未出队的队列记录
	if err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_queue_items_pending_unique
		ON queue_items(instance_id)
		WHERE dequeued_at IS NULL
	`).Error; err != nil {
		return fmt.Errorf("create unique index on queue_items: %w", err)
	}

	return nil
}
