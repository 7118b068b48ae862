// Package dbadmin 提供租户数据库的置备客户端
// 通过管理连接在共享数据库服务器上创建/删除每实例的数据库和账号，
// 控制面不关心具体引擎，只依赖 SQL 契约
package dbadmin

import (
	"context"
	"fmt"
	"regexp"

	"gorm.io/gorm"
)

// Provisioner 定义数据库置备接口
type Provisioner interface {
	// CreateDatabase 创建数据库和专属账号，已存在时视为成功
	CreateDatabase(ctx context.Context, name, user, password string) error
	// DatabaseExists 检查数据库是否存在
	DatabaseExists(ctx context.Context, name string) (bool, error)
	// DropDatabase 删除数据库和账号，不存在时视为成功
	DropDatabase(ctx context.Context, name, user string) error
}

// 数据库/账号名只允许小写字母数字和下划线，防止拼接注入
var identPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Client 基于管理连接的 Provisioner 实现
type Client struct {
	db *gorm.DB
}

var _ Provisioner = (*Client)(nil)

// New 用已打开的管理连接创建置备客户端
func New(adminDB *gorm.DB) (*Client, error) {
	if adminDB == nil {
		return nil, fmt.Errorf("admin database connection is nil")
	}
	return &Client{db: adminDB}, nil
}

// CreateDatabase 创建数据库和账号
func (c *Client) CreateDatabase(ctx context.Context, name, user, password string) error {
	if err := validIdent(name); err != nil {
		return err
	}
	if err := validIdent(user); err != nil {
		return err
	}

	db := c.db.WithContext(ctx)
	if err := db.Exec(fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %q`, name)).Error; err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	if err := db.Exec(fmt.Sprintf(`CREATE USER IF NOT EXISTS %q IDENTIFIED BY ?`, user), password).Error; err != nil {
		return fmt.Errorf("create user %s: %w", user, err)
	}
	if err := db.Exec(fmt.Sprintf(`GRANT ALL PRIVILEGES ON %q.* TO %q`, name, user)).Error; err != nil {
		return fmt.Errorf("grant privileges on %s: %w", name, err)
	}
	return nil
}

// DatabaseExists 检查数据库
func (c *Client) DatabaseExists(ctx context.Context, name string) (bool, error) {
	if err := validIdent(name); err != nil {
		return false, err
	}

	var count int64
	err := c.db.WithContext(ctx).
		Raw(`SELECT COUNT(*) FROM information_schema.schemata WHERE schema_name = ?`, name).
		Scan(&count).Error
	if err != nil {
		return false, fmt.Errorf("check database %s: %w", name, err)
	}
	return count > 0, nil
}

// DropDatabase 删除数据库和账号
func (c *Client) DropDatabase(ctx context.Context, name, user string) error {
	if err := validIdent(name); err != nil {
		return err
	}
	if err := validIdent(user); err != nil {
		return err
	}

	db := c.db.WithContext(ctx)
	if err := db.Exec(fmt.Sprintf(`DROP DATABASE IF EXISTS %q`, name)).Error; err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	if err := db.Exec(fmt.Sprintf(`DROP USER IF EXISTS %q`, user)).Error; err != nil {
		return fmt.Errorf("drop user %s: %w", user, err)
	}
	return nil
}

func validIdent(ident string) error {
	if !identPattern.MatchString(ident) {
		return fmt.Errorf("invalid database identifier: %q", ident)
	}
	return nil
}
