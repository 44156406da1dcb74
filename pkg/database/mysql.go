// Package database 负责建立 MySQL 与 Redis 连接。
// 连接以返回值形式交给 main 注入各组件，不暴露全局变量。
package database

import (
	"fmt"
	"time"

	"llm-retrieval-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// OpenMySQL 建立 MySQL 数据库连接并配置连接池。
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 sql.DB 失败: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	log.Info("MySQL database connected successfully")
	return db, nil
}
