// Package database 负责初始化梦境日志所用的存储连接。
package database

import (
	"fmt"
	"time"

	"dream-weaver-go/pkg/log"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// InitMySQL 连接 MySQL，配置连接池，并为传入的模型执行自动迁移。
func InitMySQL(dsn string, models ...interface{}) error {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	// 日志槽位是单行全量读写，不需要大连接池
	sqlDB.SetMaxIdleConns(2)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			return fmt.Errorf("failed to migrate tables: %w", err)
		}
	}

	DB = db
	log.Info("MySQL database connected successfully")
	return nil
}
