package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"collaborative-editor/internal/domain"
)

// MigrateDB 执行全部数据库迁移。
// 返回错误以便调用者知道迁移是否成功。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}

	if err := migrateRoomsTable(db); err != nil {
		return fmt.Errorf("failed to migrate rooms table: %w", err)
	}
	if err := migrateHistoryTable(db); err != nil {
		return fmt.Errorf("failed to migrate room_history table: %w", err)
	}

	logrus.Info("Database migration completed successfully")
	return nil
}

// migrateRoomsTable rooms 表：room_id 唯一索引 + status 索引
func migrateRoomsTable(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.Room{}); err != nil {
		logrus.Errorf("Failed to auto-migrate rooms table: %v", err)
		return err
	}
	logrus.Info("Rooms table schema checked/updated successfully")
	return nil
}

// migrateHistoryTable room_history 表：(room_id, saved_at) 复合索引用于裁剪历史
func migrateHistoryTable(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.HistoryEntry{}); err != nil {
		logrus.Errorf("Failed to auto-migrate room_history table: %v", err)
		return err
	}
	if !db.Migrator().HasIndex(&domain.HistoryEntry{}, "idx_history_room_saved") {
		if err := db.Migrator().CreateIndex(&domain.HistoryEntry{}, "idx_history_room_saved"); err != nil {
			logrus.Warnf("Could not create history index: %v", err)
		}
	}
	logrus.Info("Room history table schema checked/updated successfully")
	return nil
}
