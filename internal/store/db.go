package store

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to MySQL and migrates the schema, mirroring the teacher's
// NewMySQLRecorder (gorm.Open + AutoMigrate).
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to connect to MySQL: %w", err)
	}

	if err := db.AutoMigrate(AllModels...); err != nil {
		return nil, fmt.Errorf("store: failed to migrate schema: %w", err)
	}

	return db, nil
}

// Close closes the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("store: failed to get underlying DB: %w", err)
	}
	return sqlDB.Close()
}
