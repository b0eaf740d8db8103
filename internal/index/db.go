package index

import (
	"fmt"

	"github.com/foxrun/chandrive/internal/models"
	"github.com/foxrun/chandrive/internal/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open creates (or attaches to) the embedded index file at path, applies
// migrations, and wires the WAL journal plus the FTS shadow table and its
// maintenance triggers (spec.md §4.A: "single embedded writer... write-ahead
// logging... lazy full-text index maintained transactionally").
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_journal_mode=WAL&_foreign_keys=on"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("index: failed to open db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("index: failed to reach underlying db: %w", err)
	}
	// A single writer connection matches the spec's single-writer model and
	// avoids SQLITE_BUSY under WAL with concurrent readers/writer.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.File{}, &models.Chunk{}); err != nil {
		return nil, fmt.Errorf("index: failed to migrate schema: %w", err)
	}

	if err := setupSearchShadow(db); err != nil {
		return nil, fmt.Errorf("index: failed to set up search shadow table: %w", err)
	}

	logger.Info("index: opened", zap.String("path", path))
	return db, nil
}

// setupSearchShadow creates the FTS5 virtual table that shadows files.name
// and the triggers that keep it transactionally in sync with inserts,
// renames, and deletes. Idempotent: safe to run on every startup.
func setupSearchShadow(db *gorm.DB) error {
	stmts := []string{
		`CREATE VIRTUAL TABLE IF NOT EXISTS file_search USING fts5(
			name,
			status UNINDEXED,
			file_id UNINDEXED
		)`,
		`CREATE TRIGGER IF NOT EXISTS file_search_ai AFTER INSERT ON files BEGIN
			INSERT INTO file_search(name, status, file_id) VALUES (new.name, new.status, new.id);
		END`,
		`CREATE TRIGGER IF NOT EXISTS file_search_ad AFTER DELETE ON files BEGIN
			DELETE FROM file_search WHERE file_id = old.id;
		END`,
		`CREATE TRIGGER IF NOT EXISTS file_search_au AFTER UPDATE ON files BEGIN
			DELETE FROM file_search WHERE file_id = old.id;
			INSERT INTO file_search(name, status, file_id) VALUES (new.name, new.status, new.id);
		END`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
