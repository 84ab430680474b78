package database

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/confera-app/backend/internal/config"
	"github.com/confera-app/backend/internal/models"
)

// Initialize opens the PostgreSQL connection and migrates the schema.
// DATABASE_URL wins over the discrete fields when set.
func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := cfg.URL
	if dsn == "" {
		dsn = fmt.Sprintf(
			"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
			cfg.Host,
			cfg.User,
			cfg.Password,
			cfg.DBName,
			cfg.Port,
			cfg.SSLMode,
		)
	}
	return InitializeWithDSN(dsn)
}

// InitializeWithDSN opens the connection from a raw DSN.
func InitializeWithDSN(dsn string) (*gorm.DB, error) {
	gormLogger := logger.Default.LogMode(logger.Warn)

	// Simple query protocol avoids prepared statement name clashes
	// behind connection poolers like pgbouncer.
	pgxConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pgx config: %w", err)
	}
	pgxConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	sqlDB := stdlib.OpenDB(*pgxConfig)

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn: sqlDB,
	}), &gorm.Config{
		Logger:                                   gormLogger,
		DisableForeignKeyConstraintWhenMigrating: true,
		PrepareStmt:                              false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	dbSQL, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	dbSQL.SetMaxOpenConns(25)
	dbSQL.SetMaxIdleConns(5)
	dbSQL.SetConnMaxLifetime(30 * time.Minute)

	if err := dbSQL.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Database connection established successfully")

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Migrate runs the schema migration and index creation.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Meeting{},
		&models.Participant{},
		&models.ChatMessage{},
		&models.TranscriptSegment{},
		&models.RecordingFile{},
		&models.MeetingMinutes{},
	); err != nil {
		return err
	}
	return createIndexes(db)
}

// createIndexes adds the indexes AutoMigrate cannot express.
func createIndexes(db *gorm.DB) error {
	indexes := []struct {
		name string
		stmt string
	}{
		{
			"idx_meetings_host_status",
			"CREATE INDEX IF NOT EXISTS idx_meetings_host_status ON meetings(host_user_id, status)",
		},
		{
			"idx_meetings_status_scheduled",
			"CREATE INDEX IF NOT EXISTS idx_meetings_status_scheduled ON meetings(status, scheduled_for)",
		},
		{
			"idx_participants_user_status",
			"CREATE INDEX IF NOT EXISTS idx_participants_user_status ON participants(user_id, status)",
		},
		{
			"idx_chat_messages_meeting_created",
			"CREATE INDEX IF NOT EXISTS idx_chat_messages_meeting_created ON chat_messages(meeting_id, created_at)",
		},
	}

	for _, idx := range indexes {
		if err := db.Exec(idx.stmt).Error; err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.name, err)
		}
	}

	logrus.WithField("count", len(indexes)).Info("Database indexes ensured")
	return nil
}
