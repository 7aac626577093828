package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/notifykit/notifykit/internal/config"
)

// PostgresDB wraps sql.DB for PostgreSQL operations
type PostgresDB struct {
	*sql.DB
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(cfg config.DatabaseConfig) (*PostgresDB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{DB: db}, nil
}

// InitSchema initializes the database schema
func (db *PostgresDB) InitSchema() error {
	schema := `
	-- Notifications table
	CREATE TABLE IF NOT EXISTS notifications (
		id UUID PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		message TEXT NOT NULL,
		type VARCHAR(20) NOT NULL DEFAULT 'info',
		priority INTEGER NOT NULL DEFAULT 1, -- 0=low, 1=normal, 2=high, 3=critical
		category VARCHAR(100) NOT NULL DEFAULT '',
		requested_channels INTEGER NOT NULL DEFAULT 1, -- channel bit-set
		recipient_user_id VARCHAR(255) NOT NULL,
		recipient_email VARCHAR(255),
		recipient_phone VARCHAR(20),
		sender_user_id VARCHAR(255),
		tenant_id VARCHAR(255),
		status VARCHAR(20) NOT NULL DEFAULT 'pending', -- pending, queued, delivered, read
		scheduled_for TIMESTAMPTZ,
		delivered_at TIMESTAMPTZ,
		read_at TIMESTAMPTZ,
		expires_at TIMESTAMPTZ,
		delivery_attempts INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		action_url TEXT,
		image_url TEXT,
		metadata JSONB,
		deleted BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Delivery logs table, append-only, one row per attempt
	CREATE TABLE IF NOT EXISTS notification_delivery_logs (
		id UUID PRIMARY KEY,
		notification_id UUID NOT NULL REFERENCES notifications(id) ON DELETE CASCADE,
		channel INTEGER NOT NULL,
		attempt_number INTEGER NOT NULL,
		is_success BOOLEAN NOT NULL,
		error_message TEXT,
		provider_response TEXT,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- Preferences table, one row per (user, category); category '' is the default row
	CREATE TABLE IF NOT EXISTS notification_preferences (
		user_id VARCHAR(255) NOT NULL,
		tenant_id VARCHAR(255),
		category VARCHAR(100) NOT NULL DEFAULT '',
		enabled_channels INTEGER NOT NULL DEFAULT 1,
		is_enabled BOOLEAN NOT NULL DEFAULT true,
		minimum_priority INTEGER NOT NULL DEFAULT 0,
		email VARCHAR(255),
		phone VARCHAR(20),
		push_endpoint TEXT,
		push_public_key TEXT,
		push_auth TEXT,
		webhook_url TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, category)
	);

	-- Create indexes for better performance
	CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_user_id);
	CREATE INDEX IF NOT EXISTS idx_notifications_status ON notifications(status);
	CREATE INDEX IF NOT EXISTS idx_notifications_scheduled_for ON notifications(scheduled_for) WHERE status = 'queued';
	CREATE INDEX IF NOT EXISTS idx_notifications_created_at ON notifications(created_at);
	CREATE INDEX IF NOT EXISTS idx_delivery_logs_notification_id ON notification_delivery_logs(notification_id);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *PostgresDB) Close() error {
	return db.DB.Close()
}
