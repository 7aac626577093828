package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/notifykit/notifykit/internal/database"
	"github.com/notifykit/notifykit/internal/notification"
)

// PostgresStore implements the persistence contract on PostgreSQL.
type PostgresStore struct {
	db *database.PostgresDB
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(db *database.PostgresDB) *PostgresStore {
	return &PostgresStore{db: db}
}

type txKey struct{}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// q returns the transaction bound to ctx by WithinTx, or the pool.
func (s *PostgresStore) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db.DB
}

// WithinTx executes fn inside a single database transaction. Store calls made
// with the context passed to fn reuse that transaction.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		// Already inside a unit of work
		return fn(ctx)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateNotification(ctx context.Context, n *notification.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	metadata, err := marshalMetadata(n.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notifications (
			id, title, message, type, priority, category, requested_channels,
			recipient_user_id, recipient_email, recipient_phone, sender_user_id, tenant_id,
			status, scheduled_for, delivered_at, read_at, expires_at,
			delivery_attempts, error_message, action_url, image_url, metadata, deleted, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`
	_, err = s.q(ctx).ExecContext(ctx, query,
		n.ID, n.Title, n.Message, n.Type, int(n.Priority), n.Category, int(n.RequestedChannels),
		n.RecipientUserID, nullString(n.RecipientEmail), nullString(n.RecipientPhone),
		nullString(n.SenderUserID), nullString(n.TenantID),
		n.Status, n.ScheduledFor, n.DeliveredAt, n.ReadAt, n.ExpiresAt,
		n.DeliveryAttempts, nullString(n.ErrorMessage), nullString(n.ActionURL), nullString(n.ImageURL),
		metadata, n.Deleted, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateNotification(ctx context.Context, n *notification.Notification) error {
	metadata, err := marshalMetadata(n.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE notifications SET
			title = $2, message = $3, type = $4, priority = $5, category = $6,
			requested_channels = $7, status = $8, scheduled_for = $9, delivered_at = $10,
			read_at = $11, expires_at = $12, delivery_attempts = $13, error_message = $14,
			action_url = $15, image_url = $16, metadata = $17, deleted = $18
		WHERE id = $1
	`
	result, err := s.q(ctx).ExecContext(ctx, query,
		n.ID, n.Title, n.Message, n.Type, int(n.Priority), n.Category,
		int(n.RequestedChannels), n.Status, n.ScheduledFor, n.DeliveredAt,
		n.ReadAt, n.ExpiresAt, n.DeliveryAttempts, nullString(n.ErrorMessage),
		nullString(n.ActionURL), nullString(n.ImageURL), metadata, n.Deleted,
	)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return notification.ErrNotFound
	}
	return nil
}

const notificationColumns = `
	id, title, message, type, priority, category, requested_channels,
	recipient_user_id, recipient_email, recipient_phone, sender_user_id, tenant_id,
	status, scheduled_for, delivered_at, read_at, expires_at,
	delivery_attempts, error_message, action_url, image_url, metadata, deleted, created_at
`

func (s *PostgresStore) GetNotification(ctx context.Context, id string) (*notification.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 AND NOT deleted`

	n, err := scanNotification(s.q(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, notification.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get notification: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID string, includeRead bool) ([]notification.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE recipient_user_id = $1 AND NOT deleted
		  AND (expires_at IS NULL OR expires_at > NOW())
	`
	if !includeRead {
		query += " AND read_at IS NULL"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.q(ctx).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountUnread(ctx context.Context, userID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_user_id = $1 AND NOT deleted AND read_at IS NULL
	`
	var count int
	if err := s.q(ctx).QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) MarkAllRead(ctx context.Context, userID string, at time.Time) (int, error) {
	query := `
		UPDATE notifications SET read_at = $2, status = $3
		WHERE recipient_user_id = $1 AND NOT deleted AND read_at IS NULL
		  AND (expires_at IS NULL OR expires_at > NOW())
	`
	result, err := s.q(ctx).ExecContext(ctx, query, userID, at, notification.StatusRead)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

// ListDueQueued drives the scheduler's periodic scan; the partial index on
// scheduled_for covers this query.
func (s *PostgresStore) ListDueQueued(ctx context.Context, before time.Time, limit int) ([]notification.Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE status = 'queued' AND NOT deleted
		  AND scheduled_for IS NOT NULL AND scheduled_for <= $1
		ORDER BY scheduled_for
		LIMIT $2
	`
	rows, err := s.q(ctx).QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due notifications: %w", err)
	}
	defer rows.Close()

	var out []notification.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

// DeleteNotification soft-deletes; reads filter on the deleted flag so the
// row and its delivery logs stay reachable for auditing.
func (s *PostgresStore) DeleteNotification(ctx context.Context, id string) error {
	query := `UPDATE notifications SET deleted = true WHERE id = $1 AND NOT deleted`
	result, err := s.q(ctx).ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return notification.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendDeliveryLog(ctx context.Context, entry *notification.DeliveryLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO notification_delivery_logs (
			id, notification_id, channel, attempt_number, is_success,
			error_message, provider_response, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		entry.ID, entry.NotificationID, int(entry.Channel), entry.AttemptNumber,
		entry.IsSuccess, nullString(entry.ErrorMessage), nullString(entry.ProviderResponse),
		entry.DurationMs, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery log: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountDeliveryLogs(ctx context.Context, notificationID string, channel notification.Channel) (int, error) {
	query := `
		SELECT COUNT(*) FROM notification_delivery_logs
		WHERE notification_id = $1 AND channel = $2
	`
	var count int
	if err := s.q(ctx).QueryRowContext(ctx, query, notificationID, int(channel)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count delivery logs: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) ListDeliveryLogs(ctx context.Context, notificationID string) ([]notification.DeliveryLog, error) {
	query := `
		SELECT id, notification_id, channel, attempt_number, is_success,
		       error_message, provider_response, duration_ms, created_at
		FROM notification_delivery_logs
		WHERE notification_id = $1
		ORDER BY created_at
	`
	rows, err := s.q(ctx).QueryContext(ctx, query, notificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery logs: %w", err)
	}
	defer rows.Close()

	var out []notification.DeliveryLog
	for rows.Next() {
		var entry notification.DeliveryLog
		var channel int
		var errorMessage, providerResponse sql.NullString
		if err := rows.Scan(
			&entry.ID, &entry.NotificationID, &channel, &entry.AttemptNumber,
			&entry.IsSuccess, &errorMessage, &providerResponse, &entry.DurationMs, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery log: %w", err)
		}
		entry.Channel = notification.Channel(channel)
		entry.ErrorMessage = errorMessage.String
		entry.ProviderResponse = providerResponse.String
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetPreference(ctx context.Context, userID, category string) (*notification.Preference, error) {
	query := `
		SELECT user_id, tenant_id, category, enabled_channels, is_enabled, minimum_priority,
		       email, phone, push_endpoint, push_public_key, push_auth, webhook_url,
		       created_at, updated_at
		FROM notification_preferences
		WHERE user_id = $1 AND category = $2
	`

	var p notification.Preference
	var enabledChannels, minimumPriority int
	var tenantID, email, phone, pushEndpoint, pushPublicKey, pushAuth, webhookURL sql.NullString

	err := s.q(ctx).QueryRowContext(ctx, query, userID, category).Scan(
		&p.UserID, &tenantID, &p.Category, &enabledChannels, &p.IsEnabled, &minimumPriority,
		&email, &phone, &pushEndpoint, &pushPublicKey, &pushAuth, &webhookURL,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, notification.ErrPreferenceNotFound
		}
		return nil, fmt.Errorf("failed to get preference: %w", err)
	}

	p.EnabledChannels = notification.Channel(enabledChannels)
	p.MinimumPriority = notification.Priority(minimumPriority)
	p.TenantID = tenantID.String
	p.Email = email.String
	p.Phone = phone.String
	p.PushEndpoint = pushEndpoint.String
	p.PushPublicKey = pushPublicKey.String
	p.PushAuth = pushAuth.String
	p.WebhookURL = webhookURL.String
	return &p, nil
}

func (s *PostgresStore) UpsertPreference(ctx context.Context, p *notification.Preference) error {
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO notification_preferences (
			user_id, tenant_id, category, enabled_channels, is_enabled, minimum_priority,
			email, phone, push_endpoint, push_public_key, push_auth, webhook_url,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, category) DO UPDATE SET
			tenant_id = EXCLUDED.tenant_id,
			enabled_channels = EXCLUDED.enabled_channels,
			is_enabled = EXCLUDED.is_enabled,
			minimum_priority = EXCLUDED.minimum_priority,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			push_endpoint = EXCLUDED.push_endpoint,
			push_public_key = EXCLUDED.push_public_key,
			push_auth = EXCLUDED.push_auth,
			webhook_url = EXCLUDED.webhook_url,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.q(ctx).ExecContext(ctx, query,
		p.UserID, nullString(p.TenantID), p.Category, int(p.EnabledChannels), p.IsEnabled,
		int(p.MinimumPriority), nullString(p.Email), nullString(p.Phone),
		nullString(p.PushEndpoint), nullString(p.PushPublicKey), nullString(p.PushAuth),
		nullString(p.WebhookURL), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert preference: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*notification.Notification, error) {
	var n notification.Notification
	var priority, requestedChannels int
	var recipientEmail, recipientPhone, senderUserID, tenantID sql.NullString
	var errorMessage, actionURL, imageURL sql.NullString
	var scheduledFor, deliveredAt, readAt, expiresAt sql.NullTime
	var metadata []byte

	err := row.Scan(
		&n.ID, &n.Title, &n.Message, &n.Type, &priority, &n.Category, &requestedChannels,
		&n.RecipientUserID, &recipientEmail, &recipientPhone, &senderUserID, &tenantID,
		&n.Status, &scheduledFor, &deliveredAt, &readAt, &expiresAt,
		&n.DeliveryAttempts, &errorMessage, &actionURL, &imageURL, &metadata, &n.Deleted, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Priority = notification.Priority(priority)
	n.RequestedChannels = notification.Channel(requestedChannels)
	n.RecipientEmail = recipientEmail.String
	n.RecipientPhone = recipientPhone.String
	n.SenderUserID = senderUserID.String
	n.TenantID = tenantID.String
	n.ErrorMessage = errorMessage.String
	n.ActionURL = actionURL.String
	n.ImageURL = imageURL.String
	if scheduledFor.Valid {
		n.ScheduledFor = &scheduledFor.Time
	}
	if deliveredAt.Valid {
		n.DeliveredAt = &deliveredAt.Time
	}
	if readAt.Valid {
		n.ReadAt = &readAt.Time
	}
	if expiresAt.Valid {
		n.ExpiresAt = &expiresAt.Time
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &n.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &n, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
