// internal/storage/postgres.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"notification-engine/internal/models"

	"github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL via database/sql + lib/pq.
// ClaimDue relies on a single UPDATE over a FOR UPDATE SKIP LOCKED subquery,
// so concurrent scheduler instances sharing the database never double-claim.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS notification_preferences (
	user_id            TEXT PRIMARY KEY,
	email              TEXT NOT NULL DEFAULT '',
	enabled_types      TEXT[] NOT NULL DEFAULT '{}',
	disabled_types     TEXT[] NOT NULL DEFAULT '{}',
	priority_threshold INT NOT NULL DEFAULT 0,
	throttle_rules     JSONB NOT NULL DEFAULT '{}',
	quiet_start        INT,
	quiet_end          INT,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS scheduled_notifications (
	id                 TEXT PRIMARY KEY,
	type               TEXT NOT NULL,
	subject            TEXT NOT NULL,
	template_name      TEXT NOT NULL,
	context            JSONB,
	scheduled_at       TIMESTAMPTZ NOT NULL,
	priority           INT NOT NULL,
	recurring          BOOLEAN NOT NULL DEFAULT FALSE,
	recurrence_pattern TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	attempt_count      INT NOT NULL DEFAULT 0,
	claimed_until      TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scheduled_status_at ON scheduled_notifications (status, scheduled_at);

CREATE TABLE IF NOT EXISTS notification_history (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	subject    TEXT NOT NULL,
	recipients TEXT[] NOT NULL DEFAULT '{}',
	sent_at    TIMESTAMPTZ NOT NULL,
	priority   INT NOT NULL,
	success    BOOLEAN NOT NULL,
	error      TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_history_sent_at ON notification_history (sent_at);
CREATE INDEX IF NOT EXISTS idx_history_type ON notification_history (type);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ==========================
// Preferences
// ==========================

func (s *PostgresStore) UpsertPreferences(ctx context.Context, prefs *models.UserPreferences) error {
	rules, err := json.Marshal(prefs.ThrottleRules)
	if err != nil {
		return fmt.Errorf("marshal throttle rules: %w", err)
	}

	var quietStart, quietEnd sql.NullInt64
	if prefs.QuietHours != nil {
		quietStart = sql.NullInt64{Int64: int64(prefs.QuietHours.Start), Valid: true}
		quietEnd = sql.NullInt64{Int64: int64(prefs.QuietHours.End), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_preferences
			(user_id, email, enabled_types, disabled_types, priority_threshold, throttle_rules, quiet_start, quiet_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			enabled_types = EXCLUDED.enabled_types,
			disabled_types = EXCLUDED.disabled_types,
			priority_threshold = EXCLUDED.priority_threshold,
			throttle_rules = EXCLUDED.throttle_rules,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			updated_at = EXCLUDED.updated_at`,
		prefs.UserID, prefs.Email,
		pq.Array(typesToStrings(prefs.EnabledTypes)), pq.Array(typesToStrings(prefs.DisabledTypes)),
		int(prefs.PriorityThreshold), rules, quietStart, quietEnd,
		prefs.CreatedAt, prefs.UpdatedAt,
	)
	return err
}

const prefsColumns = `user_id, email, enabled_types, disabled_types, priority_threshold, throttle_rules, quiet_start, quiet_end, created_at, updated_at`

func (s *PostgresStore) GetPreferences(ctx context.Context, userID string) (*models.UserPreferences, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+prefsColumns+` FROM notification_preferences WHERE user_id = $1`, userID)
	prefs, err := scanPreferences(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return prefs, err
}

func (s *PostgresStore) ListPreferences(ctx context.Context) ([]*models.UserPreferences, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefsColumns+` FROM notification_preferences ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.UserPreferences
	for rows.Next() {
		prefs, err := scanPreferences(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, prefs)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountPreferences(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notification_preferences`).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPreferences(row rowScanner) (*models.UserPreferences, error) {
	var (
		prefs      models.UserPreferences
		enabled    pq.StringArray
		disabled   pq.StringArray
		threshold  int
		rulesJSON  []byte
		quietStart sql.NullInt64
		quietEnd   sql.NullInt64
	)
	err := row.Scan(&prefs.UserID, &prefs.Email, &enabled, &disabled, &threshold,
		&rulesJSON, &quietStart, &quietEnd, &prefs.CreatedAt, &prefs.UpdatedAt)
	if err != nil {
		return nil, err
	}
	prefs.EnabledTypes = stringsToTypes(enabled)
	prefs.DisabledTypes = stringsToTypes(disabled)
	prefs.PriorityThreshold = models.Priority(threshold)
	if len(rulesJSON) > 0 {
		if err := json.Unmarshal(rulesJSON, &prefs.ThrottleRules); err != nil {
			return nil, fmt.Errorf("unmarshal throttle rules: %w", err)
		}
	}
	if quietStart.Valid && quietEnd.Valid {
		prefs.QuietHours = &models.QuietHours{Start: int(quietStart.Int64), End: int(quietEnd.Int64)}
	}
	return &prefs, nil
}

// ==========================
// Scheduled notifications
// ==========================

const scheduledColumns = `id, type, subject, template_name, context, scheduled_at, priority, recurring, recurrence_pattern, status, attempt_count, created_at, updated_at`

func (s *PostgresStore) CreateScheduled(ctx context.Context, n *models.ScheduledNotification) error {
	return insertScheduled(ctx, s.db, n)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertScheduled(ctx context.Context, db execer, n *models.ScheduledNotification) error {
	contextJSON, err := json.Marshal(n.Context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO scheduled_notifications
			(id, type, subject, template_name, context, scheduled_at, priority, recurring, recurrence_pattern, status, attempt_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		n.ID, string(n.Type), n.Subject, n.TemplateName, contextJSON, n.ScheduledAt,
		int(n.Priority), n.Recurring, n.RecurrencePattern, string(n.Status),
		n.AttemptCount, n.CreatedAt, n.UpdatedAt,
	)
	return err
}

func (s *PostgresStore) GetScheduled(ctx context.Context, id string) (*models.ScheduledNotification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduledColumns+` FROM scheduled_notifications WHERE id = $1`, id)
	n, err := scanScheduled(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return n, err
}

func (s *PostgresStore) ListScheduled(ctx context.Context, status *models.Status) ([]*models.ScheduledNotification, error) {
	query := `SELECT ` + scheduledColumns + ` FROM scheduled_notifications`
	args := []interface{}{}
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*status))
	}
	query += ` ORDER BY scheduled_at ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ScheduledNotification
	for rows.Next() {
		n, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CancelScheduled(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_notifications
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		  AND (claimed_until IS NULL OR claimed_until <= NOW())`,
		string(models.StatusCancelled), id, string(models.StatusPending))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *PostgresStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledNotification, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE scheduled_notifications
		SET claimed_until = $1, updated_at = $2
		WHERE id IN (
			SELECT id FROM scheduled_notifications
			WHERE status = $3 AND scheduled_at <= $2
			  AND (claimed_until IS NULL OR claimed_until <= $2)
			ORDER BY scheduled_at ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+scheduledColumns,
		now.Add(ClaimLease), now, string(models.StatusPending), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.ScheduledNotification
	for rows.Next() {
		n, err := scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkSent(ctx context.Context, id string, next *models.ScheduledNotification) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE scheduled_notifications
		SET status = $1, claimed_until = NULL, updated_at = NOW()
		WHERE id = $2`,
		string(models.StatusSent), id)
	if err != nil {
		return err
	}
	if next != nil {
		if err := insertScheduled(ctx, tx, next); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_notifications
		SET status = $1, claimed_until = NULL, updated_at = NOW()
		WHERE id = $2`,
		string(models.StatusFailed), id)
	return err
}

func (s *PostgresStore) ReleaseForRetry(ctx context.Context, id string, attempts int, nextAttempt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_notifications
		SET attempt_count = $1, scheduled_at = $2, claimed_until = NULL, updated_at = NOW()
		WHERE id = $3`,
		attempts, nextAttempt, id)
	return err
}

func (s *PostgresStore) CountScheduled(ctx context.Context) (int, int, error) {
	var total, pending int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = $1)
		FROM scheduled_notifications`,
		string(models.StatusPending)).Scan(&total, &pending)
	return total, pending, err
}

func scanScheduled(row rowScanner) (*models.ScheduledNotification, error) {
	var (
		n           models.ScheduledNotification
		typ         string
		status      string
		priority    int
		contextJSON []byte
	)
	err := row.Scan(&n.ID, &typ, &n.Subject, &n.TemplateName, &contextJSON,
		&n.ScheduledAt, &priority, &n.Recurring, &n.RecurrencePattern,
		&status, &n.AttemptCount, &n.CreatedAt, &n.UpdatedAt)
	if err != nil {
		return nil, err
	}
	n.Type = models.NotificationType(typ)
	n.Status = models.Status(status)
	n.Priority = models.Priority(priority)
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &n.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	return &n, nil
}

// ==========================
// History
// ==========================

func (s *PostgresStore) AppendHistory(ctx context.Context, e *models.HistoryEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_history (id, type, subject, recipients, sent_at, priority, success, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, string(e.Type), e.Subject, pq.Array(e.Recipients), e.SentAt,
		int(e.Priority), e.Success, e.Error)
	return err
}

func (s *PostgresStore) ListHistory(ctx context.Context, since time.Time, typ *models.NotificationType) ([]*models.HistoryEntry, error) {
	query := `SELECT id, type, subject, recipients, sent_at, priority, success, error
		FROM notification_history WHERE sent_at >= $1`
	args := []interface{}{since}
	if typ != nil {
		query += ` AND type = $2`
		args = append(args, string(*typ))
	}
	query += ` ORDER BY sent_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.HistoryEntry
	for rows.Next() {
		var (
			e          models.HistoryEntry
			t          string
			priority   int
			recipients pq.StringArray
		)
		if err := rows.Scan(&e.ID, &t, &e.Subject, &recipients, &e.SentAt, &priority, &e.Success, &e.Error); err != nil {
			return nil, err
		}
		e.Type = models.NotificationType(t)
		e.Priority = models.Priority(priority)
		e.Recipients = recipients
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountHistorySince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notification_history WHERE sent_at >= $1`, since).Scan(&count)
	return count, err
}

func (s *PostgresStore) CountActiveRecipientsSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT recipient)
		FROM notification_history, UNNEST(recipients) AS recipient
		WHERE sent_at >= $1`, since).Scan(&count)
	return count, err
}

// ==========================
// Cleanup
// ==========================

func (s *PostgresStore) PurgeHistoryBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM notification_history WHERE sent_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *PostgresStore) PurgeTerminalScheduledBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM scheduled_notifications
		WHERE status IN ($1, $2, $3) AND updated_at < $4`,
		string(models.StatusSent), string(models.StatusCancelled), string(models.StatusFailed), cutoff)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func typesToStrings(types []models.NotificationType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func stringsToTypes(ss []string) []models.NotificationType {
	if len(ss) == 0 {
		return nil
	}
	out := make([]models.NotificationType, len(ss))
	for i, s := range ss {
		out[i] = models.NotificationType(s)
	}
	return out
}
