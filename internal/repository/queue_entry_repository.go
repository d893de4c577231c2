package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/craftline/postpilot/internal/models"
)

// ErrDuplicateSlot is returned when an insert collides with an existing entry
// for the same (tenant, platform, scheduled_for). Concurrent fill runs hit this
// instead of double-booking a slot.
var ErrDuplicateSlot = errors.New("queue slot already taken")

// ErrSwapConflict is returned when a reorder touches an entry that is no
// longer pending. The caller must treat the swap as not guaranteed.
var ErrSwapConflict = errors.New("entry not pending, swap aborted")

// ContentUsage summarizes how often and how recently one content item was
// queued for a tenant.
type ContentUsage struct {
	Count    int
	LastUsed time.Time
}

type QueueEntryRepository interface {
	Create(ctx context.Context, e *models.QueueEntry) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.QueueEntry, error)
	CountInWindow(ctx context.Context, tenantID int64, from, to time.Time) (int, error)
	ListScheduledTimes(ctx context.Context, tenantID int64, from, to time.Time) ([]time.Time, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.QueueEntry, error)
	Claim(ctx context.Context, id int64) (bool, error)
	MarkPosted(ctx context.Context, id int64, externalPostID string, postedAt time.Time) error
	MarkSkipped(ctx context.Context, id int64, reason string) error
	RecordFailure(ctx context.Context, id int64, message string, terminal bool) error
	ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error)
	SwapScheduledFor(ctx context.Context, idA, idB int64) error
	ListByTenant(ctx context.Context, tenantID int64, status string, limit int) ([]*models.QueueEntry, error)
	ContentUsageByTenant(ctx context.Context, tenantID int64) (map[int64]ContentUsage, error)
}

type queueEntryRepository struct {
	db *sql.DB
}

func NewQueueEntryRepository(db *sql.DB) QueueEntryRepository {
	return &queueEntryRepository{db: db}
}

const entryColumns = `id, tenant_id, content_id, platform, scheduled_for, status, attempt_count, last_error, external_post_id, posted_at, created_at, updated_at`

func scanEntry(row interface{ Scan(...any) error }) (*models.QueueEntry, error) {
	var e models.QueueEntry
	err := row.Scan(&e.ID, &e.TenantID, &e.ContentID, &e.Platform, &e.ScheduledFor,
		&e.Status, &e.AttemptCount, &e.LastError, &e.ExternalPostID, &e.PostedAt,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *queueEntryRepository) Create(ctx context.Context, e *models.QueueEntry) (int64, error) {
	query := `
		INSERT INTO queue_entries (tenant_id, content_id, platform, scheduled_for, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, e.TenantID, e.ContentID, e.Platform, e.ScheduledFor, models.EntryStatusPending).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return 0, ErrDuplicateSlot
		}
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *queueEntryRepository) GetByID(ctx context.Context, id int64) (*models.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries WHERE id = $1`
	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return entry, nil
}

func (r *queueEntryRepository) CountInWindow(ctx context.Context, tenantID int64, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM queue_entries
		WHERE tenant_id = $1
		  AND scheduled_for >= $2 AND scheduled_for < $3
		  AND status IN ($4, $5, $6)
	`
	var count int
	err := r.db.QueryRowContext(ctx, query, tenantID, from, to,
		models.EntryStatusPending, models.EntryStatusProcessing, models.EntryStatusPosted).Scan(&count)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return count, nil
}

func (r *queueEntryRepository) ListScheduledTimes(ctx context.Context, tenantID int64, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT scheduled_for FROM queue_entries
		WHERE tenant_id = $1
		  AND scheduled_for >= $2 AND scheduled_for < $3
		  AND status IN ($4, $5, $6)
		ORDER BY scheduled_for
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, from, to,
		models.EntryStatusPending, models.EntryStatusProcessing, models.EntryStatusPosted)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		times = append(times, ts)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return times, nil
}

func (r *queueEntryRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.QueueEntry, error) {
	query := `
		SELECT ` + entryColumns + ` FROM queue_entries
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY scheduled_for
		LIMIT $3
	`
	rows, err := r.db.QueryContext(ctx, query, models.EntryStatusPending, now, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return entries, nil
}

// Claim transitions one entry pending -> processing. The WHERE clause on
// status makes the transition a compare-and-swap: under concurrent sweeps
// exactly one caller sees true.
func (r *queueEntryRepository) Claim(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE queue_entries
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	result, err := r.db.ExecContext(ctx, query, models.EntryStatusProcessing, time.Now(), id, models.EntryStatusPending)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *queueEntryRepository) MarkPosted(ctx context.Context, id int64, externalPostID string, postedAt time.Time) error {
	query := `
		UPDATE queue_entries
		SET status = $1, external_post_id = $2, posted_at = $3, last_error = NULL, updated_at = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, models.EntryStatusPosted, externalPostID, postedAt, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *queueEntryRepository) MarkSkipped(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE queue_entries
		SET status = $1, last_error = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, models.EntryStatusSkipped, reason, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// RecordFailure bumps attempt_count and either releases the entry back to
// pending for the next sweep or parks it as terminally failed.
func (r *queueEntryRepository) RecordFailure(ctx context.Context, id int64, message string, terminal bool) error {
	status := models.EntryStatusPending
	if terminal {
		status = models.EntryStatusFailed
	}
	query := `
		UPDATE queue_entries
		SET status = $1, attempt_count = attempt_count + 1, last_error = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, status, message, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ReleaseStale re-admits entries abandoned mid-claim by a crashed run.
func (r *queueEntryRepository) ReleaseStale(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		UPDATE queue_entries
		SET status = $1, updated_at = $2
		WHERE status = $3 AND updated_at < $4
	`
	result, err := r.db.ExecContext(ctx, query, models.EntryStatusPending, time.Now(), models.EntryStatusProcessing, olderThan)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return affected, nil
}

// SwapScheduledFor exchanges the scheduled_for values of two pending entries
// in one transaction. Either both rows move or neither does.
func (r *queueEntryRepository) SwapScheduledFor(ctx context.Context, idA, idB int64) error {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer tx.Rollback()

	var timeA, timeB time.Time
	lockQuery := `SELECT scheduled_for FROM queue_entries WHERE id = $1 AND status = $2 FOR UPDATE`

	if err := tx.QueryRowContext(ctx, lockQuery, idA, models.EntryStatusPending).Scan(&timeA); err != nil {
		if err == sql.ErrNoRows {
			return ErrSwapConflict
		}
		slog.Info(err.Error())
		return err
	}
	if err := tx.QueryRowContext(ctx, lockQuery, idB, models.EntryStatusPending).Scan(&timeB); err != nil {
		if err == sql.ErrNoRows {
			return ErrSwapConflict
		}
		slog.Info(err.Error())
		return err
	}

	updateQuery := `UPDATE queue_entries SET scheduled_for = $1, updated_at = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, updateQuery, timeB, time.Now(), idA); err != nil {
		slog.Info(err.Error())
		return err
	}
	if _, err := tx.ExecContext(ctx, updateQuery, timeA, time.Now(), idB); err != nil {
		slog.Info(err.Error())
		return err
	}

	if err := tx.Commit(); err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *queueEntryRepository) ListByTenant(ctx context.Context, tenantID int64, status string, limit int) ([]*models.QueueEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries WHERE tenant_id = $1`
	args := []any{tenantID}

	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY scheduled_for`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, len(args)+1)
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var entries []*models.QueueEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return entries, nil
}

// ContentUsageByTenant aggregates queue history per content item. Skipped
// entries never actually showed the content, so they do not count as usage.
func (r *queueEntryRepository) ContentUsageByTenant(ctx context.Context, tenantID int64) (map[int64]ContentUsage, error) {
	query := `
		SELECT content_id, COUNT(*), MAX(scheduled_for)
		FROM queue_entries
		WHERE tenant_id = $1 AND status != $2
		GROUP BY content_id
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, models.EntryStatusSkipped)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	usage := make(map[int64]ContentUsage)
	for rows.Next() {
		var contentID int64
		var u ContentUsage
		if err := rows.Scan(&contentID, &u.Count, &u.LastUsed); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		usage[contentID] = u
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return usage, nil
}
