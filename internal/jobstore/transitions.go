package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"stitch/internal/services"
)

// ClaimPending selects up to limit pending jobs ordered oldest-first and
// stamps a claim lease on each inside a single transaction, so two concurrent
// claimers never receive the same job. Job status stays pending until
// MarkProcessing.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrStoreUnavailable, "", "claim", "begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(
		ctx,
		`SELECT id FROM jobs
         WHERE status = ? AND claimed_at IS NULL
         ORDER BY created_at ASC
         LIMIT ?`,
		StatusPending, limit,
	)
	if err != nil {
		return nil, services.Wrap(services.ErrStoreUnavailable, "", "claim", "select pending", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	args := make([]any, 0, len(ids)+1)
	args = append(args, now)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := tx.ExecContext(
		ctx,
		`UPDATE jobs SET claimed_at = ?
         WHERE id IN (`+makePlaceholders(len(ids))+`) AND claimed_at IS NULL`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("stamp claims: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim rows affected: %w", err)
	}
	if affected != int64(len(ids)) {
		return nil, fmt.Errorf("claim race: expected %d rows, stamped %d", len(ids), affected)
	}

	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		job, err := scanJob(row)
		if err != nil {
			return nil, fmt.Errorf("read claimed job %d: %w", id, err)
		}
		jobs = append(jobs, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claims: %w", err)
	}
	return jobs, nil
}

// ClaimByID stamps a claim lease on a single job regardless of queue order,
// for single-shot runs. The job must be pending and unclaimed.
func (s *Store) ClaimByID(ctx context.Context, id int64) (*Job, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, services.Wrap(services.ErrAlreadyTerminal, "", "claim", fmt.Sprintf("job %d is %s", id, job.Status), nil)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET claimed_at = ? WHERE id = ? AND status = ? AND claimed_at IS NULL`,
		now, id, StatusPending,
	)
	if err != nil {
		return nil, services.Wrap(services.ErrStoreUnavailable, "", "claim", "stamp claim", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("job %d is not claimable (status %s)", id, job.Status)
	}
	return s.GetByID(ctx, id)
}

// MarkProcessing transitions a claimed job to processing.
func (s *Store) MarkProcessing(ctx context.Context, id int64) error {
	return s.markJob(ctx, id, StatusProcessing, "", "")
}

// MarkCompleted records the result locator and transitions the job to its
// terminal completed state. Re-invoking after a terminal state returns
// ErrAlreadyTerminal.
func (s *Store) MarkCompleted(ctx context.Context, id int64, resultRef string) error {
	return s.markJob(ctx, id, StatusCompleted, resultRef, "")
}

// MarkFailed transitions the job to its terminal failed state with an
// operator-visible message. Re-invoking after a terminal state returns
// ErrAlreadyTerminal.
func (s *Store) MarkFailed(ctx context.Context, id int64, message string) error {
	return s.markJob(ctx, id, StatusFailed, "", message)
}

func (s *Store) markJob(ctx context.Context, id int64, next Status, resultRef, message string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return services.Wrap(services.ErrStoreUnavailable, "", "mark", "begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	row := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id)
	if err := row.Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return services.Wrap(services.ErrNotFound, "", "mark", fmt.Sprintf("job %d", id), nil)
		}
		return fmt.Errorf("read job status: %w", err)
	}
	if Status(current).IsTerminal() {
		return services.Wrap(services.ErrAlreadyTerminal, "", "mark", fmt.Sprintf("job %d is %s", id, current), nil)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	switch next {
	case StatusProcessing:
		_, err = tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
			next, now, id,
		)
	case StatusCompleted:
		_, err = tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, result_ref = ?, error_message = NULL, claimed_at = NULL, updated_at = ? WHERE id = ?`,
			next, resultRef, now, id,
		)
	case StatusFailed:
		_, err = tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, error_message = ?, claimed_at = NULL, updated_at = ? WHERE id = ?`,
			next, nullableString(message), now, id,
		)
	default:
		err = fmt.Errorf("unsupported job transition to %s", next)
	}
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit job status: %w", err)
	}
	return nil
}

// SetStageStatus updates one stage's status and timestamp. Stage identifiers
// outside the fixed set return ErrUnknownStage; transitions never regress.
func (s *Store) SetStageStatus(ctx context.Context, id int64, stage Stage, status Status) error {
	if !KnownStage(stage) {
		return services.Wrap(services.ErrUnknownStage, string(stage), "set status", "", nil)
	}
	if _, ok := ParseStatus(string(status)); !ok {
		return fmt.Errorf("unknown stage status %q", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return services.Wrap(services.ErrStoreUnavailable, string(stage), "set status", "begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Stage constants are validated above, so interpolating the column name
	// is safe.
	statusColumn := string(stage) + "_status"
	stampColumn := string(stage) + "_timestamp"

	var current string
	row := tx.QueryRowContext(ctx, `SELECT `+statusColumn+` FROM job_stages WHERE job_id = ?`, id)
	if err := row.Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return services.Wrap(services.ErrNotFound, string(stage), "set status", fmt.Sprintf("job %d", id), nil)
		}
		return fmt.Errorf("read stage status: %w", err)
	}
	if !stageTransitionAllowed(Status(current), status) {
		return fmt.Errorf("stage %s may not move %s -> %s", stage, current, status)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE job_stages SET `+statusColumn+` = ?, `+stampColumn+` = ? WHERE job_id = ?`,
		status, now, id,
	); err != nil {
		return fmt.Errorf("update stage status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit stage status: %w", err)
	}
	return nil
}

func stageTransitionAllowed(from, to Status) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Resubmit duplicates a failed job as a fresh pending job with a clean stage
// record. The failed record stays untouched so its stage history remains
// observable.
func (s *Store) Resubmit(ctx context.Context, id int64) (*Job, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusFailed {
		return nil, fmt.Errorf("job %d is %s; only failed jobs can be resubmitted", id, job.Status)
	}
	return s.Create(ctx, job.PersonImageRef, job.ClothImageRef)
}

// ReclaimStale returns processing jobs whose last update is older than the
// cutoff back to pending with a fresh stage record, and releases expired
// claim leases on still-pending jobs. Operator-invoked; the daemon never
// calls this on its own.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, services.Wrap(services.ErrStoreUnavailable, "", "reclaim", "begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(
		ctx,
		`SELECT id FROM jobs WHERE status = ? AND updated_at < ?`,
		StatusProcessing, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("select stale jobs: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var staleID int64
		if err := rows.Scan(&staleID); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, staleID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	for _, staleID := range ids {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, claimed_at = NULL, error_message = NULL, updated_at = ? WHERE id = ?`,
			StatusPending, now, staleID,
		); err != nil {
			return 0, fmt.Errorf("reset stale job %d: %w", staleID, err)
		}
		if _, err := tx.ExecContext(ctx, resetStageRecordSQL, staleID); err != nil {
			return 0, fmt.Errorf("reset stage record %d: %w", staleID, err)
		}
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE jobs SET claimed_at = NULL WHERE status = ? AND claimed_at IS NOT NULL AND claimed_at < ?`,
		StatusPending, cutoff,
	); err != nil {
		return 0, fmt.Errorf("release expired claims: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reclaim: %w", err)
	}
	return int64(len(ids)), nil
}

var resetStageRecordSQL = `UPDATE job_stages SET ` + strings.Join(func() []string {
	clauses := make([]string, 0, len(Stages)*2)
	for _, stage := range Stages {
		clauses = append(clauses, string(stage)+"_status = 'pending'", string(stage)+"_timestamp = NULL")
	}
	return clauses
}(), ", ") + ` WHERE job_id = ?`

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
