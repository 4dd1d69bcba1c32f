package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"stitch/internal/config"
	"stitch/internal/services"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open initializes or connects to the job database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	// Pragmas ride the DSN so every pooled connection gets them. Immediate
	// transactions take the write lock up front, and the busy timeout makes
	// concurrent claimers queue on it instead of failing with SQLITE_BUSY.
	dsn := fmt.Sprintf(
		"file:%s?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		dbPath,
	)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, services.Wrap(services.ErrStoreUnavailable, "", "open", dbPath, err)
	}

	store := &Store{db: db}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new pending job together with its stage record. Both rows
// commit in one transaction.
func (s *Store) Create(ctx context.Context, personRef, clothRef string) (*Job, error) {
	if personRef == "" || clothRef == "" {
		return nil, errors.New("person and cloth image references are required")
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrStoreUnavailable, "", "create", "begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO jobs (person_image_ref, cloth_image_ref, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?)`,
		personRef, clothRef, StatusPending, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO job_stages (job_id) VALUES (?)`, id); err != nil {
		return nil, fmt.Errorf("insert stage record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit job: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "", "get", fmt.Sprintf("job %d", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Snapshot returns a job together with its stage record.
func (s *Store) Snapshot(ctx context.Context, id int64) (*Snapshot, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+stageColumns+` FROM job_stages WHERE job_id = ?`, id)
	record, err := scanStageRecord(id, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "", "snapshot", fmt.Sprintf("stage record for job %d", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get stage record: %w", err)
	}
	return &Snapshot{Job: *job, Stages: *record}, nil
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrStoreUnavailable, "", "list", "query jobs", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, services.Wrap(services.ErrStoreUnavailable, "", "stats", "query counts", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

const jobColumns = "id, person_image_ref, cloth_image_ref, status, result_ref, error_message, created_at, updated_at, claimed_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           int64
		personRef    string
		clothRef     string
		statusStr    string
		resultRef    sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
		claimedRaw   sql.NullString
	)

	if err := scanner.Scan(&id, &personRef, &clothRef, &statusStr, &resultRef, &errorMessage, &createdRaw, &updatedRaw, &claimedRaw); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             id,
		PersonImageRef: personRef,
		ClothImageRef:  clothRef,
		Status:         Status(statusStr),
		ResultRef:      resultRef.String,
		ErrorMessage:   errorMessage.String,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if claimedRaw.Valid {
		if claimed, err := parseTimeString(claimedRaw.String); err == nil {
			job.ClaimedAt = &claimed
		}
	}
	return job, nil
}

const stageColumns = "job_id, " +
	"remove_background_status, remove_background_timestamp, " +
	"cloth_mask_status, cloth_mask_timestamp, " +
	"segmentation_status, segmentation_timestamp, " +
	"pose_generation_status, pose_generation_timestamp, " +
	"final_processing_status, final_processing_timestamp"

func scanStageRecord(jobID int64, scanner interface{ Scan(dest ...any) error }) (*StageRecord, error) {
	var id int64
	stageStatus := make([]string, len(Stages))
	stageStamp := make([]sql.NullString, len(Stages))

	dest := make([]any, 0, 1+len(Stages)*2)
	dest = append(dest, &id)
	for i := range Stages {
		dest = append(dest, &stageStatus[i], &stageStamp[i])
	}
	if err := scanner.Scan(dest...); err != nil {
		return nil, err
	}

	record := &StageRecord{JobID: jobID, States: make(map[Stage]StageState, len(Stages))}
	for i, stage := range Stages {
		state := StageState{Status: Status(stageStatus[i])}
		if stageStamp[i].Valid {
			if ts, err := parseTimeString(stageStamp[i].String); err == nil {
				state.Timestamp = &ts
			}
		}
		record.States[stage] = state
	}
	return record, nil
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
