package repository

import (
	"database/sql"
	"errors"

	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/models"
)

// JobRepository stores job and event snapshots. It satisfies the
// orchestrator's Store interface.
type JobRepository struct {
	db *DB
}

// NewJobRepository creates a new job repository.
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

// SaveJob upserts a job snapshot keyed by job id.
func (r *JobRepository) SaveJob(job models.Job) error {
	query := `
		INSERT INTO jobs (
			id, platform, state, state_reason, base_model, algorithm,
			dataset_uri, resource_name, project_name, run_name, log_cursor,
			created_at, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id)
		DO UPDATE SET
			state = EXCLUDED.state,
			state_reason = EXCLUDED.state_reason,
			log_cursor = EXCLUDED.log_cursor,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at
	`
	_, err := r.db.Exec(query,
		job.ID,
		job.PlatformName,
		job.State,
		job.StateReason,
		job.Config.BaseModel,
		job.Config.Algorithm,
		job.Config.DatasetURI,
		job.Config.ResourceName,
		job.Config.ProjectName,
		job.Config.RunName,
		job.LogCursor,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
	)
	return err
}

// SaveEvent appends a state transition record.
func (r *JobRepository) SaveEvent(event models.JobEvent) error {
	query := `
		INSERT INTO job_events (job_id, at, from_state, to_state, reason)
		VALUES ($1, $2, $3, $4, $5)
	`
	var from *string
	if event.From != nil {
		s := string(*event.From)
		from = &s
	}
	_, err := r.db.Exec(query, event.JobID, event.At, from, event.To, event.Reason)
	return err
}

// GetJob retrieves a job snapshot by id. Fails with *fterr.NotFoundError
// when absent.
func (r *JobRepository) GetJob(id string) (models.Job, error) {
	query := `
		SELECT id, platform, state, state_reason, base_model, algorithm,
			dataset_uri, resource_name, project_name, run_name, log_cursor,
			created_at, started_at, completed_at
		FROM jobs
		WHERE id = $1
	`
	var job models.Job
	var startedAt, completedAt sql.NullTime
	err := r.db.QueryRow(query, id).Scan(
		&job.ID,
		&job.PlatformName,
		&job.State,
		&job.StateReason,
		&job.Config.BaseModel,
		&job.Config.Algorithm,
		&job.Config.DatasetURI,
		&job.Config.ResourceName,
		&job.Config.ProjectName,
		&job.Config.RunName,
		&job.LogCursor,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Job{}, &fterr.NotFoundError{Kind: "job", ID: id}
	}
	if err != nil {
		return models.Job{}, err
	}
	job.Config.PlatformName = job.PlatformName
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return job, nil
}

// ListJobs returns job snapshots, newest first, optionally filtered by
// state.
func (r *JobRepository) ListJobs(state *models.JobState, limit int) ([]models.Job, error) {
	query := `
		SELECT id, platform, state, state_reason, base_model, algorithm,
			dataset_uri, resource_name, project_name, run_name, log_cursor,
			created_at, started_at, completed_at
		FROM jobs
	`
	args := []interface{}{}
	if state != nil {
		query += " WHERE state = $1"
		args = append(args, *state)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		args = append(args, limit)
		if state != nil {
			query += " LIMIT $2"
		} else {
			query += " LIMIT $1"
		}
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		var job models.Job
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(
			&job.ID,
			&job.PlatformName,
			&job.State,
			&job.StateReason,
			&job.Config.BaseModel,
			&job.Config.Algorithm,
			&job.Config.DatasetURI,
			&job.Config.ResourceName,
			&job.Config.ProjectName,
			&job.Config.RunName,
			&job.LogCursor,
			&job.CreatedAt,
			&startedAt,
			&completedAt,
		); err != nil {
			return nil, err
		}
		job.Config.PlatformName = job.PlatformName
		if startedAt.Valid {
			job.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			job.CompletedAt = &completedAt.Time
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetJobEvents retrieves recorded transitions for a job, oldest first.
func (r *JobRepository) GetJobEvents(jobID string, limit int) ([]models.JobEvent, error) {
	query := `
		SELECT job_id, at, from_state, to_state, reason
		FROM job_events
		WHERE job_id = $1
		ORDER BY at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(query, jobID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.JobEvent
	for rows.Next() {
		var event models.JobEvent
		var from sql.NullString
		if err := rows.Scan(&event.JobID, &event.At, &from, &event.To, &event.Reason); err != nil {
			return nil, err
		}
		if from.Valid {
			state := models.JobState(from.String)
			event.From = &state
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
