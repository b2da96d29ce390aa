package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/reclaw/reclaw/internal/domain"
)

type cronJobRow struct {
	JobID        string `db:"job_id"`
	Name         string `db:"name"`
	Enabled      int    `db:"enabled"`
	ScheduleJSON string `db:"schedule_json"`
	PayloadJSON  string `db:"payload_json"`
	MetadataJSON string `db:"metadata_json"`
	CreatedAtMs  int64  `db:"created_at_ms"`
	UpdatedAtMs  int64  `db:"updated_at_ms"`
	LastRunMs    *int64 `db:"last_run_ms"`
	NextRunMs    *int64 `db:"next_run_ms"`
}

func (r cronJobRow) record() (domain.CronJob, error) {
	var schedule domain.CronSchedule
	if err := json.Unmarshal([]byte(r.ScheduleJSON), &schedule); err != nil {
		return domain.CronJob{}, domain.Storagef("invalid cron schedule JSON: %v", err)
	}
	var payload domain.CronPayload
	if err := json.Unmarshal([]byte(r.PayloadJSON), &payload); err != nil {
		return domain.CronJob{}, domain.Storagef("invalid cron payload JSON: %v", err)
	}
	return domain.CronJob{
		ID:          r.JobID,
		Name:        r.Name,
		Enabled:     r.Enabled == 1,
		Schedule:    schedule,
		Payload:     payload,
		Metadata:    domain.JSON(r.MetadataJSON),
		CreatedAtMs: r.CreatedAtMs,
		UpdatedAtMs: r.UpdatedAtMs,
		LastRunMs:   r.LastRunMs,
		NextRunMs:   r.NextRunMs,
	}, nil
}

const cronJobColumns = `job_id, name, enabled, schedule_json, payload_json,
	metadata_json, created_at_ms, updated_at_ms, last_run_ms, next_run_ms`

func (s *Store) ListCronJobs() ([]domain.CronJob, error) {
	var rows []cronJobRow
	err := s.db.Select(&rows, `SELECT `+cronJobColumns+` FROM cron_jobs ORDER BY created_at_ms ASC`)
	if err != nil {
		return nil, domain.Storagef("failed to list cron jobs: %v", err)
	}
	jobs := make([]domain.CronJob, 0, len(rows))
	for _, row := range rows {
		job, err := row.record()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *Store) GetCronJob(id string) (*domain.CronJob, error) {
	var row cronJobRow
	err := s.db.Get(&row, `SELECT `+cronJobColumns+` FROM cron_jobs WHERE job_id = ? LIMIT 1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Storagef("failed to get cron job: %v", err)
	}
	job, err := row.record()
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (s *Store) InsertCronJob(job *domain.CronJob) error {
	return s.writeCronJob(job, false)
}

func (s *Store) SaveCronJob(job *domain.CronJob) error {
	return s.writeCronJob(job, true)
}

func (s *Store) writeCronJob(job *domain.CronJob, replace bool) error {
	scheduleJSON, err := encodeJSON(job.Schedule)
	if err != nil {
		return err
	}
	payloadJSON, err := encodeJSON(job.Payload)
	if err != nil {
		return err
	}

	query := `INSERT INTO cron_jobs(job_id, name, enabled, schedule_json, payload_json, metadata_json, created_at_ms, updated_at_ms, last_run_ms, next_run_ms)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if replace {
		query += ` ON CONFLICT(job_id) DO UPDATE SET
		   name = excluded.name, enabled = excluded.enabled,
		   schedule_json = excluded.schedule_json, payload_json = excluded.payload_json,
		   metadata_json = excluded.metadata_json, updated_at_ms = excluded.updated_at_ms,
		   last_run_ms = excluded.last_run_ms, next_run_ms = excluded.next_run_ms`
	}

	_, err = s.db.Exec(query,
		job.ID, job.Name, boolInt(job.Enabled), scheduleJSON, payloadJSON,
		jsonText(job.Metadata), job.CreatedAtMs, job.UpdatedAtMs, job.LastRunMs, job.NextRunMs)
	if err != nil {
		return domain.Storagef("failed to write cron job: %v", err)
	}
	return nil
}

// UpdateCronJob applies a partial patch and returns the updated job.
func (s *Store) UpdateCronJob(id string, patch domain.CronJobPatch) (*domain.CronJob, error) {
	job, err := s.GetCronJob(id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.NotFoundf("cron job not found: %s", id)
	}

	if patch.Name != nil {
		job.Name = *patch.Name
	}
	if patch.Enabled != nil {
		job.Enabled = *patch.Enabled
	}
	if patch.Schedule != nil {
		job.Schedule = *patch.Schedule
	}
	if patch.Payload != nil {
		job.Payload = *patch.Payload
	}
	if patch.Metadata != nil {
		job.Metadata = patch.Metadata
	}
	if patch.NextRunMs != nil {
		job.NextRunMs = *patch.NextRunMs
	}
	job.UpdatedAtMs = NowUnixMs()

	if err := s.SaveCronJob(job); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateCronJobRuntime stamps the run bookkeeping fields without
// touching the job definition.
func (s *Store) UpdateCronJobRuntime(jobID string, lastRunMs, nextRunMs *int64) error {
	_, err := s.db.Exec(
		`UPDATE cron_jobs SET last_run_ms = ?, next_run_ms = ?, updated_at_ms = ? WHERE job_id = ?`,
		lastRunMs, nextRunMs, NowUnixMs(), jobID)
	if err != nil {
		return domain.Storagef("failed to update cron runtime: %v", err)
	}
	return nil
}

func (s *Store) RemoveCronJob(id string) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM cron_jobs WHERE job_id = ?`, id)
	if err != nil {
		return false, domain.Storagef("failed to delete cron job: %v", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *Store) CountCronJobs() (int64, error) {
	var count int64
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM cron_jobs`); err != nil {
		return 0, domain.Storagef("failed to count cron jobs: %v", err)
	}
	return count, nil
}

func (s *Store) AddCronRun(run *domain.CronRun) error {
	_, err := s.db.Exec(
		`INSERT INTO cron_runs(run_id, job_id, status, output, error, manual, started_at_ms, finished_at_ms)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.JobID, run.Status, run.Output, run.Error,
		boolInt(run.Manual), run.StartedAtMs, run.FinishedAtMs)
	if err != nil {
		return domain.Storagef("failed to insert cron run: %v", err)
	}
	return nil
}

func (s *Store) ListCronRuns(jobID string, limit int) ([]domain.CronRun, error) {
	query := `SELECT run_id, job_id, status, output, error, manual, started_at_ms, finished_at_ms FROM cron_runs`
	args := []interface{}{}
	if jobID != "" {
		query += ` WHERE job_id = ?`
		args = append(args, jobID)
	}
	query += ` ORDER BY started_at_ms DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []struct {
		RunID        string  `db:"run_id"`
		JobID        string  `db:"job_id"`
		Status       string  `db:"status"`
		Output       *string `db:"output"`
		Error        *string `db:"error"`
		Manual       int     `db:"manual"`
		StartedAtMs  int64   `db:"started_at_ms"`
		FinishedAtMs int64   `db:"finished_at_ms"`
	}
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, domain.Storagef("failed to list cron runs: %v", err)
	}

	runs := make([]domain.CronRun, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, domain.CronRun{
			ID:           row.RunID,
			JobID:        row.JobID,
			Status:       row.Status,
			Output:       row.Output,
			Error:        row.Error,
			Manual:       row.Manual == 1,
			StartedAtMs:  row.StartedAtMs,
			FinishedAtMs: row.FinishedAtMs,
		})
	}
	return runs, nil
}

// PruneCronRuns keeps the newest `keep` runs by start time.
func (s *Store) PruneCronRuns(keep int) error {
	_, err := s.db.Exec(
		`DELETE FROM cron_runs WHERE run_id IN (
		   SELECT run_id FROM cron_runs ORDER BY started_at_ms DESC LIMIT -1 OFFSET ?
		 )`, keep)
	if err != nil {
		return domain.Storagef("failed to prune cron runs: %v", err)
	}
	return nil
}

func boolInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
