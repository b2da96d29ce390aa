package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reclaw/reclaw/internal/domain"
	"github.com/reclaw/reclaw/internal/store"
)

// Engine owns the background scheduler loop. All mutation goes through
// the shared store; handlers may call RunJobNow concurrently with the
// tick loop.
type Engine struct {
	store     *store.Store
	log       zerolog.Logger
	enabled   bool
	poll      time.Duration
	retention int

	mu         sync.Mutex
	lastTickMs *int64
}

func NewEngine(st *store.Store, log zerolog.Logger, enabled bool, poll time.Duration, retention int) *Engine {
	if poll <= 0 {
		poll = time.Second
	}
	if retention <= 0 {
		retention = 500
	}
	return &Engine{
		store:     st,
		log:       log.With().Str("component", "cron").Logger(),
		enabled:   enabled,
		poll:      poll,
		retention: retention,
	}
}

func (e *Engine) Enabled() bool { return e.enabled }

func (e *Engine) PollInterval() time.Duration { return e.poll }

func (e *Engine) LastTickMs() *int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTickMs
}

// Run blocks until ctx is cancelled, ticking on the poll interval.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if executed, err := e.Tick(); err != nil {
				e.log.Warn().Err(err).Msg("cron tick failed")
			} else if executed > 0 {
				e.log.Debug().Int("executed", executed).Msg("cron tick")
			}
		}
	}
}

// Tick runs every enabled job whose next fire time has passed and
// returns how many jobs executed.
func (e *Engine) Tick() (int, error) {
	if !e.enabled {
		return 0, nil
	}

	now := store.NowUnixMs()
	e.mu.Lock()
	e.lastTickMs = &now
	e.mu.Unlock()

	jobs, err := e.store.ListCronJobs()
	if err != nil {
		return 0, err
	}

	executed := 0
	for _, job := range jobs {
		if !job.Enabled || job.NextRunMs == nil || *job.NextRunMs > now {
			continue
		}
		if _, err := e.runJob(job.ID, false); err != nil {
			e.log.Warn().Err(err).Str("jobId", job.ID).Msg("cron job failed")
			continue
		}
		executed++
	}
	return executed, nil
}

// RunJobNow executes a job immediately, outside its schedule.
func (e *Engine) RunJobNow(id string) (*domain.CronRun, error) {
	return e.runJob(id, true)
}

func (e *Engine) runJob(id string, manual bool) (*domain.CronRun, error) {
	job, err := e.store.GetCronJob(id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.NotFoundf("cron job not found: %s", id)
	}

	started := store.NowUnixMs()
	output, execErr := ExecutePayload(job.Payload, started)
	finished := store.NowUnixMs()

	status := "ok"
	var outputPtr, errPtr *string
	if execErr != nil {
		status = "error"
		text := execErr.Error()
		errPtr = &text
	} else {
		outputPtr = &output
	}

	nextRun, err := NextRun(job.Schedule, finished)
	if err != nil {
		return nil, domain.InvalidRequestf("%s", err.Error())
	}

	if err := e.store.UpdateCronJobRuntime(job.ID, &finished, nextRun); err != nil {
		return nil, err
	}

	run := &domain.CronRun{
		ID:           "run-" + uuid.NewString(),
		JobID:        job.ID,
		Status:       status,
		Output:       outputPtr,
		Error:        errPtr,
		Manual:       manual,
		StartedAtMs:  started,
		FinishedAtMs: finished,
	}
	if err := e.store.AddCronRun(run); err != nil {
		return nil, err
	}
	if err := e.store.PruneCronRuns(e.retention); err != nil {
		return nil, err
	}
	return run, nil
}

// ExecutePayload renders a payload to the text a run records. It does
// no I/O; unsupported kinds are a run error, not a scheduler failure.
func ExecutePayload(payload domain.CronPayload, ts int64) (string, error) {
	switch payload.Kind {
	case "systemEvent":
		return fmt.Sprintf("systemEvent:%s @%d", payload.Text, ts), nil
	case "agentTurn":
		return fmt.Sprintf("agentTurn:%s @%d", payload.Message, ts), nil
	default:
		return "", fmt.Errorf("unsupported cron payload kind: %s", payload.Kind)
	}
}
