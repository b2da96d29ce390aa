package cron

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaw/reclaw/internal/domain"
	"github.com/reclaw/reclaw/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	engine := NewEngine(st, zerolog.Nop(), true, time.Second, 3)
	return engine, st
}

func addJob(t *testing.T, st *store.Store, job *domain.CronJob) {
	t.Helper()
	now := store.NowUnixMs()
	job.CreatedAtMs = now
	job.UpdatedAtMs = now
	if job.Metadata == nil {
		job.Metadata = domain.JSON(`{}`)
	}
	require.NoError(t, st.InsertCronJob(job))
}

func TestRunJobNowRecordsRunAndReschedules(t *testing.T) {
	engine, st := newTestEngine(t)
	addJob(t, st, &domain.CronJob{
		ID:       "job-1",
		Name:     "beat",
		Enabled:  true,
		Schedule: domain.CronSchedule{Kind: "every", EveryMs: 1000},
		Payload:  domain.CronPayload{Kind: "systemEvent", Text: "tick"},
	})

	run, err := engine.RunJobNow("job-1")
	require.NoError(t, err)
	assert.Equal(t, "ok", run.Status)
	assert.True(t, run.Manual)
	require.NotNil(t, run.Output)
	assert.Contains(t, *run.Output, "systemEvent:tick @")

	job, err := st.GetCronJob("job-1")
	require.NoError(t, err)
	require.NotNil(t, job.LastRunMs)
	require.NotNil(t, job.NextRunMs)
	assert.Equal(t, *job.LastRunMs+1000, *job.NextRunMs)
}

func TestRunJobNowUnknownJob(t *testing.T) {
	engine, _ := newTestEngine(t)
	_, err := engine.RunJobNow("missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "cron job not found: missing", domain.Message(err))
}

func TestRunJobRecordsPayloadError(t *testing.T) {
	engine, st := newTestEngine(t)
	addJob(t, st, &domain.CronJob{
		ID:       "job-bad",
		Name:     "bad",
		Enabled:  true,
		Schedule: domain.CronSchedule{Kind: "once"},
		Payload:  domain.CronPayload{Kind: "webhook"},
	})

	run, err := engine.RunJobNow("job-bad")
	require.NoError(t, err)
	assert.Equal(t, "error", run.Status)
	require.NotNil(t, run.Error)
	assert.Equal(t, "unsupported cron payload kind: webhook", *run.Error)

	// kind=once never reschedules.
	job, err := st.GetCronJob("job-bad")
	require.NoError(t, err)
	assert.Nil(t, job.NextRunMs)
}

func TestTickRunsDueJobsOnly(t *testing.T) {
	engine, st := newTestEngine(t)
	now := store.NowUnixMs()

	due := now - 10
	future := now + 60_000
	addJob(t, st, &domain.CronJob{
		ID: "due", Name: "due", Enabled: true,
		Schedule:  domain.CronSchedule{Kind: "every", EveryMs: 1000},
		Payload:   domain.CronPayload{Kind: "systemEvent", Text: "x"},
		NextRunMs: &due,
	})
	addJob(t, st, &domain.CronJob{
		ID: "later", Name: "later", Enabled: true,
		Schedule:  domain.CronSchedule{Kind: "every", EveryMs: 1000},
		Payload:   domain.CronPayload{Kind: "systemEvent", Text: "y"},
		NextRunMs: &future,
	})
	addJob(t, st, &domain.CronJob{
		ID: "disabled", Name: "disabled", Enabled: false,
		Schedule:  domain.CronSchedule{Kind: "every", EveryMs: 1000},
		Payload:   domain.CronPayload{Kind: "systemEvent", Text: "z"},
		NextRunMs: &due,
	})

	executed, err := engine.Tick()
	require.NoError(t, err)
	assert.Equal(t, 1, executed)
	require.NotNil(t, engine.LastTickMs())

	runs, err := st.ListCronRuns("", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "due", runs[0].JobID)
	assert.False(t, runs[0].Manual)
}

func TestTickDisabledEngine(t *testing.T) {
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	engine := NewEngine(st, zerolog.Nop(), false, time.Second, 3)

	executed, err := engine.Tick()
	require.NoError(t, err)
	assert.Zero(t, executed)
	assert.Nil(t, engine.LastTickMs())
}

func TestRunsPrunedToRetention(t *testing.T) {
	engine, st := newTestEngine(t)
	addJob(t, st, &domain.CronJob{
		ID: "job-1", Name: "beat", Enabled: true,
		Schedule: domain.CronSchedule{Kind: "every", EveryMs: 1000},
		Payload:  domain.CronPayload{Kind: "systemEvent", Text: "tick"},
	})

	for i := 0; i < 5; i++ {
		_, err := engine.RunJobNow("job-1")
		require.NoError(t, err)
	}
	runs, err := st.ListCronRuns("job-1", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
}
