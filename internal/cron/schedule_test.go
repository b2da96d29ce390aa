package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaw/reclaw/internal/domain"
)

func ms(value int64) *int64 { return &value }

func TestNextRunOnce(t *testing.T) {
	next, err := NextRun(domain.CronSchedule{Kind: "once"}, 1000)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestNextRunAt(t *testing.T) {
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	next, err := NextRun(domain.CronSchedule{Kind: "at", At: future}, time.Now().UnixMilli())
	require.NoError(t, err)
	require.NotNil(t, next)

	// Past timestamps yield no next fire.
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	next, err = NextRun(domain.CronSchedule{Kind: "at", At: past}, time.Now().UnixMilli())
	require.NoError(t, err)
	assert.Nil(t, next)

	_, err = NextRun(domain.CronSchedule{Kind: "at"}, 0)
	require.EqualError(t, err, "schedule.at is required for kind=at")

	_, err = NextRun(domain.CronSchedule{Kind: "at", At: "not-a-time"}, 0)
	require.EqualError(t, err, "schedule.at must be an RFC3339 timestamp")

	// Pre-epoch timestamps are rejected, not treated as "in the past".
	_, err = NextRun(domain.CronSchedule{Kind: "at", At: "1960-01-01T00:00:00Z"}, 0)
	require.EqualError(t, err, "schedule.at timestamp must be >= unix epoch")
}

func TestNextRunEveryAnchored(t *testing.T) {
	schedule := domain.CronSchedule{Kind: "every", EveryMs: 1000, AnchorMs: ms(10_000)}

	// Before the anchor the first fire is the anchor itself.
	next, err := NextRun(schedule, 5_000)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, int64(10_000), *next)

	// On an aligned boundary the next fire is strictly later.
	next, err = NextRun(schedule, 12_000)
	require.NoError(t, err)
	assert.Equal(t, int64(13_000), *next)

	// Between boundaries we land on the next aligned multiple.
	next, err = NextRun(schedule, 12_400)
	require.NoError(t, err)
	assert.Equal(t, int64(13_000), *next)
}

func TestNextRunEveryUnanchored(t *testing.T) {
	next, err := NextRun(domain.CronSchedule{Kind: "every", EveryMs: 250}, 1_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1_250), *next)

	_, err = NextRun(domain.CronSchedule{Kind: "every"}, 0)
	require.EqualError(t, err, "schedule.everyMs must be > 0")
}

func TestNextRunCronMinuteOnly(t *testing.T) {
	from := time.Date(2026, 1, 2, 3, 4, 30, 0, time.UTC).UnixMilli()

	next, err := NextRun(domain.CronSchedule{Kind: "cron", Expr: "* * * * *"}, from)
	require.NoError(t, err)
	require.NotNil(t, next)
	got := time.UnixMilli(*next).UTC()
	assert.Equal(t, 5, got.Minute())
	assert.Zero(t, got.Second())

	// Exact minute value.
	next, err = NextRun(domain.CronSchedule{Kind: "cron", Expr: "30 * * * *"}, from)
	require.NoError(t, err)
	assert.Equal(t, 30, time.UnixMilli(*next).UTC().Minute())

	// Step.
	next, err = NextRun(domain.CronSchedule{Kind: "cron", Expr: "*/15 * * * *"}, from)
	require.NoError(t, err)
	assert.Equal(t, 15, time.UnixMilli(*next).UTC().Minute())

	// A leading seconds field is ignored.
	next, err = NextRun(domain.CronSchedule{Kind: "cron", Expr: "0 */5 * * * *"}, from)
	require.NoError(t, err)
	assert.Equal(t, 5, time.UnixMilli(*next).UTC().Minute())
}

func TestNextRunCronRejectsUnsupported(t *testing.T) {
	cases := []struct {
		expr string
		want string
	}{
		{"* * *", "cron expression must contain 5 or 6 fields"},
		{"* * * * * * *", "cron expression must contain 5 or 6 fields"},
		{"* 5 * * *", "only minute-based cron expressions are supported currently"},
		{"*/0 * * * *", "minute step must be between 1 and 59"},
		{"*/60 * * * *", "minute step must be between 1 and 59"},
		{"61 * * * *", "minute value must be between 0 and 59"},
		{"abc * * * *", "minute value must be between 0 and 59"},
	}
	for _, tc := range cases {
		_, err := NextRun(domain.CronSchedule{Kind: "cron", Expr: tc.expr}, 0)
		require.EqualError(t, err, tc.want, "expr %q", tc.expr)
	}
}

func TestNextRunUnknownKind(t *testing.T) {
	_, err := NextRun(domain.CronSchedule{Kind: "weekly"}, 0)
	require.EqualError(t, err, "unsupported schedule kind: weekly")
}
