package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclaw/reclaw/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConfigDocRoundTrip(t *testing.T) {
	s := newTestStore(t)

	doc, err := s.LoadConfigDoc()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(doc))

	require.NoError(t, s.SaveConfigDoc(domain.JSON(`{"a":1}`)))
	doc, err = s.LoadConfigDoc()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(doc))

	err = s.SaveConfigDoc(domain.JSON(`[1,2]`))
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestConfigEntriesPrefixList(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SetConfigEntry("logs/1", domain.JSON(`{"n":1}`))
	require.NoError(t, err)
	_, err = s.SetConfigEntry("logs/2", domain.JSON(`{"n":2}`))
	require.NoError(t, err)
	_, err = s.SetConfigEntry("runtime/x", domain.JSON(`{}`))
	require.NoError(t, err)

	entries, err := s.ListConfigEntries("logs/", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	entries, err = s.ListConfigEntries("logs/", 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	deleted, err := s.DeleteConfigEntry("logs/1")
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = s.DeleteConfigEntry("logs/1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)

	session := &domain.Session{
		ID:          "agent:main:main",
		Title:       "Session agent:main:main",
		Tags:        []string{"a", "b"},
		Metadata:    domain.JSON(`{"k":"v"}`),
		CreatedAtMs: 100,
		UpdatedAtMs: 100,
	}
	require.NoError(t, s.UpsertSession(session))

	got, err := s.GetSession("agent:main:main")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"a", "b"}, got.Tags)

	session.UpdatedAtMs = 200
	session.Title = "renamed"
	require.NoError(t, s.UpsertSession(session))
	got, err = s.GetSession("agent:main:main")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.Equal(t, int64(100), got.CreatedAtMs)

	removed, err := s.RemoveSession("agent:main:main")
	require.NoError(t, err)
	assert.True(t, removed)
	got, err = s.GetSession("agent:main:main")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCompactSessionsKeepsRecent(t *testing.T) {
	s := newTestStore(t)

	now := NowUnixMs()
	old := &domain.Session{ID: "old", Title: "old", Tags: []string{}, CreatedAtMs: 1, UpdatedAtMs: now - 10_000}
	fresh := &domain.Session{ID: "fresh", Title: "fresh", Tags: []string{}, CreatedAtMs: now, UpdatedAtMs: now}
	require.NoError(t, s.UpsertSession(old))
	require.NoError(t, s.UpsertSession(fresh))

	removed, err := s.CompactSessions(5_000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	sessions, err := s.ListSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "fresh", sessions[0].ID)
}

func TestChatMessagesOrderAndReplace(t *testing.T) {
	s := newTestStore(t)

	messages := []domain.ChatMessage{
		{ID: "m1", Role: "user", Text: "hello", Status: "final", Ts: 10},
		{ID: "m2", Role: "assistant", Text: "Echo: hello", Status: "final", Ts: 11},
	}
	require.NoError(t, s.AppendChatMessages("k", messages))
	// Replay the same ids: no duplicates.
	require.NoError(t, s.AppendChatMessages("k", messages))

	got, err := s.ListChatMessages("k", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].ID)
	assert.Equal(t, "m2", got[1].ID)

	got, err = s.ListChatMessages("k", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m2", got[0].ID)

	count, err := s.CountChatMessages()
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestAgentRunConditionalWrites(t *testing.T) {
	s := newTestStore(t)

	run := &domain.AgentRun{
		ID:          "run-1",
		AgentID:     "main",
		Input:       "hi",
		Status:      domain.RunStatusQueued,
		SessionKey:  "agent:main:main",
		Metadata:    domain.JSON(`{"source":"chat.send"}`),
		CreatedAtMs: 1,
		UpdatedAtMs: 1,
	}
	require.NoError(t, s.UpsertAgentRun(run))

	claimed, err := s.TransitionAgentRunStatus("run-1", domain.RunStatusQueued, domain.RunStatusRunning, 2)
	require.NoError(t, err)
	assert.True(t, claimed)

	// A second claim loses the race.
	claimed, err = s.TransitionAgentRunStatus("run-1", domain.RunStatusQueued, domain.RunStatusRunning, 3)
	require.NoError(t, err)
	assert.False(t, claimed)

	// Abort while running.
	aborted, err := s.TransitionAgentRunStatus("run-1", domain.RunStatusRunning, domain.RunStatusAborted, 4)
	require.NoError(t, err)
	assert.True(t, aborted)

	// Late completion must not overwrite the abort.
	completedAt := int64(5)
	run.Status = domain.RunStatusCompleted
	run.Output = "Echo: hi"
	run.UpdatedAtMs = 5
	run.CompletedAtMs = &completedAt
	finalized, err := s.FinalizeAgentRunIfStatus(run, domain.RunStatusRunning)
	require.NoError(t, err)
	assert.False(t, finalized)

	got, err := s.GetAgentRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusAborted, got.Status)
}

func TestListAgentRunsBySession(t *testing.T) {
	s := newTestStore(t)

	for i, id := range []string{"r1", "r2", "r3"} {
		run := &domain.AgentRun{
			ID: id, AgentID: "main", Status: domain.RunStatusQueued,
			SessionKey: "k", Metadata: domain.JSON(`{}`),
			CreatedAtMs: int64(i), UpdatedAtMs: int64(i),
		}
		require.NoError(t, s.UpsertAgentRun(run))
	}
	other := &domain.AgentRun{ID: "other", AgentID: "main", Status: domain.RunStatusQueued, SessionKey: "x", Metadata: domain.JSON(`{}`)}
	require.NoError(t, s.UpsertAgentRun(other))

	runs, err := s.ListAgentRunsBySession("k", 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "r3", runs[0].ID)
}

func TestCronJobPatchAndRuns(t *testing.T) {
	s := newTestStore(t)

	next := int64(1000)
	job := &domain.CronJob{
		ID:       "job-1",
		Name:     "Cron job-1",
		Enabled:  true,
		Schedule: domain.CronSchedule{Kind: "every", EveryMs: 1000},
		Payload:  domain.CronPayload{Kind: "systemEvent", Text: "tick"},
		Metadata: domain.JSON(`{}`),
		NextRunMs: &next,
	}
	require.NoError(t, s.InsertCronJob(job))

	name := "renamed"
	var cleared *int64
	updated, err := s.UpdateCronJob("job-1", domain.CronJobPatch{Name: &name, NextRunMs: &cleared})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Nil(t, updated.NextRunMs)

	_, err = s.UpdateCronJob("missing", domain.CronJobPatch{})
	require.ErrorIs(t, err, domain.ErrNotFound)

	for i := 0; i < 5; i++ {
		run := &domain.CronRun{
			ID: "run-" + string(rune('a'+i)), JobID: "job-1", Status: "ok",
			StartedAtMs: int64(i), FinishedAtMs: int64(i) + 1,
		}
		require.NoError(t, s.AddCronRun(run))
	}

	require.NoError(t, s.PruneCronRuns(3))
	runs, err := s.ListCronRuns("job-1", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)
	assert.Equal(t, int64(4), runs[0].StartedAtMs)
}

func TestNodePairingFlow(t *testing.T) {
	s := newTestStore(t)

	request, err := s.AddNodePairRequest(domain.NodePairRequestInput{
		NodeID:      "node-a",
		DisplayName: "Node A",
		Platform:    "linux",
		Commands:    []string{"run"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pending", request.Status)

	// Invoking before approval fails.
	_, err = s.CreateNodeInvoke(domain.NodeInvokeInput{NodeID: "node-a", Command: "run"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	resolved, err := s.ResolveNodePairRequest(request.RequestID, true, nil)
	require.NoError(t, err)
	assert.Equal(t, "approved", resolved.Status)

	node, err := s.GetNode("node-a")
	require.NoError(t, err)
	require.NotNil(t, node)
	assert.True(t, node.Paired)
	assert.Equal(t, []string{"run"}, node.Commands)

	invoke, err := s.CreateNodeInvoke(domain.NodeInvokeInput{NodeID: "node-a", Command: "run", Args: []string{"--x"}})
	require.NoError(t, err)
	assert.Equal(t, "completed", invoke.Status)

	errText := "boom"
	updated, err := s.UpdateNodeInvokeResult(invoke.RequestID, "failed", nil, &errText)
	require.NoError(t, err)
	assert.Equal(t, "failed", updated.Status)
	require.NotNil(t, updated.CompletedAtMs)
}

func TestNodeInvokeRequiresPairing(t *testing.T) {
	s := newTestStore(t)

	node := &domain.Node{
		ID: "node-b", DisplayName: "B", Platform: "linux",
		Commands: []string{}, Paired: false, Status: "offline",
		Metadata: domain.JSON(`{}`),
	}
	require.NoError(t, s.UpsertNode(node))

	_, err := s.CreateNodeInvoke(domain.NodeInvokeInput{NodeID: "node-b", Command: "run"})
	require.ErrorIs(t, err, domain.ErrNotPaired)
}

func TestNodeEventsTrim(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 6; i++ {
		_, err := s.AddNodeEvent("node-a", "beat", domain.JSON(`{}`))
		require.NoError(t, err)
	}
	require.NoError(t, s.TrimNodeEvents(4))

	events, err := s.ListNodeEvents("node-a", 0)
	require.NoError(t, err)
	assert.Len(t, events, 4)

	events, err = s.ListNodeEvents("", 2)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
