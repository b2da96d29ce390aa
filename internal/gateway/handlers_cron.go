package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	croneng "github.com/reclaw/reclaw/internal/cron"
	"github.com/reclaw/reclaw/internal/domain"
	"github.com/reclaw/reclaw/internal/protocol"
	"github.com/reclaw/reclaw/internal/store"
)

func handleCronList(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		IncludeDisabled *bool `json:"includeDisabled"`
		Limit           *int  `json:"limit"`
	}
	if shapeErr := parseOptionalParams("cron.list", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	includeDisabled := true
	if parsed.IncludeDisabled != nil {
		includeDisabled = *parsed.IncludeDisabled
	}

	jobs, err := state.Store().ListCronJobs()
	if err != nil {
		return nil, mapDomainError(err)
	}
	if !includeDisabled {
		filtered := jobs[:0]
		for _, job := range jobs {
			if job.Enabled {
				filtered = append(filtered, job)
			}
		}
		jobs = filtered
	}
	if parsed.Limit != nil && *parsed.Limit >= 0 && *parsed.Limit < len(jobs) {
		jobs = jobs[:*parsed.Limit]
	}

	return map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	}, nil
}

func handleCronStatus(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var ignored map[string]json.RawMessage
	if shapeErr := parseOptionalParams("cron.status", params, &ignored); shapeErr != nil {
		return nil, shapeErr
	}

	jobs, err := state.Store().ListCronJobs()
	if err != nil {
		return nil, mapDomainError(err)
	}
	runs, err := state.Store().ListCronRuns("", 50)
	if err != nil {
		return nil, mapDomainError(err)
	}

	engine := state.Cron()
	return map[string]interface{}{
		"enabled":        engine.Enabled(),
		"jobs":           jobs,
		"runs":           runs,
		"lastTickMs":     engine.LastTickMs(),
		"pollIntervalMs": engine.PollInterval().Milliseconds(),
		"storePath":      state.Store().Path(),
	}, nil
}

func handleCronAdd(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		ID       string               `json:"id"`
		Name     string               `json:"name"`
		Enabled  *bool                `json:"enabled"`
		Schedule *domain.CronSchedule `json:"schedule"`
		Payload  *domain.CronPayload  `json:"payload"`
		Metadata json.RawMessage      `json:"metadata"`
	}
	if shapeErr := parseRequiredParams("cron.add", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	if parsed.Schedule == nil || parsed.Payload == nil {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid cron.add params: schedule and payload are required")
	}
	if shapeErr := validateCronSchedule(parsed.Schedule); shapeErr != nil {
		return nil, shapeErr
	}

	now := store.NowUnixMs()
	id := strings.TrimSpace(parsed.ID)
	if id == "" {
		id = "job-" + uuid.NewString()
	}
	name := strings.TrimSpace(parsed.Name)
	if name == "" {
		name = fmt.Sprintf("Cron %s", id)
	}
	enabled := true
	if parsed.Enabled != nil {
		enabled = *parsed.Enabled
	}

	var nextRunMs *int64
	if enabled {
		next, err := croneng.NextRun(*parsed.Schedule, now)
		if err != nil {
			return nil, invalidCronError(err)
		}
		nextRunMs = next
	}

	metadata := domain.JSON(`{}`)
	if len(parsed.Metadata) > 0 {
		metadata = domain.JSON(parsed.Metadata)
	}

	job := &domain.CronJob{
		ID:          id,
		Name:        name,
		Enabled:     enabled,
		Schedule:    *parsed.Schedule,
		Payload:     *parsed.Payload,
		Metadata:    metadata,
		CreatedAtMs: now,
		UpdatedAtMs: now,
		NextRunMs:   nextRunMs,
	}
	if err := state.Store().InsertCronJob(job); err != nil {
		return nil, mapDomainError(err)
	}
	return job, nil
}

func handleCronUpdate(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		ID    string `json:"id"`
		JobID string `json:"jobId"`
		Patch *struct {
			Name      *string              `json:"name"`
			Enabled   *bool                `json:"enabled"`
			Schedule  *domain.CronSchedule `json:"schedule"`
			Payload   *domain.CronPayload  `json:"payload"`
			Metadata  json.RawMessage      `json:"metadata"`
			NextRunMs nullableInt64        `json:"nextRunMs"`
		} `json:"patch"`
	}
	if shapeErr := parseRequiredParams("cron.update", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	id, shapeErr := resolveCronID(parsed.ID, parsed.JobID, "cron.update")
	if shapeErr != nil {
		return nil, shapeErr
	}
	if parsed.Patch == nil {
		return nil, protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid cron.update params: patch is required")
	}

	if parsed.Patch.Schedule != nil {
		if shapeErr := validateCronSchedule(parsed.Patch.Schedule); shapeErr != nil {
			return nil, shapeErr
		}
	}

	var nextRunMs **int64
	if parsed.Patch.NextRunMs.Present {
		value := parsed.Patch.NextRunMs.Value
		nextRunMs = &value
	} else if parsed.Patch.Schedule != nil {
		computed, err := croneng.NextRun(*parsed.Patch.Schedule, store.NowUnixMs())
		if err != nil {
			return nil, invalidCronError(err)
		}
		nextRunMs = &computed
	}

	var name *string
	if parsed.Patch.Name != nil {
		if trimmed := strings.TrimSpace(*parsed.Patch.Name); trimmed != "" {
			name = &trimmed
		}
	}

	patch := domain.CronJobPatch{
		Name:      name,
		Enabled:   parsed.Patch.Enabled,
		Schedule:  parsed.Patch.Schedule,
		Payload:   parsed.Patch.Payload,
		Metadata:  domain.JSON(parsed.Patch.Metadata),
		NextRunMs: nextRunMs,
	}

	updated, err := state.Store().UpdateCronJob(id, patch)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return updated, nil
}

func handleCronRemove(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		ID    string `json:"id"`
		JobID string `json:"jobId"`
	}
	if shapeErr := parseRequiredParams("cron.remove", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	id, shapeErr := resolveCronID(parsed.ID, parsed.JobID, "cron.remove")
	if shapeErr != nil {
		return nil, shapeErr
	}

	removed, err := state.Store().RemoveCronJob(id)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return map[string]interface{}{
		"ok":      true,
		"id":      id,
		"removed": removed,
	}, nil
}

func handleCronRun(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		ID    string `json:"id"`
		JobID string `json:"jobId"`
	}
	if shapeErr := parseRequiredParams("cron.run", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}
	id, shapeErr := resolveCronID(parsed.ID, parsed.JobID, "cron.run")
	if shapeErr != nil {
		return nil, shapeErr
	}

	run, err := state.Cron().RunJobNow(id)
	if err != nil {
		return nil, mapDomainError(err)
	}
	return run, nil
}

func handleCronRuns(state *SharedState, params json.RawMessage) (interface{}, *protocol.ErrorShape) {
	var parsed struct {
		ID    string `json:"id"`
		JobID string `json:"jobId"`
		Limit *int   `json:"limit"`
	}
	if shapeErr := parseOptionalParams("cron.runs", params, &parsed); shapeErr != nil {
		return nil, shapeErr
	}

	jobID := firstNonEmpty(parsed.ID, parsed.JobID)
	limit := 0
	if parsed.Limit != nil {
		limit = clampInt(*parsed.Limit, 1, 1000)
	}

	runs, err := state.Store().ListCronRuns(jobID, limit)
	if err != nil {
		return nil, mapDomainError(err)
	}

	scope := "all"
	var jobIDValue interface{}
	if jobID != "" {
		scope = "job"
		jobIDValue = jobID
	}
	return map[string]interface{}{
		"scope": scope,
		"jobId": jobIDValue,
		"runs":  runs,
		"count": len(runs),
	}, nil
}

func validateCronSchedule(schedule *domain.CronSchedule) *protocol.ErrorShape {
	if strings.TrimSpace(schedule.Kind) == "" {
		return protocol.NewError(protocol.ErrorInvalidRequest,
			"invalid cron schedule: kind is required")
	}
	if _, err := croneng.NextRun(*schedule, store.NowUnixMs()); err != nil {
		return invalidCronError(err)
	}
	return nil
}

func invalidCronError(err error) *protocol.ErrorShape {
	return protocol.NewError(protocol.ErrorInvalidRequest,
		fmt.Sprintf("invalid cron schedule: %v", err))
}

func resolveCronID(id, jobID, method string) (string, *protocol.ErrorShape) {
	resolved := firstNonEmpty(id, jobID)
	if resolved == "" {
		return "", protocol.NewError(protocol.ErrorInvalidRequest,
			fmt.Sprintf("invalid %s params: missing id", method))
	}
	return resolved, nil
}

// nullableInt64 distinguishes an absent nextRunMs from an explicit
// null, which clears the stored value.
type nullableInt64 struct {
	Present bool
	Value   *int64
}

func (n *nullableInt64) UnmarshalJSON(data []byte) error {
	n.Present = true
	if string(data) == "null" {
		n.Value = nil
		return nil
	}
	var value int64
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	n.Value = &value
	return nil
}
