package domain

import "encoding/json"

// JSON is an arbitrary JSON value kept as raw bytes until a handler
// needs to look inside it.
type JSON = json.RawMessage

// Session is one chat conversation. Tags keep insertion order and are
// de-duplicated on write.
type Session struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Tags        []string `json:"tags"`
	Metadata    JSON     `json:"metadata"`
	CreatedAtMs int64    `json:"createdAtMs"`
	UpdatedAtMs int64    `json:"updatedAtMs"`
}

// ChatMessage belongs to a session via its session key. The session row
// may not exist yet; messages are never rejected for that.
type ChatMessage struct {
	ID       string `json:"id"`
	Role     string `json:"role"`
	Text     string `json:"text"`
	Status   string `json:"status"`
	Ts       int64  `json:"ts"`
	Metadata JSON   `json:"metadata"`
}

// Agent run statuses. Terminal means no further writes except via the
// conditional finalize path.
const (
	RunStatusQueued    = "queued"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusError     = "error"
	RunStatusAborted   = "aborted"
)

// AgentRun is the idempotency anchor for chat.send and agent calls.
type AgentRun struct {
	ID            string `json:"runId"`
	AgentID       string `json:"agentId"`
	Input         string `json:"input"`
	Output        string `json:"output"`
	Status        string `json:"status"`
	SessionKey    string `json:"sessionKey,omitempty"`
	Metadata      JSON   `json:"metadata"`
	CreatedAtMs   int64  `json:"createdAtMs"`
	UpdatedAtMs   int64  `json:"updatedAtMs"`
	CompletedAtMs *int64 `json:"completedAtMs,omitempty"`
}

func (r *AgentRun) Terminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusError, RunStatusAborted:
		return true
	}
	return false
}

// CronSchedule kinds: at, every, cron, once.
type CronSchedule struct {
	Kind      string `json:"kind"`
	At        string `json:"at,omitempty"`
	EveryMs   int64  `json:"everyMs,omitempty"`
	AnchorMs  *int64 `json:"anchorMs,omitempty"`
	Expr      string `json:"expr,omitempty"`
	Tz        string `json:"tz,omitempty"`
	StaggerMs int64  `json:"staggerMs,omitempty"`
}

// CronPayload kinds: systemEvent, agentTurn.
type CronPayload struct {
	Kind           string `json:"kind"`
	Text           string `json:"text,omitempty"`
	Message        string `json:"message,omitempty"`
	Model          string `json:"model,omitempty"`
	Thinking       string `json:"thinking,omitempty"`
	TimeoutSeconds int64  `json:"timeoutSeconds,omitempty"`
}

type CronJob struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Enabled     bool         `json:"enabled"`
	Schedule    CronSchedule `json:"schedule"`
	Payload     CronPayload  `json:"payload"`
	Metadata    JSON         `json:"metadata"`
	CreatedAtMs int64        `json:"createdAtMs"`
	UpdatedAtMs int64        `json:"updatedAtMs"`
	LastRunMs   *int64       `json:"lastRunMs"`
	NextRunMs   *int64       `json:"nextRunMs"`
}

// CronJobPatch distinguishes "leave next_run_ms alone" (NextRunMs nil)
// from "clear it" (NextRunMs set, pointing at nil).
type CronJobPatch struct {
	Name      *string
	Enabled   *bool
	Schedule  *CronSchedule
	Payload   *CronPayload
	Metadata  JSON
	NextRunMs **int64
}

type CronRun struct {
	ID           string  `json:"runId"`
	JobID        string  `json:"jobId"`
	Status       string  `json:"status"`
	Output       *string `json:"output"`
	Error        *string `json:"error"`
	Manual       bool    `json:"manual"`
	StartedAtMs  int64   `json:"startedAtMs"`
	FinishedAtMs int64   `json:"finishedAtMs"`
}

type Node struct {
	ID           string   `json:"nodeId"`
	DisplayName  string   `json:"displayName"`
	Platform     string   `json:"platform"`
	DeviceFamily *string  `json:"deviceFamily"`
	Commands     []string `json:"commands"`
	Paired       bool     `json:"paired"`
	Status       string   `json:"status"`
	LastSeenMs   int64    `json:"lastSeenMs"`
	Metadata     JSON     `json:"metadata"`
}

type NodePairRequest struct {
	RequestID    string   `json:"requestId"`
	NodeID       string   `json:"nodeId"`
	DisplayName  string   `json:"displayName"`
	Platform     string   `json:"platform"`
	DeviceFamily *string  `json:"deviceFamily"`
	Commands     []string `json:"commands"`
	PublicKey    *string  `json:"publicKey"`
	Status       string   `json:"status"`
	Reason       *string  `json:"reason"`
	CreatedAtMs  int64    `json:"createdAtMs"`
	ResolvedAtMs *int64   `json:"resolvedAtMs"`
}

// NodePairRequestInput is what node.pair.request carries before the
// store assigns a request id.
type NodePairRequestInput struct {
	NodeID       string
	DisplayName  string
	Platform     string
	DeviceFamily *string
	Commands     []string
	PublicKey    *string
}

type NodeInvoke struct {
	RequestID     string   `json:"requestId"`
	NodeID        string   `json:"nodeId"`
	Command       string   `json:"command"`
	Args          []string `json:"args"`
	Input         JSON     `json:"input,omitempty"`
	Status        string   `json:"status"`
	Result        JSON     `json:"result"`
	Error         *string  `json:"error"`
	RequestedAtMs int64    `json:"requestedAtMs"`
	UpdatedAtMs   int64    `json:"updatedAtMs"`
	CompletedAtMs *int64   `json:"completedAtMs"`
}

type NodeInvokeInput struct {
	NodeID  string
	Command string
	Args    []string
	Input   JSON
}

type NodeEvent struct {
	ID      string `json:"id"`
	NodeID  string `json:"nodeId"`
	Event   string `json:"event"`
	Payload JSON   `json:"payload,omitempty"`
	Ts      int64  `json:"ts"`
}

type ConfigEntry struct {
	Key         string `json:"key"`
	Value       JSON   `json:"value"`
	UpdatedAtMs int64  `json:"updatedAtMs"`
}
