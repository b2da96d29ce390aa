package gateway

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reclaw/reclaw/internal/config"
	croneng "github.com/reclaw/reclaw/internal/cron"
	"github.com/reclaw/reclaw/internal/domain"
	"github.com/reclaw/reclaw/internal/protocol"
	"github.com/reclaw/reclaw/internal/store"
)

// SessionContext identifies one authenticated connection for the
// dispatcher and policy checks.
type SessionContext struct {
	ConnID     string
	Role       string
	Scopes     []string
	ClientID   string
	ClientMode string
}

// ConnectedClient is the registry entry for a live websocket.
type ConnectedClient struct {
	ConnID          string
	ClientID        string
	DisplayName     string
	ClientVersion   string
	Platform        string
	DeviceFamily    *string
	ModelIdentifier *string
	Mode            string
	Role            string
	Scopes          []string
	InstanceID      *string
	RemoteIP        string
	ConnectedAt     time.Time
	ConnectedAtMs   int64
}

// SharedState is the single shared runtime: config, store, connection
// registry and the rate limiters. All handlers go through it.
type SharedState struct {
	cfg        *config.Config
	store      *store.Store
	log        zerolog.Logger
	startedAt  time.Time
	authMode   string
	authSecret string

	cron *croneng.Engine

	mu      sync.RWMutex
	clients map[string]*ConnectedClient

	authLimiter    *RateLimiter
	controlLimiter *RateLimiter

	presenceVersion atomic.Uint64
	healthVersion   atomic.Uint64
}

func NewSharedState(cfg *config.Config, st *store.Store, log zerolog.Logger) (*SharedState, error) {
	mode, secret, err := cfg.AuthMode()
	if err != nil {
		return nil, err
	}

	state := &SharedState{
		cfg:            cfg,
		store:          st,
		log:            log,
		startedAt:      time.Now(),
		authMode:       mode,
		authSecret:     secret,
		clients:        make(map[string]*ConnectedClient),
		authLimiter:    NewRateLimiter(cfg.AuthMaxAttempts, cfg.AuthWindow()),
		controlLimiter: NewRateLimiter(3, time.Minute),
	}
	state.cron = croneng.NewEngine(st, log, cfg.CronEnabled, cfg.CronPollInterval(), cfg.CronRunsLimit)
	return state, nil
}

func (s *SharedState) Config() *config.Config { return s.cfg }

func (s *SharedState) Store() *store.Store { return s.store }

func (s *SharedState) Cron() *croneng.Engine { return s.cron }

func (s *SharedState) Methods() []string { return append([]string(nil), baseMethods...) }

func (s *SharedState) Events() []string { return append([]string(nil), gatewayEvents...) }

func (s *SharedState) UptimeMs() int64 { return time.Since(s.startedAt).Milliseconds() }

func (s *SharedState) AuthModeLabel() string { return s.authMode }

func (s *SharedState) RuntimeVersion() string { return s.cfg.RuntimeVersion }

// RegisterClient adds a connection to the registry. Node-role clients
// also upsert their Node row as paired and online.
func (s *SharedState) RegisterClient(client *ConnectedClient) error {
	s.mu.Lock()
	s.clients[client.ConnID] = client
	s.mu.Unlock()
	s.presenceVersion.Add(1)

	if client.Role == "node" {
		nodeID := runtimeNodeID(client)
		displayName := client.DisplayName
		if displayName == "" {
			displayName = nodeID
		}
		metadata, _ := json.Marshal(map[string]interface{}{
			"remoteIp":        client.RemoteIP,
			"modelIdentifier": client.ModelIdentifier,
			"version":         client.ClientVersion,
		})
		node := &domain.Node{
			ID:           nodeID,
			DisplayName:  displayName,
			Platform:     client.Platform,
			DeviceFamily: client.DeviceFamily,
			Commands:     []string{},
			Paired:       true,
			Status:       "online",
			LastSeenMs:   client.ConnectedAtMs,
			Metadata:     metadata,
		}
		if err := s.store.UpsertNode(node); err != nil {
			return err
		}
	}
	return nil
}

// UnregisterClient drops a connection and flips its node offline.
func (s *SharedState) UnregisterClient(connID string) error {
	s.mu.Lock()
	client, ok := s.clients[connID]
	if ok {
		delete(s.clients, connID)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	s.presenceVersion.Add(1)

	if client.Role == "node" {
		nodeID := runtimeNodeID(client)
		node, err := s.store.GetNode(nodeID)
		if err != nil {
			return err
		}
		if node != nil {
			node.Status = "offline"
			node.LastSeenMs = store.NowUnixMs()
			if err := s.store.UpsertNode(node); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SharedState) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// HealthPayload builds the health RPC body and bumps the health
// version counter.
func (s *SharedState) HealthPayload() (map[string]interface{}, error) {
	connections := s.ConnectionCount()
	sessions, err := s.store.CountSessions()
	if err != nil {
		return nil, err
	}
	nodes, err := s.store.CountNodes()
	if err != nil {
		return nil, err
	}
	jobs, err := s.store.CountCronJobs()
	if err != nil {
		return nil, err
	}
	chats, err := s.store.CountChatMessages()
	if err != nil {
		return nil, err
	}

	health := map[string]interface{}{
		"ok":               true,
		"ts":               store.NowUnixMs(),
		"runtime":          "go",
		"version":          s.cfg.RuntimeVersion,
		"protocolVersion":  protocol.Version,
		"authMode":         s.authMode,
		"uptimeMs":         s.UptimeMs(),
		"connectedClients": connections,
		"sessions":         sessions,
		"chatMessages":     chats,
		"cronJobs":         jobs,
		"nodes":            nodes,
	}
	s.healthVersion.Add(1)
	return health, nil
}

// Snapshot builds the hello-ok snapshot block.
func (s *SharedState) Snapshot() (*protocol.Snapshot, error) {
	health, err := s.HealthPayload()
	if err != nil {
		return nil, err
	}
	healthRaw, err := json.Marshal(health)
	if err != nil {
		return nil, err
	}

	dbPath := s.store.Path()
	return &protocol.Snapshot{
		Presence: s.PresenceEntries(),
		Health:   healthRaw,
		StateVersion: protocol.StateVersion{
			Presence: s.presenceVersion.Load(),
			Health:   s.healthVersion.Load(),
		},
		UptimeMs:   s.UptimeMs(),
		ConfigPath: dbPath,
		StateDir:   filepath.Dir(dbPath),
		AuthMode:   s.authMode,
	}, nil
}

func (s *SharedState) PresenceEntries() []protocol.PresenceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	entries := make([]protocol.PresenceEntry, 0, len(s.clients))
	for _, client := range s.clients {
		host := client.DisplayName
		if host == "" {
			host = client.ClientID
		}
		entry := protocol.PresenceEntry{
			Host:             host,
			IP:               client.RemoteIP,
			Version:          client.ClientVersion,
			Platform:         client.Platform,
			DeviceFamily:     client.DeviceFamily,
			ModelIdentifier:  client.ModelIdentifier,
			Mode:             client.Mode,
			LastInputSeconds: int64(now.Sub(client.ConnectedAt).Seconds()),
			Reason:           "connect",
			Ts:               client.ConnectedAtMs,
			Roles:            []string{client.Role},
			InstanceID:       client.InstanceID,
		}
		if len(client.Scopes) > 0 {
			entry.Scopes = client.Scopes
		}
		entries = append(entries, entry)
	}
	return entries
}

// AppendGatewayLog writes a log row into the config KV under logs/.
// Failures are swallowed; logging must never fail a request.
func (s *SharedState) AppendGatewayLog(level, message, method, connID string) {
	ts := store.NowUnixMs()
	key := fmt.Sprintf("logs/%d-%s", ts, uuid.NewString())
	entry, err := json.Marshal(map[string]interface{}{
		"id":      key,
		"level":   level,
		"message": message,
		"method":  method,
		"connId":  connID,
		"ts":      ts,
	})
	if err != nil {
		return
	}
	if _, err := s.store.SetConfigEntry(key, entry); err != nil {
		s.log.Debug().Err(err).Msg("failed to append gateway log")
	}
}

func runtimeNodeID(client *ConnectedClient) string {
	if client.InstanceID != nil && *client.InstanceID != "" {
		return *client.InstanceID
	}
	return client.ClientID
}
