package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/reclaw/reclaw/internal/domain"
)

type nodeRow struct {
	NodeID       string  `db:"node_id"`
	DisplayName  string  `db:"display_name"`
	Platform     string  `db:"platform"`
	DeviceFamily *string `db:"device_family"`
	CommandsJSON string  `db:"commands_json"`
	Paired       int     `db:"paired"`
	Status       string  `db:"status"`
	LastSeenMs   int64   `db:"last_seen_ms"`
	MetadataJSON string  `db:"metadata_json"`
}

func (r nodeRow) record() (domain.Node, error) {
	commands, err := decodeStrings(r.CommandsJSON)
	if err != nil {
		return domain.Node{}, err
	}
	return domain.Node{
		ID:           r.NodeID,
		DisplayName:  r.DisplayName,
		Platform:     r.Platform,
		DeviceFamily: r.DeviceFamily,
		Commands:     commands,
		Paired:       r.Paired == 1,
		Status:       r.Status,
		LastSeenMs:   r.LastSeenMs,
		Metadata:     domain.JSON(r.MetadataJSON),
	}, nil
}

const nodeColumns = `node_id, display_name, platform, device_family, commands_json,
	paired, status, last_seen_ms, metadata_json`

func (s *Store) ListNodes() ([]domain.Node, error) {
	var rows []nodeRow
	err := s.db.Select(&rows, `SELECT `+nodeColumns+` FROM nodes ORDER BY last_seen_ms DESC`)
	if err != nil {
		return nil, domain.Storagef("failed to list nodes: %v", err)
	}
	nodes := make([]domain.Node, 0, len(rows))
	for _, row := range rows {
		node, err := row.record()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (s *Store) GetNode(nodeID string) (*domain.Node, error) {
	var row nodeRow
	err := s.db.Get(&row, `SELECT `+nodeColumns+` FROM nodes WHERE node_id = ? LIMIT 1`, nodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Storagef("failed to get node: %v", err)
	}
	node, err := row.record()
	if err != nil {
		return nil, err
	}
	return &node, nil
}

func (s *Store) UpsertNode(node *domain.Node) error {
	commandsJSON, err := encodeJSON(node.Commands)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO nodes(node_id, display_name, platform, device_family, commands_json, paired, status, last_seen_ms, metadata_json)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(node_id) DO UPDATE SET
		   display_name = excluded.display_name, platform = excluded.platform,
		   device_family = excluded.device_family, commands_json = excluded.commands_json,
		   paired = excluded.paired, status = excluded.status,
		   last_seen_ms = excluded.last_seen_ms, metadata_json = excluded.metadata_json`,
		node.ID, node.DisplayName, node.Platform, node.DeviceFamily, commandsJSON,
		boolInt(node.Paired), node.Status, node.LastSeenMs, jsonText(node.Metadata))
	if err != nil {
		return domain.Storagef("failed to upsert node: %v", err)
	}
	return nil
}

func (s *Store) RenameNode(nodeID, displayName string) (*domain.Node, error) {
	_, err := s.db.Exec(
		`UPDATE nodes SET display_name = ?, last_seen_ms = ? WHERE node_id = ?`,
		displayName, NowUnixMs(), nodeID)
	if err != nil {
		return nil, domain.Storagef("failed to rename node: %v", err)
	}
	node, err := s.GetNode(nodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, domain.NotFoundf("node not found: %s", nodeID)
	}
	return node, nil
}

func (s *Store) CountNodes() (int64, error) {
	var count int64
	if err := s.db.Get(&count, `SELECT COUNT(*) FROM nodes`); err != nil {
		return 0, domain.Storagef("failed to count nodes: %v", err)
	}
	return count, nil
}

func (s *Store) AddNodePairRequest(input domain.NodePairRequestInput) (*domain.NodePairRequest, error) {
	request := &domain.NodePairRequest{
		RequestID:    "pair-" + uuid.NewString(),
		NodeID:       input.NodeID,
		DisplayName:  input.DisplayName,
		Platform:     input.Platform,
		DeviceFamily: input.DeviceFamily,
		Commands:     input.Commands,
		PublicKey:    input.PublicKey,
		Status:       "pending",
		CreatedAtMs:  NowUnixMs(),
	}

	commandsJSON, err := encodeJSON(request.Commands)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(
		`INSERT INTO node_pair_requests(request_id, node_id, display_name, platform, device_family, commands_json, public_key, status, reason, created_at_ms, resolved_at_ms)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, NULL)`,
		request.RequestID, request.NodeID, request.DisplayName, request.Platform,
		request.DeviceFamily, commandsJSON, request.PublicKey, request.Status,
		request.CreatedAtMs)
	if err != nil {
		return nil, domain.Storagef("failed to insert pair request: %v", err)
	}
	return request, nil
}

type pairRow struct {
	RequestID    string  `db:"request_id"`
	NodeID       string  `db:"node_id"`
	DisplayName  string  `db:"display_name"`
	Platform     string  `db:"platform"`
	DeviceFamily *string `db:"device_family"`
	CommandsJSON string  `db:"commands_json"`
	PublicKey    *string `db:"public_key"`
	Status       string  `db:"status"`
	Reason       *string `db:"reason"`
	CreatedAtMs  int64   `db:"created_at_ms"`
	ResolvedAtMs *int64  `db:"resolved_at_ms"`
}

func (r pairRow) record() (domain.NodePairRequest, error) {
	commands, err := decodeStrings(r.CommandsJSON)
	if err != nil {
		return domain.NodePairRequest{}, err
	}
	return domain.NodePairRequest{
		RequestID:    r.RequestID,
		NodeID:       r.NodeID,
		DisplayName:  r.DisplayName,
		Platform:     r.Platform,
		DeviceFamily: r.DeviceFamily,
		Commands:     commands,
		PublicKey:    r.PublicKey,
		Status:       r.Status,
		Reason:       r.Reason,
		CreatedAtMs:  r.CreatedAtMs,
		ResolvedAtMs: r.ResolvedAtMs,
	}, nil
}

const pairColumns = `request_id, node_id, display_name, platform, device_family,
	commands_json, public_key, status, reason, created_at_ms, resolved_at_ms`

func (s *Store) ListNodePairRequests() ([]domain.NodePairRequest, error) {
	var rows []pairRow
	err := s.db.Select(&rows,
		`SELECT `+pairColumns+` FROM node_pair_requests ORDER BY created_at_ms DESC`)
	if err != nil {
		return nil, domain.Storagef("failed to list pair requests: %v", err)
	}
	requests := make([]domain.NodePairRequest, 0, len(rows))
	for _, row := range rows {
		request, err := row.record()
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, nil
}

func (s *Store) getNodePairRequest(requestID string) (*domain.NodePairRequest, error) {
	var row pairRow
	err := s.db.Get(&row,
		`SELECT `+pairColumns+` FROM node_pair_requests WHERE request_id = ? LIMIT 1`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Storagef("failed to get pair request: %v", err)
	}
	request, err := row.record()
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// ResolveNodePairRequest marks the request approved or rejected and
// mirrors its descriptor onto the target node, flipping paired.
func (s *Store) ResolveNodePairRequest(requestID string, approved bool, reason *string) (*domain.NodePairRequest, error) {
	request, err := s.getNodePairRequest(requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, domain.NotFoundf("pair request not found: %s", requestID)
	}

	if approved {
		request.Status = "approved"
	} else {
		request.Status = "rejected"
	}
	request.Reason = reason
	resolvedAt := NowUnixMs()
	request.ResolvedAtMs = &resolvedAt

	_, err = s.db.Exec(
		`UPDATE node_pair_requests SET status = ?, reason = ?, resolved_at_ms = ? WHERE request_id = ?`,
		request.Status, request.Reason, request.ResolvedAtMs, requestID)
	if err != nil {
		return nil, domain.Storagef("failed to resolve pair request: %v", err)
	}

	node, err := s.GetNode(request.NodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		node = &domain.Node{
			ID:       request.NodeID,
			Status:   "offline",
			Metadata: domain.JSON(`{}`),
		}
	}
	node.DisplayName = request.DisplayName
	node.Platform = request.Platform
	node.DeviceFamily = request.DeviceFamily
	node.Commands = request.Commands
	node.Paired = approved
	node.LastSeenMs = NowUnixMs()
	if err := s.UpsertNode(node); err != nil {
		return nil, err
	}
	return request, nil
}

// CreateNodeInvoke requires an existing paired node. The invoke is
// recorded with a simulated completed result; routing the command to
// the live node is the remote runtime's job.
func (s *Store) CreateNodeInvoke(input domain.NodeInvokeInput) (*domain.NodeInvoke, error) {
	node, err := s.GetNode(input.NodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, domain.NotFoundf("node not found: %s", input.NodeID)
	}
	if !node.Paired {
		return nil, domain.NotPairedf("node is not paired: %s", input.NodeID)
	}

	now := NowUnixMs()
	invoke := &domain.NodeInvoke{
		RequestID:     "invoke-" + uuid.NewString(),
		NodeID:        input.NodeID,
		Command:       input.Command,
		Args:          input.Args,
		Input:         input.Input,
		Status:        "completed",
		Result:        domain.JSON(`{"ok":true,"message":"invoke simulated by reclaw gateway runtime"}`),
		RequestedAtMs: now,
		UpdatedAtMs:   now,
		CompletedAtMs: &now,
	}

	argsJSON, err := encodeJSON(invoke.Args)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(
		`INSERT INTO node_invokes(invoke_id, node_id, command, args_json, input_json, status, result_json, error, requested_at_ms, updated_at_ms, completed_at_ms)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoke.RequestID, invoke.NodeID, invoke.Command, argsJSON,
		optionalText(invoke.Input), invoke.Status, optionalText(invoke.Result),
		invoke.Error, invoke.RequestedAtMs, invoke.UpdatedAtMs, invoke.CompletedAtMs)
	if err != nil {
		return nil, domain.Storagef("failed to create node invoke: %v", err)
	}
	return invoke, nil
}

type invokeRow struct {
	InvokeID      string  `db:"invoke_id"`
	NodeID        string  `db:"node_id"`
	Command       string  `db:"command"`
	ArgsJSON      string  `db:"args_json"`
	InputJSON     *string `db:"input_json"`
	Status        string  `db:"status"`
	ResultJSON    *string `db:"result_json"`
	Error         *string `db:"error"`
	RequestedAtMs int64   `db:"requested_at_ms"`
	UpdatedAtMs   int64   `db:"updated_at_ms"`
	CompletedAtMs *int64  `db:"completed_at_ms"`
}

func (r invokeRow) record() (domain.NodeInvoke, error) {
	args, err := decodeStrings(r.ArgsJSON)
	if err != nil {
		return domain.NodeInvoke{}, err
	}
	return domain.NodeInvoke{
		RequestID:     r.InvokeID,
		NodeID:        r.NodeID,
		Command:       r.Command,
		Args:          args,
		Input:         optionalJSON(r.InputJSON),
		Status:        r.Status,
		Result:        optionalJSON(r.ResultJSON),
		Error:         r.Error,
		RequestedAtMs: r.RequestedAtMs,
		UpdatedAtMs:   r.UpdatedAtMs,
		CompletedAtMs: r.CompletedAtMs,
	}, nil
}

func (s *Store) GetNodeInvoke(requestID string) (*domain.NodeInvoke, error) {
	var row invokeRow
	err := s.db.Get(&row,
		`SELECT invoke_id, node_id, command, args_json, input_json, status, result_json, error, requested_at_ms, updated_at_ms, completed_at_ms
		 FROM node_invokes WHERE invoke_id = ? LIMIT 1`, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.Storagef("failed to get invoke: %v", err)
	}
	invoke, err := row.record()
	if err != nil {
		return nil, err
	}
	return &invoke, nil
}

func (s *Store) UpdateNodeInvokeResult(requestID, status string, payload domain.JSON, errText *string) (*domain.NodeInvoke, error) {
	invoke, err := s.GetNodeInvoke(requestID)
	if err != nil {
		return nil, err
	}
	if invoke == nil {
		return nil, domain.NotFoundf("invoke request not found: %s", requestID)
	}

	invoke.Status = status
	invoke.Result = payload
	invoke.Error = errText
	invoke.UpdatedAtMs = NowUnixMs()
	if status == "completed" || status == "failed" {
		completed := invoke.UpdatedAtMs
		invoke.CompletedAtMs = &completed
	}

	_, err = s.db.Exec(
		`UPDATE node_invokes SET status = ?, result_json = ?, error = ?, updated_at_ms = ?, completed_at_ms = ? WHERE invoke_id = ?`,
		invoke.Status, optionalText(invoke.Result), invoke.Error,
		invoke.UpdatedAtMs, invoke.CompletedAtMs, requestID)
	if err != nil {
		return nil, domain.Storagef("failed to update invoke result: %v", err)
	}
	return invoke, nil
}

func (s *Store) AddNodeEvent(nodeID, event string, payload domain.JSON) (*domain.NodeEvent, error) {
	record := &domain.NodeEvent{
		ID:      "evt-" + uuid.NewString(),
		NodeID:  nodeID,
		Event:   event,
		Payload: payload,
		Ts:      NowUnixMs(),
	}
	_, err := s.db.Exec(
		`INSERT INTO node_events(event_id, node_id, event, payload_json, ts_ms) VALUES(?, ?, ?, ?, ?)`,
		record.ID, record.NodeID, record.Event, optionalText(record.Payload), record.Ts)
	if err != nil {
		return nil, domain.Storagef("failed to insert node event: %v", err)
	}
	return record, nil
}

func (s *Store) ListNodeEvents(nodeID string, limit int) ([]domain.NodeEvent, error) {
	query := `SELECT event_id, node_id, event, payload_json, ts_ms FROM node_events`
	args := []interface{}{}
	if nodeID != "" {
		query += ` WHERE node_id = ?`
		args = append(args, nodeID)
	}
	query += ` ORDER BY ts_ms DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	var rows []struct {
		EventID     string  `db:"event_id"`
		NodeID      string  `db:"node_id"`
		Event       string  `db:"event"`
		PayloadJSON *string `db:"payload_json"`
		TsMs        int64   `db:"ts_ms"`
	}
	if err := s.db.Select(&rows, query, args...); err != nil {
		return nil, domain.Storagef("failed to list node events: %v", err)
	}

	events := make([]domain.NodeEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, domain.NodeEvent{
			ID:      row.EventID,
			NodeID:  row.NodeID,
			Event:   row.Event,
			Payload: optionalJSON(row.PayloadJSON),
			Ts:      row.TsMs,
		})
	}
	return events, nil
}

// TrimNodeEvents keeps the newest `keep` events.
func (s *Store) TrimNodeEvents(keep int) error {
	_, err := s.db.Exec(
		`DELETE FROM node_events WHERE event_id IN (
		   SELECT event_id FROM node_events ORDER BY ts_ms DESC LIMIT -1 OFFSET ?
		 )`, keep)
	if err != nil {
		return domain.Storagef("failed to trim node events: %v", err)
	}
	return nil
}
