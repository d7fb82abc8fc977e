package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Incident is a persisted record of one safety directive raised by the
// safety supervisor, from the moment it was raised until it clears.
type Incident struct {
	IncidentID      string
	Severity        string
	Reason          string
	AffectedJoints  []string
	RequiredActions []string
	DeadlineMs      int
	RaisedAt        string
	ClearedAt       sql.NullString
	AcknowledgedBy  sql.NullString
}

// IncidentStore persists the safety supervisor's incident log.
type IncidentStore struct {
	db *DBPair
}

func NewIncidentStore(db *DBPair) *IncidentStore { return &IncidentStore{db: db} }

// Raise inserts a new incident row and returns its generated id.
func (s *IncidentStore) Raise(ctx context.Context, severity, reason string, affectedJoints, requiredActions []string, deadlineMs int) (string, error) {
	affectedJSON, err := json.Marshal(affectedJoints)
	if err != nil {
		return "", fmt.Errorf("marshal affected_joints: %w", err)
	}
	actionsJSON, err := json.Marshal(requiredActions)
	if err != nil {
		return "", fmt.Errorf("marshal required_actions: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.Writer().ExecContext(ctx, `
		INSERT INTO incidents (incident_id, severity, reason, affected_joints, required_actions, deadline_ms, raised_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, id, severity, reason, string(affectedJSON), string(actionsJSON), deadlineMs, nowISO())
	if err != nil {
		return "", fmt.Errorf("insert incident: %w", err)
	}
	return id, nil
}

// Clear marks an open incident as cleared.
func (s *IncidentStore) Clear(ctx context.Context, incidentID, acknowledgedBy string) error {
	_, err := s.db.Writer().ExecContext(ctx, `
		UPDATE incidents SET cleared_at = ?, acknowledged_by = ? WHERE incident_id = ?
	`, nowISO(), acknowledgedBy, incidentID)
	return err
}

// Open returns every incident that has not yet been cleared, most recent first.
func (s *IncidentStore) Open(ctx context.Context) ([]Incident, error) {
	rows, err := s.db.Reader().QueryContext(ctx, `
		SELECT incident_id, severity, reason, affected_joints, required_actions, deadline_ms, raised_at, cleared_at, acknowledged_by
		FROM incidents WHERE cleared_at IS NULL ORDER BY raised_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidents(rows)
}

// Recent returns the most recent incidents, cleared or not, up to limit.
func (s *IncidentStore) Recent(ctx context.Context, limit int) ([]Incident, error) {
	rows, err := s.db.Reader().QueryContext(ctx, `
		SELECT incident_id, severity, reason, affected_joints, required_actions, deadline_ms, raised_at, cleared_at, acknowledged_by
		FROM incidents ORDER BY raised_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIncidents(rows)
}

func scanIncidents(rows *sql.Rows) ([]Incident, error) {
	var out []Incident
	for rows.Next() {
		var inc Incident
		var affectedJSON, actionsJSON string
		if err := rows.Scan(&inc.IncidentID, &inc.Severity, &inc.Reason, &affectedJSON, &actionsJSON, &inc.DeadlineMs, &inc.RaisedAt, &inc.ClearedAt, &inc.AcknowledgedBy); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(affectedJSON), &inc.AffectedJoints); err != nil {
			return nil, fmt.Errorf("unmarshal affected_joints: %w", err)
		}
		if err := json.Unmarshal([]byte(actionsJSON), &inc.RequiredActions); err != nil {
			return nil, fmt.Errorf("unmarshal required_actions: %w", err)
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}
