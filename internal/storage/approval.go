package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Approval statuses shared with the agent server's polling loop.
const (
	ApprovalPending  = "pending"
	ApprovalApproved = "approved"
	ApprovalRejected = "rejected"
)

// Approval is a destructive agent action waiting for a human decision.
type Approval struct {
	ID          string    `json:"id"`
	Tool        string    `json:"tool"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Metadata    string    `json:"metadata"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ApprovalStore lets a separate process resolve requests written by the
// agent server.
type ApprovalStore struct {
	db *DB
}

// NewApprovalStore creates a new ApprovalStore.
func NewApprovalStore(db *DB) *ApprovalStore {
	return &ApprovalStore{db: db}
}

// ListPending returns unresolved approvals, oldest first.
func (s *ApprovalStore) ListPending() ([]Approval, error) {
	rows, err := s.db.conn.Query(
		`SELECT id, tool, description, status, metadata, created_at
		 FROM mcp_approvals WHERE status = ? ORDER BY created_at ASC`, ApprovalPending,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Approval
	for rows.Next() {
		var a Approval
		if err := rows.Scan(&a.ID, &a.Tool, &a.Description, &a.Status, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Resolve sets a pending approval to approved or rejected.
func (s *ApprovalStore) Resolve(id string, approved bool) error {
	status := ApprovalRejected
	if approved {
		status = ApprovalApproved
	}
	var current string
	err := s.db.conn.QueryRow(`SELECT status FROM mcp_approvals WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound("approval", id)
	}
	if err != nil {
		return err
	}
	if current != ApprovalPending {
		return fmt.Errorf("approval %s already %s", id, current)
	}
	_, err = s.db.conn.Exec(`UPDATE mcp_approvals SET status = ? WHERE id = ?`, status, id)
	return err
}

// CreateApproval records a pending approval.
func (s *ApprovalStore) CreateApproval(a *Approval) error {
	if a.Status == "" {
		a.Status = ApprovalPending
	}
	if a.Metadata == "" {
		a.Metadata = "{}"
	}
	_, err := s.db.conn.Exec(
		`INSERT INTO mcp_approvals (id, tool, description, status, metadata) VALUES (?, ?, ?, ?, ?)`,
		a.ID, a.Tool, a.Description, a.Status, a.Metadata,
	)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

// Status returns the current status of an approval.
func (s *ApprovalStore) Status(id string) (string, error) {
	var status string
	err := s.db.conn.QueryRow(`SELECT status FROM mcp_approvals WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", notFound("approval", id)
	}
	return status, err
}

// DeleteApproval removes an approval once its requester is done with it.
func (s *ApprovalStore) DeleteApproval(id string) error {
	_, err := s.db.conn.Exec(`DELETE FROM mcp_approvals WHERE id = ?`, id)
	return err
}
