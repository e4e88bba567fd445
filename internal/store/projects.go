package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	serrors "github.com/scopedeck/scopedeck/internal/errors"
	"github.com/scopedeck/scopedeck/internal/intake"
)

// Project is the persistent project record the intake engine reads and
// writes. Summary fields are overwritten only when present in a result.
type Project struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Tags        []intake.IntentTag `json:"tags"`
	Overview    string             `json:"overview,omitempty"`
	Purpose     string             `json:"purpose,omitempty"`
	Scope       string             `json:"scope,omitempty"`
	TargetUsers string             `json:"target_users,omitempty"`
	NFRSummary  string             `json:"nfr_summary,omitempty"`
	CreatedAt   int64              `json:"created_at"`
	UpdatedAt   int64              `json:"updated_at"`
}

// Context returns the prompt-facing slice of the record.
func (p *Project) Context() intake.ProjectContext {
	return intake.ProjectContext{
		Name:        p.Name,
		Description: p.Description,
		Tags:        p.Tags,
	}
}

// ProjectFields is a partial update: only non-nil fields change.
type ProjectFields struct {
	Overview    *string
	Purpose     *string
	Scope       *string
	TargetUsers *string
	NFRSummary  *string
}

// FieldsFromSummary maps a completed intake summary onto a partial update,
// carrying only the fields the summary actually filled.
func FieldsFromSummary(sum *intake.ProjectSummary) ProjectFields {
	var f ProjectFields
	if sum == nil {
		return f
	}
	if sum.Overview != "" {
		f.Overview = &sum.Overview
	}
	if sum.Purpose != "" {
		f.Purpose = &sum.Purpose
	}
	if sum.Scope != "" {
		f.Scope = &sum.Scope
	}
	if sum.TargetUsers != "" {
		f.TargetUsers = &sum.TargetUsers
	}
	if sum.NFRSummary != "" {
		f.NFRSummary = &sum.NFRSummary
	}
	return f
}

// CreateProject inserts a new project record.
func (s *Store) CreateProject(name, description string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	p := &Project{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Tags:        []intake.IntentTag{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.db.Exec(`
	INSERT INTO projects (id, name, description, tags, created_at, updated_at)
	VALUES (?, ?, ?, '[]', ?, ?)`,
		p.ID, p.Name, p.Description, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// LoadProject retrieves a project by ID.
func (s *Store) LoadProject(id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := &Project{}
	var tags string
	err := s.db.QueryRow(`
	SELECT id, name, description, tags, overview, purpose, scope, target_users, nfr_summary, created_at, updated_at
	FROM projects WHERE id = ?`, id).Scan(
		&p.ID, &p.Name, &p.Description, &tags,
		&p.Overview, &p.Purpose, &p.Scope, &p.TargetUsers, &p.NFRSummary,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, serrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}

	if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode project tags: %w", err)
	}
	return p, nil
}

// SaveProjectFields applies a partial update; only listed fields change.
func (s *Store) SaveProjectFields(id string, fields ProjectFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "UPDATE projects SET updated_at = ?"
	args := []any{time.Now().UnixMilli()}

	set := func(col string, v *string) {
		if v != nil {
			query += ", " + col + " = ?"
			args = append(args, *v)
		}
	}
	set("overview", fields.Overview)
	set("purpose", fields.Purpose)
	set("scope", fields.Scope)
	set("target_users", fields.TargetUsers)
	set("nfr_summary", fields.NFRSummary)

	query += " WHERE id = ?"
	args = append(args, id)

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return serrors.ErrNotFound
	}
	return nil
}

// AddProjectTag idempotently adds the tag to the project's tag set.
func (s *Store) AddProjectTag(id string, tag intake.IntentTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw string
	err := s.db.QueryRow("SELECT tags FROM projects WHERE id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return serrors.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read project tags: %w", err)
	}

	var tags []intake.IntentTag
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return fmt.Errorf("failed to decode project tags: %w", err)
	}
	for _, t := range tags {
		if t == tag {
			return nil
		}
	}
	tags = append(tags, tag)

	encoded, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode project tags: %w", err)
	}
	_, err = s.db.Exec("UPDATE projects SET tags = ?, updated_at = ? WHERE id = ?",
		string(encoded), time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update project tags: %w", err)
	}
	return nil
}
