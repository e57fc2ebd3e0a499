// Copyright 2026 The Warehouse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pypi/warehouse/internal/packaging"
)

// ProjectRepository implements packaging.ProjectRepository
type ProjectRepository struct {
	db *DB
}

// NewProjectRepository creates a new project repository
func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create creates a new project
func (r *ProjectRepository) Create(ctx context.Context, project *packaging.Project) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO projects (id, name, normalized_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, project.ID, project.Name, project.Normalized, project.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetByID retrieves a project by ID
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*packaging.Project, error) {
	var p packaging.Project
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, normalized_name, created_at, updated_at FROM projects WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Normalized, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, packaging.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// GetByNormalizedName retrieves a project by its normalized name
func (r *ProjectRepository) GetByNormalizedName(ctx context.Context, normalized string) (*packaging.Project, error) {
	var p packaging.Project
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, normalized_name, created_at, updated_at FROM projects WHERE normalized_name = $1
	`, normalized).Scan(&p.ID, &p.Name, &p.Normalized, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, packaging.ErrProjectNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &p, nil
}

// RoleRepository implements packaging.RoleRepository
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// Create creates a new role grant
func (r *RoleRepository) Create(ctx context.Context, role *packaging.Role) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO project_roles (id, user_id, project_id, role_name, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, role.ID, role.UserID, role.ProjectID, role.Name, role.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	return nil
}

// Get retrieves a user's role on a project
func (r *RoleRepository) Get(ctx context.Context, userID, projectID string) (*packaging.Role, error) {
	var role packaging.Role
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, user_id, project_id, role_name, created_at
		FROM project_roles WHERE user_id = $1 AND project_id = $2
	`, userID, projectID).Scan(&role.ID, &role.UserID, &role.ProjectID, &role.Name, &role.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, packaging.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// ListByProject returns all role grants on a project
func (r *RoleRepository) ListByProject(ctx context.Context, projectID string) ([]*packaging.Role, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id, user_id, project_id, role_name, created_at
		FROM project_roles WHERE project_id = $1 ORDER BY created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var out []*packaging.Role
	for rows.Next() {
		var role packaging.Role
		if err := rows.Scan(&role.ID, &role.UserID, &role.ProjectID, &role.Name, &role.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		out = append(out, &role)
	}
	return out, rows.Err()
}

// Delete removes a role grant
func (r *RoleRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM project_roles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}
